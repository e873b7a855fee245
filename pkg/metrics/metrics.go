// Package metrics is a minimal in-process counters/gauges/histograms
// implementation of the teacher's Collector interface, used to surface
// the operational counters spec.md §5's worker-pool table calls for
// (queue depth, task latency, gc/compaction counts) without pulling in
// a metrics backend the rest of the pack never references.
package metrics

import (
	"fmt"
	"sort"
	"sync"
)

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// Histogram is a fixed-bucket distribution, upper-bound inclusive.
type Histogram struct {
	Buckets []float64
	counts  []uint64
	sum     float64
	n       uint64
}

func newHistogram(buckets []float64) *Histogram {
	b := make([]float64, len(buckets))
	copy(b, buckets)
	sort.Float64s(b)
	return &Histogram{Buckets: b, counts: make([]uint64, len(b)+1)}
}

func (h *Histogram) observe(v float64) {
	h.sum += v
	h.n++
	for i, edge := range h.Buckets {
		if v <= edge {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.Buckets)]++
}

// Snapshot is a point-in-time read of one named+labeled series.
type Snapshot struct {
	Name    string
	Labels  map[string]string
	Counter float64
	Gauge   float64
	Hist    *Histogram
}

func key(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := name
	for _, k := range keys {
		s += fmt.Sprintf(";%s=%s", k, labels[k])
	}
	return s
}

var defaultBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

// InMemoryCollector implements Collector with mutex-protected maps,
// enough for process-local counters; it is not meant to survive a
// restart or be scraped remotely.
type InMemoryCollector struct {
	mu      sync.Mutex
	series  map[string]*Snapshot
	buckets []float64
}

// NewInMemoryCollector builds a Collector with the given histogram
// bucket boundaries, or defaultBuckets if buckets is empty.
func NewInMemoryCollector(buckets ...float64) *InMemoryCollector {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}
	return &InMemoryCollector{series: make(map[string]*Snapshot), buckets: buckets}
}

func (c *InMemoryCollector) entry(name string, labels map[string]string) *Snapshot {
	k := key(name, labels)
	s, ok := c.series[k]
	if !ok {
		s = &Snapshot{Name: name, Labels: labels}
		c.series[k] = s
	}
	return s
}

// IncCounter adds delta to the named counter.
func (c *InMemoryCollector) IncCounter(name string, labels map[string]string, delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(name, labels).Counter += delta
}

// SetGauge sets the named gauge to value.
func (c *InMemoryCollector) SetGauge(name string, labels map[string]string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(name, labels).Gauge = value
}

// ObserveHistogram records value into the named histogram's buckets.
func (c *InMemoryCollector) ObserveHistogram(name string, labels map[string]string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(name, labels)
	if e.Hist == nil {
		e.Hist = newHistogram(c.buckets)
	}
	e.Hist.observe(value)
}

// Counter reads back the current value of a named counter, for tests
// and the GetTableStatus RPC.
func (c *InMemoryCollector) Counter(name string, labels map[string]string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.series[key(name, labels)]
	if !ok {
		return 0
	}
	return s.Counter
}

// Gauge reads back the current value of a named gauge.
func (c *InMemoryCollector) Gauge(name string, labels map[string]string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.series[key(name, labels)]
	if !ok {
		return 0
	}
	return s.Gauge
}

// Noop discards every observation; used where a Collector is required
// but the caller doesn't care to wire one up (e.g. unit tests).
type Noop struct{}

func (Noop) IncCounter(string, map[string]string, float64)       {}
func (Noop) SetGauge(string, map[string]string, float64)         {}
func (Noop) ObserveHistogram(string, map[string]string, float64) {}
