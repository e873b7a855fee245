package metrics

import "testing"

func TestInMemoryCollector_CounterAndGauge(t *testing.T) {
	c := NewInMemoryCollector()
	labels := map[string]string{"op": "put"}

	c.IncCounter("ops_total", labels, 1)
	c.IncCounter("ops_total", labels, 2)
	if got := c.Counter("ops_total", labels); got != 3 {
		t.Fatalf("expected counter=3, got %v", got)
	}

	c.SetGauge("queue_depth", nil, 5)
	c.SetGauge("queue_depth", nil, 7)
	if got := c.Gauge("queue_depth", nil); got != 7 {
		t.Fatalf("expected gauge=7, got %v", got)
	}
}

func TestInMemoryCollector_HistogramBuckets(t *testing.T) {
	c := NewInMemoryCollector(1, 5, 10)
	for _, v := range []float64{0.5, 3, 7, 20} {
		c.ObserveHistogram("latency", nil, v)
	}

	s := c.series[key("latency", nil)]
	if s == nil || s.Hist == nil {
		t.Fatal("expected histogram to be recorded")
	}
	if s.Hist.n != 4 {
		t.Fatalf("expected 4 observations, got %d", s.Hist.n)
	}
	want := []uint64{1, 1, 1, 1}
	for i, c := range s.Hist.counts {
		if c != want[i] {
			t.Fatalf("bucket %d: expected %d, got %d", i, want[i], c)
		}
	}
}

func TestNoop_DoesNotPanic(t *testing.T) {
	var c Collector = Noop{}
	c.IncCounter("x", nil, 1)
	c.SetGauge("x", nil, 1)
	c.ObserveHistogram("x", nil, 1)
}
