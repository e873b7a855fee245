package memtable

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhangyunhao116/skipmap"

	"tabletdb/pkg/binlog"
	"tabletdb/pkg/dberrors"
	"tabletdb/pkg/schema"
	"tabletdb/pkg/snapshot"
	"tabletdb/pkg/types"
)

// Entry is one (ts, value) pair returned by Scan.
type Entry struct {
	Ts    uint64
	Value []byte
}

type keyMap = skipmap.FuncMap[string, *KeyEntry]

func newKeyMap() *keyMap {
	return skipmap.NewFunc[string, *KeyEntry](func(a, b string) bool { return a < b })
}

type indexData struct {
	keys *keyMap
}

// Table is the memory-storage-mode implementation of a time series table:
// one skip-list-backed index per column_key, each key holding one
// ts-descending series per ts column.
type Table struct {
	meta *schema.TableMeta

	mu       sync.RWMutex
	indexes  map[string]*indexData
	inactive map[string]bool

	expireOn atomic.Bool

	count atomic.Int64
}

// New builds an empty Table for meta, pre-creating one index bucket per
// column_key so concurrent Put calls never race on index creation.
func New(meta *schema.TableMeta) *Table {
	t := &Table{meta: meta, indexes: make(map[string]*indexData, len(meta.Indexes)), inactive: make(map[string]bool)}
	for _, idx := range meta.Indexes {
		t.indexes[idx.IndexName] = &indexData{keys: newKeyMap()}
	}
	t.expireOn.Store(true)
	return t
}

func (t *Table) indexFor(name string) (*indexData, error) {
	t.mu.RLock()
	idx, ok := t.indexes[name]
	dead := t.inactive[name]
	t.mu.RUnlock()
	if ok && !dead {
		return idx, nil
	}
	return nil, fmt.Errorf("%w: %s", dberrors.ErrIdxNameNotFound, name)
}

// DeactivateIndex marks name dead: subsequent Get/Scan against it return
// ErrIdxNameNotFound, per spec.md §4.5's DeleteIndex RPC. The index's
// physical data is reclaimed lazily the next time SchedGc walks it.
func (t *Table) DeactivateIndex(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.indexes[name]; !ok {
		return fmt.Errorf("%w: %s", dberrors.ErrIdxNameNotFound, name)
	}
	t.inactive[name] = true
	return nil
}

// SetExpire toggles whether SchedGc evicts anything at all, per the
// SetExpire RPC; disabling it is used to pin a table's contents while an
// offline dump or migration reads it.
func (t *Table) SetExpire(on bool) { t.expireOn.Store(on) }

// SetTTL overrides the TTL policy applied by SchedGc, per the UpdateTTL
// RPC. A nil meta.TTL (table created without TTL) gains one.
func (t *Table) SetTTL(ttl schema.TTLDesc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := ttl
	t.meta.TTL = &d
}

func (idx *indexData) keyEntry(key []byte, create bool) (*KeyEntry, bool) {
	ks := string(key)
	if ke, ok := idx.keys.Load(ks); ok {
		return ke, true
	}
	if !create {
		return nil, false
	}
	ke := newKeyEntry()
	actual, loaded := idx.keys.LoadOrStore(ks, ke)
	return actual, loaded
}

// Put inserts value under every (index, key) dimension, storing it once
// per ts column but sharing the underlying bytes through a single
// refcounted handle.
func (t *Table) Put(dims []binlog.Dimension, tsDims []binlog.TsDimension, value []byte) error {
	if len(dims) == 0 {
		return dberrors.ErrInvalidDimensionParameter
	}
	if len(tsDims) == 0 {
		return dberrors.ErrTsMustBeGreaterThanZero
	}

	handle := newValueHandle(value, int32(len(dims)*len(tsDims)))
	for _, d := range dims {
		idx, err := t.indexFor(d.IndexName)
		if err != nil {
			return err
		}
		ke, _ := idx.keyEntry(d.Key, true)
		for _, td := range tsDims {
			series := ke.seriesFor(td.TsName)
			series.Store(td.Ts, handle)
		}
	}
	t.count.Add(1)
	return nil
}

// Get returns the newest value matching rng's start bound under (index,
// key, tsCol), or ErrKeyNotFound.
func (t *Table) Get(indexName string, key []byte, tsCol string, rng types.ScanRange) (Entry, error) {
	rng.Limit = 1
	entries, err := t.Scan(indexName, key, tsCol, rng)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, dberrors.ErrKeyNotFound
	}
	return entries[0], nil
}

// Scan walks the (index, key, tsCol) series newest-first, applying rng's
// start/end bounds, TTL stop predicate, byte budget and dedup flag, per
// the range-predicate rules every Get/Scan shares.
func (t *Table) Scan(indexName string, key []byte, tsCol string, rng types.ScanRange) ([]Entry, error) {
	if err := rng.Normalize(); err != nil {
		return nil, err
	}

	idx, err := t.indexFor(indexName)
	if err != nil {
		return nil, err
	}
	ke, ok := idx.keyEntry(key, false)
	if !ok {
		return nil, nil
	}

	series := ke.seriesFor(tsCol)
	coll := types.NewScanCollector(&rng)
	var out []Entry
	series.Range(func(candTs uint64, h *ValueHandle) bool {
		accept, cont := coll.Offer(candTs, h.value)
		if accept {
			out = append(out, Entry{Ts: candTs, Value: h.value})
			if rng.Limit > 0 && len(out) >= rng.Limit {
				return false
			}
		}
		return cont
	})
	if err := coll.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes every ts-column series for key under indexName.
func (t *Table) Delete(indexName string, key []byte) error {
	idx, err := t.indexFor(indexName)
	if err != nil {
		return err
	}
	ke, ok := idx.keyEntry(key, false)
	if !ok {
		return nil
	}
	for _, name := range ke.seriesNames() {
		series := ke.seriesFor(name)
		series.Range(func(_ uint64, h *ValueHandle) bool {
			h.release()
			return true
		})
	}
	idx.keys.Delete(string(key))
	return nil
}

// SchedGc drops every key of a deactivated index, then applies the
// table's TTL policy to every series, dropping entries an
// AbsoluteTime/LatestTime/AbsAndLat/AbsOrLat policy has expired. Called
// periodically by the partition's gc_interval ticker.
func (t *Table) SchedGc(now time.Time) {
	t.mu.RLock()
	var dead []*indexData
	for name, idx := range t.indexes {
		if t.inactive[name] {
			dead = append(dead, idx)
		}
	}
	t.mu.RUnlock()
	for _, idx := range dead {
		idx.keys.Range(func(key string, _ *KeyEntry) bool {
			idx.keys.Delete(key)
			return true
		})
	}

	if t.meta.TTL == nil || !t.expireOn.Load() {
		return
	}
	ttl := *t.meta.TTL

	for _, idx := range t.snapshotIndexes() {
		idx.keys.Range(func(key string, ke *KeyEntry) bool {
			for _, name := range ke.seriesNames() {
				gcSeries(ke.seriesFor(name), ttl, now)
			}
			if ke.empty() {
				idx.keys.Delete(key)
			}
			return true
		})
	}
}

func (t *Table) snapshotIndexes() []*indexData {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*indexData, 0, len(t.indexes))
	for _, idx := range t.indexes {
		out = append(out, idx)
	}
	return out
}

func gcSeries(series *tsSeries, ttl schema.TTLDesc, now time.Time) {
	keepAbs := func(candTs uint64) bool {
		if ttl.AbsTTL == 0 {
			return true
		}
		cutoff := uint64(now.Add(-time.Duration(ttl.AbsTTL) * time.Minute).UnixMilli())
		return candTs >= cutoff
	}

	switch ttl.TTLType {
	case types.LatestTime:
		if ttl.LatTTL == 0 {
			return
		}
		var i uint64
		var toDelete []uint64
		series.Range(func(candTs uint64, _ *ValueHandle) bool {
			i++
			if i > ttl.LatTTL {
				toDelete = append(toDelete, candTs)
			}
			return true
		})
		deleteAndRelease(series, toDelete)

	case types.AbsAndLat:
		var i uint64
		var toDelete []uint64
		series.Range(func(candTs uint64, _ *ValueHandle) bool {
			i++
			if i > ttl.LatTTL && !keepAbs(candTs) {
				toDelete = append(toDelete, candTs)
			}
			return true
		})
		deleteAndRelease(series, toDelete)

	case types.AbsOrLat:
		var i uint64
		var toDelete []uint64
		series.Range(func(candTs uint64, _ *ValueHandle) bool {
			i++
			if i > ttl.LatTTL || !keepAbs(candTs) {
				toDelete = append(toDelete, candTs)
			}
			return true
		})
		deleteAndRelease(series, toDelete)

	default: // AbsoluteTime
		var toDelete []uint64
		series.Range(func(candTs uint64, _ *ValueHandle) bool {
			if !keepAbs(candTs) {
				toDelete = append(toDelete, candTs)
			}
			return true
		})
		deleteAndRelease(series, toDelete)
	}
}

func deleteAndRelease(series *tsSeries, tss []uint64) {
	for _, ts := range tss {
		if h, ok := series.Load(ts); ok {
			h.release()
		}
		series.Delete(ts)
	}
}

// GetCount returns the approximate number of Put calls observed; deletes
// are not subtracted, matching the teacher's best-effort size counters.
func (t *Table) GetCount() int64 {
	return t.count.Load()
}

// Traverse implements snapshot.Source by walking the first declared
// index (the primary one) once per distinct key, dumping every ts
// column's newest entry.
func (t *Table) Traverse(fn func(snapshot.Record) error) error {
	if len(t.meta.Indexes) == 0 {
		return nil
	}
	primary := t.meta.Indexes[0].IndexName
	idx, err := t.indexFor(primary)
	if err != nil {
		return err
	}

	var walkErr error
	idx.keys.Range(func(key string, ke *KeyEntry) bool {
		rec := snapshot.Record{PK: []byte(key)}
		for _, name := range ke.seriesNames() {
			series := ke.seriesFor(name)
			series.Range(func(ts uint64, h *ValueHandle) bool {
				rec.Value = h.value
				rec.TsDimensions = append(rec.TsDimensions, binlog.TsDimension{TsName: name, Ts: ts})
				return false // newest only per column
			})
		}
		rec.Dimensions = []binlog.Dimension{{IndexName: primary, Key: []byte(key)}}
		if walkErr = fn(rec); walkErr != nil {
			return false
		}
		return true
	})
	return walkErr
}

// LoadRecord implements snapshot.Sink, reinserting a recovered row.
func (t *Table) LoadRecord(rec snapshot.Record) error {
	return t.Put(rec.Dimensions, rec.TsDimensions, rec.Value)
}
