// Package memtable is the in-memory Table engine: a skipmap-backed,
// multi-index time series store keyed by (index, key, ts column, ts),
// ordered ts-descending within each series exactly like the disk engine
// so Scan behaves identically regardless of storage mode.
package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
)

// ValueHandle is a refcounted payload shared across every (ts column, ts)
// slot a single Put touches, so a row with several ts dimensions stores
// its value once. The handle is freed once every owning series has
// evicted or overwritten its slot.
type ValueHandle struct {
	value []byte
	refs  atomic.Int32
}

func newValueHandle(v []byte, refs int32) *ValueHandle {
	h := &ValueHandle{value: v}
	h.refs.Store(refs)
	return h
}

func (h *ValueHandle) release() {
	h.refs.Add(-1)
}

// tsSeries orders a single ts column's entries newest-first.
type tsSeries = skipmap.FuncMap[uint64, *ValueHandle]

func newTsSeries() *tsSeries {
	return skipmap.NewFunc[uint64, *ValueHandle](func(a, b uint64) bool { return a > b })
}

// KeyEntry holds every ts column's series for one index key.
type KeyEntry struct {
	mu   sync.RWMutex
	cols map[string]*tsSeries
}

func newKeyEntry() *KeyEntry {
	return &KeyEntry{cols: make(map[string]*tsSeries)}
}

func (ke *KeyEntry) seriesFor(tsCol string) *tsSeries {
	ke.mu.RLock()
	s, ok := ke.cols[tsCol]
	ke.mu.RUnlock()
	if ok {
		return s
	}

	ke.mu.Lock()
	defer ke.mu.Unlock()
	if s, ok = ke.cols[tsCol]; ok {
		return s
	}
	s = newTsSeries()
	ke.cols[tsCol] = s
	return s
}

func (ke *KeyEntry) seriesNames() []string {
	ke.mu.RLock()
	defer ke.mu.RUnlock()
	names := make([]string, 0, len(ke.cols))
	for name := range ke.cols {
		names = append(names, name)
	}
	return names
}

func (ke *KeyEntry) empty() bool {
	ke.mu.RLock()
	defer ke.mu.RUnlock()
	for _, s := range ke.cols {
		if s.Len() > 0 {
			return false
		}
	}
	return true
}
