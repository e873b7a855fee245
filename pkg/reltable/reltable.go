// Package reltable implements the relational table variant of spec.md
// §4.3.3: a single primary-key-ordered store with no TTL and no ts
// columns, grounded the same way memtable.Table is grounded on the
// teacher's skip-list-backed memtable, minus the ts-series dimension.
package reltable

import (
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"tabletdb/pkg/binlog"
	"tabletdb/pkg/dberrors"
	"tabletdb/pkg/iterator"
	"tabletdb/pkg/schema"
	"tabletdb/pkg/snapshot"
)

type rowMap = skipmap.FuncMap[string, []byte]

// Table is the relational storage-mode implementation: every row is
// indexed once per column_key, all sharing the same underlying value.
type Table struct {
	meta *schema.TableMeta

	mu      sync.RWMutex
	indexes map[string]*rowMap

	count atomic.Int64
}

// New builds an empty relational Table for meta.
func New(meta *schema.TableMeta) *Table {
	t := &Table{meta: meta, indexes: make(map[string]*rowMap, len(meta.Indexes))}
	for _, idx := range meta.Indexes {
		t.indexes[idx.IndexName] = skipmap.NewFunc[string, []byte](func(a, b string) bool { return a < b })
	}
	return t
}

func (t *Table) indexFor(name string) (*rowMap, error) {
	t.mu.RLock()
	idx, ok := t.indexes[name]
	t.mu.RUnlock()
	if ok {
		return idx, nil
	}
	return nil, dberrors.ErrIdxNameNotFound
}

// Put inserts value under every column_key's dimension.
func (t *Table) Put(dims []binlog.Dimension, value []byte) error {
	if len(dims) == 0 {
		return dberrors.ErrInvalidDimensionParameter
	}
	for _, d := range dims {
		idx, err := t.indexFor(d.IndexName)
		if err != nil {
			return err
		}
		idx.Store(string(d.Key), value)
	}
	t.count.Add(1)
	return nil
}

// Get returns the value stored under (index, key).
func (t *Table) Get(indexName string, key []byte) ([]byte, error) {
	idx, err := t.indexFor(indexName)
	if err != nil {
		return nil, err
	}
	v, ok := idx.Load(string(key))
	if !ok {
		return nil, dberrors.ErrKeyNotFound
	}
	return v, nil
}

// Update overwrites the row at (index, key) if it exists.
func (t *Table) Update(indexName string, key []byte, value []byte) error {
	idx, err := t.indexFor(indexName)
	if err != nil {
		return err
	}
	if _, ok := idx.Load(string(key)); !ok {
		return dberrors.ErrKeyNotFound
	}
	idx.Store(string(key), value)
	return nil
}

// Delete removes the row under (index, key) from the named index only;
// since relational rows carry one value per primary key, no other
// index's entry is touched here — callers delete every dimension they
// inserted under, mirroring memtable.Table.Delete's per-index contract.
func (t *Table) Delete(indexName string, key []byte) error {
	idx, err := t.indexFor(indexName)
	if err != nil {
		return err
	}
	idx.Delete(string(key))
	return nil
}

// Traverse yields every row of indexName in key order.
func (t *Table) Traverse(indexName string, fn func(pk, value []byte) error) error {
	idx, err := t.indexFor(indexName)
	if err != nil {
		return err
	}
	var walkErr error
	idx.Range(func(key string, value []byte) bool {
		if walkErr = fn([]byte(key), value); walkErr != nil {
			return false
		}
		return true
	})
	return walkErr
}

// NewTraverseIterator collects indexName's rows into a seekable cursor
// that SeekPK positions. BatchQuery does not go through this cursor; it
// resolves each key with Get.
func (t *Table) NewTraverseIterator(indexName string) (*iterator.TraverseIterator, error) {
	var entries []iterator.TraverseEntry
	err := t.Traverse(indexName, func(pk, value []byte) error {
		entries = append(entries, iterator.TraverseEntry{PK: pk, Value: value})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return iterator.NewTraverseIterator(entries, 0), nil
}

// GetCount returns the approximate number of Put calls observed.
func (t *Table) GetCount() int64 {
	return t.count.Load()
}

// LoadRecord implements snapshot.Sink.
func (t *Table) LoadRecord(rec snapshot.Record) error {
	return t.Put(rec.Dimensions, rec.Value)
}

// SnapshotSource adapts a relational Table to snapshot.Source; Table
// itself can't implement Traverse(func(Record) error) error directly
// since it already exposes the index-scoped Traverse(indexName, fn).
type SnapshotSource struct{ *Table }

// Traverse implements snapshot.Source over the primary column_key.
func (s SnapshotSource) Traverse(fn func(snapshot.Record) error) error {
	if len(s.meta.Indexes) == 0 {
		return nil
	}
	primary := s.meta.Indexes[0].IndexName
	return s.Table.Traverse(primary, func(pk, value []byte) error {
		return fn(snapshot.Record{
			PK:         pk,
			Value:      value,
			Dimensions: []binlog.Dimension{{IndexName: primary, Key: pk}},
		})
	})
}
