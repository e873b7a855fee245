// Package iterator collapses Get/Scan/Traverse over memory tables, disk
// tables and relational tables into one tagged variant exposing a single
// interface, per spec.md's "deep class hierarchies" redesign note.
package iterator

import "tabletdb/pkg/types"

// Iterator is the single interface every variant below satisfies.
type Iterator interface {
	SeekToFirst()
	Seek(ts uint64)
	Next()
	Valid() bool
	Key() uint64 // ts, for Memory/Disk variants
	Value() []byte
	PK() []byte // non-empty only for Traverse/Relational variants
	Count() int // steps taken so far
}

// Entry is one (ts, value) pair, the shape both memtable.Entry and the
// disk table's equivalent expose.
type Entry struct {
	Ts    uint64
	Value []byte
}

// sliceIterator replays a pre-computed, already newest-first slice of
// entries; both the memory and disk engines resolve their seek logic
// internally and hand back plain slices, so this is the one iterator
// implementation every Memory/Disk Get/Scan caller needs.
type sliceIterator struct {
	entries []Entry
	pos     int
	steps   int
}

// NewSliceIterator wraps a newest-first entries slice, as returned by
// memtable.Table.Scan / persistance.DiskTable.Scan.
func NewSliceIterator(entries []Entry) Iterator {
	return &sliceIterator{entries: entries, pos: -1}
}

func (it *sliceIterator) SeekToFirst() {
	it.pos = 0
	it.steps = 0
}

// Seek moves to the first entry with ts <= target, since entries are
// newest-first; callers wanting Eq/Ge/Gt semantics filter via Valid/Key
// after seeking, per spec.md's five-comparison-mode table.
func (it *sliceIterator) Seek(target uint64) {
	for i, e := range it.entries {
		if e.Ts <= target {
			it.pos = i
			it.steps = 0
			return
		}
	}
	it.pos = len(it.entries)
}

func (it *sliceIterator) Next() {
	it.pos++
	it.steps++
}

func (it *sliceIterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.entries)
}

func (it *sliceIterator) Key() uint64 {
	if !it.Valid() {
		return 0
	}
	return it.entries[it.pos].Ts
}

func (it *sliceIterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.entries[it.pos].Value
}

func (it *sliceIterator) PK() []byte { return nil }

func (it *sliceIterator) Count() int { return it.steps }

// TraverseEntry is one cross-key row, as produced by Table.Traverse.
type TraverseEntry struct {
	PK    []byte
	Ts    uint64
	Value []byte
}

// TraverseIterator is the Traverse/Relational variant: unlike
// sliceIterator, PK() is meaningful and SeekPK supports the relational
// BatchQuery resolution path (NewTraverse().Seek(key)).
type TraverseIterator struct {
	entries []TraverseEntry
	pos     int
	steps   int
}

// NewTraverseIterator wraps entries already collected from Table.Traverse,
// capped at limit (spec.md's max_traverse_cnt); limit<=0 means unbounded.
func NewTraverseIterator(entries []TraverseEntry, limit int) *TraverseIterator {
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return &TraverseIterator{entries: entries, pos: -1}
}

func (it *TraverseIterator) SeekToFirst() {
	it.pos = 0
	it.steps = 0
}

// Seek satisfies Iterator for ts-keyed callers by ignoring the ts and
// rewinding to the first entry, as SeekToFirst does; traversal is
// PK-ordered, so SeekPK is the meaningful positioning call.
func (it *TraverseIterator) Seek(uint64) {
	it.SeekToFirst()
}

// SeekPK positions at the first entry whose PK is >= target, byte-ordered.
func (it *TraverseIterator) SeekPK(target []byte) {
	for i, e := range it.entries {
		if compareBytes(e.PK, target) >= 0 {
			it.pos = i
			it.steps = 0
			return
		}
	}
	it.pos = len(it.entries)
}

func (it *TraverseIterator) Next() {
	it.pos++
	it.steps++
}

func (it *TraverseIterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.entries)
}

func (it *TraverseIterator) Key() uint64 {
	if !it.Valid() {
		return 0
	}
	return it.entries[it.pos].Ts
}

func (it *TraverseIterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.entries[it.pos].Value
}

func (it *TraverseIterator) PK() []byte {
	if !it.Valid() {
		return nil
	}
	return it.entries[it.pos].PK
}

func (it *TraverseIterator) Count() int { return it.steps }

// IsFinish reports whether traversal reached the end of the table,
// per spec.md §8's boundary note (is_finish iff cursor hit end-of-table).
func (it *TraverseIterator) IsFinish() bool {
	return it.pos >= len(it.entries)
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

// ApplyCompareMode filters a newest-first Entry slice to those matching
// mode relative to ts, mirroring the logic memtable.Table/DiskTable
// already apply internally; exposed here so new iterator sources (e.g.
// relational) can share the same rule.
func ApplyCompareMode(entries []Entry, mode types.CompareMode, ts uint64) []Entry {
	var out []Entry
	for _, e := range entries {
		switch mode {
		case types.Eq:
			if e.Ts == ts {
				out = append(out, e)
			}
		case types.Le:
			if e.Ts <= ts {
				out = append(out, e)
			}
		case types.Lt:
			if e.Ts < ts {
				out = append(out, e)
			}
		case types.Ge:
			if e.Ts >= ts {
				out = append(out, e)
			}
		case types.Gt:
			if e.Ts > ts {
				out = append(out, e)
			}
		}
	}
	return out
}
