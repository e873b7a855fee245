// Package table is the factory that dispatches a partition's TableMeta
// to the right backing engine — memtable, persistance.DiskTable or
// reltable — and presents one Table handle to PartitionManager regardless
// of which variant backs it, mirroring how the teacher's pkg/store.Store
// wires together one memtable + one on-disk engine behind a single type.
package table

import (
	"fmt"
	"time"

	"tabletdb/pkg/binlog"
	"tabletdb/pkg/memtable"
	"tabletdb/pkg/persistance"
	"tabletdb/pkg/reltable"
	"tabletdb/pkg/schema"
	"tabletdb/pkg/snapshot"
	"tabletdb/pkg/types"
)

// Entry is one (ts, value) pair, shared shape across memory/disk Gets.
type Entry struct {
	Ts    uint64
	Value []byte
}

// Table wraps exactly one of the three storage engines, selected at Open
// time by meta.StorageMode/TableType.
type Table struct {
	meta *schema.TableMeta

	mem *memtable.Table
	dsk *persistance.DiskTable
	rel *reltable.Table
}

// Open constructs the engine meta.StorageMode/TableType selects. dir is
// only consulted for disk-backed tables.
func Open(dir string, meta *schema.TableMeta) (*Table, error) {
	t := &Table{meta: meta}

	switch {
	case meta.TableType == types.TableRelational:
		t.rel = reltable.New(meta)
	case meta.StorageMode.IsDisk():
		dsk, err := persistance.Open(dir, meta)
		if err != nil {
			return nil, fmt.Errorf("open disk table: %w", err)
		}
		t.dsk = dsk
	default:
		t.mem = memtable.New(meta)
	}
	return t, nil
}

// IsRelational reports whether this handle backs a relational table.
func (t *Table) IsRelational() bool { return t.rel != nil }

// Put applies a time-series write; relational tables reject it, use
// PutRelational instead.
func (t *Table) Put(dims []binlog.Dimension, tsDims []binlog.TsDimension, value []byte) error {
	switch {
	case t.mem != nil:
		return t.mem.Put(dims, tsDims, value)
	case t.dsk != nil:
		return t.dsk.Put(dims, tsDims, value)
	default:
		return t.rel.Put(dims, value)
	}
}

// Get resolves a single (index, key[, tsCol]) lookup against rng's start
// bound. rng is ignored for relational tables.
func (t *Table) Get(indexName string, key []byte, tsCol string, rng types.ScanRange) (Entry, error) {
	t.fillTTL(&rng)
	switch {
	case t.mem != nil:
		e, err := t.mem.Get(indexName, key, tsCol, rng)
		return Entry{Ts: e.Ts, Value: e.Value}, err
	case t.dsk != nil:
		e, err := t.dsk.Get(indexName, key, rng)
		return Entry{Ts: e.Ts, Value: e.Value}, err
	default:
		v, err := t.rel.Get(indexName, key)
		return Entry{Value: v}, err
	}
}

// Scan resolves a range lookup newest-first per rng's start/end bounds,
// TTL stop predicate, byte budget and dedup flag.
func (t *Table) Scan(indexName string, key []byte, tsCol string, rng types.ScanRange) ([]Entry, error) {
	t.fillTTL(&rng)
	switch {
	case t.mem != nil:
		entries, err := t.mem.Scan(indexName, key, tsCol, rng)
		return toEntries(entries), err
	case t.dsk != nil:
		entries, err := t.dsk.Scan(indexName, key, rng)
		out := make([]Entry, len(entries))
		for i, e := range entries {
			out[i] = Entry{Ts: e.Ts, Value: e.Value}
		}
		return out, err
	default:
		return nil, fmt.Errorf("Scan is not supported on relational tables, use Traverse")
	}
}

// fillTTL folds the table's table-wide TTL policy into rng's TTL fields,
// the same table-wide-only simplification SchedGc applies (per-column
// TTL overrides are not consulted here either).
func (t *Table) fillTTL(rng *types.ScanRange) {
	if t.meta.TTL == nil {
		return
	}
	ttl := *t.meta.TTL
	rng.HasTTL = true
	rng.TTLType = ttl.TTLType
	rng.ExpireCnt = ttl.LatTTL
	if ttl.AbsTTL > 0 {
		rng.ExpireTime = uint64(time.Now().Add(-time.Duration(ttl.AbsTTL) * time.Minute).UnixMilli())
	}
}

func toEntries(in []memtable.Entry) []Entry {
	out := make([]Entry, len(in))
	for i, e := range in {
		out[i] = Entry{Ts: e.Ts, Value: e.Value}
	}
	return out
}

// Delete removes every ts-column series (memory/disk) or the row
// (relational) for (index, key).
func (t *Table) Delete(indexName string, key []byte) error {
	switch {
	case t.mem != nil:
		return t.mem.Delete(indexName, key)
	case t.dsk != nil:
		return t.dsk.Delete(indexName, key)
	default:
		return t.rel.Delete(indexName, key)
	}
}

// Update overwrites a relational row; rejected for time-series tables.
func (t *Table) Update(indexName string, key []byte, value []byte) error {
	if t.rel == nil {
		return fmt.Errorf("Update is only supported on relational tables")
	}
	return t.rel.Update(indexName, key, value)
}

// SchedGc applies the table's TTL policy; a no-op on relational tables.
func (t *Table) SchedGc(now time.Time) error {
	switch {
	case t.mem != nil:
		t.mem.SchedGc(now)
		return nil
	case t.dsk != nil:
		return t.dsk.SchedGc(now)
	default:
		return nil
	}
}

// Flush durably compacts a disk table's buffered writes; a no-op for
// memory and relational tables.
func (t *Table) Flush() error {
	if t.dsk != nil {
		return t.dsk.Flush()
	}
	return nil
}

// GetCount returns the approximate number of Put calls observed.
func (t *Table) GetCount() int64 {
	switch {
	case t.mem != nil:
		return t.mem.GetCount()
	case t.dsk != nil:
		return t.dsk.GetCount()
	case t.rel != nil:
		return t.rel.GetCount()
	default:
		return 0
	}
}

// DiskBytes reports a disk-backed table's on-disk footprint; zero for
// memory and relational tables, which don't carry a manifest.
func (t *Table) DiskBytes() int64 {
	if t.dsk != nil {
		return t.dsk.DiskBytes()
	}
	return 0
}

// SetExpire toggles whether SchedGc evicts anything, per the SetExpire
// RPC. A no-op on disk/relational tables, which don't pin contents this
// way.
func (t *Table) SetExpire(on bool) {
	if t.mem != nil {
		t.mem.SetExpire(on)
	}
}

// SetTTL overrides the table's TTL policy, per the UpdateTTL RPC.
func (t *Table) SetTTL(ttl schema.TTLDesc) error {
	switch {
	case t.mem != nil:
		t.mem.SetTTL(ttl)
		return nil
	case t.dsk != nil:
		return t.dsk.SetTTL(ttl)
	default:
		return fmt.Errorf("UpdateTTL is not supported on relational tables")
	}
}

// DeactivateIndex marks indexName dead, per the DeleteIndex RPC
// (memory tables only).
func (t *Table) DeactivateIndex(indexName string) error {
	switch {
	case t.mem != nil:
		return t.mem.DeactivateIndex(indexName)
	default:
		return fmt.Errorf("DeleteIndex is only supported on memory tables")
	}
}

// Traverse drives fn once per live record, in the engine's natural
// order, for DumpIndexData's offline index-rebuild scan.
func (t *Table) Traverse(fn func(snapshot.Record) error) error {
	return t.Source().Traverse(fn)
}

// Source returns the snapshot.Source this table backs, for MakeSnapshot.
func (t *Table) Source() snapshot.Source {
	switch {
	case t.mem != nil:
		return t.mem
	case t.dsk != nil:
		return t.dsk
	default:
		return reltable.SnapshotSource{Table: t.rel}
	}
}

// Sink returns the snapshot.Sink this table backs, for Recover.
func (t *Table) Sink() snapshot.Sink {
	switch {
	case t.mem != nil:
		return t.mem
	case t.dsk != nil:
		return t.dsk
	default:
		return t.rel
	}
}

// Meta returns the table's schema.
func (t *Table) Meta() *schema.TableMeta { return t.meta }
