package persistance

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"tabletdb/pkg/binlog"
	"tabletdb/pkg/dberrors"
	"tabletdb/pkg/schema"
	"tabletdb/pkg/snapshot"
	"tabletdb/pkg/types"
)

// DiskTable is the SSD/HDD storage-mode Table implementation: every row
// is stored under a composite key (index, key, ts) with ts encoded so
// byte order matches ts-descending order. A Flush writes the buffered
// map out as a new L0 run; LevelManager owns compaction from there,
// merging and rewriting runs down through the levels as L0 fills up.
// Only AbsoluteTime and LatestTime TTL are enforced here, per
// schema.TableMeta.Validate's disk-mode restriction.
type DiskTable struct {
	meta *schema.TableMeta
	dir  string

	mu     sync.RWMutex
	mem    map[string]compositeEntry // buffered since the last flush
	levels *LevelManager             // compacted runs, L0 (newest) through Ln
}

type compositeEntry struct {
	indexName string
	key       []byte
	ts        uint64
	value     []byte
}

// Open creates or resumes the disk table rooted at dir. LevelManager
// owns the manifest and replays any runs it already recorded, so there
// is nothing left for DiskTable itself to reload.
func Open(dir string, meta *schema.TableMeta) (*DiskTable, error) {
	dt := &DiskTable{
		meta:   meta,
		dir:    dir,
		mem:    make(map[string]compositeEntry),
		levels: NewLevelManager(dir),
	}
	return dt, nil
}

// compositeKey orders byte-ascending exactly as (index, key, ts
// descending) should sort: the ts component is bit-flipped so a larger
// ts sorts before a smaller one.
func compositeKey(indexName string, key []byte, ts uint64) []byte {
	buf := make([]byte, 0, len(indexName)+1+len(key)+1+8)
	buf = append(buf, []byte(indexName)...)
	buf = append(buf, 0)
	buf = append(buf, key...)
	buf = append(buf, 0)

	tsBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(tsBuf, math.MaxUint64-ts)
	return append(buf, tsBuf...)
}

func decomposeKey(k []byte) (indexName string, key []byte, ts uint64) {
	firstNul := bytes.IndexByte(k, 0)
	indexName = string(k[:firstNul])
	rest := k[firstNul+1:]
	secondNul := len(rest) - 8 - 1
	key = rest[:secondNul]
	tsBuf := rest[secondNul+1:]
	ts = math.MaxUint64 - binary.BigEndian.Uint64(tsBuf)
	return
}

// Put buffers value under every (index, key) dimension at every ts
// dimension given; it becomes durable once Flush runs.
func (dt *DiskTable) Put(dims []binlog.Dimension, tsDims []binlog.TsDimension, value []byte) error {
	if len(dims) == 0 {
		return dberrors.ErrInvalidDimensionParameter
	}
	if len(tsDims) == 0 {
		return dberrors.ErrTsMustBeGreaterThanZero
	}

	dt.mu.Lock()
	defer dt.mu.Unlock()
	for _, d := range dims {
		for _, td := range tsDims {
			ck := compositeKey(d.IndexName, d.Key, td.Ts)
			dt.mem[string(ck)] = compositeEntry{indexName: d.IndexName, key: d.Key, ts: td.Ts, value: value}
		}
	}
	return nil
}

// Get returns the entry matching rng's start bound under (index, key).
// An exact-ts lookup (StType Eq) skips the merge-and-sort Scan does and
// goes straight at the buffered map, then the level manager's own
// bloom-filtered point lookup across every compacted run.
func (dt *DiskTable) Get(indexName string, key []byte, rng types.ScanRange) (memtableEntry, error) {
	if rng.StType == types.Eq && rng.St != 0 {
		dt.mu.RLock()
		ck := compositeKey(indexName, key, rng.St)
		if e, ok := dt.mem[string(ck)]; ok {
			dt.mu.RUnlock()
			return memtableEntry{Ts: rng.St, Value: e.value}, nil
		}
		dt.mu.RUnlock()

		item, err := dt.levels.Get(ck)
		if err != nil {
			return memtableEntry{}, fmt.Errorf("disk table point lookup: %w", err)
		}
		if item == nil {
			return memtableEntry{}, dberrors.ErrKeyNotFound
		}
		return memtableEntry{Ts: rng.St, Value: item.Value}, nil
	}

	rng.Limit = 1
	entries, err := dt.Scan(indexName, key, rng)
	if err != nil {
		return memtableEntry{}, err
	}
	if len(entries) == 0 {
		return memtableEntry{}, dberrors.ErrKeyNotFound
	}
	return entries[0], nil
}

// memtableEntry mirrors memtable.Entry so callers in pkg/table can treat
// both engines uniformly without an import cycle.
type memtableEntry struct {
	Ts    uint64
	Value []byte
}

// Scan walks (index, key) newest-first across the buffered map and
// every compacted run (L0 through Ln), merging and de-duplicating by
// ts, applying rng's start/end bounds, TTL stop predicate, byte budget
// and dedup flag. A run closer to L0 shadows the same ts in an older
// one, mirroring the LSM read path: newer data wins.
func (dt *DiskTable) Scan(indexName string, key []byte, rng types.ScanRange) ([]memtableEntry, error) {
	if err := rng.Normalize(); err != nil {
		return nil, err
	}

	dt.mu.RLock()
	defer dt.mu.RUnlock()

	byTs := make(map[uint64][]byte)
	prefix := string(compositeKey(indexName, key, math.MaxUint64))
	prefix = prefix[:len(prefix)-8]

	for k, e := range dt.mem {
		if e.indexName == indexName && bytes.Equal(e.key, key) {
			byTs[e.ts] = e.value
		}
		_ = k
	}

	for _, sst := range dt.levels.AllTables() {
		for _, ie := range sst.blockIndex {
			if !bytes.HasPrefix(ie.Key, []byte(prefix)) {
				continue
			}
			_, dk, dts := decomposeKey(ie.Key)
			if !bytes.Equal(dk, key) {
				continue
			}
			if _, ok := byTs[dts]; ok {
				continue
			}
			item, err := sst.Get(ie.Key)
			if err == nil && item != nil {
				byTs[dts] = item.Value
			}
		}
	}

	tss := make([]uint64, 0, len(byTs))
	for t := range byTs {
		tss = append(tss, t)
	}
	sort.Slice(tss, func(i, j int) bool { return tss[i] > tss[j] })

	coll := types.NewScanCollector(&rng)
	var out []memtableEntry
	for _, candTs := range tss {
		value := byTs[candTs]
		accept, cont := coll.Offer(candTs, value)
		if accept {
			out = append(out, memtableEntry{Ts: candTs, Value: value})
			if rng.Limit > 0 && len(out) >= rng.Limit {
				break
			}
		}
		if !cont {
			break
		}
	}
	if err := coll.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete tombstones every buffered entry for (index, key); entries
// already flushed are dropped on the next compaction via SchedGc.
func (dt *DiskTable) Delete(indexName string, key []byte) error {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	for k, e := range dt.mem {
		if e.indexName == indexName && bytes.Equal(e.key, key) {
			delete(dt.mem, k)
		}
	}
	return nil
}

// Flush writes the buffered map out as a new L0 run, the SSD/HDD
// analogue of the memory table's SchedGc. It runs only when called
// through table.Table.Flush; no size threshold or interval triggers it.
// Registering the run with LevelManager (rather than merging it into a
// single "flushed" pointer, as before) is what lets L0 actually grow
// past one table and trigger the level manager's own compaction.
func (dt *DiskTable) Flush() error {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if len(dt.mem) == 0 {
		return nil
	}

	items := make([]SSTableItem, 0, len(dt.mem))
	for k, e := range dt.mem {
		items = append(items, SSTableItem{Key: []byte(k), Value: e.value})
	}
	sort.Slice(items, func(i, j int) bool { return bytes.Compare(items[i].Key, items[j].Key) < 0 })

	bloom := NewBloomFilter(uint32(len(items))+1, 0.01)
	cache := NewBlockCache(256)
	path := fmt.Sprintf("%s/run-%d.sst", dt.dir, time.Now().UnixNano())
	sst := NewSSTable(path, bloom, cache)
	if err := dt.levels.WriteSSTableData(sst, items); err != nil {
		return fmt.Errorf("write disk table run: %w", err)
	}
	if err := sst.Open(); err != nil {
		return fmt.Errorf("open disk table run: %w", err)
	}
	if err := dt.levels.AddSSTable(sst, 0); err != nil {
		return fmt.Errorf("register disk table run: %w", err)
	}

	dt.mem = make(map[string]compositeEntry)
	return nil
}

func (dt *DiskTable) flushedCountLocked() int {
	n := 0
	for _, sst := range dt.levels.AllTables() {
		n += len(sst.blockIndex)
	}
	return n
}

// SchedGc enforces the table's TTL by collapsing every compacted run
// into one fresh run without expired entries; AbsoluteTime and
// LatestTime are the only policies reachable here since disk tables
// reject the others at create time.
func (dt *DiskTable) SchedGc(now time.Time) error {
	if dt.meta.TTL == nil {
		return nil
	}
	dt.mu.Lock()
	defer dt.mu.Unlock()

	tables := dt.levels.AllTables()
	if len(tables) == 0 {
		return nil
	}

	ttl := *dt.meta.TTL
	grouped := make(map[string][]uint64)
	values := make(map[string]map[uint64][]byte)
	for _, sst := range tables {
		for _, ie := range sst.blockIndex {
			idxName, key, ts := decomposeKey(ie.Key)
			groupKey := idxName + "\x00" + string(key)
			if values[groupKey] == nil {
				values[groupKey] = make(map[uint64][]byte)
			}
			if _, ok := values[groupKey][ts]; ok {
				continue // already have this (index,key,ts) from a newer run
			}
			grouped[groupKey] = append(grouped[groupKey], ts)
			if item, err := sst.Get(ie.Key); err == nil && item != nil {
				values[groupKey][ts] = item.Value
			}
		}
	}

	var items []SSTableItem
	for groupKey, tss := range grouped {
		sort.Slice(tss, func(i, j int) bool { return tss[i] > tss[j] })
		for i, ts := range tss {
			if ttl.TTLType == types.LatestTime && uint64(i) >= ttl.LatTTL {
				continue
			}
			if ttl.TTLType == types.AbsoluteTime && ttl.AbsTTL > 0 {
				cutoff := uint64(now.Add(-time.Duration(ttl.AbsTTL) * time.Minute).UnixMilli())
				if ts < cutoff {
					continue
				}
			}
			parts := bytesSplitOnce(groupKey)
			items = append(items, SSTableItem{
				Key:   compositeKey(parts[0], []byte(parts[1]), ts),
				Value: values[groupKey][ts],
			})
		}
	}

	bloom := NewBloomFilter(uint32(len(items))+1, 0.01)
	cache := NewBlockCache(256)
	path := fmt.Sprintf("%s/run-%d.sst", dt.dir, time.Now().UnixNano())
	sst := NewSSTable(path, bloom, cache)
	if err := dt.levels.WriteSSTableData(sst, items); err != nil {
		return fmt.Errorf("write gc'd disk table run: %w", err)
	}
	if err := sst.Open(); err != nil {
		return fmt.Errorf("open gc'd disk table run: %w", err)
	}

	dt.levels.RemoveTables(tables)
	if err := dt.levels.AddSSTable(sst, 0); err != nil {
		return fmt.Errorf("register gc'd disk table run: %w", err)
	}
	return nil
}

func bytesSplitOnce(s string) [2]string {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return [2]string{s[:i], s[i+1:]}
		}
	}
	return [2]string{s, ""}
}

// Traverse implements snapshot.Source over the primary column_key.
func (dt *DiskTable) Traverse(fn func(snapshot.Record) error) error {
	if len(dt.meta.Indexes) == 0 {
		return nil
	}
	primary := dt.meta.Indexes[0].IndexName

	dt.mu.RLock()
	defer dt.mu.RUnlock()

	seen := make(map[string]bool)
	emit := func(indexName string, key []byte, ts uint64, value []byte) error {
		if indexName != primary {
			return nil
		}
		ks := string(key)
		if seen[ks] {
			return nil
		}
		seen[ks] = true
		return fn(snapshot.Record{
			PK:           key,
			Value:        value,
			Dimensions:   []binlog.Dimension{{IndexName: indexName, Key: key}},
			TsDimensions: []binlog.TsDimension{{TsName: dt.meta.Indexes[0].TsColumns[0], Ts: ts}},
		})
	}

	for _, e := range dt.mem {
		if err := emit(e.indexName, e.key, e.ts, e.value); err != nil {
			return err
		}
	}
	for _, sst := range dt.levels.AllTables() {
		for _, ie := range sst.blockIndex {
			idxName, key, ts := decomposeKey(ie.Key)
			item, err := sst.Get(ie.Key)
			if err != nil || item == nil {
				continue
			}
			if err := emit(idxName, key, ts, item.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadRecord implements snapshot.Sink.
func (dt *DiskTable) LoadRecord(rec snapshot.Record) error {
	return dt.Put(rec.Dimensions, rec.TsDimensions, rec.Value)
}

// GetCount returns the approximate number of live rows: buffered plus
// flushed, best-effort like the memory engine's Put counter.
func (dt *DiskTable) GetCount() int64 {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return int64(len(dt.mem) + dt.flushedCountLocked())
}

// DiskBytes reports the manifest-recorded byte total of every compacted
// run, for Manager.ShowMemPool's disk-footprint summary.
func (dt *DiskTable) DiskBytes() int64 {
	return dt.levels.TotalSize()
}

// SetTTL overrides the TTL policy SchedGc enforces, rejecting
// AbsAndLat/AbsOrLat since disk tables only support the single-predicate
// flavors.
func (dt *DiskTable) SetTTL(ttl schema.TTLDesc) error {
	if !ttl.TTLType.SupportedOnDisk() {
		return dberrors.ErrTtlTypeMismatch
	}
	dt.mu.Lock()
	defer dt.mu.Unlock()
	d := ttl
	dt.meta.TTL = &d
	return nil
}

// DeactivateIndex is unsupported on disk tables; spec.md §4.5 restricts
// DeleteIndex to memory tables.
func (dt *DiskTable) DeactivateIndex(string) error {
	return fmt.Errorf("DeleteIndex is only supported on memory tables")
}
