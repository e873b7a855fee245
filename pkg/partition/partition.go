// Package partition wires one Table, one LogPart and one Replicator
// together behind a lifecycle state machine, the way the teacher's
// pkg/store.Store wires a memtable + WAL + level manager behind one
// handle — generalized here to the four-state Normal/Loading/
// MakingSnapshot/SnapshotPaused machine and the schema-evolution and
// index-maintenance operations a partition supports.
package partition

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zhangyunhao116/skipset"

	"tabletdb/pkg/binlog"
	"tabletdb/pkg/dberrors"
	"tabletdb/pkg/replication"
	"tabletdb/pkg/schema"
	"tabletdb/pkg/snapshot"
	"tabletdb/pkg/table"
	"tabletdb/pkg/types"
)

// Partition binds a Table, a LogPart and a Replicator under one
// lifecycle, guarded by a mutex per spec.md §5's shared-handle policy:
// readers take a snapshot of the pointer fields and drop the lock
// before performing the actual operation.
type Partition struct {
	TID types.TID
	PID types.PID
	dir string

	mu    sync.RWMutex
	state types.PartitionState
	meta  *schema.TableMeta

	tbl  *table.Table
	lp   *binlog.LogPart
	repl *replication.Replicator

	snapshotOffset types.Offset

	stopGC context.CancelFunc
}

// legalInState enforces spec.md §4.5's state/legal-op table.
func legalInState(state types.PartitionState, op string) error {
	switch state {
	case types.StateLoading:
		return dberrors.ErrTableIsLoading
	case types.StateMakingSnapshot:
		if op == "MakeSnapshot" || op == "DropTable" {
			return dberrors.ErrTableStatusIsKmakingsnapshot
		}
	case types.StateSnapshotPaused:
		if op == "MakeSnapshot" {
			return dberrors.ErrTableStatusIsNotKsnapshotpaused
		}
	}
	return nil
}

// DirFor computes the on-disk root for (tid, pid), mirroring spec.md
// §6's <root>/<tid>_<pid>/ layout. Exported so the Manager can resolve a
// partition's directory before it has been loaded (existence checks,
// recycle-bin staging).
func DirFor(root string, tid types.TID, pid types.PID) string {
	return filepath.Join(root, fmt.Sprintf("%d_%d", tid, pid))
}

func dirFor(root string, tid types.TID, pid types.PID) string {
	return DirFor(root, tid, pid)
}

// Load bootstraps a partition per spec.md §4.5's Load procedure: persist
// table_meta.txt, construct the Table/Replicator, replay any snapshot
// and the binlog tail, then transition to Normal.
func Load(ctx context.Context, root string, meta *schema.TableMeta) (*Partition, error) {
	dir := dirFor(root, meta.TID, meta.PID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create partition dir: %w", err)
	}

	if err := schema.WriteFile(filepath.Join(dir, "table_meta.txt"), meta); err != nil {
		return nil, fmt.Errorf("write table_meta.txt: %w", err)
	}

	p := &Partition{
		TID:   meta.TID,
		PID:   meta.PID,
		dir:   dir,
		meta:  meta,
		state: types.StateLoading,
	}

	tbl, err := table.Open(filepath.Join(dir, "data"), meta)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	p.tbl = tbl

	lp, err := binlog.Open(filepath.Join(dir, "binlog"), 64<<20, true)
	if err != nil {
		return nil, fmt.Errorf("open binlog: %w", err)
	}
	p.lp = lp

	var snapshotOffset types.Offset
	if meta.StorageMode.IsDisk() {
		snapMeta, err := snapshot.LoadManifest(filepath.Join(dir, "snapshot"))
		if err != nil {
			p.deleteInternal()
			return nil, fmt.Errorf("load snapshot manifest: %w", err)
		}
		if snapMeta != nil {
			staged := filepath.Join(dir, "snapshot", snapMeta.Name)
			if err := os.Rename(staged, filepath.Join(dir, "data")); err != nil && !os.IsNotExist(err) {
				p.deleteInternal()
				return nil, fmt.Errorf("install staged snapshot: %w", err)
			}
			_ = os.Remove(filepath.Join(dir, "snapshot", "MANIFEST"))
			snapshotOffset = snapMeta.Offset
		}
	} else {
		m, err := snapshot.Recover(filepath.Join(dir, "snapshot"), tbl.Sink())
		if err != nil {
			p.deleteInternal()
			return nil, fmt.Errorf("recover snapshot: %w", err)
		}
		if m != nil {
			snapshotOffset = m.Offset
		}
	}
	p.snapshotOffset = snapshotOffset

	latestOffset := snapshotOffset
	rd, err := lp.Reader(snapshotOffset)
	if err != nil {
		p.deleteInternal()
		return nil, fmt.Errorf("open binlog reader: %w", err)
	}
	for {
		e, err := rd.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			rd.Close()
			p.deleteInternal()
			return nil, fmt.Errorf("replay binlog: %w", err)
		}
		if err := applyEntry(tbl, e); err != nil {
			rd.Close()
			p.deleteInternal()
			return nil, fmt.Errorf("apply binlog entry: %w", err)
		}
		latestOffset = e.Offset
	}
	rd.Close()

	role := types.ModeFollower
	if len(meta.Replicas) == 0 {
		role = types.ModeLeader
	}
	p.repl = replication.New(ctx, tblAdapter{tbl}, lp, role, meta.Term)
	if err := p.repl.SetSnapshotLogPartIndex(snapshotOffset); err != nil {
		p.deleteInternal()
		return nil, fmt.Errorf("set snapshot log index: %w", err)
	}

	gcCtx, cancel := context.WithCancel(ctx)
	p.stopGC = cancel
	go p.gcLoop(gcCtx)

	p.mu.Lock()
	p.state = types.StateNormal
	p.mu.Unlock()

	_ = latestOffset
	return p, nil
}

// applyEntry replays one binlog LogEntry into tbl, the same dispatch
// replication.Replicator.apply uses on the follower path.
func applyEntry(tbl *table.Table, e binlog.LogEntry) error {
	dims := make([]interface{ IndexName() string }, 0)
	_ = dims
	switch e.Op {
	case types.OpPut:
		return tbl.Put(toDims(e), toTsDims(e), e.Value)
	case types.OpDelete:
		if len(e.Dimensions) == 0 {
			return nil
		}
		return tbl.Delete(e.Dimensions[0].IndexName, e.Dimensions[0].Key)
	default:
		return fmt.Errorf("unknown op %v", e.Op)
	}
}

func toDims(e binlog.LogEntry) []binlog.Dimension     { return e.Dimensions }
func toTsDims(e binlog.LogEntry) []binlog.TsDimension { return e.TsDimensions }

func (p *Partition) gcLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.RLock()
			tbl := p.tbl
			p.mu.RUnlock()
			if tbl != nil {
				_ = tbl.SchedGc(time.Now())
			}
		}
	}
}

func (p *Partition) deleteInternal() {
	if p.stopGC != nil {
		p.stopGC()
	}
	if p.lp != nil {
		p.lp.Close()
	}
	_ = os.RemoveAll(p.dir)
}

// State returns the partition's current lifecycle state.
func (p *Partition) State() types.PartitionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// snapshotHandle returns the table/replicator pointers under the lock,
// per spec.md §5's "readers take a snapshot of the shared-handle and
// drop the lock before performing the operation" policy.
func (p *Partition) snapshotHandle() (*table.Table, *replication.Replicator, types.PartitionState) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tbl, p.repl, p.state
}

// Put appends a write through the partition's Replicator.
func (p *Partition) Put(dims []binlog.Dimension, tsDims []binlog.TsDimension, value []byte) error {
	tbl, repl, state := p.snapshotHandle()
	if err := legalInState(state, "Put"); err != nil {
		return err
	}
	e := binlog.LogEntry{Op: types.OpPut, Dimensions: dims, TsDimensions: tsDims, Value: value}
	if repl.Role() == types.ModeFollower {
		return dberrors.ErrTableIsFollower
	}
	if _, err := repl.AppendEntry(e); err != nil {
		return err
	}
	_ = tbl
	return nil
}

// Get resolves a single-key read directly against the Table.
func (p *Partition) Get(indexName string, key []byte, tsCol string, rng types.ScanRange) (table.Entry, error) {
	tbl, _, state := p.snapshotHandle()
	if err := legalInState(state, "Get"); err != nil {
		return table.Entry{}, err
	}
	return tbl.Get(indexName, key, tsCol, rng)
}

// Scan resolves a range read directly against the Table.
func (p *Partition) Scan(indexName string, key []byte, tsCol string, rng types.ScanRange) ([]table.Entry, error) {
	tbl, _, state := p.snapshotHandle()
	if err := legalInState(state, "Scan"); err != nil {
		return nil, err
	}
	return tbl.Scan(indexName, key, tsCol, rng)
}

// Delete removes a key through the partition's Replicator.
func (p *Partition) Delete(indexName string, key []byte) error {
	_, repl, state := p.snapshotHandle()
	if err := legalInState(state, "Delete"); err != nil {
		return err
	}
	if repl.Role() == types.ModeFollower {
		return dberrors.ErrTableIsFollower
	}
	e := binlog.LogEntry{Op: types.OpDelete, Dimensions: []binlog.Dimension{{IndexName: indexName, Key: key}}}
	_, err := repl.AppendEntry(e)
	return err
}

// Count returns the table's approximate live-write count.
func (p *Partition) Count() int64 {
	tbl, _, _ := p.snapshotHandle()
	return tbl.GetCount()
}

// DiskBytes returns the partition's on-disk footprint, zero for
// memory/relational storage modes.
func (p *Partition) DiskBytes() int64 {
	tbl, _, _ := p.snapshotHandle()
	return tbl.DiskBytes()
}

// ChangeRole switches leader/follower role and term, per spec.md §4.4's
// role-transition rule: legal from any state. replicas, when non-nil,
// replaces the partition's recorded replica endpoint list (persisted to
// table_meta.txt so a later Load sees the same placement).
func (p *Partition) ChangeRole(role types.Mode, term types.Term, replicas []string) error {
	_, repl, _ := p.snapshotHandle()
	repl.SetRole(role, term)

	p.mu.Lock()
	meta := *p.meta
	meta.Mode = role
	meta.Term = term
	if replicas != nil {
		meta.Replicas = replicas
	}
	p.meta = &meta
	dir := p.dir
	p.mu.Unlock()

	return schema.WriteFile(filepath.Join(dir, "table_meta.txt"), &meta)
}

// Traverse walks the table's rows cross-key through its primary index,
// stopping at limit rows (limit<=0 means no limit here; the manager
// clamps the limit to the configured traverse maximum), per the
// Traverse RPC. indexName is not used: rows of a secondary index are
// not walked. Memory tables yield rows in
// key order; disk tables yield them in no defined order.
func (p *Partition) Traverse(indexName string, limit int) ([]TraverseRow, error) {
	tbl, _, state := p.snapshotHandle()
	if err := legalInState(state, "Traverse"); err != nil {
		return nil, err
	}
	// A disk table's older SSTable levels can still hold a stale copy of
	// a key that a newer level has overwritten; seen guards the
	// cross-level walk against yielding the same PK twice before a
	// compaction has cleared the shadowed copy out.
	seen := skipset.NewFunc[string](func(a, b string) bool { return a < b })
	var rows []TraverseRow
	err := tbl.Traverse(func(r snapshot.Record) error {
		pk := string(r.PK)
		if !seen.Add(pk) {
			return nil
		}
		rows = append(rows, TraverseRow{PK: r.PK, Value: r.Value})
		if limit > 0 && len(rows) >= limit {
			return errStopTraverse
		}
		return nil
	})
	if err != nil && err != errStopTraverse {
		return nil, err
	}
	return rows, nil
}

// TraverseRow is one cross-key row yielded by Partition.Traverse.
type TraverseRow struct {
	PK    []byte
	Value []byte
}

var errStopTraverse = fmt.Errorf("traverse limit reached")

// Update overwrites a relational row at (indexName, key); rejected on
// time-series tables.
func (p *Partition) Update(indexName string, key, value []byte) error {
	tbl, _, state := p.snapshotHandle()
	if err := legalInState(state, "Update"); err != nil {
		return err
	}
	return tbl.Update(indexName, key, value)
}

// BatchQuery resolves a list of keys against indexName in one pass, for
// the BatchQuery RPC.
func (p *Partition) BatchQuery(indexName string, keys [][]byte) ([]table.Entry, error) {
	tbl, _, state := p.snapshotHandle()
	if err := legalInState(state, "BatchQuery"); err != nil {
		return nil, err
	}
	out := make([]table.Entry, len(keys))
	for i, k := range keys {
		e, err := tbl.Get(indexName, k, "", types.ScanRange{StType: types.Ge})
		if err != nil {
			continue
		}
		out[i] = e
	}
	return out, nil
}

// Manifest returns the partition's current snapshot manifest, or nil if
// no snapshot has ever been taken, for the GetManifest RPC.
func (p *Partition) Manifest() (*snapshot.Manifest, error) {
	return snapshot.LoadManifest(filepath.Join(p.Dir(), "snapshot"))
}

// SnapshotOffset returns the binlog offset the most recent snapshot
// covers, for the GetAllSnapshotOffset RPC.
func (p *Partition) SnapshotOffset() types.Offset {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotOffset
}

// DeleteBinlog forces LogPart segment retirement up to the last
// snapshot's offset, for the DeleteBinlog RPC (normally done on
// binlog_delete_interval).
func (p *Partition) DeleteBinlog() error {
	_, repl, _ := p.snapshotHandle()
	return repl.SetSnapshotLogPartIndex(p.SnapshotOffset())
}

// SyncBinlog forces the binlog's tail segment to fsync, for the
// io_pool's binlog_sync_to_disk_interval tick.
func (p *Partition) SyncBinlog() error {
	p.mu.RLock()
	lp := p.lp
	p.mu.RUnlock()
	if lp == nil {
		return nil
	}
	return lp.SyncToDisk()
}

// ExecuteGc forces an immediate SchedGc pass, for the ExecuteGc RPC
// (normally run on gc_interval/disk_gc_interval).
func (p *Partition) ExecuteGc() error {
	tbl, _, _ := p.snapshotHandle()
	return tbl.SchedGc(time.Now())
}

// SetExpire toggles whether SchedGc evicts anything, for the SetExpire
// RPC.
func (p *Partition) SetExpire(on bool) {
	tbl, _, _ := p.snapshotHandle()
	tbl.SetExpire(on)
}

// UpdateTTL installs a new TTL policy, for the UpdateTTL RPC.
func (p *Partition) UpdateTTL(ttl schema.TTLDesc) error {
	tbl, _, _ := p.snapshotHandle()
	return tbl.SetTTL(ttl)
}

// DeleteIndex marks indexName dead, for the DeleteIndex RPC.
func (p *Partition) DeleteIndex(indexName string) error {
	tbl, _, _ := p.snapshotHandle()
	return tbl.DeactivateIndex(indexName)
}

// AppendEntries is the follower-side replication RPC.
func (p *Partition) AppendEntries(req replication.AppendEntriesRequest) (replication.AppendEntriesResponse, error) {
	_, repl, state := p.snapshotHandle()
	if err := legalInState(state, "AppendEntries"); err != nil {
		return replication.AppendEntriesResponse{}, err
	}
	return repl.AppendEntries(req)
}

// MakeSnapshot dumps the table into dir/snapshot and truncates the log
// up to the snapshot's offset, per spec.md §4.5 (Normal → MakingSnapshot
// → Normal).
func (p *Partition) MakeSnapshot() error {
	p.mu.Lock()
	if err := legalInState(p.state, "MakeSnapshot"); err != nil {
		p.mu.Unlock()
		return err
	}
	p.state = types.StateMakingSnapshot
	tbl, repl := p.tbl, p.repl
	p.mu.Unlock()

	endOffset := repl.Offset()
	term := repl.Term()
	m, err := snapshot.MakeSnapshot(filepath.Join(p.dir, "snapshot"), tbl.Source(), endOffset, term)

	p.mu.Lock()
	p.state = types.StateNormal
	p.mu.Unlock()

	if err != nil {
		return err
	}
	p.snapshotOffset = m.Offset
	return repl.SetSnapshotLogPartIndex(m.Offset)
}

// PauseSnapshot transitions the partition to SnapshotPaused so a peer
// can be sent the on-disk snapshot files consistently.
func (p *Partition) PauseSnapshot() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != types.StateNormal {
		return dberrors.ErrTableStatusIsNotKnormal
	}
	p.state = types.StateSnapshotPaused
	return nil
}

// Resume transitions SnapshotPaused back to Normal.
func (p *Partition) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == types.StateSnapshotPaused {
		p.state = types.StateNormal
	}
}

// DropTable stops background GC and replication and closes the binlog,
// per spec.md §4.5's Drop procedure. It leaves the partition's files in
// place: moving them to the recycle bin or deleting them is done by the
// Manager, which knows the recycle bin's root.
func (p *Partition) DropTable() error {
	p.mu.Lock()
	if p.state == types.StateMakingSnapshot {
		p.mu.Unlock()
		return dberrors.ErrTableStatusIsKmakingsnapshot
	}
	p.mu.Unlock()

	if p.stopGC != nil {
		p.stopGC()
	}
	if p.repl != nil {
		p.repl.DelAllReplicateNode()
	}
	if p.lp != nil {
		p.lp.Close()
	}
	return nil
}

// Dir returns the partition's on-disk root.
func (p *Partition) Dir() string { return p.dir }

// Meta returns the partition's table schema.
func (p *Partition) Meta() *schema.TableMeta {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.meta
}

// SetMeta installs a new schema, used by schema-evolution operations.
func (p *Partition) SetMeta(meta *schema.TableMeta) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := schema.WriteFile(filepath.Join(p.dir, "table_meta.txt"), meta); err != nil {
		return err
	}
	p.meta = meta
	return nil
}

// Replicator exposes the underlying replicator, for AddReplica/DelReplica
// and GetTableFollower RPCs.
func (p *Partition) Replicator() *replication.Replicator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.repl
}

// RecoverSnapshot re-applies the most recent on-disk snapshot to the
// table, for the RecoverSnapshot RPC used to repair a table after a
// detected divergence without a full reload.
func (p *Partition) RecoverSnapshot() error {
	tbl, _, _ := p.snapshotHandle()
	m, err := snapshot.Recover(filepath.Join(p.Dir(), "snapshot"), tbl.Sink())
	if err != nil {
		return err
	}
	if m != nil {
		p.mu.Lock()
		p.snapshotOffset = m.Offset
		p.mu.Unlock()
	}
	return nil
}

// Table exposes the underlying table handle for the Traverse/BatchQuery
// and DumpIndexData RPCs.
func (p *Partition) Table() *table.Table {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tbl
}

// tblAdapter adapts *table.Table to replication.Table's narrower shape.
type tblAdapter struct{ t *table.Table }

func (a tblAdapter) Put(dims []binlog.Dimension, tsDims []binlog.TsDimension, value []byte) error {
	return a.t.Put(dims, tsDims, value)
}

func (a tblAdapter) Delete(indexName string, key []byte) error {
	return a.t.Delete(indexName, key)
}
