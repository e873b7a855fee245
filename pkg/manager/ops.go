// Data-path and administrative operations delegating one (tid,pid) pair
// at a time to its Partition, the shape spec.md §4 lists as the tablet's
// remote operation set.
package manager

import (
	"fmt"

	"tabletdb/pkg/binlog"
	"tabletdb/pkg/partition"
	"tabletdb/pkg/replication"
	"tabletdb/pkg/schema"
	"tabletdb/pkg/snapshot"
	"tabletdb/pkg/table"
	"tabletdb/pkg/types"
)

func (m *Manager) Put(tid types.TID, pid types.PID, dims []binlog.Dimension, tsDims []binlog.TsDimension, value []byte) error {
	p, err := m.get(tid, pid)
	if err != nil {
		return err
	}
	return p.Put(dims, tsDims, value)
}

func (m *Manager) Get(tid types.TID, pid types.PID, indexName string, key []byte, tsCol string, mode types.CompareMode, ts uint64, et uint64, etType types.CompareMode) (table.Entry, error) {
	p, err := m.get(tid, pid)
	if err != nil {
		return table.Entry{}, err
	}
	return p.Get(indexName, key, tsCol, m.scanRange(mode, ts, et, etType, 1))
}

func (m *Manager) Scan(tid types.TID, pid types.PID, indexName string, key []byte, tsCol string, mode types.CompareMode, ts uint64, et uint64, etType types.CompareMode, limit int) ([]table.Entry, error) {
	p, err := m.get(tid, pid)
	if err != nil {
		return nil, err
	}
	return p.Scan(indexName, key, tsCol, m.scanRange(mode, ts, et, etType, limit))
}

// scanRange builds the wire-level start/end bound into a types.ScanRange,
// folding in the deployment's scan_max_bytes_size and
// enable_remove_duplicated_record config, per spec.md §4.3.1.
func (m *Manager) scanRange(mode types.CompareMode, ts, et uint64, etType types.CompareMode, limit int) types.ScanRange {
	return types.ScanRange{
		St:           ts,
		StType:       mode,
		Et:           et,
		EtType:       etType,
		Limit:        limit,
		MaxBytesSize: m.cfg.Scan.MaxBytesSize,
		RemoveDup:    m.cfg.Scan.RemoveDuplicated,
	}
}

func (m *Manager) Delete(tid types.TID, pid types.PID, indexName string, key []byte) error {
	p, err := m.get(tid, pid)
	if err != nil {
		return err
	}
	return p.Delete(indexName, key)
}

func (m *Manager) Update(tid types.TID, pid types.PID, indexName string, key, value []byte) error {
	p, err := m.get(tid, pid)
	if err != nil {
		return err
	}
	return p.Update(indexName, key, value)
}

func (m *Manager) BatchQuery(tid types.TID, pid types.PID, indexName string, keys [][]byte) ([]table.Entry, error) {
	p, err := m.get(tid, pid)
	if err != nil {
		return nil, err
	}
	return p.BatchQuery(indexName, keys)
}

func (m *Manager) Traverse(tid types.TID, pid types.PID, indexName string, limit int) ([]partition.TraverseRow, error) {
	p, err := m.get(tid, pid)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > m.cfg.Scan.MaxTraverseCnt {
		limit = m.cfg.Scan.MaxTraverseCnt
	}
	return p.Traverse(indexName, limit)
}

func (m *Manager) Count(tid types.TID, pid types.PID) (int64, error) {
	p, err := m.get(tid, pid)
	if err != nil {
		return 0, err
	}
	return p.Count(), nil
}

// ChangeRole flips a partition's leader/follower role, invoked by the
// coordination layer after a term grant.
func (m *Manager) ChangeRole(tid types.TID, pid types.PID, role types.Mode, term types.Term, replicas []string) error {
	p, err := m.get(tid, pid)
	if err != nil {
		return err
	}
	return p.ChangeRole(role, term, replicas)
}

// SetMode flips a partition's role without requiring a coordination
// term grant, for single-node/manual deployments where ZooKeeper isn't
// in play — the lightweight sibling of ChangeRole.
func (m *Manager) SetMode(tid types.TID, pid types.PID, role types.Mode) error {
	p, err := m.get(tid, pid)
	if err != nil {
		return err
	}
	return p.ChangeRole(role, p.Meta().Term, nil)
}

func (m *Manager) GetManifest(tid types.TID, pid types.PID) (*snapshot.Manifest, error) {
	p, err := m.get(tid, pid)
	if err != nil {
		return nil, err
	}
	return p.Manifest()
}

func (m *Manager) GetAllSnapshotOffset() map[types.PartitionKey]types.Offset {
	m.mu.Lock()
	parts := make([]*partition.Partition, 0, len(m.partitions))
	keys := make([]types.PartitionKey, 0, len(m.partitions))
	for k, p := range m.partitions {
		keys = append(keys, k)
		parts = append(parts, p)
	}
	m.mu.Unlock()

	out := make(map[types.PartitionKey]types.Offset, len(parts))
	for i, p := range parts {
		out[keys[i]] = p.SnapshotOffset()
	}
	return out
}

func (m *Manager) DeleteBinlog(tid types.TID, pid types.PID) error {
	p, err := m.get(tid, pid)
	if err != nil {
		return err
	}
	return p.DeleteBinlog()
}

func (m *Manager) ExecuteGc(tid types.TID, pid types.PID) error {
	p, err := m.get(tid, pid)
	if err != nil {
		return err
	}
	return p.ExecuteGc()
}

func (m *Manager) SetExpire(tid types.TID, pid types.PID, on bool) error {
	p, err := m.get(tid, pid)
	if err != nil {
		return err
	}
	p.SetExpire(on)
	return nil
}

func (m *Manager) UpdateTTL(tid types.TID, pid types.PID, ttl schema.TTLDesc) error {
	p, err := m.get(tid, pid)
	if err != nil {
		return err
	}
	if err := schema.CheckTTLDesc(ttl, m.ttlCeiling()); err != nil {
		return err
	}
	return p.UpdateTTL(ttl)
}

func (m *Manager) DeleteIndex(tid types.TID, pid types.PID, indexName string) error {
	p, err := m.get(tid, pid)
	if err != nil {
		return err
	}
	return p.DeleteIndex(indexName)
}

// UpdateTableMetaForAddField installs a new schema across every
// partition of tid, the tid-wide schema-evolution operation spec.md §4.5
// groups with DeleteIndex.
func (m *Manager) UpdateTableMetaForAddField(tid types.TID, meta *schema.TableMeta) error {
	m.mu.Lock()
	var targets []*partition.Partition
	for k, p := range m.partitions {
		if k.TID == tid {
			targets = append(targets, p)
		}
	}
	m.mu.Unlock()

	if len(targets) == 0 {
		return fmt.Errorf("UpdateTableMetaForAddField: no partitions hosted for tid %d", tid)
	}
	for _, p := range targets {
		next := *meta
		next.PID = p.Meta().PID
		if err := p.SetMeta(&next); err != nil {
			return err
		}
	}
	return nil
}

// RecoverSnapshot re-applies a partition's last on-disk snapshot,
// bypassing a full reload.
func (m *Manager) RecoverSnapshot(tid types.TID, pid types.PID) error {
	p, err := m.get(tid, pid)
	if err != nil {
		return err
	}
	return p.RecoverSnapshot()
}

// AppendEntries is the follower-side replication RPC entry point.
func (m *Manager) AppendEntries(tid types.TID, pid types.PID, req replication.AppendEntriesRequest) (replication.AppendEntriesResponse, error) {
	p, err := m.get(tid, pid)
	if err != nil {
		return replication.AppendEntriesResponse{}, err
	}
	return p.AppendEntries(req)
}

// AddReplica dials endpoint and registers it as a log-shipping follower
// of this partition's Replicator, starting from fromOffset.
func (m *Manager) AddReplica(tid types.TID, pid types.PID, endpoint types.NodeID, fromOffset types.Offset) error {
	p, err := m.get(tid, pid)
	if err != nil {
		return err
	}
	if m.dialer == nil {
		return fmt.Errorf("manager: no follower dialer configured")
	}
	client, _ := m.dialer.Dial(endpoint)
	return p.Replicator().AddReplicateNode(endpoint, tid, client, fromOffset)
}

// DelReplica drops endpoint from this partition's replica set.
func (m *Manager) DelReplica(tid types.TID, pid types.PID, endpoint types.NodeID) error {
	p, err := m.get(tid, pid)
	if err != nil {
		return err
	}
	p.Replicator().DelReplicateNode(endpoint)
	return nil
}

// GetTableFollower reports the offset each replica has acknowledged.
func (m *Manager) GetTableFollower(tid types.TID, pid types.PID) (map[types.NodeID]types.Offset, error) {
	p, err := m.get(tid, pid)
	if err != nil {
		return nil, err
	}
	return p.Replicator().GetReplicateInfo(), nil
}

// GetTermPair reports a partition's current (role, term), for cluster
// coordination to detect a stale leader belief.
func (m *Manager) GetTermPair(tid types.TID, pid types.PID) (types.Mode, types.Term, error) {
	p, err := m.get(tid, pid)
	if err != nil {
		return 0, 0, err
	}
	repl := p.Replicator()
	return repl.Role(), repl.Term(), nil
}

// GetTableStatus reports a partition's lifecycle state.
func (m *Manager) GetTableStatus(tid types.TID, pid types.PID) (types.PartitionState, error) {
	p, err := m.get(tid, pid)
	if err != nil {
		return 0, err
	}
	return p.State(), nil
}

// GetTableSchema reports a partition's current TableMeta.
func (m *Manager) GetTableSchema(tid types.TID, pid types.PID) (*schema.TableMeta, error) {
	p, err := m.get(tid, pid)
	if err != nil {
		return nil, err
	}
	return p.Meta(), nil
}
