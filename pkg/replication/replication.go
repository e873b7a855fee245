// Package replication binds a Table to a LogPart under a leader/follower
// role: the leader stamps and durably appends every entry then fans it
// out to followers; a follower only ever accepts the next offset in
// sequence, rejecting otherwise so the leader can retry from earlier.
package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tabletdb/pkg/binlog"
	"tabletdb/pkg/clock"
	"tabletdb/pkg/dberrors"
	"tabletdb/pkg/types"
)

// Table is the subset of memtable.Table / persistance.DiskTable the
// Replicator needs to apply entries; both satisfy it without either
// package importing this one.
type Table interface {
	Put(dims []binlog.Dimension, tsDims []binlog.TsDimension, value []byte) error
	Delete(indexName string, key []byte) error
}

// FollowerClient is how a leader's syncer reaches a remote tablet; the
// rpcserver package supplies the real HTTP implementation.
type FollowerClient interface {
	AppendEntries(ctx context.Context, req AppendEntriesRequest) (AppendEntriesResponse, error)
}

// AppendEntriesRequest is what a leader's syncer sends a follower.
type AppendEntriesRequest struct {
	TID, PID    types.TID
	Term        types.Term
	PreLogIndex types.Offset
	PreLogTerm  types.Term
	Entries     []binlog.LogEntry
}

// AppendEntriesResponse is the follower's reply.
type AppendEntriesResponse struct {
	Ok          bool
	CurrOffset  types.Offset
}

type follower struct {
	endpoint   types.NodeID
	remoteTID  types.TID
	client     FollowerClient
	lastSynced clock.AtomicClock
	cancel     context.CancelFunc
	done       chan struct{}
}

// Replicator binds one (Table, LogPart) pair under a role.
type Replicator struct {
	table   Table
	logPart *binlog.LogPart

	mu   sync.RWMutex
	role types.Mode
	term clock.AtomicClock

	offset clock.AtomicClock

	followersMu sync.Mutex
	followers   map[types.NodeID]*follower

	batchSize int
	ctx       context.Context
}

// New binds table and logPart as role, with an initial term.
func New(ctx context.Context, table Table, logPart *binlog.LogPart, role types.Mode, term types.Term) *Replicator {
	r := &Replicator{
		table:     table,
		logPart:   logPart,
		role:      role,
		followers: make(map[types.NodeID]*follower),
		batchSize: 64,
		ctx:       ctx,
	}
	r.term.Set(term)
	logPart.SetTerm(term)
	return r
}

// AppendEntry stamps e with the next offset and the current term, writes
// it to the LogPart, and applies it to the Table. Leader-only.
func (r *Replicator) AppendEntry(e binlog.LogEntry) (types.Offset, error) {
	r.mu.RLock()
	role := r.role
	r.mu.RUnlock()
	if role != types.ModeLeader {
		return 0, dberrors.ErrTableIsFollower
	}

	e.Offset = r.offset.Next()
	e.Term = r.term.Val()

	if err := r.applyAndLog(e); err != nil {
		return 0, err
	}
	return e.Offset, nil
}

func (r *Replicator) applyAndLog(e binlog.LogEntry) error {
	r.logPart.Append(e)
	return r.apply(e)
}

func (r *Replicator) apply(e binlog.LogEntry) error {
	switch e.Op {
	case types.OpPut:
		return r.table.Put(e.Dimensions, e.TsDimensions, e.Value)
	case types.OpDelete:
		for _, d := range e.Dimensions {
			if err := r.table.Delete(d.IndexName, d.Key); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown binlog op %v", e.Op)
	}
}

// AppendEntries is the follower-side endpoint. It accepts req only if its
// tail matches the supplied prefix, otherwise it rejects with its current
// offset so the leader can retry from earlier.
func (r *Replicator) AppendEntries(req AppendEntriesRequest) (AppendEntriesResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.role != types.ModeFollower {
		return AppendEntriesResponse{}, dberrors.ErrTableIsLeader
	}

	curr := r.offset.Val()
	if req.PreLogIndex != curr {
		return AppendEntriesResponse{Ok: false, CurrOffset: curr}, nil
	}

	r.term.Set(req.Term)
	r.logPart.SetTerm(req.Term)

	for _, e := range req.Entries {
		if e.Offset != curr+1 {
			return AppendEntriesResponse{Ok: false, CurrOffset: curr}, nil
		}
		r.logPart.Append(e)
		if err := r.apply(e); err != nil {
			return AppendEntriesResponse{}, fmt.Errorf("apply replicated entry: %w", err)
		}
		curr = e.Offset
	}
	r.offset.Set(curr)

	return AppendEntriesResponse{Ok: true, CurrOffset: curr}, nil
}

// AddReplicateNode starts a background syncer tailing the LogPart from
// fromOffset and pushing batches to client. A duplicate endpoint is
// rejected with ErrReplicaEndpointAlreadyExists.
func (r *Replicator) AddReplicateNode(endpoint types.NodeID, remoteTID types.TID, client FollowerClient, fromOffset types.Offset) error {
	r.followersMu.Lock()
	defer r.followersMu.Unlock()

	if _, exists := r.followers[endpoint]; exists {
		return dberrors.ErrReplicaEndpointAlreadyExists
	}

	ctx, cancel := context.WithCancel(r.ctx)
	f := &follower{endpoint: endpoint, remoteTID: remoteTID, client: client, cancel: cancel, done: make(chan struct{})}
	f.lastSynced.Set(fromOffset)
	r.followers[endpoint] = f

	go r.syncLoop(ctx, f)
	return nil
}

// DelReplicateNode stops and drops the syncer for endpoint.
func (r *Replicator) DelReplicateNode(endpoint types.NodeID) {
	r.followersMu.Lock()
	f, ok := r.followers[endpoint]
	if ok {
		delete(r.followers, endpoint)
	}
	r.followersMu.Unlock()
	if ok {
		f.cancel()
		<-f.done
	}
}

// DelAllReplicateNode stops every syncer.
func (r *Replicator) DelAllReplicateNode() {
	r.followersMu.Lock()
	all := make([]*follower, 0, len(r.followers))
	for ep, f := range r.followers {
		all = append(all, f)
		delete(r.followers, ep)
	}
	r.followersMu.Unlock()

	for _, f := range all {
		f.cancel()
		<-f.done
	}
}

// GetReplicateInfo returns each follower's last synced offset.
func (r *Replicator) GetReplicateInfo() map[types.NodeID]types.Offset {
	r.followersMu.Lock()
	defer r.followersMu.Unlock()
	out := make(map[types.NodeID]types.Offset, len(r.followers))
	for ep, f := range r.followers {
		out[ep] = f.lastSynced.Val()
	}
	return out
}

// SetRole switches the replicator's role. Switching to follower drops all
// syncers; switching to leader requires the caller to supply the new term.
func (r *Replicator) SetRole(role types.Mode, term types.Term) {
	r.mu.Lock()
	r.role = role
	if role == types.ModeLeader {
		r.term.Set(term)
		r.logPart.SetTerm(term)
	}
	r.mu.Unlock()

	if role == types.ModeFollower {
		r.DelAllReplicateNode()
	}
}

// SetSnapshotLogPartIndex tells the bound LogPart it may retire segments
// up to offset, called by the snapshot subsystem after MakeSnapshot. The
// target is clamped to the slowest live follower's lastSynced offset so a
// segment a follower's cursor still needs is never removed out from under
// it; a follower that never caught up simply freezes retirement.
func (r *Replicator) SetSnapshotLogPartIndex(offset types.Offset) error {
	target := offset

	r.followersMu.Lock()
	for _, f := range r.followers {
		if s := f.lastSynced.Val(); s < target {
			target = s
		}
	}
	r.followersMu.Unlock()

	return r.logPart.TruncateBefore(target)
}

// Role returns the replicator's current leader/follower role.
func (r *Replicator) Role() types.Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.role
}

// Offset returns the replicator's current offset.
func (r *Replicator) Offset() types.Offset { return r.offset.Val() }

// Term returns the replicator's current term.
func (r *Replicator) Term() types.Term { return r.term.Val() }

func (r *Replicator) syncLoop(ctx context.Context, f *follower) {
	defer close(f.done)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pushBatch(ctx, f)
		}
	}
}

func (r *Replicator) pushBatch(ctx context.Context, f *follower) {
	from := f.lastSynced.Val() + 1
	reader, err := r.logPart.Reader(from)
	if err != nil {
		return
	}
	defer reader.Close()

	entries := make([]binlog.LogEntry, 0, r.batchSize)
	for len(entries) < r.batchSize {
		e, err := reader.Next()
		if err != nil {
			break
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return
	}

	req := AppendEntriesRequest{
		Term:        r.term.Val(),
		PreLogIndex: from - 1,
		PreLogTerm:  r.term.Val(),
		Entries:     entries,
	}
	resp, err := f.client.AppendEntries(ctx, req)
	if err != nil || !resp.Ok {
		return
	}
	f.lastSynced.Set(resp.CurrOffset)
}
