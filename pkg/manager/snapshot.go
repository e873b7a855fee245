package manager

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"tabletdb/pkg/dberrors"
	"tabletdb/pkg/filetransfer"
	"tabletdb/pkg/partition"
	"tabletdb/pkg/types"
)

// MakeSnapshot dumps a partition's live table, serialized node-wide by
// snapshotMu per spec.md §5's single-worker snapshot_pool.
func (m *Manager) MakeSnapshot(tid types.TID, pid types.PID) error {
	p, err := m.get(tid, pid)
	if err != nil {
		return err
	}
	m.snapshotMu.Lock()
	defer m.snapshotMu.Unlock()
	return p.MakeSnapshot()
}

func (m *Manager) PauseSnapshot(tid types.TID, pid types.PID) error {
	p, err := m.get(tid, pid)
	if err != nil {
		return err
	}
	return p.PauseSnapshot()
}

func sendKey(endpoint types.NodeID, tid types.TID, pid types.PID) string {
	return fmt.Sprintf("%s|%d|%d", endpoint, tid, pid)
}

// SendSnapshot ships a paused leader partition's on-disk snapshot files
// to endpoint, per spec.md §4.5: rejects a duplicate in-flight send with
// ErrSnapshotIsSending, and resumes the partition to Normal once the
// background send finishes (spec.md names no explicit Resume RPC, so
// completion — success or failure — is the only trigger available).
// Returns the op_id to poll via GetTaskStatus.
func (m *Manager) SendSnapshot(tid types.TID, pid types.PID, endpoint types.NodeID) (string, error) {
	p, err := m.get(tid, pid)
	if err != nil {
		return "", err
	}
	if p.Replicator().Role() != types.ModeLeader {
		return "", dberrors.ErrTableIsFollower
	}
	if p.State() != types.StateSnapshotPaused {
		return "", dberrors.ErrTableStatusIsNotKsnapshotpaused
	}

	key := sendKey(endpoint, tid, pid)
	m.sendMu.Lock()
	if m.inflightSends[key] {
		m.sendMu.Unlock()
		return "", dberrors.ErrSnapshotIsSending
	}
	m.inflightSends[key] = true
	m.sendMu.Unlock()

	opID := uuid.NewString()
	m.runTask(opID, "SendSnapshot", func() error {
		defer func() {
			m.sendMu.Lock()
			delete(m.inflightSends, key)
			m.sendMu.Unlock()
			p.Resume()
		}()
		return m.doSendSnapshot(p, tid, pid, endpoint)
	})
	return opID, nil
}

func (m *Manager) doSendSnapshot(p *partition.Partition, tid types.TID, pid types.PID, endpoint types.NodeID) error {
	manifest, err := p.Manifest()
	if err != nil {
		return fmt.Errorf("load manifest for send: %w", err)
	}
	if manifest == nil {
		return fmt.Errorf("partition %d_%d has no snapshot to send", tid, pid)
	}

	dir := p.Dir()
	sender, err := filetransfer.NewSender(tid, pid,
		filepath.Join(dir, "table_meta.txt"),
		filepath.Join(dir, "snapshot", manifest.Name),
		manifest.Name,
		filepath.Join(dir, "snapshot", "MANIFEST"))
	if err != nil {
		return err
	}

	if m.dialer == nil {
		return fmt.Errorf("manager: no follower dialer configured")
	}
	_, sink := m.dialer.Dial(endpoint)
	if sink == nil {
		return fmt.Errorf("manager: dialer returned no chunk sender for %s", endpoint)
	}

	ctx := m.ctx
	for _, f := range sender.Files() {
		name, path := f.Name, f.Path
		err := sender.ChunkFile(name, path, func(c filetransfer.Chunk) error {
			return sink.SendChunk(ctx, c)
		})
		if err != nil {
			return fmt.Errorf("send %s: %w", name, err)
		}
	}
	return nil
}

// SendData ingests one chunk of an incoming snapshot transfer on the
// receiving (follower) side, lazily creating the partition's Receiver
// keyed by (tid,pid) on the first chunk.
func (m *Manager) SendData(c filetransfer.Chunk) error {
	dir, err := m.receiverDirFor(c.TID, c.PID)
	if err != nil {
		return err
	}

	key := types.PartitionKey{TID: c.TID, PID: c.PID}
	m.recvMu.Lock()
	recv, ok := m.receivers[key]
	if !ok {
		recv = filetransfer.NewReceiver(dir)
		m.receivers[key] = recv
	}
	m.recvMu.Unlock()

	return recv.Write(c)
}

// receiverDirFor resolves the partition-root directory an incoming
// snapshot for (tid,pid) should be staged under — files arrive named
// "table_meta.txt", "snapshot/<name>" and "snapshot/MANIFEST", so the
// Receiver's root is the partition directory itself, not its snapshot
// subdirectory. Prefers the already-registered partition's directory
// (the common case — a follower loaded via LoadTable before its leader
// sends data); falls back to a best-effort root under the default
// storage mode, since the wire payload carries no storage_mode field.
func (m *Manager) receiverDirFor(tid types.TID, pid types.PID) (string, error) {
	if p, err := m.get(tid, pid); err == nil {
		return p.Dir(), nil
	}
	return m.dirFor(tid, pid, types.StorageMemory)
}

// CheckFile reports whether a file a SendSnapshot transfer would ship
// has already fully arrived, letting an interrupted transfer resume
// without re-sending completed files.
func (m *Manager) CheckFile(tid types.TID, pid types.PID, name string) (exists bool, size int64, err error) {
	dir, err := m.receiverDirFor(tid, pid)
	if err != nil {
		return false, 0, err
	}
	recv := filetransfer.NewReceiver(dir)
	exists, size = recv.CheckFile(name)
	return exists, size, nil
}
