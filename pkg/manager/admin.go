package manager

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tabletdb/pkg/coordination"
	"tabletdb/pkg/partition"
)

// defaultConcurrencyKey is the bucket SetConcurrency updates when called
// with an unrecognized key, per spec.md §5's "unknown keys update the
// global cap" rule.
const defaultConcurrencyKey = "*"

// SetConcurrency caps the number of in-flight calls for key (an
// operation name), or the global default when key is unrecognized.
func (m *Manager) SetConcurrency(key string, max int) {
	m.concMu.Lock()
	defer m.concMu.Unlock()
	if _, known := m.concurrency[key]; !known && key != defaultConcurrencyKey {
		key = defaultConcurrencyKey
	}
	m.concurrency[key] = max
}

// concurrencyLimit returns the configured cap for key, falling back to
// the global default, 0 meaning unlimited.
func (m *Manager) concurrencyLimit(key string) int {
	m.concMu.Lock()
	defer m.concMu.Unlock()
	if v, ok := m.concurrency[key]; ok {
		return v
	}
	return m.concurrency[defaultConcurrencyKey]
}

// MemPoolStats summarizes the node's in-memory footprint, for the
// ShowMemPool RPC used by operators to watch for pressure before it
// forces an early MakeSnapshot.
type MemPoolStats struct {
	PartitionCount int
	TotalRecords   int64
	DiskBytes      int64
}

// ShowMemPool reports aggregate record counts and disk footprint across
// every hosted partition.
func (m *Manager) ShowMemPool() MemPoolStats {
	m.mu.Lock()
	parts := make([]*partition.Partition, 0, len(m.partitions))
	for _, p := range m.partitions {
		parts = append(parts, p)
	}
	m.mu.Unlock()

	stats := MemPoolStats{PartitionCount: len(parts)}
	for _, p := range parts {
		stats.TotalRecords += p.Count()
		stats.DiskBytes += p.DiskBytes()
	}
	return stats
}

// SetTTLClock toggles whether the node's background GC loops evict
// expired records at all — a node-wide kill switch distinct from the
// per-table SetExpire, for maintenance windows where eviction must be
// frozen across every partition at once.
func (m *Manager) SetTTLClock(on bool) {
	m.mu.Lock()
	parts := make([]func(bool), 0, len(m.partitions))
	for _, p := range m.partitions {
		parts = append(parts, p.SetExpire)
	}
	m.mu.Unlock()
	for _, setExpire := range parts {
		setExpire(on)
	}
}

// ConnectZK establishes the coordination-service session this process
// uses for term allocation and peer discovery.
func (m *Manager) ConnectZK(selfEndpoint string) error {
	cfg := m.cfg.ZooKeeper
	c, err := coordination.Connect(cfg.Servers, cfg.RootPath, selfEndpoint, cfg.SessionTimeout)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.coord = c
	m.mu.Unlock()
	return c.RegisterTablet()
}

// DisConnectZK tears down the coordination-service session; remote
// calls continue to work against already-resolved roles.
func (m *Manager) DisConnectZK() error {
	m.mu.Lock()
	c := m.coord
	m.coord = nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// SetFollowerCluster records whether this node is part of a follower
// cluster; IsFollowerCluster reports the flag. No operation consults it,
// so setting it does not reject any request on its own.
func (m *Manager) SetFollowerCluster(on bool) {
	m.followerCluster.Set(on)
}

func (m *Manager) IsFollowerCluster() bool {
	return m.followerCluster.Get()
}

// recycleSweepLoop drops recycle_bin directories older than
// cfg.Recycle.TTL, the task_pool's recycle-sweep responsibility.
func (m *Manager) recycleSweepLoop(ctx context.Context) {
	if !m.cfg.Recycle.Enabled || len(m.cfg.Recycle.RecycleBinRootPaths) == 0 {
		return
	}
	interval := m.cfg.Recycle.TTL / 4
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepRecycleBin()
		}
	}
}

func (m *Manager) sweepRecycleBin() {
	cutoff := time.Now().Add(-m.cfg.Recycle.TTL)
	for _, root := range m.cfg.Recycle.RecycleBinRootPaths {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			ts := recycleTimestamp(e.Name())
			if ts.IsZero() || ts.After(cutoff) {
				continue
			}
			_ = os.RemoveAll(filepath.Join(root, e.Name()))
		}
	}
}

// recycleTimestamp parses the trailing yyyymmddhhmmss segment out of a
// recycle-bin directory name (<tid>_<pid>_<ts> or
// <tid>_<pid>_binlog_<ts>), returning the zero Time if the name doesn't
// match either shape.
func recycleTimestamp(name string) time.Time {
	parts := strings.Split(name, "_")
	if len(parts) < 3 {
		return time.Time{}
	}
	last := parts[len(parts)-1]
	if _, err := strconv.ParseInt(last, 10, 64); err != nil {
		return time.Time{}
	}
	ts, err := time.Parse("20060102150405", last)
	if err != nil {
		return time.Time{}
	}
	return ts
}
