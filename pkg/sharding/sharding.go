// Package sharding picks which configured storage root backs a given
// partition, the same way the teacher's bloom filter hashes keys with
// hash/fnv rather than pulling in an external hash library.
package sharding

import (
	"fmt"
	"hash/fnv"

	"tabletdb/pkg/types"
)

// Seed's 8 little-endian bytes are hashed ahead of the input, per spec.md §6's
// hash64(str(tid)+str(pid), SEED=0xe17a1465) root-selection formula.
const Seed uint64 = 0xe17a1465

// Hash64 returns fnv-1a(seed, s) — deterministic across process
// restarts, which root selection depends on.
func Hash64(s string) uint64 {
	h := fnv.New64a()
	h.Write(seedBytes(Seed))
	h.Write([]byte(s))
	return h.Sum64()
}

func seedBytes(seed uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(seed >> (8 * i))
	}
	return b
}

// RootSelector maps a partition key to one of several configured
// storage roots (spec.md §6's db_root_path/ssd_root_path/hdd_root_path
// lists), so partitions spread evenly across disks without any
// central bookkeeping.
type RootSelector struct {
	roots []string
}

// NewRootSelector builds a selector over roots, in configured order;
// the order is part of the hash's determinism, so callers must not
// reorder an existing roots list once partitions have been created
// under it.
func NewRootSelector(roots []string) (*RootSelector, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("sharding: at least one root is required")
	}
	return &RootSelector{roots: roots}, nil
}

// RootFor returns the storage root for (tid, pid).
func (s *RootSelector) RootFor(tid types.TID, pid types.PID) string {
	key := fmt.Sprintf("%d%d", tid, pid)
	idx := Hash64(key) % uint64(len(s.roots))
	return s.roots[idx]
}

// Roots returns the configured root list, in order.
func (s *RootSelector) Roots() []string { return s.roots }
