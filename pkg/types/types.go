// Package types holds the small value types shared across every tablet
// subsystem: identifiers, sequence numbers, and the closed enumerations
// used by schema, storage and replication.
package types

// Key is an immutable byte slice type alias used for clarity.
type Key = []byte

// Value is an immutable byte slice type alias used for clarity.
type Value = []byte

// SeqN is the binlog offset / in-memory sequence number used for WAL
// ordering and read-your-writes within a partition.
type SeqN = uint64

// Term is the leadership generation counter handed down by the
// coordination service.
type Term = uint64

// Offset is a dense, monotonically increasing sequence number assigned
// by a leader replicator to each log entry.
type Offset = uint64

// TID identifies a logical table.
type TID = uint32

// PID identifies a partition of a logical table.
type PID = uint32

// NodeID identifies a peer tablet endpoint ("host:port").
type NodeID = string

// Mode is the partition's replication role.
type Mode int

const (
	ModeLeader Mode = iota
	ModeFollower
)

func (m Mode) String() string {
	if m == ModeLeader {
		return "kTableLeader"
	}
	return "kTableFollower"
}

// StorageMode selects the backing engine for a partition.
type StorageMode int

const (
	StorageMemory StorageMode = iota
	StorageSSD
	StorageHDD
)

func (s StorageMode) String() string {
	switch s {
	case StorageMemory:
		return "kMemory"
	case StorageSSD:
		return "kSSD"
	case StorageHDD:
		return "kHDD"
	default:
		return "kUnknown"
	}
}

// IsDisk reports whether the storage mode is backed by an on-disk engine.
func (s StorageMode) IsDisk() bool {
	return s == StorageSSD || s == StorageHDD
}

// TableType distinguishes time-series tables from plain relational ones.
type TableType int

const (
	TableTimeSeries TableType = iota
	TableRelational
)

// ColumnType is the closed set of column value types.
type ColumnType int

const (
	ColBool ColumnType = iota
	ColInt32
	ColInt64
	ColUInt64
	ColFloat
	ColDouble
	ColString
	ColTimestamp
)

// CanIndex reports whether values of this type may participate in an
// index key. float and double are excluded per schema invariants.
func (c ColumnType) CanIndex() bool {
	return c != ColFloat && c != ColDouble
}

// CanBeTsCol reports whether a column marked is_ts_col may carry this type.
func (c ColumnType) CanBeTsCol() bool {
	return c == ColInt64 || c == ColUInt64 || c == ColTimestamp
}

// TTLType is the eviction policy attached to an (index, ts column) pair.
type TTLType int

const (
	AbsoluteTime TTLType = iota
	LatestTime
	AbsAndLat
	AbsOrLat
)

func (t TTLType) String() string {
	switch t {
	case AbsoluteTime:
		return "kAbsoluteTime"
	case LatestTime:
		return "kLatestTime"
	case AbsAndLat:
		return "kAbsAndLat"
	case AbsOrLat:
		return "kAbsOrLat"
	default:
		return "kUnknown"
	}
}

// SupportedOnDisk reports whether the disk table engine can enforce this
// TTL type. Only the single-predicate flavors are supported on disk; the
// conjunction/disjunction forms are rejected at create time.
func (t TTLType) SupportedOnDisk() bool {
	return t == AbsoluteTime || t == LatestTime
}

// CompareMode is one of the five seek comparison modes used by Get/Scan.
type CompareMode int

const (
	Eq CompareMode = iota
	Le
	Lt
	Ge
	Gt
)

// PartitionState is the tablet lifecycle state machine's current state.
type PartitionState int

const (
	StateNormal PartitionState = iota
	StateLoading
	StateMakingSnapshot
	StateSnapshotPaused
)

func (s PartitionState) String() string {
	switch s {
	case StateNormal:
		return "kTableNormal"
	case StateLoading:
		return "kTableLoading"
	case StateMakingSnapshot:
		return "kMakingSnapshot"
	case StateSnapshotPaused:
		return "kSnapshotPaused"
	default:
		return "kUnknown"
	}
}

// TaskStatus is the state of a long-running background operation.
type TaskStatus int

const (
	TaskDoing TaskStatus = iota
	TaskDone
	TaskFailed
)

func (s TaskStatus) String() string {
	switch s {
	case TaskDoing:
		return "kDoing"
	case TaskDone:
		return "kDone"
	case TaskFailed:
		return "kFailed"
	default:
		return "kUnknown"
	}
}

// Op is a binlog entry's mutation kind.
type Op int

const (
	OpPut Op = iota
	OpDelete
)

// PartitionKey identifies a partition uniquely within a tablet.
type PartitionKey struct {
	TID TID
	PID PID
}
