package manager

import (
	"sync"
	"time"
)

// TaskStatus is a long-running operation's lifecycle state, per spec.md
// §5's "no mid-task cancellation" model.
type TaskStatus int

const (
	TaskDoing TaskStatus = iota
	TaskDone
	TaskFailed
)

func (s TaskStatus) String() string {
	switch s {
	case TaskDoing:
		return "Doing"
	case TaskDone:
		return "Done"
	case TaskFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// TaskInfo records the outcome of one long-running operation
// (send-snapshot, dump-index-data).
type TaskInfo struct {
	OpID      string
	Kind      string
	Status    TaskStatus
	Err       string
	StartedAt time.Time
	EndedAt   time.Time
}

// taskTable is the per-node op_id -> TaskInfo registry spec.md §5
// guards with a standard mutex (not the map's own spin lock, since
// tasks come and go far less often than partition lookups).
type taskTable struct {
	mu    sync.Mutex
	tasks map[string]*TaskInfo
}

func newTaskTable() *taskTable {
	return &taskTable{tasks: make(map[string]*TaskInfo)}
}

func (t *taskTable) start(opID, kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[opID] = &TaskInfo{OpID: opID, Kind: kind, Status: TaskDoing, StartedAt: time.Now()}
}

func (t *taskTable) finish(opID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.tasks[opID]
	if !ok {
		return
	}
	info.EndedAt = time.Now()
	if err != nil {
		info.Status = TaskFailed
		info.Err = err.Error()
		return
	}
	info.Status = TaskDone
}

func (t *taskTable) get(opID string) (TaskInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.tasks[opID]
	if !ok {
		return TaskInfo{}, false
	}
	return *info, true
}

func (t *taskTable) delete(opID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tasks[opID]; !ok {
		return false
	}
	delete(t.tasks, opID)
	return true
}

// GetTaskStatus reports opID's TaskInfo, for the GetTaskStatus RPC.
func (m *Manager) GetTaskStatus(opID string) (TaskInfo, bool) {
	return m.tasks.get(opID)
}

// DeleteOPTask clears a completed task's bookkeeping entry.
func (m *Manager) DeleteOPTask(opID string) bool {
	return m.tasks.delete(opID)
}

// runTask executes fn in its own goroutine under a named TaskInfo,
// returning opID immediately, for spec.md §5's task_pool operations.
// Its callers are SendSnapshot and DumpIndexData; LoadTable, DropTable
// and DeleteBinlog run synchronously and record no TaskInfo.
func (m *Manager) runTask(opID, kind string, fn func() error) string {
	m.tasks.start(opID, kind)
	m.metrics.IncCounter("tabletdb_tasks_started", map[string]string{"kind": kind}, 1)
	go func() {
		err := fn()
		m.tasks.finish(opID, err)
		status := "done"
		if err != nil {
			status = "failed"
		}
		m.metrics.IncCounter("tabletdb_tasks_finished", map[string]string{"kind": kind, "status": status}, 1)
	}()
	return opID
}
