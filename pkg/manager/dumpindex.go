package manager

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"tabletdb/pkg/encoding/custom"
	"tabletdb/pkg/sharding"
	"tabletdb/pkg/snapshot"
	"tabletdb/pkg/types"
)

// DumpIndexSpec describes an offline index rebuild: which existing
// dimension to read the new index's key from, and how many output
// shards to hash records into.
type DumpIndexSpec struct {
	NewIndexName    string
	SourceIndexName string // dimension/ts-dimension name the new key is read from; falls back to PK when absent on a record
	PartitionNum    int
}

// DumpIndexData rebuilds indexName offline by traversing a partition's
// current table state (snapshot plus replayed binlog, since that's
// exactly what the live Table already holds) and hashing each record's
// new index key into one of spec.PartitionNum output log files under
// <dir>/index/<pid>_<n>_index.data, per spec.md §4.5. Returns the op_id
// to poll via GetTaskStatus.
func (m *Manager) DumpIndexData(tid types.TID, pid types.PID, spec DumpIndexSpec) (string, error) {
	p, err := m.get(tid, pid)
	if err != nil {
		return "", err
	}
	if spec.PartitionNum <= 0 {
		return "", fmt.Errorf("DumpIndexData: partition_num must be positive")
	}

	outDir := filepath.Join(p.Dir(), "index")
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return "", fmt.Errorf("create index output dir: %w", err)
	}

	opID := uuid.NewString()
	m.runTask(opID, "DumpIndexData", func() error {
		return m.doDumpIndexData(p.Table(), outDir, pid, spec, p.SnapshotOffset())
	})
	return opID, nil
}

func (m *Manager) doDumpIndexData(tbl tableTraverser, outDir string, pid types.PID, spec DumpIndexSpec, offset types.Offset) error {
	writers := make([]*bufio.Writer, spec.PartitionNum)
	files := make([]*os.File, spec.PartitionNum)
	for i := range writers {
		path := filepath.Join(outDir, fmt.Sprintf("%d_%d_index.data", pid, i))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			for j := 0; j < i; j++ {
				files[j].Close()
			}
			return fmt.Errorf("open index shard %d: %w", i, err)
		}
		files[i] = f
		writers[i] = bufio.NewWriter(f)
	}
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	walkErr := tbl.Traverse(func(r snapshot.Record) error {
		key := indexKeyFor(r, spec.SourceIndexName)
		shard := int(sharding.Hash64(string(key)) % uint64(spec.PartitionNum))
		return writeIndexRecord(writers[shard], key, r.PK, r.Value)
	})

	for i, w := range writers {
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush index shard %d: %w", i, err)
		}
		if err := files[i].Sync(); err != nil {
			return fmt.Errorf("sync index shard %d: %w", i, err)
		}
	}
	if walkErr != nil {
		return fmt.Errorf("traverse table for index dump: %w", walkErr)
	}

	return writeIndexMarker(outDir, pid, spec.NewIndexName, offset)
}

// tableTraverser is the subset of *table.Table DumpIndexData needs.
type tableTraverser interface {
	Traverse(fn func(snapshot.Record) error) error
}

// indexKeyFor extracts the new index's key from a record's existing
// dimension/ts-dimension set by name, falling back to PK when
// sourceIndex isn't present — the record predates the column the new
// index is built from.
func indexKeyFor(r snapshot.Record, sourceIndex string) []byte {
	for _, d := range r.Dimensions {
		if d.IndexName == sourceIndex {
			return d.Key
		}
	}
	for _, t := range r.TsDimensions {
		if t.TsName == sourceIndex {
			b := make([]byte, 8)
			binary.LittleEndian.PutUint64(b, t.Ts)
			return b
		}
	}
	return r.PK
}

func writeIndexRecord(w *bufio.Writer, key, pk, value []byte) error {
	payload, err := custom.Encode(custom.Value{Type: custom.TypeMessage, Message: []custom.Field{
		{Number: 1, Value: custom.Value{Type: custom.TypeString, String: string(key)}},
		{Number: 2, Value: custom.Value{Type: custom.TypeString, String: string(pk)}},
		{Number: 3, Value: custom.Value{Type: custom.TypeString, String: string(value)}},
	}})
	if err != nil {
		return fmt.Errorf("encode index record: %w", err)
	}
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(payload)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// writeIndexMarker records the binlog offset this dump reached so a
// follow-up load can deduplicate against entries already covered,
// written atomically alongside the shard files.
func writeIndexMarker(outDir string, pid types.PID, indexName string, offset types.Offset) error {
	path := filepath.Join(outDir, fmt.Sprintf("%d_%s.marker", pid, indexName))
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create index marker: %w", err)
	}
	if _, err := fmt.Fprintf(f, "offset: %d\n", offset); err != nil {
		f.Close()
		return fmt.Errorf("write index marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync index marker: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close index marker: %w", err)
	}
	return os.Rename(tmp, path)
}
