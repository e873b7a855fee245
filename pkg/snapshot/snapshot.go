package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"tabletdb/pkg/binlog"
	"tabletdb/pkg/encoding/custom"
	"tabletdb/pkg/types"
)

// Record is one live row as dumped into a snapshot file: a PK, the
// dimension/ts-dimension set it is indexed under, and its value.
type Record struct {
	PK           []byte
	Value        []byte
	Dimensions   []binlog.Dimension
	TsDimensions []binlog.TsDimension
}

// Source is satisfied by a table implementation: it drives fn once per
// live record, in whatever order is convenient for the table.
type Source interface {
	Traverse(fn func(Record) error) error
}

// Sink is satisfied by a table implementation that can bulk-load a
// recovered snapshot before the binlog is replayed on top of it.
type Sink interface {
	LoadRecord(Record) error
}

const dataSuffix = ".data"

// MakeSnapshot drains src into a new dump file under dir named after
// endOffset and the current time, then atomically publishes the updated
// MANIFEST and removes the previous dump file. It returns the manifest
// written.
func MakeSnapshot(dir string, src Source, endOffset types.Offset, term types.Term) (Manifest, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Manifest{}, fmt.Errorf("create snapshot dir: %w", err)
	}

	prev, _ := LoadManifest(dir)

	name := fmt.Sprintf("snapshot-%020d-%d%s", endOffset, time.Now().UnixNano(), dataSuffix)
	tmpPath := filepath.Join(dir, name+".tmp")

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return Manifest{}, fmt.Errorf("create snapshot data file: %w", err)
	}

	w := bufio.NewWriter(f)
	var count uint64
	walkErr := src.Traverse(func(r Record) error {
		if err := writeRecord(w, r); err != nil {
			return err
		}
		count++
		return nil
	})
	if walkErr != nil {
		f.Close()
		os.Remove(tmpPath)
		return Manifest{}, fmt.Errorf("traverse table for snapshot: %w", walkErr)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return Manifest{}, fmt.Errorf("flush snapshot data: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return Manifest{}, fmt.Errorf("sync snapshot data: %w", err)
	}
	if err := f.Close(); err != nil {
		return Manifest{}, fmt.Errorf("close snapshot data: %w", err)
	}

	finalPath := filepath.Join(dir, name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return Manifest{}, fmt.Errorf("rename snapshot data: %w", err)
	}

	m := Manifest{Name: name, Offset: endOffset, Term: term, Count: count}
	if err := saveManifest(dir, m); err != nil {
		return Manifest{}, err
	}

	if prev != nil && prev.Name != "" && prev.Name != name {
		_ = os.Remove(filepath.Join(dir, prev.Name))
	}
	return m, nil
}

// Recover loads the most recent snapshot in dir into sink, returning the
// manifest so the caller knows which binlog offset to resume replay from.
// If no snapshot exists yet, it returns (nil, nil).
func Recover(dir string, sink Sink) (*Manifest, error) {
	m, err := LoadManifest(dir)
	if err != nil || m == nil {
		return m, err
	}

	path := filepath.Join(dir, m.Name)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot data: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		rec, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read snapshot record: %w", err)
		}
		if err := sink.LoadRecord(rec); err != nil {
			return nil, fmt.Errorf("load snapshot record: %w", err)
		}
	}
	return m, nil
}

func writeRecord(w *bufio.Writer, r Record) error {
	fields := []custom.Field{
		{Number: 1, Value: custom.Value{Type: custom.TypeString, String: string(r.PK)}},
		{Number: 2, Value: custom.Value{Type: custom.TypeString, String: string(r.Value)}},
	}
	if len(r.Dimensions) > 0 {
		dims := make([]custom.Value, 0, len(r.Dimensions))
		for _, d := range r.Dimensions {
			dims = append(dims, custom.Value{Type: custom.TypeMessage, Message: []custom.Field{
				{Number: 1, Value: custom.Value{Type: custom.TypeString, String: d.IndexName}},
				{Number: 2, Value: custom.Value{Type: custom.TypeString, String: string(d.Key)}},
			}})
		}
		fields = append(fields, custom.Field{Number: 3, Value: custom.Value{Type: custom.TypeList, List: dims}})
	}
	if len(r.TsDimensions) > 0 {
		tss := make([]custom.Value, 0, len(r.TsDimensions))
		for _, t := range r.TsDimensions {
			tss = append(tss, custom.Value{Type: custom.TypeMessage, Message: []custom.Field{
				{Number: 1, Value: custom.Value{Type: custom.TypeString, String: t.TsName}},
				{Number: 2, Value: custom.Value{Type: custom.TypeInt64, Int64: int64(t.Ts)}},
			}})
		}
		fields = append(fields, custom.Field{Number: 4, Value: custom.Value{Type: custom.TypeList, List: tss}})
	}

	payload, err := custom.Encode(custom.Value{Type: custom.TypeMessage, Message: fields})
	if err != nil {
		return fmt.Errorf("encode snapshot record: %w", err)
	}

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(payload)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func readRecord(r *bufio.Reader) (Record, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return Record{}, err
	}
	payload := make([]byte, binary.LittleEndian.Uint32(lenBuf))
	if _, err := io.ReadFull(r, payload); err != nil {
		return Record{}, err
	}

	v, _, err := custom.Decode(payload)
	if err != nil {
		return Record{}, fmt.Errorf("decode snapshot record: %w", err)
	}

	var rec Record
	for _, f := range v.Message {
		switch f.Number {
		case 1:
			rec.PK = []byte(f.Value.String)
		case 2:
			rec.Value = []byte(f.Value.String)
		case 3:
			for _, item := range f.Value.List {
				d := binlog.Dimension{}
				for _, sub := range item.Message {
					switch sub.Number {
					case 1:
						d.IndexName = sub.Value.String
					case 2:
						d.Key = []byte(sub.Value.String)
					}
				}
				rec.Dimensions = append(rec.Dimensions, d)
			}
		case 4:
			for _, item := range f.Value.List {
				t := binlog.TsDimension{}
				for _, sub := range item.Message {
					switch sub.Number {
					case 1:
						t.TsName = sub.Value.String
					case 2:
						t.Ts = uint64(sub.Value.Int64)
					}
				}
				rec.TsDimensions = append(rec.TsDimensions, t)
			}
		}
	}
	return rec, nil
}
