package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"tabletdb/pkg/binlog"
)

type fakeSource struct {
	records []Record
}

func (s *fakeSource) Traverse(fn func(Record) error) error {
	for _, r := range s.records {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

type fakeSink struct {
	loaded []Record
}

func (s *fakeSink) LoadRecord(r Record) error {
	s.loaded = append(s.loaded, r)
	return nil
}

func TestMakeSnapshotAndRecover(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{records: []Record{
		{PK: []byte("pk1"), Value: []byte("v1"), Dimensions: []binlog.Dimension{{IndexName: "idx0", Key: []byte("pk1")}}},
		{PK: []byte("pk2"), Value: []byte("v2"), TsDimensions: []binlog.TsDimension{{TsName: "ts1", Ts: 100}}},
	}}

	m, err := MakeSnapshot(dir, src, 42, 1)
	if err != nil {
		t.Fatalf("MakeSnapshot failed: %v", err)
	}
	if m.Count != 2 || m.Offset != 42 {
		t.Fatalf("unexpected manifest: %+v", m)
	}

	loaded, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if loaded == nil || loaded.Name != m.Name {
		t.Fatalf("expected manifest to round-trip, got %+v", loaded)
	}

	sink := &fakeSink{}
	recovered, err := Recover(dir, sink)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if recovered.Count != 2 {
		t.Fatalf("expected recovered manifest count 2, got %d", recovered.Count)
	}
	if len(sink.loaded) != 2 {
		t.Fatalf("expected 2 records loaded, got %d", len(sink.loaded))
	}
	if string(sink.loaded[1].TsDimensions[0].TsName) != "ts1" || sink.loaded[1].TsDimensions[0].Ts != 100 {
		t.Fatalf("unexpected ts dimension after recover: %+v", sink.loaded[1].TsDimensions)
	}
}

func TestMakeSnapshotReplacesPrevious(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{records: []Record{{PK: []byte("a"), Value: []byte("1")}}}

	first, err := MakeSnapshot(dir, src, 10, 1)
	if err != nil {
		t.Fatalf("first MakeSnapshot failed: %v", err)
	}

	second, err := MakeSnapshot(dir, src, 20, 1)
	if err != nil {
		t.Fatalf("second MakeSnapshot failed: %v", err)
	}
	if second.Name == first.Name {
		t.Fatalf("expected distinct snapshot file names")
	}

	loaded, err := LoadManifest(filepath.Dir(filepath.Join(dir, first.Name)))
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if loaded == nil || loaded.Name != second.Name {
		t.Fatalf("expected manifest to name the second snapshot, got %+v", loaded)
	}
	if _, err := os.Stat(filepath.Join(dir, first.Name)); !os.IsNotExist(err) {
		t.Fatalf("expected first snapshot file to be removed, stat err: %v", err)
	}
}
