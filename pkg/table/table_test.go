package table

import (
	"testing"
	"time"

	"tabletdb/pkg/binlog"
	"tabletdb/pkg/schema"
	"tabletdb/pkg/snapshot"
	"tabletdb/pkg/types"
)

func memMeta() *schema.TableMeta {
	return &schema.TableMeta{
		Name: "m1",
		Columns: []schema.ColumnDesc{
			{Name: "pk", Type: types.ColString},
			{Name: "ts", Type: types.ColTimestamp, IsTsCol: true},
			{Name: "val", Type: types.ColString},
		},
		Indexes:     []schema.IndexDesc{{IndexName: "idx0", KeyColumns: []string{"pk"}, TsColumns: []string{"ts"}}},
		TableType:   types.TableTimeSeries,
		StorageMode: types.StorageMemory,
	}
}

func diskMeta(dir string) *schema.TableMeta {
	m := memMeta()
	m.StorageMode = types.StorageSSD
	return m
}

func relMeta() *schema.TableMeta {
	return &schema.TableMeta{
		Name: "r1",
		Columns: []schema.ColumnDesc{
			{Name: "pk", Type: types.ColString},
			{Name: "val", Type: types.ColString},
		},
		Indexes:   []schema.IndexDesc{{IndexName: "idx0", KeyColumns: []string{"pk"}}},
		TableType: types.TableRelational,
	}
}

func TestOpen_MemoryVariant(t *testing.T) {
	tbl, err := Open("", memMeta())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if tbl.IsRelational() {
		t.Fatal("memory table misreported as relational")
	}

	dims := []binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}}
	tsDims := []binlog.TsDimension{{TsName: "ts", Ts: 100}}
	if err := tbl.Put(dims, tsDims, []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	e, err := tbl.Get("idx0", []byte("k1"), "ts", types.ScanRange{St: 100, StType: types.Eq})
	if err != nil || string(e.Value) != "v1" {
		t.Fatalf("Get failed: %+v err=%v", e, err)
	}
}

func TestOpen_DiskVariant(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(dir, diskMeta(dir))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	dims := []binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}}
	tsDims := []binlog.TsDimension{{TsName: "ts", Ts: 100}}
	if err := tbl.Put(dims, tsDims, []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := tbl.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	e, err := tbl.Get("idx0", []byte("k1"), "ts", types.ScanRange{St: 100, StType: types.Eq})
	if err != nil || string(e.Value) != "v1" {
		t.Fatalf("Get failed: %+v err=%v", e, err)
	}

	if err := tbl.SchedGc(time.Now()); err != nil {
		t.Fatalf("SchedGc failed: %v", err)
	}
}

func TestOpen_RelationalVariant(t *testing.T) {
	tbl, err := Open("", relMeta())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !tbl.IsRelational() {
		t.Fatal("relational table misreported as non-relational")
	}

	dims := []binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}}
	if err := tbl.Put(dims, nil, []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	v, err := tbl.Get("idx0", []byte("k1"), "", types.ScanRange{StType: types.Eq})
	if err != nil || string(v.Value) != "v1" {
		t.Fatalf("Get failed: %+v err=%v", v, err)
	}

	if err := tbl.Update("idx0", []byte("k1"), []byte("v2")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	v, _ = tbl.Get("idx0", []byte("k1"), "", types.ScanRange{StType: types.Eq})
	if string(v.Value) != "v2" {
		t.Fatalf("expected v2 after Update, got %s", v.Value)
	}

	if _, err := tbl.Scan("idx0", []byte("k1"), "", types.ScanRange{StType: types.Eq, Limit: 10}); err == nil {
		t.Fatal("expected Scan to be rejected on relational tables")
	}
}

func TestSourceAndSink_RoundTrip(t *testing.T) {
	src, _ := Open("", relMeta())
	dims := []binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}}
	if err := src.Put(dims, nil, []byte("v7")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	dst, _ := Open("", relMeta())
	var recs []snapshot.Record
	if err := src.Source().Traverse(func(r snapshot.Record) error {
		recs = append(recs, r)
		return nil
	}); err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}

	sink := dst.Sink()
	for _, r := range recs {
		if err := sink.LoadRecord(r); err != nil {
			t.Fatalf("LoadRecord failed: %v", err)
		}
	}

	v, err := dst.Get("idx0", []byte("k1"), "", types.ScanRange{StType: types.Eq})
	if err != nil || string(v.Value) != "v7" {
		t.Fatalf("Get after LoadRecord failed: %+v err=%v", v, err)
	}
}
