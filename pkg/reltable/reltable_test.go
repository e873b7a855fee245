package reltable

import (
	"testing"

	"tabletdb/pkg/binlog"
	"tabletdb/pkg/schema"
	"tabletdb/pkg/snapshot"
	"tabletdb/pkg/types"
)

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

func TestTable_PutGetUpdateDelete(t *testing.T) {
	tbl := New(relMeta())

	if err := tbl.Put([]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}}, []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	v, err := tbl.Get("idx0", []byte("k1"))
	if err != nil || string(v) != "v1" {
		t.Fatalf("Get failed: v=%s err=%v", v, err)
	}

	if err := tbl.Update("idx0", []byte("k1"), []byte("v2")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	v, _ = tbl.Get("idx0", []byte("k1"))
	if string(v) != "v2" {
		t.Fatalf("expected v2 after Update, got %s", v)
	}

	if err := tbl.Delete("idx0", []byte("k1")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := tbl.Get("idx0", []byte("k1")); err == nil {
		t.Fatal("expected key gone after Delete")
	}
}

func TestTable_TraverseOrder(t *testing.T) {
	tbl := New(relMeta())
	for _, k := range []string{"b", "a", "c"} {
		if err := tbl.Put([]binlog.Dimension{{IndexName: "idx0", Key: []byte(k)}}, []byte("v-"+k)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	var seen []string
	if err := tbl.Traverse("idx0", func(pk, value []byte) error {
		seen = append(seen, string(pk))
		return nil
	}); err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	if len(seen) != 3 || seen[0] != "a" || seen[1] != "b" || seen[2] != "c" {
		t.Fatalf("expected key-ordered traversal, got %v", seen)
	}
}

func TestSnapshotSource_TraverseAndLoadRecordRoundTrip(t *testing.T) {
	src := New(relMeta())
	if err := src.Put([]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}}, []byte("v7")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var recs []snapshot.Record
	if err := (SnapshotSource{src}).Traverse(func(r snapshot.Record) error {
		recs = append(recs, r)
		return nil
	}); err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	if len(recs) != 1 || string(recs[0].PK) != "k1" {
		t.Fatalf("unexpected traversed records: %+v", recs)
	}

	dst := New(relMeta())
	for _, r := range recs {
		if err := dst.LoadRecord(r); err != nil {
			t.Fatalf("LoadRecord failed: %v", err)
		}
	}
	v, err := dst.Get("idx0", []byte("k1"))
	if err != nil || string(v) != "v7" {
		t.Fatalf("Get after LoadRecord failed: v=%s err=%v", v, err)
	}
}
