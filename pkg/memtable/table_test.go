package memtable

import (
	"errors"
	"testing"
	"time"

	"tabletdb/pkg/binlog"
	"tabletdb/pkg/dberrors"
	"tabletdb/pkg/schema"
	"tabletdb/pkg/snapshot"
	"tabletdb/pkg/types"
)

func oneIndexMeta() *schema.TableMeta {
	return &schema.TableMeta{
		Name: "t1",
		Columns: []schema.ColumnDesc{
			{Name: "pk", Type: types.ColString},
			{Name: "ts", Type: types.ColInt64, IsTsCol: true},
			{Name: "val", Type: types.ColString},
		},
		Indexes: []schema.IndexDesc{
			{IndexName: "idx0", KeyColumns: []string{"pk"}, TsColumns: []string{"ts"}},
		},
	}
}

func TestTable_PutGet(t *testing.T) {
	tbl := New(oneIndexMeta())

	err := tbl.Put(
		[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
		[]binlog.TsDimension{{TsName: "ts", Ts: 100}},
		[]byte("v1"),
	)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	e, err := tbl.Get("idx0", []byte("k1"), "ts", types.ScanRange{St: 100, StType: types.Eq})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(e.Value) != "v1" {
		t.Fatalf("expected v1, got %s", e.Value)
	}

	if _, err := tbl.Get("idx0", []byte("missing"), "ts", types.ScanRange{St: 100, StType: types.Eq}); err == nil {
		t.Fatal("expected ErrKeyNotFound for missing key")
	}
}

func TestTable_ScanNewestFirst(t *testing.T) {
	tbl := New(oneIndexMeta())
	for _, ts := range []uint64{10, 30, 20} {
		if err := tbl.Put(
			[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
			[]binlog.TsDimension{{TsName: "ts", Ts: ts}},
			[]byte("v"),
		); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	entries, err := tbl.Scan("idx0", []byte("k1"), "ts", types.ScanRange{St: 30, StType: types.Le})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Ts != 30 || entries[1].Ts != 20 || entries[2].Ts != 10 {
		t.Fatalf("expected descending ts order, got %v", entries)
	}
}

func TestTable_ScanRespectsLimit(t *testing.T) {
	tbl := New(oneIndexMeta())
	for _, ts := range []uint64{1, 2, 3, 4, 5} {
		_ = tbl.Put(
			[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
			[]binlog.TsDimension{{TsName: "ts", Ts: ts}},
			[]byte("v"),
		)
	}

	entries, err := tbl.Scan("idx0", []byte("k1"), "ts", types.ScanRange{St: 5, StType: types.Le, Limit: 2})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries due to limit, got %d", len(entries))
	}
}

func TestTable_Delete(t *testing.T) {
	tbl := New(oneIndexMeta())
	_ = tbl.Put(
		[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
		[]binlog.TsDimension{{TsName: "ts", Ts: 1}},
		[]byte("v"),
	)

	if err := tbl.Delete("idx0", []byte("k1")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := tbl.Get("idx0", []byte("k1"), "ts", types.ScanRange{St: 1, StType: types.Eq}); err == nil {
		t.Fatal("expected key to be gone after Delete")
	}
}

func TestTable_SchedGcLatestTime(t *testing.T) {
	meta := oneIndexMeta()
	meta.TTL = &schema.TTLDesc{TTLType: types.LatestTime, LatTTL: 2}
	tbl := New(meta)

	for _, ts := range []uint64{1, 2, 3, 4} {
		_ = tbl.Put(
			[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
			[]binlog.TsDimension{{TsName: "ts", Ts: ts}},
			[]byte("v"),
		)
	}

	tbl.SchedGc(time.Now())

	entries, err := tbl.Scan("idx0", []byte("k1"), "ts", types.ScanRange{St: 4, StType: types.Le})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected latest-time TTL to keep 2 entries, got %d", len(entries))
	}
	if entries[0].Ts != 4 || entries[1].Ts != 3 {
		t.Fatalf("expected to keep the 2 newest entries, got %v", entries)
	}
}

func TestTable_TraverseAndLoadRecordRoundTrip(t *testing.T) {
	src := New(oneIndexMeta())
	_ = src.Put(
		[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
		[]binlog.TsDimension{{TsName: "ts", Ts: 7}},
		[]byte("v7"),
	)

	var recs []snapshot.Record
	if err := src.Traverse(func(r snapshot.Record) error {
		recs = append(recs, r)
		return nil
	}); err != nil {
		t.Fatalf("Traverse failed: %v", err)
	}
	if len(recs) != 1 || string(recs[0].PK) != "k1" || string(recs[0].Value) != "v7" {
		t.Fatalf("unexpected traversed records: %+v", recs)
	}

	dst := New(oneIndexMeta())
	for _, r := range recs {
		if err := dst.LoadRecord(r); err != nil {
			t.Fatalf("LoadRecord failed: %v", err)
		}
	}

	e, err := dst.Get("idx0", []byte("k1"), "ts", types.ScanRange{St: 7, StType: types.Eq})
	if err != nil {
		t.Fatalf("Get after LoadRecord failed: %v", err)
	}
	if string(e.Value) != "v7" {
		t.Fatalf("expected v7 after round trip, got %s", e.Value)
	}
}

func TestTable_ScanEndBoundStopsEarly(t *testing.T) {
	tbl := New(oneIndexMeta())
	for _, ts := range []uint64{10, 20, 30, 40} {
		_ = tbl.Put(
			[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
			[]binlog.TsDimension{{TsName: "ts", Ts: ts}},
			[]byte("v"),
		)
	}

	entries, err := tbl.Scan("idx0", []byte("k1"), "ts", types.ScanRange{St: 40, StType: types.Le, Et: 20, EtType: types.Ge})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected et=20/Ge to keep 3 entries (40,30,20), got %d: %v", len(entries), entries)
	}
	if entries[len(entries)-1].Ts != 20 {
		t.Fatalf("expected the last entry to stop at the end bound, got %v", entries)
	}
}

func TestTable_ScanRejectsStLessThanEt(t *testing.T) {
	tbl := New(oneIndexMeta())
	_ = tbl.Put(
		[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
		[]binlog.TsDimension{{TsName: "ts", Ts: 10}},
		[]byte("v"),
	)

	_, err := tbl.Scan("idx0", []byte("k1"), "ts", types.ScanRange{St: 5, StType: types.Le, Et: 20, EtType: types.Ge})
	if !errors.Is(err, dberrors.ErrStLessThanEt) {
		t.Fatalf("expected ErrStLessThanEt for st<et, got %v", err)
	}
}

func TestTable_ScanAbortsOnMaxBytesSize(t *testing.T) {
	tbl := New(oneIndexMeta())
	for _, ts := range []uint64{1, 2, 3} {
		_ = tbl.Put(
			[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
			[]binlog.TsDimension{{TsName: "ts", Ts: ts}},
			[]byte("0123456789"),
		)
	}

	_, err := tbl.Scan("idx0", []byte("k1"), "ts", types.ScanRange{St: 3, StType: types.Le, MaxBytesSize: 15})
	if !errors.Is(err, dberrors.ErrReacheTheScanMaxBytesSize) {
		t.Fatalf("expected ErrReacheTheScanMaxBytesSize, got %v", err)
	}
}
