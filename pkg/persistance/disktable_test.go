package persistance

import (
	"errors"
	"os"
	"testing"
	"time"

	"tabletdb/pkg/binlog"
	"tabletdb/pkg/dberrors"
	"tabletdb/pkg/schema"
	"tabletdb/pkg/snapshot"
	"tabletdb/pkg/types"
)

func oneIndexDiskMeta() *schema.TableMeta {
	return &schema.TableMeta{
		Name: "d1",
		Columns: []schema.ColumnDesc{
			{Name: "pk", Type: types.ColString},
			{Name: "ts", Type: types.ColInt64, IsTsCol: true},
			{Name: "val", Type: types.ColString},
		},
		Indexes: []schema.IndexDesc{
			{IndexName: "idx0", KeyColumns: []string{"pk"}, TsColumns: []string{"ts"}},
		},
		StorageMode: types.StorageSSD,
	}
}

func openTestDiskTable(t *testing.T, meta *schema.TableMeta) *DiskTable {
	t.Helper()
	dir, err := os.MkdirTemp("", "disktable-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	dt, err := Open(dir, meta)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return dt
}

func TestDiskTable_PutGetBeforeFlush(t *testing.T) {
	dt := openTestDiskTable(t, oneIndexDiskMeta())

	err := dt.Put(
		[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
		[]binlog.TsDimension{{TsName: "ts", Ts: 100}},
		[]byte("v1"),
	)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	e, err := dt.Get("idx0", []byte("k1"), types.ScanRange{St: 100, StType: types.Eq})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(e.Value) != "v1" {
		t.Fatalf("expected v1, got %s", e.Value)
	}
}

func TestDiskTable_FlushPersistsAcrossReopen(t *testing.T) {
	dir, err := os.MkdirTemp("", "disktable-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	defer os.RemoveAll(dir)

	meta := oneIndexDiskMeta()
	dt, err := Open(dir, meta)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := dt.Put(
		[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
		[]binlog.TsDimension{{TsName: "ts", Ts: 10}},
		[]byte("flushed-value"),
	); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := dt.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	reopened, err := Open(dir, meta)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	e, err := reopened.Get("idx0", []byte("k1"), types.ScanRange{St: 10, StType: types.Eq})
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(e.Value) != "flushed-value" {
		t.Fatalf("expected flushed-value after reopen, got %s", e.Value)
	}
}

func TestDiskTable_ScanNewestFirstAcrossMemAndFlushed(t *testing.T) {
	dt := openTestDiskTable(t, oneIndexDiskMeta())

	put := func(ts uint64) {
		if err := dt.Put(
			[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
			[]binlog.TsDimension{{TsName: "ts", Ts: ts}},
			[]byte("v"),
		); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	put(10)
	put(20)
	if err := dt.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	put(30) // stays buffered

	entries, err := dt.Scan("idx0", []byte("k1"), types.ScanRange{St: 30, StType: types.Le})
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

func TestDiskTable_Delete(t *testing.T) {
	dt := openTestDiskTable(t, oneIndexDiskMeta())
	if err := dt.Put(
		[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
		[]binlog.TsDimension{{TsName: "ts", Ts: 1}},
		[]byte("v"),
	); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := dt.Delete("idx0", []byte("k1")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := dt.Get("idx0", []byte("k1"), types.ScanRange{St: 1, StType: types.Eq}); err == nil {
		t.Fatal("expected key to be gone after Delete")
	}
}

func TestDiskTable_SchedGcLatestTime(t *testing.T) {
	meta := oneIndexDiskMeta()
	meta.TTL = &schema.TTLDesc{TTLType: types.LatestTime, LatTTL: 2}
	dt := openTestDiskTable(t, meta)

	for _, ts := range []uint64{1, 2, 3, 4} {
		if err := dt.Put(
			[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
			[]binlog.TsDimension{{TsName: "ts", Ts: ts}},
			[]byte("v"),
		); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if err := dt.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if err := dt.SchedGc(time.Now()); err != nil {
		t.Fatalf("SchedGc failed: %v", err)
	}

	entries, err := dt.Scan("idx0", []byte("k1"), types.ScanRange{St: 4, StType: types.Le})
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

func TestDiskTable_TraverseAndLoadRecordRoundTrip(t *testing.T) {
	src := openTestDiskTable(t, oneIndexDiskMeta())
	if err := src.Put(
		[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
		[]binlog.TsDimension{{TsName: "ts", Ts: 7}},
		[]byte("v7"),
	); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := src.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

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

	dst := openTestDiskTable(t, oneIndexDiskMeta())
	for _, r := range recs {
		if err := dst.LoadRecord(r); err != nil {
			t.Fatalf("LoadRecord failed: %v", err)
		}
	}

	e, err := dst.Get("idx0", []byte("k1"), types.ScanRange{St: 7, StType: types.Eq})
	if err != nil {
		t.Fatalf("Get after LoadRecord failed: %v", err)
	}
	if string(e.Value) != "v7" {
		t.Fatalf("expected v7 after round trip, got %s", e.Value)
	}
}

func TestDiskTable_ScanEndBoundStopsEarly(t *testing.T) {
	dt := openTestDiskTable(t, oneIndexDiskMeta())
	for _, ts := range []uint64{10, 20, 30, 40} {
		if err := dt.Put(
			[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
			[]binlog.TsDimension{{TsName: "ts", Ts: ts}},
			[]byte("v"),
		); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	entries, err := dt.Scan("idx0", []byte("k1"), types.ScanRange{St: 40, StType: types.Le, Et: 20, EtType: types.Ge})
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

func TestDiskTable_ScanRejectsStLessThanEt(t *testing.T) {
	dt := openTestDiskTable(t, oneIndexDiskMeta())
	if err := dt.Put(
		[]binlog.Dimension{{IndexName: "idx0", Key: []byte("k1")}},
		[]binlog.TsDimension{{TsName: "ts", Ts: 10}},
		[]byte("v"),
	); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	_, err := dt.Scan("idx0", []byte("k1"), types.ScanRange{St: 5, StType: types.Le, Et: 20, EtType: types.Ge})
	if !errors.Is(err, dberrors.ErrStLessThanEt) {
		t.Fatalf("expected ErrStLessThanEt for st<et, got %v", err)
	}
}
