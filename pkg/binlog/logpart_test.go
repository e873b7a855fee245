package binlog

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"tabletdb/pkg/types"
)

func openTestLogPart(t *testing.T) *LogPart {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "binlog")
	lp, err := Open(dir, 1<<20, true)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	lp.Start(context.Background())
	t.Cleanup(lp.Close)
	return lp
}

func waitDone(t *testing.T, lp *LogPart, want types.Offset) {
	t.Helper()
	select {
	case got := <-lp.Done():
		if got != want {
			t.Fatalf("expected offset %d acked, got %d", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for append ack")
	}
}

func TestLogPart_AppendAndReplay(t *testing.T) {
	lp := openTestLogPart(t)

	entries := []LogEntry{
		{Op: types.OpPut, PK: []byte("pk1"), Value: []byte("v1"), Dimensions: []Dimension{{IndexName: "idx0", Key: []byte("pk1")}}},
		{Op: types.OpPut, PK: []byte("pk2"), Value: []byte("v2"), TsDimensions: []TsDimension{{TsName: "ts1", Ts: 42}}},
		{Op: types.OpDelete, PK: []byte("pk1")},
	}

	for i, e := range entries {
		off := lp.Append(e)
		if off != types.Offset(i+1) {
			t.Fatalf("expected offset %d, got %d", i+1, off)
		}
		waitDone(t, lp, off)
	}

	rd, err := lp.Reader(1)
	if err != nil {
		t.Fatalf("Reader failed: %v", err)
	}
	defer rd.Close()

	var got []LogEntry
	for {
		e, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		got = append(got, e)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 replayed entries, got %d", len(got))
	}
	if string(got[0].PK) != "pk1" || string(got[0].Value) != "v1" {
		t.Fatalf("unexpected first entry: %+v", got[0])
	}
	if got[1].TsDimensions[0].Ts != 42 {
		t.Fatalf("expected ts dimension to round-trip, got %+v", got[1].TsDimensions)
	}
	if got[2].Op != types.OpDelete {
		t.Fatalf("expected delete op, got %v", got[2].Op)
	}
}

func TestLogPart_ReaderSkipsBeforeFromOffset(t *testing.T) {
	lp := openTestLogPart(t)

	for i := 0; i < 5; i++ {
		off := lp.Append(LogEntry{Op: types.OpPut, PK: []byte("k"), Value: []byte("v")})
		waitDone(t, lp, off)
	}

	rd, err := lp.Reader(4)
	if err != nil {
		t.Fatalf("Reader failed: %v", err)
	}
	defer rd.Close()

	e, err := rd.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if e.Offset != 4 {
		t.Fatalf("expected first replayed offset to be 4, got %d", e.Offset)
	}
}

func TestLogPart_TruncateBeforeKeepsTailSegment(t *testing.T) {
	lp := openTestLogPart(t)

	var last types.Offset
	for i := 0; i < 3; i++ {
		last = lp.Append(LogEntry{Op: types.OpPut, PK: []byte("k"), Value: []byte("v")})
		waitDone(t, lp, last)
	}

	if err := lp.TruncateBefore(last); err != nil {
		t.Fatalf("TruncateBefore failed: %v", err)
	}

	rd, err := lp.Reader(1)
	if err != nil {
		t.Fatalf("Reader failed: %v", err)
	}
	defer rd.Close()

	if _, err := rd.Next(); err != nil && err != io.EOF {
		t.Fatalf("Next failed: %v", err)
	}
}
