package iterator

import (
	"testing"

	"tabletdb/pkg/types"
)

func TestSliceIterator_SeekAndWalk(t *testing.T) {
	entries := []Entry{{Ts: 30, Value: []byte("v30")}, {Ts: 20, Value: []byte("v20")}, {Ts: 10, Value: []byte("v10")}}
	it := NewSliceIterator(entries)

	it.Seek(25)
	if !it.Valid() || it.Key() != 20 {
		t.Fatalf("expected seek(25) to land on ts=20, got valid=%v key=%d", it.Valid(), it.Key())
	}

	it.Next()
	if !it.Valid() || it.Key() != 10 {
		t.Fatalf("expected next to land on ts=10, got valid=%v key=%d", it.Valid(), it.Key())
	}

	it.Next()
	if it.Valid() {
		t.Fatal("expected iterator to be exhausted")
	}
}

func TestTraverseIterator_SeekPK(t *testing.T) {
	entries := []TraverseEntry{
		{PK: []byte("a"), Value: []byte("va")},
		{PK: []byte("b"), Value: []byte("vb")},
		{PK: []byte("c"), Value: []byte("vc")},
	}
	it := NewTraverseIterator(entries, 0)

	it.SeekPK([]byte("b"))
	if !it.Valid() || string(it.PK()) != "b" {
		t.Fatalf("expected SeekPK(b) to land on b, got %s", it.PK())
	}
}

func TestTraverseIterator_LimitTruncates(t *testing.T) {
	entries := []TraverseEntry{{PK: []byte("a")}, {PK: []byte("b")}, {PK: []byte("c")}}
	it := NewTraverseIterator(entries, 2)
	it.SeekToFirst()

	count := 0
	for it.Valid() {
		count++
		it.Next()
	}
	if count != 2 {
		t.Fatalf("expected limit to truncate to 2 entries, got %d", count)
	}
	if !it.IsFinish() {
		t.Fatal("expected IsFinish after exhausting truncated entries")
	}
}

func TestApplyCompareMode(t *testing.T) {
	entries := []Entry{{Ts: 30}, {Ts: 20}, {Ts: 10}}
	out := ApplyCompareMode(entries, types.Le, 20)
	if len(out) != 2 || out[0].Ts != 20 || out[1].Ts != 10 {
		t.Fatalf("unexpected Le filter result: %v", out)
	}

	out = ApplyCompareMode(entries, types.Gt, 10)
	if len(out) != 2 || out[0].Ts != 30 || out[1].Ts != 20 {
		t.Fatalf("unexpected Gt filter result: %v", out)
	}
}
