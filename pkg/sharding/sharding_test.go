package sharding

import (
	"testing"

	"tabletdb/pkg/types"
)

func TestRootFor_Deterministic(t *testing.T) {
	sel, err := NewRootSelector([]string{"/data/a", "/data/b", "/data/c"})
	if err != nil {
		t.Fatalf("NewRootSelector failed: %v", err)
	}

	r1 := sel.RootFor(types.TID(7), types.PID(3))
	r2 := sel.RootFor(types.TID(7), types.PID(3))
	if r1 != r2 {
		t.Fatalf("expected deterministic root, got %s then %s", r1, r2)
	}

	found := false
	for _, r := range sel.Roots() {
		if r == r1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("root %s not among configured roots", r1)
	}
}

func TestRootFor_SpreadsAcrossRoots(t *testing.T) {
	sel, _ := NewRootSelector([]string{"/data/a", "/data/b", "/data/c", "/data/d"})

	seen := make(map[string]bool)
	for pid := 0; pid < 64; pid++ {
		seen[sel.RootFor(types.TID(1), types.PID(pid))] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected roots to spread across multiple paths, got %v", seen)
	}
}

func TestNewRootSelector_RejectsEmpty(t *testing.T) {
	if _, err := NewRootSelector(nil); err == nil {
		t.Fatal("expected error for empty roots list")
	}
}
