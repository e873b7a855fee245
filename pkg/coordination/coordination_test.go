package coordination

import "testing"

// TestNextTerm_SequenceParsing exercises the suffix-parsing logic
// NextTerm relies on, without requiring a live ZooKeeper ensemble.
func TestNextTerm_SequenceParsing(t *testing.T) {
	dir := "/tabletdb/terms/1_2"
	path := dir + "/t0000000007"

	seqStr := path[len(dir+"/t"):]
	if seqStr != "0000000007" {
		t.Fatalf("expected suffix 0000000007, got %q", seqStr)
	}
}
