// Package snapshot builds and recovers from point-in-time dumps of a
// partition's table: a MANIFEST file describing the dump plus a data file
// holding every live record as of some binlog offset.
package snapshot

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"tabletdb/pkg/types"
)

const manifestName = "MANIFEST"

// Manifest records what a snapshot file contains, rendered as a flat
// key=value text file per spec.md §6 ("MANIFEST — text protobuf
// {offset, term, name, count}"), the same key=value-per-line shape as
// table_meta.txt (schema.WriteFile/ReadFile).
type Manifest struct {
	Name   string
	Offset types.Offset
	Term   types.Term
	Count  uint64
}

// LoadManifest reads dir/MANIFEST, returning (nil, nil) if it is absent —
// a fresh partition has no snapshot yet.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, manifestName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot manifest: %w", err)
	}
	defer f.Close()

	var m Manifest
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		switch k {
		case "name":
			m.Name = v
		case "offset":
			n, _ := strconv.ParseUint(v, 10, 64)
			m.Offset = types.Offset(n)
		case "term":
			n, _ := strconv.ParseUint(v, 10, 64)
			m.Term = types.Term(n)
		case "count":
			n, _ := strconv.ParseUint(v, 10, 64)
			m.Count = n
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parse snapshot manifest: %w", err)
	}
	return &m, nil
}

// saveManifest installs dir/MANIFEST atomically, same write-temp-then-rename
// discipline as the table_meta.txt writer.
func saveManifest(dir string, m Manifest) error {
	path := filepath.Join(dir, manifestName)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp snapshot manifest: %w", err)
	}

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "name: %s\n", m.Name)
	fmt.Fprintf(w, "offset: %d\n", m.Offset)
	fmt.Fprintf(w, "term: %d\n", m.Term)
	fmt.Fprintf(w, "count: %d\n", m.Count)
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush snapshot manifest: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync snapshot manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot manifest: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot manifest: %w", err)
	}
	return nil
}
