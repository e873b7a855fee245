package schema

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"tabletdb/pkg/types"
)

// WriteFile serializes tm as a flat key=value text file and installs it
// atomically (write to temp, rename); persistance.Manifest.save, by
// contrast, writes its JSON file in place.
func WriteFile(path string, tm *TableMeta) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create table meta dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp table meta: %w", err)
	}

	w := bufio.NewWriter(f)
	writeKV(w, tm)
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush table meta: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync table meta: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close table meta: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename table meta: %w", err)
	}
	return nil
}

func writeKV(w *bufio.Writer, tm *TableMeta) {
	fmt.Fprintf(w, "name: %s\n", tm.Name)
	fmt.Fprintf(w, "tid: %d\n", tm.TID)
	fmt.Fprintf(w, "pid: %d\n", tm.PID)
	fmt.Fprintf(w, "mode: %s\n", tm.Mode)
	fmt.Fprintf(w, "storage_mode: %s\n", tm.StorageMode)
	fmt.Fprintf(w, "table_type: %d\n", tm.TableType)
	fmt.Fprintf(w, "term: %d\n", tm.Term)

	for _, c := range tm.Columns {
		fmt.Fprintf(w, "column {\n  name: %s\n  type: %d\n  is_ts_col: %t\n", c.Name, c.Type, c.IsTsCol)
		if c.TTL != nil {
			fmt.Fprintf(w, "  ttl_abs: %d\n  ttl_lat: %d\n  ttl_type: %d\n", c.TTL.AbsTTL, c.TTL.LatTTL, c.TTL.TTLType)
		}
		fmt.Fprintf(w, "}\n")
	}
	for _, c := range tm.AddedColumns {
		fmt.Fprintf(w, "added_column_desc {\n  name: %s\n  type: %d\n  is_ts_col: %t\n}\n", c.Name, c.Type, c.IsTsCol)
	}
	for _, idx := range tm.Indexes {
		fmt.Fprintf(w, "column_key {\n  index_name: %s\n  col_name: %s\n  ts_name: %s\n}\n",
			idx.IndexName, strings.Join(idx.KeyColumns, ","), strings.Join(idx.TsColumns, ","))
	}
	if tm.TTL != nil {
		fmt.Fprintf(w, "ttl_desc {\n  abs_ttl: %d\n  lat_ttl: %d\n  ttl_type: %d\n}\n", tm.TTL.AbsTTL, tm.TTL.LatTTL, tm.TTL.TTLType)
	}
	for _, r := range tm.Replicas {
		fmt.Fprintf(w, "replicas: %s\n", r)
	}
}

// ReadFile parses a table_meta.txt written by WriteFile.
func ReadFile(path string) (*TableMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tm := &TableMeta{}
	sc := bufio.NewScanner(f)

	var curCol *ColumnDesc
	var curAdded *ColumnDesc
	var curIdx *IndexDesc
	var curTTL *TTLDesc
	inColumn, inAdded, inIndex, inTTL := false, false, false, false

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "column {":
			inColumn = true
			curCol = &ColumnDesc{}
			continue
		case line == "added_column_desc {":
			inAdded = true
			curAdded = &ColumnDesc{}
			continue
		case line == "column_key {":
			inIndex = true
			curIdx = &IndexDesc{}
			continue
		case line == "ttl_desc {":
			inTTL = true
			curTTL = &TTLDesc{}
			continue
		case line == "}":
			switch {
			case inColumn:
				tm.Columns = append(tm.Columns, *curCol)
				inColumn = false
			case inAdded:
				tm.AddedColumns = append(tm.AddedColumns, *curAdded)
				inAdded = false
			case inIndex:
				tm.Indexes = append(tm.Indexes, *curIdx)
				inIndex = false
			case inTTL:
				tm.TTL = curTTL
				inTTL = false
			}
			continue
		}

		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)

		switch {
		case inColumn:
			parseColumnField(curCol, k, v)
		case inAdded:
			parseColumnField(curAdded, k, v)
		case inIndex:
			parseIndexField(curIdx, k, v)
		case inTTL:
			parseTTLField(curTTL, k, v)
		default:
			parseTopLevelField(tm, k, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tm, nil
}

func parseTopLevelField(tm *TableMeta, k, v string) {
	switch k {
	case "name":
		tm.Name = v
	case "tid":
		n, _ := strconv.ParseUint(v, 10, 32)
		tm.TID = types.TID(n)
	case "pid":
		n, _ := strconv.ParseUint(v, 10, 32)
		tm.PID = types.PID(n)
	case "mode":
		if v == "kTableLeader" {
			tm.Mode = types.ModeLeader
		} else {
			tm.Mode = types.ModeFollower
		}
	case "storage_mode":
		switch v {
		case "kSSD":
			tm.StorageMode = types.StorageSSD
		case "kHDD":
			tm.StorageMode = types.StorageHDD
		default:
			tm.StorageMode = types.StorageMemory
		}
	case "table_type":
		n, _ := strconv.Atoi(v)
		tm.TableType = types.TableType(n)
	case "term":
		n, _ := strconv.ParseUint(v, 10, 64)
		tm.Term = n
	case "replicas":
		tm.Replicas = append(tm.Replicas, v)
	}
}

func parseColumnField(c *ColumnDesc, k, v string) {
	switch k {
	case "name":
		c.Name = v
	case "type":
		n, _ := strconv.Atoi(v)
		c.Type = types.ColumnType(n)
	case "is_ts_col":
		c.IsTsCol = v == "true"
	case "ttl_abs":
		if c.TTL == nil {
			c.TTL = &TTLDesc{}
		}
		n, _ := strconv.ParseUint(v, 10, 64)
		c.TTL.AbsTTL = n
	case "ttl_lat":
		if c.TTL == nil {
			c.TTL = &TTLDesc{}
		}
		n, _ := strconv.ParseUint(v, 10, 64)
		c.TTL.LatTTL = n
	case "ttl_type":
		if c.TTL == nil {
			c.TTL = &TTLDesc{}
		}
		n, _ := strconv.Atoi(v)
		c.TTL.TTLType = types.TTLType(n)
	}
}

func parseIndexField(idx *IndexDesc, k, v string) {
	switch k {
	case "index_name":
		idx.IndexName = v
	case "col_name":
		if v != "" {
			idx.KeyColumns = strings.Split(v, ",")
		}
	case "ts_name":
		if v != "" {
			idx.TsColumns = strings.Split(v, ",")
		}
	}
}

func parseTTLField(t *TTLDesc, k, v string) {
	switch k {
	case "abs_ttl":
		n, _ := strconv.ParseUint(v, 10, 64)
		t.AbsTTL = n
	case "lat_ttl":
		n, _ := strconv.ParseUint(v, 10, 64)
		t.LatTTL = n
	case "ttl_type":
		n, _ := strconv.Atoi(v)
		t.TTLType = types.TTLType(n)
	}
}
