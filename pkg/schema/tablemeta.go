// Package schema defines the table schema carried by every partition:
// columns, indexes, TTL descriptors, and the validation invariants from
// spec.md §3.
package schema

import (
	"fmt"

	"tabletdb/pkg/dberrors"
	"tabletdb/pkg/types"
)

// ColumnDesc describes one column of a table.
type ColumnDesc struct {
	Name     string
	Type     types.ColumnType
	IsTsCol  bool
	TTL      *TTLDesc // per-column override, optional
}

// IndexDesc describes one column-key (index) over the table.
type IndexDesc struct {
	IndexName string
	KeyColumns []string
	TsColumns  []string
}

// TTLDesc is the eviction policy for an (index, ts column) pair.
type TTLDesc struct {
	AbsTTL  uint64 // minutes
	LatTTL  uint64 // count
	TTLType types.TTLType
}

// TableMeta is the full schema + placement descriptor for one partition,
// persisted as table_meta.txt.
type TableMeta struct {
	Name        string
	TID         types.TID
	PID         types.PID
	Mode        types.Mode
	StorageMode types.StorageMode
	TableType   types.TableType

	Columns []ColumnDesc
	Indexes []IndexDesc

	TTL *TTLDesc // table-wide default, optional

	Replicas []string
	Term     types.Term

	AddedColumns []ColumnDesc
}

// TTLCeiling is the deployment-configured TTL ceiling used by Validate.
type TTLCeiling struct {
	AbsoluteTTLMax uint64
	LatestTTLMax   uint64
}

// Validate checks every invariant from spec.md §3. It does not mutate tm.
func (tm *TableMeta) Validate(ceiling TTLCeiling) error {
	seen := make(map[string]struct{}, len(tm.Columns))
	tsCols := make(map[string]struct{})
	tsColCount := 0

	for _, c := range tm.Columns {
		if _, dup := seen[c.Name]; dup {
			return dberrors.New(dberrors.CodeTableMetaIsIllegal, fmt.Sprintf("duplicate column name %q", c.Name))
		}
		seen[c.Name] = struct{}{}

		if c.IsTsCol {
			if !c.Type.CanBeTsCol() {
				return dberrors.New(dberrors.CodeTableMetaIsIllegal,
					fmt.Sprintf("ts column %q must be int64, uint64 or timestamp", c.Name))
			}
			tsCols[c.Name] = struct{}{}
			tsColCount++
		}
	}

	addedSeen := make(map[string]struct{}, len(tm.AddedColumns))
	for _, c := range tm.AddedColumns {
		if _, dup := addedSeen[c.Name]; dup {
			return dberrors.New(dberrors.CodeTableMetaIsIllegal, fmt.Sprintf("duplicate added column name %q", c.Name))
		}
		addedSeen[c.Name] = struct{}{}
		if _, clash := seen[c.Name]; clash {
			return dberrors.New(dberrors.CodeTableMetaIsIllegal,
				fmt.Sprintf("added column %q collides with base column", c.Name))
		}
	}

	for _, idx := range tm.Indexes {
		for _, kc := range idx.KeyColumns {
			col, ok := seen[kc]
			_ = col
			if !ok {
				return dberrors.New(dberrors.CodeTableMetaIsIllegal,
					fmt.Sprintf("index %q references unknown key column %q", idx.IndexName, kc))
			}
		}
		for _, tc := range idx.TsColumns {
			if _, ok := tsCols[tc]; !ok {
				return dberrors.New(dberrors.CodeTableMetaIsIllegal,
					fmt.Sprintf("index %q ts column %q is not marked is_ts_col", idx.IndexName, tc))
			}
		}
		if tsColCount > 1 && len(idx.TsColumns) == 0 {
			return dberrors.New(dberrors.CodeTableMetaIsIllegal,
				fmt.Sprintf("index %q must name a ts column when table has more than one ts column", idx.IndexName))
		}
	}

	for _, c := range tm.Columns {
		if !c.Type.CanIndex() {
			continue
		}
	}
	for _, idx := range tm.Indexes {
		for _, kc := range idx.KeyColumns {
			for _, c := range tm.Columns {
				if c.Name == kc && !c.Type.CanIndex() {
					return dberrors.New(dberrors.CodeTableMetaIsIllegal,
						fmt.Sprintf("column %q of type float/double cannot participate in index %q", kc, idx.IndexName))
				}
			}
		}
	}

	if tm.TTL != nil {
		if err := checkTTLCeiling(*tm.TTL, ceiling); err != nil {
			return err
		}
	}
	for _, c := range tm.Columns {
		if c.TTL != nil {
			if err := checkTTLCeiling(*c.TTL, ceiling); err != nil {
				return err
			}
		}
	}

	if tm.StorageMode.IsDisk() {
		t := types.AbsoluteTime
		if tm.TTL != nil {
			t = tm.TTL.TTLType
		}
		if !t.SupportedOnDisk() {
			return dberrors.New(dberrors.CodeTtlTypeMismatch,
				"AbsAndLat/AbsOrLat ttl types are not supported on disk tables")
		}
	}

	return nil
}

// CheckTTLDesc validates a standalone TTLDesc against ceiling, for the
// UpdateTTL RPC which installs a new policy outside of full TableMeta
// validation.
func CheckTTLDesc(d TTLDesc, ceiling TTLCeiling) error {
	return checkTTLCeiling(d, ceiling)
}

func checkTTLCeiling(d TTLDesc, ceiling TTLCeiling) error {
	if ceiling.AbsoluteTTLMax > 0 && d.AbsTTL > ceiling.AbsoluteTTLMax {
		return dberrors.ErrTtlIsGreaterThanConfValue
	}
	if ceiling.LatestTTLMax > 0 && d.LatTTL > ceiling.LatestTTLMax {
		return dberrors.ErrTtlIsGreaterThanConfValue
	}
	return nil
}

// ColumnByName returns the column descriptor (base or added) by name.
func (tm *TableMeta) ColumnByName(name string) (ColumnDesc, bool) {
	for _, c := range tm.Columns {
		if c.Name == name {
			return c, true
		}
	}
	for _, c := range tm.AddedColumns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDesc{}, false
}

// IndexByName returns the index descriptor by name.
func (tm *TableMeta) IndexByName(name string) (IndexDesc, bool) {
	for _, idx := range tm.Indexes {
		if idx.IndexName == name {
			return idx, true
		}
	}
	return IndexDesc{}, false
}

// HasAddedColumn reports whether name already exists in base or added
// columns, used by UpdateTableMetaForAddField to make the operation
// idempotent.
func (tm *TableMeta) HasAddedColumn(name string) bool {
	_, ok := tm.ColumnByName(name)
	return ok
}
