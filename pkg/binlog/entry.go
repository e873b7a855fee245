// Package binlog is the per-partition write-ahead log (LogPart): a
// sequence of fixed-header, length-prefixed LogEntry records that every
// Put/Delete passes through before it reaches the in-memory table, and
// that the Replicator ships to followers.
package binlog

import (
	"fmt"

	"tabletdb/pkg/encoding/custom"
	"tabletdb/pkg/types"
)

// Dimension is one (index, key) pair an entry is indexed under.
type Dimension struct {
	IndexName string
	Key       []byte
}

// TsDimension is one (ts column, timestamp) pair an entry carries.
type TsDimension struct {
	TsName string
	Ts     uint64
}

// LogEntry is one record appended to a LogPart.
type LogEntry struct {
	Term          types.Term
	Offset        types.Offset
	Op            types.Op
	PK            []byte
	Value         []byte
	Dimensions    []Dimension
	TsDimensions  []TsDimension
}

const (
	fieldPK     = 1
	fieldValue  = 2
	fieldOp     = 3
	fieldDims   = 4
	fieldTsDims = 5

	dimFieldName = 1
	dimFieldKey  = 2
	dimFieldTs   = 2
)

// encodePayload renders the entry's variable part (everything except the
// term/offset header the LogPart itself writes) through the custom tagged
// encoder, the same Value/Field scheme the teacher uses for its message
// format.
func encodePayload(e LogEntry) ([]byte, error) {
	fields := []custom.Field{
		{Number: fieldPK, Value: custom.Value{Type: custom.TypeString, String: string(e.PK)}},
		{Number: fieldValue, Value: custom.Value{Type: custom.TypeString, String: string(e.Value)}},
		{Number: fieldOp, Value: custom.Value{Type: custom.TypeInt32, Int32: int32(e.Op)}},
	}

	if len(e.Dimensions) > 0 {
		dimList := make([]custom.Value, 0, len(e.Dimensions))
		for _, d := range e.Dimensions {
			dimList = append(dimList, custom.Value{Type: custom.TypeMessage, Message: []custom.Field{
				{Number: dimFieldName, Value: custom.Value{Type: custom.TypeString, String: d.IndexName}},
				{Number: dimFieldKey, Value: custom.Value{Type: custom.TypeString, String: string(d.Key)}},
			}})
		}
		fields = append(fields, custom.Field{Number: fieldDims, Value: custom.Value{Type: custom.TypeList, List: dimList}})
	}

	if len(e.TsDimensions) > 0 {
		tsList := make([]custom.Value, 0, len(e.TsDimensions))
		for _, t := range e.TsDimensions {
			tsList = append(tsList, custom.Value{Type: custom.TypeMessage, Message: []custom.Field{
				{Number: dimFieldName, Value: custom.Value{Type: custom.TypeString, String: t.TsName}},
				{Number: dimFieldTs, Value: custom.Value{Type: custom.TypeInt64, Int64: int64(t.Ts)}},
			}})
		}
		fields = append(fields, custom.Field{Number: fieldTsDims, Value: custom.Value{Type: custom.TypeList, List: tsList}})
	}

	return custom.Encode(custom.Value{Type: custom.TypeMessage, Message: fields})
}

func decodePayload(data []byte) (LogEntry, error) {
	v, _, err := custom.Decode(data)
	if err != nil {
		return LogEntry{}, fmt.Errorf("decode log entry payload: %w", err)
	}
	if v.Type != custom.TypeMessage {
		return LogEntry{}, fmt.Errorf("log entry payload is not a message")
	}

	var e LogEntry
	for _, f := range v.Message {
		switch f.Number {
		case fieldPK:
			e.PK = []byte(f.Value.String)
		case fieldValue:
			e.Value = []byte(f.Value.String)
		case fieldOp:
			e.Op = types.Op(f.Value.Int32)
		case fieldDims:
			for _, item := range f.Value.List {
				d := Dimension{}
				for _, sub := range item.Message {
					switch sub.Number {
					case dimFieldName:
						d.IndexName = sub.Value.String
					case dimFieldKey:
						d.Key = []byte(sub.Value.String)
					}
				}
				e.Dimensions = append(e.Dimensions, d)
			}
		case fieldTsDims:
			for _, item := range f.Value.List {
				t := TsDimension{}
				for _, sub := range item.Message {
					switch sub.Number {
					case dimFieldName:
						t.TsName = sub.Value.String
					case dimFieldTs:
						t.Ts = uint64(sub.Value.Int64)
					}
				}
				e.TsDimensions = append(e.TsDimensions, t)
			}
		}
	}
	return e, nil
}
