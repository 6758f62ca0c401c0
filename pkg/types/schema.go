// Package types provides core data types for Strata.
package types

import (
	"encoding/binary"
	"fmt"

	"github.com/spaolacci/murmur3"
)

// ColumnType identifies the primitive type of a column.
type ColumnType int8

const (
	TypeInt32 ColumnType = iota + 1
	TypeInt64
	TypeFloat64
	TypeBool
	TypeString
	TypeBytes
)

// String returns the type name used in footers and error messages.
func (t ColumnType) String() string {
	switch t {
	case TypeInt32:
		return "INT32"
	case TypeInt64:
		return "INT64"
	case TypeFloat64:
		return "FLOAT64"
	case TypeBool:
		return "BOOL"
	case TypeString:
		return "STRING"
	case TypeBytes:
		return "BYTES"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int8(t))
	}
}

// AggregationType defines how duplicate keys fold a value column during merge.
type AggregationType int8

const (
	AggNone AggregationType = iota
	AggSum
	AggReplace
	AggMax
	AggMin
)

// String returns the aggregation name.
func (a AggregationType) String() string {
	switch a {
	case AggNone:
		return "NONE"
	case AggSum:
		return "SUM"
	case AggReplace:
		return "REPLACE"
	case AggMax:
		return "MAX"
	case AggMin:
		return "MIN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int8(a))
	}
}

// KeysType governs the dedup semantics of a table.
type KeysType int8

const (
	// DupKeys keeps every written row; segments hold rows in write order.
	DupKeys KeysType = iota
	// AggKeys folds duplicate keys per column aggregation kind.
	AggKeys
	// UniqueKeys keeps the latest written row per key.
	UniqueKeys
	// PrimaryKeys keeps the latest written row per key and feeds the
	// primary-key update path.
	PrimaryKeys
)

// Dedups reports whether this keys type eliminates duplicate keys.
func (k KeysType) Dedups() bool {
	return k != DupKeys
}

// String returns the keys type name.
func (k KeysType) String() string {
	switch k {
	case DupKeys:
		return "DUP_KEYS"
	case AggKeys:
		return "AGG_KEYS"
	case UniqueKeys:
		return "UNIQUE_KEYS"
	case PrimaryKeys:
		return "PRIMARY_KEYS"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int8(k))
	}
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// ID is the column's unique id within the base schema. It is stable
	// across projections and schema changes.
	ID int32 `json:"id"`

	// Name is the column name.
	Name string `json:"name"`

	// Type is the primitive column type.
	Type ColumnType `json:"type"`

	// IsKey indicates whether this column is part of the sort/primary key.
	IsKey bool `json:"is_key"`

	// Nullable indicates whether the column can contain NULL values.
	Nullable bool `json:"nullable"`

	// Agg is the aggregation kind applied to duplicate keys. Only
	// meaningful for value columns on AGG/UNIQUE/PRIMARY tables.
	Agg AggregationType `json:"agg"`
}

// Schema describes the ordered column set of a table or of a projection.
type Schema struct {
	// KeysType selects the dedup semantics.
	KeysType KeysType `json:"keys_type"`

	// Columns lists the column definitions. Key columns are always a
	// prefix of this list, in declared key order.
	Columns []ColumnDef `json:"columns"`
}

// NumKeyColumns returns the length of the key-column prefix.
func (s *Schema) NumKeyColumns() int {
	n := 0
	for _, c := range s.Columns {
		if !c.IsKey {
			break
		}
		n++
	}
	return n
}

// Validate checks structural invariants: at least one column, key columns
// form a non-empty prefix for keyed tables, no duplicate ids or names.
func (s *Schema) Validate() error {
	if len(s.Columns) == 0 {
		return fmt.Errorf("schema: no columns")
	}
	seenValue := false
	ids := make(map[int32]bool, len(s.Columns))
	names := make(map[string]bool, len(s.Columns))
	for i, c := range s.Columns {
		if c.IsKey && seenValue {
			return fmt.Errorf("schema: key column %q at index %d follows a value column", c.Name, i)
		}
		if !c.IsKey {
			seenValue = true
		}
		if ids[c.ID] {
			return fmt.Errorf("schema: duplicate column id %d", c.ID)
		}
		if names[c.Name] {
			return fmt.Errorf("schema: duplicate column name %q", c.Name)
		}
		ids[c.ID] = true
		names[c.Name] = true
		if c.IsKey && c.Agg != AggNone {
			return fmt.Errorf("schema: key column %q has aggregation %s", c.Name, c.Agg)
		}
	}
	if s.KeysType.Dedups() && s.NumKeyColumns() == 0 {
		return fmt.Errorf("schema: %s table has no key columns", s.KeysType)
	}
	return nil
}

// Project returns a schema containing the columns at the given indexes, in
// the given order. Used for vertical column groups and read projections.
func (s *Schema) Project(indexes []int) (*Schema, error) {
	cols := make([]ColumnDef, 0, len(indexes))
	for _, idx := range indexes {
		if idx < 0 || idx >= len(s.Columns) {
			return nil, fmt.Errorf("schema: projection index %d out of range [0,%d)", idx, len(s.Columns))
		}
		cols = append(cols, s.Columns[idx])
	}
	return &Schema{KeysType: s.KeysType, Columns: cols}, nil
}

// PartialProject returns a partial-update schema for the base columns at the
// given indexes. The projection must contain every key column (the key prefix
// is never excluded from a partial schema) and at least one value column.
func (s *Schema) PartialProject(indexes []int) (*Schema, error) {
	p, err := s.Project(indexes)
	if err != nil {
		return nil, err
	}
	if p.NumKeyColumns() != s.NumKeyColumns() {
		return nil, fmt.Errorf("schema: partial projection must include all %d key columns", s.NumKeyColumns())
	}
	if len(p.Columns) == p.NumKeyColumns() {
		return nil, fmt.Errorf("schema: partial projection has no value columns")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ColumnIndexByID returns the index of the column with the given id, or -1.
func (s *Schema) ColumnIndexByID(id int32) int {
	for i, c := range s.Columns {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// ColumnIDs returns the ids of all columns in declared order.
func (s *Schema) ColumnIDs() []int32 {
	ids := make([]int32, len(s.Columns))
	for i, c := range s.Columns {
		ids[i] = c.ID
	}
	return ids
}

// Equal reports whether two schemas have identical keys type and columns.
func (s *Schema) Equal(other *Schema) bool {
	if other == nil || s.KeysType != other.KeysType || len(s.Columns) != len(other.Columns) {
		return false
	}
	for i := range s.Columns {
		if s.Columns[i] != other.Columns[i] {
			return false
		}
	}
	return true
}

// Hash returns a stable 32-bit hash of the schema layout, used as the
// tablet schema hash in rowset metadata.
func (s *Schema) Hash() uint32 {
	h := murmur3.New32()
	var buf [8]byte
	buf[0] = byte(s.KeysType)
	h.Write(buf[:1])
	for _, c := range s.Columns {
		binary.LittleEndian.PutUint32(buf[:4], uint32(c.ID))
		buf[4] = byte(c.Type)
		buf[5] = byte(c.Agg)
		buf[6] = 0
		if c.IsKey {
			buf[6] = 1
		}
		buf[7] = 0
		if c.Nullable {
			buf[7] = 1
		}
		h.Write(buf[:8])
		h.Write([]byte(c.Name))
	}
	return h.Sum32()
}
