// Package chunk provides the in-memory columnar row batch used by writers,
// readers and the merge path. A Chunk is bound to a schema; each column is an
// independently growable container of typed values, and all columns hold the
// same number of rows at every observable point.
package chunk

import (
	"fmt"

	"github.com/stratadb/strata/pkg/types"
)

// Column is a growable container of typed values.
//
// TODO: add validity bitmaps once nullable columns are exercised by an
// ingest path that produces NULLs; the schema already carries the flag.
type Column interface {
	// Type returns the primitive type stored by this column.
	Type() types.ColumnType

	// Len returns the number of values.
	Len() int

	// Get returns the value at index i.
	Get(i int) interface{}

	// Append adds one value. The value must match the column type
	// (plain ints are accepted for the integer types).
	Append(v interface{}) error

	// AppendFrom copies values [from,to) from src, which must have the
	// same type.
	AppendFrom(src Column, from, to int) error

	// Reset clears the column to empty, keeping capacity.
	Reset()
}

// NewColumn creates an empty column of the given type.
func NewColumn(t types.ColumnType, capacity int) (Column, error) {
	switch t {
	case types.TypeInt32:
		return &int32Column{vals: make([]int32, 0, capacity)}, nil
	case types.TypeInt64:
		return &int64Column{vals: make([]int64, 0, capacity)}, nil
	case types.TypeFloat64:
		return &float64Column{vals: make([]float64, 0, capacity)}, nil
	case types.TypeBool:
		return &boolColumn{vals: make([]bool, 0, capacity)}, nil
	case types.TypeString:
		return &stringColumn{vals: make([]string, 0, capacity)}, nil
	case types.TypeBytes:
		return &bytesColumn{vals: make([][]byte, 0, capacity)}, nil
	default:
		return nil, fmt.Errorf("chunk: unsupported column type %s", t)
	}
}

func typeError(want types.ColumnType, v interface{}) error {
	return fmt.Errorf("chunk: cannot append %T to %s column", v, want)
}

func fromError(want types.ColumnType, src Column) error {
	return fmt.Errorf("chunk: cannot copy %s column into %s column", src.Type(), want)
}

type int32Column struct{ vals []int32 }

func (c *int32Column) Type() types.ColumnType { return types.TypeInt32 }
func (c *int32Column) Len() int               { return len(c.vals) }
func (c *int32Column) Get(i int) interface{}  { return c.vals[i] }
func (c *int32Column) Reset()                 { c.vals = c.vals[:0] }

func (c *int32Column) Append(v interface{}) error {
	switch x := v.(type) {
	case int32:
		c.vals = append(c.vals, x)
	case int:
		c.vals = append(c.vals, int32(x))
	default:
		return typeError(types.TypeInt32, v)
	}
	return nil
}

func (c *int32Column) AppendFrom(src Column, from, to int) error {
	s, ok := src.(*int32Column)
	if !ok {
		return fromError(types.TypeInt32, src)
	}
	c.vals = append(c.vals, s.vals[from:to]...)
	return nil
}

type int64Column struct{ vals []int64 }

func (c *int64Column) Type() types.ColumnType { return types.TypeInt64 }
func (c *int64Column) Len() int               { return len(c.vals) }
func (c *int64Column) Get(i int) interface{}  { return c.vals[i] }
func (c *int64Column) Reset()                 { c.vals = c.vals[:0] }

func (c *int64Column) Append(v interface{}) error {
	switch x := v.(type) {
	case int64:
		c.vals = append(c.vals, x)
	case int:
		c.vals = append(c.vals, int64(x))
	case int32:
		c.vals = append(c.vals, int64(x))
	default:
		return typeError(types.TypeInt64, v)
	}
	return nil
}

func (c *int64Column) AppendFrom(src Column, from, to int) error {
	s, ok := src.(*int64Column)
	if !ok {
		return fromError(types.TypeInt64, src)
	}
	c.vals = append(c.vals, s.vals[from:to]...)
	return nil
}

type float64Column struct{ vals []float64 }

func (c *float64Column) Type() types.ColumnType { return types.TypeFloat64 }
func (c *float64Column) Len() int               { return len(c.vals) }
func (c *float64Column) Get(i int) interface{}  { return c.vals[i] }
func (c *float64Column) Reset()                 { c.vals = c.vals[:0] }

func (c *float64Column) Append(v interface{}) error {
	switch x := v.(type) {
	case float64:
		c.vals = append(c.vals, x)
	case int:
		c.vals = append(c.vals, float64(x))
	default:
		return typeError(types.TypeFloat64, v)
	}
	return nil
}

func (c *float64Column) AppendFrom(src Column, from, to int) error {
	s, ok := src.(*float64Column)
	if !ok {
		return fromError(types.TypeFloat64, src)
	}
	c.vals = append(c.vals, s.vals[from:to]...)
	return nil
}

type boolColumn struct{ vals []bool }

func (c *boolColumn) Type() types.ColumnType { return types.TypeBool }
func (c *boolColumn) Len() int               { return len(c.vals) }
func (c *boolColumn) Get(i int) interface{}  { return c.vals[i] }
func (c *boolColumn) Reset()                 { c.vals = c.vals[:0] }

func (c *boolColumn) Append(v interface{}) error {
	x, ok := v.(bool)
	if !ok {
		return typeError(types.TypeBool, v)
	}
	c.vals = append(c.vals, x)
	return nil
}

func (c *boolColumn) AppendFrom(src Column, from, to int) error {
	s, ok := src.(*boolColumn)
	if !ok {
		return fromError(types.TypeBool, src)
	}
	c.vals = append(c.vals, s.vals[from:to]...)
	return nil
}

type stringColumn struct{ vals []string }

func (c *stringColumn) Type() types.ColumnType { return types.TypeString }
func (c *stringColumn) Len() int               { return len(c.vals) }
func (c *stringColumn) Get(i int) interface{}  { return c.vals[i] }
func (c *stringColumn) Reset()                 { c.vals = c.vals[:0] }

func (c *stringColumn) Append(v interface{}) error {
	x, ok := v.(string)
	if !ok {
		return typeError(types.TypeString, v)
	}
	c.vals = append(c.vals, x)
	return nil
}

func (c *stringColumn) AppendFrom(src Column, from, to int) error {
	s, ok := src.(*stringColumn)
	if !ok {
		return fromError(types.TypeString, src)
	}
	c.vals = append(c.vals, s.vals[from:to]...)
	return nil
}

type bytesColumn struct{ vals [][]byte }

func (c *bytesColumn) Type() types.ColumnType { return types.TypeBytes }
func (c *bytesColumn) Len() int               { return len(c.vals) }
func (c *bytesColumn) Get(i int) interface{}  { return c.vals[i] }
func (c *bytesColumn) Reset()                 { c.vals = c.vals[:0] }

func (c *bytesColumn) Append(v interface{}) error {
	x, ok := v.([]byte)
	if !ok {
		return typeError(types.TypeBytes, v)
	}
	cp := make([]byte, len(x))
	copy(cp, x)
	c.vals = append(c.vals, cp)
	return nil
}

func (c *bytesColumn) AppendFrom(src Column, from, to int) error {
	s, ok := src.(*bytesColumn)
	if !ok {
		return fromError(types.TypeBytes, src)
	}
	for i := from; i < to; i++ {
		cp := make([]byte, len(s.vals[i]))
		copy(cp, s.vals[i])
		c.vals = append(c.vals, cp)
	}
	return nil
}
