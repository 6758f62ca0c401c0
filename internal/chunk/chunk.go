package chunk

import (
	"fmt"
	"sort"

	"github.com/stratadb/strata/pkg/types"
)

// Chunk is a columnar batch of rows bound to a schema.
type Chunk struct {
	schema *types.Schema
	cols   []Column
}

// New creates an empty chunk for the given schema with per-column capacity.
func New(schema *types.Schema, capacity int) (*Chunk, error) {
	cols := make([]Column, len(schema.Columns))
	for i, def := range schema.Columns {
		col, err := NewColumn(def.Type, capacity)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return &Chunk{schema: schema, cols: cols}, nil
}

// MustNew is New for schemas known to be valid; it panics on bad schemas.
// Intended for tests and fixtures.
func MustNew(schema *types.Schema, capacity int) *Chunk {
	c, err := New(schema, capacity)
	if err != nil {
		panic(err)
	}
	return c
}

// Schema returns the schema this chunk is bound to.
func (c *Chunk) Schema() *types.Schema { return c.schema }

// Columns returns the underlying column containers.
func (c *Chunk) Columns() []Column { return c.cols }

// Column returns the column at index i.
func (c *Chunk) Column(i int) Column { return c.cols[i] }

// NumRows returns the row count. All columns hold the same number of rows.
func (c *Chunk) NumRows() int {
	if len(c.cols) == 0 {
		return 0
	}
	return c.cols[0].Len()
}

// AppendRow appends one logical row, one value per column.
func (c *Chunk) AppendRow(vals ...interface{}) error {
	if len(vals) != len(c.cols) {
		return fmt.Errorf("chunk: row has %d values, schema has %d columns", len(vals), len(c.cols))
	}
	for i, v := range vals {
		if err := c.cols[i].Append(v); err != nil {
			return err
		}
	}
	return nil
}

// AppendRowFrom copies row `row` of other into this chunk. The chunks must
// have the same column layout.
func (c *Chunk) AppendRowFrom(other *Chunk, row int) error {
	return c.AppendRowsFrom(other, row, row+1)
}

// AppendRowsFrom copies rows [from,to) of other into this chunk.
func (c *Chunk) AppendRowsFrom(other *Chunk, from, to int) error {
	if len(other.cols) != len(c.cols) {
		return fmt.Errorf("chunk: column count mismatch: %d vs %d", len(other.cols), len(c.cols))
	}
	for i := range c.cols {
		if err := c.cols[i].AppendFrom(other.cols[i], from, to); err != nil {
			return err
		}
	}
	return nil
}

// AppendChunk appends every row of other.
func (c *Chunk) AppendChunk(other *Chunk) error {
	return c.AppendRowsFrom(other, 0, other.NumRows())
}

// Row materializes row i as a value slice. Intended for tests and for the
// low-volume update path, not for bulk scans.
func (c *Chunk) Row(i int) []interface{} {
	out := make([]interface{}, len(c.cols))
	for j, col := range c.cols {
		out[j] = col.Get(i)
	}
	return out
}

// Reset clears all columns to empty while preserving the schema binding.
func (c *Chunk) Reset() {
	for _, col := range c.cols {
		col.Reset()
	}
}

// Check verifies that all columns hold the same number of rows.
func (c *Chunk) Check() error {
	n := c.NumRows()
	for i, col := range c.cols {
		if col.Len() != n {
			return fmt.Errorf("chunk: column %d has %d rows, expected %d", i, col.Len(), n)
		}
	}
	return nil
}

// Gather returns a new chunk holding the given rows in order.
func (c *Chunk) Gather(rows []int) (*Chunk, error) {
	out, err := New(c.schema, len(rows))
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := out.AppendRowFrom(c, r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SortByKeys returns a copy of the chunk with rows stably sorted by the
// first numKeys columns ascending. Stability preserves insertion order among
// equal keys, which is what last-write-wins folding relies on.
func (c *Chunk) SortByKeys(numKeys int) (*Chunk, error) {
	n := c.NumRows()
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	var cmpErr error
	sort.SliceStable(perm, func(a, b int) bool {
		cmp, err := CompareRows(c, perm[a], c, perm[b], numKeys)
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		return cmp < 0
	})
	if cmpErr != nil {
		return nil, cmpErr
	}
	return c.Gather(perm)
}
