package iterator

import (
	"container/heap"
	"errors"
	"fmt"
	"io"

	"github.com/stratadb/strata/internal/chunk"
	"github.com/stratadb/strata/pkg/types"
)

// DefaultChunkSize is the row count produced per Next call when the caller
// does not override it.
const DefaultChunkSize = 4096

// MergeOptions configures a k-way merge.
type MergeOptions struct {
	// ChunkSize caps the rows emitted per Next call. Zero means
	// DefaultChunkSize.
	ChunkSize int

	// Dedup folds rows with equal key tuples per the schema's aggregation
	// kinds. With Dedup off, all rows survive in key order, stable across
	// inputs (earlier input first among equal keys).
	Dedup bool
}

// mergeSource wraps one input with a buffered chunk cursor. Memory stays
// bounded at one chunk per input regardless of total row count.
type mergeSource struct {
	it        ChunkIterator
	buf       *chunk.Chunk
	pos       int
	seq       int // input sequence: higher = written later
	exhausted bool
}

// advance moves to the next buffered row, refilling from the input when the
// buffer runs out.
func (s *mergeSource) advance() error {
	s.pos++
	if s.pos < s.buf.NumRows() {
		return nil
	}
	return s.refill()
}

func (s *mergeSource) refill() error {
	s.buf.Reset()
	s.pos = 0
	for {
		err := s.it.Next(s.buf)
		if err == io.EOF {
			s.exhausted = true
			return nil
		}
		if err != nil {
			return err
		}
		if s.buf.NumRows() > 0 {
			return nil
		}
	}
}

type mergeIterator struct {
	schema  *types.Schema
	numKeys int
	opts    MergeOptions
	sources []*mergeSource
	h       sourceHeap
	cmpErr  error
	started bool
	closed  bool
}

// NewMerge performs a streaming k-way merge of the inputs, all of which must
// produce the same schema with rows already sorted ascending by key tuple.
// Input order is the write-sequence order: among equal keys, a later input's
// row is the later write.
func NewMerge(schema *types.Schema, inputs []ChunkIterator, opts MergeOptions) (ChunkIterator, error) {
	if len(inputs) == 0 {
		return nil, errors.New("iterator: merge over zero inputs")
	}
	numKeys := schema.NumKeyColumns()
	if numKeys == 0 {
		return nil, errors.New("iterator: merge requires at least one key column")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	m := &mergeIterator{
		schema:  schema,
		numKeys: numKeys,
		opts:    opts,
	}
	for i, in := range inputs {
		if !schema.Equal(in.Schema()) {
			return nil, fmt.Errorf("iterator: merge input %d schema differs from merge schema", i)
		}
		buf, err := chunk.New(schema, opts.ChunkSize)
		if err != nil {
			return nil, err
		}
		m.sources = append(m.sources, &mergeSource{it: in, buf: buf, seq: i})
	}
	m.h = sourceHeap{m: m}
	return m, nil
}

func (m *mergeIterator) Schema() *types.Schema { return m.schema }

// start primes every source and builds the heap.
func (m *mergeIterator) start() error {
	for _, s := range m.sources {
		if err := s.refill(); err != nil {
			return err
		}
		if !s.exhausted {
			m.h.items = append(m.h.items, s)
		}
	}
	heap.Init(&m.h)
	if m.cmpErr != nil {
		return m.cmpErr
	}
	m.started = true
	return nil
}

func (m *mergeIterator) Next(out *chunk.Chunk) error {
	if m.closed {
		return errors.New("iterator: Next after Close")
	}
	if !m.started {
		if err := m.start(); err != nil {
			return err
		}
	}
	produced := 0
	for produced < m.opts.ChunkSize && m.h.Len() > 0 {
		if err := m.emitOne(out); err != nil {
			return err
		}
		produced++
	}
	if produced == 0 {
		return io.EOF
	}
	return nil
}

// emitOne pops the minimum-key row. With dedup on, it folds every equal-key
// row across all inputs into one output row; heap order pops equal keys in
// input-sequence order, so successive REPLACE folds leave the latest write.
func (m *mergeIterator) emitOne(out *chunk.Chunk) error {
	top := m.h.items[0]
	if !m.opts.Dedup {
		if err := out.AppendRowFrom(top.buf, top.pos); err != nil {
			return err
		}
		return m.bumpTop()
	}

	// Copy the winning row's values, then fold all duplicates into it.
	row := top.buf.Row(top.pos)
	if err := m.bumpTop(); err != nil {
		return err
	}
	for m.h.Len() > 0 {
		next := m.h.items[0]
		cmp, err := compareRowToValues(next.buf, next.pos, row, m.schema, m.numKeys)
		if err != nil {
			return err
		}
		if cmp != 0 {
			break
		}
		for col := m.numKeys; col < len(m.schema.Columns); col++ {
			agg := chunk.EffectiveAgg(m.schema, col)
			v, err := chunk.FoldValue(agg, m.schema.Columns[col].Type, row[col], next.buf.Column(col).Get(next.pos))
			if err != nil {
				return err
			}
			row[col] = v
		}
		if err := m.bumpTop(); err != nil {
			return err
		}
	}
	return out.AppendRow(row...)
}

// bumpTop advances the heap top to its next row, removing it if exhausted.
func (m *mergeIterator) bumpTop() error {
	top := m.h.items[0]
	if err := top.advance(); err != nil {
		return err
	}
	if top.exhausted {
		heap.Pop(&m.h)
	} else {
		heap.Fix(&m.h, 0)
	}
	if m.cmpErr != nil {
		return m.cmpErr
	}
	return nil
}

func (m *mergeIterator) Close() error {
	m.closed = true
	var first error
	for _, s := range m.sources {
		if err := s.it.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// compareRowToValues compares a buffered row's key tuple with a materialized
// value slice.
func compareRowToValues(c *chunk.Chunk, pos int, vals []interface{}, schema *types.Schema, numKeys int) (int, error) {
	for k := 0; k < numKeys; k++ {
		cmp, err := chunk.CompareValues(schema.Columns[k].Type, c.Column(k).Get(pos), vals[k])
		if err != nil {
			return 0, err
		}
		if cmp != 0 {
			return cmp, nil
		}
	}
	return 0, nil
}

// sourceHeap is a min-heap over sources keyed by their current row's key
// tuple, ties broken by input sequence ascending so the merge is stable.
type sourceHeap struct {
	m     *mergeIterator
	items []*mergeSource
}

func (h *sourceHeap) Len() int { return len(h.items) }

func (h *sourceHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	cmp, err := chunk.CompareRows(a.buf, a.pos, b.buf, b.pos, h.m.numKeys)
	if err != nil && h.m.cmpErr == nil {
		h.m.cmpErr = err
	}
	if cmp != 0 {
		return cmp < 0
	}
	return a.seq < b.seq
}

func (h *sourceHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *sourceHeap) Push(x interface{}) { h.items = append(h.items, x.(*mergeSource)) }

func (h *sourceHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
