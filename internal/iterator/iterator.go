// Package iterator defines the forward chunk-stream abstraction shared by
// segment readers, rowsets and the tablet reader, plus the union and k-way
// merge compositions over it.
//
// Exhaustion is signalled by io.EOF from Next. io.EOF is a terminal state,
// not a failure: callers must branch on it before treating a non-nil error
// as a read failure.
package iterator

import (
	"io"

	"github.com/stratadb/strata/internal/chunk"
	"github.com/stratadb/strata/pkg/types"
)

// ChunkIterator is a forward-only, non-restartable stream of chunks.
type ChunkIterator interface {
	// Schema returns the schema of the produced chunks.
	Schema() *types.Schema

	// Next appends up to the iterator's chunk-size rows into out. It
	// returns io.EOF once the stream is exhausted; out is untouched in
	// that case. Any other error is a read failure.
	Next(out *chunk.Chunk) error

	// Close releases underlying resources. Closing an exhausted iterator
	// is valid; Next must not be called after Close.
	Close() error
}

// ReadStats accumulates counters across one read session. A single stats
// struct may be shared by every iterator of one scan; it is not safe for
// concurrent iterators.
type ReadStats struct {
	RowsRead          int64
	BytesRead         int64
	BytesUncompressed int64
	SegmentsOpened    int64
	PagesRead         int64
}

type emptyIterator struct {
	schema *types.Schema
}

// NewEmpty returns an iterator over the given schema that is immediately
// exhausted.
func NewEmpty(schema *types.Schema) ChunkIterator {
	return &emptyIterator{schema: schema}
}

func (e *emptyIterator) Schema() *types.Schema   { return e.schema }
func (e *emptyIterator) Next(*chunk.Chunk) error { return io.EOF }
func (e *emptyIterator) Close() error            { return nil }
