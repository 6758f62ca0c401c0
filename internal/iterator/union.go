package iterator

import (
	"errors"
	"io"

	"github.com/stratadb/strata/internal/chunk"
	"github.com/stratadb/strata/pkg/types"
)

type unionIterator struct {
	schema *types.Schema
	inputs []ChunkIterator
	cur    int
}

// NewUnion concatenates the inputs sequentially, in the given order. All
// inputs must produce the same schema.
func NewUnion(inputs []ChunkIterator) (ChunkIterator, error) {
	if len(inputs) == 0 {
		return nil, errors.New("iterator: union over zero inputs")
	}
	schema := inputs[0].Schema()
	for _, in := range inputs[1:] {
		if !schema.Equal(in.Schema()) {
			return nil, errors.New("iterator: union inputs have differing schemas")
		}
	}
	return &unionIterator{schema: schema, inputs: inputs}, nil
}

func (u *unionIterator) Schema() *types.Schema { return u.schema }

func (u *unionIterator) Next(out *chunk.Chunk) error {
	for u.cur < len(u.inputs) {
		err := u.inputs[u.cur].Next(out)
		if err == nil {
			return nil
		}
		if err != io.EOF {
			return err
		}
		u.cur++
	}
	return io.EOF
}

func (u *unionIterator) Close() error {
	var first error
	for _, in := range u.inputs {
		if err := in.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
