package rowset

import (
	"github.com/stratadb/strata/internal/chunk"
	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/segment"
)

// horizontalWriter buffers whole rows and cuts row-complete segments at the
// MaxRowsPerSegment boundary. For deduplicating table types each segment is
// key-sorted and folded at flush, so segments are internally duplicate-free
// even before the final merge.
type horizontalWriter struct {
	writerBase
	buf *chunk.Chunk
}

func newHorizontalWriter(ctx *WriterContext) (*horizontalWriter, error) {
	buf, err := chunk.New(ctx.TabletSchema, 0)
	if err != nil {
		return nil, serrors.NewRowsetError(serrors.CodeWriteFailed, "create row buffer", err)
	}
	return &horizontalWriter{
		writerBase: writerBase{ctx: ctx},
		buf:        buf,
	}, nil
}

func (w *horizontalWriter) AddChunk(ch *chunk.Chunk) error {
	if w.built {
		return serrors.New(serrors.ErrCategoryRowset, serrors.CodeAlreadyBuilt, "AddChunk after Build")
	}
	if !ch.Schema().Equal(w.ctx.TabletSchema) {
		return serrors.New(serrors.ErrCategoryValidation, serrors.CodeSchemaMismatch,
			"chunk schema does not match the writer schema")
	}
	if err := ch.Check(); err != nil {
		return serrors.NewValidationError(serrors.CodeColumnMismatch, err.Error())
	}
	// Cut the current segment first when the chunk would push it past the
	// cap, so chunks are never split mid-flush.
	if w.buf.NumRows() > 0 && w.buf.NumRows()+ch.NumRows() > w.ctx.maxRows() {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	if err := w.buf.AppendChunk(ch); err != nil {
		return serrors.NewRowsetError(serrors.CodeWriteFailed, "buffer chunk", err)
	}
	return nil
}

func (w *horizontalWriter) Flush() error {
	if w.built {
		return serrors.New(serrors.ErrCategoryRowset, serrors.CodeAlreadyBuilt, "Flush after Build")
	}
	if w.buf.NumRows() == 0 {
		return nil
	}
	data := w.buf
	if w.ctx.TabletSchema.KeysType.Dedups() {
		sorted, err := data.SortByKeys(w.ctx.TabletSchema.NumKeyColumns())
		if err != nil {
			return serrors.NewRowsetError(serrors.CodeWriteFailed, "sort segment rows", err)
		}
		data, err = chunk.AggregateSorted(sorted)
		if err != nil {
			return serrors.NewRowsetError(serrors.CodeWriteFailed, "fold segment rows", err)
		}
	}
	sw, err := segment.NewWriter(w.segPath(len(w.segMetas)), w.ctx.TabletSchema, w.ctx.SegmentOptions)
	if err != nil {
		return err
	}
	if err := sw.Append(data); err != nil {
		sw.Abort()
		return err
	}
	meta, err := sw.Finish()
	if err != nil {
		sw.Abort()
		return err
	}
	w.segMetas = append(w.segMetas, meta)
	w.buf.Reset()
	return nil
}

func (w *horizontalWriter) AddColumns(*chunk.Chunk, []int, bool) error {
	return serrors.New(serrors.ErrCategoryRowset, serrors.CodeWriteFailed,
		"horizontal writer does not accept column groups")
}

func (w *horizontalWriter) FlushColumns() error {
	return serrors.New(serrors.ErrCategoryRowset, serrors.CodeWriteFailed,
		"horizontal writer does not accept column groups")
}

func (w *horizontalWriter) FinalFlush() error {
	return serrors.New(serrors.ErrCategoryRowset, serrors.CodeWriteFailed,
		"horizontal writer does not accept column groups")
}

func (w *horizontalWriter) Build() (*Rowset, error) {
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return w.finish()
}
