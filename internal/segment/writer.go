package segment

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"

	"github.com/golang/snappy"
	"github.com/stratadb/strata/internal/bloom"
	"github.com/stratadb/strata/internal/chunk"
	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

// WriterOptions configures a segment writer.
type WriterOptions struct {
	// PageRows is the row count per column page. Zero means
	// DefaultPageRows.
	PageRows int

	// BloomFPR is the target false positive rate of the key filter.
	// Zero means DefaultBloomFPR.
	BloomFPR float64

	// ExpectedKeys sizes the key filter. Zero means 64k.
	ExpectedKeys int
}

func (o *WriterOptions) withDefaults() WriterOptions {
	out := *o
	if out.PageRows <= 0 {
		out.PageRows = DefaultPageRows
	}
	if out.BloomFPR <= 0 {
		out.BloomFPR = DefaultBloomFPR
	}
	if out.ExpectedKeys <= 0 {
		out.ExpectedKeys = 64 * 1024
	}
	return out
}

// Meta summarizes a finished segment.
type Meta struct {
	NumRows   int64
	FileSize  int64
	MinKey    []byte // memcomparable; nil when no key columns
	MaxKey    []byte
}

// Writer serializes one ordered run of rows to a segment file. Append copies
// rows into a one-page buffer; full pages are compressed and written through
// immediately, so memory stays bounded by the page size.
type Writer struct {
	path    string
	schema  *types.Schema
	opts    WriterOptions
	f       *os.File
	offset  int64
	pending *chunk.Chunk
	cols    []columnMeta
	numRows int64
	numKeys int
	filter  *bloom.Filter
	minKey  []byte
	maxKey  []byte
	done    bool
}

// NewWriter creates the segment file and writes the header.
func NewWriter(path string, schema *types.Schema, opts WriterOptions) (*Writer, error) {
	opts = opts.withDefaults()
	pending, err := chunk.New(schema, opts.PageRows)
	if err != nil {
		return nil, serrors.NewSegmentError(serrors.CodeWriteFailed, "create page buffer", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, serrors.NewSegmentError(serrors.CodeWriteFailed, "create segment file "+path, err)
	}
	if _, err := f.WriteString(magic); err != nil {
		f.Close()
		os.Remove(path)
		return nil, serrors.NewSegmentError(serrors.CodeWriteFailed, "write segment header", err)
	}
	w := &Writer{
		path:    path,
		schema:  schema,
		opts:    opts,
		f:       f,
		offset:  int64(len(magic)),
		pending: pending,
		cols:    make([]columnMeta, len(schema.Columns)),
		numKeys: schema.NumKeyColumns(),
	}
	for i, def := range schema.Columns {
		w.cols[i] = columnMeta{ID: def.ID, Name: def.Name, Type: def.Type}
	}
	if w.numKeys > 0 {
		w.filter = bloom.NewWithEstimates(opts.ExpectedKeys, opts.BloomFPR)
	}
	return w, nil
}

// Schema returns the schema this writer persists.
func (w *Writer) Schema() *types.Schema { return w.schema }

// NumRows returns the rows appended so far.
func (w *Writer) NumRows() int64 { return w.numRows }

// Append adds all rows of ch. The chunk's columns must match the writer's
// schema in count and type.
func (w *Writer) Append(ch *chunk.Chunk) error {
	if w.done {
		return serrors.New(serrors.ErrCategorySegment, serrors.CodeWriteFailed, "append after Finish")
	}
	if len(ch.Columns()) != len(w.schema.Columns) {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeSchemaMismatch,
			"chunk has %d columns, segment schema has %d", len(ch.Columns()), len(w.schema.Columns))
	}
	for i, def := range w.schema.Columns {
		if ch.Column(i).Type() != def.Type {
			return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeSchemaMismatch,
				"column %d is %s, segment schema wants %s", i, ch.Column(i).Type(), def.Type)
		}
	}
	if err := ch.Check(); err != nil {
		return serrors.NewValidationError(serrors.CodeColumnMismatch, err.Error())
	}

	n := ch.NumRows()
	for row := 0; row < n; row++ {
		if w.numKeys > 0 {
			w.observeKey(ch, row)
		}
	}

	appended := 0
	for appended < n {
		space := w.opts.PageRows - w.pending.NumRows()
		take := n - appended
		if take > space {
			take = space
		}
		if err := w.pending.AppendRowsFrom(ch, appended, appended+take); err != nil {
			return serrors.NewSegmentError(serrors.CodeWriteFailed, "buffer rows", err)
		}
		appended += take
		if w.pending.NumRows() == w.opts.PageRows {
			if err := w.flushPage(); err != nil {
				return err
			}
		}
	}
	w.numRows += int64(n)
	return nil
}

// observeKey feeds the key filter and zone map with one row's key tuple.
func (w *Writer) observeKey(ch *chunk.Chunk, row int) {
	w.filter.Add(chunk.EncodeKey(nil, ch, row, w.numKeys))
	ordered := chunk.EncodeKeyOrdered(nil, ch, row, w.numKeys)
	if w.minKey == nil || bytes.Compare(ordered, w.minKey) < 0 {
		w.minKey = ordered
	}
	if w.maxKey == nil || bytes.Compare(ordered, w.maxKey) > 0 {
		w.maxKey = ordered
	}
}

// flushPage compresses and writes one page per column from the buffer.
func (w *Writer) flushPage() error {
	n := w.pending.NumRows()
	if n == 0 {
		return nil
	}
	for i := range w.schema.Columns {
		raw, err := encodePage(w.pending.Column(i), 0, n)
		if err != nil {
			return serrors.NewSegmentError(serrors.CodeWriteFailed, "encode page", err)
		}
		block := snappy.Encode(nil, raw)
		if _, err := w.f.Write(block); err != nil {
			return serrors.NewSegmentError(serrors.CodeWriteFailed, "write page", err)
		}
		w.cols[i].Pages = append(w.cols[i].Pages, pageMeta{
			Offset:  w.offset,
			Size:    int32(len(block)),
			NumRows: int32(n),
		})
		w.offset += int64(len(block))
	}
	w.pending.Reset()
	return nil
}

// Finish flushes the remaining buffer, writes the footer and closes the
// file. The writer is unusable afterwards.
func (w *Writer) Finish() (*Meta, error) {
	if w.done {
		return nil, serrors.New(serrors.ErrCategorySegment, serrors.CodeWriteFailed, "Finish called twice")
	}
	if err := w.flushPage(); err != nil {
		return nil, err
	}
	w.done = true

	ft := footer{
		NumRows:       w.numRows,
		KeysType:      w.schema.KeysType,
		NumKeyColumns: w.numKeys,
		Columns:       w.cols,
		MinKey:        w.minKey,
		MaxKey:        w.maxKey,
	}
	if w.filter != nil {
		ft.KeyBloom = w.filter.Serialize()
	}
	ftBytes, err := json.Marshal(&ft)
	if err != nil {
		return nil, serrors.NewSegmentError(serrors.CodeWriteFailed, "encode footer", err)
	}
	if _, err := w.f.Write(ftBytes); err != nil {
		return nil, serrors.NewSegmentError(serrors.CodeWriteFailed, "write footer", err)
	}
	var tail [4]byte
	binary.LittleEndian.PutUint32(tail[:], uint32(len(ftBytes)))
	if _, err := w.f.Write(tail[:]); err != nil {
		return nil, serrors.NewSegmentError(serrors.CodeWriteFailed, "write footer length", err)
	}
	if _, err := w.f.WriteString(magic); err != nil {
		return nil, serrors.NewSegmentError(serrors.CodeWriteFailed, "write trailer magic", err)
	}
	if err := w.f.Sync(); err != nil {
		return nil, serrors.NewSegmentError(serrors.CodeWriteFailed, "sync segment", err)
	}
	size := w.offset + int64(len(ftBytes)) + 4 + int64(len(magic))
	if err := w.f.Close(); err != nil {
		return nil, serrors.NewSegmentError(serrors.CodeWriteFailed, "close segment", err)
	}
	return &Meta{
		NumRows:  w.numRows,
		FileSize: size,
		MinKey:   w.minKey,
		MaxKey:   w.maxKey,
	}, nil
}

// Abort discards the writer and removes the partial file. Safe to call after
// a failed Append; a no-op after Finish.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.f.Close()
	os.Remove(w.path)
}
