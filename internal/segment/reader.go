package segment

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/stratadb/strata/internal/bloom"
	"github.com/stratadb/strata/internal/chunk"
	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/iterator"
	"github.com/stratadb/strata/pkg/types"
)

// IteratorOptions configures a segment read.
type IteratorOptions struct {
	// ChunkSize caps rows per Next call. Zero means DefaultPageRows.
	ChunkSize int

	// Stats, when non-nil, accumulates read counters.
	Stats *iterator.ReadStats
}

// Reader is an opened, immutable segment file. Any number of iterators may
// be created from one reader; iterators themselves are single-consumer.
type Reader struct {
	path   string
	schema *types.Schema
	f      *os.File
	ft     footer
	filter *bloom.Filter
}

// Open opens a segment file and validates its footer against the schema it
// was written with.
func Open(path string, schema *types.Schema) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, serrors.NewSegmentError(serrors.CodeReadFailed, "open segment "+path, err)
	}
	r := &Reader{path: path, schema: schema, f: f}
	if err := r.readFooter(); err != nil {
		f.Close()
		return nil, err
	}
	if len(r.ft.Columns) != len(schema.Columns) {
		f.Close()
		return nil, serrors.Newf(serrors.ErrCategorySegment, serrors.CodeCorruptSegment,
			"segment %s has %d columns, schema expects %d", path, len(r.ft.Columns), len(schema.Columns))
	}
	for i, def := range schema.Columns {
		cm := r.ft.Columns[i]
		if cm.ID != def.ID || cm.Type != def.Type {
			f.Close()
			return nil, serrors.Newf(serrors.ErrCategorySegment, serrors.CodeCorruptSegment,
				"segment %s column %d is (id=%d,%s), schema expects (id=%d,%s)",
				path, i, cm.ID, cm.Type, def.ID, def.Type)
		}
	}
	if len(r.ft.KeyBloom) > 0 {
		filter, err := bloom.Deserialize(r.ft.KeyBloom)
		if err != nil {
			f.Close()
			return nil, serrors.NewSegmentError(serrors.CodeCorruptSegment, "decode key filter", err)
		}
		r.filter = filter
	}
	return r, nil
}

// readFooter validates both magics and decodes the JSON footer.
func (r *Reader) readFooter() error {
	st, err := r.f.Stat()
	if err != nil {
		return serrors.NewSegmentError(serrors.CodeReadFailed, "stat segment", err)
	}
	minSize := int64(2*len(magic) + 4)
	if st.Size() < minSize {
		return serrors.Newf(serrors.ErrCategorySegment, serrors.CodeCorruptSegment,
			"segment %s is %d bytes, below minimum %d", r.path, st.Size(), minSize)
	}
	head := make([]byte, len(magic))
	if _, err := r.f.ReadAt(head, 0); err != nil {
		return serrors.NewSegmentError(serrors.CodeReadFailed, "read header", err)
	}
	tail := make([]byte, len(magic)+4)
	if _, err := r.f.ReadAt(tail, st.Size()-int64(len(tail))); err != nil {
		return serrors.NewSegmentError(serrors.CodeReadFailed, "read trailer", err)
	}
	if string(head) != magic || string(tail[4:]) != magic {
		return serrors.Newf(serrors.ErrCategorySegment, serrors.CodeCorruptSegment,
			"segment %s has bad magic", r.path)
	}
	ftLen := int64(binary.LittleEndian.Uint32(tail[:4]))
	ftEnd := st.Size() - int64(len(tail))
	if ftLen <= 0 || ftLen > ftEnd-int64(len(magic)) {
		return serrors.Newf(serrors.ErrCategorySegment, serrors.CodeCorruptSegment,
			"segment %s has impossible footer length %d", r.path, ftLen)
	}
	ftBytes := make([]byte, ftLen)
	if _, err := r.f.ReadAt(ftBytes, ftEnd-ftLen); err != nil {
		return serrors.NewSegmentError(serrors.CodeReadFailed, "read footer", err)
	}
	if err := json.Unmarshal(ftBytes, &r.ft); err != nil {
		return serrors.NewSegmentError(serrors.CodeCorruptSegment, "decode footer", err)
	}
	return nil
}

// NumRows returns the persisted row count.
func (r *Reader) NumRows() int64 { return r.ft.NumRows }

// MinKey returns the memcomparable lower key bound, or nil.
func (r *Reader) MinKey() []byte { return r.ft.MinKey }

// MaxKey returns the memcomparable upper key bound, or nil.
func (r *Reader) MaxKey() []byte { return r.ft.MaxKey }

// MayContainKey tests the key filter with an encoded key tuple. Returns
// true when the segment has no filter.
func (r *Reader) MayContainKey(encodedKey []byte) bool {
	if r.filter == nil {
		return true
	}
	return r.filter.Contains(encodedKey)
}

// Close closes the underlying file. Iterators created from this reader must
// be closed or exhausted first.
func (r *Reader) Close() error {
	return r.f.Close()
}

// NewIterator returns a forward iterator over the given column projection,
// in the segment's fixed on-disk row order. The projection must select
// columns present in the segment, matched by column id.
func (r *Reader) NewIterator(projection *types.Schema, opts IteratorOptions) (iterator.ChunkIterator, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultPageRows
	}
	cursors := make([]*columnCursor, len(projection.Columns))
	for i, def := range projection.Columns {
		var cm *columnMeta
		for j := range r.ft.Columns {
			if r.ft.Columns[j].ID == def.ID {
				cm = &r.ft.Columns[j]
				break
			}
		}
		if cm == nil {
			return nil, serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeColumnMismatch,
				"segment %s has no column with id %d", r.path, def.ID)
		}
		if cm.Type != def.Type {
			return nil, serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeColumnMismatch,
				"column id %d is %s, projection wants %s", def.ID, cm.Type, def.Type)
		}
		cursors[i] = &columnCursor{meta: cm, typ: def.Type}
	}
	if opts.Stats != nil {
		opts.Stats.SegmentsOpened++
	}
	return &segmentIterator{
		r:          r,
		projection: projection,
		opts:       opts,
		cursors:    cursors,
		remaining:  r.ft.NumRows,
	}, nil
}

// columnCursor streams one column page by page.
type columnCursor struct {
	meta    *columnMeta
	typ     types.ColumnType
	pageIdx int
	decoded chunk.Column
	pos     int
}

// segmentIterator yields the segment's rows in on-disk order.
type segmentIterator struct {
	r          *Reader
	projection *types.Schema
	opts       IteratorOptions
	cursors    []*columnCursor
	remaining  int64
	closed     bool
}

func (it *segmentIterator) Schema() *types.Schema { return it.projection }

func (it *segmentIterator) Next(out *chunk.Chunk) error {
	if it.closed {
		return serrors.New(serrors.ErrCategorySegment, serrors.CodeReadFailed, "Next after Close")
	}
	if it.remaining == 0 {
		return io.EOF
	}
	want := int64(it.opts.ChunkSize)
	if want > it.remaining {
		want = it.remaining
	}
	for i, cur := range it.cursors {
		copied := int64(0)
		for copied < want {
			if cur.decoded == nil || cur.pos == cur.decoded.Len() {
				if err := it.loadPage(cur); err != nil {
					return err
				}
			}
			take := int64(cur.decoded.Len() - cur.pos)
			if take > want-copied {
				take = want - copied
			}
			if err := out.Column(i).AppendFrom(cur.decoded, cur.pos, cur.pos+int(take)); err != nil {
				return serrors.NewSegmentError(serrors.CodeReadFailed, "copy page rows", err)
			}
			cur.pos += int(take)
			copied += take
		}
	}
	it.remaining -= want
	if it.opts.Stats != nil {
		it.opts.Stats.RowsRead += want
	}
	return nil
}

// loadPage decodes the cursor's next page.
func (it *segmentIterator) loadPage(cur *columnCursor) error {
	if cur.pageIdx >= len(cur.meta.Pages) {
		return serrors.Newf(serrors.ErrCategorySegment, serrors.CodeCorruptSegment,
			"segment %s column %q ran out of pages with rows remaining", it.r.path, cur.meta.Name)
	}
	pm := cur.meta.Pages[cur.pageIdx]
	block := make([]byte, pm.Size)
	if _, err := it.r.f.ReadAt(block, pm.Offset); err != nil {
		return serrors.NewSegmentError(serrors.CodeReadFailed, "read page", err)
	}
	raw, err := snappy.Decode(nil, block)
	if err != nil {
		return serrors.NewSegmentError(serrors.CodeCorruptSegment, "decompress page", err)
	}
	col, err := chunk.NewColumn(cur.typ, int(pm.NumRows))
	if err != nil {
		return serrors.NewSegmentError(serrors.CodeReadFailed, "allocate page column", err)
	}
	if err := decodePage(cur.typ, raw, int(pm.NumRows), col); err != nil {
		return serrors.NewSegmentError(serrors.CodeCorruptSegment, "decode page", err)
	}
	cur.decoded = col
	cur.pos = 0
	cur.pageIdx++
	if it.opts.Stats != nil {
		it.opts.Stats.PagesRead++
		it.opts.Stats.BytesRead += int64(pm.Size)
		it.opts.Stats.BytesUncompressed += int64(len(raw))
	}
	return nil
}

func (it *segmentIterator) Close() error {
	it.closed = true
	return nil
}
