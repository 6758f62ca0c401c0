package rowset

import (
	"io"
	"os"

	"github.com/stratadb/strata/internal/chunk"
	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/iterator"
	"github.com/stratadb/strata/internal/segment"
	"github.com/stratadb/strata/pkg/types"
)

// columnGroup is one finished vertical column group: its position in the
// writer schema and the per-segment files it was staged into.
type columnGroup struct {
	indexes []int
	schema  *types.Schema
	isKey   bool
	paths   []string
}

// groupRun is the column group currently being written.
type groupRun struct {
	columnGroup
	groupID   int
	segIdx    int
	rowsInSeg int64
	total     int64
	w         *segment.Writer
}

// verticalWriter accepts one column group at a time. The key group comes
// first and fixes the segment boundaries; every value group must replay the
// exact same row counts, segment by segment. Groups are staged in per-group
// files and stitched into whole segments by FinalFlush.
//
// Rows must arrive pre-sorted for deduplicating table types; the vertical
// writer persists them as given.
type verticalWriter struct {
	writerBase
	numKeys   int
	keyDone   bool
	segRows   []int64
	totalRows int64
	cur       *groupRun
	groups    []columnGroup
	flushed   bool
}

func newVerticalWriter(ctx *WriterContext) (*verticalWriter, error) {
	numKeys := ctx.TabletSchema.NumKeyColumns()
	if numKeys == 0 {
		return nil, serrors.New(serrors.ErrCategoryValidation, serrors.CodeInvalidContext,
			"vertical write requires key columns")
	}
	return &verticalWriter{
		writerBase: writerBase{ctx: ctx},
		numKeys:    numKeys,
	}, nil
}

func (w *verticalWriter) AddChunk(*chunk.Chunk) error {
	return serrors.New(serrors.ErrCategoryRowset, serrors.CodeWriteFailed,
		"vertical writer does not accept whole-row chunks")
}

func (w *verticalWriter) Flush() error {
	return serrors.New(serrors.ErrCategoryRowset, serrors.CodeWriteFailed,
		"vertical writer does not accept whole-row chunks")
}

func (w *verticalWriter) AddColumns(ch *chunk.Chunk, columnIndexes []int, isKeyGroup bool) error {
	if w.built || w.flushed {
		return serrors.New(serrors.ErrCategoryRowset, serrors.CodeAlreadyBuilt, "AddColumns after FinalFlush")
	}
	if w.cur == nil {
		if err := w.startGroup(columnIndexes, isKeyGroup); err != nil {
			return err
		}
	} else if !equalInts(w.cur.indexes, columnIndexes) || w.cur.isKey != isKeyGroup {
		return serrors.New(serrors.ErrCategoryValidation, serrors.CodeColumnMismatch,
			"column group changed without FlushColumns")
	}
	if len(ch.Columns()) != len(columnIndexes) {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeColumnMismatch,
			"chunk has %d columns, group has %d", len(ch.Columns()), len(columnIndexes))
	}
	if err := ch.Check(); err != nil {
		return serrors.NewValidationError(serrors.CodeColumnMismatch, err.Error())
	}
	if w.cur.isKey {
		return w.appendKeyRows(ch)
	}
	return w.appendValueRows(ch)
}

// startGroup opens a new column group. The key group must be the first
// group and must carry the schema's key prefix in order.
func (w *verticalWriter) startGroup(columnIndexes []int, isKeyGroup bool) error {
	if len(columnIndexes) == 0 {
		return serrors.New(serrors.ErrCategoryValidation, serrors.CodeColumnMismatch, "empty column group")
	}
	if isKeyGroup && w.keyDone {
		return serrors.New(serrors.ErrCategoryValidation, serrors.CodeColumnMismatch,
			"key group written twice")
	}
	if !isKeyGroup && !w.keyDone {
		return serrors.New(serrors.ErrCategoryValidation, serrors.CodeColumnMismatch,
			"value group before the key group")
	}
	if isKeyGroup {
		if len(columnIndexes) < w.numKeys {
			return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeColumnMismatch,
				"key group has %d columns, schema has %d key columns", len(columnIndexes), w.numKeys)
		}
		for k := 0; k < w.numKeys; k++ {
			if columnIndexes[k] != k {
				return serrors.New(serrors.ErrCategoryValidation, serrors.CodeColumnMismatch,
					"key group must start with the schema's key columns in order")
			}
		}
	} else {
		for _, idx := range columnIndexes {
			if idx < w.numKeys {
				return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeColumnMismatch,
					"value group contains key column %d", idx)
			}
		}
	}
	proj, err := w.ctx.TabletSchema.Project(columnIndexes)
	if err != nil {
		return serrors.NewValidationError(serrors.CodeColumnMismatch, err.Error())
	}
	w.cur = &groupRun{
		columnGroup: columnGroup{
			indexes: append([]int(nil), columnIndexes...),
			schema:  proj,
			isKey:   isKeyGroup,
		},
		groupID: len(w.groups),
	}
	return w.openGroupSegment()
}

// openGroupSegment starts the group file for the group's current segment.
func (w *verticalWriter) openGroupSegment() error {
	path := segmentGroupPath(w.ctx.PathPrefix, w.ctx.RowsetID, w.cur.segIdx, w.cur.groupID)
	sw, err := segment.NewWriter(path, w.cur.schema, w.ctx.SegmentOptions)
	if err != nil {
		return err
	}
	w.cur.w = sw
	w.cur.paths = append(w.cur.paths, path)
	w.cur.rowsInSeg = 0
	return nil
}

// closeGroupSegment finishes the group's current segment file. Key groups
// record the row count as the boundary value groups must replay.
func (w *verticalWriter) closeGroupSegment() error {
	meta, err := w.cur.w.Finish()
	if err != nil {
		return err
	}
	w.cur.w = nil
	if w.cur.isKey {
		w.segRows = append(w.segRows, meta.NumRows)
	}
	return nil
}

// appendKeyRows writes key-group rows, cutting segments at the row cap the
// same way the horizontal writer does.
func (w *verticalWriter) appendKeyRows(ch *chunk.Chunk) error {
	n := ch.NumRows()
	if w.cur.rowsInSeg > 0 && w.cur.rowsInSeg+int64(n) > int64(w.ctx.maxRows()) {
		if err := w.closeGroupSegment(); err != nil {
			return err
		}
		w.cur.segIdx++
		if err := w.openGroupSegment(); err != nil {
			return err
		}
	}
	if err := w.cur.w.Append(ch); err != nil {
		return err
	}
	w.cur.rowsInSeg += int64(n)
	w.cur.total += int64(n)
	return nil
}

// appendValueRows writes value-group rows, splitting chunks on the segment
// boundaries the key group established.
func (w *verticalWriter) appendValueRows(ch *chunk.Chunk) error {
	n := ch.NumRows()
	off := 0
	for off < n {
		if w.cur.segIdx >= len(w.segRows) {
			return serrors.Newf(serrors.ErrCategoryRowset, serrors.CodeRowCountMismatch,
				"value group %d has more rows than the key group (%d)", w.cur.groupID, w.totalRows)
		}
		space := w.segRows[w.cur.segIdx] - w.cur.rowsInSeg
		if space == 0 {
			if err := w.closeGroupSegment(); err != nil {
				return err
			}
			w.cur.segIdx++
			if w.cur.segIdx >= len(w.segRows) {
				return serrors.Newf(serrors.ErrCategoryRowset, serrors.CodeRowCountMismatch,
					"value group %d has more rows than the key group (%d)", w.cur.groupID, w.totalRows)
			}
			if err := w.openGroupSegment(); err != nil {
				return err
			}
			continue
		}
		take := int64(n - off)
		if take > space {
			take = space
		}
		part, err := chunk.New(w.cur.schema, int(take))
		if err != nil {
			return serrors.NewRowsetError(serrors.CodeWriteFailed, "slice value rows", err)
		}
		if err := part.AppendRowsFrom(ch, off, off+int(take)); err != nil {
			return serrors.NewRowsetError(serrors.CodeWriteFailed, "slice value rows", err)
		}
		if err := w.cur.w.Append(part); err != nil {
			return err
		}
		w.cur.rowsInSeg += take
		off += int(take)
	}
	w.cur.total += int64(n)
	return nil
}

func (w *verticalWriter) FlushColumns() error {
	if w.built || w.flushed {
		return serrors.New(serrors.ErrCategoryRowset, serrors.CodeAlreadyBuilt, "FlushColumns after FinalFlush")
	}
	if w.cur == nil {
		return nil
	}
	if err := w.closeGroupSegment(); err != nil {
		return err
	}
	if w.cur.isKey {
		w.keyDone = true
		w.totalRows = 0
		for _, n := range w.segRows {
			w.totalRows += n
		}
		if w.totalRows == 0 {
			// Empty write: drop the staged file and the phantom segment.
			os.Remove(w.cur.paths[0])
			w.segRows = nil
			w.cur = nil
			return nil
		}
	} else {
		if w.totalRows == 0 && w.cur.total == 0 {
			os.Remove(w.cur.paths[0])
			w.cur = nil
			return nil
		}
		if w.cur.total != w.totalRows || w.cur.segIdx != len(w.segRows)-1 ||
			w.cur.rowsInSeg != w.segRows[w.cur.segIdx] {
			return serrors.Newf(serrors.ErrCategoryRowset, serrors.CodeRowCountMismatch,
				"value group %d wrote %d rows, key group wrote %d", w.cur.groupID, w.cur.total, w.totalRows)
		}
	}
	w.groups = append(w.groups, w.cur.columnGroup)
	w.cur = nil
	return nil
}

func (w *verticalWriter) FinalFlush() error {
	if w.built {
		return serrors.New(serrors.ErrCategoryRowset, serrors.CodeAlreadyBuilt, "FinalFlush after Build")
	}
	if w.flushed {
		return nil
	}
	if w.cur != nil {
		return serrors.New(serrors.ErrCategoryRowset, serrors.CodeWriteFailed,
			"FinalFlush with an unflushed column group")
	}
	w.flushed = true
	if len(w.groups) == 0 {
		return nil
	}
	if err := w.checkCoverage(); err != nil {
		return err
	}
	for seg := range w.segRows {
		meta, err := w.stitchSegment(seg)
		if err != nil {
			return err
		}
		w.segMetas = append(w.segMetas, meta)
	}
	for _, g := range w.groups {
		for _, path := range g.paths {
			os.Remove(path)
		}
	}
	return nil
}

// checkCoverage verifies the groups partition the writer schema: every
// column appears in exactly one group.
func (w *verticalWriter) checkCoverage() error {
	seen := make([]bool, len(w.ctx.TabletSchema.Columns))
	for _, g := range w.groups {
		for _, idx := range g.indexes {
			if seen[idx] {
				return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeColumnMismatch,
					"column %d written by two groups", idx)
			}
			seen[idx] = true
		}
	}
	for idx, ok := range seen {
		if !ok {
			return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeColumnMismatch,
				"column %d (%s) written by no group", idx, w.ctx.TabletSchema.Columns[idx].Name)
		}
	}
	return nil
}

// stitchSegment recombines one segment's group files into a whole-schema
// segment, streaming all groups in lockstep.
func (w *verticalWriter) stitchSegment(seg int) (*segment.Meta, error) {
	return stitchGroups(w.segPath(seg), w.ctx.TabletSchema, w.groups, seg, w.ctx.SegmentOptions)
}

// stitchGroups streams the given groups' files for one segment in lockstep
// and writes the recombined rows through a whole-schema segment writer.
func stitchGroups(outPath string, schema *types.Schema, groups []columnGroup, seg int, opts segment.WriterOptions) (*segment.Meta, error) {
	its := make([]iterator.ChunkIterator, len(groups))
	bufs := make([]*chunk.Chunk, len(groups))
	readers := make([]*segment.Reader, len(groups))
	defer func() {
		for _, it := range its {
			if it != nil {
				it.Close()
			}
		}
		for _, r := range readers {
			if r != nil {
				r.Close()
			}
		}
	}()
	for i, g := range groups {
		r, err := segment.Open(g.paths[seg], g.schema)
		if err != nil {
			return nil, err
		}
		readers[i] = r
		it, err := r.NewIterator(g.schema, segment.IteratorOptions{ChunkSize: segment.DefaultPageRows})
		if err != nil {
			return nil, err
		}
		its[i] = it
		bufs[i], err = chunk.New(g.schema, segment.DefaultPageRows)
		if err != nil {
			return nil, serrors.NewRowsetError(serrors.CodeWriteFailed, "create stitch buffer", err)
		}
	}

	sw, err := segment.NewWriter(outPath, schema, opts)
	if err != nil {
		return nil, err
	}
	out, err := chunk.New(schema, segment.DefaultPageRows)
	if err != nil {
		sw.Abort()
		return nil, serrors.NewRowsetError(serrors.CodeWriteFailed, "create stitch output", err)
	}
	for {
		rows := -1
		done := false
		for i, it := range its {
			bufs[i].Reset()
			err := it.Next(bufs[i])
			if err == io.EOF {
				done = true
				continue
			}
			if err != nil {
				sw.Abort()
				return nil, err
			}
			if rows == -1 {
				rows = bufs[i].NumRows()
			} else if bufs[i].NumRows() != rows {
				sw.Abort()
				return nil, serrors.Newf(serrors.ErrCategoryRowset, serrors.CodeRowCountMismatch,
					"group files of %s diverge mid-segment", outPath)
			}
		}
		if done {
			if rows > 0 {
				sw.Abort()
				return nil, serrors.Newf(serrors.ErrCategoryRowset, serrors.CodeRowCountMismatch,
					"group files of %s diverge at end of segment", outPath)
			}
			break
		}
		out.Reset()
		for gi, g := range groups {
			for k, colIdx := range g.indexes {
				if err := out.Column(colIdx).AppendFrom(bufs[gi].Column(k), 0, rows); err != nil {
					sw.Abort()
					return nil, serrors.NewRowsetError(serrors.CodeWriteFailed, "stitch columns", err)
				}
			}
		}
		if err := sw.Append(out); err != nil {
			sw.Abort()
			return nil, err
		}
	}
	return sw.Finish()
}

func (w *verticalWriter) Build() (*Rowset, error) {
	if err := w.FinalFlush(); err != nil {
		return nil, err
	}
	return w.finish()
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
