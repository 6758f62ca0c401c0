package rowset

import (
	"bytes"
	"time"

	"github.com/stratadb/strata/internal/chunk"
	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/segment"
	"github.com/stratadb/strata/pkg/types"
)

// Writer builds one rowset. Horizontal writers accept whole-row chunks via
// AddChunk/Flush; vertical writers accept column groups via
// AddColumns/FlushColumns/FinalFlush. Build finishes either kind: it cuts
// the last segment, runs the final merge when the table type demands unique
// keys across segments, and returns the built rowset in WRITING state.
//
// A writer is single-goroutine; Build at most once.
type Writer interface {
	// AddChunk buffers whole rows. Horizontal writers only.
	AddChunk(ch *chunk.Chunk) error

	// Flush cuts the buffered rows into a segment. A flush with no
	// buffered rows is a no-op. Horizontal writers only.
	Flush() error

	// AddColumns feeds one column group. columnIndexes are positions in
	// the writer schema; the key group must come first and carries all key
	// columns. Vertical writers only.
	AddColumns(ch *chunk.Chunk, columnIndexes []int, isKeyGroup bool) error

	// FlushColumns finishes the current column group. Vertical writers
	// only.
	FlushColumns() error

	// FinalFlush assembles the staged column groups into whole segments.
	// Vertical writers only.
	FinalFlush() error

	// Build finalizes the rowset. The writer is unusable afterwards.
	Build() (*Rowset, error)
}

// NewWriter creates a writer for the context's strategy.
func NewWriter(ctx *WriterContext) (Writer, error) {
	if err := ctx.Validate(); err != nil {
		return nil, err
	}
	switch ctx.WriterType {
	case WriterHorizontal:
		return newHorizontalWriter(ctx)
	case WriterVertical:
		return newVerticalWriter(ctx)
	default:
		return nil, serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidContext,
			"unknown writer type %d", ctx.WriterType)
	}
}

// writerBase carries the state both strategies share: the finished segment
// metas and the build sequence.
type writerBase struct {
	ctx      *WriterContext
	segMetas []*segment.Meta
	built    bool
}

func (b *writerBase) segPath(segID int) string {
	return SegmentFilePath(b.ctx.PathPrefix, b.ctx.RowsetID, segID)
}

// observedOverlap derives the rowset's overlap state from segment zone
// maps: segments overlap when any two key ranges intersect.
func (b *writerBase) observedOverlap() OverlapState {
	if len(b.segMetas) <= 1 {
		return NonOverlapping
	}
	type keyRange struct{ min, max []byte }
	ranges := make([]keyRange, 0, len(b.segMetas))
	for _, m := range b.segMetas {
		if m.NumRows == 0 {
			continue
		}
		if m.MinKey == nil {
			// No zone map, no claim.
			return OverlapUnknown
		}
		ranges = append(ranges, keyRange{m.MinKey, m.MaxKey})
	}
	for i := range ranges {
		for j := i + 1; j < len(ranges); j++ {
			if bytes.Compare(ranges[i].min, ranges[j].max) <= 0 &&
				bytes.Compare(ranges[j].min, ranges[i].max) <= 0 {
				return Overlapping
			}
		}
	}
	return NonOverlapping
}

// needsFinalMerge decides whether the built segments must be reconciled
// into one before the rowset is handed out. PRIMARY_KEYS tables merge
// whenever more than one segment exists; AGG and UNIQUE tables merge only
// when the segments' key ranges actually intersect; DUP tables never merge.
func (b *writerBase) needsFinalMerge(overlap OverlapState) bool {
	if len(b.segMetas) <= 1 {
		return false
	}
	switch b.ctx.TabletSchema.KeysType {
	case types.PrimaryKeys:
		return true
	case types.AggKeys, types.UniqueKeys:
		return overlap != NonOverlapping
	default:
		return false
	}
}

// finish runs the shared tail of Build: overlap detection, the final merge
// when required, and meta assembly.
func (b *writerBase) finish() (*Rowset, error) {
	if b.built {
		return nil, serrors.New(serrors.ErrCategoryRowset, serrors.CodeAlreadyBuilt, "Build called twice")
	}
	b.built = true

	overlap := b.observedOverlap()
	if b.needsFinalMerge(overlap) {
		if err := b.finalMerge(); err != nil {
			return nil, err
		}
		overlap = NonOverlapping
	}

	var numRows, totalSize int64
	for _, m := range b.segMetas {
		numRows += m.NumRows
		totalSize += m.FileSize
	}
	meta := &Meta{
		RowsetID:            b.ctx.RowsetID,
		TabletID:            b.ctx.TabletID,
		SchemaHash:          b.ctx.SchemaHash,
		PartitionID:         b.ctx.PartitionID,
		Version:             b.ctx.Version,
		NumSegments:         len(b.segMetas),
		NumRows:             numRows,
		TotalSize:           totalSize,
		State:               StateWriting,
		SegmentsOverlap:     overlap,
		ReferencedColumnIDs: b.ctx.ReferencedColumnIDs,
		CreatedAt:           time.Now().UTC(),
	}
	if meta.SchemaHash == 0 {
		meta.SchemaHash = b.ctx.TabletSchema.Hash()
	}
	return Open(b.ctx.PathPrefix, meta, b.ctx.TabletSchema)
}
