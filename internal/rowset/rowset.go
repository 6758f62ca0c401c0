package rowset

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/iterator"
	"github.com/stratadb/strata/internal/segment"
	"github.com/stratadb/strata/pkg/types"
)

// SegmentFilePath returns the canonical path of one segment of a rowset.
func SegmentFilePath(prefix string, id types.RowsetID, segID int) string {
	return filepath.Join(prefix, fmt.Sprintf("%s_%d.dat", id, segID))
}

// segmentGroupPath names the transient per-group file a vertical write
// stages one column group of one segment in.
func segmentGroupPath(prefix string, id types.RowsetID, segID, groupID int) string {
	return filepath.Join(prefix, fmt.Sprintf("%s_%d_g%d.col", id, segID, groupID))
}

// ReadOptions configures a rowset read.
type ReadOptions struct {
	// Sorted requests globally key-ordered output. For overlapping rowsets
	// this merges segments on the fly; the projection must then start with
	// at least one key column.
	Sorted bool

	// ChunkSize caps rows per Next call. Zero means the segment default.
	ChunkSize int

	// Stats, when non-nil, accumulates read counters.
	Stats *iterator.ReadStats
}

// Rowset is a built, immutable collection of segments plus its metadata.
type Rowset struct {
	meta       *Meta
	schema     *types.Schema
	pathPrefix string
	segments   []*segment.Reader
}

// Open opens all segments of a persisted rowset.
func Open(pathPrefix string, meta *Meta, schema *types.Schema) (*Rowset, error) {
	segments := make([]*segment.Reader, 0, meta.NumSegments)
	for i := 0; i < meta.NumSegments; i++ {
		r, err := segment.Open(SegmentFilePath(pathPrefix, meta.RowsetID, i), schema)
		if err != nil {
			for _, s := range segments {
				s.Close()
			}
			return nil, serrors.NewRowsetError(serrors.CodeReadFailed,
				fmt.Sprintf("open segment %d of rowset %s", i, meta.RowsetID), err)
		}
		segments = append(segments, r)
	}
	return &Rowset{meta: meta, schema: schema, pathPrefix: pathPrefix, segments: segments}, nil
}

// Meta returns the rowset metadata.
func (r *Rowset) Meta() *Meta { return r.meta }

// Schema returns the schema the rowset was written with.
func (r *Rowset) Schema() *types.Schema { return r.schema }

// NumSegments returns the segment count.
func (r *Rowset) NumSegments() int { return len(r.segments) }

// NumRows returns the total row count across segments.
func (r *Rowset) NumRows() int64 { return r.meta.NumRows }

// PathPrefix returns the directory the segment files live under.
func (r *Rowset) PathPrefix() string { return r.pathPrefix }

// SegmentIterators returns one iterator per segment over the projection,
// in segment order. The caller owns the iterators.
func (r *Rowset) SegmentIterators(projection *types.Schema, opts ReadOptions) ([]iterator.ChunkIterator, error) {
	its := make([]iterator.ChunkIterator, 0, len(r.segments))
	for _, seg := range r.segments {
		it, err := seg.NewIterator(projection, segment.IteratorOptions{
			ChunkSize: opts.ChunkSize,
			Stats:     opts.Stats,
		})
		if err != nil {
			for _, open := range its {
				open.Close()
			}
			return nil, err
		}
		its = append(its, it)
	}
	return its, nil
}

// NewIterator returns a single iterator over the whole rowset. Unsorted
// reads concatenate segments in write order. Sorted reads merge overlapping
// segments; non-overlapping segments are concatenated in ascending key
// order, which is already globally sorted.
func (r *Rowset) NewIterator(projection *types.Schema, opts ReadOptions) (iterator.ChunkIterator, error) {
	if len(r.segments) == 0 {
		return iterator.NewEmpty(projection), nil
	}
	if !opts.Sorted {
		its, err := r.SegmentIterators(projection, opts)
		if err != nil {
			return nil, err
		}
		return iterator.NewUnion(its)
	}
	if projection.NumKeyColumns() == 0 {
		return nil, serrors.New(serrors.ErrCategoryValidation, serrors.CodeColumnMismatch,
			"sorted read requires key columns in the projection")
	}
	if r.meta.SegmentsOverlap == Overlapping || r.meta.SegmentsOverlap == OverlapUnknown {
		its, err := r.SegmentIterators(projection, opts)
		if err != nil {
			return nil, err
		}
		return iterator.NewMerge(projection, its, iterator.MergeOptions{ChunkSize: opts.ChunkSize})
	}

	// Non-overlapping: order segments by their lower key bound.
	order := make([]int, len(r.segments))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return bytes.Compare(r.segments[order[a]].MinKey(), r.segments[order[b]].MinKey()) < 0
	})
	its := make([]iterator.ChunkIterator, 0, len(order))
	for _, idx := range order {
		it, err := r.segments[idx].NewIterator(projection, segment.IteratorOptions{
			ChunkSize: opts.ChunkSize,
			Stats:     opts.Stats,
		})
		if err != nil {
			for _, open := range its {
				open.Close()
			}
			return nil, err
		}
		its = append(its, it)
	}
	return iterator.NewUnion(its)
}

// MayContainKey tests the segments' key filters with an encoded key tuple.
// False means the key is definitely absent.
func (r *Rowset) MayContainKey(encodedKey []byte) bool {
	for _, seg := range r.segments {
		if seg.MayContainKey(encodedKey) {
			return true
		}
	}
	return false
}

// Close closes all segment readers.
func (r *Rowset) Close() error {
	var first error
	for _, seg := range r.segments {
		if err := seg.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Remove closes the rowset and deletes its segment files. Used to discard
// uncommitted rowsets.
func (r *Rowset) Remove() error {
	r.Close()
	var first error
	for i := range r.segments {
		path := SegmentFilePath(r.pathPrefix, r.meta.RowsetID, i)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && first == nil {
			first = serrors.NewRowsetError(serrors.CodeWriteFailed, "remove "+path, err)
		}
	}
	return first
}
