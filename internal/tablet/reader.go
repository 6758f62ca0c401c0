package tablet

import (
	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/iterator"
	"github.com/stratadb/strata/internal/rowset"
	"github.com/stratadb/strata/pkg/types"
)

// Reader reads one tablet at one version. Prepare snapshots the visible
// rowsets; iterators created afterwards see exactly that snapshot, commits
// after Prepare included rowsets do not leak in.
type Reader struct {
	tablet     *Tablet
	version    int64
	projection *types.Schema
	prepared   bool
	rowsets    []*rowset.Rowset
}

// NewReader creates a reader for the projection at the given version.
func NewReader(t *Tablet, version int64, projection *types.Schema) *Reader {
	return &Reader{tablet: t, version: version, projection: projection}
}

// Prepare snapshots the rowsets visible at the reader's version.
func (r *Reader) Prepare() error {
	if r.prepared {
		return nil
	}
	if r.version > r.tablet.MaxVersion() {
		return serrors.Newf(serrors.ErrCategoryTablet, serrors.CodeVersionConflict,
			"version %d not committed, max is %d", r.version, r.tablet.MaxVersion())
	}
	r.rowsets = r.tablet.visibleAt(r.version)
	r.prepared = true
	return nil
}

// GetSegmentIterators returns one iterator per segment across all visible
// rowsets, in commit then segment order. The caller owns them.
func (r *Reader) GetSegmentIterators(opts rowset.ReadOptions) ([]iterator.ChunkIterator, error) {
	if !r.prepared {
		if err := r.Prepare(); err != nil {
			return nil, err
		}
	}
	var its []iterator.ChunkIterator
	for _, rs := range r.rowsets {
		segIts, err := rs.SegmentIterators(r.projection, opts)
		if err != nil {
			for _, it := range its {
				it.Close()
			}
			return nil, err
		}
		its = append(its, segIts...)
	}
	return its, nil
}

// NewIterator returns one iterator over the whole snapshot. Unsorted reads
// concatenate rowsets in commit order. Sorted reads merge them; for
// deduplicating table types equal keys fold across rowsets, later commits
// winning REPLACE columns.
func (r *Reader) NewIterator(opts rowset.ReadOptions) (iterator.ChunkIterator, error) {
	if !r.prepared {
		if err := r.Prepare(); err != nil {
			return nil, err
		}
	}
	if len(r.rowsets) == 0 {
		return iterator.NewEmpty(r.projection), nil
	}
	its := make([]iterator.ChunkIterator, 0, len(r.rowsets))
	for _, rs := range r.rowsets {
		it, err := rs.NewIterator(r.projection, opts)
		if err != nil {
			for _, open := range its {
				open.Close()
			}
			return nil, err
		}
		its = append(its, it)
	}
	if len(its) == 1 {
		return its[0], nil
	}
	if !opts.Sorted {
		return iterator.NewUnion(its)
	}
	return iterator.NewMerge(r.projection, its, iterator.MergeOptions{
		ChunkSize: opts.ChunkSize,
		Dedup:     r.tablet.schema.KeysType.Dedups(),
	})
}
