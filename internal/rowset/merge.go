package rowset

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/stratadb/strata/internal/chunk"
	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/iterator"
	"github.com/stratadb/strata/internal/segment"
	"github.com/stratadb/strata/pkg/types"
)

// mergeChunkRows is the batch size of the final merge.
const mergeChunkRows = segment.DefaultPageRows

// finalMerge reconciles the writer's segments into a single duplicate-free
// segment. Wide schemas merge column group by column group to bound memory;
// narrow schemas merge whole rows through the streaming merge iterator.
func (b *writerBase) finalMerge() error {
	if len(b.ctx.TabletSchema.Columns) > b.ctx.maxGroupColumns() {
		return b.finalMergeVertical()
	}
	return b.finalMergeHorizontal()
}

// mergeTempPath names the transient output of a final merge.
func (b *writerBase) mergeTempPath() string {
	return filepath.Join(b.ctx.PathPrefix,
		fmt.Sprintf("%s_merge_%s.tmp", b.ctx.RowsetID, uuid.NewString()[:8]))
}

// mergeGroupPath names the transient per-group file of a vertical final
// merge.
func (b *writerBase) mergeGroupPath(groupID int) string {
	return filepath.Join(b.ctx.PathPrefix, fmt.Sprintf("%s_m%d.col", b.ctx.RowsetID, groupID))
}

// replaceSegments swaps the merge output in for the old segment files.
func (b *writerBase) replaceSegments(tmpPath string, meta *segment.Meta) error {
	for i := range b.segMetas {
		if err := os.Remove(b.segPath(i)); err != nil {
			return serrors.NewRowsetError(serrors.CodeMergeConflict, "remove pre-merge segment", err)
		}
	}
	if err := os.Rename(tmpPath, b.segPath(0)); err != nil {
		return serrors.NewRowsetError(serrors.CodeMergeConflict, "publish merged segment", err)
	}
	b.segMetas = []*segment.Meta{meta}
	return nil
}

// finalMergeHorizontal streams all segments through a deduplicating merge
// iterator into one new segment. Memory stays bounded by one chunk per
// input plus the output page buffer.
func (b *writerBase) finalMergeHorizontal() error {
	schema := b.ctx.TabletSchema
	readers := make([]*segment.Reader, 0, len(b.segMetas))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()
	its := make([]iterator.ChunkIterator, 0, len(b.segMetas))
	for i := range b.segMetas {
		r, err := segment.Open(b.segPath(i), schema)
		if err != nil {
			return err
		}
		readers = append(readers, r)
		it, err := r.NewIterator(schema, segment.IteratorOptions{ChunkSize: mergeChunkRows})
		if err != nil {
			return err
		}
		its = append(its, it)
	}
	merged, err := iterator.NewMerge(schema, its, iterator.MergeOptions{
		ChunkSize: mergeChunkRows,
		Dedup:     schema.KeysType.Dedups(),
	})
	if err != nil {
		return err
	}
	defer merged.Close()

	tmp := b.mergeTempPath()
	sw, err := segment.NewWriter(tmp, schema, b.ctx.SegmentOptions)
	if err != nil {
		return err
	}
	out, err := chunk.New(schema, mergeChunkRows)
	if err != nil {
		sw.Abort()
		return serrors.NewRowsetError(serrors.CodeMergeConflict, "create merge buffer", err)
	}
	for {
		out.Reset()
		err := merged.Next(out)
		if err == io.EOF {
			break
		}
		if err != nil {
			sw.Abort()
			return err
		}
		if err := sw.Append(out); err != nil {
			sw.Abort()
			return err
		}
	}
	meta, err := sw.Finish()
	if err != nil {
		sw.Abort()
		return err
	}
	return b.replaceSegments(tmp, meta)
}

// rowRef locates one input row during a vertical merge.
type rowRef struct {
	seg int
	row int
}

// finalMergeVertical merges wide schemas in two passes: pass one reads only
// the key columns and fixes the merged row order as groups of equal-key
// input rows; pass two replays that plan once per column group, so no more
// than one group's columns are resident at a time.
func (b *writerBase) finalMergeVertical() error {
	schema := b.ctx.TabletSchema
	numKeys := schema.NumKeyColumns()
	keyIdxs := make([]int, numKeys)
	for i := range keyIdxs {
		keyIdxs[i] = i
	}
	keyProj, err := schema.Project(keyIdxs)
	if err != nil {
		return serrors.NewRowsetError(serrors.CodeMergeConflict, "project key columns", err)
	}
	keys, err := b.loadGroupColumns(keyProj)
	if err != nil {
		return err
	}
	plan, err := buildMergePlan(keys, numKeys)
	if err != nil {
		return err
	}

	groups := splitMergeGroups(schema, numKeys, b.ctx.maxGroupColumns())
	staged := make([]columnGroup, 0, len(groups))
	defer func() {
		for _, g := range staged {
			os.Remove(g.paths[0])
		}
	}()
	for gi, idxs := range groups {
		g, err := b.writeMergeGroup(gi, idxs, plan)
		if err != nil {
			return err
		}
		staged = append(staged, *g)
	}

	tmp := b.mergeTempPath()
	meta, err := stitchGroups(tmp, schema, staged, 0, b.ctx.SegmentOptions)
	if err != nil {
		return err
	}
	return b.replaceSegments(tmp, meta)
}

// loadGroupColumns reads one column projection of every segment fully into
// memory, one chunk per segment.
func (b *writerBase) loadGroupColumns(proj *types.Schema) ([]*chunk.Chunk, error) {
	out := make([]*chunk.Chunk, len(b.segMetas))
	for i := range b.segMetas {
		r, err := segment.Open(b.segPath(i), b.ctx.TabletSchema)
		if err != nil {
			return nil, err
		}
		it, err := r.NewIterator(proj, segment.IteratorOptions{ChunkSize: mergeChunkRows})
		if err != nil {
			r.Close()
			return nil, err
		}
		acc, err := chunk.New(proj, int(b.segMetas[i].NumRows))
		if err != nil {
			it.Close()
			r.Close()
			return nil, serrors.NewRowsetError(serrors.CodeMergeConflict, "create column buffer", err)
		}
		for err == nil {
			err = it.Next(acc)
		}
		it.Close()
		r.Close()
		if err != io.EOF {
			return nil, err
		}
		out[i] = acc
	}
	return out, nil
}

// buildMergePlan produces the merged row order over key-sorted inputs:
// one entry per distinct key, holding the equal-key input rows in input
// order. Row order within each input is preserved.
func buildMergePlan(keys []*chunk.Chunk, numKeys int) ([][]rowRef, error) {
	total := 0
	pos := make([]int, len(keys))
	for _, k := range keys {
		total += k.NumRows()
	}
	plan := make([][]rowRef, 0, total)
	for {
		best := -1
		for s := range keys {
			if pos[s] >= keys[s].NumRows() {
				continue
			}
			if best == -1 {
				best = s
				continue
			}
			cmp, err := chunk.CompareRows(keys[s], pos[s], keys[best], pos[best], numKeys)
			if err != nil {
				return nil, serrors.NewRowsetError(serrors.CodeMergeConflict, "compare keys", err)
			}
			if cmp < 0 {
				best = s
			}
		}
		if best == -1 {
			return plan, nil
		}
		bestRow := pos[best]
		var group []rowRef
		for s := range keys {
			for pos[s] < keys[s].NumRows() {
				cmp, err := chunk.CompareRows(keys[s], pos[s], keys[best], bestRow, numKeys)
				if err != nil {
					return nil, serrors.NewRowsetError(serrors.CodeMergeConflict, "compare keys", err)
				}
				if cmp != 0 {
					break
				}
				group = append(group, rowRef{seg: s, row: pos[s]})
				pos[s]++
			}
		}
		plan = append(plan, group)
	}
}

// splitMergeGroups partitions the schema for the vertical merge: the key
// columns form the first group, value columns follow in runs of at most
// maxCols.
func splitMergeGroups(schema *types.Schema, numKeys, maxCols int) [][]int {
	var groups [][]int
	keyGroup := make([]int, numKeys)
	for i := range keyGroup {
		keyGroup[i] = i
	}
	groups = append(groups, keyGroup)
	for start := numKeys; start < len(schema.Columns); start += maxCols {
		end := start + maxCols
		if end > len(schema.Columns) {
			end = len(schema.Columns)
		}
		g := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			g = append(g, i)
		}
		groups = append(groups, g)
	}
	return groups
}

// writeMergeGroup replays the merge plan for one column group and stages
// the result in a group file. Equal-key rows fold per the columns'
// aggregation kinds; key columns take the first row of each group, which
// is identical across the group by construction.
func (b *writerBase) writeMergeGroup(groupID int, idxs []int, plan [][]rowRef) (*columnGroup, error) {
	schema := b.ctx.TabletSchema
	proj, err := schema.Project(idxs)
	if err != nil {
		return nil, serrors.NewRowsetError(serrors.CodeMergeConflict, "project merge group", err)
	}
	cols, err := b.loadGroupColumns(proj)
	if err != nil {
		return nil, err
	}
	path := b.mergeGroupPath(groupID)
	sw, err := segment.NewWriter(path, proj, b.ctx.SegmentOptions)
	if err != nil {
		return nil, err
	}
	out, err := chunk.New(proj, mergeChunkRows)
	if err != nil {
		sw.Abort()
		return nil, serrors.NewRowsetError(serrors.CodeMergeConflict, "create group buffer", err)
	}
	isKeyGroup := groupID == 0
	for _, refs := range plan {
		if isKeyGroup || len(refs) == 1 {
			first := refs[0]
			if err := out.AppendRowFrom(cols[first.seg], first.row); err != nil {
				sw.Abort()
				return nil, serrors.NewRowsetError(serrors.CodeMergeConflict, "emit merged row", err)
			}
		} else if err := appendFoldedRefs(out, cols, refs, schema, idxs); err != nil {
			sw.Abort()
			return nil, err
		}
		if out.NumRows() == mergeChunkRows {
			if err := sw.Append(out); err != nil {
				sw.Abort()
				return nil, err
			}
			out.Reset()
		}
	}
	if out.NumRows() > 0 {
		if err := sw.Append(out); err != nil {
			sw.Abort()
			return nil, err
		}
	}
	if _, err := sw.Finish(); err != nil {
		sw.Abort()
		return nil, err
	}
	return &columnGroup{
		indexes: idxs,
		schema:  proj,
		isKey:   isKeyGroup,
		paths:   []string{path},
	}, nil
}

// appendFoldedRefs folds one equal-key group of input rows into a single
// output row, column by column.
func appendFoldedRefs(out *chunk.Chunk, cols []*chunk.Chunk, refs []rowRef, schema *types.Schema, idxs []int) error {
	for k, colIdx := range idxs {
		agg := chunk.EffectiveAgg(schema, colIdx)
		t := schema.Columns[colIdx].Type
		first := refs[0]
		acc := cols[first.seg].Column(k).Get(first.row)
		for _, ref := range refs[1:] {
			v := cols[ref.seg].Column(k).Get(ref.row)
			folded, err := chunk.FoldValue(agg, t, acc, v)
			if err != nil {
				return serrors.NewRowsetError(serrors.CodeMergeConflict, "fold merged row", err)
			}
			acc = folded
		}
		if err := out.Column(k).Append(acc); err != nil {
			return serrors.NewRowsetError(serrors.CodeMergeConflict, "emit merged row", err)
		}
	}
	return nil
}
