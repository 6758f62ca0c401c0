package rowset

import (
	"fmt"
	"math"

	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/segment"
	"github.com/stratadb/strata/pkg/types"
)

// WriterType selects the write strategy.
type WriterType int8

const (
	// WriterHorizontal buffers whole rows and cuts row-complete segments.
	WriterHorizontal WriterType = iota
	// WriterVertical accepts one column group at a time; the key group
	// fixes the segment boundaries and value groups must replay them.
	WriterVertical
)

// String returns the writer type name.
func (t WriterType) String() string {
	switch t {
	case WriterHorizontal:
		return "horizontal"
	case WriterVertical:
		return "vertical"
	default:
		return fmt.Sprintf("unknown(%d)", int8(t))
	}
}

// DefaultMaxColumnsPerGroup bounds column-group width for vertical writes
// and for the vertical final merge.
const DefaultMaxColumnsPerGroup = 5

// WriterContext carries everything one write session needs. The caller owns
// it; the writer treats it as immutable after NewWriter.
type WriterContext struct {
	RowsetID    types.RowsetID
	TabletID    int64
	SchemaHash  uint32
	PartitionID int64

	// PathPrefix is the directory segment files are written under.
	PathPrefix string

	// Version the rowset is written for. Load writes use a single-point
	// version; the final version may be reassigned at commit.
	Version types.Version

	// TabletSchema is the schema the rowset is written with. For partial
	// updates this is already the partial projection of the base schema.
	TabletSchema *types.Schema

	// ReferencedColumnIDs names the base-schema columns a partial-update
	// rowset carries. Must include every key column. Empty for full writes.
	ReferencedColumnIDs []int32

	WriterType WriterType

	// MaxRowsPerSegment cuts a new segment when the buffered run would
	// exceed it. Zero means unbounded.
	MaxRowsPerSegment int

	// MaxColumnsPerGroup bounds group width for the vertical final merge.
	// Zero means DefaultMaxColumnsPerGroup.
	MaxColumnsPerGroup int

	// SegmentsOverlap is the caller's hint. The writer verifies it against
	// segment zone maps at build time.
	SegmentsOverlap OverlapState

	// SegmentOptions is passed through to every segment writer.
	SegmentOptions segment.WriterOptions
}

// Validate checks the context before a writer is created.
func (c *WriterContext) Validate() error {
	if c.RowsetID.IsZero() {
		return serrors.NewValidationError(serrors.CodeInvalidContext, "rowset id is zero")
	}
	if c.PathPrefix == "" {
		return serrors.NewValidationError(serrors.CodeInvalidContext, "path prefix is empty")
	}
	if c.TabletSchema == nil {
		return serrors.NewValidationError(serrors.CodeInvalidContext, "tablet schema is nil")
	}
	if err := c.TabletSchema.Validate(); err != nil {
		return serrors.NewValidationError(serrors.CodeInvalidSchema, err.Error())
	}
	if c.MaxRowsPerSegment < 0 {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidContext,
			"negative max rows per segment %d", c.MaxRowsPerSegment)
	}
	if c.MaxColumnsPerGroup < 0 {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidContext,
			"negative max columns per group %d", c.MaxColumnsPerGroup)
	}
	if len(c.ReferencedColumnIDs) > 0 {
		if err := c.validatePartial(); err != nil {
			return err
		}
	}
	return nil
}

// validatePartial checks that a partial-update context is coherent: the
// referenced ids match the partial schema and cover every key column.
func (c *WriterContext) validatePartial() error {
	if c.TabletSchema.KeysType != types.PrimaryKeys {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidContext,
			"partial update requires PRIMARY_KEYS, table is %s", c.TabletSchema.KeysType)
	}
	if len(c.ReferencedColumnIDs) != len(c.TabletSchema.Columns) {
		return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidContext,
			"%d referenced column ids for a %d-column partial schema",
			len(c.ReferencedColumnIDs), len(c.TabletSchema.Columns))
	}
	seen := make(map[int32]bool, len(c.ReferencedColumnIDs))
	for i, id := range c.ReferencedColumnIDs {
		if seen[id] {
			return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidContext,
				"duplicate referenced column id %d", id)
		}
		seen[id] = true
		if c.TabletSchema.Columns[i].ID != id {
			return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidContext,
				"referenced column id %d does not match partial schema column %d (id %d)",
				id, i, c.TabletSchema.Columns[i].ID)
		}
	}
	for _, def := range c.TabletSchema.Columns {
		if def.IsKey && !seen[def.ID] {
			return serrors.Newf(serrors.ErrCategoryValidation, serrors.CodeInvalidContext,
				"partial update misses key column %q (id %d)", def.Name, def.ID)
		}
	}
	return nil
}

// maxRows returns the effective per-segment row cap.
func (c *WriterContext) maxRows() int {
	if c.MaxRowsPerSegment <= 0 {
		return math.MaxInt
	}
	return c.MaxRowsPerSegment
}

// maxGroupColumns returns the effective column-group width.
func (c *WriterContext) maxGroupColumns() int {
	if c.MaxColumnsPerGroup <= 0 {
		return DefaultMaxColumnsPerGroup
	}
	return c.MaxColumnsPerGroup
}
