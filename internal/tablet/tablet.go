// Package tablet ties rowsets to a version history: committing makes a
// rowset visible at a version, readers snapshot the rowsets visible at a
// version, and primary-key tables maintain an update index across commits.
package tablet

import (
	"context"
	"fmt"
	"sync"

	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/metastore"
	"github.com/stratadb/strata/internal/rowset"
	"github.com/stratadb/strata/pkg/types"
)

// Tablet is one replica's version history: an ordered list of visible
// rowsets plus the catalog that persists it.
type Tablet struct {
	id          int64
	partitionID int64
	schema      *types.Schema
	dataDir     string
	meta        *metastore.Store

	mu         sync.RWMutex
	rowsets    []*rowset.Rowset
	maxVersion int64
}

// New opens a tablet, loading every visible rowset recorded in the catalog.
func New(id, partitionID int64, schema *types.Schema, dataDir string, meta *metastore.Store) (*Tablet, error) {
	if err := schema.Validate(); err != nil {
		return nil, serrors.NewValidationError(serrors.CodeInvalidSchema, err.Error())
	}
	t := &Tablet{
		id:          id,
		partitionID: partitionID,
		schema:      schema,
		dataDir:     dataDir,
		meta:        meta,
	}
	metas, err := meta.ListByTablet(context.Background(), id, rowset.StateVisible)
	if err != nil {
		return nil, err
	}
	for _, m := range metas {
		rsSchema, err := rowsetSchema(schema, m)
		if err != nil {
			t.Close()
			return nil, err
		}
		rs, err := rowset.Open(dataDir, m, rsSchema)
		if err != nil {
			t.Close()
			return nil, err
		}
		t.rowsets = append(t.rowsets, rs)
		if m.Version.End > t.maxVersion {
			t.maxVersion = m.Version.End
		}
	}
	return t, nil
}

// rowsetSchema resolves the schema a cataloged rowset was written with. A
// partial-update rowset carries only its referenced columns, so its
// projection is rebuilt from the persisted column ids.
func rowsetSchema(base *types.Schema, m *rowset.Meta) (*types.Schema, error) {
	if !m.IsPartial() {
		return base, nil
	}
	indexes := make([]int, len(m.ReferencedColumnIDs))
	for i, id := range m.ReferencedColumnIDs {
		idx := base.ColumnIndexByID(id)
		if idx < 0 {
			return nil, serrors.Newf(serrors.ErrCategoryTablet, serrors.CodeInvalidSchema,
				"rowset %s references column id %d absent from the tablet schema", m.RowsetID, id)
		}
		indexes[i] = idx
	}
	return base.PartialProject(indexes)
}

// ID returns the tablet id.
func (t *Tablet) ID() int64 { return t.id }

// PartitionID returns the owning partition.
func (t *Tablet) PartitionID() int64 { return t.partitionID }

// Schema returns the tablet's base schema.
func (t *Tablet) Schema() *types.Schema { return t.schema }

// DataDir returns the directory the tablet's segment files live under.
func (t *Tablet) DataDir() string { return t.dataDir }

// MaxVersion returns the highest committed version, zero when empty.
func (t *Tablet) MaxVersion() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxVersion
}

// NumRowsets returns the visible rowset count.
func (t *Tablet) NumRowsets() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rowsets)
}

// RowsetCommit publishes a built rowset at the given version. Versions
// must advance strictly; the rowset becomes visible to readers only after
// the catalog write succeeds.
func (t *Tablet) RowsetCommit(ctx context.Context, version int64, rs *rowset.Rowset) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if version <= t.maxVersion {
		return serrors.Newf(serrors.ErrCategoryTablet, serrors.CodeVersionConflict,
			"version %d not beyond max version %d", version, t.maxVersion)
	}
	m := rs.Meta()
	if m.TabletID != t.id {
		return serrors.Newf(serrors.ErrCategoryTablet, serrors.CodeVersionConflict,
			"rowset %s belongs to tablet %d, not %d", m.RowsetID, m.TabletID, t.id)
	}
	m.Version = types.NewVersion(version)
	if err := t.meta.Save(ctx, m); err != nil {
		return err
	}
	if err := t.meta.MarkVisible(ctx, m.RowsetID, m.Version); err != nil {
		return err
	}
	m.State = rowset.StateVisible
	t.rowsets = append(t.rowsets, rs)
	t.maxVersion = version
	return nil
}

// visibleAt snapshots the rowsets visible at version, oldest first.
func (t *Tablet) visibleAt(version int64) []*rowset.Rowset {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*rowset.Rowset, 0, len(t.rowsets))
	for _, rs := range t.rowsets {
		if rs.Meta().Version.End <= version {
			out = append(out, rs)
		}
	}
	return out
}

// NumRowsAt sums the row counts of all rowsets visible at version. Folded
// duplicates across rowsets still count once per stored row.
func (t *Tablet) NumRowsAt(version int64) int64 {
	var n int64
	for _, rs := range t.visibleAt(version) {
		n += rs.NumRows()
	}
	return n
}

// Close closes all visible rowsets.
func (t *Tablet) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var first error
	for _, rs := range t.rowsets {
		if err := rs.Close(); err != nil && first == nil {
			first = err
		}
	}
	t.rowsets = nil
	return first
}

// String identifies the tablet in logs.
func (t *Tablet) String() string {
	return fmt.Sprintf("tablet(%d/%d)", t.partitionID, t.id)
}
