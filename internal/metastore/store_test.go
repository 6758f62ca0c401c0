package metastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/rowset"
	"github.com/stratadb/strata/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMeta(t *testing.T, tabletID, version int64) *rowset.Meta {
	t.Helper()
	id, err := types.NewIDGenerator().Generate()
	if err != nil {
		t.Fatalf("generate id: %v", err)
	}
	return &rowset.Meta{
		RowsetID:        id,
		TabletID:        tabletID,
		SchemaHash:      0xDEADBEEF,
		PartitionID:     3,
		Version:         types.NewVersion(version),
		NumSegments:     2,
		NumRows:         1000,
		TotalSize:       4096,
		State:           rowset.StateWriting,
		SegmentsOverlap: rowset.NonOverlapping,
		CreatedAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := testMeta(t, 1, 5)
	m.ReferencedColumnIDs = []int32{0, 2, 5}
	if err := s.Save(ctx, m); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get(ctx, m.RowsetID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RowsetID != m.RowsetID || got.TabletID != 1 || got.SchemaHash != 0xDEADBEEF {
		t.Errorf("got %+v", got)
	}
	if got.Version != m.Version || got.NumRows != 1000 || got.State != rowset.StateWriting {
		t.Errorf("got %+v", got)
	}
	if len(got.ReferencedColumnIDs) != 3 || got.ReferencedColumnIDs[1] != 2 {
		t.Errorf("referenced column ids = %v", got.ReferencedColumnIDs)
	}
	if !got.CreatedAt.Equal(m.CreatedAt) {
		t.Errorf("created at = %v, want %v", got.CreatedAt, m.CreatedAt)
	}
}

func TestStore_SaveIsUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := testMeta(t, 1, 5)
	if err := s.Save(ctx, m); err != nil {
		t.Fatalf("save: %v", err)
	}
	m.NumRows = 2000
	if err := s.Save(ctx, m); err != nil {
		t.Fatalf("second save: %v", err)
	}
	got, err := s.Get(ctx, m.RowsetID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.NumRows != 2000 {
		t.Errorf("rows = %d, want 2000 after upsert", got.NumRows)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)
	id, _ := types.NewIDGenerator().Generate()
	if _, err := s.Get(context.Background(), id); serrors.GetCode(err) != serrors.CodeMetaNotFound {
		t.Fatalf("get error = %v, want meta not found", err)
	}
}

func TestStore_MarkVisible(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := testMeta(t, 1, 5)
	if err := s.Save(ctx, m); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.MarkVisible(ctx, m.RowsetID, types.NewVersion(9)); err != nil {
		t.Fatalf("mark visible: %v", err)
	}
	got, err := s.Get(ctx, m.RowsetID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != rowset.StateVisible {
		t.Errorf("state = %v, want visible", got.State)
	}
	if got.Version != types.NewVersion(9) {
		t.Errorf("version = %v, want [9,9]", got.Version)
	}

	other, _ := types.NewIDGenerator().Generate()
	if err := s.MarkVisible(ctx, other, types.NewVersion(1)); serrors.GetCode(err) != serrors.CodeRowsetNotFound {
		t.Fatalf("mark visible of unknown id = %v, want rowset not found", err)
	}
}

func TestStore_ListByTablet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Two visible rowsets on tablet 1 (versions 7 and 3), one still writing,
	// and one on another tablet.
	a := testMeta(t, 1, 7)
	b := testMeta(t, 1, 3)
	c := testMeta(t, 1, 8)
	d := testMeta(t, 2, 1)
	a.State = rowset.StateVisible
	b.State = rowset.StateVisible
	d.State = rowset.StateVisible
	for _, m := range []*rowset.Meta{a, b, c, d} {
		if err := s.Save(ctx, m); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	visible, err := s.ListByTablet(ctx, 1, rowset.StateVisible)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(visible) != 2 {
		t.Fatalf("visible rowsets = %d, want 2", len(visible))
	}
	if visible[0].Version.End != 3 || visible[1].Version.End != 7 {
		t.Errorf("list not ordered by version: %v then %v", visible[0].Version, visible[1].Version)
	}

	all, err := s.ListByTablet(ctx, 1)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all rowsets = %d, want 3", len(all))
	}
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := testMeta(t, 1, 5)
	if err := s.Save(ctx, m); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete(ctx, m.RowsetID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, m.RowsetID); serrors.GetCode(err) != serrors.CodeMetaNotFound {
		t.Fatalf("get after delete = %v, want meta not found", err)
	}
}
