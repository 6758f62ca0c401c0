package tablet

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stratadb/strata/internal/chunk"
	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/metastore"
	"github.com/stratadb/strata/internal/rowset"
	"github.com/stratadb/strata/pkg/types"
)

func pkSchema() *types.Schema {
	return &types.Schema{
		KeysType: types.PrimaryKeys,
		Columns: []types.ColumnDef{
			{ID: 0, Name: "k", Type: types.TypeInt32, IsKey: true},
			{ID: 1, Name: "v", Type: types.TypeInt32},
		},
	}
}

type testEnv struct {
	tablet *Tablet
	store  *metastore.Store
	idGen  *types.IDGenerator
}

func newTestEnv(t *testing.T, schema *types.Schema) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := metastore.Open(filepath.Join(dir, "meta.db"))
	if err != nil {
		t.Fatalf("open metastore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	tab, err := New(42, 1, schema, dir, store)
	if err != nil {
		t.Fatalf("new tablet: %v", err)
	}
	t.Cleanup(func() { tab.Close() })
	return &testEnv{tablet: tab, store: store, idGen: types.NewIDGenerator()}
}

// buildRowset writes keys [from, to) with value = key*10 + tag.
func (e *testEnv) buildRowset(t *testing.T, from, to, tag int) *rowset.Rowset {
	t.Helper()
	id, err := e.idGen.Generate()
	if err != nil {
		t.Fatalf("generate id: %v", err)
	}
	w, err := rowset.NewWriter(&rowset.WriterContext{
		RowsetID:     id,
		TabletID:     e.tablet.ID(),
		PartitionID:  e.tablet.PartitionID(),
		PathPrefix:   e.tablet.DataDir(),
		Version:      types.NewVersion(1),
		TabletSchema: e.tablet.Schema(),
		WriterType:   rowset.WriterHorizontal,
	})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	schema := e.tablet.Schema()
	ch := chunk.MustNew(schema, to-from)
	for k := from; k < to; k++ {
		vals := make([]interface{}, len(schema.Columns))
		vals[0] = int32(k)
		for c := 1; c < len(schema.Columns); c++ {
			vals[c] = int32(k*10 + tag)
		}
		if err := ch.AppendRow(vals...); err != nil {
			t.Fatalf("append row: %v", err)
		}
	}
	if err := w.AddChunk(ch); err != nil {
		t.Fatalf("add chunk: %v", err)
	}
	rs, err := w.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return rs
}

func readAll(t *testing.T, r *Reader, opts rowset.ReadOptions) [][2]int32 {
	t.Helper()
	it, err := r.NewIterator(opts)
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer it.Close()
	buf := chunk.MustNew(r.projection, 128)
	var out [][2]int32
	for {
		buf.Reset()
		err := it.Next(buf)
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		for i := 0; i < buf.NumRows(); i++ {
			out = append(out, [2]int32{buf.Column(0).Get(i).(int32), buf.Column(1).Get(i).(int32)})
		}
	}
}

func TestTablet_CommitAndRead(t *testing.T) {
	e := newTestEnv(t, pkSchema())
	ctx := context.Background()

	if err := e.tablet.RowsetCommit(ctx, 2, e.buildRowset(t, 0, 100, 1)); err != nil {
		t.Fatalf("commit v2: %v", err)
	}
	if err := e.tablet.RowsetCommit(ctx, 3, e.buildRowset(t, 50, 150, 2)); err != nil {
		t.Fatalf("commit v3: %v", err)
	}
	if e.tablet.MaxVersion() != 3 || e.tablet.NumRowsets() != 2 {
		t.Fatalf("max version = %d rowsets = %d", e.tablet.MaxVersion(), e.tablet.NumRowsets())
	}
	if got := e.tablet.NumRowsAt(2); got != 100 {
		t.Errorf("rows at v2 = %d, want 100", got)
	}
	if got := e.tablet.NumRowsAt(3); got != 200 {
		t.Errorf("rows at v3 = %d, want 200", got)
	}

	// Sorted read at v3 folds duplicate keys, the later commit winning.
	r := NewReader(e.tablet, 3, e.tablet.Schema())
	rows := readAll(t, r, rowset.ReadOptions{Sorted: true})
	if len(rows) != 150 {
		t.Fatalf("rows = %d, want 150", len(rows))
	}
	for i, row := range rows {
		if row[0] != int32(i) {
			t.Fatalf("row %d key = %d", i, row[0])
		}
		tag := 1
		if i >= 50 {
			tag = 2
		}
		if want := int32(i*10 + tag); row[1] != want {
			t.Fatalf("key %d value = %d, want %d", i, row[1], want)
		}
	}
}

func TestTablet_VersionConflict(t *testing.T) {
	e := newTestEnv(t, pkSchema())
	ctx := context.Background()
	if err := e.tablet.RowsetCommit(ctx, 5, e.buildRowset(t, 0, 10, 1)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	rs := e.buildRowset(t, 10, 20, 1)
	defer rs.Remove()
	if err := e.tablet.RowsetCommit(ctx, 5, rs); serrors.GetCode(err) != serrors.CodeVersionConflict {
		t.Fatalf("replayed version error = %v, want version conflict", err)
	}
	if err := e.tablet.RowsetCommit(ctx, 4, rs); serrors.GetCode(err) != serrors.CodeVersionConflict {
		t.Fatalf("stale version error = %v, want version conflict", err)
	}
}

func TestReader_SnapshotIsolation(t *testing.T) {
	e := newTestEnv(t, pkSchema())
	ctx := context.Background()
	if err := e.tablet.RowsetCommit(ctx, 2, e.buildRowset(t, 0, 100, 1)); err != nil {
		t.Fatalf("commit v2: %v", err)
	}

	r := NewReader(e.tablet, 2, e.tablet.Schema())
	if err := r.Prepare(); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	// A commit after Prepare must not leak into the snapshot.
	if err := e.tablet.RowsetCommit(ctx, 3, e.buildRowset(t, 100, 200, 1)); err != nil {
		t.Fatalf("commit v3: %v", err)
	}
	rows := readAll(t, r, rowset.ReadOptions{Sorted: true})
	if len(rows) != 100 {
		t.Fatalf("snapshot rows = %d, want 100", len(rows))
	}

	// A reader at an uncommitted version fails to prepare.
	ahead := NewReader(e.tablet, 9, e.tablet.Schema())
	if err := ahead.Prepare(); serrors.GetCode(err) != serrors.CodeVersionConflict {
		t.Fatalf("prepare ahead error = %v, want version conflict", err)
	}
}

func TestTablet_ReopenLoadsVisibleRowsets(t *testing.T) {
	e := newTestEnv(t, pkSchema())
	ctx := context.Background()
	if err := e.tablet.RowsetCommit(ctx, 2, e.buildRowset(t, 0, 100, 1)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	dir := e.tablet.DataDir()
	if err := e.tablet.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	back, err := New(42, 1, pkSchema(), dir, e.store)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer back.Close()
	if back.MaxVersion() != 2 || back.NumRowsets() != 1 {
		t.Fatalf("reopened max version = %d rowsets = %d", back.MaxVersion(), back.NumRowsets())
	}
	if got := back.NumRowsAt(2); got != 100 {
		t.Errorf("rows at v2 = %d, want 100", got)
	}
}

func wideSchema() *types.Schema {
	return &types.Schema{
		KeysType: types.PrimaryKeys,
		Columns: []types.ColumnDef{
			{ID: 0, Name: "k", Type: types.TypeInt32, IsKey: true},
			{ID: 1, Name: "v1", Type: types.TypeInt32},
			{ID: 2, Name: "v2", Type: types.TypeInt32},
		},
	}
}

// buildPartialRowset writes keys [from, to) carrying only {k, v2}, with
// v2 = key*100 + tag.
func (e *testEnv) buildPartialRowset(t *testing.T, from, to, tag int) *rowset.Rowset {
	t.Helper()
	partial, err := e.tablet.Schema().PartialProject([]int{0, 2})
	if err != nil {
		t.Fatalf("partial project: %v", err)
	}
	id, err := e.idGen.Generate()
	if err != nil {
		t.Fatalf("generate id: %v", err)
	}
	w, err := rowset.NewWriter(&rowset.WriterContext{
		RowsetID:            id,
		TabletID:            e.tablet.ID(),
		PartitionID:         e.tablet.PartitionID(),
		PathPrefix:          e.tablet.DataDir(),
		Version:             types.NewVersion(1),
		TabletSchema:        partial,
		ReferencedColumnIDs: []int32{0, 2},
		WriterType:          rowset.WriterHorizontal,
	})
	if err != nil {
		t.Fatalf("new partial writer: %v", err)
	}
	ch := chunk.MustNew(partial, to-from)
	for k := from; k < to; k++ {
		if err := ch.AppendRow(int32(k), int32(k*100+tag)); err != nil {
			t.Fatalf("append row: %v", err)
		}
	}
	if err := w.AddChunk(ch); err != nil {
		t.Fatalf("add chunk: %v", err)
	}
	rs, err := w.Build()
	if err != nil {
		t.Fatalf("build partial: %v", err)
	}
	return rs
}

func TestTablet_PartialUpdateLifecycle(t *testing.T) {
	e := newTestEnv(t, wideSchema())
	ctx := context.Background()

	full := e.buildRowset(t, 0, 100, 1)
	if err := e.tablet.RowsetCommit(ctx, 2, full); err != nil {
		t.Fatalf("commit full: %v", err)
	}
	partial := e.buildPartialRowset(t, 40, 60, 2)
	if err := e.tablet.RowsetCommit(ctx, 3, partial); err != nil {
		t.Fatalf("commit partial: %v", err)
	}

	// The catalog keeps the referenced column ids.
	m, err := e.store.Get(ctx, partial.Meta().RowsetID)
	if err != nil {
		t.Fatalf("get partial meta: %v", err)
	}
	if !m.IsPartial() || len(m.ReferencedColumnIDs) != 2 || m.ReferencedColumnIDs[1] != 2 {
		t.Fatalf("cataloged referenced columns = %v", m.ReferencedColumnIDs)
	}

	// The update index applies the partial rowset like a full one.
	u := NewUpdateManager()
	if err := u.OnRowsetFinished(e.tablet, full); err != nil {
		t.Fatalf("index full: %v", err)
	}
	if err := u.OnRowsetFinished(e.tablet, partial); err != nil {
		t.Fatalf("index partial: %v", err)
	}
	if u.NumKeys() != 100 {
		t.Errorf("keys = %d, want 100 (partial rewrites add none)", u.NumKeys())
	}
	proj, err := e.tablet.Schema().PartialProject([]int{0, 2})
	if err != nil {
		t.Fatalf("partial project: %v", err)
	}
	probe := chunk.MustNew(proj, 1)
	if err := probe.AppendRow(int32(50), int32(0)); err != nil {
		t.Fatalf("append probe: %v", err)
	}
	probeKey := chunk.EncodeKey(nil, probe, 0, 1)
	if id, ok := u.Lookup(probeKey); !ok || id != partial.Meta().RowsetID {
		t.Errorf("lookup = %v, %v; want %v, true", id, ok, partial.Meta().RowsetID)
	}

	// A sorted read over the referenced columns folds the rewrite in, the
	// partial commit winning its key range.
	checkRead := func(tab *Tablet) {
		t.Helper()
		rows := readAll(t, NewReader(tab, 3, proj), rowset.ReadOptions{Sorted: true})
		if len(rows) != 100 {
			t.Fatalf("rows = %d, want 100", len(rows))
		}
		for i, row := range rows {
			if row[0] != int32(i) {
				t.Fatalf("row %d key = %d", i, row[0])
			}
			want := int32(i*10 + 1)
			if i >= 40 && i < 60 {
				want = int32(i*100 + 2)
			}
			if row[1] != want {
				t.Fatalf("key %d v2 = %d, want %d", i, row[1], want)
			}
		}
	}
	checkRead(e.tablet)

	// Reopening the tablet rebuilds the partial rowset's projection from the
	// cataloged column ids.
	dir := e.tablet.DataDir()
	if err := e.tablet.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	back, err := New(42, 1, wideSchema(), dir, e.store)
	if err != nil {
		t.Fatalf("reopen with a partial rowset: %v", err)
	}
	defer back.Close()
	if back.MaxVersion() != 3 || back.NumRowsets() != 2 {
		t.Fatalf("reopened max version = %d rowsets = %d", back.MaxVersion(), back.NumRowsets())
	}
	checkRead(back)

	// Crash recovery replays every visible rowset into a fresh index.
	replay := NewUpdateManager()
	for _, rs := range back.visibleAt(3) {
		if err := replay.OnRowsetFinished(back, rs); err != nil {
			t.Fatalf("replay %s: %v", rs.Meta().RowsetID, err)
		}
	}
	if replay.NumKeys() != 100 {
		t.Errorf("replayed keys = %d, want 100", replay.NumKeys())
	}
	if id, ok := replay.Lookup(probeKey); !ok || id != partial.Meta().RowsetID {
		t.Errorf("replayed lookup = %v, want %v", id, partial.Meta().RowsetID)
	}
}

func TestUpdateManager_IndexAndLookup(t *testing.T) {
	e := newTestEnv(t, pkSchema())
	ctx := context.Background()
	rs := e.buildRowset(t, 0, 100, 1)
	if err := e.tablet.RowsetCommit(ctx, 2, rs); err != nil {
		t.Fatalf("commit: %v", err)
	}

	u := NewUpdateManager()
	if err := u.OnRowsetFinished(e.tablet, rs); err != nil {
		t.Fatalf("on rowset finished: %v", err)
	}
	if !u.Applied(rs.Meta().RowsetID) {
		t.Error("rowset not marked applied")
	}
	if u.NumKeys() != 100 {
		t.Errorf("indexed keys = %d, want 100", u.NumKeys())
	}

	// Replay is a no-op.
	if err := u.OnRowsetFinished(e.tablet, rs); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if u.NumKeys() != 100 {
		t.Errorf("keys after replay = %d, want 100", u.NumKeys())
	}

	probe := chunk.MustNew(e.tablet.Schema(), 1)
	if err := probe.AppendRow(int32(42), int32(0)); err != nil {
		t.Fatalf("append probe: %v", err)
	}
	id, ok := u.Lookup(chunk.EncodeKey(nil, probe, 0, 1))
	if !ok || id != rs.Meta().RowsetID {
		t.Errorf("lookup = %v, %v; want %v, true", id, ok, rs.Meta().RowsetID)
	}

	// A newer rowset takes over the keys it rewrites.
	rs2 := e.buildRowset(t, 42, 43, 2)
	if err := e.tablet.RowsetCommit(ctx, 3, rs2); err != nil {
		t.Fatalf("commit v3: %v", err)
	}
	if err := u.OnRowsetFinished(e.tablet, rs2); err != nil {
		t.Fatalf("index v3: %v", err)
	}
	if u.NumKeys() != 100 {
		t.Errorf("keys = %d, want 100 (rewrite adds none)", u.NumKeys())
	}
	id, ok = u.Lookup(chunk.EncodeKey(nil, probe, 0, 1))
	if !ok || id != rs2.Meta().RowsetID {
		t.Errorf("lookup after rewrite = %v, want %v", id, rs2.Meta().RowsetID)
	}
}

func TestUpdateManager_RequiresPrimaryKeys(t *testing.T) {
	dup := &types.Schema{
		KeysType: types.DupKeys,
		Columns: []types.ColumnDef{
			{ID: 0, Name: "k", Type: types.TypeInt32, IsKey: true},
			{ID: 1, Name: "v", Type: types.TypeInt32},
		},
	}
	e := newTestEnv(t, dup)
	rs := e.buildRowset(t, 0, 10, 1)
	defer rs.Remove()
	if err := NewUpdateManager().OnRowsetFinished(e.tablet, rs); err == nil {
		t.Error("expected error for non-primary table")
	}
}
