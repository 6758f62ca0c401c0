package iterator

import (
	"io"
	"testing"

	"github.com/stratadb/strata/internal/chunk"
	"github.com/stratadb/strata/pkg/types"
)

func dupSchema() *types.Schema {
	return &types.Schema{
		KeysType: types.DupKeys,
		Columns: []types.ColumnDef{
			{ID: 0, Name: "k", Type: types.TypeInt32, IsKey: true},
			{ID: 1, Name: "v", Type: types.TypeInt64},
		},
	}
}

func pkSchema() *types.Schema {
	return &types.Schema{
		KeysType: types.PrimaryKeys,
		Columns: []types.ColumnDef{
			{ID: 0, Name: "k", Type: types.TypeInt32, IsKey: true},
			{ID: 1, Name: "v", Type: types.TypeInt64},
		},
	}
}

// sliceIterator serves rows from a prebuilt chunk in fixed-size batches.
type sliceIterator struct {
	schema *types.Schema
	data   *chunk.Chunk
	pos    int
	batch  int
}

func newSliceIterator(t *testing.T, schema *types.Schema, batch int, rows [][2]int) *sliceIterator {
	t.Helper()
	data := chunk.MustNew(schema, len(rows))
	for _, r := range rows {
		if err := data.AppendRow(int32(r[0]), int64(r[1])); err != nil {
			t.Fatalf("append row: %v", err)
		}
	}
	if batch <= 0 {
		batch = 3
	}
	return &sliceIterator{schema: schema, data: data, batch: batch}
}

func (s *sliceIterator) Schema() *types.Schema { return s.schema }

func (s *sliceIterator) Next(out *chunk.Chunk) error {
	if s.pos >= s.data.NumRows() {
		return io.EOF
	}
	end := s.pos + s.batch
	if end > s.data.NumRows() {
		end = s.data.NumRows()
	}
	if err := out.AppendRowsFrom(s.data, s.pos, end); err != nil {
		return err
	}
	s.pos = end
	return nil
}

func (s *sliceIterator) Close() error { return nil }

func drain(t *testing.T, it ChunkIterator) [][2]int64 {
	t.Helper()
	buf := chunk.MustNew(it.Schema(), 16)
	var out [][2]int64
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
			out = append(out, [2]int64{int64(buf.Column(0).Get(i).(int32)), buf.Column(1).Get(i).(int64)})
		}
	}
}

func TestEmpty(t *testing.T) {
	it := NewEmpty(dupSchema())
	buf := chunk.MustNew(dupSchema(), 4)
	if err := it.Next(buf); err != io.EOF {
		t.Fatalf("next = %v, want EOF", err)
	}
}

func TestUnion_Concatenates(t *testing.T) {
	s := dupSchema()
	a := newSliceIterator(t, s, 2, [][2]int{{1, 10}, {2, 20}})
	b := newSliceIterator(t, s, 2, [][2]int{{5, 50}})
	u, err := NewUnion([]ChunkIterator{a, b})
	if err != nil {
		t.Fatalf("union: %v", err)
	}
	got := drain(t, u)
	want := [][2]int64{{1, 10}, {2, 20}, {5, 50}}
	if len(got) != len(want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMerge_Interleaves(t *testing.T) {
	s := dupSchema()
	a := newSliceIterator(t, s, 2, [][2]int{{1, 1}, {4, 4}, {7, 7}})
	b := newSliceIterator(t, s, 2, [][2]int{{2, 2}, {5, 5}})
	c := newSliceIterator(t, s, 2, [][2]int{{3, 3}, {6, 6}})
	m, err := NewMerge(s, []ChunkIterator{a, b, c}, MergeOptions{ChunkSize: 4})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	got := drain(t, m)
	for i, r := range got {
		if r[0] != int64(i+1) {
			t.Fatalf("row %d key = %d, want %d (all: %v)", i, r[0], i+1, got)
		}
	}
	if len(got) != 7 {
		t.Fatalf("rows = %d, want 7", len(got))
	}
}

func TestMerge_StableWithoutDedup(t *testing.T) {
	s := dupSchema()
	// Same keys in both inputs; without dedup all rows survive and equal
	// keys come out in input order.
	a := newSliceIterator(t, s, 2, [][2]int{{1, 100}, {2, 100}})
	b := newSliceIterator(t, s, 2, [][2]int{{1, 200}, {2, 200}})
	m, err := NewMerge(s, []ChunkIterator{a, b}, MergeOptions{})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	got := drain(t, m)
	want := [][2]int64{{1, 100}, {1, 200}, {2, 100}, {2, 200}}
	if len(got) != len(want) {
		t.Fatalf("rows = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMerge_DedupReplaceLaterInputWins(t *testing.T) {
	s := pkSchema()
	a := newSliceIterator(t, s, 2, [][2]int{{1, 100}, {2, 100}, {3, 100}})
	b := newSliceIterator(t, s, 2, [][2]int{{2, 200}, {3, 200}, {4, 200}})
	m, err := NewMerge(s, []ChunkIterator{a, b}, MergeOptions{Dedup: true})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	got := drain(t, m)
	want := [][2]int64{{1, 100}, {2, 200}, {3, 200}, {4, 200}}
	if len(got) != len(want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMerge_DedupSumFolds(t *testing.T) {
	s := &types.Schema{
		KeysType: types.AggKeys,
		Columns: []types.ColumnDef{
			{ID: 0, Name: "k", Type: types.TypeInt32, IsKey: true},
			{ID: 1, Name: "v", Type: types.TypeInt64, Agg: types.AggSum},
		},
	}
	a := newSliceIterator(t, s, 2, [][2]int{{1, 5}, {2, 5}})
	b := newSliceIterator(t, s, 2, [][2]int{{1, 7}, {3, 7}})
	c := newSliceIterator(t, s, 2, [][2]int{{1, 11}})
	m, err := NewMerge(s, []ChunkIterator{a, b, c}, MergeOptions{Dedup: true})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	got := drain(t, m)
	want := [][2]int64{{1, 23}, {2, 5}, {3, 7}}
	if len(got) != len(want) {
		t.Fatalf("rows = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMerge_RequiresKeyColumns(t *testing.T) {
	s := &types.Schema{
		KeysType: types.DupKeys,
		Columns:  []types.ColumnDef{{ID: 0, Name: "v", Type: types.TypeInt64}},
	}
	in := NewEmpty(s)
	if _, err := NewMerge(s, []ChunkIterator{in}, MergeOptions{}); err == nil {
		t.Error("expected error for schema without key columns")
	}
}

func TestMerge_ChunkSizeSplitsOutput(t *testing.T) {
	s := dupSchema()
	var rows [][2]int
	for i := 0; i < 10; i++ {
		rows = append(rows, [2]int{i, i})
	}
	in := newSliceIterator(t, s, 4, rows)
	m, err := NewMerge(s, []ChunkIterator{in}, MergeOptions{ChunkSize: 3})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	buf := chunk.MustNew(s, 16)
	if err := m.Next(buf); err != nil {
		t.Fatalf("next: %v", err)
	}
	if buf.NumRows() != 3 {
		t.Errorf("first batch = %d rows, want 3", buf.NumRows())
	}
}
