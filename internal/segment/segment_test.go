package segment

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stratadb/strata/internal/chunk"
	"github.com/stratadb/strata/internal/iterator"
	"github.com/stratadb/strata/pkg/types"
)

func testSchema() *types.Schema {
	return &types.Schema{
		KeysType: types.DupKeys,
		Columns: []types.ColumnDef{
			{ID: 0, Name: "k1", Type: types.TypeInt32, IsKey: true},
			{ID: 1, Name: "v1", Type: types.TypeInt64},
			{ID: 2, Name: "v2", Type: types.TypeString},
		},
	}
}

func writeTestSegment(t *testing.T, path string, schema *types.Schema, numRows int, opts WriterOptions) *Meta {
	t.Helper()
	w, err := NewWriter(path, schema, opts)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	ch := chunk.MustNew(schema, numRows)
	for i := 0; i < numRows; i++ {
		if err := ch.AppendRow(int32(i), int64(i)*10, "s"+string(rune('a'+i%26))); err != nil {
			t.Fatalf("append row: %v", err)
		}
	}
	if err := w.Append(ch); err != nil {
		t.Fatalf("append chunk: %v", err)
	}
	meta, err := w.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	return meta
}

func TestSegment_RoundTrip(t *testing.T) {
	schema := testSchema()
	path := filepath.Join(t.TempDir(), "seg.dat")
	meta := writeTestSegment(t, path, schema, 1000, WriterOptions{PageRows: 128})
	if meta.NumRows != 1000 {
		t.Fatalf("meta rows = %d, want 1000", meta.NumRows)
	}

	r, err := Open(path, schema)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	if r.NumRows() != 1000 {
		t.Fatalf("reader rows = %d, want 1000", r.NumRows())
	}

	var stats iterator.ReadStats
	it, err := r.NewIterator(schema, IteratorOptions{ChunkSize: 100, Stats: &stats})
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer it.Close()

	buf := chunk.MustNew(schema, 100)
	row := 0
	for {
		buf.Reset()
		err := it.Next(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		for i := 0; i < buf.NumRows(); i++ {
			if got := buf.Column(0).Get(i).(int32); got != int32(row) {
				t.Fatalf("row %d key = %d", row, got)
			}
			if got := buf.Column(1).Get(i).(int64); got != int64(row)*10 {
				t.Fatalf("row %d value = %d, want %d", row, got, row*10)
			}
			row++
		}
	}
	if row != 1000 {
		t.Fatalf("read %d rows, want 1000", row)
	}
	if stats.RowsRead != 1000 {
		t.Errorf("stats rows read = %d, want 1000", stats.RowsRead)
	}
	if stats.PagesRead == 0 || stats.SegmentsOpened != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSegment_Projection(t *testing.T) {
	schema := testSchema()
	path := filepath.Join(t.TempDir(), "seg.dat")
	writeTestSegment(t, path, schema, 100, WriterOptions{})

	r, err := Open(path, schema)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	// Project the value columns only, in reversed order.
	proj, err := schema.Project([]int{2, 1})
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	it, err := r.NewIterator(proj, IteratorOptions{})
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer it.Close()
	buf := chunk.MustNew(proj, 128)
	if err := it.Next(buf); err != nil {
		t.Fatalf("next: %v", err)
	}
	if buf.Column(0).Type() != types.TypeString || buf.Column(1).Type() != types.TypeInt64 {
		t.Errorf("projection column types wrong: %s %s", buf.Column(0).Type(), buf.Column(1).Type())
	}
	if got := buf.Column(1).Get(5).(int64); got != 50 {
		t.Errorf("projected v1 row 5 = %d, want 50", got)
	}
}

func TestSegment_KeyFilterAndZoneMap(t *testing.T) {
	schema := testSchema()
	path := filepath.Join(t.TempDir(), "seg.dat")
	writeTestSegment(t, path, schema, 500, WriterOptions{})

	r, err := Open(path, schema)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	probe := chunk.MustNew(schema, 2)
	if err := probe.AppendRow(int32(42), int64(0), ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := probe.AppendRow(int32(90000), int64(0), ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	if !r.MayContainKey(chunk.EncodeKey(nil, probe, 0, 1)) {
		t.Error("present key reported absent")
	}
	// Absent key is allowed to false-positive, but the zone map is exact.
	lo := chunk.EncodeKeyOrdered(nil, probe, 0, 1)
	hi := chunk.EncodeKeyOrdered(nil, probe, 1, 1)
	if bytes.Compare(lo, r.MinKey()) < 0 {
		t.Error("key 42 below min key of [0,500)")
	}
	if bytes.Compare(hi, r.MaxKey()) <= 0 {
		t.Error("key 90000 not above max key of [0,500)")
	}
}

func TestSegment_OpenSchemaMismatch(t *testing.T) {
	schema := testSchema()
	path := filepath.Join(t.TempDir(), "seg.dat")
	writeTestSegment(t, path, schema, 10, WriterOptions{})

	other := &types.Schema{
		KeysType: types.DupKeys,
		Columns: []types.ColumnDef{
			{ID: 0, Name: "k1", Type: types.TypeInt64, IsKey: true},
			{ID: 1, Name: "v1", Type: types.TypeInt64},
			{ID: 2, Name: "v2", Type: types.TypeString},
		},
	}
	if _, err := Open(path, other); err == nil {
		t.Error("expected error for column type mismatch")
	}
}

func TestSegment_CorruptTrailer(t *testing.T) {
	schema := testSchema()
	path := filepath.Join(t.TempDir(), "seg.dat")
	writeTestSegment(t, path, schema, 10, WriterOptions{})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path, schema); err == nil {
		t.Error("expected error for corrupt trailer magic")
	}
}

func TestSegment_Describe(t *testing.T) {
	schema := testSchema()
	path := filepath.Join(t.TempDir(), "seg.dat")
	writeTestSegment(t, path, schema, 300, WriterOptions{PageRows: 100})

	desc, err := Describe(path)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if desc.NumRows != 300 || desc.NumKeyColumns != 1 || !desc.HasKeyFilter {
		t.Errorf("description = %+v", desc)
	}
	if len(desc.Columns) != 3 || desc.Columns[0].NumPages != 3 {
		t.Errorf("columns = %+v", desc.Columns)
	}
	back := desc.Schema()
	if !back.Equal(&types.Schema{KeysType: schema.KeysType, Columns: schema.Columns}) {
		t.Errorf("reconstructed schema = %+v", back)
	}
}

func TestSegment_AllTypes(t *testing.T) {
	schema := &types.Schema{
		KeysType: types.DupKeys,
		Columns: []types.ColumnDef{
			{ID: 0, Name: "k", Type: types.TypeInt64, IsKey: true},
			{ID: 1, Name: "f", Type: types.TypeFloat64},
			{ID: 2, Name: "b", Type: types.TypeBool},
			{ID: 3, Name: "s", Type: types.TypeString},
			{ID: 4, Name: "raw", Type: types.TypeBytes},
		},
	}
	path := filepath.Join(t.TempDir(), "seg.dat")
	w, err := NewWriter(path, schema, WriterOptions{PageRows: 4})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	ch := chunk.MustNew(schema, 10)
	for i := 0; i < 10; i++ {
		err := ch.AppendRow(int64(i), float64(i)/3.0, i%2 == 0, "str", []byte{byte(i), 0x00, 0xFF})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Append(ch); err != nil {
		t.Fatalf("append chunk: %v", err)
	}
	if _, err := w.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}

	r, err := Open(path, schema)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	it, err := r.NewIterator(schema, IteratorOptions{})
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer it.Close()
	buf := chunk.MustNew(schema, 16)
	if err := it.Next(buf); err != nil {
		t.Fatalf("next: %v", err)
	}
	if buf.NumRows() != 10 {
		t.Fatalf("rows = %d, want 10", buf.NumRows())
	}
	if got := buf.Column(1).Get(3).(float64); got != 1.0 {
		t.Errorf("float row 3 = %v, want 1.0", got)
	}
	if got := buf.Column(2).Get(3).(bool); got {
		t.Errorf("bool row 3 = %v, want false", got)
	}
	if got := buf.Column(4).Get(7).([]byte); !bytes.Equal(got, []byte{7, 0x00, 0xFF}) {
		t.Errorf("bytes row 7 = %x", got)
	}
}

func TestWriter_AbortRemovesFile(t *testing.T) {
	schema := testSchema()
	path := filepath.Join(t.TempDir(), "seg.dat")
	w, err := NewWriter(path, schema, WriterOptions{})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.Abort()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("aborted segment file still present")
	}
}
