package rowset

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/stratadb/strata/internal/chunk"
	"github.com/stratadb/strata/pkg/types"
)

// TestProperty_HorizontalVerticalEquivalence checks that the two write
// strategies persist identical rows: for any sorted batch and segment cap,
// a horizontal write and a vertical write of the same data read back
// row-for-row equal.
func TestProperty_HorizontalVerticalEquivalence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	schema := tripleSchema()

	properties.Property("horizontal and vertical writes read back identically", prop.ForAll(
		func(numRows int, maxRows int, seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			// Strictly increasing keys: both strategies must then read back
			// in the identical order whatever their segmentation.
			keys := make([]int32, numRows)
			next := int32(rng.Intn(100))
			for i := range keys {
				keys[i] = next
				next += 1 + int32(rng.Intn(3))
			}
			vals := make([][2]int32, numRows)
			for i := range vals {
				vals[i] = [2]int32{int32(rng.Int31()), int32(rng.Int31())}
			}

			h := writeHorizontal(t, schema, keys, vals, maxRows, rng)
			defer h.Remove()
			v := writeVertical(t, schema, keys, vals, maxRows, rng)
			defer v.Remove()

			if h.NumRows() != v.NumRows() {
				return false
			}
			hr := readSorted(t, h)
			vr := readSorted(t, v)
			for c := range hr {
				if len(hr[c]) != len(vr[c]) {
					return false
				}
				for i := range hr[c] {
					if hr[c][i] != vr[c][i] {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 400),
		gen.IntRange(1, 150),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func writeHorizontal(t *testing.T, schema *types.Schema, keys []int32, vals [][2]int32, maxRows int, rng *rand.Rand) *Rowset {
	t.Helper()
	ctx := newTestContext(t, schema, WriterHorizontal)
	ctx.MaxRowsPerSegment = maxRows
	w, err := NewWriter(ctx)
	if err != nil {
		t.Fatalf("new horizontal writer: %v", err)
	}
	off := 0
	for off < len(keys) {
		n := 1 + rng.Intn(len(keys)-off)
		ch := chunk.MustNew(schema, n)
		for i := off; i < off+n; i++ {
			if err := ch.AppendRow(keys[i], vals[i][0], vals[i][1]); err != nil {
				t.Fatalf("append row: %v", err)
			}
		}
		if err := w.AddChunk(ch); err != nil {
			t.Fatalf("add chunk: %v", err)
		}
		off += n
	}
	rs, err := w.Build()
	if err != nil {
		t.Fatalf("horizontal build: %v", err)
	}
	return rs
}

func writeVertical(t *testing.T, schema *types.Schema, keys []int32, vals [][2]int32, maxRows int, rng *rand.Rand) *Rowset {
	t.Helper()
	ctx := newTestContext(t, schema, WriterVertical)
	ctx.MaxRowsPerSegment = maxRows
	w, err := NewWriter(ctx)
	if err != nil {
		t.Fatalf("new vertical writer: %v", err)
	}

	// Key and value groups are fed in unrelated random chunkings; only the
	// total row order must agree.
	feed := func(indexes []int, isKey bool, appendRow func(ch *chunk.Chunk, row int) error) {
		proj := mustProject(t, schema, indexes)
		off := 0
		for off < len(keys) {
			n := 1 + rng.Intn(len(keys)-off)
			ch := chunk.MustNew(proj, n)
			for i := 0; i < n; i++ {
				if err := appendRow(ch, off+i); err != nil {
					t.Fatalf("append group row: %v", err)
				}
			}
			if err := w.AddColumns(ch, indexes, isKey); err != nil {
				t.Fatalf("add columns: %v", err)
			}
			off += n
		}
		if err := w.FlushColumns(); err != nil {
			t.Fatalf("flush columns: %v", err)
		}
	}
	feed([]int{0, 1}, true, func(ch *chunk.Chunk, row int) error {
		return ch.AppendRow(keys[row], vals[row][0])
	})
	feed([]int{2}, false, func(ch *chunk.Chunk, row int) error {
		return ch.AppendRow(vals[row][1])
	})

	rs, err := w.Build()
	if err != nil {
		t.Fatalf("vertical build: %v", err)
	}
	return rs
}
