package chunk

import (
	"fmt"

	"github.com/stratadb/strata/pkg/types"
)

// EffectiveAgg returns the aggregation kind applied to a value column when
// duplicate keys fold. UNIQUE and PRIMARY tables replace whole rows, so a
// value column with no declared kind defaults to REPLACE there (and on AGG
// tables, where an unspecified kind means the column carries the latest
// write).
func EffectiveAgg(schema *types.Schema, colIdx int) types.AggregationType {
	def := schema.Columns[colIdx]
	if def.IsKey {
		return types.AggNone
	}
	if def.Agg == types.AggNone && schema.KeysType.Dedups() {
		return types.AggReplace
	}
	return def.Agg
}

// FoldValue folds v into acc per the aggregation kind. For REPLACE the later
// value (v) wins unconditionally.
func FoldValue(agg types.AggregationType, t types.ColumnType, acc, v interface{}) (interface{}, error) {
	switch agg {
	case types.AggReplace:
		return v, nil
	case types.AggSum:
		switch t {
		case types.TypeInt32:
			return acc.(int32) + v.(int32), nil
		case types.TypeInt64:
			return acc.(int64) + v.(int64), nil
		case types.TypeFloat64:
			return acc.(float64) + v.(float64), nil
		default:
			return nil, fmt.Errorf("chunk: SUM unsupported for type %s", t)
		}
	case types.AggMax:
		cmp, err := CompareValues(t, v, acc)
		if err != nil {
			return nil, err
		}
		if cmp > 0 {
			return v, nil
		}
		return acc, nil
	case types.AggMin:
		cmp, err := CompareValues(t, v, acc)
		if err != nil {
			return nil, err
		}
		if cmp < 0 {
			return v, nil
		}
		return acc, nil
	default:
		return nil, fmt.Errorf("chunk: cannot fold with aggregation %s", agg)
	}
}

// AggregateSorted folds adjacent rows with equal key tuples in a key-sorted
// chunk, applying each value column's effective aggregation kind. The input
// must already be sorted by key; insertion order among equal keys must be
// preserved by that sort so REPLACE keeps the latest write.
func AggregateSorted(c *Chunk) (*Chunk, error) {
	schema := c.Schema()
	numKeys := schema.NumKeyColumns()
	if !schema.KeysType.Dedups() || c.NumRows() == 0 {
		return c, nil
	}

	out, err := New(schema, c.NumRows())
	if err != nil {
		return nil, err
	}

	n := c.NumRows()
	groupStart := 0
	for i := 1; i <= n; i++ {
		same := false
		if i < n {
			cmp, err := CompareRows(c, groupStart, c, i, numKeys)
			if err != nil {
				return nil, err
			}
			same = cmp == 0
		}
		if same {
			continue
		}
		if err := appendFolded(out, c, groupStart, i); err != nil {
			return nil, err
		}
		groupStart = i
	}
	return out, nil
}

// appendFolded folds rows [from,to) of src (all sharing one key tuple) into
// one output row of out.
func appendFolded(out, src *Chunk, from, to int) error {
	if to-from == 1 {
		return out.AppendRowFrom(src, from)
	}
	schema := src.Schema()
	numKeys := schema.NumKeyColumns()
	for col := 0; col < len(schema.Columns); col++ {
		sc := src.Column(col)
		if col < numKeys {
			if err := out.Column(col).Append(sc.Get(from)); err != nil {
				return err
			}
			continue
		}
		agg := EffectiveAgg(schema, col)
		acc := sc.Get(from)
		for r := from + 1; r < to; r++ {
			v, err := FoldValue(agg, sc.Type(), acc, sc.Get(r))
			if err != nil {
				return err
			}
			acc = v
		}
		if err := out.Column(col).Append(acc); err != nil {
			return err
		}
	}
	return nil
}
