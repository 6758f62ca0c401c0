package chunk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/stratadb/strata/pkg/types"
)

// CompareValues compares two values of the same primitive type. Returns
// -1, 0 or 1.
func CompareValues(t types.ColumnType, a, b interface{}) (int, error) {
	switch t {
	case types.TypeInt32:
		return cmpOrdered(a.(int32), b.(int32)), nil
	case types.TypeInt64:
		return cmpOrdered(a.(int64), b.(int64)), nil
	case types.TypeFloat64:
		return cmpOrdered(a.(float64), b.(float64)), nil
	case types.TypeBool:
		return cmpBool(a.(bool), b.(bool)), nil
	case types.TypeString:
		return cmpOrdered(a.(string), b.(string)), nil
	case types.TypeBytes:
		return bytes.Compare(a.([]byte), b.([]byte)), nil
	default:
		return 0, fmt.Errorf("chunk: cannot compare type %s", t)
	}
}

func cmpOrdered[T int32 | int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

// CompareRows compares the key tuples of row ai in a and row bi in b over
// the first numKeys columns, ties broken by subsequent key columns in
// declared order.
func CompareRows(a *Chunk, ai int, b *Chunk, bi int, numKeys int) (int, error) {
	for k := 0; k < numKeys; k++ {
		ac, bc := a.Column(k), b.Column(k)
		if ac.Type() != bc.Type() {
			return 0, fmt.Errorf("chunk: key column %d type mismatch: %s vs %s", k, ac.Type(), bc.Type())
		}
		cmp, err := CompareValues(ac.Type(), ac.Get(ai), bc.Get(bi))
		if err != nil {
			return 0, err
		}
		if cmp != 0 {
			return cmp, nil
		}
	}
	return 0, nil
}

// EncodeKey appends a canonical binary encoding of row's key tuple (first
// numKeys columns) to dst. Equal key tuples encode to equal bytes; the
// encoding is used for bloom filters and primary-index keys, not for
// ordered comparison.
func EncodeKey(dst []byte, c *Chunk, row, numKeys int) []byte {
	var scratch [8]byte
	for k := 0; k < numKeys; k++ {
		col := c.Column(k)
		switch col.Type() {
		case types.TypeInt32:
			binary.LittleEndian.PutUint32(scratch[:4], uint32(col.Get(row).(int32)))
			dst = append(dst, scratch[:4]...)
		case types.TypeInt64:
			binary.LittleEndian.PutUint64(scratch[:8], uint64(col.Get(row).(int64)))
			dst = append(dst, scratch[:8]...)
		case types.TypeFloat64:
			binary.LittleEndian.PutUint64(scratch[:8], math.Float64bits(col.Get(row).(float64)))
			dst = append(dst, scratch[:8]...)
		case types.TypeBool:
			if col.Get(row).(bool) {
				dst = append(dst, 1)
			} else {
				dst = append(dst, 0)
			}
		case types.TypeString:
			s := col.Get(row).(string)
			dst = binary.AppendUvarint(dst, uint64(len(s)))
			dst = append(dst, s...)
		case types.TypeBytes:
			b := col.Get(row).([]byte)
			dst = binary.AppendUvarint(dst, uint64(len(b)))
			dst = append(dst, b...)
		}
		// Column separator keeps adjacent variable-length keys unambiguous.
		dst = append(dst, 0x00)
	}
	return dst
}

// EncodeKeyOrdered appends a memcomparable encoding of row's key tuple to
// dst: bytes.Compare on two encoded tuples matches CompareRows on the
// originals. Used for segment zone maps.
func EncodeKeyOrdered(dst []byte, c *Chunk, row, numKeys int) []byte {
	var scratch [8]byte
	for k := 0; k < numKeys; k++ {
		col := c.Column(k)
		switch col.Type() {
		case types.TypeInt32:
			// Big-endian with the sign bit flipped orders signed ints.
			binary.BigEndian.PutUint32(scratch[:4], uint32(col.Get(row).(int32))^0x80000000)
			dst = append(dst, scratch[:4]...)
		case types.TypeInt64:
			binary.BigEndian.PutUint64(scratch[:8], uint64(col.Get(row).(int64))^0x8000000000000000)
			dst = append(dst, scratch[:8]...)
		case types.TypeFloat64:
			bits := math.Float64bits(col.Get(row).(float64))
			if bits&0x8000000000000000 != 0 {
				bits = ^bits
			} else {
				bits |= 0x8000000000000000
			}
			binary.BigEndian.PutUint64(scratch[:8], bits)
			dst = append(dst, scratch[:8]...)
		case types.TypeBool:
			if col.Get(row).(bool) {
				dst = append(dst, 1)
			} else {
				dst = append(dst, 0)
			}
		case types.TypeString:
			dst = appendOrderedBytes(dst, []byte(col.Get(row).(string)))
		case types.TypeBytes:
			dst = appendOrderedBytes(dst, col.Get(row).([]byte))
		}
	}
	return dst
}

// appendOrderedBytes escapes 0x00 as 0x00 0xFF and terminates with
// 0x00 0x00, keeping bytes.Compare consistent with prefix ordering.
func appendOrderedBytes(dst, b []byte) []byte {
	for _, x := range b {
		if x == 0x00 {
			dst = append(dst, 0x00, 0xFF)
		} else {
			dst = append(dst, x)
		}
	}
	return append(dst, 0x00, 0x00)
}
