// Package segment implements the on-disk segment format and its writer and
// reader. A segment is one immutable, persisted run of rows for one schema
// projection.
//
// File layout:
//
//	magic "STRSEG01"
//	column pages, each a snappy block, in write order
//	JSON footer (column/page index, key bloom filter, key zone map)
//	uint32 footer length (little-endian)
//	magic "STRSEG01"
//
// Pages are cut at a fixed row count, identical across columns, so any
// column subset can be streamed forward with bounded memory.
package segment

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/stratadb/strata/internal/chunk"
	"github.com/stratadb/strata/pkg/types"
)

func floatBits(f float64) uint64 { return math.Float64bits(f) }

func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }

const (
	magic = "STRSEG01"

	// DefaultPageRows is the row count per column page.
	DefaultPageRows = 4096

	// DefaultBloomFPR is the target false positive rate of the key filter.
	DefaultBloomFPR = 0.01
)

// pageMeta locates one column page in the file.
type pageMeta struct {
	Offset  int64 `json:"offset"`
	Size    int32 `json:"size"`
	NumRows int32 `json:"num_rows"`
}

// columnMeta indexes all pages of one column.
type columnMeta struct {
	ID    int32            `json:"id"`
	Name  string           `json:"name"`
	Type  types.ColumnType `json:"type"`
	Pages []pageMeta       `json:"pages"`
}

// footer is the JSON trailer of a segment file.
type footer struct {
	NumRows       int64          `json:"num_rows"`
	KeysType      types.KeysType `json:"keys_type"`
	NumKeyColumns int            `json:"num_key_columns"`
	Columns       []columnMeta   `json:"columns"`

	// KeyBloom is the serialized bloom filter over encoded key tuples.
	// Empty for segments without key columns (vertical value groups).
	KeyBloom []byte `json:"key_bloom,omitempty"`

	// MinKey/MaxKey are memcomparable-encoded key tuples bounding the
	// segment. Only meaningful when rows are key-sorted.
	MinKey []byte `json:"min_key,omitempty"`
	MaxKey []byte `json:"max_key,omitempty"`
}

// encodePage encodes rows [from,to) of col into the raw (pre-compression)
// page representation.
func encodePage(col chunk.Column, from, to int) ([]byte, error) {
	var buf []byte
	var scratch [8]byte
	switch col.Type() {
	case types.TypeInt32:
		buf = make([]byte, 0, (to-from)*4)
		for i := from; i < to; i++ {
			binary.LittleEndian.PutUint32(scratch[:4], uint32(col.Get(i).(int32)))
			buf = append(buf, scratch[:4]...)
		}
	case types.TypeInt64:
		buf = make([]byte, 0, (to-from)*8)
		for i := from; i < to; i++ {
			binary.LittleEndian.PutUint64(scratch[:8], uint64(col.Get(i).(int64)))
			buf = append(buf, scratch[:8]...)
		}
	case types.TypeFloat64:
		buf = make([]byte, 0, (to-from)*8)
		for i := from; i < to; i++ {
			binary.LittleEndian.PutUint64(scratch[:8], floatBits(col.Get(i).(float64)))
			buf = append(buf, scratch[:8]...)
		}
	case types.TypeBool:
		buf = make([]byte, 0, to-from)
		for i := from; i < to; i++ {
			if col.Get(i).(bool) {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	case types.TypeString:
		for i := from; i < to; i++ {
			s := col.Get(i).(string)
			buf = binary.AppendUvarint(buf, uint64(len(s)))
			buf = append(buf, s...)
		}
	case types.TypeBytes:
		for i := from; i < to; i++ {
			b := col.Get(i).([]byte)
			buf = binary.AppendUvarint(buf, uint64(len(b)))
			buf = append(buf, b...)
		}
	default:
		return nil, fmt.Errorf("segment: unsupported column type %s", col.Type())
	}
	return buf, nil
}

// decodePage appends numRows values decoded from raw page data into col.
func decodePage(t types.ColumnType, data []byte, numRows int, col chunk.Column) error {
	pos := 0
	for r := 0; r < numRows; r++ {
		switch t {
		case types.TypeInt32:
			if pos+4 > len(data) {
				return truncatedPage(t, r, numRows)
			}
			if err := col.Append(int32(binary.LittleEndian.Uint32(data[pos:]))); err != nil {
				return err
			}
			pos += 4
		case types.TypeInt64:
			if pos+8 > len(data) {
				return truncatedPage(t, r, numRows)
			}
			if err := col.Append(int64(binary.LittleEndian.Uint64(data[pos:]))); err != nil {
				return err
			}
			pos += 8
		case types.TypeFloat64:
			if pos+8 > len(data) {
				return truncatedPage(t, r, numRows)
			}
			if err := col.Append(floatFromBits(binary.LittleEndian.Uint64(data[pos:]))); err != nil {
				return err
			}
			pos += 8
		case types.TypeBool:
			if pos+1 > len(data) {
				return truncatedPage(t, r, numRows)
			}
			if err := col.Append(data[pos] != 0); err != nil {
				return err
			}
			pos++
		case types.TypeString, types.TypeBytes:
			n, sz := binary.Uvarint(data[pos:])
			if sz <= 0 || pos+sz+int(n) > len(data) {
				return truncatedPage(t, r, numRows)
			}
			pos += sz
			if t == types.TypeString {
				if err := col.Append(string(data[pos : pos+int(n)])); err != nil {
					return err
				}
			} else {
				if err := col.Append(data[pos : pos+int(n)]); err != nil {
					return err
				}
			}
			pos += int(n)
		default:
			return fmt.Errorf("segment: unsupported column type %s", t)
		}
	}
	return nil
}

func truncatedPage(t types.ColumnType, row, numRows int) error {
	return fmt.Errorf("segment: truncated %s page at row %d of %d", t, row, numRows)
}
