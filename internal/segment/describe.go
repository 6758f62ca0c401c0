package segment

import (
	"os"

	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

// ColumnInfo summarizes one column of a segment file.
type ColumnInfo struct {
	ID       int32
	Name     string
	Type     types.ColumnType
	NumPages int
	DataSize int64
}

// Description is the self-describing footer of a segment file, decoded for
// inspection tooling.
type Description struct {
	Path          string
	NumRows       int64
	KeysType      types.KeysType
	NumKeyColumns int
	Columns       []ColumnInfo
	HasKeyFilter  bool
	MinKey        []byte
	MaxKey        []byte
}

// Describe reads a segment's footer without requiring the schema it was
// written with.
func Describe(path string) (*Description, error) {
	ft, err := readFooterOnly(path)
	if err != nil {
		return nil, err
	}
	d := &Description{
		Path:          path,
		NumRows:       ft.NumRows,
		KeysType:      ft.KeysType,
		NumKeyColumns: ft.NumKeyColumns,
		HasKeyFilter:  len(ft.KeyBloom) > 0,
		MinKey:        ft.MinKey,
		MaxKey:        ft.MaxKey,
	}
	for _, cm := range ft.Columns {
		info := ColumnInfo{ID: cm.ID, Name: cm.Name, Type: cm.Type, NumPages: len(cm.Pages)}
		for _, pm := range cm.Pages {
			info.DataSize += int64(pm.Size)
		}
		d.Columns = append(d.Columns, info)
	}
	return d, nil
}

// Schema reconstructs the schema a segment was written with from its
// footer. The key prefix is marked from NumKeyColumns; aggregation kinds
// are not stored in the file and default to none.
func (d *Description) Schema() *types.Schema {
	cols := make([]types.ColumnDef, len(d.Columns))
	for i, c := range d.Columns {
		cols[i] = types.ColumnDef{
			ID:    c.ID,
			Name:  c.Name,
			Type:  c.Type,
			IsKey: i < d.NumKeyColumns,
		}
	}
	return &types.Schema{KeysType: d.KeysType, Columns: cols}
}

// readFooterOnly opens the file just long enough to decode the footer.
func readFooterOnly(path string) (*footer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, serrors.NewSegmentError(serrors.CodeReadFailed, "open segment "+path, err)
	}
	defer f.Close()
	r := &Reader{path: path, f: f}
	if err := r.readFooter(); err != nil {
		return nil, err
	}
	return &r.ft, nil
}
