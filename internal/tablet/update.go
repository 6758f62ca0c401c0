package tablet

import (
	"io"
	"sync"

	"github.com/stratadb/strata/internal/chunk"
	serrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/internal/rowset"
	"github.com/stratadb/strata/pkg/types"
)

// rowLocation points the primary index at a key's newest stored row.
type rowLocation struct {
	rowsetID types.RowsetID
	segment  int
	row      int64
}

// UpdateManager maintains the in-memory primary index of a PRIMARY_KEYS
// tablet: encoded key tuple to newest row location. Every committed rowset,
// full or partial, is applied exactly once; replaying a rowset after a
// crash-recovery restart is a no-op.
type UpdateManager struct {
	mu      sync.Mutex
	applied map[types.RowsetID]bool
	index   map[string]rowLocation
}

// NewUpdateManager creates an empty index.
func NewUpdateManager() *UpdateManager {
	return &UpdateManager{
		applied: make(map[types.RowsetID]bool),
		index:   make(map[string]rowLocation),
	}
}

// OnRowsetFinished indexes a committed rowset's keys. Idempotent by rowset
// id; partial-update rowsets index like full ones, since they carry the
// whole key prefix.
func (u *UpdateManager) OnRowsetFinished(t *Tablet, rs *rowset.Rowset) error {
	if t.schema.KeysType != types.PrimaryKeys {
		return serrors.Newf(serrors.ErrCategoryTablet, serrors.CodeVersionConflict,
			"update index requires PRIMARY_KEYS, table is %s", t.schema.KeysType)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.applied[rs.Meta().RowsetID] {
		return nil
	}
	if err := u.indexRowset(rs); err != nil {
		return err
	}
	u.applied[rs.Meta().RowsetID] = true
	return nil
}

// indexRowset scans only the key columns of every segment.
func (u *UpdateManager) indexRowset(rs *rowset.Rowset) error {
	schema := rs.Schema()
	numKeys := schema.NumKeyColumns()
	keyIdxs := make([]int, numKeys)
	for i := range keyIdxs {
		keyIdxs[i] = i
	}
	keyProj, err := schema.Project(keyIdxs)
	if err != nil {
		return serrors.NewTabletError(serrors.CodeReadFailed, err.Error())
	}
	its, err := rs.SegmentIterators(keyProj, rowset.ReadOptions{})
	if err != nil {
		return err
	}
	defer func() {
		for _, it := range its {
			it.Close()
		}
	}()
	buf, err := chunk.New(keyProj, 0)
	if err != nil {
		return serrors.NewTabletError(serrors.CodeReadFailed, err.Error())
	}
	id := rs.Meta().RowsetID
	for seg, it := range its {
		var rowBase int64
		for {
			buf.Reset()
			err := it.Next(buf)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			n := buf.NumRows()
			for row := 0; row < n; row++ {
				key := chunk.EncodeKey(nil, buf, row, numKeys)
				u.index[string(key)] = rowLocation{
					rowsetID: id,
					segment:  seg,
					row:      rowBase + int64(row),
				}
			}
			rowBase += int64(n)
		}
	}
	return nil
}

// Applied reports whether a rowset has been indexed.
func (u *UpdateManager) Applied(id types.RowsetID) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.applied[id]
}

// NumKeys returns the distinct key count in the index.
func (u *UpdateManager) NumKeys() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.index)
}

// Lookup returns the newest location of an encoded key tuple.
func (u *UpdateManager) Lookup(encodedKey []byte) (types.RowsetID, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	loc, ok := u.index[string(encodedKey)]
	return loc.rowsetID, ok
}
