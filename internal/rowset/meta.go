// Package rowset implements the write/merge/read core: the rowset writers
// (horizontal, vertical, partial-update), the final-merge step that
// reconciles overlapping segments at build time, and the built Rowset with
// its unified read iterator.
package rowset

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stratadb/strata/pkg/types"
)

// State is the lifecycle state of a rowset.
type State int8

const (
	// StateWriting marks a rowset still owned by its writer or not yet
	// committed. Never observable by readers.
	StateWriting State = iota
	// StateVisible marks a committed, immutable rowset.
	StateVisible
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateWriting:
		return "WRITING"
	case StateVisible:
		return "VISIBLE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int8(s))
	}
}

// OverlapState describes whether a rowset's segments may contain duplicate
// keys across segments.
type OverlapState int8

const (
	OverlapUnknown OverlapState = iota
	Overlapping
	NonOverlapping
)

// String returns the overlap state name.
func (o OverlapState) String() string {
	switch o {
	case OverlapUnknown:
		return "UNKNOWN"
	case Overlapping:
		return "OVERLAPPING"
	case NonOverlapping:
		return "NONOVERLAPPING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int8(o))
	}
}

// Meta is the persisted metadata of one rowset. The writer mutates it
// during the build sequence; once the rowset transitions to VISIBLE it is
// immutable.
type Meta struct {
	RowsetID    types.RowsetID `json:"-"`
	TabletID    int64          `json:"tablet_id"`
	SchemaHash  uint32         `json:"schema_hash"`
	PartitionID int64          `json:"partition_id"`
	Version     types.Version  `json:"version"`

	NumSegments int   `json:"num_segments"`
	NumRows     int64 `json:"num_rows"`
	TotalSize   int64 `json:"total_size"`

	State           State        `json:"state"`
	SegmentsOverlap OverlapState `json:"segments_overlap"`

	// ReferencedColumnIDs lists the base-schema column ids carried by a
	// partial-update rowset. Empty for full rowsets. Persisted so the
	// update manager can re-apply the rowset after a crash.
	ReferencedColumnIDs []int32 `json:"referenced_column_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsPartial reports whether the rowset carries only a subset of the base
// schema's value columns.
func (m *Meta) IsPartial() bool {
	return len(m.ReferencedColumnIDs) > 0
}

// metaJSON is the wire form of Meta with the rowset id as a string.
type metaJSON struct {
	RowsetID string `json:"rowset_id"`
	Meta
}

// MarshalMeta encodes a Meta for the metastore and for shipped rowsets.
func MarshalMeta(m *Meta) ([]byte, error) {
	return json.Marshal(&metaJSON{RowsetID: m.RowsetID.String(), Meta: *m})
}

// UnmarshalMeta decodes MarshalMeta output.
func UnmarshalMeta(data []byte) (*Meta, error) {
	var mj metaJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return nil, err
	}
	id, err := types.ParseRowsetID(mj.RowsetID)
	if err != nil {
		return nil, err
	}
	m := mj.Meta
	m.RowsetID = id
	return &m, nil
}
