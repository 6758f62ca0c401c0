package types

import "fmt"

// Version is an inclusive version range covered by a rowset. A freshly
// written rowset carries a single version (Start == End); compacted rowsets
// cover the merged range.
type Version struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// NewVersion returns a single-version range.
func NewVersion(v int64) Version {
	return Version{Start: v, End: v}
}

// Contains reports whether other is fully inside this range.
func (v Version) Contains(other Version) bool {
	return v.Start <= other.Start && other.End <= v.End
}

// String formats the range as "[start,end]".
func (v Version) String() string {
	return fmt.Sprintf("[%d,%d]", v.Start, v.End)
}
