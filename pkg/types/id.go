package types

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// RowsetID is a 128-bit time-ordered identifier for a rowset.
// Layout: 48-bit millisecond timestamp + 80-bit monotonic random. IDs are
// lexicographically sortable, so rowset file names sort by creation time.
type RowsetID [16]byte

// Crockford's Base32 alphabet (excludes I, L, O, U to avoid confusion).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// IDGenerator generates time-ordered RowsetIDs. IDs produced within the same
// millisecond are monotonically increasing.
type IDGenerator struct {
	mu            sync.Mutex
	lastTimestamp uint64
	lastRandom    [10]byte
}

// NewIDGenerator creates a new rowset id generator.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// Generate creates a new RowsetID with the current timestamp.
func (g *IDGenerator) Generate() (RowsetID, error) {
	return g.GenerateWithTime(time.Now())
}

// GenerateWithTime creates a new RowsetID with the specified timestamp.
// Exposed for tests and for backfilling historical rowsets.
func (g *IDGenerator) GenerateWithTime(t time.Time) (RowsetID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	timestamp := uint64(t.UnixMilli())

	var id RowsetID

	// Timestamp in big-endian so byte order matches time order.
	id[0] = byte(timestamp >> 40)
	id[1] = byte(timestamp >> 32)
	id[2] = byte(timestamp >> 24)
	id[3] = byte(timestamp >> 16)
	id[4] = byte(timestamp >> 8)
	id[5] = byte(timestamp)

	if timestamp == g.lastTimestamp {
		// Same millisecond: bump the random tail to stay monotonic.
		g.incrementRandom()
		copy(id[6:], g.lastRandom[:])
	} else {
		if _, err := rand.Read(g.lastRandom[:]); err != nil {
			return RowsetID{}, err
		}
		copy(id[6:], g.lastRandom[:])
		g.lastTimestamp = timestamp
	}

	return id, nil
}

// incrementRandom increments the random component as a big-endian 80-bit int.
func (g *IDGenerator) incrementRandom() {
	for i := 9; i >= 0; i-- {
		g.lastRandom[i]++
		if g.lastRandom[i] != 0 {
			break
		}
	}
}

// Compare returns -1, 0 or 1 comparing ids byte-lexicographically.
func (id RowsetID) Compare(other RowsetID) int {
	for i := 0; i < 16; i++ {
		if id[i] < other[i] {
			return -1
		}
		if id[i] > other[i] {
			return 1
		}
	}
	return 0
}

// IsZero reports whether the id is the zero value.
func (id RowsetID) IsZero() bool {
	return id == RowsetID{}
}

// Timestamp returns the embedded creation time.
func (id RowsetID) Timestamp() time.Time {
	ms := uint64(id[0])<<40 | uint64(id[1])<<32 | uint64(id[2])<<24 |
		uint64(id[3])<<16 | uint64(id[4])<<8 | uint64(id[5])
	return time.UnixMilli(int64(ms))
}

// String encodes the id as 26 characters of Crockford Base32.
func (id RowsetID) String() string {
	var out [26]byte
	// 128 bits into 26 5-bit groups, high bits zero-padded.
	var acc uint64
	bits := 0
	pos := 25
	for i := 15; i >= 0; i-- {
		acc |= uint64(id[i]) << bits
		bits += 8
		for bits >= 5 && pos >= 0 {
			out[pos] = crockfordBase32[acc&0x1f]
			acc >>= 5
			bits -= 5
			pos--
		}
	}
	for pos >= 0 {
		out[pos] = crockfordBase32[acc&0x1f]
		acc >>= 5
		pos--
	}
	return string(out[:])
}

// ParseRowsetID decodes a 26-character Crockford Base32 rowset id.
func ParseRowsetID(s string) (RowsetID, error) {
	if len(s) != 26 {
		return RowsetID{}, fmt.Errorf("rowset id: want 26 characters, got %d", len(s))
	}
	var rev [256]int8
	for i := range rev {
		rev[i] = -1
	}
	for i := 0; i < len(crockfordBase32); i++ {
		rev[crockfordBase32[i]] = int8(i)
	}

	var id RowsetID
	var acc uint64
	bits := 0
	pos := 15
	for i := 25; i >= 0; i-- {
		v := rev[s[i]]
		if v < 0 {
			return RowsetID{}, fmt.Errorf("rowset id: invalid character %q", s[i])
		}
		acc |= uint64(v) << bits
		bits += 5
		for bits >= 8 && pos >= 0 {
			id[pos] = byte(acc)
			acc >>= 8
			bits -= 8
			pos--
		}
	}
	return id, nil
}
