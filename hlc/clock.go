// Package hlc stamps forwarded change events with hybrid logical clock
// timestamps so consumers can order and deduplicate them.
package hlc

import (
	"sync"
	"time"
)

// LogicalBits is the number of bits reserved for the logical counter in sequences.
// 16 bits = ~65k events per millisecond per node.
const LogicalBits = 16

// LogicalMask masks the logical counter to 16 bits
const LogicalMask = (1 << LogicalBits) - 1

// MaxLogical is the maximum value for logical counter before overflow
const MaxLogical = LogicalMask

// NodeIDBits is the number of bits reserved for node ID in sequences.
const NodeIDBits = 6

// NodeIDMask masks the node ID to 6 bits
const NodeIDMask = (1 << NodeIDBits) - 1

// TotalShiftBits is the total bits to shift wall time (NodeIDBits + LogicalBits)
const TotalShiftBits = NodeIDBits + LogicalBits // 22 bits

// Clock implements a Hybrid Logical Clock with millisecond wall time
type Clock struct {
	nodeID  uint64
	wallMS  int64
	logical int32
	now     func() time.Time
	mu      sync.Mutex
}

// Timestamp is one tick of a Clock
type Timestamp struct {
	WallMS  int64
	Logical int32
	NodeID  uint64
}

// NewClock creates a new HLC instance
func NewClock(nodeID uint64) *Clock {
	return &Clock{nodeID: nodeID, now: time.Now}
}

// Now generates a new timestamp, strictly greater than every earlier one
// from this clock even if the wall clock steps back.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physicalMS := c.now().UnixMilli()
	if physicalMS > c.wallMS {
		c.wallMS = physicalMS
		c.logical = 0
	}

	// Logical counter exhausted for this millisecond: borrow the next one
	if c.logical >= MaxLogical {
		c.wallMS++
		c.logical = 0
	}

	c.logical++

	return Timestamp{
		WallMS:  c.wallMS,
		Logical: c.logical,
		NodeID:  c.nodeID,
	}
}

// Compare compares two timestamps
// Returns: -1 if a < b, 0 if a == b, 1 if a > b
func Compare(a, b Timestamp) int {
	switch {
	case a.WallMS != b.WallMS:
		return cmp(a.WallMS, b.WallMS)
	case a.Logical != b.Logical:
		return cmp(a.Logical, b.Logical)
	default:
		// Node ID is the tiebreaker
		return cmp(a.NodeID, b.NodeID)
	}
}

func cmp[T int64 | int32 | uint64](a, b T) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Less returns true if a happened before b
func Less(a, b Timestamp) bool {
	return Compare(a, b) < 0
}

// Time returns the physical time component
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(t.WallMS)
}

// String returns a human-readable representation
func (t Timestamp) String() string {
	return t.Time().Format(time.RFC3339Nano)
}

// Seq packs the timestamp into a 64-bit sequence.
// Format: (wall_ms << 22) | (node_id << 16) | logical
//
// Bit allocation (64 bits total):
//   - 42 bits for wall time in milliseconds (~139 years from epoch)
//   - 6 bits for node ID
//   - 16 bits for logical counter (~65k per ms per node)
func (t Timestamp) Seq() uint64 {
	nodeID := t.NodeID & NodeIDMask
	logical := uint64(t.Logical) & LogicalMask
	return (uint64(t.WallMS) << TotalShiftBits) | (nodeID << LogicalBits) | logical
}
