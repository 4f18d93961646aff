package crdt

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Timestamp is a hybrid logical clock reading. Wall carries physical
// nanoseconds, Logical orders events that share a wall reading and
// Replica names the clock that issued it.
type Timestamp struct {
	Wall    int64  `json:"wall"`
	Logical uint32 `json:"logical"`
	Replica string `json:"replica,omitempty"`
}

// compareTime orders t and u by their clock reading only, ignoring the
// issuing replica.
func (t Timestamp) compareTime(u Timestamp) int {
	switch {
	case t.Wall < u.Wall:
		return -1
	case t.Wall > u.Wall:
		return 1
	case t.Logical < u.Logical:
		return -1
	case t.Logical > u.Logical:
		return 1
	}
	return 0
}

// Compare returns -1, 0 or +1 depending on whether t is before,
// equal to or after u. Readings that share wall and logical parts are
// ordered by replica ID, so clocks with distinct IDs never tie.
func (t Timestamp) Compare(u Timestamp) int {
	if c := t.compareTime(u); c != 0 {
		return c
	}
	switch {
	case t.Replica < u.Replica:
		return -1
	case t.Replica > u.Replica:
		return 1
	}
	return 0
}

// After reports whether t is strictly later than u.
func (t Timestamp) After(u Timestamp) bool { return t.Compare(u) > 0 }

// Before reports whether t is strictly earlier than u.
func (t Timestamp) Before(u Timestamp) bool { return t.Compare(u) < 0 }

// Equal reports whether t and u are the same instant from the same replica.
func (t Timestamp) Equal(u Timestamp) bool { return t == u }

// IsZero reports whether t is the zero timestamp.
func (t Timestamp) IsZero() bool { return t == Timestamp{} }

func (t Timestamp) String() string {
	if t.Replica == "" {
		return fmt.Sprintf("%d.%d", t.Wall, t.Logical)
	}
	return fmt.Sprintf("%d.%d@%s", t.Wall, t.Logical, t.Replica)
}

// Clock hands out timestamps for local writes.
type Clock interface {
	// Now returns a timestamp strictly later than every timestamp
	// previously returned or observed by this clock.
	Now() Timestamp

	// Observe folds a timestamp seen elsewhere into the clock.
	Observe(ts Timestamp)
}

// HLC is a hybrid logical clock safe for concurrent use.
type HLC struct {
	mu       sync.Mutex
	id       string
	last     Timestamp
	physical func() time.Time
}

// DefaultClock is shared by every dictionary created without an
// explicit clock, so sequential writes in one process never tie.
var DefaultClock Clock = NewHLC()

// NewHLC creates a clock driven by time.Now with a random replica ID.
func NewHLC() *HLC {
	return NewHLCWithSource(time.Now)
}

// NewHLCWithSource creates a clock driven by the given physical time
// source with a random replica ID.
func NewHLCWithSource(physical func() time.Time) *HLC {
	return NewHLCWithID(uuid.New().String(), physical)
}

// NewHLCWithID creates a clock stamping readings with the given replica
// ID. Two clocks must never share an ID. A nil physical source means
// time.Now.
func NewHLCWithID(id string, physical func() time.Time) *HLC {
	if physical == nil {
		physical = time.Now
	}
	return &HLC{id: id, physical: physical}
}

// ID returns the replica ID carried by every reading of c.
func (c *HLC) ID() string {
	return c.id
}

// Now returns the next timestamp.
func (c *HLC) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.physical().UnixNano()
	switch {
	case wall > c.last.Wall:
		c.last = Timestamp{Wall: wall}
	case c.last.Logical == math.MaxUint32:
		c.last = Timestamp{Wall: c.last.Wall + 1}
	default:
		c.last.Logical++
	}
	c.last.Replica = c.id
	return c.last
}

// Observe moves the clock forward to ts if ts is ahead of it.
func (c *HLC) Observe(ts Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ts.After(c.last) {
		c.last = ts
	}
}

// Last returns the most recent timestamp issued or observed.
func (c *HLC) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
