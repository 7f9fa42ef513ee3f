package hlc

import (
	"fmt"
	"sync"
	"time"
)

// DefaultMaxDrift is the furthest a remote timestamp may sit ahead of
// this gateway's wall clock before Recv rejects it.
const DefaultMaxDrift = 60 * time.Second

// DriftError reports a remote timestamp too far ahead of the local
// wall clock. Accepting it would let one misconfigured client drag the
// whole gateway's clock into the future.
type DriftError struct {
	Remote     Timestamp
	WallMillis int64
	MaxDrift   time.Duration
}

func (e *DriftError) Error() string {
	ahead := time.Duration(e.Remote.WallMillis()-e.WallMillis) * time.Millisecond

	return fmt.Sprintf("hlc: remote timestamp %s is %s ahead of wall clock (limit %s)",
		e.Remote, ahead, e.MaxDrift)
}

// Clock issues monotonically non-decreasing timestamps for one gateway
// instance. All methods are safe for concurrent use.
type Clock struct {
	mu       sync.Mutex
	last     Timestamp
	maxDrift time.Duration
	now      func() time.Time
}

// NewClock returns a clock that rejects remote timestamps more than
// maxDrift ahead of the wall clock. A zero maxDrift selects
// DefaultMaxDrift.
func NewClock(maxDrift time.Duration) *Clock {
	if maxDrift <= 0 {
		maxDrift = DefaultMaxDrift
	}

	return &Clock{maxDrift: maxDrift, now: time.Now}
}

// Now returns the next local timestamp: the wall clock when it has
// advanced past the previous reading, otherwise the previous reading
// plus one logical step.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.advance(c.last)
}

// Recv folds a remote timestamp into the clock and returns the new
// local reading, which is strictly greater than both the remote value
// and every previously issued timestamp. Remote values further than
// the drift limit ahead of the wall clock are rejected.
func (c *Clock) Recv(remote Timestamp) (Timestamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wallMillis := c.now().UnixMilli()
	if ahead := remote.WallMillis() - wallMillis; ahead > c.maxDrift.Milliseconds() {
		return 0, &DriftError{Remote: remote, WallMillis: wallMillis, MaxDrift: c.maxDrift}
	}

	floor := c.last
	if remote > floor {
		floor = remote
	}
	c.last = floor + 1

	return c.last, nil
}

// advance computes max(prev+1, encode(wallNow, 0)) and records it.
// Counter overflow carries into the wall field, which keeps the packed
// value monotone without special casing.
func (c *Clock) advance(prev Timestamp) Timestamp {
	next := prev + 1
	if wall := Encode(c.now().UnixMilli(), 0); wall > next {
		next = wall
	}
	c.last = next

	return next
}
