package timestamp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock issues strictly increasing timestamps for one writer.
//
// It behaves like a hybrid logical clock: the physical part follows the
// wall clock, and when the wall clock stalls or steps backwards the last
// issued value is bumped by one unit instead.
type Clock struct {
	mu   sync.Mutex
	id   uuid.UUID
	last uint64
	now  func() time.Time
}

// NewClock creates a clock for the given writer. A nil ID gets a random one.
func NewClock(id uuid.UUID) *Clock {
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &Clock{id: id, now: time.Now}
}

// ID returns the writer identity stamped into every timestamp.
func (c *Clock) ID() uuid.UUID {
	return c.id
}

// Now returns a timestamp greater than any previously returned or observed one.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := ToNTP64(c.now())
	if v <= c.last {
		v = c.last + 1
	}
	c.last = v
	return Timestamp{Time: v, ID: c.id}
}

// Observe folds a remote timestamp into the clock so later local
// timestamps sort after it.
func (c *Clock) Observe(ts Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts.Time > c.last {
		c.last = ts.Time
	}
}
