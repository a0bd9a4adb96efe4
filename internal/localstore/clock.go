package localstore

import "sync/atomic"

// Clock is a monotonic logical clock. Every record, command log entry and
// projection is stamped with a strictly increasing seq, so collection
// order never depends on wall time.
type Clock struct {
	seq atomic.Int64
}

// NewClockAt creates a clock that continues after start.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
