package engine

import "sync/atomic"

// Clock is the monotonic logical clock for pass ordering.
//
// Every committed pass is stamped with a strictly increasing seq number
// from this clock. Wall-clock time never participates in ordering, so
// two runs over the same edits produce identical sequences.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// though the per-sheet single-writer rule means one goroutine usually
// calls Next for a given sheet.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
// Used when reopening a workbook to resume from the last committed pass.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and advances the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
