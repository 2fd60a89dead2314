package tx

import "sync/atomic"

// Counter hands out transaction ids. Ids are strictly increasing across
// every session the counter is injected into.
//
// One counter belongs to the root context of the process and is passed to
// each session with WithCounter.
type Counter struct {
	seq atomic.Int64
}

// NewCounter creates a counter whose first id is 1.
func NewCounter() *Counter {
	return &Counter{}
}

// NewCounterAt creates a counter that continues after start.
func NewCounterAt(start int64) *Counter {
	c := &Counter{}
	c.seq.Store(start)
	return c
}

// Next returns the next transaction id.
func (c *Counter) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last id handed out.
func (c *Counter) Current() int64 {
	return c.seq.Load()
}
