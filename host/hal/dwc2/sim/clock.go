package sim

import "sync"

// Clock is a virtual microsecond clock. It implements hal.Delayer by
// advancing time instead of sleeping, so simulated resets and poll loops
// finish instantly.
type Clock struct {
	mu  sync.Mutex
	now uint64
}

// DelayMicroseconds advances the clock by us.
func (c *Clock) DelayMicroseconds(us uint32) {
	c.mu.Lock()
	c.now += uint64(us)
	c.mu.Unlock()
}

// Now returns microseconds elapsed since the clock was created.
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
