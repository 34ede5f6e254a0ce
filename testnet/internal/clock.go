package internal

import (
	"sync"
	"time"
)

// Clock is the time source behind step and run durations.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// clockOrSystem returns c, or the wall clock when c is nil.
func clockOrSystem(c Clock) Clock {
	if c == nil {
		return systemClock{}
	}
	return c
}

func elapsed(c Clock, since time.Time) time.Duration {
	return c.Now().Sub(since)
}

// TickingClock is a fake clock that moves forward by a fixed tick each time
// it is read, so every measured interval is a whole number of ticks no
// matter how fast the run is. A zero tick gives a frozen clock.
//
//	clock := NewTickingClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)
//	orchestrator.SetClock(clock)
type TickingClock struct {
	mu    sync.Mutex
	now   time.Time
	tick  time.Duration
	reads int
}

// NewTickingClock starts a TickingClock at start.
func NewTickingClock(start time.Time, tick time.Duration) *TickingClock {
	return &TickingClock{now: start, tick: tick}
}

// Now returns the clock's time and then moves it on by one tick.
func (c *TickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.tick)
	c.reads++
	return t
}

// Skip moves the clock forward by d without counting a read.
func (c *TickingClock) Skip(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Reads returns how many times Now has been called.
func (c *TickingClock) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}
