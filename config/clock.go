package config

import (
	"sync/atomic"
	"time"
)

// TimestampGenerator yields the microsecond timestamps used for stream and
// segment idleness. Values are only compared with each other, never with wall time.
type TimestampGenerator interface {
	NowMicros() int64
}

type MonotonicClock struct {
	start time.Time
}

func NewMonotonicClock() MonotonicClock {
	return MonotonicClock{start: time.Now()}
}

// NowMicros reads the monotonic clock, so wall clock jumps never expire entries early.
func (c MonotonicClock) NowMicros() int64 {
	return time.Since(c.start).Microseconds()
}

type FixedClock struct {
	micros atomic.Int64
}

func NewFixedClock(micros int64) *FixedClock {
	c := &FixedClock{}
	c.micros.Store(micros)
	return c
}

func (c *FixedClock) NowMicros() int64 {
	return c.micros.Load()
}

func (c *FixedClock) Set(micros int64) {
	c.micros.Store(micros)
}

func (c *FixedClock) Advance(d time.Duration) int64 {
	return c.micros.Add(d.Microseconds())
}
