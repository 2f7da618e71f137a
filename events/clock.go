package events

import (
	"sync/atomic"
	"time"
)

// clock hands out unix-nano stamps that strictly increase across calls, even
// when the wall clock stalls or steps back.
type clock struct {
	last atomic.Int64
}

var eventClock clock

func (c *clock) next() int64 {
	for {
		prev := c.last.Load()
		stamp := max(time.Now().UnixNano(), prev+1)
		if c.last.CompareAndSwap(prev, stamp) {
			return stamp
		}
	}
}
