// Package slidingwindow implements a lock-free striped ring buffer that
// produces (hits, rate) observability samples, independent of whatever
// enforcement window an algorithm evaluation used.
package slidingwindow

import (
	"math"
	"sync/atomic"
	"time"
)

// Counter is a striped ring buffer of B buckets spanning window W ticks.
// AddSample and Snapshot are lock-free and wait-free in steady state; a CAS
// loop retries only when a concurrent writer lands on the same bucket.
type Counter struct {
	windowTicks int64
	bucketTicks int64
	buckets     []bucket
}

type bucket struct {
	// startTicks and value are packed independently; startTicks is
	// written only by a CAS so one goroutine wins each roll-over, value
	// is reset by the winner's atomic store and accumulates via a CAS
	// loop over its float64 bit pattern.
	startTicks int64
	value      uint64 // math.Float64bits(value)
}

// New creates a Counter covering window with bucketCount stripes.
// bucketCount < 1 is treated as 1.
func New(window time.Duration, bucketCount int, ticksPerSecond int64) *Counter {
	if bucketCount < 1 {
		bucketCount = 1
	}
	windowTicks := int64(window.Seconds() * float64(ticksPerSecond))
	if windowTicks < 1 {
		windowTicks = 1
	}
	bucketTicks := windowTicks / int64(bucketCount)
	if bucketTicks < 1 {
		bucketTicks = 1
	}
	return &Counter{
		windowTicks: windowTicks,
		bucketTicks: bucketTicks,
		buckets:     make([]bucket, bucketCount),
	}
}

func (c *Counter) indexAndStart(t int64) (int, int64) {
	slot := t / c.bucketTicks
	idx := int(slot % int64(len(c.buckets)))
	if idx < 0 {
		idx += len(c.buckets)
	}
	start := t - (t % c.bucketTicks)
	return idx, start
}

// AddSample records v at tick t, landing in the bucket covering t. If that
// bucket currently belongs to a different (stale) window, it is reset to
// zero before v is added.
func (c *Counter) AddSample(t int64, v float64) {
	idx, start := c.indexAndStart(t)
	b := &c.buckets[idx]

	for {
		curStart := atomic.LoadInt64(&b.startTicks)
		if curStart != start {
			// Stale bucket: whichever goroutine wins the CAS resets it
			// to the new window with v as its first sample; the loser
			// retries and falls into the accumulate branch below.
			if atomic.CompareAndSwapInt64(&b.startTicks, curStart, start) {
				atomic.StoreUint64(&b.value, math.Float64bits(v))
				return
			}
			continue
		}
		old := atomic.LoadUint64(&b.value)
		newVal := math.Float64frombits(old) + v
		if atomic.CompareAndSwapUint64(&b.value, old, math.Float64bits(newVal)) {
			return
		}
		// Lost the race to another writer on the same bucket; retry.
	}
}

// Snapshot sums every bucket whose start is at or after t-window and
// derives a per-second rate.
func (c *Counter) Snapshot(t int64, ticksPerSecond int64) (hits float64, ratePerSecond float64) {
	cutoff := t - c.windowTicks
	var total float64
	for i := range c.buckets {
		b := &c.buckets[i]
		start := atomic.LoadInt64(&b.startTicks)
		if start < cutoff {
			continue
		}
		total += math.Float64frombits(atomic.LoadUint64(&b.value))
	}
	windowSeconds := float64(c.windowTicks) / float64(ticksPerSecond)
	if windowSeconds <= 0 {
		return total, 0
	}
	return total, total / windowSeconds
}
