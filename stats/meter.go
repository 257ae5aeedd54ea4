// Package stats measures transfer rates and aggregates them across torrents.
package stats

import (
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/benbjohnson/clock"
)

// SampleInterval is the period over which bytes are accumulated before being folded into the
// moving average.
const SampleInterval = time.Second

// Idle periods longer than this many samples decay the rate no further.
const maxCatchUpSamples = 60

// Meter tracks a byte count and an exponentially weighted rate in bytes per second.
type Meter struct {
	clock clock.Clock

	mu      sync.Mutex
	avg     ewma.MovingAverage
	last    time.Time
	pending int64
	total   int64
}

// NewMeter uses the real clock if c is nil.
func NewMeter(c clock.Clock) *Meter {
	if c == nil {
		c = clock.New()
	}
	return &Meter{
		clock: c,
		avg:   ewma.NewMovingAverage(),
		last:  c.Now(),
	}
}

// Mark records n bytes transferred now.
func (me *Meter) Mark(n int64) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.tickLocked()
	me.pending += n
	me.total += n
}

// Rate is the smoothed bytes per second.
func (me *Meter) Rate() float64 {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.tickLocked()
	return me.avg.Value()
}

func (me *Meter) Total() int64 {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.total
}

func (me *Meter) tickLocked() {
	now := me.clock.Now()
	elapsed := now.Sub(me.last)
	if elapsed < SampleInterval {
		return
	}
	samples := int(elapsed / SampleInterval)
	rate := float64(me.pending) / elapsed.Seconds()
	for range min(samples, maxCatchUpSamples) {
		me.avg.Add(rate)
	}
	me.pending = 0
	me.last = now
}
