package fusion

import (
	"time"

	"codeberg.org/mutker/hwtelemetry/internal/sensors"
)

// rateTracker derives KB/s throughput from cumulative byte counters.
type rateTracker struct {
	prevSent uint64
	prevRecv uint64
	prevAt   time.Time
	primed   bool
}

// update records the counters observed at the given time and returns the
// download and upload rates since the previous observation. The first
// observation, missing counters and a non-advancing clock all yield zero.
func (t *rateTracker) update(c sensors.NetCounters, at time.Time) (down, up float32) {
	if !c.Valid {
		return 0, 0
	}

	defer func() {
		t.prevSent, t.prevRecv, t.prevAt, t.primed = c.BytesSent, c.BytesRecv, at, true
	}()

	if !t.primed {
		return 0, 0
	}

	elapsed := at.Sub(t.prevAt).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}

	down = float32(float64(saturatingSub(c.BytesRecv, t.prevRecv)) / elapsed / 1024)
	up = float32(float64(saturatingSub(c.BytesSent, t.prevSent)) / elapsed / 1024)

	return down, up
}

// saturatingSub treats counter resets and wraps as no traffic.
func saturatingSub(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}

	return cur - prev
}
