// Package telemetry holds small aggregations used when reporting arm state.
package telemetry

import (
	"math"
	"time"
)

type bucket struct {
	slot     int64 // absolute slot index, -1 = empty
	min, max float64
}

// RollingMinMax tracks min/max values over a rolling window split into fixed width buckets
type RollingMinMax struct {
	width   time.Duration
	buckets []bucket
}

// NewRollingMinMax covers window with count buckets. The window is rounded down to whole buckets.
func NewRollingMinMax(window time.Duration, count int) *RollingMinMax {
	count = max(count, 1)
	width := max(window/time.Duration(count), time.Millisecond)

	r := &RollingMinMax{
		width:   width,
		buckets: make([]bucket, count),
	}
	for i := range r.buckets {
		r.buckets[i].slot = -1
	}
	return r
}

// NewHourMinMax tracks the last hour in one minute buckets
func NewHourMinMax() *RollingMinMax {
	return NewRollingMinMax(time.Hour, 60)
}

// Update records value at time t. Non-finite values are ignored.
func (r *RollingMinMax) Update(value float64, t time.Time) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}

	slot := t.UnixNano() / int64(r.width)
	b := &r.buckets[int(slot%int64(len(r.buckets)))]
	if b.slot != slot {
		*b = bucket{slot: slot, min: value, max: value}
		return
	}
	b.min = min(b.min, value)
	b.max = max(b.max, value)
}

// MinMax returns the extremes over the window ending at now. ok is false when the window is empty.
func (r *RollingMinMax) MinMax(now time.Time) (lo, hi float64, ok bool) {
	current := now.UnixNano() / int64(r.width)
	oldest := current - int64(len(r.buckets)) + 1

	lo, hi = math.MaxFloat64, -math.MaxFloat64
	for _, b := range r.buckets {
		if b.slot < oldest || b.slot > current {
			continue
		}
		lo = min(lo, b.min)
		hi = max(hi, b.max)
		ok = true
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}
