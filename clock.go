package mojocore

import (
	"math"
	"time"
)

// TimeTicks is monotonic microseconds since an implementation-chosen
// epoch (spec.md §3, §5).
type TimeTicks int64

// Indefinite disables a deadline's timer (spec.md §4.2).
const Indefinite uint64 = math.MaxUint64

// Clock is the injected monotonic time source (spec.md §1 Non-goals: "any
// choice of concrete timer source... is an injected clock").
type Clock interface {
	Now() TimeTicks
}

// systemClock is the default Clock, backed by the Go runtime's monotonic
// clock reading.
type systemClock struct {
	start time.Time
}

func newSystemClock() *systemClock {
	return &systemClock{start: time.Now()}
}

func (c *systemClock) Now() TimeTicks {
	return TimeTicks(time.Since(c.start).Microseconds())
}

// deadlineTicks resolves a relative deadline (microseconds, or Indefinite) and
// the current clock reading into an absolute TimeTicks, clamping overflow
// to the maximum representable tick per spec.md §5.
func deadlineTicks(clk Clock, deadline uint64) (ticks TimeTicks, indefinite bool) {
	if deadline == Indefinite {
		return 0, true
	}
	now := int64(clk.Now())
	d := int64(deadline)
	if d < 0 || now > math.MaxInt64-d {
		return TimeTicks(math.MaxInt64), false
	}
	return TimeTicks(now + d), false
}
