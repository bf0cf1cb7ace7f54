package drivetrain

import (
	"time"

	"github.com/benbjohnson/clock"
)

// ElapsedTimer measures monotonic time since its last Reset.
type ElapsedTimer interface {
	Reset()
	Seconds() float64
}

type clockTimer struct {
	clk   clock.Clock
	start time.Time
}

// NewElapsedTimer returns a started timer reading the given clock.
func NewElapsedTimer(clk clock.Clock) ElapsedTimer {
	t := &clockTimer{clk: clk}
	t.Reset()
	return t
}

func (t *clockTimer) Reset() {
	t.start = t.clk.Now()
}

func (t *clockTimer) Seconds() float64 {
	return t.clk.Since(t.start).Seconds()
}
