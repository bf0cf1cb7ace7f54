package drivetrain

import (
	"fmt"
	"strings"
	"time"
)

// Phase names the control loop that produced a Progress record.
type Phase string

const (
	PhaseDrive Phase = "drive"
	PhaseTurn  Phase = "turn"
)

// Progress is one control loop iteration as reported to a TelemetrySink.
type Progress struct {
	Phase     Phase         `json:"phase"`
	Iteration int           `json:"iteration"`
	Elapsed   time.Duration `json:"elapsed_ns"`

	// Drive loop, inches per wheel in LF, RF, LB, RB order.
	TargetInches   [4]float64 `json:"target_in"`
	PositionInches [4]float64 `json:"position_in"`

	// Turn loop, degrees.
	TargetHeading  float64 `json:"target_heading,omitempty"`
	CurrentHeading float64 `json:"heading,omitempty"`
}

// Lines renders the record as caption/value pairs for a driver display.
func (p Progress) Lines() [][2]string {
	switch p.Phase {
	case PhaseDrive:
		t, c := p.TargetInches, p.PositionInches
		return [][2]string{
			{"Path1", fmt.Sprintf("Running to %.2f :%.2f :%.2f :%.2f", t[0], t[1], t[2], t[3])},
			{"Path2", fmt.Sprintf("Running at %.2f :%.2f :%.2f :%.2f", c[0], c[1], c[2], c[3])},
		}
	case PhaseTurn:
		return [][2]string{
			{"Heading", fmt.Sprintf("%.2f : %.2f", p.TargetHeading, p.CurrentHeading)},
		}
	default:
		return nil
	}
}

func (p Progress) String() string {
	lines := p.Lines()
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, l[0]+": "+l[1])
	}
	return strings.Join(parts, " | ")
}

// TelemetrySink receives progress from the control loops. Errors are logged by
// the drivetrain and never stop a loop.
type TelemetrySink interface {
	Report(p Progress) error
}

type nopSink struct{}

func (nopSink) Report(Progress) error { return nil }
