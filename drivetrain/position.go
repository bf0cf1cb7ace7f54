package drivetrain

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// Reason is why a blocking motion returned.
type Reason int

const (
	// Arrived means the motion reached its target.
	Arrived Reason = iota
	// TimedOut means the timeout elapsed first. The robot stopped short.
	TimedOut
	// Aborted means the context ended or the run-active predicate went false.
	Aborted
)

func (r Reason) String() string {
	switch r {
	case Arrived:
		return "arrived"
	case TimedOut:
		return "timed_out"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// PositionResult describes a finished DriveToPosition.
type PositionResult struct {
	Reason     Reason
	Elapsed    time.Duration
	Iterations int
	// Targets are the commanded encoder targets in LF, RF, LB, RB order.
	Targets [4]int
}

// DriveToPosition drives each side of the robot a relative distance in inches
// using the wheel encoders. Left inches apply to both left wheels and right
// inches to both right wheels.
//
// The call blocks until every wheel reports it has arrived, the timeout
// elapses, or ctx or the run-active predicate ends the motion. A timeout or an
// abort is not an error; inspect the result. On every return all wheels are at
// zero power with their encoders reset and running on encoders.
func (d *Drivetrain) DriveToPosition(
	ctx context.Context, speed, leftInches, rightInches float64, timeout time.Duration,
) (res PositionResult, err error) {
	if err := d.checkReady(); err != nil {
		return res, err
	}
	if timeout <= 0 {
		return res, ErrInvalidTimeout
	}
	if !d.acquire() {
		return res, ErrBusy
	}
	defer d.release()
	defer func() {
		if stopErr := d.stopAndRestore(); stopErr != nil {
			err = multierr.Combine(err, errors.Wrap(stopErr, "stopping drivetrain"))
		}
	}()

	speed = clampSpeed(speed)

	// Positive inches drive forward, which is negative ticks on this chassis.
	leftTicks := d.cal.InchesToTicks(-leftInches)
	rightTicks := d.cal.InchesToTicks(-rightInches)

	current, err := d.readTicks()
	if err != nil {
		return res, err
	}
	for i, wh := range d.wheels.wheels() {
		delta := leftTicks
		if wh.right {
			delta = rightTicks
		}
		res.Targets[i] = current[i] + delta
		if err := wh.SetTargetPosition(res.Targets[i]); err != nil {
			return res, errors.Wrapf(err, "setting %s target", wh.name)
		}
	}
	if err := d.wheels.setRunMode(RunToPosition); err != nil {
		return res, err
	}

	d.logger.Debugw("driving to position",
		"speed", speed, "left_ticks", leftTicks, "right_ticks", rightTicks, "targets", res.Targets)

	timer := NewElapsedTimer(d.clock)
	for {
		reason, done, err := d.positionDone(ctx, timer, timeout)
		if err != nil {
			res.Elapsed = elapsed(timer)
			return res, err
		}
		if done {
			res.Reason = reason
			break
		}

		// Left forward, right backward, matching the motor mounting.
		if err := d.wheels.setSidePowers(speed, -speed); err != nil {
			res.Elapsed = elapsed(timer)
			return res, err
		}
		res.Iterations++
		d.reportPosition(res, timer)

		if d.pollInterval > 0 {
			utils.SelectContextOrWait(ctx, d.pollInterval)
		}
	}

	res.Elapsed = elapsed(timer)
	d.logger.Debugw("drive to position finished",
		"reason", res.Reason.String(), "elapsed", res.Elapsed, "iterations", res.Iterations)
	return res, nil
}

// positionDone checks, in order, the abort, timeout and arrival predicates.
func (d *Drivetrain) positionDone(ctx context.Context, timer ElapsedTimer, timeout time.Duration) (Reason, bool, error) {
	if !d.running(ctx) {
		return Aborted, true, nil
	}
	if timer.Seconds() >= timeout.Seconds() {
		return TimedOut, true, nil
	}
	for _, wh := range d.wheels.wheels() {
		busy, err := wh.IsBusy()
		if err != nil {
			return 0, false, errors.Wrapf(err, "polling %s", wh.name)
		}
		if busy {
			return 0, false, nil
		}
	}
	return Arrived, true, nil
}

func (d *Drivetrain) reportPosition(res PositionResult, timer ElapsedTimer) {
	if _, ok := d.telemetry.(nopSink); ok {
		return
	}
	p := Progress{Phase: PhaseDrive, Iteration: res.Iterations, Elapsed: elapsed(timer)}
	for i, target := range res.Targets {
		p.TargetInches[i] = d.cal.TicksToInches(target)
	}
	positions, err := d.Positions()
	if err != nil {
		d.logger.Debugw("could not read positions for telemetry", "error", err)
	} else {
		p.PositionInches = positions.Array()
	}
	d.report(p)
}

func elapsed(timer ElapsedTimer) time.Duration {
	return time.Duration(timer.Seconds() * float64(time.Second))
}
