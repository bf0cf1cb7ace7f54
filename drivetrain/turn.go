package drivetrain

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// HeadingResult describes a finished TurnToHeading.
type HeadingResult struct {
	Reason     Reason
	Elapsed    time.Duration
	Iterations int
	// TargetHeading is fixed from the heading sampled when the turn started.
	TargetHeading float64
	FinalHeading  float64
}

// TurnToHeading turns the robot in place by angleDegrees relative to the
// heading at call time, using the IMU for feedback.
//
// The controller is bang-bang: full speed in the direction of the error sign
// until the heading is within 0.1 degrees of the target, the timeout elapses,
// or ctx or the run-active predicate ends the motion. Every wheel is at zero
// power on return. Run modes are left unchanged.
//
// The target is (angleDegrees + heading) mod 360 and is never wrapped into
// the sensor range unless WithShortestPathTurn is set. Without it a turn whose
// target lands outside (-180, 180] cannot settle and runs until the timeout.
func (d *Drivetrain) TurnToHeading(
	ctx context.Context, speed, angleDegrees float64, timeout time.Duration,
) (res HeadingResult, err error) {
	if err := d.checkReady(); err != nil {
		return res, err
	}
	if d.imu == nil {
		return res, errors.Wrap(ErrHardwareUnavailable, "no heading sensor")
	}
	if timeout <= 0 {
		return res, ErrInvalidTimeout
	}
	if !d.acquire() {
		return res, ErrBusy
	}
	defer d.release()
	defer func() {
		if stopErr := d.wheels.zero(); stopErr != nil {
			err = multierr.Combine(err, errors.Wrap(stopErr, "stopping drivetrain"))
		}
	}()

	speed = clampSpeed(speed)

	heading, err := d.imu.YawDegrees()
	if err != nil {
		return res, errors.Wrap(err, "reading heading")
	}
	res.TargetHeading = math.Mod(angleDegrees+heading, 360)
	if d.shortestPath {
		res.TargetHeading = normalizeDegrees(res.TargetHeading)
	}

	d.logger.Debugw("turning to heading",
		"speed", speed, "start", heading, "target", res.TargetHeading, "shortest_path", d.shortestPath)

	timer := NewElapsedTimer(d.clock)
	for {
		if !d.running(ctx) {
			res.Reason = Aborted
			break
		}
		if math.Abs(d.headingError(heading, res.TargetHeading)) <= headingTolerance {
			res.Reason = Arrived
			break
		}
		if timer.Seconds() >= timeout.Seconds() {
			res.Reason = TimedOut
			break
		}

		sample, err := d.imu.YawDegrees()
		if err != nil {
			res.FinalHeading = heading
			res.Elapsed = elapsed(timer)
			return res, errors.Wrap(err, "reading heading")
		}
		heading = sample
		power := float64(sign(d.headingError(heading, res.TargetHeading))) * speed
		if err := d.wheels.setSidePowers(-power, power); err != nil {
			res.Elapsed = elapsed(timer)
			return res, err
		}
		res.Iterations++
		d.report(Progress{
			Phase:          PhaseTurn,
			Iteration:      res.Iterations,
			Elapsed:        elapsed(timer),
			TargetHeading:  res.TargetHeading,
			CurrentHeading: heading,
		})

		if d.pollInterval > 0 {
			utils.SelectContextOrWait(ctx, d.pollInterval)
		}
	}

	res.FinalHeading = heading
	res.Elapsed = elapsed(timer)
	d.logger.Debugw("turn finished",
		"reason", res.Reason.String(), "heading", heading, "elapsed", res.Elapsed, "iterations", res.Iterations)
	return res, nil
}

// headingError is current minus target, wrapped into (-180, 180] when
// shortest path turning is enabled.
func (d *Drivetrain) headingError(current, target float64) float64 {
	diff := current - target
	if d.shortestPath {
		return normalizeDegrees(diff)
	}
	return diff
}
