// Package drivetrain implements closed loop motion control for a four wheel
// mecanum drivetrain: open loop kinematics, encoder driving to a relative
// position and IMU turns to a heading.
//
// A Drivetrain must be created with New and initialized with Init before any
// motion. Blocking motions run on the caller's goroutine until they arrive,
// time out or are aborted, and always leave every wheel at zero power.
package drivetrain

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
)

// Drivetrain owns the four wheels and the heading sensor of the robot.
type Drivetrain struct {
	wheels WheelSet
	imu    HeadingSensor
	cal    Calibration
	logger logging.Logger

	clock        clock.Clock
	runActive    func() bool
	telemetry    TelemetrySink
	imuParams    IMUParameters
	shortestPath bool
	pollInterval time.Duration

	initialized atomic.Bool
	busy        atomic.Bool
}

// Option configures a Drivetrain.
type Option func(*Drivetrain)

// WithClock sets the clock loop timeouts are measured against.
func WithClock(clk clock.Clock) Option {
	return func(d *Drivetrain) { d.clock = clk }
}

// WithRunActive sets a predicate polled every loop iteration. A loop stops as
// soon as it returns false.
func WithRunActive(active func() bool) Option {
	return func(d *Drivetrain) { d.runActive = active }
}

// WithTelemetry sets the sink that receives loop progress.
func WithTelemetry(sink TelemetrySink) Option {
	return func(d *Drivetrain) { d.telemetry = sink }
}

// WithIMUParameters overrides the parameters passed to the heading sensor by Init.
func WithIMUParameters(params IMUParameters) Option {
	return func(d *Drivetrain) { d.imuParams = params }
}

// WithShortestPathTurn makes TurnToHeading wrap the target and the heading error
// into (-180, 180], so turns across the ±180 seam take the short way. Off by
// default, where the raw difference is used.
func WithShortestPathTurn(enabled bool) Option {
	return func(d *Drivetrain) { d.shortestPath = enabled }
}

// WithPollInterval waits between loop iterations. Zero polls as fast as the
// hardware answers.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Drivetrain) { d.pollInterval = interval }
}

// New creates a drivetrain over the given wheels and heading sensor. The
// heading sensor may be nil, in which case TurnToHeading is unavailable.
func New(wheels WheelSet, imu HeadingSensor, cal Calibration, logger logging.Logger, opts ...Option) (*Drivetrain, error) {
	if !wheels.complete() {
		return nil, errors.Wrap(ErrHardwareUnavailable, "all four wheels are required")
	}
	if !cal.valid() {
		return nil, ErrInvalidCalibration
	}
	d := &Drivetrain{
		wheels:    wheels,
		imu:       imu,
		cal:       cal,
		logger:    logger,
		clock:     clock.New(),
		runActive: func() bool { return true },
		telemetry: nopSink{},
		imuParams: DefaultIMUParameters(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Calibration returns the tick conversion constants.
func (d *Drivetrain) Calibration() Calibration {
	return d.cal
}

// Init sets wheel directions and brake mode, zeroes power and initializes the
// heading sensor.
func (d *Drivetrain) Init() error {
	if !d.acquire() {
		return ErrBusy
	}
	defer d.release()

	if err := d.wheels.forEach(func(wh wheel) error {
		dir := Forward
		if wh.right {
			dir = Reverse
		}
		return wh.SetDirection(dir)
	}); err != nil {
		return errors.Wrap(err, "setting wheel direction")
	}
	if err := d.wheels.forEach(func(wh wheel) error { return wh.SetZeroPowerBehavior(Brake) }); err != nil {
		return errors.Wrap(err, "setting brake mode")
	}
	if err := d.wheels.zero(); err != nil {
		return errors.Wrap(err, "zeroing wheel power")
	}

	if d.imu != nil {
		if err := d.imu.Initialize(d.imuParams); err != nil {
			return errors.Wrap(err, "initializing heading sensor")
		}
		if ai, ok := d.imu.(AccelerationIntegrator); ok {
			if err := ai.StartAccelerationIntegration(accelIntegrationInterval); err != nil {
				d.logger.Warnw("could not start acceleration integration", "error", err)
			}
		}
	}

	d.initialized.Store(true)
	d.logger.Debugw("drivetrain initialized", "counts_per_inch", d.cal.CountsPerInch())
	return nil
}

// EncoderInit resets every encoder and leaves the wheels running on encoders.
func (d *Drivetrain) EncoderInit() error {
	if err := d.checkReady(); err != nil {
		return err
	}
	if !d.acquire() {
		return ErrBusy
	}
	defer d.release()

	if err := d.wheels.setRunMode(ResetEncoder); err != nil {
		return err
	}
	return d.wheels.setRunMode(RunUsingEncoder)
}

// SetOpenLoopPower applies the kinematics output directly and returns.
func (d *Drivetrain) SetOpenLoopPower(x, y, turn float64) error {
	if err := d.checkReady(); err != nil {
		return err
	}
	if d.busy.Load() {
		return ErrBusy
	}
	return d.wheels.setPowers(ComputeWheelPowers(x, y, turn))
}

// Stop zeroes power on every wheel. It does not wait for a running motion to
// return; cancel that motion's context to end it.
func (d *Drivetrain) Stop() error {
	return d.wheels.zero()
}

// IsMoving reports whether a blocking motion is in progress.
func (d *Drivetrain) IsMoving() bool {
	return d.busy.Load()
}

// WheelPositions is the travel of each wheel in inches since its last reset.
type WheelPositions struct {
	LeftFront  float64
	RightFront float64
	LeftBack   float64
	RightBack  float64
}

// Array returns the positions in LF, RF, LB, RB order.
func (p WheelPositions) Array() [4]float64 {
	return [4]float64{p.LeftFront, p.RightFront, p.LeftBack, p.RightBack}
}

// Positions reads every encoder and converts it to inches.
func (d *Drivetrain) Positions() (WheelPositions, error) {
	ticks, err := d.readTicks()
	if err != nil {
		return WheelPositions{}, err
	}
	return WheelPositions{
		LeftFront:  d.cal.TicksToInches(ticks[0]),
		RightFront: d.cal.TicksToInches(ticks[1]),
		LeftBack:   d.cal.TicksToInches(ticks[2]),
		RightBack:  d.cal.TicksToInches(ticks[3]),
	}, nil
}

// readTicks returns encoder counts in LF, RF, LB, RB order.
func (d *Drivetrain) readTicks() ([4]int, error) {
	var ticks [4]int
	for i, wh := range d.wheels.wheels() {
		pos, err := wh.CurrentPosition()
		if err != nil {
			return ticks, errors.Wrapf(err, "reading %s position", wh.name)
		}
		ticks[i] = pos
	}
	return ticks, nil
}

func (d *Drivetrain) checkReady() error {
	if !d.initialized.Load() {
		return ErrNotInitialized
	}
	return nil
}

func (d *Drivetrain) acquire() bool {
	return d.busy.CompareAndSwap(false, true)
}

func (d *Drivetrain) release() {
	d.busy.Store(false)
}

func (d *Drivetrain) running(ctx context.Context) bool {
	return ctx.Err() == nil && d.runActive()
}

// report hands progress to the sink. Nothing the sink does may end the loop.
func (d *Drivetrain) report(p Progress) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warnw("telemetry sink panicked", "panic", r)
		}
	}()
	if err := d.telemetry.Report(p); err != nil {
		d.logger.Debugw("telemetry report failed", "error", err)
	}
}

// stopAndRestore zeroes every wheel, then resets the encoders and returns them
// to open loop encoder mode. Every step runs on every wheel even after a failure.
func (d *Drivetrain) stopAndRestore() error {
	err := d.wheels.zero()
	err = multierr.Combine(err,
		d.wheels.forAll(func(wh wheel) error { return wh.SetRunMode(ResetEncoder) }),
		d.wheels.forAll(func(wh wheel) error { return wh.SetRunMode(RunUsingEncoder) }),
	)
	return err
}

func clampSpeed(speed float64) float64 {
	if speed < 0 {
		speed = -speed
	}
	if speed > 1 {
		speed = 1
	}
	return speed
}
