// Package mecanumbase exposes a mecanum drivetrain as a Viam base component.
package mecanumbase

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	viamutils "go.viam.com/utils"

	"mecanum/drivetrain"
	"mecanum/imu/bno055"
	"mecanum/sim"
	"mecanum/telemetry"
	"mecanum/wheelcan"
)

// Model is the resource model of the mecanum drivetrain base.
var Model = resource.NewModel("intermode", "mecanum", "drivetrain")

const (
	mmPerInch     = 25.4
	idlePollTime  = 5 * time.Millisecond
	idleWaitLimit = time.Second
)

func init() {
	resource.RegisterComponent(
		base.API,
		Model,
		resource.Registration[base.Base, *Config]{Constructor: func(
			ctx context.Context,
			deps resource.Dependencies,
			conf resource.Config,
			logger logging.Logger,
		) (base.Base, error) {
			return newBase(ctx, deps, conf, logger, clock.New())
		}})
}

type mecanumBase struct {
	resource.Named
	resource.AlwaysRebuild

	conf       *Config
	logger     logging.Logger
	clk        clock.Clock
	geometries []spatialmath.Geometry

	dt       *drivetrain.Drivetrain
	bus      *wheelcan.Bus
	robot    *sim.Robot
	sinks    telemetry.Multi
	last     *lastProgress
	closers  []func() error
	opMgr    operation.SingleOperationManager
	openLoop atomic.Bool
}

// newBase builds the drivetrain on the configured hardware, or on a simulated
// chassis, and initializes it.
func newBase(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
	clk clock.Clock,
) (base.Base, error) {
	newConf, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	var geometries = []spatialmath.Geometry{}
	if conf.Frame != nil {
		frame, err := conf.Frame.ParseConfig()
		if err != nil {
			return nil, err
		}
		geometries = append(geometries, frame.Geometry())
	}

	b := &mecanumBase{
		Named:      conf.ResourceName().AsNamed(),
		conf:       newConf,
		logger:     logger,
		clk:        clk,
		geometries: geometries,
		last:       &lastProgress{},
	}
	if err := b.build(ctx, deps, clk); err != nil {
		return nil, multierr.Combine(err, b.closeAll())
	}
	return b, nil
}

func (b *mecanumBase) build(ctx context.Context, deps resource.Dependencies, clk clock.Clock) error {
	var (
		wheels drivetrain.WheelSet
		imu    drivetrain.HeadingSensor
	)

	if b.conf.Simulated {
		b.robot = sim.NewRobot(sim.DefaultConfig(), clk)
		wheels = b.robot.Wheels()
		imu = b.robot.IMU()
		b.logger.Infow("using simulated mecanum chassis")
	} else {
		bus, err := wheelcan.Open(b.conf.canConfig(), b.logger)
		if err != nil {
			return errors.Wrap(err, "opening wheel CAN bus")
		}
		b.bus = bus
		b.closers = append(b.closers, bus.Close)
		wheels = bus.Wheels()
	}

	switch {
	case b.conf.MovementSensor != "":
		ms, err := movementsensor.FromDependencies(deps, b.conf.MovementSensor)
		if err != nil {
			return errors.Wrapf(err, "no movement sensor named (%s)", b.conf.MovementSensor)
		}
		imu = &movementSensorHeading{name: b.conf.MovementSensor, ms: ms}
	case !b.conf.Simulated:
		busNumber, addr := b.conf.imuBus()
		dev := bno055.Open(busNumber, addr, b.logger)
		b.closers = append(b.closers, dev.Close)
		imu = dev
	}

	b.sinks = telemetry.Multi{telemetry.LogSink{Logger: b.logger}, b.last}
	b.closers = append(b.closers, func() error { return b.sinks.Close() })
	if b.conf.MQTT != nil {
		sink, err := telemetry.NewMQTTSink(*b.conf.MQTT, b.logger)
		if err != nil {
			return err
		}
		b.sinks = append(b.sinks, telemetry.NewAsync(sink, telemetry.DefaultQueueSize, b.logger))
	}
	if b.conf.TelemetryWSAddr != "" {
		hub := telemetry.NewHub(b.logger)
		b.sinks = append(b.sinks, telemetry.NewAsync(hub, telemetry.DefaultQueueSize, b.logger))
		if _, err := hub.Serve(b.conf.TelemetryWSAddr); err != nil {
			return err
		}
	}

	dt, err := drivetrain.New(wheels, imu, b.conf.calibration(), b.logger,
		drivetrain.WithClock(clk),
		drivetrain.WithTelemetry(b.sinks),
		drivetrain.WithShortestPathTurn(b.conf.ShortestPathTurn),
		drivetrain.WithPollInterval(b.conf.pollInterval()),
	)
	if err != nil {
		return err
	}
	if err := dt.Init(); err != nil {
		return err
	}
	b.dt = dt
	return nil
}

// MoveStraight drives the given distance using the wheel encoders. A negative
// distance or speed drives backward.
func (b *mecanumBase) MoveStraight(ctx context.Context, distanceMm int, mmPerSec float64, extra map[string]interface{}) error {
	callerCtx := ctx
	ctx, done := b.opMgr.New(ctx)
	defer done()
	if err := b.waitIdle(ctx); err != nil {
		return err
	}
	b.openLoop.Store(false)

	inches := float64(distanceMm) / mmPerInch
	if mmPerSec < 0 {
		inches = -inches
	}
	speed := drivetrain.DriveSpeed
	if mmPerSec != 0 {
		speed = math.Abs(mmPerSec) / b.conf.maxSpeedMmPerSec()
	}
	timeout, err := timeoutArg(extra, b.conf.driveTimeout())
	if err != nil {
		return err
	}

	res, err := b.dt.DriveToPosition(ctx, speed, inches, inches, timeout)
	if err != nil {
		return err
	}
	return motionError(callerCtx, "move straight", res.Reason, res.Elapsed)
}

// Spin turns in place by angleDeg, counter clockwise positive, using the
// heading sensor. A negative speed turns the other way.
func (b *mecanumBase) Spin(ctx context.Context, angleDeg, degsPerSec float64, extra map[string]interface{}) error {
	callerCtx := ctx
	ctx, done := b.opMgr.New(ctx)
	defer done()
	if err := b.waitIdle(ctx); err != nil {
		return err
	}
	b.openLoop.Store(false)

	if degsPerSec < 0 {
		angleDeg = -angleDeg
	}
	speed := drivetrain.TurnSpeed
	if degsPerSec != 0 {
		speed = math.Abs(degsPerSec) / b.conf.maxDegsPerSec()
	}
	timeout, err := timeoutArg(extra, b.conf.turnTimeout())
	if err != nil {
		return err
	}

	res, err := b.dt.TurnToHeading(ctx, speed, angleDeg, timeout)
	if err != nil {
		return err
	}
	return motionError(callerCtx, "spin", res.Reason, res.Elapsed)
}

// SetPower sets the linear and angular [-1, 1] drive power. Linear X strafes,
// linear Y drives forward and angular Z turns counter clockwise.
func (b *mecanumBase) SetPower(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	b.logger.Debugw("SetPower with ",
		"linear.X", linear.X,
		"linear.Y", linear.Y,
		"angular.Z", angular.Z,
	)
	b.warnUnusedAxes(linear, angular)
	return b.openLoopPower(ctx, linear.X, linear.Y, angular.Z)
}

// SetVelocity sets the linear (mmPerSec) and angular (degsPerSec) velocity,
// scaled against the configured maxima and applied open loop.
func (b *mecanumBase) SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	b.warnUnusedAxes(linear, angular)
	maxSpeed := b.conf.maxSpeedMmPerSec()
	return b.openLoopPower(ctx,
		linear.X/maxSpeed,
		linear.Y/maxSpeed,
		angular.Z/b.conf.maxDegsPerSec(),
	)
}

// Some vector components do not apply to a 2D base.
func (b *mecanumBase) warnUnusedAxes(linear, angular r3.Vector) {
	if linear.Z != 0 {
		b.logger.Warnw("Linear Z command non-zero and has no effect")
	}
	if angular.X != 0 {
		b.logger.Warnw("Angular X command non-zero and has no effect")
	}
	if angular.Y != 0 {
		b.logger.Warnw("Angular Y command non-zero and has no effect")
	}
}

func (b *mecanumBase) openLoopPower(ctx context.Context, x, y, ccw float64) error {
	b.opMgr.CancelRunning(ctx)
	if err := b.waitIdle(ctx); err != nil {
		return err
	}
	x, y, ccw = clampUnit(x), clampUnit(y), clampUnit(ccw)
	// The kinematics turn clockwise for positive turn.
	if err := b.dt.SetOpenLoopPower(x, y, -ccw); err != nil {
		return err
	}
	b.openLoop.Store(x != 0 || y != 0 || ccw != 0)
	return nil
}

// Stop cancels any running motion and zeroes every wheel.
func (b *mecanumBase) Stop(ctx context.Context, extra map[string]interface{}) error {
	b.opMgr.CancelRunning(ctx)
	b.openLoop.Store(false)
	return b.dt.Stop()
}

func (b *mecanumBase) IsMoving(ctx context.Context) (bool, error) {
	return b.dt.IsMoving() || b.openLoop.Load(), nil
}

func (b *mecanumBase) Properties(ctx context.Context, extra map[string]interface{}) (base.Properties, error) {
	cal := b.dt.Calibration()
	return base.Properties{
		WidthMeters:              b.conf.widthMm() / 1000.0,
		WheelCircumferenceMeters: cal.WheelDiameterInches * math.Pi * mmPerInch / 1000.0,
	}, nil
}

func (b *mecanumBase) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return b.geometries, nil
}

// Close cleanly closes the base.
func (b *mecanumBase) Close(ctx context.Context) error {
	var err error
	if b.dt != nil {
		err = b.Stop(ctx, nil)
	}
	return multierr.Combine(err, b.closeAll())
}

func (b *mecanumBase) closeAll() error {
	var err error
	for i := len(b.closers) - 1; i >= 0; i-- {
		err = multierr.Combine(err, b.closers[i]())
	}
	b.closers = nil
	return err
}

// waitIdle waits for a cancelled motion to finish its stop sequence.
func (b *mecanumBase) waitIdle(ctx context.Context) error {
	deadline := b.clk.Now().Add(idleWaitLimit)
	for b.dt.IsMoving() {
		if b.clk.Now().After(deadline) {
			return drivetrain.ErrBusy
		}
		if !viamutils.SelectContextOrWait(ctx, idlePollTime) {
			return ctx.Err()
		}
	}
	return nil
}

// motionError turns a loop outcome into the error a base caller expects. A
// motion ended by Stop is not an error.
func motionError(callerCtx context.Context, op string, reason drivetrain.Reason, elapsed time.Duration) error {
	switch reason {
	case drivetrain.TimedOut:
		return errors.Errorf("%s timed out after %v", op, elapsed)
	case drivetrain.Aborted:
		return callerCtx.Err()
	default:
		return nil
	}
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// lastProgress keeps the most recent progress record for get_telemetry.
type lastProgress struct {
	mu   sync.Mutex
	p    drivetrain.Progress
	have bool
}

func (l *lastProgress) Report(p drivetrain.Progress) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.p = p
	l.have = true
	return nil
}

func (l *lastProgress) get() (drivetrain.Progress, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.p, l.have
}
