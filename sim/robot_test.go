package sim

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"mecanum/drivetrain"
)

func TestWheelOpenLoop(t *testing.T) {
	mock := clock.NewMock()
	r := NewRobot(DefaultConfig(), mock)
	w := r.LeftFront()

	test.That(t, w.Mode(), test.ShouldEqual, drivetrain.RunUsingEncoder)
	test.That(t, w.SetPower(0.5), test.ShouldBeNil)
	mock.Add(time.Second)
	pos, err := w.CurrentPosition()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldEqual, 1120)

	busy, err := w.IsBusy()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, busy, test.ShouldBeFalse)

	test.That(t, w.SetPower(3), test.ShouldBeNil)
	test.That(t, w.Power(), test.ShouldEqual, 1)
}

func TestWheelRunToPosition(t *testing.T) {
	mock := clock.NewMock()
	r := NewRobot(DefaultConfig(), mock)
	w := r.RightBack()

	test.That(t, w.SetTargetPosition(-200), test.ShouldBeNil)
	test.That(t, w.SetRunMode(drivetrain.RunToPosition), test.ShouldBeNil)
	// The sign of the power does not matter, the wheel seeks its target.
	test.That(t, w.SetPower(0.5), test.ShouldBeNil)

	busy, err := w.IsBusy()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, busy, test.ShouldBeTrue)

	mock.Add(time.Second)
	pos, err := w.CurrentPosition()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldEqual, -200)
	busy, err = w.IsBusy()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, busy, test.ShouldBeFalse)

	test.That(t, w.SetRunMode(drivetrain.ResetEncoder), test.ShouldBeNil)
	pos, err = w.CurrentPosition()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldEqual, 0)
	test.That(t, w.Power(), test.ShouldEqual, 0)
	test.That(t, w.ModeHistory(), test.ShouldResemble,
		[]drivetrain.RunMode{drivetrain.RunToPosition, drivetrain.ResetEncoder})
}

func TestWheelStallAndFailure(t *testing.T) {
	mock := clock.NewMock()
	r := NewRobot(DefaultConfig(), mock)
	w := r.LeftBack()

	w.Stall(true)
	test.That(t, w.SetPower(1), test.ShouldBeNil)
	mock.Add(time.Second)
	pos, err := w.CurrentPosition()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldEqual, 0)

	boom := errors.New("controller offline")
	w.FailWith(boom)
	test.That(t, w.SetPower(0), test.ShouldEqual, boom)
	_, err = w.IsBusy()
	test.That(t, err, test.ShouldEqual, boom)
	w.FailWith(nil)
	test.That(t, w.SetPower(0), test.ShouldBeNil)
}

func TestWheelSettings(t *testing.T) {
	r := NewRobot(DefaultConfig(), clock.NewMock())
	w := r.RightFront()
	test.That(t, w.SetDirection(drivetrain.Reverse), test.ShouldBeNil)
	test.That(t, w.SetZeroPowerBehavior(drivetrain.Float), test.ShouldBeNil)
	test.That(t, w.Direction(), test.ShouldEqual, drivetrain.Reverse)
	test.That(t, w.ZeroPowerBehavior(), test.ShouldEqual, drivetrain.Float)
}

func TestIMU(t *testing.T) {
	mock := clock.NewMock()
	cfg := DefaultConfig()
	cfg.InitialYawDegrees = 30
	r := NewRobot(cfg, mock)

	_, err := r.IMU().YawDegrees()
	test.That(t, err, test.ShouldNotBeNil)

	params := drivetrain.DefaultIMUParameters()
	params.AngleUnit = drivetrain.Radians
	test.That(t, r.IMU().Initialize(params), test.ShouldNotBeNil)
	test.That(t, r.IMU().Initialize(drivetrain.DefaultIMUParameters()), test.ShouldBeNil)

	yaw, err := r.IMU().YawDegrees()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, yaw, test.ShouldAlmostEqual, 30, 1e-9)
	// Every read advances a mock clock by one tick.
	test.That(t, mock.Now().Sub(time.Unix(0, 0)), test.ShouldEqual, 2*cfg.Tick)

	r.SetHeading(-120)
	yaw, err = r.IMU().YawDegrees()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, yaw, test.ShouldAlmostEqual, -120, 1e-9)
}

func TestBodyMotion(t *testing.T) {
	set := func(r *Robot, p drivetrain.WheelPowers) {
		test.That(t, r.LeftFront().SetPower(p.LeftFront), test.ShouldBeNil)
		test.That(t, r.LeftBack().SetPower(p.LeftBack), test.ShouldBeNil)
		test.That(t, r.RightFront().SetPower(p.RightFront), test.ShouldBeNil)
		test.That(t, r.RightBack().SetPower(p.RightBack), test.ShouldBeNil)
	}

	t.Run("strafe", func(t *testing.T) {
		mock := clock.NewMock()
		r := NewRobot(DefaultConfig(), mock)
		set(r, drivetrain.ComputeWheelPowers(1, 0, 0))
		mock.Add(time.Second)
		pose := r.Pose()
		test.That(t, pose.X, test.ShouldAlmostEqual, 25, 1e-6)
		test.That(t, pose.Y, test.ShouldAlmostEqual, 0, 1e-6)
		test.That(t, pose.YawDegrees, test.ShouldAlmostEqual, 0, 1e-6)
	})

	t.Run("forward", func(t *testing.T) {
		mock := clock.NewMock()
		r := NewRobot(DefaultConfig(), mock)
		set(r, drivetrain.ComputeWheelPowers(0, 1, 0))
		mock.Add(time.Second)
		pose := r.Pose()
		test.That(t, pose.Y, test.ShouldAlmostEqual, 25, 1e-6)
		test.That(t, pose.X, test.ShouldAlmostEqual, 0, 1e-6)
	})

	t.Run("rotate", func(t *testing.T) {
		mock := clock.NewMock()
		r := NewRobot(DefaultConfig(), mock)
		// Left forward, right backward turns counter clockwise.
		set(r, drivetrain.WheelPowers{LeftFront: 0.5, LeftBack: 0.5, RightFront: -0.5, RightBack: -0.5})
		mock.Add(500 * time.Millisecond)
		pose := r.Pose()
		test.That(t, pose.YawDegrees, test.ShouldAlmostEqual, 45, 1e-6)
		test.That(t, math.Hypot(pose.X, pose.Y), test.ShouldBeLessThan, 1e-6)
	})
}
