package drivetrain

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// RunMode governs how an actuator treats power and its encoder.
type RunMode int

const (
	// ResetEncoder stops the motor and zeroes its encoder.
	ResetEncoder RunMode = iota
	// RunUsingEncoder is open loop power with encoder counting.
	RunUsingEncoder
	// RunToPosition seeks the target position at the applied power.
	RunToPosition
)

func (m RunMode) String() string {
	switch m {
	case ResetEncoder:
		return "reset_encoder"
	case RunUsingEncoder:
		return "run_using_encoder"
	case RunToPosition:
		return "run_to_position"
	default:
		return fmt.Sprintf("run_mode(%d)", int(m))
	}
}

// ZeroPowerBehavior is what a motor does when commanded zero power.
type ZeroPowerBehavior int

const (
	Brake ZeroPowerBehavior = iota
	Float
)

// Direction flips the sign of power and encoder counts.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

// Actuator is a single wheel motor with an encoder.
type Actuator interface {
	SetPower(power float64) error
	SetRunMode(mode RunMode) error
	SetTargetPosition(ticks int) error
	CurrentPosition() (int, error)
	IsBusy() (bool, error)
	SetZeroPowerBehavior(behavior ZeroPowerBehavior) error
	SetDirection(direction Direction) error
}

// WheelSet is the four drive wheels of the chassis.
type WheelSet struct {
	LeftFront  Actuator
	LeftBack   Actuator
	RightFront Actuator
	RightBack  Actuator
}

type wheel struct {
	name  string
	right bool
	Actuator
}

func (w WheelSet) wheels() [4]wheel {
	return [4]wheel{
		{"left_front", false, w.LeftFront},
		{"right_front", true, w.RightFront},
		{"left_back", false, w.LeftBack},
		{"right_back", true, w.RightBack},
	}
}

func (w WheelSet) complete() bool {
	return w.LeftFront != nil && w.LeftBack != nil && w.RightFront != nil && w.RightBack != nil
}

// forEach runs fn on every wheel and stops at the first error.
func (w WheelSet) forEach(fn func(wheel) error) error {
	for _, wh := range w.wheels() {
		if err := fn(wh); err != nil {
			return errors.Wrap(err, wh.name)
		}
	}
	return nil
}

// forAll runs fn on every wheel regardless of failures and combines the errors.
func (w WheelSet) forAll(fn func(wheel) error) error {
	var err error
	for _, wh := range w.wheels() {
		if e := fn(wh); e != nil {
			err = multierr.Combine(err, errors.Wrap(e, wh.name))
		}
	}
	return err
}

func (w WheelSet) setRunMode(mode RunMode) error {
	return w.forEach(func(wh wheel) error { return wh.SetRunMode(mode) })
}

func (w WheelSet) setPowers(p WheelPowers) error {
	if err := w.LeftFront.SetPower(p.LeftFront); err != nil {
		return errors.Wrap(err, "left_front")
	}
	if err := w.LeftBack.SetPower(p.LeftBack); err != nil {
		return errors.Wrap(err, "left_back")
	}
	if err := w.RightBack.SetPower(p.RightBack); err != nil {
		return errors.Wrap(err, "right_back")
	}
	if err := w.RightFront.SetPower(p.RightFront); err != nil {
		return errors.Wrap(err, "right_front")
	}
	return nil
}

// setSidePowers applies left to both left wheels and right to both right wheels.
func (w WheelSet) setSidePowers(left, right float64) error {
	return w.setPowers(WheelPowers{LeftFront: left, LeftBack: left, RightFront: right, RightBack: right})
}

// zero forces every wheel to zero power.
func (w WheelSet) zero() error {
	return w.forAll(func(wh wheel) error { return wh.SetPower(0) })
}
