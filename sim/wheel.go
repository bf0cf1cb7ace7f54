package sim

import (
	"math"

	"mecanum/drivetrain"
)

// Wheel is a simulated encoder motor. It implements drivetrain.Actuator.
type Wheel struct {
	robot *Robot

	power     float64
	mode      drivetrain.RunMode
	target    int
	position  float64
	direction drivetrain.Direction
	zeroPower drivetrain.ZeroPowerBehavior
	stalled   bool
	modes     []drivetrain.RunMode
	fail      error
}

// Stall stops the wheel from turning, as if it were jammed.
func (w *Wheel) Stall(stalled bool) {
	w.robot.mu.Lock()
	defer w.robot.mu.Unlock()
	w.robot.update()
	w.stalled = stalled
}

// FailWith makes every later call return err. Nil clears it.
func (w *Wheel) FailWith(err error) {
	w.robot.mu.Lock()
	defer w.robot.mu.Unlock()
	w.fail = err
}

// Power is the last commanded power.
func (w *Wheel) Power() float64 {
	w.robot.mu.Lock()
	defer w.robot.mu.Unlock()
	return w.power
}

// Mode is the current run mode.
func (w *Wheel) Mode() drivetrain.RunMode {
	w.robot.mu.Lock()
	defer w.robot.mu.Unlock()
	return w.mode
}

// ModeHistory is every run mode set on the wheel, oldest first.
func (w *Wheel) ModeHistory() []drivetrain.RunMode {
	w.robot.mu.Lock()
	defer w.robot.mu.Unlock()
	return append([]drivetrain.RunMode(nil), w.modes...)
}

// Target is the last target position.
func (w *Wheel) Target() int {
	w.robot.mu.Lock()
	defer w.robot.mu.Unlock()
	return w.target
}

// Direction is the configured motor direction.
func (w *Wheel) Direction() drivetrain.Direction {
	w.robot.mu.Lock()
	defer w.robot.mu.Unlock()
	return w.direction
}

// ZeroPowerBehavior is the configured zero power behavior.
func (w *Wheel) ZeroPowerBehavior() drivetrain.ZeroPowerBehavior {
	w.robot.mu.Lock()
	defer w.robot.mu.Unlock()
	return w.zeroPower
}

func (w *Wheel) SetPower(power float64) error {
	w.robot.mu.Lock()
	defer w.robot.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.robot.update()
	w.power = math.Max(-1, math.Min(1, power))
	return nil
}

func (w *Wheel) SetRunMode(mode drivetrain.RunMode) error {
	w.robot.mu.Lock()
	defer w.robot.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.robot.update()
	w.modes = append(w.modes, mode)
	if mode == drivetrain.ResetEncoder {
		w.power = 0
		w.position = 0
	}
	w.mode = mode
	return nil
}

func (w *Wheel) SetTargetPosition(ticks int) error {
	w.robot.mu.Lock()
	defer w.robot.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.robot.update()
	w.target = ticks
	return nil
}

func (w *Wheel) CurrentPosition() (int, error) {
	w.robot.mu.Lock()
	defer w.robot.mu.Unlock()
	if w.fail != nil {
		return 0, w.fail
	}
	w.robot.update()
	return int(math.Round(w.position)), nil
}

func (w *Wheel) IsBusy() (bool, error) {
	w.robot.poll()
	w.robot.mu.Lock()
	defer w.robot.mu.Unlock()
	if w.fail != nil {
		return false, w.fail
	}
	w.robot.update()
	return w.mode == drivetrain.RunToPosition && !w.atTarget(), nil
}

func (w *Wheel) SetZeroPowerBehavior(behavior drivetrain.ZeroPowerBehavior) error {
	w.robot.mu.Lock()
	defer w.robot.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.zeroPower = behavior
	return nil
}

func (w *Wheel) SetDirection(direction drivetrain.Direction) error {
	w.robot.mu.Lock()
	defer w.robot.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.direction = direction
	return nil
}

func (w *Wheel) atTarget() bool {
	return int(math.Round(w.position)) == w.target
}

// effectivePower is the signed power actually turning the wheel.
func (w *Wheel) effectivePower() float64 {
	if w.stalled {
		return 0
	}
	switch w.mode {
	case drivetrain.ResetEncoder:
		return 0
	case drivetrain.RunToPosition:
		if w.atTarget() {
			return 0
		}
		return math.Copysign(math.Abs(w.power), float64(w.target)-w.position)
	default:
		return w.power
	}
}

// advance moves the encoder, stopping on the target when seeking one.
func (w *Wheel) advance(ticks float64, seek bool) {
	if ticks == 0 {
		return
	}
	next := w.position + ticks
	if seek {
		target := float64(w.target)
		if (ticks > 0 && next > target) || (ticks < 0 && next < target) {
			next = target
		}
	}
	w.position = next
}
