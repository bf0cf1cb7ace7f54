package wheelcan

import (
	"math"
	"sync"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"mecanum/drivetrain"
)

type frameSender interface {
	Send(frame canbus.Frame) (int, error)
}

// Actuator is one wheel controller. It implements drivetrain.Actuator.
//
// Encoder position and the in-position flag come from feedback frames handled
// by the owning Bus. A reversed wheel negates power, targets and positions.
type Actuator struct {
	name    string
	id      uint32
	tx      frameSender
	maxRPM  float64
	current int16
	logger  logging.Logger

	mu        sync.Mutex
	power     float64
	mode      drivetrain.RunMode
	target    int
	direction drivetrain.Direction
	zeroPower drivetrain.ZeroPowerBehavior

	// Raw controller state from the last feedback frame.
	position int
	rpm      int16
	arrived  bool
}

func newActuator(name string, id uint32, tx frameSender, maxRPM float64, current int16, logger logging.Logger) *Actuator {
	return &Actuator{
		name:    name,
		id:      id,
		tx:      tx,
		maxRPM:  maxRPM,
		current: current,
		logger:  logger,
		mode:    drivetrain.RunUsingEncoder,
	}
}

// ID is the command frame ID of the wheel controller.
func (a *Actuator) ID() uint32 {
	return a.id
}

// RPM is the wheel speed from the last feedback frame.
func (a *Actuator) RPM() int16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rpm
}

func (a *Actuator) SetPower(power float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.power = power
	switch a.mode {
	case drivetrain.ResetEncoder:
		// The controller holds the wheel until a run mode is chosen.
		return nil
	case drivetrain.RunToPosition:
		return a.send(a.positionCommand())
	default:
		return a.send(a.speedCommand())
	}
}

func (a *Actuator) SetRunMode(runMode drivetrain.RunMode) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mode = runMode
	switch runMode {
	case drivetrain.ResetEncoder:
		a.power = 0
		a.position = 0
		a.arrived = false
		return a.send(command{state: stateResetPosition, mode: modeSpeed, current: a.current})
	case drivetrain.RunToPosition:
		a.arrived = false
		return a.send(a.positionCommand())
	default:
		return a.send(a.speedCommand())
	}
}

func (a *Actuator) SetTargetPosition(ticks int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.target = ticks
	if a.mode != drivetrain.RunToPosition {
		return nil
	}
	a.arrived = false
	return a.send(a.positionCommand())
}

func (a *Actuator) CurrentPosition() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position * a.sign(), nil
}

func (a *Actuator) IsBusy() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode != drivetrain.RunToPosition {
		return false, nil
	}
	off := a.target - a.position*a.sign()
	if off < 0 {
		off = -off
	}
	return !a.arrived || off > PositionTolerance, nil
}

func (a *Actuator) SetZeroPowerBehavior(behavior drivetrain.ZeroPowerBehavior) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.zeroPower = behavior
	return nil
}

func (a *Actuator) SetDirection(direction drivetrain.Direction) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.direction = direction
	return nil
}

// disable releases the wheel.
func (a *Actuator) disable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.power = 0
	return a.send(command{state: stateDisable, mode: modeSpeed, current: a.current})
}

// resetError clears a latched controller fault and leaves the wheel stopped.
func (a *Actuator) resetError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.power = 0
	return a.send(command{state: stateResetError, mode: modeSpeed, current: a.current})
}

// update applies a feedback frame.
func (a *Actuator) update(fb feedback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode == drivetrain.ResetEncoder {
		// Frames in flight still carry the old count.
		return
	}
	a.position = fb.position
	a.rpm = fb.rpm
	a.arrived = fb.arrived
}

func (a *Actuator) sign() int {
	if a.direction == drivetrain.Reverse {
		return -1
	}
	return 1
}

func (a *Actuator) speedCommand() command {
	cmd := command{
		state:   stateEnable,
		mode:    modeSpeed,
		rpm:     clampRPM(a.power * a.maxRPM * float64(a.sign())),
		current: a.current,
	}
	if cmd.rpm == 0 && a.zeroPower == drivetrain.Float {
		cmd.state = stateDisable
	}
	return cmd
}

func (a *Actuator) positionCommand() command {
	return command{
		state:   stateEnable,
		mode:    modeAbsolute,
		rpm:     clampRPM(math.Abs(a.power) * a.maxRPM),
		current: a.current,
		encoder: int32(a.target * a.sign()),
	}
}

// send transmits a command. Must hold mu.
func (a *Actuator) send(cmd command) error {
	frame := cmd.frame(a.id)
	a.logger.Debugw("frame", "wheel", a.name, "state", cmd.state.String(), "mode", cmd.mode.String(), "data", frame.Data)
	if _, err := a.tx.Send(frame); err != nil {
		return errors.Wrapf(err, "%s command TX error", a.name)
	}
	return nil
}
