package wheelcan

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"
	"golang.org/x/sys/unix"

	"mecanum/drivetrain"
)

// DefaultChannel is the SocketCAN interface the controllers hang off.
const DefaultChannel = "can0"

const recvRetryInterval = 100 * time.Millisecond

// WheelIDs are the command frame IDs of the four wheel controllers.
type WheelIDs struct {
	LeftFront  uint32
	LeftBack   uint32
	RightFront uint32
	RightBack  uint32
}

// DefaultWheelIDs are the factory controller addresses.
func DefaultWheelIDs() WheelIDs {
	return WheelIDs{
		RightFront: 0x22A,
		LeftFront:  0x22B,
		RightBack:  0x22C,
		LeftBack:   0x22D,
	}
}

// Config describes the CAN wiring of the chassis.
type Config struct {
	Channel string
	IDs     WheelIDs
	// MaxRPM is the wheel speed commanded at full power.
	MaxRPM float64
	// Current is the current limit sent with every command.
	Current int16
}

func (cfg Config) withDefaults() Config {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.IDs == (WheelIDs{}) {
		cfg.IDs = DefaultWheelIDs()
	}
	if cfg.MaxRPM <= 0 {
		cfg.MaxRPM = DefaultMaxRPM
	}
	if cfg.Current <= 0 {
		cfg.Current = DefaultCurrent
	}
	return cfg
}

type frameReceiver interface {
	Recv() (canbus.Frame, error)
}

// Bus owns the CAN sockets shared by the four wheel controllers and
// dispatches their feedback.
type Bus struct {
	tx     frameSender
	rx     frameReceiver
	logger logging.Logger

	// LF, LB, RF, RB.
	wheels     [4]*Actuator
	byFeedback map[uint32]*Actuator

	mu            sync.Mutex
	stateOfCharge float64

	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
	closeOnce               sync.Once
}

// Open binds send and receive sockets on the configured channel and starts
// the receive thread.
func Open(cfg Config, logger logging.Logger) (*Bus, error) {
	cfg = cfg.withDefaults()

	socketSend, err := canbus.New()
	if err != nil {
		return nil, err
	}
	if err := socketSend.Bind(cfg.Channel); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "binding %s", cfg.Channel), socketSend.Close())
	}

	socketRecv, err := canbus.New()
	if err != nil {
		return nil, multierr.Combine(err, socketSend.Close())
	}
	if err := socketRecv.SetFilters(filters(cfg.IDs)); err != nil {
		return nil, multierr.Combine(err, socketSend.Close(), socketRecv.Close())
	}
	if err := socketRecv.Bind(cfg.Channel); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "binding %s", cfg.Channel), socketSend.Close(), socketRecv.Close())
	}

	return newBus(socketSend, socketRecv, cfg, logger), nil
}

// filters accepts only wheel feedback and battery state.
func filters(ids WheelIDs) []unix.CanFilter {
	out := make([]unix.CanFilter, 0, 5)
	for _, id := range []uint32{ids.LeftFront, ids.LeftBack, ids.RightFront, ids.RightBack} {
		out = append(out, unix.CanFilter{
			Id:   (id + FeedbackOffset) | unix.CAN_EFF_FLAG,
			Mask: unix.CAN_EFF_MASK | unix.CAN_EFF_FLAG,
		})
	}
	return append(out, unix.CanFilter{Id: BatteryStateID, Mask: unix.CAN_SFF_MASK})
}

// newBus wires the actuators to tx and, if rx is not nil, starts receiving.
func newBus(tx frameSender, rx frameReceiver, cfg Config, logger logging.Logger) *Bus {
	cfg = cfg.withDefaults()
	b := &Bus{
		tx:            tx,
		rx:            rx,
		logger:        logger,
		byFeedback:    map[uint32]*Actuator{},
		stateOfCharge: math.NaN(),
		cancel:        func() {},
	}
	for i, w := range []struct {
		name string
		id   uint32
	}{
		{"left_front", cfg.IDs.LeftFront},
		{"left_back", cfg.IDs.LeftBack},
		{"right_front", cfg.IDs.RightFront},
		{"right_back", cfg.IDs.RightBack},
	} {
		b.wheels[i] = newActuator(w.name, w.id, tx, cfg.MaxRPM, cfg.Current, logger)
		b.byFeedback[w.id+FeedbackOffset] = b.wheels[i]
	}

	if rx != nil {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		b.activeBackgroundWorkers.Add(1)
		viamutils.ManagedGo(func() {
			b.receiveThread(ctx)
		}, b.activeBackgroundWorkers.Done)
	}
	return b
}

// Wheels returns the controllers as a drivetrain wheel set.
func (b *Bus) Wheels() drivetrain.WheelSet {
	return drivetrain.WheelSet{
		LeftFront:  b.wheels[0],
		LeftBack:   b.wheels[1],
		RightFront: b.wheels[2],
		RightBack:  b.wheels[3],
	}
}

// StateOfCharge is the last reported battery charge in percent, NaN until the
// first battery frame.
func (b *Bus) StateOfCharge() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateOfCharge
}

// WheelRPM returns the reported wheel speeds in LF, LB, RF, RB order.
func (b *Bus) WheelRPM() [4]int16 {
	var out [4]int16
	for i, w := range b.wheels {
		out[i] = w.RPM()
	}
	return out
}

// ResetErrors clears latched faults on every controller.
func (b *Bus) ResetErrors() error {
	var err error
	for _, w := range b.wheels {
		err = multierr.Combine(err, w.resetError())
	}
	return err
}

// Disable releases every wheel.
func (b *Bus) Disable() error {
	var err error
	for _, w := range b.wheels {
		err = multierr.Combine(err, w.disable())
	}
	return err
}

// Close disables the wheels, stops the receive thread and closes the sockets.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.Disable()
		b.cancel()
		if c, ok := b.rx.(io.Closer); ok {
			err = multierr.Combine(err, c.Close())
		}
		b.activeBackgroundWorkers.Wait()
		if c, ok := b.tx.(io.Closer); ok {
			err = multierr.Combine(err, c.Close())
		}
	})
	return err
}

// receiveThread receives canbus frames and stores data when necessary.
func (b *Bus) receiveThread(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := b.rx.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Errorw("CAN Rx error", "error", err)
			if !viamutils.SelectContextOrWait(ctx, recvRetryInterval) {
				return
			}
			continue
		}
		b.handle(frame)
	}
}

func (b *Bus) handle(frame canbus.Frame) {
	id := frame.ID & unix.CAN_EFF_MASK
	if id == BatteryStateID {
		soc, err := decodeStateOfCharge(frame.Data)
		if err != nil {
			b.logger.Debugw("bad battery frame", "error", err)
			return
		}
		b.mu.Lock()
		b.stateOfCharge = soc
		b.mu.Unlock()
		return
	}

	w, ok := b.byFeedback[id]
	if !ok {
		return
	}
	fb, err := decodeFeedback(frame.Data)
	if err != nil {
		b.logger.Debugw("bad feedback frame", "wheel", w.name, "error", err)
		return
	}
	w.update(fb)
}
