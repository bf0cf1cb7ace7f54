// Package wheelcan drives mecanum wheel motor controllers over SocketCAN.
//
// Every wheel has its own controller addressed by an extended CAN ID. The
// controller accepts speed, absolute and relative position commands, and
// answers with a feedback frame on its command ID + FeedbackOffset carrying
// the encoder count, the wheel speed and an in-position flag.
package wheelcan

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"

	"mecanum/drivetrain"
)

const (
	// Wheel properties of the stock chassis.
	wheelRadiusMm        = 76.2
	wheelCircumferenceMm = 2 * math.Pi * wheelRadiusMm
	wheelEncoderBits     = 12
	wheelTicksPerRev     = 1 << wheelEncoderBits

	limitSpeedMaxKph = 2.5
	limitCurrentMax  = 5

	// DefaultMaxRPM is the wheel speed sent for full power.
	DefaultMaxRPM = limitSpeedMaxKph * 1000000 / wheelCircumferenceMm / 60
	// DefaultCurrent is the current limit sent with every command.
	DefaultCurrent = limitCurrentMax

	// FeedbackOffset is added to a command ID to get the wheel's feedback ID.
	FeedbackOffset uint32 = 0x10
	// BatteryStateID carries the battery state of charge.
	BatteryStateID uint32 = 0x251

	// PositionTolerance is how far, in encoder counts, a wheel may be from its
	// target and still count as arrived.
	PositionTolerance = 5

	// rpm and current are 12 bit fields.
	maxFieldValue  = 1<<11 - 1
	numBitsPerByte = 8
)

// Calibration is the tick conversion for the stock chassis wheels.
func Calibration() drivetrain.Calibration {
	return drivetrain.Calibration{
		CountsPerMotorRev:   wheelTicksPerRev,
		GearReduction:       1,
		WheelDiameterInches: 2 * wheelRadiusMm / 25.4,
	}
}

type state byte

const (
	stateDisable state = iota
	stateEnable
	stateResetError
	stateResetPosition
	stateResetCalibration
	stateCalibrateSensor
)

var stateNames = map[state]string{
	stateDisable:          "disable",
	stateEnable:           "enable",
	stateResetError:       "resetError",
	stateResetPosition:    "resetPosition",
	stateResetCalibration: "resetCalibration",
	stateCalibrateSensor:  "calibrateSensor",
}

func (s state) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", byte(s))
}

type mode byte

const (
	modeSpeed mode = iota
	modeAbsolute
	modeRelative
	modeCurrent
)

var modeNames = map[mode]string{
	modeSpeed:    "speed",
	modeAbsolute: "absolute",
	modeRelative: "relative",
	modeCurrent:  "current",
}

func (m mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", byte(m))
}

// command is one wheel controller command.
type command struct {
	state   state
	mode    mode
	rpm     int16
	current int16
	encoder int32
}

// frame encodes the command for the controller at id. rpm and current are
// packed as 12 bit fields starting at bits 8 and 20.
func (cmd command) frame(id uint32) canbus.Frame {
	rpm := uint16(cmd.rpm) & 0x0FFF
	current := uint16(cmd.current) & 0x0FFF

	data := make([]byte, 8)
	data[0] = byte(cmd.state)&0x0F | (byte(cmd.mode)&0x0F)<<4
	data[1] = byte(rpm)
	data[2] = byte(rpm>>8) | byte(current<<4)
	data[3] = byte(current >> 4)
	binary.LittleEndian.PutUint32(data[4:], uint32(cmd.encoder))

	return canbus.Frame{ID: id, Data: data, Kind: canbus.EFF}
}

// clampRPM rounds a wheel speed into the command field range.
func clampRPM(rpm float64) int16 {
	rpm = math.Round(rpm)
	if rpm > maxFieldValue {
		return maxFieldValue
	}
	if rpm < -maxFieldValue {
		return -maxFieldValue
	}
	return int16(rpm)
}

// signal locates a value inside a CAN payload.
type signal struct {
	scale        float64
	offset       float64
	start        uint8 // first bit
	length       uint8 // bits, at most 32
	littleEndian bool
	signed       bool
}

var (
	signalFeedbackPosition = signal{scale: 1, start: 0, length: 32, littleEndian: true, signed: true}
	signalFeedbackRPM      = signal{scale: 1, start: 32, length: 16, littleEndian: true, signed: true}
	signalFeedbackArrived  = signal{scale: 1, start: 48, length: 1, littleEndian: true}
	signalStateOfCharge    = signal{scale: 0.1, start: 0, length: 16, littleEndian: true}
)

// last is the index of the last payload byte the signal touches.
func (sig signal) last() int {
	return (int(sig.start) + int(sig.length) - 1) / numBitsPerByte
}

// extract reads the signal from data. The caller checks the payload length.
func (sig signal) extract(data []byte) float64 {
	first := int(sig.start) / numBitsPerByte
	last := sig.last()

	var raw uint64
	for i := first; i <= last; i++ {
		shift := i - first
		if !sig.littleEndian {
			shift = last - i
		}
		raw |= uint64(data[i]) << (shift * numBitsPerByte)
	}
	raw >>= int(sig.start) - first*numBitsPerByte
	raw &= 1<<sig.length - 1

	if sig.signed && raw&(1<<(sig.length-1)) != 0 {
		raw |= ^uint64(0) << sig.length
		return float64(int64(raw))*sig.scale + sig.offset
	}
	return float64(raw)*sig.scale + sig.offset
}

// feedback is the decoded status of one wheel.
type feedback struct {
	position int
	rpm      int16
	arrived  bool
}

func decodeFeedback(data []byte) (feedback, error) {
	if len(data) <= signalFeedbackArrived.last() {
		return feedback{}, errors.Errorf("feedback frame too short: %d bytes", len(data))
	}
	return feedback{
		position: int(signalFeedbackPosition.extract(data)),
		rpm:      int16(signalFeedbackRPM.extract(data)),
		arrived:  signalFeedbackArrived.extract(data) != 0,
	}, nil
}

func decodeStateOfCharge(data []byte) (float64, error) {
	if len(data) <= signalStateOfCharge.last() {
		return 0, errors.Errorf("battery frame too short: %d bytes", len(data))
	}
	return signalStateOfCharge.extract(data), nil
}
