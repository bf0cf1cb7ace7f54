package bno055

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/kidoman/embd"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"mecanum/drivetrain"
)

type write struct {
	reg  byte
	data []byte
}

// fakeBus is a register file. Methods the driver does not use panic through
// the nil embedded interface.
type fakeBus struct {
	embd.I2CBus

	mu     sync.Mutex
	regs   [256]byte
	writes []write
	err    error
	closed bool
}

func (b *fakeBus) ReadByteFromReg(addr, reg byte) (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	return b.regs[reg], nil
}

func (b *fakeBus) ReadFromReg(addr, reg byte, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	copy(value, b.regs[reg:])
	return nil
}

func (b *fakeBus) WriteByteToReg(addr, reg, value byte) error {
	return b.WriteToReg(addr, reg, []byte{value})
}

func (b *fakeBus) WriteToReg(addr, reg byte, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.writes = append(b.writes, write{reg, append([]byte(nil), value...)})
	copy(b.regs[reg:], value)
	return nil
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func (b *fakeBus) setWords(reg byte, words ...int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range words {
		binary.LittleEndian.PutUint16(b.regs[int(reg)+2*i:], uint16(w))
	}
}

func newFakeBus() *fakeBus {
	b := &fakeBus{}
	b.regs[regChipID] = chipID
	return b
}

func quietParams() drivetrain.IMUParameters {
	params := drivetrain.DefaultIMUParameters()
	params.CalibrationDataFile = ""
	return params
}

func TestInitialize(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("wrong chip", func(t *testing.T) {
		bus := newFakeBus()
		bus.regs[regChipID] = 0xD8
		err := New(bus, DefaultAddress, logger).Initialize(quietParams())
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, bus.writes, test.ShouldBeEmpty)
	})

	t.Run("bus error", func(t *testing.T) {
		bus := newFakeBus()
		bus.err = errors.New("nack")
		err := New(bus, DefaultAddress, logger).Initialize(quietParams())
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "nack")
	})

	t.Run("mode sequence", func(t *testing.T) {
		bus := newFakeBus()
		dir := t.TempDir()
		d := New(bus, DefaultAddress, logger, WithCalibrationDir(dir))
		test.That(t, d.Initialize(drivetrain.DefaultIMUParameters()), test.ShouldBeNil)
		test.That(t, bus.writes, test.ShouldResemble, []write{
			{regOprMode, []byte{modeConfig}},
			{regUnitSel, []byte{unitsDegrees}},
			{regOprMode, []byte{modeIMU}},
		})
	})

	t.Run("radians", func(t *testing.T) {
		bus := newFakeBus()
		params := quietParams()
		params.AngleUnit = drivetrain.Radians
		test.That(t, New(bus, DefaultAddress, logger).Initialize(params), test.ShouldBeNil)
		test.That(t, bus.regs[regUnitSel], test.ShouldEqual, unitsRadians)
	})

	t.Run("calibration file", func(t *testing.T) {
		bus := newFakeBus()
		dir := t.TempDir()
		cal := `{"dxAccel": -12, "dyAccel": 3, "dzAccel": 0, "dxMag": 100, "dyMag": -200, "dzMag": 7,
			"dxGyro": 1, "dyGyro": -1, "dzGyro": 0, "radiusAccel": 1000, "radiusMag": 640}`
		test.That(t, os.WriteFile(filepath.Join(dir, "BNO055IMUCalibration.json"), []byte(cal), 0o600), test.ShouldBeNil)

		d := New(bus, DefaultAddress, logger, WithCalibrationDir(dir))
		test.That(t, d.Initialize(drivetrain.DefaultIMUParameters()), test.ShouldBeNil)
		test.That(t, len(bus.writes), test.ShouldEqual, 4)

		calWrite := bus.writes[2]
		test.That(t, calWrite.reg, test.ShouldEqual, regCalibration)
		test.That(t, len(calWrite.data), test.ShouldEqual, calibrationBytes)
		test.That(t, int16(binary.LittleEndian.Uint16(calWrite.data[0:])), test.ShouldEqual, -12)
		test.That(t, int16(binary.LittleEndian.Uint16(calWrite.data[8:])), test.ShouldEqual, -200)
		test.That(t, int16(binary.LittleEndian.Uint16(calWrite.data[20:])), test.ShouldEqual, 640)
		test.That(t, bus.writes[3], test.ShouldResemble, write{regOprMode, []byte{modeIMU}})
	})

	t.Run("bad calibration file", func(t *testing.T) {
		dir := t.TempDir()
		test.That(t, os.WriteFile(filepath.Join(dir, "BNO055IMUCalibration.json"), []byte("{"), 0o600), test.ShouldBeNil)
		err := New(newFakeBus(), DefaultAddress, logger, WithCalibrationDir(dir)).Initialize(drivetrain.DefaultIMUParameters())
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestYawDegrees(t *testing.T) {
	bus := newFakeBus()
	d := New(bus, DefaultAddress, logging.NewTestLogger(t))

	_, err := d.YawDegrees()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, d.Initialize(quietParams()), test.ShouldBeNil)

	for _, deg := range []float64{0, 90, -45, 179} {
		half := deg * math.Pi / 360
		w := int16(math.Round(math.Cos(half) * (1 << 14)))
		z := int16(math.Round(math.Sin(half) * (1 << 14)))
		bus.setWords(regQuaternion, w, 0, 0, z)

		yaw, err := d.YawDegrees()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, yaw, test.ShouldAlmostEqual, deg, 0.01)
	}
}

func TestCalibrationStatus(t *testing.T) {
	bus := newFakeBus()
	bus.regs[regCalibStat] = 0b11_10_01_00
	sys, gyro, accel, mag, err := New(bus, DefaultAddress, logging.NewTestLogger(t)).CalibrationStatus()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, []byte{sys, gyro, accel, mag}, test.ShouldResemble, []byte{3, 2, 1, 0})
}

func TestIntegrate(t *testing.T) {
	bus := newFakeBus()
	d := New(bus, DefaultAddress, logging.NewTestLogger(t))
	bus.setWords(regLinearAccel, 100, -50, 0)

	for i := 0; i < 3; i++ {
		test.That(t, d.integrate(time.Second), test.ShouldBeNil)
	}
	test.That(t, d.Velocity().X, test.ShouldAlmostEqual, 2, 1e-9)
	test.That(t, d.Velocity().Y, test.ShouldAlmostEqual, -1, 1e-9)
	test.That(t, d.Position().X, test.ShouldAlmostEqual, 2, 1e-9)
	test.That(t, d.Position().Z, test.ShouldEqual, 0)
}

func TestAccelerationIntegrationLoop(t *testing.T) {
	bus := newFakeBus()
	mock := clock.NewMock()
	d := New(bus, DefaultAddress, logging.NewTestLogger(t), WithClock(mock))
	bus.setWords(regLinearAccel, 100, 0, 0)

	test.That(t, d.StartAccelerationIntegration(0), test.ShouldNotBeNil)
	test.That(t, d.StartAccelerationIntegration(time.Second), test.ShouldBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mock.Add(time.Second)
		test.That(tb, d.Velocity().X, test.ShouldBeGreaterThan, 0)
	})

	test.That(t, d.Close(), test.ShouldBeNil)
	test.That(t, bus.closed, test.ShouldBeFalse)
}
