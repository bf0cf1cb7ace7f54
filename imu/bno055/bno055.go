// Package bno055 reads heading from a Bosch BNO055 absolute orientation
// sensor on an I2C bus.
package bno055

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all" // Empty import needed to initialize embd library.
	"github.com/pkg/errors"
	"github.com/westphae/quaternion"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"

	"mecanum/drivetrain"
	"mecanum/imu"
)

const (
	// DefaultAddress is the sensor address with COM3 low.
	DefaultAddress byte = 0x28
	// DefaultBus is the I2C bus the sensor sits on.
	DefaultBus byte = 1

	chipID = 0xA0

	regChipID        = 0x00
	regLinearAccel   = 0x28
	regQuaternion    = 0x20
	regCalibStat     = 0x35
	regUnitSel       = 0x3B
	regOprMode       = 0x3D
	regCalibration   = 0x55
	calibrationBytes = 22

	modeConfig = 0x00
	modeIMU    = 0x08

	unitsDegrees = 0x00
	unitsRadians = 0x06 // gyro in rad/s, euler in rad

	quaternionScale = 1.0 / (1 << 14)
	accelScale      = 1.0 / 100 // m/s^2 per LSB

	// The datasheet switching times, rounded up.
	configModeDelay    = 25 * time.Millisecond
	operatingModeDelay = 10 * time.Millisecond
)

// CalibrationData is the sensor offset and radius block, as saved after a
// calibration run.
type CalibrationData struct {
	DxAccel     int16 `json:"dxAccel"`
	DyAccel     int16 `json:"dyAccel"`
	DzAccel     int16 `json:"dzAccel"`
	DxMag       int16 `json:"dxMag"`
	DyMag       int16 `json:"dyMag"`
	DzMag       int16 `json:"dzMag"`
	DxGyro      int16 `json:"dxGyro"`
	DyGyro      int16 `json:"dyGyro"`
	DzGyro      int16 `json:"dzGyro"`
	RadiusAccel int16 `json:"radiusAccel"`
	RadiusMag   int16 `json:"radiusMag"`
}

func (c CalibrationData) bytes() []byte {
	buf := make([]byte, calibrationBytes)
	for i, v := range []int16{
		c.DxAccel, c.DyAccel, c.DzAccel,
		c.DxMag, c.DyMag, c.DzMag,
		c.DxGyro, c.DyGyro, c.DzGyro,
		c.RadiusAccel, c.RadiusMag,
	} {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	return buf
}

// Device is a BNO055. It implements drivetrain.HeadingSensor and
// drivetrain.AccelerationIntegrator.
type Device struct {
	bus            embd.I2CBus
	addr           byte
	ownsBus        bool
	calibrationDir string
	clock          clock.Clock
	logger         logging.Logger

	mu          sync.Mutex
	initialized bool
	params      drivetrain.IMUParameters

	integration             sync.Mutex
	velocity, position      r3.Vector
	lastAccel               r3.Vector
	haveAccel               bool
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// Option configures a Device.
type Option func(*Device)

// WithCalibrationDir sets where the calibration data file is looked up.
func WithCalibrationDir(dir string) Option {
	return func(d *Device) { d.calibrationDir = dir }
}

// WithClock sets the clock used for mode switch delays and integration.
func WithClock(clk clock.Clock) Option {
	return func(d *Device) { d.clock = clk }
}

// New wraps a sensor on an already open bus.
func New(bus embd.I2CBus, addr byte, logger logging.Logger, opts ...Option) *Device {
	d := &Device{
		bus:    bus,
		addr:   addr,
		clock:  clock.New(),
		logger: logger,
		cancel: func() {},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open opens the numbered I2C bus and wraps the sensor at addr on it.
func Open(busNumber, addr byte, logger logging.Logger, opts ...Option) *Device {
	d := New(embd.NewI2CBus(busNumber), addr, logger, opts...)
	d.ownsBus = true
	return d
}

// Initialize checks the chip, sets units, loads saved calibration and starts
// IMU fusion.
func (d *Device) Initialize(params drivetrain.IMUParameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, err := d.bus.ReadByteFromReg(d.addr, regChipID)
	if err != nil {
		return errors.Wrap(err, "reading BNO055 chip id")
	}
	if id != chipID {
		return errors.Errorf("chip is not BNO055, chip id is %#x", id)
	}

	if err := d.write(regOprMode, modeConfig); err != nil {
		return err
	}
	d.clock.Sleep(configModeDelay)

	units := byte(unitsDegrees)
	if params.AngleUnit == drivetrain.Radians {
		units = unitsRadians
	}
	if err := d.write(regUnitSel, units); err != nil {
		return err
	}

	if params.CalibrationDataFile != "" {
		if err := d.loadCalibration(params); err != nil {
			return err
		}
	}

	if err := d.write(regOprMode, modeIMU); err != nil {
		return err
	}
	d.clock.Sleep(operatingModeDelay)

	d.params = params
	d.initialized = true
	if params.LoggingEnabled {
		d.logger.Infow("BNO055 initialized", "tag", params.LoggingTag, "address", d.addr)
	}
	return nil
}

func (d *Device) loadCalibration(params drivetrain.IMUParameters) error {
	path := params.CalibrationDataFile
	if !filepath.IsAbs(path) && d.calibrationDir != "" {
		path = filepath.Join(d.calibrationDir, path)
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if params.LoggingEnabled {
			d.logger.Infow("no BNO055 calibration data, running uncalibrated", "tag", params.LoggingTag, "file", path)
		}
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading calibration %s", path)
	}
	var cal CalibrationData
	if err := json.Unmarshal(raw, &cal); err != nil {
		return errors.Wrapf(err, "parsing calibration %s", path)
	}
	if err := d.bus.WriteToReg(d.addr, regCalibration, cal.bytes()); err != nil {
		return errors.Wrap(err, "writing BNO055 calibration")
	}
	return nil
}

// CalibrationStatus returns the system, gyro, accel and mag calibration
// levels, each 0 to 3.
func (d *Device) CalibrationStatus() (sys, gyro, accel, mag byte, err error) {
	stat, err := d.bus.ReadByteFromReg(d.addr, regCalibStat)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrap(err, "reading BNO055 calibration status")
	}
	return (stat >> 6) & 3, (stat >> 4) & 3, (stat >> 2) & 3, stat & 3, nil
}

// Orientation reads the fused orientation quaternion.
func (d *Device) Orientation() (quaternion.Quaternion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return quaternion.Quaternion{}, errors.New("BNO055 not initialized")
	}
	buf := make([]byte, 8)
	if err := d.bus.ReadFromReg(d.addr, regQuaternion, buf); err != nil {
		return quaternion.Quaternion{}, errors.Wrap(err, "reading BNO055 quaternion")
	}
	word := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(buf[2*i:]))) * quaternionScale
	}
	return quaternion.Quaternion{W: word(0), X: word(1), Y: word(2), Z: word(3)}, nil
}

// YawDegrees returns the heading in degrees, counter clockwise positive.
func (d *Device) YawDegrees() (float64, error) {
	q, err := d.Orientation()
	if err != nil {
		return 0, err
	}
	return imu.YawDegrees(q), nil
}

// StartAccelerationIntegration samples linear acceleration every interval
// and integrates it into velocity and position.
func (d *Device) StartAccelerationIntegration(interval time.Duration) error {
	if interval <= 0 {
		return errors.New("integration interval must be positive")
	}
	d.stopIntegration()

	d.integration.Lock()
	d.velocity, d.position = r3.Vector{}, r3.Vector{}
	d.haveAccel = false
	d.integration.Unlock()

	ticker := d.clock.Ticker(interval)
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		d.integrateLoop(ctx, ticker, interval)
	}, d.activeBackgroundWorkers.Done)
	return nil
}

func (d *Device) integrateLoop(ctx context.Context, ticker *clock.Ticker, interval time.Duration) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := d.integrate(interval); err != nil {
			d.logger.Debugw("acceleration sample failed", "error", err)
		}
	}
}

// integrate reads one acceleration sample and advances the trapezoid
// integration by dt.
func (d *Device) integrate(dt time.Duration) error {
	buf := make([]byte, 6)
	if err := d.bus.ReadFromReg(d.addr, regLinearAccel, buf); err != nil {
		return errors.Wrap(err, "reading BNO055 linear acceleration")
	}
	axis := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(buf[2*i:]))) * accelScale
	}
	accel := r3.Vector{X: axis(0), Y: axis(1), Z: axis(2)}

	d.integration.Lock()
	defer d.integration.Unlock()
	if d.haveAccel {
		s := dt.Seconds()
		velocity := d.velocity.Add(accel.Add(d.lastAccel).Mul(s / 2))
		d.position = d.position.Add(velocity.Add(d.velocity).Mul(s / 2))
		d.velocity = velocity
	}
	d.lastAccel = accel
	d.haveAccel = true
	return nil
}

// Velocity is the integrated velocity in m/s.
func (d *Device) Velocity() r3.Vector {
	d.integration.Lock()
	defer d.integration.Unlock()
	return d.velocity
}

// Position is the integrated position in meters.
func (d *Device) Position() r3.Vector {
	d.integration.Lock()
	defer d.integration.Unlock()
	return d.position
}

func (d *Device) stopIntegration() {
	d.cancel()
	d.activeBackgroundWorkers.Wait()
	d.cancel = func() {}
}

// Close stops integration and closes the bus if Open opened it.
func (d *Device) Close() error {
	d.stopIntegration()
	if d.ownsBus {
		return d.bus.Close()
	}
	return nil
}

func (d *Device) write(reg, value byte) error {
	if err := d.bus.WriteByteToReg(d.addr, reg, value); err != nil {
		return errors.Wrapf(err, "BNO055 error writing %#x to %#x", value, reg)
	}
	return nil
}
