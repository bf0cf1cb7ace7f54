// Package sim simulates a mecanum chassis: four encoder motors and a yaw
// sensor sharing one body model.
//
// The model works in the drivetrain's command frame. A reversed motor inverts
// both its power and its encoder, as real controllers do, so direction is
// recorded but does not change the simulated motion.
//
// With a *clock.Mock the simulation advances the mock by Config.Tick on every
// sensor poll (IsBusy and YawDegrees), which makes control loop tests
// deterministic. With a real clock it integrates against wall time.
package sim

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/skelterjohn/go.matrix"
	"github.com/westphae/quaternion"

	"mecanum/drivetrain"
	"mecanum/imu"
)

// Config sets the physical limits of the simulated chassis.
type Config struct {
	// Encoder ticks per second of a wheel at full power.
	MaxTicksPerSecond float64
	// Yaw rate at full turn power.
	MaxYawRateDegPerSec float64
	// Body speed at full translation power.
	MaxInchesPerSecond float64
	// Heading at start.
	InitialYawDegrees float64
	// Simulated time per sensor poll when driven by a mock clock.
	Tick time.Duration
}

// DefaultConfig is a NeverRest 40 chassis, roughly.
func DefaultConfig() Config {
	return Config{
		MaxTicksPerSecond:   2240,
		MaxYawRateDegPerSec: 180,
		MaxInchesPerSecond:  25,
		Tick:                time.Millisecond,
	}
}

// Pose is the simulated position of the chassis on the field.
type Pose struct {
	X, Y       float64 // inches
	YawDegrees float64
}

// Robot is a simulated chassis.
type Robot struct {
	mu   sync.Mutex
	cfg  Config
	clk  clock.Clock
	mock *clock.Mock
	last time.Time

	// LF, LB, RF, RB, the column order of kin.
	wheels   [4]*Wheel
	imu      *IMU
	attitude quaternion.Quaternion
	x, y     float64

	// kin maps effective wheel powers to body x, y and turn.
	kin *matrix.DenseMatrix
}

// NewRobot creates a simulated chassis at rest.
func NewRobot(cfg Config, clk clock.Clock) *Robot {
	if clk == nil {
		clk = clock.New()
	}
	k := 1 / (2 * math.Sqrt2)
	r := &Robot{
		cfg:      cfg,
		clk:      clk,
		last:     clk.Now(),
		attitude: imu.FromYawDegrees(cfg.InitialYawDegrees),
		kin: matrix.MakeDenseMatrix([]float64{
			-k, k, k, -k,
			-k, -k, -k, -k,
			-0.25, -0.25, 0.25, 0.25,
		}, 3, 4),
	}
	if m, ok := clk.(*clock.Mock); ok {
		r.mock = m
	}
	for i := range r.wheels {
		r.wheels[i] = &Wheel{robot: r, mode: drivetrain.RunUsingEncoder}
	}
	r.imu = &IMU{robot: r}
	return r
}

// Wheels returns the simulated motors as a drivetrain wheel set.
func (r *Robot) Wheels() drivetrain.WheelSet {
	return drivetrain.WheelSet{
		LeftFront:  r.wheels[0],
		LeftBack:   r.wheels[1],
		RightFront: r.wheels[2],
		RightBack:  r.wheels[3],
	}
}

func (r *Robot) LeftFront() *Wheel  { return r.wheels[0] }
func (r *Robot) LeftBack() *Wheel   { return r.wheels[1] }
func (r *Robot) RightFront() *Wheel { return r.wheels[2] }
func (r *Robot) RightBack() *Wheel  { return r.wheels[3] }

// IMU returns the simulated heading sensor.
func (r *Robot) IMU() *IMU {
	return r.imu
}

// SetHeading teleports the chassis to a heading.
func (r *Robot) SetHeading(deg float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.update()
	r.attitude = imu.FromYawDegrees(deg)
}

// Pose returns the simulated field pose.
func (r *Robot) Pose() Pose {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.update()
	return Pose{X: r.x, Y: r.y, YawDegrees: imu.YawDegrees(r.attitude)}
}

// poll advances a mock clock by one tick. Must not hold mu.
func (r *Robot) poll() {
	if r.mock != nil && r.cfg.Tick > 0 {
		r.mock.Add(r.cfg.Tick)
	}
}

// update integrates the model up to now. Must hold mu.
func (r *Robot) update() {
	now := r.clk.Now()
	dt := now.Sub(r.last).Seconds()
	r.last = now
	if dt <= 0 {
		return
	}

	effective := make([]float64, len(r.wheels))
	for i, w := range r.wheels {
		effective[i] = w.effectivePower()
		w.advance(effective[i]*r.cfg.MaxTicksPerSecond*dt, w.mode == drivetrain.RunToPosition)
	}

	body := matrix.Product(r.kin, matrix.MakeDenseMatrix(effective, 4, 1))
	vx, vy, turn := body.Get(0, 0), body.Get(1, 0), body.Get(2, 0)

	yaw := imu.YawDegrees(r.attitude) * math.Pi / 180
	speed := r.cfg.MaxInchesPerSecond * dt
	r.x += speed * (vx*math.Cos(yaw) - vy*math.Sin(yaw))
	r.y += speed * (vx*math.Sin(yaw) + vy*math.Cos(yaw))

	// Positive turn command spins clockwise.
	r.attitude = imu.Rotate(r.attitude, -turn*r.cfg.MaxYawRateDegPerSec*dt)
}
