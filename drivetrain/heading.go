package drivetrain

import (
	"math"
	"time"
)

// AngleUnit selects the unit the sensor reports orientation in.
type AngleUnit int

const (
	Degrees AngleUnit = iota
	Radians
)

// IMUParameters configures a heading sensor on Init.
type IMUParameters struct {
	AngleUnit           AngleUnit
	CalibrationDataFile string
	LoggingEnabled      bool
	LoggingTag          string
}

// DefaultIMUParameters are the parameters Init passes to the heading sensor.
func DefaultIMUParameters() IMUParameters {
	return IMUParameters{
		AngleUnit:           Degrees,
		CalibrationDataFile: "BNO055IMUCalibration.json",
		LoggingEnabled:      true,
		LoggingTag:          "IMU",
	}
}

// HeadingSensor reports the robot yaw in degrees, in (-180, 180].
type HeadingSensor interface {
	Initialize(params IMUParameters) error
	YawDegrees() (float64, error)
}

// AccelerationIntegrator is implemented by sensors that can integrate
// acceleration in the background. The control loops never read it.
type AccelerationIntegrator interface {
	StartAccelerationIntegration(interval time.Duration) error
}

const accelIntegrationInterval = time.Second

// headingTolerance is the error, in degrees, under which a turn is complete.
const headingTolerance = 0.1

// normalizeDegrees maps an angle into (-180, 180].
func normalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg > 180 {
		deg -= 360
	} else if deg <= -180 {
		deg += 360
	}
	return deg
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
