package drivetrain

import "math"

// Defaults for a NeverRest 40 on 4 inch mecanum wheels.
const (
	DefaultCountsPerMotorRev   = 1120
	DefaultGearReduction       = 1.0
	DefaultWheelDiameterInches = 4.0

	// DriveSpeed is the usual power for encoder driving.
	DriveSpeed = 0.5
	// TurnSpeed is the usual power for IMU turns.
	TurnSpeed = 0.4
)

// Calibration converts between encoder ticks and linear wheel travel.
type Calibration struct {
	CountsPerMotorRev   float64
	GearReduction       float64 // < 1.0 if geared up
	WheelDiameterInches float64
}

// DefaultCalibration returns the calibration of the stock drivetrain.
func DefaultCalibration() Calibration {
	return Calibration{
		CountsPerMotorRev:   DefaultCountsPerMotorRev,
		GearReduction:       DefaultGearReduction,
		WheelDiameterInches: DefaultWheelDiameterInches,
	}
}

// CountsPerInch is the number of encoder ticks per inch of wheel travel.
func (c Calibration) CountsPerInch() float64 {
	return c.CountsPerMotorRev * c.GearReduction / (c.WheelDiameterInches * math.Pi)
}

// InchesToTicks returns the nearest whole tick count for a distance.
func (c Calibration) InchesToTicks(inches float64) int {
	return int(math.Round(inches * c.CountsPerInch()))
}

// TicksToInches converts a tick count back to inches.
func (c Calibration) TicksToInches(ticks int) float64 {
	return float64(ticks) / c.CountsPerInch()
}

func (c Calibration) valid() bool {
	return c.CountsPerMotorRev > 0 && c.GearReduction > 0 && c.WheelDiameterInches > 0
}
