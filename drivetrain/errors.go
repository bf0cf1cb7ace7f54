package drivetrain

import "github.com/pkg/errors"

var (
	// ErrHardwareUnavailable is returned when an actuator or the heading sensor is missing.
	ErrHardwareUnavailable = errors.New("drivetrain hardware unavailable")
	// ErrNotInitialized is returned when a motion command arrives before Init.
	ErrNotInitialized = errors.New("drivetrain not initialized")
	// ErrBusy is returned when a blocking motion is already running.
	ErrBusy = errors.New("drivetrain is already running a motion")
	// ErrInvalidTimeout is returned for a non-positive timeout.
	ErrInvalidTimeout = errors.New("timeout must be positive")
	// ErrInvalidCalibration is returned when a calibration constant is not positive.
	ErrInvalidCalibration = errors.New("calibration constants must be positive")
)
