package mecanumbase

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"mecanum/drivetrain"
	"mecanum/imu/bno055"
	"mecanum/telemetry"
	"mecanum/wheelcan"
)

const (
	defaultWidthMm          = 528.580
	defaultMaxSpeedMmPerSec = 600.0
	defaultMaxDegsPerSec    = 180.0
	defaultDriveTimeout     = 10 * time.Second
	defaultTurnTimeout      = 5 * time.Second
	defaultPollInterval     = 5 * time.Millisecond

	maxI2CAddress = 0x7F
)

// WheelCANIDs are the command frame IDs of the wheel controllers.
type WheelCANIDs struct {
	LeftFront  uint32 `json:"left_front"`
	LeftBack   uint32 `json:"left_back"`
	RightFront uint32 `json:"right_front"`
	RightBack  uint32 `json:"right_back"`
}

// Config is how you configure a mecanum drivetrain base.
type Config struct {
	// Wheels.
	CANChannel  string       `json:"can_channel,omitempty"`
	WheelCANIDs *WheelCANIDs `json:"wheel_can_ids,omitempty"`
	MaxRPM      float64      `json:"max_rpm,omitempty"`
	Simulated   bool         `json:"simulated,omitempty"`

	// Encoder calibration. Zero keeps the hardware default.
	CountsPerMotorRev float64 `json:"counts_per_motor_rev,omitempty"`
	GearReduction     float64 `json:"gear_reduction,omitempty"`
	WheelDiameterIn   float64 `json:"wheel_diameter_in,omitempty"`
	WidthMm           float64 `json:"width_mm,omitempty"`

	// Heading. A movement sensor replaces the on-board BNO055.
	MovementSensor string `json:"movement_sensor,omitempty"`
	IMUI2CBus      *int   `json:"imu_i2c_bus,omitempty"`
	IMUI2CAddress  *int   `json:"imu_i2c_address,omitempty"`

	// Motion. Without ShortestPathTurn the turn loop compares raw headings, so
	// a Spin whose target crosses the +/-180 degree seam never settles and
	// times out.
	ShortestPathTurn bool    `json:"shortest_path_turn,omitempty"`
	MaxSpeedMmPerSec float64 `json:"max_speed_mm_per_sec,omitempty"`
	MaxDegsPerSec    float64 `json:"max_degs_per_sec,omitempty"`
	DriveTimeoutSec  float64 `json:"drive_timeout_sec,omitempty"`
	TurnTimeoutSec   float64 `json:"turn_timeout_sec,omitempty"`
	PollIntervalMs   *int    `json:"poll_interval_ms,omitempty"`

	// Telemetry.
	MQTT            *telemetry.MQTTConfig `json:"mqtt,omitempty"`
	TelemetryWSAddr string                `json:"telemetry_ws_addr,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) ([]string, error) {
	var deps []string

	for name, v := range map[string]float64{
		"max_rpm":              cfg.MaxRPM,
		"counts_per_motor_rev": cfg.CountsPerMotorRev,
		"gear_reduction":       cfg.GearReduction,
		"wheel_diameter_in":    cfg.WheelDiameterIn,
		"width_mm":             cfg.WidthMm,
		"max_speed_mm_per_sec": cfg.MaxSpeedMmPerSec,
		"max_degs_per_sec":     cfg.MaxDegsPerSec,
		"drive_timeout_sec":    cfg.DriveTimeoutSec,
		"turn_timeout_sec":     cfg.TurnTimeoutSec,
	} {
		if v < 0 {
			return nil, utils.NewConfigValidationError(path, fmt.Errorf("%s cannot be negative, got %v", name, v))
		}
	}
	if cfg.PollIntervalMs != nil && *cfg.PollIntervalMs < 0 {
		return nil, utils.NewConfigValidationError(path, errors.New("poll_interval_ms cannot be negative"))
	}

	if cfg.WheelCANIDs != nil {
		ids := cfg.WheelCANIDs
		if ids.LeftFront == 0 || ids.LeftBack == 0 || ids.RightFront == 0 || ids.RightBack == 0 {
			return nil, utils.NewConfigValidationError(path, errors.New("wheel_can_ids needs all four wheels"))
		}
	}

	if cfg.MovementSensor != "" {
		if cfg.IMUI2CBus != nil || cfg.IMUI2CAddress != nil {
			return nil, utils.NewConfigValidationError(path,
				errors.New("set either movement_sensor or the imu_i2c attributes, not both"))
		}
		deps = append(deps, cfg.MovementSensor)
	}
	if cfg.IMUI2CBus != nil && *cfg.IMUI2CBus < 0 {
		return nil, utils.NewConfigValidationError(path, errors.New("imu_i2c_bus cannot be negative"))
	}
	if cfg.IMUI2CAddress != nil && (*cfg.IMUI2CAddress < 0 || *cfg.IMUI2CAddress > maxI2CAddress) {
		return nil, utils.NewConfigValidationError(path,
			fmt.Errorf("imu_i2c_address must be a 7 bit address, got %#x", *cfg.IMUI2CAddress))
	}

	if cfg.MQTT != nil && cfg.MQTT.Broker == "" {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "mqtt.broker")
	}

	return deps, nil
}

func (cfg *Config) calibration() drivetrain.Calibration {
	cal := wheelcan.Calibration()
	if cfg.Simulated {
		cal = drivetrain.DefaultCalibration()
	}
	if cfg.CountsPerMotorRev > 0 {
		cal.CountsPerMotorRev = cfg.CountsPerMotorRev
	}
	if cfg.GearReduction > 0 {
		cal.GearReduction = cfg.GearReduction
	}
	if cfg.WheelDiameterIn > 0 {
		cal.WheelDiameterInches = cfg.WheelDiameterIn
	}
	return cal
}

func (cfg *Config) canConfig() wheelcan.Config {
	out := wheelcan.Config{Channel: cfg.CANChannel, MaxRPM: cfg.MaxRPM}
	if ids := cfg.WheelCANIDs; ids != nil {
		out.IDs = wheelcan.WheelIDs{
			LeftFront:  ids.LeftFront,
			LeftBack:   ids.LeftBack,
			RightFront: ids.RightFront,
			RightBack:  ids.RightBack,
		}
	}
	return out
}

func (cfg *Config) imuBus() (busNumber, addr byte) {
	busNumber, addr = bno055.DefaultBus, bno055.DefaultAddress
	if cfg.IMUI2CBus != nil {
		busNumber = byte(*cfg.IMUI2CBus)
	}
	if cfg.IMUI2CAddress != nil {
		addr = byte(*cfg.IMUI2CAddress)
	}
	return busNumber, addr
}

func orDefault(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func (cfg *Config) widthMm() float64 {
	return orDefault(cfg.WidthMm, defaultWidthMm)
}

func (cfg *Config) maxSpeedMmPerSec() float64 {
	return orDefault(cfg.MaxSpeedMmPerSec, defaultMaxSpeedMmPerSec)
}

func (cfg *Config) maxDegsPerSec() float64 {
	return orDefault(cfg.MaxDegsPerSec, defaultMaxDegsPerSec)
}

func (cfg *Config) driveTimeout() time.Duration {
	return secondsOr(cfg.DriveTimeoutSec, defaultDriveTimeout)
}

func (cfg *Config) turnTimeout() time.Duration {
	return secondsOr(cfg.TurnTimeoutSec, defaultTurnTimeout)
}

func (cfg *Config) pollInterval() time.Duration {
	if cfg.PollIntervalMs == nil {
		return defaultPollInterval
	}
	return time.Duration(*cfg.PollIntervalMs) * time.Millisecond
}

func secondsOr(sec float64, def time.Duration) time.Duration {
	if sec > 0 {
		return time.Duration(sec * float64(time.Second))
	}
	return def
}
