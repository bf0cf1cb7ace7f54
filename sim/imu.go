package sim

import (
	"github.com/pkg/errors"

	"mecanum/drivetrain"
	"mecanum/imu"
)

var errNotInitialized = errors.New("simulated imu not initialized")

// IMU is the simulated heading sensor of a Robot. It implements
// drivetrain.HeadingSensor.
type IMU struct {
	robot       *Robot
	initialized bool
	params      drivetrain.IMUParameters
	fail        error
}

func (i *IMU) Initialize(params drivetrain.IMUParameters) error {
	i.robot.mu.Lock()
	defer i.robot.mu.Unlock()
	if params.AngleUnit != drivetrain.Degrees {
		return errors.New("simulated imu only reports degrees")
	}
	i.params = params
	i.initialized = true
	return nil
}

// FailWith makes later reads return err. Nil clears it.
func (i *IMU) FailWith(err error) {
	i.robot.mu.Lock()
	defer i.robot.mu.Unlock()
	i.fail = err
}

func (i *IMU) YawDegrees() (float64, error) {
	i.robot.poll()
	i.robot.mu.Lock()
	defer i.robot.mu.Unlock()
	if !i.initialized {
		return 0, errNotInitialized
	}
	if i.fail != nil {
		return 0, i.fail
	}
	i.robot.update()
	return imu.YawDegrees(i.robot.attitude), nil
}
