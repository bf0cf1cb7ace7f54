package mecanumbase

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
	rdkutils "go.viam.com/rdk/utils"

	"mecanum/drivetrain"
)

const headingReadTimeout = time.Second

// orientationSource is the part of a movement sensor used for heading.
type orientationSource interface {
	Orientation(ctx context.Context, extra map[string]interface{}) (spatialmath.Orientation, error)
}

// movementSensorHeading reads yaw from a movement sensor that reports
// orientation. It implements drivetrain.HeadingSensor.
type movementSensorHeading struct {
	name string
	ms   orientationSource
}

func (h *movementSensorHeading) Initialize(params drivetrain.IMUParameters) error {
	if params.AngleUnit != drivetrain.Degrees {
		return errors.Errorf("movement sensor %s heading is only read in degrees", h.name)
	}
	_, err := h.YawDegrees()
	return err
}

func (h *movementSensorHeading) YawDegrees() (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), headingReadTimeout)
	defer cancel()
	orient, err := h.ms.Orientation(ctx, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "reading orientation from %s", h.name)
	}
	// this returns (-180-> 180)
	return rdkutils.RadToDeg(orient.EulerAngles().Yaw), nil
}
