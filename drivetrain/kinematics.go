package drivetrain

import "math"

// DriveCommand is a joystick style drive intent. Each axis is in [-1, 1].
type DriveCommand struct {
	X    float64
	Y    float64
	Turn float64
}

// WheelPowers holds one signed power in [-1, 1] per wheel.
type WheelPowers struct {
	LeftFront  float64
	LeftBack   float64
	RightFront float64
	RightBack  float64
}

// WheelPowers maps the command onto the four wheels.
func (cmd DriveCommand) WheelPowers() WheelPowers {
	return ComputeWheelPowers(cmd.X, cmd.Y, cmd.Turn)
}

// ComputeWheelPowers converts a drive vector and a turn rate into per wheel powers
// using mecanum inverse kinematics.
//
// The negated, crossed output assignment matches the roller orientation and motor
// wiring of the chassis. Changing it reverses the direction of motion on the robot.
func ComputeWheelPowers(x, y, turn float64) WheelPowers {
	r := math.Hypot(x, y)
	robotAngle := math.Atan2(y, x) - math.Pi/4

	v1 := r*math.Cos(robotAngle) + turn
	v2 := r*math.Sin(robotAngle) - turn
	v3 := r*math.Sin(robotAngle) + turn
	v4 := r*math.Cos(robotAngle) - turn

	return WheelPowers{
		LeftFront:  -v1,
		LeftBack:   -v3,
		RightFront: -v2,
		RightBack:  -v4,
	}
}
