// Package imu holds orientation helpers shared by the heading sensors.
package imu

import (
	"math"

	"github.com/westphae/quaternion"
)

// YawDegrees returns the rotation of q about the vertical axis, in (-180, 180].
// Counter clockwise seen from above is positive.
func YawDegrees(q quaternion.Quaternion) float64 {
	siny := 2 * (q.W*q.Z + q.X*q.Y)
	cosy := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	return math.Atan2(siny, cosy) * 180 / math.Pi
}

// FromYawDegrees returns the unit quaternion for a pure rotation about the
// vertical axis.
func FromYawDegrees(deg float64) quaternion.Quaternion {
	half := deg * math.Pi / 360
	return quaternion.Quaternion{W: math.Cos(half), Z: math.Sin(half)}
}

// Rotate applies a further yaw rotation to q and renormalizes it.
func Rotate(q quaternion.Quaternion, deg float64) quaternion.Quaternion {
	return quaternion.Prod(q, FromYawDegrees(deg)).Unit()
}
