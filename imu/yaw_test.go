package imu

import (
	"testing"

	"github.com/westphae/quaternion"
	"go.viam.com/test"
)

func TestYawRoundTrip(t *testing.T) {
	for _, deg := range []float64{0, 10, 89.5, 179, -179, -90, -0.25} {
		test.That(t, YawDegrees(FromYawDegrees(deg)), test.ShouldAlmostEqual, deg, 1e-9)
	}
}

func TestYawHalfTurn(t *testing.T) {
	test.That(t, YawDegrees(FromYawDegrees(180)), test.ShouldAlmostEqual, 180, 1e-9)
	test.That(t, YawDegrees(quaternion.Quaternion{W: 1}), test.ShouldEqual, 0)
}

func TestRotateWraps(t *testing.T) {
	q := FromYawDegrees(170)
	q = Rotate(q, 15)
	test.That(t, YawDegrees(q), test.ShouldAlmostEqual, -175, 1e-9)

	q = Rotate(q, -30)
	test.That(t, YawDegrees(q), test.ShouldAlmostEqual, 155, 1e-9)
}
