package drivetrain

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestComputeWheelPowers(t *testing.T) {
	t.Run("pure x translation is symmetric", func(t *testing.T) {
		p := ComputeWheelPowers(1, 0, 0)
		test.That(t, math.Abs(p.LeftFront), test.ShouldAlmostEqual, math.Abs(p.RightBack), 1e-12)
		test.That(t, math.Abs(p.LeftBack), test.ShouldAlmostEqual, math.Abs(p.RightFront), 1e-12)

		test.That(t, p.LeftFront, test.ShouldAlmostEqual, -math.Sqrt2/2, 1e-12)
		test.That(t, p.LeftBack, test.ShouldAlmostEqual, math.Sqrt2/2, 1e-12)
		test.That(t, p.RightFront, test.ShouldAlmostEqual, math.Sqrt2/2, 1e-12)
		test.That(t, p.RightBack, test.ShouldAlmostEqual, -math.Sqrt2/2, 1e-12)
	})

	t.Run("pure y translation drives all wheels together", func(t *testing.T) {
		p := ComputeWheelPowers(0, 1, 0)
		for _, v := range []float64{p.LeftFront, p.LeftBack, p.RightFront, p.RightBack} {
			test.That(t, v, test.ShouldAlmostEqual, -math.Sqrt2/2, 1e-12)
		}
	})

	t.Run("pure rotation has equal magnitudes", func(t *testing.T) {
		for _, turn := range []float64{0.5, -0.3, 1} {
			p := ComputeWheelPowers(0, 0, turn)
			for _, v := range []float64{p.LeftFront, p.LeftBack, p.RightFront, p.RightBack} {
				test.That(t, math.Abs(v), test.ShouldAlmostEqual, math.Abs(turn), 1e-12)
			}
			test.That(t, p.LeftFront, test.ShouldAlmostEqual, -turn, 1e-12)
			test.That(t, p.LeftBack, test.ShouldAlmostEqual, -turn, 1e-12)
			test.That(t, p.RightFront, test.ShouldAlmostEqual, turn, 1e-12)
			test.That(t, p.RightBack, test.ShouldAlmostEqual, turn, 1e-12)
		}
	})

	t.Run("zero command is a no-op", func(t *testing.T) {
		p := ComputeWheelPowers(0, 0, 0)
		for _, v := range []float64{p.LeftFront, p.LeftBack, p.RightFront, p.RightBack} {
			test.That(t, v, test.ShouldAlmostEqual, 0, 1e-12)
		}
	})

	t.Run("mixed command keeps the wiring map", func(t *testing.T) {
		p := DriveCommand{X: 0.3, Y: 0.4, Turn: 0.2}.WheelPowers()
		test.That(t, p.LeftFront, test.ShouldAlmostEqual, -0.694975, 1e-6)
		test.That(t, p.LeftBack, test.ShouldAlmostEqual, -0.270711, 1e-6)
		test.That(t, p.RightFront, test.ShouldAlmostEqual, 0.129289, 1e-6)
		test.That(t, p.RightBack, test.ShouldAlmostEqual, -0.294975, 1e-6)
	})
}
