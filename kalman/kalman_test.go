package kalman

import (
	"math"
	"math/rand"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/erh/turntablescan/geom"
)

func noiselessSetup() Setup {
	s := RotationModel{}.Setup()
	s.ProcessStdDev = 0
	s.MeasurementStdDev = 0
	return s
}

func TestNoiselessFilterFindsTrajectory(t *testing.T) {
	f, err := NewFilter(noiselessSetup())
	test.That(t, err, test.ShouldBeNil)

	noControl := mat.NewVecDense(1, []float64{0})

	x := f.Update(1, mat.NewVecDense(1, []float64{2}), noControl)
	test.That(t, x.AtVec(0), test.ShouldAlmostEqual, 2, 1e-12)
	test.That(t, x.AtVec(1), test.ShouldAlmostEqual, 1, 1e-12)

	// true trajectory is θ = 2t, ω = 2
	for k := 2; k <= 6; k++ {
		x = f.Update(1, mat.NewVecDense(1, []float64{2 * float64(k)}), noControl)
		test.That(t, x.AtVec(0), test.ShouldAlmostEqual, 2*float64(k), 1e-9)
		test.That(t, x.AtVec(1), test.ShouldAlmostEqual, 2, 1e-9)
	}

	p := f.Covariance()
	test.That(t, mat.Norm(p, 1), test.ShouldAlmostEqual, 0, 1e-9)
}

func TestFilterTracksNoisyMeasurements(t *testing.T) {
	s := RotationModel{}.Setup()
	f, err := NewFilter(s)
	test.That(t, err, test.ShouldBeNil)

	r := rand.New(rand.NewSource(7))
	noControl := mat.NewVecDense(1, []float64{0})
	dt := 1.0 / 30
	var x *mat.VecDense
	for k := 1; k <= 300; k++ {
		truth := 0.5 * float64(k) * dt
		z := truth + r.NormFloat64()*0.005
		x = f.Update(dt, mat.NewVecDense(1, []float64{z}), noControl)
	}
	test.That(t, x.AtVec(0), test.ShouldAlmostEqual, 0.5*300*dt, 0.02)
}

func TestNewFilterValidates(t *testing.T) {
	s := RotationModel{}.Setup()
	s.H = mat.NewDense(1, 3, nil)
	_, err := NewFilter(s)
	test.That(t, err, test.ShouldNotBeNil)

	s = RotationModel{}.Setup()
	s.F = nil
	_, err = NewFilter(s)
	test.That(t, err, test.ShouldNotBeNil)

	s = RotationModel{}.Setup()
	s.P0 = mat.NewDense(3, 3, nil)
	_, err = NewFilter(s)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRotationModelDefaults(t *testing.T) {
	m := RotationModel{}
	test.That(t, m.Deceleration(0.15), test.ShouldAlmostEqual, -4*0.003*9.80665/(3*0.15), 1e-12)

	s := m.Setup()
	q := s.Q(2, 0.5)
	test.That(t, q.At(0, 0), test.ShouldAlmostEqual, 4*0.25, 1e-12)
	test.That(t, q.At(0, 1), test.ShouldAlmostEqual, 4*0.25, 1e-12)
	test.That(t, q.At(1, 1), test.ShouldAlmostEqual, 4*0.25, 1e-12)
	test.That(t, s.R(0.01).At(0, 0), test.ShouldAlmostEqual, 0.0001, 1e-12)
	test.That(t, s.P0.At(1, 1), test.ShouldEqual, 10.0)
}

func TestRotationEstimator(t *testing.T) {
	_, err := NewRotationEstimator(RotationModel{}, 0, nil)
	test.That(t, err, test.ShouldNotBeNil)

	radius := 0.15
	re, err := NewRotationEstimator(RotationModel{}, radius, nil)
	test.That(t, err, test.ShouldBeNil)

	at := func(angle float64) geom.Point3D {
		return geom.NewPoint(float32(radius*math.Cos(angle)), 0.02, float32(radius*math.Sin(angle)))
	}

	first := re.Observe(0, at(0), 0)
	test.That(t, first.Dx, test.ShouldEqual, 0.0)
	test.That(t, first.Dt, test.ShouldEqual, 0.0)
	test.That(t, first.FilteredTheta, test.ShouldAlmostEqual, 0, 1e-9)

	omega := 0.3
	dt := 1.0 / 30
	var step Step
	for k := 1; k <= 150; k++ {
		step = re.Observe(float64(k)*dt, at(omega*float64(k)*dt), 0)
	}
	test.That(t, step.Dt, test.ShouldAlmostEqual, dt, 1e-12)
	// the chord of a small turn is nearly its arc
	test.That(t, step.DTheta, test.ShouldAlmostEqual, omega*dt, 1e-4)
	test.That(t, re.Theta(), test.ShouldAlmostEqual, omega*150*dt, 0.05)
	test.That(t, step.FilteredOmega, test.ShouldBeGreaterThan, 0)
}

func TestRotationEstimatorOffsets(t *testing.T) {
	radius := 0.15
	p := geom.NewPoint(float32(radius), 0.02, 0)

	plain, err := NewRotationEstimator(RotationModel{}, radius, nil)
	test.That(t, err, test.ShouldBeNil)
	offset, err := NewRotationEstimator(RotationModel{}, radius, nil)
	test.That(t, err, test.ShouldBeNil)

	// a marker a quarter turn ahead, reported with a quarter turn offset, sits on the same spot
	q := geom.NewPoint(0, 0.02, float32(-radius))
	plain.Observe(0, p, 0)
	offset.Observe(0, q, math.Pi/2)

	p2 := p
	p2.RotateAboutAxis(geom.AxisY, -0.05)
	q2 := q
	q2.RotateAboutAxis(geom.AxisY, -0.05)

	a := plain.Observe(0.1, p2, 0)
	b := offset.Observe(0.1, q2, math.Pi/2)
	test.That(t, b.Dx, test.ShouldAlmostEqual, a.Dx, 1e-6)
	test.That(t, b.FilteredTheta, test.ShouldAlmostEqual, a.FilteredTheta, 1e-6)
}
