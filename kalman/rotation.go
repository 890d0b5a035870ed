package kalman

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/erh/turntablescan/diag"
	"github.com/erh/turntablescan/geom"
)

// RotationModel is a turntable spinning down under friction. State is [θ, ω].
type RotationModel struct {
	ProcessStdDev     float64 `json:"process_std_dev,omitempty"`
	MeasurementStdDev float64 `json:"measurement_std_dev,omitempty"`

	// Friction is the bearing friction coefficient μ; the table decelerates at 4μg/3R.
	Friction float64 `json:"friction,omitempty"`
	Gravity  float64 `json:"gravity,omitempty"`

	InitialCovariance float64 `json:"initial_covariance,omitempty"`
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func (m RotationModel) processStdDev() float64     { return orDefault(m.ProcessStdDev, 0.20) }
func (m RotationModel) measurementStdDev() float64 { return orDefault(m.MeasurementStdDev, 0.01) }
func (m RotationModel) friction() float64          { return orDefault(m.Friction, 0.003) }
func (m RotationModel) gravity() float64           { return orDefault(m.Gravity, 9.80665) }
func (m RotationModel) initialCovariance() float64 { return orDefault(m.InitialCovariance, 10) }

// Deceleration is the constant angular acceleration, always negative, for a table of radius r.
func (m RotationModel) Deceleration(r float64) float64 {
	return -4 * m.friction() * m.gravity() / (3 * r)
}

// Setup builds the constant acceleration filter for this model.
func (m RotationModel) Setup() Setup {
	c := m.initialCovariance()
	return Setup{
		F: func(dt float64) *mat.Dense {
			return mat.NewDense(2, 2, []float64{1, dt, 0, 1})
		},
		B: func(dt float64) *mat.Dense {
			return mat.NewDense(2, 1, []float64{0.5 * dt * dt, dt})
		},
		Q: func(dt, sigma float64) *mat.Dense {
			dt2 := dt * dt
			dt3 := dt2 * dt
			q := mat.NewDense(2, 2, []float64{0.25 * dt2 * dt2, 0.5 * dt3, 0.5 * dt3, dt2})
			q.Scale(sigma*sigma, q)
			return q
		},
		R: func(sigma float64) *mat.Dense {
			return mat.NewDense(1, 1, []float64{sigma * sigma})
		},
		H:                 mat.NewDense(1, 2, []float64{1, 0}),
		X0:                mat.NewVecDense(2, nil),
		P0:                mat.NewDense(2, 2, []float64{c, 0, 0, c}),
		ProcessStdDev:     m.processStdDev(),
		MeasurementStdDev: m.measurementStdDev(),
	}
}

// Step is what one observation did to the estimate.
type Step struct {
	Timestamp float64
	Dt        float64
	Dx        float64
	DTheta    float64

	// Theta is the cumulative measured angle, the sum of every DTheta so far.
	Theta float64

	FilteredTheta float64
	FilteredOmega float64
}

// RotationEstimator turns rotation marker positions into a filtered cumulative turntable angle.
// The first observation is the reference: it contributes no displacement.
type RotationEstimator struct {
	filter *Filter
	radius float64
	accel  *mat.VecDense

	measured float64
	theta    float64
	last     geom.Point3D
	lastTime float64
	started  bool

	diag *diag.Recorder
}

func NewRotationEstimator(model RotationModel, turntableRadius float64, rec *diag.Recorder) (*RotationEstimator, error) {
	if turntableRadius <= 0 {
		return nil, fmt.Errorf("turntable radius must be positive, got %v", turntableRadius)
	}
	f, err := NewFilter(model.Setup())
	if err != nil {
		return nil, err
	}
	return &RotationEstimator{
		filter: f,
		radius: turntableRadius,
		accel:  mat.NewVecDense(1, []float64{model.Deceleration(turntableRadius)}),
		diag:   rec,
	}, nil
}

// Observe feeds the rotation marker position seen at timestamp. offset is that marker's fixed
// rotational offset; the position is turned by it so every marker reports the same angle.
func (re *RotationEstimator) Observe(timestamp float64, marker geom.Point3D, offset float64) Step {
	s := geom.ToSpherical(marker)
	s.Azimuthal += offset
	x := s.Cartesian()

	step := Step{Timestamp: timestamp}
	if re.started {
		step.Dx = x.Distance(re.last)
		step.Dt = timestamp - re.lastTime
	}
	step.DTheta = step.Dx / re.radius

	re.measured += step.DTheta
	step.Theta = re.measured

	state := re.filter.Update(step.Dt, mat.NewVecDense(1, []float64{re.measured}), re.accel)
	step.FilteredTheta = state.AtVec(0)
	step.FilteredOmega = state.AtVec(1)

	re.theta = step.FilteredTheta
	re.last = x
	re.lastTime = timestamp
	re.started = true

	re.diag.Filter(diag.FilterRow{
		Timestamp: step.Timestamp,
		Dt:        step.Dt,
		Dx:        step.Dx,
		DTheta:    step.DTheta,
		Theta:     step.Theta,
		ThetaKF:   step.FilteredTheta,
		OmegaKF:   step.FilteredOmega,
	})

	return step
}

// Theta is the current filtered cumulative angle.
func (re *RotationEstimator) Theta() float64 {
	return re.theta
}
