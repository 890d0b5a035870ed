// Package kalman is a linear Kalman filter and the turntable rotation model built on it.
package kalman

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Setup configures a Filter. The generator functions are called every step with that step's dt.
type Setup struct {
	F func(dt float64) *mat.Dense
	B func(dt float64) *mat.Dense
	Q func(dt, processStdDev float64) *mat.Dense
	R func(measurementStdDev float64) *mat.Dense

	// H projects state onto measurement.
	H *mat.Dense

	X0 *mat.VecDense
	P0 *mat.Dense

	ProcessStdDev     float64
	MeasurementStdDev float64
}

// Filter keeps the state estimate X and its covariance P.
type Filter struct {
	setup Setup
	r     *mat.Dense

	x *mat.VecDense
	p *mat.Dense
}

func NewFilter(s Setup) (*Filter, error) {
	if s.F == nil || s.B == nil || s.Q == nil || s.R == nil {
		return nil, fmt.Errorf("kalman setup needs F, B, Q and R generators")
	}
	if s.H == nil || s.X0 == nil || s.P0 == nil {
		return nil, fmt.Errorf("kalman setup needs H, X0 and P0")
	}
	n := s.X0.Len()
	if r, c := s.P0.Dims(); r != n || c != n {
		return nil, fmt.Errorf("P0 is %dx%d, state has %d elements", r, c, n)
	}
	if _, c := s.H.Dims(); c != n {
		return nil, fmt.Errorf("H has %d columns, state has %d elements", c, n)
	}

	return &Filter{
		setup: s,
		r:     s.R(s.MeasurementStdDev),
		x:     mat.VecDenseCopyOf(s.X0),
		p:     mat.DenseCopyOf(s.P0),
	}, nil
}

// Predict advances the state by dt under control input u.
//
//	X' = F X + B u
//	P' = F P Fᵀ + Q
func (f *Filter) Predict(dt float64, u mat.Vector) {
	fm := f.setup.F(dt)

	var x, bu mat.VecDense
	x.MulVec(fm, f.x)
	bu.MulVec(f.setup.B(dt), u)
	x.AddVec(&x, &bu)

	var fp, p mat.Dense
	fp.Mul(fm, f.p)
	p.Mul(&fp, fm.T())
	p.Add(&p, f.setup.Q(dt, f.setup.ProcessStdDev))

	f.x = &x
	f.p = &p
}

// Correct folds in measurement z. If the innovation covariance is singular the measurement
// carries no usable information and the prediction is kept.
//
//	y = z - H X'
//	S = H P' Hᵀ + R
//	K = P' Hᵀ S⁻¹
//	X = X' + K y
//	P = (I - K H) P'
func (f *Filter) Correct(z mat.Vector) {
	h := f.setup.H

	var hx, y mat.VecDense
	hx.MulVec(h, f.x)
	y.SubVec(z, &hx)

	var hp, s mat.Dense
	hp.Mul(h, f.p)
	s.Mul(&hp, h.T())
	s.Add(&s, f.r)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) && math.IsInf(float64(cond), 1) {
			return
		}
	}

	var pht, k mat.Dense
	pht.Mul(f.p, h.T())
	k.Mul(&pht, &sInv)

	var ky, x mat.VecDense
	ky.MulVec(&k, &y)
	x.AddVec(f.x, &ky)

	n := f.x.Len()
	var kh, ikh, p mat.Dense
	kh.Mul(&k, h)
	ikh.Sub(identity(n), &kh)
	p.Mul(&ikh, f.p)

	f.x = &x
	f.p = &p
}

// Update runs one predict and correct cycle and returns a copy of the new state.
func (f *Filter) Update(dt float64, z, u mat.Vector) *mat.VecDense {
	f.Predict(dt, u)
	f.Correct(z)
	return f.State()
}

func (f *Filter) State() *mat.VecDense {
	return mat.VecDenseCopyOf(f.x)
}

func (f *Filter) Covariance() *mat.Dense {
	return mat.DenseCopyOf(f.p)
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
