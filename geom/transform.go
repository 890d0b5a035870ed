package geom

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Transform is a 4x4 homogeneous affine transform. The zero value is the identity.
type Transform struct {
	m *mat.Dense
}

func Identity() Transform {
	return Transform{m: identity4()}
}

func identity4() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// RotationTransform embeds a 3x3 rotation into a transform with no translation.
func RotationTransform(rot mat.Matrix) (Transform, error) {
	r, c := rot.Dims()
	if r != 3 || c != 3 {
		return Transform{}, fmt.Errorf("rotation must be 3x3, got %dx%d", r, c)
	}
	m := identity4()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, rot.At(i, j))
		}
	}
	return Transform{m: m}, nil
}

// RotationY is a rotation by theta radians about the vertical (turntable) axis.
func RotationY(theta float64) Transform {
	c := math.Cos(theta)
	s := math.Sin(theta)
	m := identity4()
	m.Set(0, 0, c)
	m.Set(0, 2, -s)
	m.Set(2, 0, s)
	m.Set(2, 2, c)
	return Transform{m: m}
}

func Translation(dx, dy, dz float64) Transform {
	m := identity4()
	m.Set(0, 3, dx)
	m.Set(1, 3, dy)
	m.Set(2, 3, dz)
	return Transform{m: m}
}

func (t Transform) dense() *mat.Dense {
	if t.m == nil {
		return identity4()
	}
	return t.m
}

// Matrix returns a copy of the underlying 4x4 matrix.
func (t Transform) Matrix() *mat.Dense {
	return mat.DenseCopyOf(t.dense())
}

func (t Transform) At(i, j int) float64 {
	return t.dense().At(i, j)
}

// Then returns the transform that applies t first and next second (next * t).
func (t Transform) Then(next Transform) Transform {
	var out mat.Dense
	out.Mul(next.dense(), t.dense())
	return Transform{m: &out}
}

// Compose chains transforms in application order: the first argument is applied first.
func Compose(ts ...Transform) Transform {
	out := Identity()
	for _, t := range ts {
		out = out.Then(t)
	}
	return out
}

func (t Transform) Apply(v r3.Vector) r3.Vector {
	if t.m == nil {
		return v
	}
	d := t.m.RawMatrix()
	row := func(i int) float64 {
		o := i * d.Stride
		return d.Data[o]*v.X + d.Data[o+1]*v.Y + d.Data[o+2]*v.Z + d.Data[o+3]
	}
	return r3.Vector{X: row(0), Y: row(1), Z: row(2)}
}

// AlmostEqual compares element-wise within tol.
func (t Transform) AlmostEqual(o Transform, tol float64) bool {
	return mat.EqualApprox(t.dense(), o.dense(), tol)
}

func (t Transform) String() string {
	return fmt.Sprintf("%v", mat.Formatted(t.dense(), mat.Squeeze()))
}
