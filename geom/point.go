// Package geom holds the point and cloud types the reconstruction pipeline passes between stages.
package geom

import (
	"fmt"
	"image/color"
	"math"

	"github.com/golang/geo/r3"
)

// Axis is a principal axis of the object coordinate system. Y is vertical.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// Point3D is a colored point. All transforming methods mutate the receiver.
type Point3D struct {
	X, Y, Z float32
	R, G, B uint8

	Confidence float32
}

func NewPoint(x, y, z float32) Point3D {
	return Point3D{X: x, Y: y, Z: z}
}

func NewColoredPoint(x, y, z float32, r, g, b uint8) Point3D {
	return Point3D{X: x, Y: y, Z: z, R: r, G: g, B: b}
}

// PointFromVector returns an uncolored point at v.
func PointFromVector(v r3.Vector) Point3D {
	return Point3D{X: float32(v.X), Y: float32(v.Y), Z: float32(v.Z)}
}

func (p Point3D) Vector() r3.Vector {
	return r3.Vector{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}
}

func (p Point3D) Color() color.NRGBA {
	return color.NRGBA{R: p.R, G: p.G, B: p.B, A: 255}
}

// Coord returns the coordinate along dimension dim (0, 1, 2).
func (p Point3D) Coord(dim int) float64 {
	switch dim {
	case 0:
		return float64(p.X)
	case 1:
		return float64(p.Y)
	case 2:
		return float64(p.Z)
	default:
		panic(fmt.Errorf("Point3D has no dimension %d", dim))
	}
}

func (p Point3D) Distance(o Point3D) float64 {
	return p.Vector().Distance(o.Vector())
}

// RotateAboutAxis rotates the point by angle radians about a principal axis through the origin.
func (p *Point3D) RotateAboutAxis(axis Axis, angle float64) {
	x, y, z := float64(p.X), float64(p.Y), float64(p.Z)
	c := math.Cos(angle)
	s := math.Sin(angle)

	switch axis {
	case AxisX:
		y, z = y*c-z*s, y*s+z*c
	case AxisY:
		x, z = x*c-z*s, x*s+z*c
	case AxisZ:
		x, y = x*c-y*s, x*s+y*c
	default:
		panic(fmt.Errorf("cannot rotate about %v", axis))
	}

	p.X, p.Y, p.Z = float32(x), float32(y), float32(z)
}

func (p *Point3D) Translate(dx, dy, dz float32) {
	p.X += dx
	p.Y += dy
	p.Z += dz
}

func (p *Point3D) Scale(sx, sy, sz float32) {
	p.X *= sx
	p.Y *= sy
	p.Z *= sz
}

// ApplyTransform replaces the position with t applied to it. Color and confidence are kept.
func (p *Point3D) ApplyTransform(t Transform) {
	v := t.Apply(p.Vector())
	p.X, p.Y, p.Z = float32(v.X), float32(v.Y), float32(v.Z)
}

func (p Point3D) String() string {
	return fmt.Sprintf("{%0.4f, %0.4f, %0.4f} [%d %d %d]", p.X, p.Y, p.Z, p.R, p.G, p.B)
}
