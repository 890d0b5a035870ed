package geom

import "fmt"

// Volume is anything that can say whether a point lies inside it.
type Volume interface {
	ContainsPoint(p Point3D) bool
}

// Cylinder is aligned with the vertical (Y) axis and rests on Base.
type Cylinder struct {
	Base   Point3D `json:"base"`
	Height float32 `json:"height"`
	Radius float32 `json:"radius"`
}

// ContainsPoint is strict on every face.
func (c Cylinder) ContainsPoint(p Point3D) bool {
	bottom := c.Base.Y
	top := bottom + c.Height
	if p.Y <= bottom || p.Y >= top {
		return false
	}
	dx := p.X - c.Base.X
	dz := p.Z - c.Base.Z
	return dx*dx+dz*dz < c.Radius*c.Radius
}

func (c Cylinder) Validate() error {
	if c.Height <= 0 {
		return fmt.Errorf("cylinder height must be positive, got %v", c.Height)
	}
	if c.Radius <= 0 {
		return fmt.Errorf("cylinder radius must be positive, got %v", c.Radius)
	}
	return nil
}

// Cuboid is axis aligned; bounds are inclusive.
type Cuboid struct {
	Min Point3D `json:"min"`
	Max Point3D `json:"max"`
}

func (c Cuboid) ContainsPoint(p Point3D) bool {
	if p.X < c.Min.X || p.X > c.Max.X {
		return false
	}
	if p.Y < c.Min.Y || p.Y > c.Max.Y {
		return false
	}
	if p.Z < c.Min.Z || p.Z > c.Max.Z {
		return false
	}
	return true
}
