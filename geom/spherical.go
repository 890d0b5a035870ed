package geom

import "math"

// Spherical coordinates around the vertical axis: Polar is measured from +Y,
// Azimuthal from +X towards +Z.
type Spherical struct {
	Radius    float64
	Polar     float64
	Azimuthal float64
}

func ToSpherical(p Point3D) Spherical {
	x, y, z := float64(p.X), float64(p.Y), float64(p.Z)
	return Spherical{
		Radius:    math.Sqrt(x*x + y*y + z*z),
		Polar:     math.Atan2(math.Sqrt(x*x+z*z), y),
		Azimuthal: math.Atan2(z, x),
	}
}

func (s Spherical) Cartesian() Point3D {
	sinPolar := math.Sin(s.Polar)
	return NewPoint(
		float32(s.Radius*sinPolar*math.Cos(s.Azimuthal)),
		float32(s.Radius*math.Cos(s.Polar)),
		float32(s.Radius*sinPolar*math.Sin(s.Azimuthal)),
	)
}

// RadiusXZ is the distance of p from the vertical axis.
func RadiusXZ(p Point3D) float64 {
	x, z := float64(p.X), float64(p.Z)
	return math.Sqrt(x*x + z*z)
}
