package frames

import (
	"fmt"
	"image"

	"github.com/golang/geo/r3"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/rimage/transform"
)

// Mapper turns one depth sample into a camera space point (meters, Y up, Z away from the camera)
// and the color frame pixel that sees it. ok is false when the sample has no valid point.
type Mapper interface {
	DepthToWorld(x, y int, depth uint16) (p r3.Vector, colorPixel image.Point, ok bool)
}

// KinectProperties are nominal intrinsics for a 640x480 structured light sensor.
var KinectProperties = camera.Properties{
	SupportsPCD:      true,
	IntrinsicParams:  &transform.PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 585.0, Fy: 585.0, Ppx: 319.5, Ppy: 239.5},
	DistortionParams: &transform.BrownConrady{},
}

// PinholeMapper maps with pinhole intrinsics. The color camera is assumed to share the depth
// camera's optical center; only its intrinsics may differ.
type PinholeMapper struct {
	Depth camera.Properties

	// Color intrinsics; nil means the color frame is registered to the depth frame.
	Color *transform.PinholeCameraIntrinsics

	// DepthUnit is meters per depth count, 0.001 when zero.
	DepthUnit float64

	// Iterative inverts Brown-Conrady distortion by fixed point iteration, the way librealsense
	// deprojects, instead of applying the distortion model forward.
	Iterative bool
}

func NewPinholeMapper(depth camera.Properties, color *transform.PinholeCameraIntrinsics) (*PinholeMapper, error) {
	if depth.IntrinsicParams == nil {
		return nil, fmt.Errorf("depth camera needs intrinsic parameters")
	}
	if err := depth.IntrinsicParams.CheckValid(); err != nil {
		return nil, err
	}
	return &PinholeMapper{Depth: depth, Color: color}, nil
}

func (pm *PinholeMapper) unit() float64 {
	if pm.DepthUnit == 0 {
		return 0.001
	}
	return pm.DepthUnit
}

func (pm *PinholeMapper) colorIntrinsics() *transform.PinholeCameraIntrinsics {
	if pm.Color == nil {
		return pm.Depth.IntrinsicParams
	}
	return pm.Color
}

func (pm *PinholeMapper) DepthToWorld(x, y int, depth uint16) (r3.Vector, image.Point, bool) {
	if depth == 0 {
		return r3.Vector{}, image.Point{}, false
	}

	px, py, pz := pm.deproject(float64(x), float64(y), float64(depth))

	ci := pm.colorIntrinsics()
	cx, cy := ci.PointToPixel(px, py, pz)
	cp := image.Point{int(cx), int(cy)}
	if !cp.In(image.Rect(0, 0, ci.Width, ci.Height)) {
		return r3.Vector{}, image.Point{}, false
	}

	u := pm.unit()
	return r3.Vector{X: px * u, Y: -py * u, Z: pz * u}, cp, true
}

// deproject returns the depth camera space point, in depth units, seen at pixel (x, y).
func (pm *PinholeMapper) deproject(x, y, depth float64) (float64, float64, float64) {
	intrin := pm.Depth.IntrinsicParams
	brown, isBrown := pm.Depth.DistortionParams.(*transform.BrownConrady)

	if !pm.Iterative || !isBrown {
		px, py, pz := intrin.PixelToPoint(x, y, depth)
		if pm.Depth.DistortionParams != nil {
			px, py = pm.Depth.DistortionParams.Transform(px, py)
		}
		return px, py, pz
	}

	nx, ny := undistort(brown, (x-intrin.Ppx)/intrin.Fx, (y-intrin.Ppy)/intrin.Fy)
	return depth * nx, depth * ny, depth
}

// undistort inverts the distortion of normalized image coordinates (x0, y0).
func undistort(b *transform.BrownConrady, x0, y0 float64) (float64, float64) {
	x, y := x0, y0
	for i := 0; i < 10; i++ {
		r2 := x*x + y*y
		scale := 1 / (1 + ((b.TangentialP2*r2+b.RadialK2)*r2+b.RadialK1)*r2)
		dx := 2*b.RadialK3*x*y + b.TangentialP1*(r2+2*x*x)
		dy := 2*b.TangentialP1*x*y + b.RadialK3*(r2+2*y*y)
		x = (x0 - dx) * scale
		y = (y0 - dy) * scale
	}
	return x, y
}
