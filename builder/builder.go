// Package builder turns one frame into a clipped, object space point cloud and picks the marker
// that best tracks the turntable's rotation in that frame.
package builder

import (
	"image"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/rdk/logging"

	"github.com/erh/turntablescan/calibration"
	"github.com/erh/turntablescan/diag"
	"github.com/erh/turntablescan/frames"
	"github.com/erh/turntablescan/geom"
)

// ErrNoConfidentMarker means no detected marker sat close enough to the turntable rim to trust.
// The frame produces no cloud.
var ErrNoConfidentMarker = errors.New("no marker with positive confidence")

// DefaultClippingVolume is the working volume above the turntable.
var DefaultClippingVolume = geom.Cylinder{Base: geom.NewPoint(0, 0.01, 0), Height: 0.3, Radius: 0.10}

type Config struct {
	// ConfidenceTolerance is how far, in meters, a marker may be from the rim before confidence reaches 0.
	ConfidenceTolerance float64 `json:"confidence_tolerance,omitempty"`

	ClippingVolume *geom.Cylinder `json:"clipping_volume,omitempty"`

	// MarkerPixelTolerance is how far, in color pixels, the depth sample used for a marker may
	// land from the detected centroid.
	MarkerPixelTolerance int `json:"marker_pixel_tolerance,omitempty"`
}

func (c Config) Validate() error {
	if c.ConfidenceTolerance < 0 {
		return errors.Errorf("confidence tolerance cannot be negative, got %v", c.ConfidenceTolerance)
	}
	if c.ClippingVolume != nil {
		return c.ClippingVolume.Validate()
	}
	return nil
}

func (c Config) confidenceTolerance() float64 {
	if c.ConfidenceTolerance <= 0 {
		return 0.08
	}
	return c.ConfidenceTolerance
}

func (c Config) clippingVolume() geom.Cylinder {
	if c.ClippingVolume == nil {
		return DefaultClippingVolume
	}
	return *c.ClippingVolume
}

func (c Config) markerPixelTolerance() int {
	if c.MarkerPixelTolerance <= 0 {
		return 2
	}
	return c.MarkerPixelTolerance
}

// RotationMarker is the marker chosen to measure rotation, in object space, with its confidence set.
type RotationMarker struct {
	Marker   calibration.TrackingMarker
	Position geom.Point3D
}

type Builder struct {
	cal    *calibration.Calibration
	mapper frames.Mapper
	cfg    Config

	diag   *diag.Recorder
	logger logging.Logger
}

func NewBuilder(cal *calibration.Calibration, mapper frames.Mapper, cfg Config, rec *diag.Recorder, logger logging.Logger) *Builder {
	return &Builder{cal: cal, mapper: mapper, cfg: cfg, diag: rec, logger: logger}
}

// Confidence scores how well a point at p matches the calibrated rim: 1 on the rim, falling
// linearly to 0 at tolerance away from it, negative beyond.
func Confidence(p geom.Point3D, turntableRadius, tolerance float64) float64 {
	return 1 - math.Abs(geom.RadiusXZ(p)-turntableRadius)/tolerance
}

type markerHit struct {
	dist2 int
	point geom.Point3D
}

// Build back-projects f, moves it into object space and clips it. found holds the detected
// marker centroids by name. Returns ErrNoConfidentMarker when no marker can be trusted.
func (b *Builder) Build(f *frames.Frame, found map[string]image.Point) (*geom.PointCloud, RotationMarker, error) {
	depth := f.DecodedDepth()
	width := f.DepthFormat.Width
	colorBounds := f.ColorFormat.Bounds()
	tol := b.cfg.markerPixelTolerance()
	volume := b.cfg.clippingVolume()

	hits := map[string]*markerHit{}
	cloud := geom.NewPointCloud(len(depth) / 4)
	dropped := 0

	for i, d := range depth {
		v, cp, ok := b.mapper.DepthToWorld(i%width, i/width, d)
		if !ok || !cp.In(colorBounds) {
			continue
		}
		p := geom.PointFromVector(v)
		b.cal.ToObjectSpace(&p)

		for name, c := range found {
			dx, dy := cp.X-c.X, cp.Y-c.Y
			if dx < -tol || dx > tol || dy < -tol || dy > tol {
				continue
			}
			d2 := dx*dx + dy*dy
			if h, ok := hits[name]; !ok || d2 < h.dist2 {
				hits[name] = &markerHit{dist2: d2, point: p}
			}
		}

		if !volume.ContainsPoint(p) {
			dropped++
			continue
		}
		p.R, p.G, p.B = f.RGB(cp.X, cp.Y)
		cloud.Append(p)
	}

	best, ok := b.selectRotationMarker(hits)
	if !ok {
		b.logger.Debugf("frame %d: none of %d markers has positive confidence", f.Index, len(found))
		return nil, RotationMarker{}, ErrNoConfidentMarker
	}

	b.diag.Marker(f.Index, f.Timestamp, best.Position)
	b.diag.Cloud(f.Index, cloud)
	b.logger.Debugf("frame %d: %d points kept, %d clipped, rotation marker %s confidence %0.3f",
		f.Index, cloud.Len(), dropped, best.Marker.Name, best.Position.Confidence)

	return cloud, best, nil
}

// selectRotationMarker takes the most confident marker with positive confidence. Ties go to
// the marker listed first in the calibration.
func (b *Builder) selectRotationMarker(hits map[string]*markerHit) (RotationMarker, bool) {
	var best RotationMarker
	found := false
	for _, m := range b.cal.Markers {
		h, ok := hits[m.Name]
		if !ok {
			continue
		}
		p := h.point
		p.Confidence = float32(Confidence(p, b.cal.TurntableRadius, b.cfg.confidenceTolerance()))
		if p.Confidence <= 0 {
			continue
		}
		if !found || p.Confidence > best.Position.Confidence {
			best = RotationMarker{Marker: m, Position: p}
			found = true
		}
	}
	return best, found
}
