// Package calibration describes where the camera and markers are relative to the turntable.
package calibration

import (
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os"

	"github.com/erh/turntablescan/geom"
)

// TrackingMarker is one colored cube on the turntable rim.
type TrackingMarker struct {
	Name         string  `json:"name"`
	Hue          float64 `json:"hue"`
	HueTolerance float64 `json:"hue_tolerance"`

	// RotationalOffset is the marker's fixed angle, in radians, relative to the reference marker.
	RotationalOffset float64 `json:"rotational_offset"`
}

func (m TrackingMarker) String() string {
	return fmt.Sprintf("%s = %v +- %v deg @ %0.4f", m.Name, m.Hue, m.HueTolerance, m.RotationalOffset)
}

func (m TrackingMarker) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("marker needs a name")
	}
	if m.Hue < 0 || m.Hue > 360 {
		return fmt.Errorf("marker %s hue %v out of range [0, 360]", m.Name, m.Hue)
	}
	if m.HueTolerance <= 0 {
		return fmt.Errorf("marker %s hue tolerance must be positive", m.Name)
	}
	return nil
}

// DefaultMarkers is the four cube set used on the reference turntable.
func DefaultMarkers() []TrackingMarker {
	return []TrackingMarker{
		{Name: "red", Hue: 0, HueTolerance: 10, RotationalOffset: -math.Pi / 4},
		{Name: "green", Hue: 123, HueTolerance: 10, RotationalOffset: 0},
		{Name: "blue", Hue: 213, HueTolerance: 10, RotationalOffset: math.Pi / 4},
		{Name: "purple", Hue: 316, HueTolerance: 10, RotationalOffset: math.Pi / 2},
	}
}

// Calibration is everything measured once per scene, before recording.
type Calibration struct {
	CameraOrigin geom.Point3D `json:"camera_origin"`

	// Tilt is the camera elevation in radians; points are rotated by -Tilt about X into object space.
	Tilt float64 `json:"tilt"`

	Markers []TrackingMarker `json:"markers"`

	// SearchRect bounds marker detection, in color frame pixels.
	SearchRect image.Rectangle `json:"search_rect"`

	TurntableRadius float64 `json:"turntable_radius"`
}

// Validate checks the calibration against a color frame of the given size.
func (c *Calibration) Validate(colorWidth, colorHeight int) error {
	if c == nil {
		return fmt.Errorf("no calibration")
	}
	if len(c.Markers) == 0 {
		return fmt.Errorf("calibration has no markers")
	}
	names := map[string]bool{}
	for _, m := range c.Markers {
		if err := m.Validate(); err != nil {
			return err
		}
		if names[m.Name] {
			return fmt.Errorf("duplicate marker name %s", m.Name)
		}
		names[m.Name] = true
	}
	if c.TurntableRadius <= 0 {
		return fmt.Errorf("turntable radius must be positive, got %v", c.TurntableRadius)
	}
	if c.SearchRect.Empty() {
		return fmt.Errorf("search rect %v is empty", c.SearchRect)
	}
	frame := image.Rect(0, 0, colorWidth, colorHeight)
	if !c.SearchRect.In(frame) {
		return fmt.Errorf("search rect %v not within color frame %v", c.SearchRect, frame)
	}
	return nil
}

// ToObjectSpace moves a camera space point into turntable space: undo the tilt, then the origin.
func (c *Calibration) ToObjectSpace(p *geom.Point3D) {
	p.RotateAboutAxis(geom.AxisX, -c.Tilt)
	p.Translate(-c.CameraOrigin.X, -c.CameraOrigin.Y, -c.CameraOrigin.Z)
}

func Load(fn string) (*Calibration, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	c := &Calibration{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("cannot parse calibration %s: %w", fn, err)
	}
	return c, nil
}

func (c *Calibration) Save(fn string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fn, data, 0o644)
}
