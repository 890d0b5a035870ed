// Package markers finds the colored turntable markers in a color frame.
package markers

import (
	"fmt"
	"image"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/utils"

	"github.com/erh/turntablescan/calibration"
	"github.com/erh/turntablescan/diag"
	"github.com/erh/turntablescan/frames"
	"github.com/erh/turntablescan/imgutils"
)

type Config struct {
	// MinimumThresholdPixels is how many mask pixels a marker must exceed, after despeckling, to
	// count. Unset means 20; 0 accepts any surviving pixel.
	MinimumThresholdPixels *int `json:"minimum_threshold_pixels,omitempty"`
}

func (c Config) Validate() error {
	if c.MinimumThresholdPixels != nil && *c.MinimumThresholdPixels < 0 {
		return fmt.Errorf("minimum_threshold_pixels cannot be negative, got %d", *c.MinimumThresholdPixels)
	}
	return nil
}

func (c Config) minimumThresholdPixels() int {
	if c.MinimumThresholdPixels == nil {
		return 20
	}
	return *c.MinimumThresholdPixels
}

// Detector looks for every calibrated marker inside the search rectangle.
type Detector struct {
	markers []calibration.TrackingMarker
	rect    image.Rectangle
	cfg     Config

	diag   *diag.Recorder
	logger logging.Logger
}

func NewDetector(cal *calibration.Calibration, cfg Config, rec *diag.Recorder, logger logging.Logger) *Detector {
	return &Detector{
		markers: cal.Markers,
		rect:    cal.SearchRect,
		cfg:     cfg,
		diag:    rec,
		logger:  logger,
	}
}

// Detect returns the centroid, in full frame pixels, of each marker that clears the pixel gate.
// Markers that do not are left out; the result may be empty.
func (d *Detector) Detect(f *frames.Frame) map[string]image.Point {
	rect := d.rect.Intersect(f.ColorFormat.Bounds())
	found := map[string]image.Point{}
	if rect.Empty() {
		return found
	}

	for _, m := range d.markers {
		thresh := Threshold(f, rect, imgutils.NewHueWindow(m.Hue, m.HueTolerance))
		d.diag.Mask(f.Index, m.Name, "thresh", thresh)

		clean := Despeckle(thresh)
		d.diag.Mask(f.Index, m.Name, "thresh.clean", clean)

		count := clean.Count()
		c, ok := clean.Centroid()
		if !ok || count <= d.cfg.minimumThresholdPixels() {
			d.logger.Debugf("frame %d: marker %s has %d pixels", f.Index, m.Name, count)
			continue
		}
		found[m.Name] = c.Add(rect.Min)
	}

	return found
}

// Threshold clips the color frame to rect and marks the pixels whose hue is inside window.
func Threshold(f *frames.Frame, rect image.Rectangle, window imgutils.HueWindow) *imgutils.Mask {
	mask := imgutils.NewMask(rect.Dx(), rect.Dy())
	utils.ParallelForEachPixel(rect.Size(), func(x, y int) {
		r, g, b := f.RGB(rect.Min.X+x, rect.Min.Y+y)
		if window.Contains(imgutils.Hue(r, g, b)) {
			mask.Bits[y*mask.Width+x] = 1
		}
	})
	return mask
}

// despeckleKernel weights a 5x5 neighborhood so that a set pixel with too few set neighbors sums below zero.
var despeckleKernel = [5][5]int{
	{2, 2, 2, 2, 2},
	{2, 1, 1, 1, 2},
	{2, 1, -10, 1, 2},
	{2, 1, 1, 1, 2},
	{2, 2, 2, 2, 2},
}

// Despeckle removes isolated set pixels. Only interior pixels, two or more from every edge,
// are considered; the two pixel border of the output is always clear.
func Despeckle(in *imgutils.Mask) *imgutils.Mask {
	out := imgutils.NewMask(in.Width, in.Height)
	if in.Width < 5 || in.Height < 5 {
		return out
	}

	utils.ParallelForEachPixel(image.Point{in.Width - 4, in.Height - 4}, func(ix, iy int) {
		x, y := ix+2, iy+2
		sum := 0
		for v := -2; v <= 2; v++ {
			row := (y + v) * in.Width
			for u := -2; u <= 2; u++ {
				sum += int(in.Bits[row+x+u]) * despeckleKernel[2+v][2+u]
			}
		}
		isolated := uint8(0)
		if sum < 0 {
			isolated = 1
		}
		out.Bits[y*in.Width+x] = in.Bits[y*in.Width+x] - isolated
	})
	return out
}
