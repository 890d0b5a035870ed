package markers

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/erh/turntablescan/calibration"
	"github.com/erh/turntablescan/frames"
	"github.com/erh/turntablescan/imgutils"
)

func grayFrame(bpp int) *frames.Frame {
	df := frames.Format{Width: 64, Height: 48, BytesPerPixel: 2}
	cf := frames.Format{Width: 64, Height: 48, BytesPerPixel: bpp}
	f := frames.NewBlankFrame(0, 0, df, cf)
	for y := 0; y < cf.Height; y++ {
		for x := 0; x < cf.Width; x++ {
			f.SetRGB(x, y, 100, 100, 100)
		}
	}
	return f
}

func fill(f *frames.Frame, r image.Rectangle, red, green, blue uint8) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			f.SetRGB(x, y, red, green, blue)
		}
	}
}

func testCalibration() *calibration.Calibration {
	return &calibration.Calibration{
		Markers:         calibration.DefaultMarkers(),
		SearchRect:      image.Rect(4, 4, 60, 44),
		TurntableRadius: 0.1,
	}
}

func TestDetect(t *testing.T) {
	logger := logging.NewTestLogger(t)

	for _, bpp := range []int{3, 4} {
		f := grayFrame(bpp)
		fill(f, image.Rect(20, 10, 28, 18), 255, 0, 0)
		// speckles of the same hue
		f.SetRGB(40, 30, 255, 0, 0)
		f.SetRGB(50, 12, 250, 5, 5)
		// blue, but too small
		fill(f, image.Rect(40, 20, 44, 24), 0, 120, 255)
		// green, but outside the search rect
		fill(f, image.Rect(0, 0, 4, 48), 0, 255, 0)

		d := NewDetector(testCalibration(), Config{}, nil, logger)
		got := d.Detect(f)

		want := map[string]image.Point{"red": {23, 13}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("bpp %d: unexpected markers (-want +got):\n%s", bpp, diff)
		}

		minPixels := 10
		d = NewDetector(testCalibration(), Config{MinimumThresholdPixels: &minPixels}, nil, logger)
		got = d.Detect(f)
		test.That(t, got["blue"], test.ShouldResemble, image.Point{41, 21})
		test.That(t, len(got), test.ShouldEqual, 2)
	}
}

func TestMinimumThresholdPixels(t *testing.T) {
	logger := logging.NewTestLogger(t)
	f := grayFrame(4)
	// 16 pixels: under the default gate, over an explicit zero
	fill(f, image.Rect(40, 20, 44, 24), 0, 120, 255)

	got := NewDetector(testCalibration(), Config{}, nil, logger).Detect(f)
	test.That(t, got, test.ShouldBeEmpty)

	zero := 0
	cfg := Config{MinimumThresholdPixels: &zero}
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	got = NewDetector(testCalibration(), cfg, nil, logger).Detect(f)
	test.That(t, got, test.ShouldResemble, map[string]image.Point{"blue": {41, 21}})

	// nothing survives despeckling, so zero still finds nothing
	test.That(t, NewDetector(testCalibration(), cfg, nil, logger).Detect(grayFrame(4)), test.ShouldBeEmpty)

	negative := -1
	test.That(t, Config{MinimumThresholdPixels: &negative}.Validate(), test.ShouldNotBeNil)
}

func TestDetectNothing(t *testing.T) {
	logger := logging.NewTestLogger(t)
	d := NewDetector(testCalibration(), Config{}, nil, logger)
	test.That(t, d.Detect(grayFrame(4)), test.ShouldBeEmpty)

	cal := testCalibration()
	cal.SearchRect = image.Rect(100, 100, 200, 200)
	d = NewDetector(cal, Config{}, nil, logger)
	f := grayFrame(4)
	fill(f, image.Rect(20, 10, 28, 18), 255, 0, 0)
	test.That(t, d.Detect(f), test.ShouldBeEmpty)
}

func TestThresholdClips(t *testing.T) {
	f := grayFrame(4)
	fill(f, image.Rect(10, 10, 12, 11), 0, 255, 0)

	m := Threshold(f, image.Rect(10, 10, 20, 15), imgutils.NewHueWindow(120, 5))
	test.That(t, m.Width, test.ShouldEqual, 10)
	test.That(t, m.Height, test.ShouldEqual, 5)
	test.That(t, m.Count(), test.ShouldEqual, 2)
	test.That(t, m.At(0, 0), test.ShouldEqual, uint8(1))
	test.That(t, m.At(1, 0), test.ShouldEqual, uint8(1))

	// window edges are exclusive
	m = Threshold(f, image.Rect(10, 10, 20, 15), imgutils.NewHueWindow(125, 5))
	test.That(t, m.Count(), test.ShouldEqual, 0)
}

func TestDespeckle(t *testing.T) {
	m := imgutils.NewMask(12, 12)
	for y := 3; y < 9; y++ {
		for x := 3; x < 9; x++ {
			m.Set(x, y, 1)
		}
	}
	m.Set(10, 2, 1)
	m.Set(0, 0, 1)

	out := Despeckle(m)
	test.That(t, out.Count(), test.ShouldEqual, 36)
	test.That(t, out.At(10, 2), test.ShouldEqual, uint8(0))
	test.That(t, out.At(0, 0), test.ShouldEqual, uint8(0))
	test.That(t, out.At(3, 3), test.ShouldEqual, uint8(1))

	// a pair of neighbors is still too thin
	m = imgutils.NewMask(9, 9)
	m.Set(4, 4, 1)
	m.Set(5, 4, 1)
	test.That(t, Despeckle(m).Count(), test.ShouldEqual, 0)

	test.That(t, Despeckle(imgutils.NewMask(4, 4)).Count(), test.ShouldEqual, 0)
}
