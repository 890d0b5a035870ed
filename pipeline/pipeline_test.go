package pipeline

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/erh/turntablescan/calibration"
	"github.com/erh/turntablescan/frames"
	"github.com/erh/turntablescan/geom"
	"github.com/erh/turntablescan/registration"
)

// wallPoints is how many points of the test scene fall inside the clipping volume.
const wallPoints = 15 * 19

type flatMapper struct{}

func (flatMapper) DepthToWorld(x, y int, depth uint16) (r3.Vector, image.Point, bool) {
	if depth == 0 {
		return r3.Vector{}, image.Point{}, false
	}
	return r3.Vector{X: float64(x-20) * 0.01, Y: float64(15-y) * 0.01, Z: float64(depth) * 0.001}, image.Point{x, y}, true
}

func testCalibration() *calibration.Calibration {
	return &calibration.Calibration{
		CameraOrigin:    geom.NewPoint(0, -0.1, 0.5),
		Markers:         calibration.DefaultMarkers(),
		SearchRect:      image.Rect(0, 0, 40, 30),
		TurntableRadius: 0.13,
	}
}

func testFrame(index int, withMarker bool) *frames.Frame {
	df := frames.Format{Width: 40, Height: 30, BytesPerPixel: 2, DepthShift: 3}
	cf := frames.Format{Width: 40, Height: 30, BytesPerPixel: 4}
	f := frames.NewBlankFrame(index, float64(index)/30, df, cf)
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			f.SetDepth(x, y, 900)
			f.SetRGB(x, y, 90, 90, 90)
		}
	}
	for y := 2; y <= 20; y++ {
		for x := 13; x <= 27; x++ {
			f.SetDepth(x, y, 500)
			f.SetRGB(x, y, 200, 180, 40)
		}
	}
	if withMarker {
		for y := 18; y <= 22; y++ {
			for x := 31; x <= 35; x++ {
				f.SetDepth(x, y, 500)
				f.SetRGB(x, y, 255, 0, 0)
			}
		}
	}
	return f
}

func testConfig() Config {
	reg := registration.DefaultConfig()
	reg.UseSampling = false
	return Config{Registration: &reg, Seed: 1}
}

func TestReconstructIdenticalFrames(t *testing.T) {
	logger := logging.NewTestLogger(t)
	src := frames.NewMemorySource(testFrame(0, true), testFrame(1, true), testFrame(2, true), testFrame(3, true))

	cloud, err := Reconstruct(context.Background(), src, testCalibration(), flatMapper{}, testConfig(), nil, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Len(), test.ShouldEqual, 4*wallPoints)

	// the table never turns, so every frame lands on the first
	for k := 1; k < 4; k++ {
		for i := 0; i < wallPoints; i++ {
			d := cloud.Points[k*wallPoints+i].Distance(cloud.Points[i])
			test.That(t, d, test.ShouldBeLessThan, 1e-4)
		}
	}
}

func TestReconstructRetriesNextFrame(t *testing.T) {
	logger := logging.NewTestLogger(t)
	src := frames.NewMemorySource(
		testFrame(0, true), testFrame(1, true), testFrame(2, false),
		testFrame(3, true), testFrame(4, true), testFrame(5, true))

	cfg := testConfig()
	cfg.Stride = 2

	var seen []int
	j, err := Start(context.Background(), src, testCalibration(), flatMapper{}, cfg, func(i, total int) {
		test.That(t, total, test.ShouldEqual, 6)
		seen = append(seen, i)
	}, logger)
	test.That(t, err, test.ShouldBeNil)

	cloud, err := j.Wait()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, seen, test.ShouldResemble, []int{0, 2, 3, 5})
	test.That(t, cloud.Len(), test.ShouldEqual, 3*wallPoints)

	stats := j.Stats()
	test.That(t, stats.Frames, test.ShouldEqual, 3)
	test.That(t, stats.Retries, test.ShouldEqual, 1)
	test.That(t, stats.Points, test.ShouldEqual, 3*wallPoints)
}

func TestReconstructNoMarkersAnywhere(t *testing.T) {
	logger := logging.NewTestLogger(t)
	src := frames.NewMemorySource(testFrame(0, false), testFrame(1, false))

	cloud, err := Reconstruct(context.Background(), src, testCalibration(), flatMapper{}, testConfig(), nil, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Len(), test.ShouldEqual, 0)
}

func TestReconstructCancelled(t *testing.T) {
	logger := logging.NewTestLogger(t)
	src := frames.NewMemorySource(testFrame(0, true), testFrame(1, true))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j, err := Start(ctx, src, testCalibration(), flatMapper{}, testConfig(), nil, logger)
	test.That(t, err, test.ShouldBeNil)
	<-j.Done()

	cloud, err := j.Wait()
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, cloud, test.ShouldBeNil)
}

type failingSource struct {
	*frames.MemorySource
}

func (failingSource) Frame(ctx context.Context, i int) (*frames.Frame, error) {
	return nil, errors.New("disk on fire")
}

func TestReconstructFetchError(t *testing.T) {
	logger := logging.NewTestLogger(t)
	src := failingSource{frames.NewMemorySource(testFrame(0, true))}

	_, err := Reconstruct(context.Background(), src, testCalibration(), flatMapper{}, testConfig(), nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "disk on fire")
	test.That(t, err.Error(), test.ShouldContainSubstring, "frame 0")
}

func TestStartValidates(t *testing.T) {
	logger := logging.NewTestLogger(t)
	src := frames.NewMemorySource(testFrame(0, true))

	_, err := Start(context.Background(), src, nil, flatMapper{}, testConfig(), nil, logger)
	test.That(t, errors.Is(err, ErrMissingCalibration), test.ShouldBeTrue)

	cal := testCalibration()
	cal.SearchRect = image.Rect(0, 0, 400, 300)
	_, err = Start(context.Background(), src, cal, flatMapper{}, testConfig(), nil, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Start(context.Background(), src, testCalibration(), nil, testConfig(), nil, logger)
	test.That(t, err, test.ShouldNotBeNil)

	cfg := testConfig()
	cfg.Stride = -1
	_, err = Start(context.Background(), src, testCalibration(), flatMapper{}, cfg, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReconstructDiagnostics(t *testing.T) {
	logger := logging.NewTestLogger(t)
	src := frames.NewMemorySource(testFrame(0, true), testFrame(1, true))

	cfg := testConfig()
	cfg.DiagnosticsDir = t.TempDir()

	cloud, err := Reconstruct(context.Background(), src, testCalibration(), flatMapper{}, cfg, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Len(), test.ShouldEqual, 2*wallPoints)

	for _, fn := range []string{
		"filter.csv", "icp.csv", "markerPosition.csv", "filter.png",
		filepath.Join("geom", "cloud0.pcd"),
		filepath.Join("geom", "cloud1.pcd"),
		filepath.Join("cv", "red.thresh0.png"),
		filepath.Join("cv", "red.thresh.clean1.png"),
	} {
		_, err := os.Stat(filepath.Join(cfg.DiagnosticsDir, fn))
		test.That(t, err, test.ShouldBeNil)
	}
}
