// Package scan serves a turntable reconstruction as a camera.
package scan

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/data"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/spatialmath"

	"github.com/erh/turntablescan"
	"github.com/erh/turntablescan/calibration"
	"github.com/erh/turntablescan/frames"
	"github.com/erh/turntablescan/geom"
	"github.com/erh/turntablescan/pipeline"
)

var Model = turntablescan.NamespaceFamily.WithModel("turntable-scan")

func init() {
	resource.RegisterComponent(
		camera.API,
		Model,
		resource.Registration[camera.Camera, *Config]{
			Constructor: newScanCamera,
		})
}

type Config struct {
	// FramesDir is a recording written by frames.WriteDir.
	FramesDir string `json:"frames_dir"`

	Calibration     *calibration.Calibration `json:"calibration,omitempty"`
	CalibrationFile string                   `json:"calibration_file,omitempty"`

	// DepthIntrinsics default to a 640x480 structured light sensor.
	DepthIntrinsics    *transform.PinholeCameraIntrinsics `json:"depth_intrinsics,omitempty"`
	DepthDistortion    *transform.BrownConrady            `json:"depth_distortion,omitempty"`
	ColorIntrinsics    *transform.PinholeCameraIntrinsics `json:"color_intrinsics,omitempty"`
	DepthUnit          float64                            `json:"depth_unit,omitempty"`
	IterativeUndistort bool                               `json:"iterative_undistort,omitempty"`

	Pipeline pipeline.Config `json:"pipeline,omitempty"`

	// PixelsPerMeter scales the top down image.
	PixelsPerMeter float64 `json:"pixels_per_meter,omitempty"`
}

func (c *Config) Validate(path string) ([]string, []string, error) {
	if c.FramesDir == "" {
		return nil, nil, fmt.Errorf("need a frames_dir")
	}
	if c.Calibration == nil && c.CalibrationFile == "" {
		return nil, nil, fmt.Errorf("need a calibration or a calibration_file")
	}
	if c.Calibration != nil && c.CalibrationFile != "" {
		return nil, nil, fmt.Errorf("calibration and calibration_file are exclusive")
	}
	if c.DepthIntrinsics != nil {
		if err := c.DepthIntrinsics.CheckValid(); err != nil {
			return nil, nil, err
		}
	}
	if err := c.Pipeline.Validate(); err != nil {
		return nil, nil, err
	}
	return nil, nil, nil
}

func (c *Config) pixelsPerMeter() float64 {
	if c.PixelsPerMeter <= 0 {
		return 500
	}
	return c.PixelsPerMeter
}

func (c *Config) LoadCalibration() (*calibration.Calibration, error) {
	if c.Calibration != nil {
		return c.Calibration, nil
	}
	return calibration.Load(c.CalibrationFile)
}

func (c *Config) Mapper() (*frames.PinholeMapper, error) {
	props := frames.KinectProperties
	if c.DepthIntrinsics != nil {
		props = camera.Properties{SupportsPCD: true, IntrinsicParams: c.DepthIntrinsics}
		if c.DepthDistortion != nil {
			props.DistortionParams = c.DepthDistortion
		}
	}

	m, err := frames.NewPinholeMapper(props, c.ColorIntrinsics)
	if err != nil {
		return nil, err
	}
	m.DepthUnit = c.DepthUnit
	m.Iterative = c.IterativeUndistort
	return m, nil
}

func newScanCamera(ctx context.Context, deps resource.Dependencies, config resource.Config, logger logging.Logger) (camera.Camera, error) {
	newConf, err := resource.NativeConfig[*Config](config)
	if err != nil {
		return nil, err
	}

	cal, err := newConf.LoadCalibration()
	if err != nil {
		return nil, err
	}

	src, err := frames.OpenDir(newConf.FramesDir)
	if err != nil {
		return nil, err
	}

	mapper, err := newConf.Mapper()
	if err != nil {
		return nil, err
	}

	return NewCamera(config.ResourceName(), newConf, src, cal, mapper, logger), nil
}

// NewCamera serves the reconstruction of src. The first point cloud request starts it.
func NewCamera(name resource.Name, cfg *Config, src frames.Source, cal *calibration.Calibration, mapper frames.Mapper,
	logger logging.Logger,
) camera.Camera {
	cancelCtx, cancel := context.WithCancel(context.Background())
	return &scanCamera{
		name:      name,
		cfg:       cfg,
		logger:    logger,
		src:       src,
		cal:       cal,
		mapper:    mapper,
		cancelCtx: cancelCtx,
		cancel:    cancel,
	}
}

type scanCamera struct {
	resource.AlwaysRebuild

	name   resource.Name
	cfg    *Config
	logger logging.Logger

	src    frames.Source
	cal    *calibration.Calibration
	mapper frames.Mapper

	cancelCtx context.Context
	cancel    context.CancelFunc

	lock           sync.Mutex
	job            *pipeline.Job
	finished       *pipeline.Job
	frame, total   int
	lastCloud      *geom.PointCloud
	lastPointCloud pointcloud.PointCloud
	lastErr        error
	lastTime       time.Time
}

func (sc *scanCamera) Name() resource.Name {
	return sc.name
}

// startLocked returns the current job, starting one if there is none.
func (sc *scanCamera) startLocked() (*pipeline.Job, error) {
	if sc.job != nil {
		return sc.job, nil
	}

	j, err := pipeline.Start(sc.cancelCtx, sc.src, sc.cal, sc.mapper, sc.cfg.Pipeline, func(i, n int) {
		sc.lock.Lock()
		sc.frame, sc.total = i, n
		sc.lock.Unlock()
	}, sc.logger)
	if err != nil {
		return nil, err
	}
	sc.job = j
	sc.frame, sc.total = 0, sc.src.Len()
	return j, nil
}

// finish waits for j, then converts its cloud once and caches it.
func (sc *scanCamera) finish(j *pipeline.Job) (*geom.PointCloud, pointcloud.PointCloud, error) {
	<-j.Done()

	sc.lock.Lock()
	defer sc.lock.Unlock()
	return sc.finishLocked(j)
}

// finishLocked is finish for a job whose Done channel is already closed.
func (sc *scanCamera) finishLocked(j *pipeline.Job) (*geom.PointCloud, pointcloud.PointCloud, error) {
	if sc.finished == j {
		return sc.lastCloud, sc.lastPointCloud, sc.lastErr
	}

	cloud, err := j.Wait()
	var pc pointcloud.PointCloud
	if err == nil {
		pc, err = cloud.ToRDK(1000)
	}
	if err != nil {
		cloud = nil
		sc.logger.Warnf("reconstruction failed: %v", err)
	}

	if sc.job == j {
		sc.finished = j
		sc.lastCloud = cloud
		sc.lastPointCloud = pc
		sc.lastErr = err
		sc.lastTime = time.Now()
	}
	return cloud, pc, err
}

// settleLocked records the current job's result if it has finished since anyone last looked.
func (sc *scanCamera) settleLocked() {
	if sc.job == nil || sc.finished == sc.job {
		return
	}
	select {
	case <-sc.job.Done():
		sc.finishLocked(sc.job)
	default:
	}
}

func (sc *scanCamera) result(ctx context.Context) (*geom.PointCloud, pointcloud.PointCloud, error) {
	sc.lock.Lock()
	sc.settleLocked()
	if sc.job != nil && sc.finished == sc.job {
		defer sc.lock.Unlock()
		return sc.lastCloud, sc.lastPointCloud, sc.lastErr
	}
	j, err := sc.startLocked()
	sc.lock.Unlock()
	if err != nil {
		return nil, nil, err
	}

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-j.Done():
	}
	return sc.finish(j)
}

func (sc *scanCamera) NextPointCloud(ctx context.Context, extra map[string]interface{}) (pointcloud.PointCloud, error) {
	_, pc, err := sc.result(ctx)
	return pc, err
}

func (sc *scanCamera) Image(ctx context.Context, mimeType string, extra map[string]interface{}) ([]byte, camera.ImageMetadata, error) {
	cloud, _, err := sc.result(ctx)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	img := geom.PCToImage(cloud, sc.cfg.pixelsPerMeter())

	data, err := rimage.EncodeImage(ctx, img, mimeType)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}

	return data, camera.ImageMetadata{MimeType: mimeType}, err
}

func (sc *scanCamera) Images(ctx context.Context, filterSourceNames []string, extra map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	cloud, _, err := sc.result(ctx)
	if err != nil {
		return nil, resource.ResponseMetadata{}, err
	}
	start := time.Now()
	img := geom.PCToImage(cloud, sc.cfg.pixelsPerMeter())
	elapsed := time.Since(start)
	if elapsed > (time.Millisecond * 100) {
		sc.logger.Infof("PCToImage took %v", elapsed)
	}
	ni, err := camera.NamedImageFromImage(img, "top-down", "image/png", data.Annotations{})
	if err != nil {
		return nil, resource.ResponseMetadata{}, err
	}
	return []camera.NamedImage{ni}, resource.ResponseMetadata{CapturedAt: sc.capturedAt()}, nil
}

func (sc *scanCamera) capturedAt() time.Time {
	sc.lock.Lock()
	defer sc.lock.Unlock()
	return sc.lastTime
}

// DoCommand supports:
//
//	{"reconstruct": true}    start over, unless a reconstruction is already running
//	{"status": true}         progress of the current reconstruction
//	{"save": "<file.pcd>"}   write the reconstructed cloud, waiting for it if needed
func (sc *scanCamera) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	if _, ok := cmd["reconstruct"]; ok {
		sc.lock.Lock()
		defer sc.lock.Unlock()
		sc.settleLocked()
		if sc.job != nil && sc.finished != sc.job {
			return map[string]interface{}{"started": false, "reason": "already running"}, nil
		}
		sc.job = nil
		if _, err := sc.startLocked(); err != nil {
			return nil, err
		}
		return map[string]interface{}{"started": true}, nil
	}

	if _, ok := cmd["status"]; ok {
		return sc.status(), nil
	}

	if fn, ok := cmd["save"].(string); ok {
		_, pc, err := sc.result(ctx)
		if err != nil {
			return nil, err
		}
		if err := writePCD(fn, pc); err != nil {
			return nil, err
		}
		return map[string]interface{}{"saved": fn, "points": pc.Size()}, nil
	}

	return nil, fmt.Errorf("unknown command %v", cmd)
}

func (sc *scanCamera) status() map[string]interface{} {
	sc.lock.Lock()
	defer sc.lock.Unlock()
	sc.settleLocked()

	res := map[string]interface{}{"frame": sc.frame, "total": sc.total}
	switch {
	case sc.job == nil:
		res["state"] = "idle"
	case sc.finished != sc.job:
		res["state"] = "running"
	case sc.lastErr != nil:
		res["state"] = "failed"
		res["error"] = sc.lastErr.Error()
	default:
		res["state"] = "done"
		res["points"] = sc.lastCloud.Len()
		res["frames"] = sc.job.Stats().Frames
		res["retries"] = sc.job.Stats().Retries
		res["elapsed"] = sc.job.Stats().Elapsed.String()
	}
	return res
}

func writePCD(fn string, pc pointcloud.PointCloud) error {
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return pointcloud.ToPCD(pc, f, pointcloud.PCDBinary)
}

func (sc *scanCamera) Properties(ctx context.Context) (camera.Properties, error) {
	return camera.Properties{
		SupportsPCD: true,
	}, nil
}

func (sc *scanCamera) Close(ctx context.Context) error {
	sc.cancel()

	sc.lock.Lock()
	j := sc.job
	sc.lock.Unlock()
	if j == nil {
		return nil
	}

	select {
	case <-j.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sc *scanCamera) Geometries(ctx context.Context, _ map[string]interface{}) ([]spatialmath.Geometry, error) {
	return nil, nil
}
