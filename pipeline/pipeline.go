// Package pipeline runs a whole recording through detection, cloud building, rotation
// estimation and registration, and merges the aligned frames into one cloud.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"

	"github.com/erh/turntablescan/builder"
	"github.com/erh/turntablescan/calibration"
	"github.com/erh/turntablescan/diag"
	"github.com/erh/turntablescan/frames"
	"github.com/erh/turntablescan/geom"
	"github.com/erh/turntablescan/kalman"
	"github.com/erh/turntablescan/markers"
	"github.com/erh/turntablescan/registration"
)

var ErrMissingCalibration = errors.New("a calibration is required to reconstruct")

type Config struct {
	// Stride is how many frames to advance after a frame is used. A frame that cannot be used
	// is always followed by the very next one.
	Stride int `json:"stride,omitempty"`

	Markers      markers.Config       `json:"markers,omitempty"`
	Registration *registration.Config `json:"registration,omitempty"`
	Builder      builder.Config       `json:"builder,omitempty"`
	Rotation     kalman.RotationModel `json:"rotation,omitempty"`

	// DiagnosticsDir turns on diagnostic output when set.
	DiagnosticsDir string `json:"diagnostics_dir,omitempty"`

	// Seed fixes the sampler's random source; 0 picks one.
	Seed int64 `json:"seed,omitempty"`
}

func (c Config) Validate() error {
	if c.Stride < 0 {
		return fmt.Errorf("stride cannot be negative, got %d", c.Stride)
	}
	if err := c.registration().Validate(); err != nil {
		return fmt.Errorf("registration: %w", err)
	}
	if err := c.Markers.Validate(); err != nil {
		return fmt.Errorf("markers: %w", err)
	}
	if err := c.Builder.Validate(); err != nil {
		return fmt.Errorf("builder: %w", err)
	}
	return nil
}

func (c Config) stride() int {
	if c.Stride <= 0 {
		return 1
	}
	return c.Stride
}

func (c Config) registration() registration.Config {
	if c.Registration == nil {
		return registration.DefaultConfig()
	}
	return *c.Registration
}

func (c Config) random() *rand.Rand {
	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Progress is told the index of each frame about to be processed.
type Progress func(frame, total int)

type Stats struct {
	Frames  int
	Retries int
	Points  int
	Elapsed time.Duration
}

// Job is a reconstruction running in the background.
type Job struct {
	done   chan struct{}
	cancel context.CancelFunc

	mu    sync.Mutex
	cloud *geom.PointCloud
	stats Stats
	err   error
}

// Done is closed once the job has finished, successfully or not.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Cancel asks the job to stop at the next frame boundary.
func (j *Job) Cancel() {
	j.cancel()
}

// Wait blocks until the job finishes and returns the merged cloud. A cancelled job returns
// the context's error and no cloud.
func (j *Job) Wait() (*geom.PointCloud, error) {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cloud, j.err
}

func (j *Job) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

type run struct {
	src      frames.Source
	cal      *calibration.Calibration
	cfg      Config
	progress Progress

	detector  *markers.Detector
	builder   *builder.Builder
	estimator *kalman.RotationEstimator
	registrar *registration.Registrar
	diag      *diag.Recorder
	logger    logging.Logger
	stats     Stats
}

func newRun(src frames.Source, cal *calibration.Calibration, mapper frames.Mapper, cfg Config,
	progress Progress, logger logging.Logger,
) (*run, error) {
	if cal == nil {
		return nil, ErrMissingCalibration
	}
	cf := src.ColorFormat()
	if err := cal.Validate(cf.Width, cf.Height); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if mapper == nil {
		return nil, errors.New("a depth to world mapper is required")
	}

	var rec *diag.Recorder
	if cfg.DiagnosticsDir != "" {
		var err error
		rec, err = diag.New(cfg.DiagnosticsDir, logger)
		if err != nil {
			return nil, err
		}
	}

	estimator, err := kalman.NewRotationEstimator(cfg.Rotation, cal.TurntableRadius, rec)
	if err != nil {
		return nil, multierr.Combine(err, rec.Close())
	}
	registrar, err := registration.NewRegistrar(cfg.registration(), cfg.random(), rec, logger)
	if err != nil {
		return nil, multierr.Combine(err, rec.Close())
	}

	return &run{
		src:       src,
		cal:       cal,
		cfg:       cfg,
		progress:  progress,
		detector:  markers.NewDetector(cal, cfg.Markers, rec, logger),
		builder:   builder.NewBuilder(cal, mapper, cfg.Builder, rec, logger),
		estimator: estimator,
		registrar: registrar,
		diag:      rec,
		logger:    logger,
	}, nil
}

// Start validates its inputs and begins reconstructing src on its own goroutine.
// progress may be nil.
func Start(ctx context.Context, src frames.Source, cal *calibration.Calibration, mapper frames.Mapper, cfg Config,
	progress Progress, logger logging.Logger,
) (*Job, error) {
	r, err := newRun(src, cal, mapper, cfg, progress, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	j := &Job{done: make(chan struct{}), cancel: cancel}

	goutils.PanicCapturingGo(func() {
		defer close(j.done)
		defer cancel()

		j.mu.Lock()
		j.err = errors.New("reconstruction stopped unexpectedly")
		j.mu.Unlock()

		start := time.Now()
		cloud, err := r.process(ctx)
		err = multierr.Combine(err, r.diag.Close())
		if err != nil {
			cloud = nil
		}
		r.stats.Elapsed = time.Since(start)

		j.mu.Lock()
		defer j.mu.Unlock()
		j.cloud = cloud
		j.err = err
		j.stats = r.stats
	})

	return j, nil
}

// Reconstruct runs Start and waits for it.
func Reconstruct(ctx context.Context, src frames.Source, cal *calibration.Calibration, mapper frames.Mapper, cfg Config,
	progress Progress, logger logging.Logger,
) (*geom.PointCloud, error) {
	j, err := Start(ctx, src, cal, mapper, cfg, progress, logger)
	if err != nil {
		return nil, err
	}
	return j.Wait()
}

func (r *run) process(ctx context.Context) (*geom.PointCloud, error) {
	n := r.src.Len()
	stride := r.cfg.stride()
	r.logger.Infof("reconstructing %d frames, stride %d", n, stride)

	merged := geom.NewPointCloud(0)
	var model *geom.PointCloud

	for i := 0; i < n; i += stride {
		if err := ctx.Err(); err != nil {
			r.logger.Infof("reconstruction cancelled at frame %d", i)
			return nil, err
		}
		if r.progress != nil {
			r.progress(i, n)
		}

		f, err := r.src.Frame(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("cannot fetch frame %d: %w", i, err)
		}

		found := r.detector.Detect(f)
		if len(found) == 0 {
			r.logger.Debugf("frame %d: no markers found, trying the next frame", i)
			r.stats.Retries++
			i -= stride - 1
			continue
		}

		cloud, rm, err := r.builder.Build(f, found)
		if err != nil {
			if errors.Is(err, builder.ErrNoConfidentMarker) {
				r.logger.Debugf("frame %d: %v, trying the next frame", i, err)
				r.stats.Retries++
				i -= stride - 1
				continue
			}
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}

		r.estimator.Observe(f.Timestamp, rm.Position, rm.Marker.RotationalOffset)

		aligned := cloud
		if model != nil {
			aligned, _, err = r.registrar.Register(cloud, model, geom.RotationY(r.estimator.Theta()))
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", i, err)
			}
		}

		merged.AppendCloud(aligned)
		model = aligned
		r.stats.Frames++
	}

	r.stats.Points = merged.Len()
	r.logger.Infof("reconstructed %d points from %d frames, %d retries", merged.Len(), r.stats.Frames, r.stats.Retries)
	return merged, nil
}
