package registration

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/logging"

	"github.com/erh/turntablescan/diag"
	"github.com/erh/turntablescan/geom"
	"github.com/erh/turntablescan/kdtree"
)

// minimumPoints is the smallest scene worth aligning.
const minimumPoints = 4

type Config struct {
	// MinimumError is the mean correspondence distance, in meters, at which alignment stops.
	MinimumError  float64 `json:"minimum_error"`
	MaxIterations int     `json:"max_iterations"`

	UseSampling bool `json:"use_sampling"`
	// SamplingProportion is the share of the scene drawn for alignment.
	SamplingProportion             float64 `json:"sampling_proportion"`
	MinimumSamplingDistance        float64 `json:"minimum_sampling_distance"`
	MaxSamplingIterationProportion float64 `json:"max_sampling_iteration_proportion"`
}

func DefaultConfig() Config {
	return Config{
		MinimumError:                   0.0005,
		MaxIterations:                  20,
		UseSampling:                    true,
		SamplingProportion:             0.1,
		MinimumSamplingDistance:        0.002,
		MaxSamplingIterationProportion: 3,
	}
}

func (c Config) Validate() error {
	if c.MinimumError < 0 {
		return errors.Errorf("minimum_error cannot be negative, got %v", c.MinimumError)
	}
	if c.MaxIterations < 2 {
		return errors.Errorf("max_iterations must be at least 2, got %d", c.MaxIterations)
	}
	if !c.UseSampling {
		return nil
	}
	if c.SamplingProportion <= 0 || c.SamplingProportion > 1 {
		return errors.Errorf("sampling_proportion must be in (0, 1], got %v", c.SamplingProportion)
	}
	if c.MinimumSamplingDistance < 0 {
		return errors.Errorf("minimum_sampling_distance cannot be negative, got %v", c.MinimumSamplingDistance)
	}
	if c.MaxSamplingIterationProportion <= 0 {
		return errors.Errorf("max_sampling_iteration_proportion must be positive, got %v", c.MaxSamplingIterationProportion)
	}
	return nil
}

// Result describes one registration call.
type Result struct {
	Iterations int
	LastError  float64
	Transform  geom.Transform
	Sampled    int
}

// Registrar runs point to point ICP.
type Registrar struct {
	cfg     Config
	sampler *Sampler

	diag   *diag.Recorder
	logger logging.Logger
}

func NewRegistrar(cfg Config, r *rand.Rand, rec *diag.Recorder, logger logging.Logger) (*Registrar, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if r == nil {
		r = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Registrar{
		cfg:     cfg,
		sampler: NewSampler(cfg.MinimumSamplingDistance, cfg.MaxSamplingIterationProportion, r),
		diag:    rec,
		logger:  logger,
	}, nil
}

// Register aligns scene onto model starting from guess and returns a transformed copy of the
// whole scene. Scenes too small to align, or an empty model, come back unchanged.
// Fails with ErrSamplingExhausted when sampling is on and the sample cannot be drawn.
func (r *Registrar) Register(scene, model *geom.PointCloud, guess geom.Transform) (*geom.PointCloud, Result, error) {
	if scene.Len() < minimumPoints || model.Len() == 0 {
		return scene, Result{Transform: geom.Identity()}, nil
	}

	work := scene
	if r.cfg.UseSampling {
		count := int(float64(scene.Len()) * r.cfg.SamplingProportion)
		if count >= minimumPoints {
			sample, err := r.sampler.Sample(scene, count)
			if err != nil {
				return nil, Result{}, err
			}
			work = sample
		}
	}

	res := r.align(work, model, guess)
	res.Sampled = work.Len()

	out := scene.Clone()
	out.Transform(res.Transform)

	r.diag.ICP(res.Iterations, res.LastError)
	r.logger.Debugf("icp: %d of %d points, %d iterations, mean error %0.6f",
		res.Sampled, scene.Len(), res.Iterations, res.LastError)

	return out, res, nil
}

// align iterates: apply the last step, pair each scene point with its closest model point,
// stop if the mean pair distance is small enough, otherwise solve for the rotation that best
// carries the pairs onto each other. Returns the composition of every step applied.
func (r *Registrar) align(scene, model *geom.PointCloud, guess geom.Transform) Result {
	index := kdtree.Construct(3, model.Points)
	work := scene.Clone()

	total := geom.Identity()
	step := guess
	pairs := make([]pair, work.Len())

	k := 1
	var meanErr float64
	for ; k < r.cfg.MaxIterations; k++ {
		work.Transform(step)
		total = total.Then(step)

		meanErr = 0
		for i, p := range work.Points {
			m, _ := index.Closest(p)
			pairs[i] = pair{scene: p.Vector(), model: m.Vector()}
			meanErr += pairs[i].scene.Distance(pairs[i].model)
		}
		meanErr /= float64(len(pairs))

		if meanErr <= r.cfg.MinimumError || k+1 == r.cfg.MaxIterations {
			break
		}

		next, err := bestRotation(pairs)
		if err != nil {
			r.logger.Warnf("icp: %v, keeping current alignment", err)
			break
		}
		step = next
	}

	return Result{Iterations: k, LastError: meanErr, Transform: total}
}

type pair struct {
	scene, model r3.Vector
}

// bestRotation finds the rotation taking scene points onto their model points, with
// H = Σ s mᵀ = U Σ Vᵀ and R = V Uᵀ. A reflection solution is turned into a rotation by flipping
// the last singular direction.
func bestRotation(pairs []pair) (geom.Transform, error) {
	h := mat.NewDense(3, 3, nil)
	for _, p := range pairs {
		s := [3]float64{p.scene.X, p.scene.Y, p.scene.Z}
		m := [3]float64{p.model.X, p.model.Y, p.model.Z}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				h.Set(i, j, h.At(i, j)+s[i]*m[j])
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return geom.Transform{}, errors.New("svd of correlation matrix failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&v, u.T())
	if mat.Det(&rot) < 0 {
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		rot.Mul(&v, u.T())
	}

	for _, x := range rot.RawMatrix().Data {
		if math.IsNaN(x) {
			return geom.Transform{}, errors.New("degenerate correlation matrix")
		}
	}
	return geom.RotationTransform(&rot)
}
