// Package registration aligns each new frame's cloud onto the model built so far.
package registration

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/erh/turntablescan/geom"
	"github.com/erh/turntablescan/kdtree"
)

// ErrSamplingExhausted means the requested sample could not be drawn within the attempt budget:
// the cloud is too sparse for the count and minimum distance asked for.
var ErrSamplingExhausted = errors.New("sampling exhausted, relax the sampling count or minimum distance")

// Sampler draws random subsets of a cloud in which no two points are closer than MinimumDistance.
type Sampler struct {
	MinimumDistance float64

	// MaxAttemptProportion bounds the number of draws to this multiple of the cloud size.
	MaxAttemptProportion float64

	rand *rand.Rand
}

// NewSampler uses r for every draw; pass a seeded source for repeatable samples.
func NewSampler(minimumDistance, maxAttemptProportion float64, r *rand.Rand) *Sampler {
	return &Sampler{
		MinimumDistance:      minimumDistance,
		MaxAttemptProportion: maxAttemptProportion,
		rand:                 r,
	}
}

// Sample returns count points of cloud, copied, chosen uniformly at random subject to the
// minimum distance. A random seed point is placed in the spacing index first, so nothing is
// drawn next to it, but it is not itself part of the sample.
func (s *Sampler) Sample(cloud *geom.PointCloud, count int) (*geom.PointCloud, error) {
	n := cloud.Len()
	out := geom.NewPointCloud(count)
	if count <= 0 || n == 0 {
		return out, nil
	}
	if count > n {
		return nil, errors.Wrapf(ErrSamplingExhausted, "asked for %d points from a cloud of %d", count, n)
	}

	maxAttempts := int(float64(n) * s.MaxAttemptProportion)

	index := kdtree.New[geom.Point3D](3)
	index.Insert(cloud.Points[s.rand.Intn(n)])

	used := make([]bool, n)
	for attempt := 1; out.Len() < count; attempt++ {
		if attempt >= maxAttempts {
			return nil, errors.Wrapf(ErrSamplingExhausted, "%d of %d points after %d attempts at %v spacing",
				out.Len(), count, attempt, s.MinimumDistance)
		}

		i := s.rand.Intn(n)
		if used[i] {
			continue
		}

		p := cloud.Points[i]
		if index.AnyWithin(p, s.MinimumDistance) {
			continue
		}
		used[i] = true
		index.Insert(p)
		out.Append(p)
	}
	return out, nil
}
