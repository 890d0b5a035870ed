package geom

import (
	"github.com/golang/geo/r3"

	"go.viam.com/rdk/pointcloud"
)

// PointCloud is an ordered, growable list of points. A cloud is owned by one stage at a time;
// hand it on or Clone it, never share it.
type PointCloud struct {
	Points []Point3D
}

func NewPointCloud(capacity int) *PointCloud {
	return &PointCloud{Points: make([]Point3D, 0, capacity)}
}

func (pc *PointCloud) Len() int {
	if pc == nil {
		return 0
	}
	return len(pc.Points)
}

func (pc *PointCloud) Append(ps ...Point3D) {
	pc.Points = append(pc.Points, ps...)
}

// AppendCloud copies every point of other onto the end of pc.
func (pc *PointCloud) AppendCloud(other *PointCloud) {
	if other == nil {
		return
	}
	pc.Points = append(pc.Points, other.Points...)
}

// Clone is a deep copy; no point storage is shared with pc.
func (pc *PointCloud) Clone() *PointCloud {
	out := &PointCloud{Points: make([]Point3D, len(pc.Points))}
	copy(out.Points, pc.Points)
	return out
}

// Transform applies t to every point in place.
func (pc *PointCloud) Transform(t Transform) {
	for i := range pc.Points {
		pc.Points[i].ApplyTransform(t)
	}
}

// Filter keeps the points v contains, in order, and returns how many were dropped.
func (pc *PointCloud) Filter(v Volume) int {
	kept := pc.Points[:0]
	for _, p := range pc.Points {
		if v.ContainsPoint(p) {
			kept = append(kept, p)
		}
	}
	dropped := len(pc.Points) - len(kept)
	pc.Points = kept
	return dropped
}

func (pc *PointCloud) Centroid() r3.Vector {
	if pc.Len() == 0 {
		return r3.Vector{}
	}
	sum := r3.Vector{}
	for _, p := range pc.Points {
		sum = sum.Add(p.Vector())
	}
	return sum.Mul(1 / float64(len(pc.Points)))
}

// ToRDK converts to an rdk point cloud for PCD output and camera serving.
// Coordinates are scaled by unitScale (1000 turns meters into the millimeters rdk clouds use).
// Points landing on the same position collapse into one, as rdk clouds are keyed by position.
func (pc *PointCloud) ToRDK(unitScale float64) (pointcloud.PointCloud, error) {
	out := pointcloud.NewBasicPointCloud(pc.Len())
	for _, p := range pc.Points {
		if err := out.Set(p.Vector().Mul(unitScale), pointcloud.NewColoredData(p.Color())); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FromRDK converts an rdk point cloud, dividing coordinates by unitScale.
func FromRDK(in pointcloud.PointCloud, unitScale float64) *PointCloud {
	out := NewPointCloud(in.Size())
	in.Iterate(0, 0, func(v r3.Vector, d pointcloud.Data) bool {
		p := PointFromVector(v.Mul(1 / unitScale))
		if d != nil && d.HasColor() {
			p.R, p.G, p.B = d.RGB255()
		}
		out.Append(p)
		return true
	})
	return out
}
