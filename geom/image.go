package geom

import (
	"image"
	"math"
)

// PCToImage renders a top-down view of the cloud: X across, Z down, keeping the highest point
// per pixel. pixelsPerUnit sets the scale (500 turns a 0.2m turntable into 100px).
func PCToImage(pc *PointCloud, pixelsPerUnit float64) image.Image {
	if pc.Len() == 0 {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}

	minX, minZ := math.Inf(1), math.Inf(1)
	maxX, maxZ := math.Inf(-1), math.Inf(-1)
	for _, p := range pc.Points {
		minX = math.Min(minX, float64(p.X))
		maxX = math.Max(maxX, float64(p.X))
		minZ = math.Min(minZ, float64(p.Z))
		maxZ = math.Max(maxZ, float64(p.Z))
	}

	w := int(math.Ceil((maxX-minX)*pixelsPerUnit)) + 1
	h := int(math.Ceil((maxZ-minZ)*pixelsPerUnit)) + 1
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	bestY := make([]float32, w*h)
	seen := make([]bool, w*h)
	for _, p := range pc.Points {
		x := int((float64(p.X) - minX) * pixelsPerUnit)
		y := int((float64(p.Z) - minZ) * pixelsPerUnit)
		key := y*w + x
		if seen[key] && p.Y < bestY[key] {
			continue
		}
		seen[key] = true
		bestY[key] = p.Y
		img.Set(x, y, p.Color())
	}

	return img
}
