package imgutils

import "image"

// Mask is a binary image, one byte per pixel holding 0 or 1, row major.
type Mask struct {
	Width, Height int
	Bits          []uint8
}

func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Bits: make([]uint8, width*height)}
}

func (m *Mask) At(x, y int) uint8 {
	return m.Bits[y*m.Width+x]
}

func (m *Mask) Set(x, y int, v uint8) {
	m.Bits[y*m.Width+x] = v
}

// Count is the number of set pixels, the zeroth moment.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		n += int(b)
	}
	return n
}

// Centroid returns the first order moments divided by the zeroth, truncated toward zero.
// ok is false for an empty mask.
func (m *Mask) Centroid() (image.Point, bool) {
	var sumX, sumY, total float64
	for y := 0; y < m.Height; y++ {
		row := m.Bits[y*m.Width : (y+1)*m.Width]
		for x, b := range row {
			if b == 0 {
				continue
			}
			sumX += float64(x) * float64(b)
			sumY += float64(y) * float64(b)
			total += float64(b)
		}
	}
	if total == 0 {
		return image.Point{}, false
	}
	return image.Point{X: int(sumX / total), Y: int(sumY / total)}, true
}

// ToImage renders set pixels white.
func (m *Mask) ToImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, b := range m.Bits {
		if b != 0 {
			img.Pix[(i/m.Width)*img.Stride+i%m.Width] = 255
		}
	}
	return img
}
