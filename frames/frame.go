// Package frames is how recorded depth and color frames reach the reconstruction pipeline.
package frames

import (
	"context"
	"fmt"
	"image"

	"go.viam.com/rdk/utils"
)

// Format describes how to index one stream's sample array.
type Format struct {
	Width         int `json:"width"`
	Height        int `json:"height"`
	BytesPerPixel int `json:"bytes_per_pixel"`

	// DepthShift is how many low bits of a raw depth sample are not depth (3 for packed
	// Kinect samples carrying a player index, 0 for plain millimetres).
	DepthShift uint `json:"depth_shift,omitempty"`
}

func (f Format) Pixels() int {
	return f.Width * f.Height
}

func (f Format) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

func (f Format) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("bad frame size %dx%d", f.Width, f.Height)
	}
	if f.BytesPerPixel <= 0 {
		return fmt.Errorf("bad bytes per pixel %d", f.BytesPerPixel)
	}
	return nil
}

// Frame is one depth and color capture. Color is stored BGR(A), like the capture hardware delivers it.
// A Frame is not modified after it is fetched.
type Frame struct {
	Index     int
	Timestamp float64

	Depth       []uint16
	DepthFormat Format

	Color       []byte
	ColorFormat Format
}

func (f *Frame) Validate() error {
	if err := f.DepthFormat.Validate(); err != nil {
		return fmt.Errorf("depth: %w", err)
	}
	if err := f.ColorFormat.Validate(); err != nil {
		return fmt.Errorf("color: %w", err)
	}
	if len(f.Depth) != f.DepthFormat.Pixels() {
		return fmt.Errorf("frame %d has %d depth samples, want %d", f.Index, len(f.Depth), f.DepthFormat.Pixels())
	}
	if want := f.ColorFormat.Pixels() * f.ColorFormat.BytesPerPixel; len(f.Color) != want {
		return fmt.Errorf("frame %d has %d color bytes, want %d", f.Index, len(f.Color), want)
	}
	if f.ColorFormat.BytesPerPixel < 3 {
		return fmt.Errorf("frame %d color needs at least 3 bytes per pixel", f.Index)
	}
	return nil
}

// NewBlankFrame allocates a frame with zero depth and black color.
func NewBlankFrame(index int, timestamp float64, depthFormat, colorFormat Format) *Frame {
	return &Frame{
		Index:       index,
		Timestamp:   timestamp,
		Depth:       make([]uint16, depthFormat.Pixels()),
		DepthFormat: depthFormat,
		Color:       make([]byte, colorFormat.Pixels()*colorFormat.BytesPerPixel),
		ColorFormat: colorFormat,
	}
}

// SetRGB and SetDepth are for building frames; fetched frames must not be modified.
func (f *Frame) SetRGB(x, y int, r, g, b uint8) {
	i := (y*f.ColorFormat.Width + x) * f.ColorFormat.BytesPerPixel
	f.Color[i], f.Color[i+1], f.Color[i+2] = b, g, r
	if f.ColorFormat.BytesPerPixel > 3 {
		f.Color[i+3] = 255
	}
}

// SetDepth stores a depth value, packing it by the format's DepthShift.
func (f *Frame) SetDepth(x, y int, depth uint16) {
	f.Depth[y*f.DepthFormat.Width+x] = depth << f.DepthFormat.DepthShift
}

// RGB returns the color at a pixel of the color frame.
func (f *Frame) RGB(x, y int) (r, g, b uint8) {
	i := (y*f.ColorFormat.Width + x) * f.ColorFormat.BytesPerPixel
	return f.Color[i+2], f.Color[i+1], f.Color[i]
}

// DecodeDepth strips the packed low bits from every raw sample. Samples are independent,
// so the work is spread over all cores.
func DecodeDepth(raw []uint16, format Format) []uint16 {
	out := make([]uint16, len(raw))
	if format.DepthShift == 0 {
		copy(out, raw)
		return out
	}
	shift := format.DepthShift
	utils.ParallelForEachPixel(image.Point{format.Width, format.Height}, func(x, y int) {
		i := y*format.Width + x
		out[i] = raw[i] >> shift
	})
	return out
}

// DecodedDepth is DecodeDepth applied to this frame.
func (f *Frame) DecodedDepth() []uint16 {
	return DecodeDepth(f.Depth, f.DepthFormat)
}

// Source gives random access to a recording.
type Source interface {
	Len() int
	DepthFormat() Format
	ColorFormat() Format
	Frame(ctx context.Context, i int) (*Frame, error)
}

// MemorySource serves frames already in memory. All frames must share the first frame's formats.
type MemorySource struct {
	Frames []*Frame
}

func NewMemorySource(fs ...*Frame) *MemorySource {
	return &MemorySource{Frames: fs}
}

func (ms *MemorySource) Len() int {
	return len(ms.Frames)
}

func (ms *MemorySource) DepthFormat() Format {
	if len(ms.Frames) == 0 {
		return Format{}
	}
	return ms.Frames[0].DepthFormat
}

func (ms *MemorySource) ColorFormat() Format {
	if len(ms.Frames) == 0 {
		return Format{}
	}
	return ms.Frames[0].ColorFormat
}

func (ms *MemorySource) Frame(ctx context.Context, i int) (*Frame, error) {
	if i < 0 || i >= len(ms.Frames) {
		return nil, fmt.Errorf("frame %d out of range [0, %d)", i, len(ms.Frames))
	}
	return ms.Frames[i], nil
}
