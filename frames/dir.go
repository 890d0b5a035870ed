package frames

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"go.viam.com/rdk/rimage"
)

const indexFile = "recording.json"

// recordingIndex is the on-disk description of a recording directory.
type recordingIndex struct {
	DepthFormat Format    `json:"depth_format"`
	ColorFormat Format    `json:"color_format"`
	Timestamps  []float64 `json:"timestamps"`
}

// DirSource reads a recording laid out as recording.json plus, per frame,
// color-NNNNNN.png (8-bit color) and depth-NNNNNN.png (16-bit raw samples).
type DirSource struct {
	dir   string
	index recordingIndex
}

func OpenDir(dir string) (*DirSource, error) {
	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		return nil, err
	}
	ds := &DirSource{dir: dir}
	if err := json.Unmarshal(data, &ds.index); err != nil {
		return nil, fmt.Errorf("cannot parse %s in %s: %w", indexFile, dir, err)
	}
	if err := ds.index.DepthFormat.Validate(); err != nil {
		return nil, fmt.Errorf("depth format: %w", err)
	}
	if err := ds.index.ColorFormat.Validate(); err != nil {
		return nil, fmt.Errorf("color format: %w", err)
	}
	return ds, nil
}

func colorFile(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("color-%06d.png", i))
}

func depthFile(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("depth-%06d.png", i))
}

func (ds *DirSource) Len() int {
	return len(ds.index.Timestamps)
}

func (ds *DirSource) DepthFormat() Format {
	return ds.index.DepthFormat
}

func (ds *DirSource) ColorFormat() Format {
	return ds.index.ColorFormat
}

func (ds *DirSource) Frame(ctx context.Context, i int) (*Frame, error) {
	if i < 0 || i >= ds.Len() {
		return nil, fmt.Errorf("frame %d out of range [0, %d)", i, ds.Len())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	colorImg, err := rimage.ReadImageFromFile(colorFile(ds.dir, i))
	if err != nil {
		return nil, err
	}
	depth, err := readDepth(depthFile(ds.dir, i))
	if err != nil {
		return nil, err
	}

	f := &Frame{
		Index:       i,
		Timestamp:   ds.index.Timestamps[i],
		Depth:       depth,
		DepthFormat: ds.index.DepthFormat,
		Color:       imageToBGRA(colorImg, ds.index.ColorFormat),
		ColorFormat: ds.index.ColorFormat,
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func readDepth(fn string) (depth []uint16, err error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("cannot decode depth %s: %w", fn, err)
	}

	b := img.Bounds()
	depth = make([]uint16, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			depth[(y-b.Min.Y)*b.Dx()+(x-b.Min.X)] = color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y
		}
	}
	return depth, nil
}

func imageToBGRA(img image.Image, format Format) []byte {
	bpp := format.BytesPerPixel
	out := make([]byte, format.Pixels()*bpp)
	b := img.Bounds()
	for y := 0; y < format.Height && y < b.Dy(); y++ {
		for x := 0; x < format.Width && x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := (y*format.Width + x) * bpp
			out[i] = c.B
			out[i+1] = c.G
			out[i+2] = c.R
			if bpp > 3 {
				out[i+3] = c.A
			}
		}
	}
	return out
}

// ColorImage renders the color frame as an image.
func (f *Frame) ColorImage() *image.NRGBA {
	img := image.NewNRGBA(f.ColorFormat.Bounds())
	for y := 0; y < f.ColorFormat.Height; y++ {
		for x := 0; x < f.ColorFormat.Width; x++ {
			r, g, b := f.RGB(x, y)
			img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}

// DepthImage renders the raw depth samples as a 16-bit image.
func (f *Frame) DepthImage() *image.Gray16 {
	img := image.NewGray16(f.DepthFormat.Bounds())
	for i, d := range f.Depth {
		img.SetGray16(i%f.DepthFormat.Width, i/f.DepthFormat.Width, color.Gray16{Y: d})
	}
	return img
}

// WriteDir stores frames in the layout OpenDir reads. Frame indices are renumbered from 0.
func WriteDir(dir string, fs []*Frame) error {
	if len(fs) == 0 {
		return fmt.Errorf("no frames to write")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	index := recordingIndex{
		DepthFormat: fs[0].DepthFormat,
		ColorFormat: fs[0].ColorFormat,
	}
	for i, f := range fs {
		if err := f.Validate(); err != nil {
			return err
		}
		index.Timestamps = append(index.Timestamps, f.Timestamp)

		if err := rimage.WriteImageToFile(colorFile(dir, i), f.ColorImage()); err != nil {
			return err
		}
		if err := writeDepth(depthFile(dir, i), f.DepthImage()); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, indexFile), data, 0o644)
}

func writeDepth(fn string, img *image.Gray16) (err error) {
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("cannot write (%s): %w", fn, err)
	}
	return nil
}
