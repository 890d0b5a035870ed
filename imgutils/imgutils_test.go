package imgutils

import (
	"image"
	"testing"

	"go.viam.com/test"
)

func TestHue(t *testing.T) {
	test.That(t, Hue(255, 0, 0), test.ShouldEqual, 0.0)
	test.That(t, Hue(0, 255, 0), test.ShouldEqual, 120.0)
	test.That(t, Hue(0, 0, 255), test.ShouldEqual, 240.0)
	test.That(t, Hue(255, 255, 0), test.ShouldAlmostEqual, 60.0, 1e-9)
	test.That(t, Hue(255, 0, 128), test.ShouldBeGreaterThan, 300.0)

	test.That(t, Hue(10, 10, 10), test.ShouldBeLessThan, 0.0)
	test.That(t, Hue(0, 0, 0), test.ShouldEqual, float64(NoHue))
	test.That(t, Hue(255, 255, 255), test.ShouldEqual, float64(NoHue))
}

func TestHueWindow(t *testing.T) {
	w := NewHueWindow(120, 10)
	test.That(t, w.Contains(120), test.ShouldBeTrue)
	test.That(t, w.Contains(110), test.ShouldBeFalse)
	test.That(t, w.Contains(130), test.ShouldBeFalse)
	test.That(t, w.Contains(129.9), test.ShouldBeTrue)

	// no wrap around 0
	red := NewHueWindow(0, 10)
	test.That(t, red.Contains(5), test.ShouldBeTrue)
	test.That(t, red.Contains(355), test.ShouldBeFalse)
	test.That(t, red.Contains(NoHue), test.ShouldBeFalse)
}

func TestMask(t *testing.T) {
	m := NewMask(10, 5)
	test.That(t, m.Count(), test.ShouldEqual, 0)
	_, ok := m.Centroid()
	test.That(t, ok, test.ShouldBeFalse)

	m.Set(2, 1, 1)
	m.Set(3, 1, 1)
	m.Set(2, 2, 1)
	m.Set(3, 2, 1)
	test.That(t, m.Count(), test.ShouldEqual, 4)

	c, ok := m.Centroid()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, c, test.ShouldResemble, image.Point{2, 1})

	img := m.ToImage()
	test.That(t, img.GrayAt(3, 2).Y, test.ShouldEqual, uint8(255))
	test.That(t, img.GrayAt(4, 2).Y, test.ShouldEqual, uint8(0))
}
