package geometry

import (
	"image"
	"math"
	"testing"

	"go.viam.com/test"
)

func TestRectCorners(t *testing.T) {
	c := RectCorners(image.Rect(10, 20, 110, 70))
	test.That(t, c, test.ShouldResemble, []Point{
		{10, 70}, {110, 70}, {110, 20}, {10, 20},
	})
}

func TestNewHomography(t *testing.T) {
	t.Run("normalises h22", func(t *testing.T) {
		h, err := NewHomography([9]float64{2, 0, 4, 0, 2, 6, 0, 0, 2})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, h.Values(), test.ShouldResemble, [9]float64{1, 0, 2, 0, 1, 3, 0, 0, 1})
	})
	t.Run("singular", func(t *testing.T) {
		_, err := NewHomography([9]float64{1, 2, 3, 2, 4, 6, 0, 0, 1})
		test.That(t, err, test.ShouldBeError)
	})
	t.Run("non-finite", func(t *testing.T) {
		_, err := NewHomography([9]float64{math.NaN(), 0, 0, 0, 1, 0, 0, 0, 1})
		test.That(t, err, test.ShouldBeError)
	})
}

func TestProject(t *testing.T) {
	h := Translation(30, 30)
	q, ok := h.Project(Pt(1, 2))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, q.X, test.ShouldAlmostEqual, 31)
	test.That(t, q.Y, test.ShouldAlmostEqual, 32)

	persp, err := NewHomography([9]float64{1, 0, 0, 0, 1, 0, 0.01, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	q, ok = persp.Project(Pt(100, 50))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, q.X, test.ShouldAlmostEqual, 50)
	test.That(t, q.Y, test.ShouldAlmostEqual, 25)

	_, ok = persp.Project(Pt(-100, 0))
	test.That(t, ok, test.ShouldBeFalse)
	_, err = persp.ProjectAll([]Point{{0, 0}, {-100, 0}})
	test.That(t, err, test.ShouldBeError)
}
