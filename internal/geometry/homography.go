// Package geometry holds the projective maths used to localise a model
// inside an observed image: points, 3x3 homographies and a RANSAC
// homography estimator built on gonum.
package geometry

import (
	"fmt"
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerate is returned when a transform cannot be built from the input,
// e.g. a singular matrix or coincident points.
var ErrDegenerate = errors.New("degenerate homography")

// Point is a sub-pixel image location.
type Point struct {
	X, Y float64
}

// Pt is shorthand for Point{x, y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Add returns p translated by q.
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// Dist returns the euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Round returns the nearest integer image point.
func (p Point) Round() image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}

// RectCorners returns the corners of r in the order left-bottom,
// right-bottom, right-top, left-top.
func RectCorners(r image.Rectangle) []Point {
	return []Point{
		Pt(float64(r.Min.X), float64(r.Max.Y)),
		Pt(float64(r.Max.X), float64(r.Max.Y)),
		Pt(float64(r.Max.X), float64(r.Min.Y)),
		Pt(float64(r.Min.X), float64(r.Min.Y)),
	}
}

// Homography is a 3x3 projective transform normalised so that h22 == 1.
// A nil *Homography means no transform could be estimated.
type Homography struct {
	m *mat.Dense
}

// NewHomography builds a homography from row-major values.
func NewHomography(v [9]float64) (*Homography, error) {
	return newHomography(mat.NewDense(3, 3, v[:]))
}

// Translation returns the homography that shifts points by (dx, dy).
func Translation(dx, dy float64) *Homography {
	h, _ := NewHomography([9]float64{1, 0, dx, 0, 1, dy, 0, 0, 1})
	return h
}

func newHomography(m mat.Matrix) (*Homography, error) {
	if r, c := m.Dims(); r != 3 || c != 3 {
		return nil, errors.Wrapf(ErrDegenerate, "want 3x3 matrix, got %dx%d", r, c)
	}
	d := mat.DenseCopyOf(m)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if v := d.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Wrap(ErrDegenerate, "non-finite coefficient")
			}
		}
	}
	if s := d.At(2, 2); math.Abs(s) > 1e-12 {
		d.Scale(1/s, d)
	}
	if math.Abs(mat.Det(d)) < 1e-12 {
		return nil, errors.Wrap(ErrDegenerate, "singular matrix")
	}
	return &Homography{m: d}, nil
}

// At returns the coefficient at row r, column c.
func (h *Homography) At(r, c int) float64 {
	return h.m.At(r, c)
}

// Values returns the coefficients in row-major order.
func (h *Homography) Values() [9]float64 {
	var v [9]float64
	for i := range v {
		v[i] = h.m.At(i/3, i%3)
	}
	return v
}

// Project maps p through the transform. ok is false when p maps to infinity.
func (h *Homography) Project(p Point) (q Point, ok bool) {
	var out mat.VecDense
	out.MulVec(h.m, mat.NewVecDense(3, []float64{p.X, p.Y, 1}))
	w := out.AtVec(2)
	if math.Abs(w) < 1e-12 {
		return Point{}, false
	}
	return Pt(out.AtVec(0)/w, out.AtVec(1)/w), true
}

// ProjectAll maps every point through the transform. Points at infinity are
// reported as an error since they cannot be drawn or compared.
func (h *Homography) ProjectAll(pts []Point) ([]Point, error) {
	out := make([]Point, len(pts))
	for i, p := range pts {
		q, ok := h.Project(p)
		if !ok {
			return nil, errors.Wrapf(ErrDegenerate, "point %d projects to infinity", i)
		}
		out[i] = q
	}
	return out, nil
}

func (h *Homography) String() string {
	v := h.Values()
	return fmt.Sprintf("[%.4f %.4f %.4f; %.4f %.4f %.4f; %.6f %.6f %.4f]",
		v[0], v[1], v[2], v[3], v[4], v[5], v[6], v[7], v[8])
}
