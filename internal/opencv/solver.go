package opencv

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/Dzusmin/surfmatch/internal/geometry"
)

// Solver fits homographies with OpenCV's RANSAC.
type Solver struct {
	MaxIterations int
	Confidence    float64
}

// NewSolver returns a Solver with 2000 iterations at 0.995 confidence.
func NewSolver() *Solver {
	return &Solver{MaxIterations: 2000, Confidence: 0.995}
}

// FindHomography implements match.HomographySolver.
func (s *Solver) FindHomography(src, dst []geometry.Point, threshold float64) (*geometry.Homography, []bool, error) {
	if len(src) != len(dst) {
		return nil, nil, errors.Errorf("point count mismatch: %d src, %d dst", len(src), len(dst))
	}
	inliers := make([]bool, len(src))
	if len(src) < 4 {
		return nil, inliers, nil
	}

	srcMat := gocv.NewMatWithSize(len(src), 1, gocv.MatTypeCV32FC2)
	defer srcMat.Close()
	dstMat := gocv.NewMatWithSize(len(dst), 1, gocv.MatTypeCV32FC2)
	defer dstMat.Close()
	for i := range src {
		srcMat.SetFloatAt(i, 0, float32(src[i].X))
		srcMat.SetFloatAt(i, 1, float32(src[i].Y))
		dstMat.SetFloatAt(i, 0, float32(dst[i].X))
		dstMat.SetFloatAt(i, 1, float32(dst[i].Y))
	}

	mask := gocv.NewMat()
	defer mask.Close()
	h := gocv.FindHomography(srcMat, dstMat, gocv.HomographyMethodRANSAC, threshold, &mask, s.MaxIterations, s.Confidence)
	defer h.Close()
	if h.Empty() {
		return nil, inliers, nil
	}

	var v [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			v[r*3+c] = h.GetDoubleAt(r, c)
		}
	}
	hom, err := geometry.NewHomography(v)
	if err != nil {
		// singular or non-finite fit
		return nil, inliers, nil
	}

	count := 0
	for i := range inliers {
		if !mask.Empty() && mask.GetUCharAt(i, 0) > 0 {
			inliers[i] = true
			count++
		}
	}
	if count < 4 {
		return nil, make([]bool, len(src)), nil
	}
	return hom, inliers, nil
}
