package geometry

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const minSample = 4

// RANSACOptions controls FindHomography.
type RANSACOptions struct {
	// Threshold is the maximum reprojection error, in pixels, for a pair to
	// count as an inlier.
	Threshold     float64
	MaxIterations int
	Confidence    float64
	// Seed makes sampling reproducible.
	Seed int64
}

// DefaultRANSACOptions returns the options used when none are configured.
func DefaultRANSACOptions() RANSACOptions {
	return RANSACOptions{
		Threshold:     2,
		MaxIterations: 2000,
		Confidence:    0.995,
		Seed:          1,
	}
}

// FindHomography robustly fits the transform mapping src[i] to dst[i].
//
// It returns a nil homography (and a nil error) when fewer than four pairs
// agree on a model within the threshold. The returned flags mark the pairs
// that are inliers of the returned model.
func FindHomography(src, dst []Point, opts RANSACOptions) (*Homography, []bool, error) {
	if len(src) != len(dst) {
		return nil, nil, errors.Errorf("point count mismatch: %d src, %d dst", len(src), len(dst))
	}
	if opts.Threshold <= 0 {
		return nil, nil, errors.Errorf("reprojection threshold must be positive, got %v", opts.Threshold)
	}
	n := len(src)
	inliers := make([]bool, n)
	if n < minSample {
		return nil, inliers, nil
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	sample := make([]int, minSample)
	sSrc := make([]Point, minSample)
	sDst := make([]Point, minSample)

	var best *mat.Dense
	bestCount := 0
	iterations := opts.MaxIterations
	for it := 0; it < iterations; it++ {
		drawSample(rng, n, sample)
		for i, idx := range sample {
			sSrc[i], sDst[i] = src[idx], dst[idx]
		}
		if collinear(sSrc) || collinear(sDst) {
			continue
		}
		h, err := fitDLT(sSrc, sDst)
		if err != nil {
			continue
		}
		count := markInliers(h, src, dst, opts.Threshold, nil)
		if count > bestCount {
			best, bestCount = h, count
			if need := requiredIterations(count, n, opts.Confidence); need < iterations {
				iterations = need
			}
		}
	}
	if best == nil || bestCount < minSample {
		return nil, inliers, nil
	}

	markInliers(best, src, dst, opts.Threshold, inliers)
	var cSrc, cDst []Point
	for i, ok := range inliers {
		if ok {
			cSrc = append(cSrc, src[i])
			cDst = append(cDst, dst[i])
		}
	}
	if refit, err := fitDLT(cSrc, cDst); err == nil {
		refined := make([]bool, n)
		if markInliers(refit, src, dst, opts.Threshold, refined) >= bestCount {
			best, inliers = refit, refined
		}
	}

	hom, err := newHomography(best)
	if err != nil {
		return nil, make([]bool, n), nil
	}
	return hom, inliers, nil
}

func drawSample(rng *rand.Rand, n int, out []int) {
	for i := range out {
		for {
			v := rng.Intn(n)
			if !containsInt(out[:i], v) {
				out[i] = v
				break
			}
		}
	}
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// collinear reports whether any three of the points are (nearly) on a line.
func collinear(pts []Point) bool {
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			for k := j + 1; k < len(pts); k++ {
				a, b, c := pts[i], pts[j], pts[k]
				cross := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
				if math.Abs(cross) < 1e-6 {
					return true
				}
			}
		}
	}
	return false
}

// markInliers counts pairs within threshold of h, recording them in flags
// when flags is non-nil.
func markInliers(h *mat.Dense, src, dst []Point, threshold float64, flags []bool) int {
	count := 0
	for i := range src {
		q, ok := project(h, src[i])
		in := ok && q.Dist(dst[i]) <= threshold
		if in {
			count++
		}
		if flags != nil {
			flags[i] = in
		}
	}
	return count
}

func project(h *mat.Dense, p Point) (Point, bool) {
	w := h.At(2, 0)*p.X + h.At(2, 1)*p.Y + h.At(2, 2)
	if math.Abs(w) < 1e-12 {
		return Point{}, false
	}
	return Pt(
		(h.At(0, 0)*p.X+h.At(0, 1)*p.Y+h.At(0, 2))/w,
		(h.At(1, 0)*p.X+h.At(1, 1)*p.Y+h.At(1, 2))/w,
	), true
}

func requiredIterations(inliers, total int, confidence float64) int {
	w := float64(inliers) / float64(total)
	if w >= 1 {
		return 1
	}
	denom := math.Log(1 - math.Pow(w, minSample))
	if denom >= 0 || math.IsNaN(denom) {
		return math.MaxInt32
	}
	return int(math.Ceil(math.Log(1-confidence) / denom))
}

// fitDLT solves for the homography with the normalised direct linear
// transform. With more than four pairs the result is the algebraic least
// squares fit.
func fitDLT(src, dst []Point) (*mat.Dense, error) {
	if len(src) < minSample || len(src) != len(dst) {
		return nil, errors.Wrapf(ErrDegenerate, "need %d pairs, got %d", minSample, len(src))
	}
	ns, ts, err := normalise(src)
	if err != nil {
		return nil, err
	}
	nd, td, err := normalise(dst)
	if err != nil {
		return nil, err
	}

	rows := 2 * len(ns)
	if rows < 9 {
		// pad with a zero row so the system is at least square
		rows = 9
	}
	a := mat.NewDense(rows, 9, nil)
	for i := range ns {
		X, Y := ns[i].X, ns[i].Y
		x, y := nd[i].X, nd[i].Y
		a.SetRow(2*i, []float64{-X, -Y, -1, 0, 0, 0, x * X, x * Y, x})
		a.SetRow(2*i+1, []float64{0, 0, 0, -X, -Y, -1, y * X, y * Y, y})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFullV) {
		return nil, errors.Wrap(ErrDegenerate, "svd failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hn.Set(i/3, i%3, v.At(i, 8))
	}

	// H = Td^-1 * Hn * Ts
	var tmp, h mat.Dense
	tmp.Mul(td.inverse(), hn)
	h.Mul(&tmp, ts.matrix())
	if s := h.At(2, 2); math.Abs(s) > 1e-12 {
		h.Scale(1/s, &h)
	}
	return &h, nil
}

// similarity is the isotropic scaling used to condition the DLT system.
type similarity struct {
	s, cx, cy float64
}

func (t similarity) matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		t.s, 0, -t.s * t.cx,
		0, t.s, -t.s * t.cy,
		0, 0, 1,
	})
}

func (t similarity) inverse() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1 / t.s, 0, t.cx,
		0, 1 / t.s, t.cy,
		0, 0, 1,
	})
}

func normalise(pts []Point) ([]Point, similarity, error) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(pts))
	cx, cy = cx/n, cy/n

	var mean float64
	for _, p := range pts {
		mean += math.Hypot(p.X-cx, p.Y-cy)
	}
	mean /= n
	if mean < 1e-12 {
		return nil, similarity{}, errors.Wrap(ErrDegenerate, "coincident points")
	}

	t := similarity{s: math.Sqrt2 / mean, cx: cx, cy: cy}
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = Pt(t.s*(p.X-cx), t.s*(p.Y-cy))
	}
	return out, t, nil
}
