package match

import (
	"time"

	"github.com/pkg/errors"

	"github.com/Dzusmin/surfmatch/internal/accel"
	"github.com/Dzusmin/surfmatch/internal/features"
	"github.com/Dzusmin/surfmatch/internal/geometry"
)

// ErrInput is returned for unusable images or parameters.
var ErrInput = errors.New("invalid input")

// Params are the tunables of one matching run.
type Params struct {
	// Detector is the feature detector: surf, sift or orb.
	Detector         string
	HessianThreshold float64
	// K is the number of nearest model descriptors kept per observed one.
	K int
	// Uniqueness is the ratio the best distance must stay under, relative to
	// the second best.
	Uniqueness     float64
	ScaleIncrement float64
	RotationBins   int
	// ReprojThreshold is the RANSAC inlier tolerance in pixels.
	ReprojThreshold float64
	// MinInliers gates the size/orientation vote and the homography fit.
	MinInliers int
}

// DefaultParams returns SURF with a hessian threshold of 300, k = 2, a 0.8
// uniqueness ratio, 1.5 scale increment, 20 rotation bins, a 2px reprojection
// tolerance and 4 minimum inliers.
func DefaultParams() Params {
	return Params{
		Detector:         "surf",
		HessianThreshold: 300,
		K:                2,
		Uniqueness:       0.8,
		ScaleIncrement:   1.5,
		RotationBins:     20,
		ReprojThreshold:  2,
		MinInliers:       4,
	}
}

// Validate reports parameters that cannot produce a meaningful run.
func (p Params) Validate() error {
	switch {
	case p.HessianThreshold <= 0:
		return errors.Wrapf(ErrInput, "hessian threshold must be positive, got %v", p.HessianThreshold)
	case p.K < 2:
		return errors.Wrapf(ErrInput, "k must be at least 2, got %d", p.K)
	case p.Uniqueness <= 0 || p.Uniqueness > 1:
		return errors.Wrapf(ErrInput, "uniqueness must be in (0,1], got %v", p.Uniqueness)
	case p.ScaleIncrement <= 1:
		return errors.Wrapf(ErrInput, "scale increment must be > 1, got %v", p.ScaleIncrement)
	case p.RotationBins < 1:
		return errors.Wrapf(ErrInput, "rotation bins must be >= 1, got %d", p.RotationBins)
	case p.ReprojThreshold <= 0:
		return errors.Wrapf(ErrInput, "reprojection threshold must be positive, got %v", p.ReprojThreshold)
	case p.MinInliers < 4:
		return errors.Wrapf(ErrInput, "min inliers must be at least 4, got %d", p.MinInliers)
	}
	return nil
}

func (p Params) backend() BackendParams {
	return BackendParams{Detector: p.Detector, HessianThreshold: p.HessianThreshold, K: p.K}
}

// Result is the outcome of FindMatch.
type Result struct {
	Elapsed time.Duration
	Path    accel.Path
	Backend string

	ModelKeyPoints    []features.KeyPoint
	ObservedKeyPoints []features.KeyPoint
	Matches           features.MatchGroups
	Mask              features.Mask

	// UniqueCount is the number of groups left after the uniqueness vote,
	// ConsistentCount after the size/orientation vote (equal to UniqueCount
	// when that vote was skipped) and InlierCount at the end.
	UniqueCount     int
	ConsistentCount int
	InlierCount     int

	// Homography maps model to observed coordinates. nil when the model was
	// not localised.
	Homography *geometry.Homography
}

// ElapsedMillis returns the matching time in whole milliseconds.
func (r *Result) ElapsedMillis() int64 {
	return r.Elapsed.Milliseconds()
}

// Found reports whether the model was localised.
func (r *Result) Found() bool {
	return r.Homography != nil
}
