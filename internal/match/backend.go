package match

import (
	"github.com/Dzusmin/surfmatch/internal/features"
	"github.com/Dzusmin/surfmatch/internal/geometry"
)

// BackendParams is the part of Params a backend needs.
type BackendParams struct {
	Detector         string
	HessianThreshold float64
	K                int
}

// Correspondences is what a backend produces for one image pair: both
// keypoint sets and, for every observed descriptor, its k nearest model
// descriptors.
type Correspondences struct {
	ModelKeyPoints    []features.KeyPoint
	ObservedKeyPoints []features.KeyPoint
	Matches           features.MatchGroups
}

// Backend extracts features from both images and matches them.
type Backend interface {
	Name() string
	DetectAndMatch(model, observed features.Image, p BackendParams) (*Correspondences, error)
}

// HomographySolver fits a model to observed transform from point pairs. A nil
// homography with a nil error means no transform was found.
type HomographySolver interface {
	FindHomography(src, dst []geometry.Point, threshold float64) (*geometry.Homography, []bool, error)
}

// NativeSolver fits homographies in pure Go.
type NativeSolver struct {
	Options geometry.RANSACOptions
}

// NewNativeSolver returns a NativeSolver with the default RANSAC options.
func NewNativeSolver() *NativeSolver {
	return &NativeSolver{Options: geometry.DefaultRANSACOptions()}
}

// FindHomography implements HomographySolver.
func (s *NativeSolver) FindHomography(src, dst []geometry.Point, threshold float64) (*geometry.Homography, []bool, error) {
	opts := s.Options
	opts.Threshold = threshold
	return geometry.FindHomography(src, dst, opts)
}
