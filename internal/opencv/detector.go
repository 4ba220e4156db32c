// Package opencv implements the matching backends and the homography solver
// on top of gocv.
package opencv

import (
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"

	"github.com/Dzusmin/surfmatch/internal/features"
)

// Detector names accepted by the backends.
const (
	SURF  = "surf"
	SIFT  = "sift"
	ORB   = "orb"
	AKAZE = "akaze"
	BRISK = "brisk"
)

// Detectors lists the supported detector names.
func Detectors() []string {
	return []string{SURF, SIFT, ORB, AKAZE, BRISK}
}

type detector interface {
	DetectAndCompute(src gocv.Mat, mask gocv.Mat) ([]gocv.KeyPoint, gocv.Mat)
	Close() error
}

// detectorInfo tells how the descriptors of a detector are compared.
type detectorInfo struct {
	name string
	kind features.DescriptorKind
	norm gocv.NormType
}

func lookupDetector(name string) (detectorInfo, error) {
	switch n := strings.ToLower(name); n {
	case SURF, SIFT, "":
		if n == "" {
			n = SURF
		}
		return detectorInfo{name: n, kind: features.FloatDescriptors, norm: gocv.NormL2}, nil
	case ORB, AKAZE, BRISK:
		return detectorInfo{name: n, kind: features.BinaryDescriptors, norm: gocv.NormHamming}, nil
	default:
		return detectorInfo{}, errors.Errorf("unknown detector %q (want one of %s)", name, strings.Join(Detectors(), ", "))
	}
}

// newDetector builds a fresh detector. Detectors are not safe for concurrent
// use, so every goroutine gets its own.
func (info detectorInfo) newDetector(hessianThreshold float64) detector {
	switch info.name {
	case SIFT:
		d := gocv.NewSIFT()
		return &d
	case ORB:
		d := gocv.NewORB()
		return &d
	case AKAZE:
		d := gocv.NewAKAZE()
		return &d
	case BRISK:
		d := gocv.NewBRISK()
		return &d
	default:
		d := contrib.NewSURFWithParams(hessianThreshold, 4, 3, false, false)
		return &d
	}
}
