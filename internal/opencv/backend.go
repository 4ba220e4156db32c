package opencv

import (
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"github.com/Dzusmin/surfmatch/internal/features"
	"github.com/Dzusmin/surfmatch/internal/knn"
	"github.com/Dzusmin/surfmatch/internal/match"
)

// frame is the output of one extraction. des must be closed.
type frame struct {
	kps []features.KeyPoint
	des gocv.Mat
}

func (f *frame) Close() error {
	return f.des.Close()
}

func detectFeatures(d detector, img features.Image) (*frame, error) {
	src, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	mask, err := roiMask(img)
	if err != nil {
		return nil, err
	}
	defer mask.Close()

	kps, des := d.DetectAndCompute(src, mask)
	return &frame{kps: fromKeyPoints(kps, img.Bounds().Min), des: des}, nil
}

type knnMatcher interface {
	KnnMatch(query, train gocv.Mat, k int) [][]gocv.DMatch
	Close() error
}

// StandardBackend extracts both images one after the other and matches them
// with an OpenCV matcher.
type StandardBackend struct {
	// Flann selects the FLANN based matcher instead of brute force. Only
	// float descriptors are supported with it.
	Flann  bool
	logger golog.Logger
}

// NewStandardBackend returns a brute force StandardBackend.
func NewStandardBackend(logger golog.Logger) *StandardBackend {
	return &StandardBackend{logger: logger}
}

// Name implements match.Backend.
func (b *StandardBackend) Name() string {
	if b.Flann {
		return "opencv-flann"
	}
	return "opencv"
}

// DetectAndMatch implements match.Backend.
func (b *StandardBackend) DetectAndMatch(model, observed features.Image, p match.BackendParams) (*match.Correspondences, error) {
	det, err := lookupDetector(p.Detector)
	if err != nil {
		return nil, err
	}
	if b.Flann && det.kind == features.BinaryDescriptors {
		return nil, errors.Errorf("flann matcher does not support %s descriptors", det.name)
	}

	d := det.newDetector(p.HessianThreshold)
	defer d.Close()

	start := time.Now()
	mf, err := detectFeatures(d, model)
	if err != nil {
		return nil, errors.Wrap(err, "model")
	}
	defer mf.Close()
	of, err := detectFeatures(d, observed)
	if err != nil {
		return nil, errors.Wrap(err, "observed")
	}
	defer of.Close()
	b.logger.Debugw("features detected", "detector", det.name, "model_kps", len(mf.kps), "observed_kps", len(of.kps), "took", time.Since(start))

	corr := &match.Correspondences{ModelKeyPoints: mf.kps, ObservedKeyPoints: of.kps}
	if mf.des.Empty() || of.des.Empty() {
		return corr, nil
	}

	var matcher knnMatcher
	if b.Flann {
		m := gocv.NewFlannBasedMatcher()
		matcher = &m
	} else {
		m := gocv.NewBFMatcherWithParams(det.norm, false)
		matcher = &m
	}
	defer matcher.Close()

	start = time.Now()
	corr.Matches = fromDMatches(matcher.KnnMatch(of.des, mf.des, p.K))
	b.logger.Debugw("descriptors matched", "groups", len(corr.Matches), "took", time.Since(start))
	return corr, nil
}

// ParallelBackend extracts both images concurrently, each with its own
// detector, and matches descriptors with the parallel pure Go matcher.
type ParallelBackend struct {
	matcher *knn.Matcher
	logger  golog.Logger
}

// NewParallelBackend returns a ParallelBackend with the given number of
// matching workers; workers < 1 means GOMAXPROCS.
func NewParallelBackend(workers int, logger golog.Logger) *ParallelBackend {
	return &ParallelBackend{matcher: knn.NewMatcher(workers), logger: logger}
}

// Name implements match.Backend.
func (b *ParallelBackend) Name() string { return "opencv-parallel" }

// DetectAndMatch implements match.Backend.
func (b *ParallelBackend) DetectAndMatch(model, observed features.Image, p match.BackendParams) (*match.Correspondences, error) {
	det, err := lookupDetector(p.Detector)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var descs [2]features.Descriptors
	var kps [2][]features.KeyPoint
	var g errgroup.Group
	for i, img := range []features.Image{model, observed} {
		i, img := i, img
		g.Go(func() error {
			d := det.newDetector(p.HessianThreshold)
			defer d.Close()
			f, err := detectFeatures(d, img)
			if err != nil {
				return err
			}
			defer f.Close()
			descs[i], err = fromDescriptors(f.des, det.kind)
			kps[i] = f.kps
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "extract features")
	}
	b.logger.Debugw("features detected", "detector", det.name, "model_kps", len(kps[0]), "observed_kps", len(kps[1]), "took", time.Since(start))

	start = time.Now()
	groups, err := b.matcher.KnnMatch(descs[1], descs[0], p.K)
	if err != nil {
		return nil, errors.Wrap(err, "match descriptors")
	}
	b.logger.Debugw("descriptors matched", "groups", len(groups), "workers", b.matcher.Workers(), "took", time.Since(start))

	return &match.Correspondences{ModelKeyPoints: kps[0], ObservedKeyPoints: kps[1], Matches: groups}, nil
}
