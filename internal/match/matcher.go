// Package match runs the model localisation pipeline: feature extraction and
// KNN matching on the selected backend, the uniqueness and size/orientation
// votes, the homography fit and the side-by-side rendering.
package match

import (
	"image"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/Dzusmin/surfmatch/internal/accel"
	"github.com/Dzusmin/surfmatch/internal/features"
	"github.com/Dzusmin/surfmatch/internal/render"
)

type options struct {
	standard    Backend
	accelerated Backend
	solver      HomographySolver
	probe       accel.Probe
	mode        accel.Mode
	logger      golog.Logger
	render      render.Options
}

// Option configures a Matcher.
type Option func(*options)

// WithStandardBackend sets the backend used on the standard path.
func WithStandardBackend(b Backend) Option {
	return func(o *options) { o.standard = b }
}

// WithAcceleratedBackend sets the backend used on the accelerated path.
func WithAcceleratedBackend(b Backend) Option {
	return func(o *options) { o.accelerated = b }
}

// WithSolver replaces the default NativeSolver.
func WithSolver(s HomographySolver) Option {
	return func(o *options) { o.solver = s }
}

// WithProbe replaces the default CPU probe.
func WithProbe(p accel.Probe) Option {
	return func(o *options) { o.probe = p }
}

// WithMode sets the path preference. The default is accel.Auto.
func WithMode(m accel.Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithLogger sets the logger.
func WithLogger(l golog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRenderOptions sets how Draw and Render draw the result.
func WithRenderOptions(r render.Options) Option {
	return func(o *options) { o.render = r }
}

// Matcher localises a model image inside observed images. The path is chosen
// once, when the Matcher is built. A Matcher keeps no state between calls.
type Matcher struct {
	params  Params
	path    accel.Path
	backend Backend
	solver  HomographySolver
	render  render.Options
	logger  golog.Logger
}

// NewMatcher validates params, probes the host and picks the backend for the
// resulting path. It fails with accel.ErrUnavailable when the accelerated
// path is required but cannot run, or when no backend is registered for the
// selected path.
func NewMatcher(params Params, opts ...Option) (*Matcher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	o := options{
		mode:   accel.Auto,
		probe:  accel.CPUProbe{},
		render: render.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = golog.Global()
	}
	if o.solver == nil {
		o.solver = NewNativeSolver()
	}

	// an accelerated path without a backend to run it is not available
	available := o.accelerated != nil && o.probe.Available()
	path, err := accel.Select(o.mode, available)
	if err != nil {
		return nil, errors.Wrapf(err, "select path (probe: %s)", o.probe.Describe())
	}
	backend := o.standard
	if path == accel.AcceleratedPath {
		backend = o.accelerated
	}
	if backend == nil {
		return nil, errors.Wrapf(accel.ErrUnavailable, "no backend registered for the %s path", path)
	}
	o.logger.Debugw("matcher ready", "path", path, "backend", backend.Name(), "probe", o.probe.Describe())

	return &Matcher{
		params:  params,
		path:    path,
		backend: backend,
		solver:  o.solver,
		render:  o.render,
		logger:  o.logger,
	}, nil
}

// Path returns the path selected at construction.
func (m *Matcher) Path() accel.Path {
	return m.path
}

// Params returns the parameters the matcher runs with.
func (m *Matcher) Params() Params {
	return m.params
}

// FindMatch localises model inside observed. Having too few matches is not an
// error: the result then has no homography.
func (m *Matcher) FindMatch(model, observed features.Image) (*Result, error) {
	start := time.Now()
	if err := model.Validate(); err != nil {
		return nil, errors.Wrapf(ErrInput, "model image: %v", err)
	}
	if err := observed.Validate(); err != nil {
		return nil, errors.Wrapf(ErrInput, "observed image: %v", err)
	}

	corr, err := m.backend.DetectAndMatch(model, observed, m.params.backend())
	if err != nil {
		return nil, errors.Wrapf(err, "%s backend", m.backend.Name())
	}
	res := &Result{
		Path:              m.path,
		Backend:           m.backend.Name(),
		ModelKeyPoints:    corr.ModelKeyPoints,
		ObservedKeyPoints: corr.ObservedKeyPoints,
		Matches:           corr.Matches,
		Mask:              features.NewMask(len(corr.Matches)),
	}

	if err := m.filter(res); err != nil {
		return nil, err
	}
	res.InlierCount = res.Mask.Count()
	res.Elapsed = time.Since(start)

	m.logger.Debugw("match done",
		"path", res.Path,
		"model_kps", len(res.ModelKeyPoints),
		"observed_kps", len(res.ObservedKeyPoints),
		"groups", len(res.Matches),
		"unique", res.UniqueCount,
		"consistent", res.ConsistentCount,
		"inliers", res.InlierCount,
		"found", res.Found(),
		"ms", res.ElapsedMillis(),
	)
	return res, nil
}

func (m *Matcher) filter(res *Result) error {
	p := m.params
	unique, err := features.VoteForUniqueness(res.Matches, p.Uniqueness, res.Mask)
	if err != nil {
		return errors.Wrap(err, "uniqueness vote")
	}
	res.UniqueCount, res.ConsistentCount = unique, unique
	if unique < p.MinInliers {
		return nil
	}

	consistent, err := features.VoteForSizeAndOrientation(
		res.ModelKeyPoints, res.ObservedKeyPoints, res.Matches, res.Mask, p.ScaleIncrement, p.RotationBins)
	if err != nil {
		return errors.Wrap(err, "size and orientation vote")
	}
	res.ConsistentCount = consistent
	if consistent < p.MinInliers {
		return nil
	}

	src, dst, idx, err := features.MatchedPoints(res.ModelKeyPoints, res.ObservedKeyPoints, res.Matches, res.Mask)
	if err != nil {
		return err
	}
	h, inliers, err := m.solver.FindHomography(src, dst, p.ReprojThreshold)
	if err != nil {
		return errors.Wrap(err, "find homography")
	}
	if h == nil {
		return nil
	}
	if len(inliers) != len(idx) {
		return errors.Errorf("solver returned %d inlier flags for %d pairs", len(inliers), len(idx))
	}
	for j, ok := range inliers {
		if !ok {
			res.Mask[idx[j]] = false
		}
	}
	res.Homography = h
	return nil
}

// Render draws res over the side-by-side composition of model and observed.
func (m *Matcher) Render(model, observed features.Image, res *Result) (image.Image, error) {
	if res == nil {
		return nil, errors.Wrap(ErrInput, "nil result")
	}
	img, err := render.Draw(render.Scene{
		Model:             model,
		Observed:          observed,
		ModelKeyPoints:    res.ModelKeyPoints,
		ObservedKeyPoints: res.ObservedKeyPoints,
		Matches:           res.Matches,
		Mask:              res.Mask,
		Homography:        res.Homography,
		Elapsed:           res.Elapsed,
	}, m.render)
	if err != nil {
		return nil, errors.Wrap(err, "render")
	}
	return img, nil
}

// Draw runs FindMatch and renders its result. It returns the composition and
// the matching time in milliseconds.
func (m *Matcher) Draw(model, observed features.Image) (image.Image, int64, error) {
	res, err := m.FindMatch(model, observed)
	if err != nil {
		return nil, 0, err
	}
	img, err := m.Render(model, observed, res)
	if err != nil {
		return nil, 0, err
	}
	return img, res.ElapsedMillis(), nil
}
