// Package config loads the matcher configuration from YAML.
package config

import (
	"image"
	"image/color"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"

	"github.com/Dzusmin/surfmatch/internal/accel"
	"github.com/Dzusmin/surfmatch/internal/geometry"
	"github.com/Dzusmin/surfmatch/internal/match"
	"github.com/Dzusmin/surfmatch/internal/render"
)

// ErrInvalid is returned for configurations that fail validation.
var ErrInvalid = errors.New("invalid config")

// Solver names.
const (
	SolverOpenCV = "opencv"
	SolverNative = "native"
)

// Matcher names for the standard path.
const (
	MatcherBF    = "bf"
	MatcherFlann = "flann"
)

var detectors = []string{"surf", "sift", "orb", "akaze", "brisk"}

// Config is the full set of tunables.
type Config struct {
	// Path is auto, standard or accelerated.
	Path                  string  `yaml:"path"`
	Detector              string  `yaml:"detector"`
	HessianThreshold      float64 `yaml:"hessian_threshold"`
	K                     int     `yaml:"k"`
	UniquenessThreshold   float64 `yaml:"uniqueness_threshold"`
	ScaleIncrement        float64 `yaml:"scale_increment"`
	RotationBins          int     `yaml:"rotation_bins"`
	ReprojectionThreshold float64 `yaml:"reprojection_threshold"`
	MinInliers            int     `yaml:"min_inliers"`
	// Workers is the number of accelerated matching workers, 0 for one per CPU.
	Workers int    `yaml:"workers"`
	Matcher string `yaml:"matcher"`
	// Scale resizes both images before matching.
	Scale float64 `yaml:"scale"`
	// ModelROI is "x0,y0,x1,y1" in model pixels; empty for the whole image.
	ModelROI string `yaml:"model_roi"`
	LogLevel string `yaml:"log_level"`

	Homography HomographyConfig `yaml:"homography"`
	Render     RenderConfig     `yaml:"render"`
}

// HomographyConfig selects and tunes the homography solver.
type HomographyConfig struct {
	Solver        string  `yaml:"solver"`
	MaxIterations int     `yaml:"max_iterations"`
	Confidence    float64 `yaml:"confidence"`
	Seed          int64   `yaml:"seed"`
}

// RenderConfig mirrors render.Options with colours as "#rrggbb".
type RenderConfig struct {
	InlierColor     string  `yaml:"inlier_color"`
	OutlierColor    string  `yaml:"outlier_color"`
	KeyPointColor   string  `yaml:"keypoint_color"`
	PolygonColor    string  `yaml:"polygon_color"`
	AnnotationColor string  `yaml:"annotation_color"`
	LineWidth       float64 `yaml:"line_width"`
	PolygonWidth    float64 `yaml:"polygon_width"`
	KeyPointRadius  float64 `yaml:"keypoint_radius"`
	DrawOutliers    bool    `yaml:"draw_outliers"`
	DrawKeyPoints   bool    `yaml:"draw_keypoints"`
	Annotate        bool    `yaml:"annotate"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	p := match.DefaultParams()
	r := geometry.DefaultRANSACOptions()
	return Config{
		Path:                  string(accel.Auto),
		Detector:              p.Detector,
		HessianThreshold:      p.HessianThreshold,
		K:                     p.K,
		UniquenessThreshold:   p.Uniqueness,
		ScaleIncrement:        p.ScaleIncrement,
		RotationBins:          p.RotationBins,
		ReprojectionThreshold: p.ReprojThreshold,
		MinInliers:            p.MinInliers,
		Matcher:               MatcherBF,
		Scale:                 1,
		LogLevel:              "info",
		Homography: HomographyConfig{
			Solver:        SolverOpenCV,
			MaxIterations: r.MaxIterations,
			Confidence:    r.Confidence,
			Seed:          r.Seed,
		},
		Render: RenderConfig{
			InlierColor:     "#00ff00",
			OutlierColor:    "#808080",
			KeyPointColor:   "#ffffff",
			PolygonColor:    "#0000ff",
			AnnotationColor: "#00ff00",
			LineWidth:       1,
			PolygonWidth:    5,
			KeyPointRadius:  3,
			DrawOutliers:    true,
			DrawKeyPoints:   true,
			Annotate:        true,
		},
	}
}

// Load reads path over the defaults and validates the result. Unknown keys
// are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, errors.Wrapf(ErrInvalid, "parse %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every field and wraps the first problem in ErrInvalid.
func (c Config) Validate() error {
	if _, err := accel.ParseMode(c.Path); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	if !contains(detectors, strings.ToLower(c.Detector)) {
		return errors.Wrapf(ErrInvalid, "unknown detector %q (want one of %s)", c.Detector, strings.Join(detectors, ", "))
	}
	if err := c.Params().Validate(); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	if c.Workers < 0 {
		return errors.Wrapf(ErrInvalid, "workers must not be negative, got %d", c.Workers)
	}
	if c.Matcher != MatcherBF && c.Matcher != MatcherFlann {
		return errors.Wrapf(ErrInvalid, "unknown matcher %q (want bf or flann)", c.Matcher)
	}
	if c.Scale <= 0 {
		return errors.Wrapf(ErrInvalid, "scale must be positive, got %v", c.Scale)
	}
	if _, _, err := c.ROI(); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	if _, err := c.Level(); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}

	h := c.Homography
	switch {
	case h.Solver != SolverOpenCV && h.Solver != SolverNative:
		return errors.Wrapf(ErrInvalid, "unknown homography solver %q (want opencv or native)", h.Solver)
	case h.MaxIterations < 1:
		return errors.Wrapf(ErrInvalid, "homography max_iterations must be positive, got %d", h.MaxIterations)
	case h.Confidence <= 0 || h.Confidence >= 1:
		return errors.Wrapf(ErrInvalid, "homography confidence must be in (0,1), got %v", h.Confidence)
	}

	if _, err := c.RenderOptions(); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	return nil
}

// Mode returns the path preference.
func (c Config) Mode() (accel.Mode, error) {
	return accel.ParseMode(c.Path)
}

// Params returns the matching parameters.
func (c Config) Params() match.Params {
	return match.Params{
		Detector:         strings.ToLower(c.Detector),
		HessianThreshold: c.HessianThreshold,
		K:                c.K,
		Uniqueness:       c.UniquenessThreshold,
		ScaleIncrement:   c.ScaleIncrement,
		RotationBins:     c.RotationBins,
		ReprojThreshold:  c.ReprojectionThreshold,
		MinInliers:       c.MinInliers,
	}
}

// RANSACOptions returns the options for the native solver.
func (c Config) RANSACOptions() geometry.RANSACOptions {
	return geometry.RANSACOptions{
		Threshold:     c.ReprojectionThreshold,
		MaxIterations: c.Homography.MaxIterations,
		Confidence:    c.Homography.Confidence,
		Seed:          c.Homography.Seed,
	}
}

// RenderOptions parses the colours and returns the drawing options.
func (c Config) RenderOptions() (render.Options, error) {
	r := c.Render
	opts := render.Options{
		LineWidth:      r.LineWidth,
		PolygonWidth:   r.PolygonWidth,
		KeyPointRadius: r.KeyPointRadius,
		DrawOutliers:   r.DrawOutliers,
		DrawKeyPoints:  r.DrawKeyPoints,
		Annotate:       r.Annotate,
	}
	if r.LineWidth <= 0 || r.PolygonWidth <= 0 || r.KeyPointRadius <= 0 {
		return opts, errors.New("render widths and radius must be positive")
	}
	for _, c := range []struct {
		hex string
		dst *color.Color
	}{
		{r.InlierColor, &opts.InlierColor},
		{r.OutlierColor, &opts.OutlierColor},
		{r.KeyPointColor, &opts.KeyPointColor},
		{r.PolygonColor, &opts.PolygonColor},
		{r.AnnotationColor, &opts.AnnotationColor},
	} {
		v, err := render.ParseColor(c.hex)
		if err != nil {
			return opts, err
		}
		*c.dst = v
	}
	return opts, nil
}

// ROI parses ModelROI. ok is false when no ROI is configured.
func (c Config) ROI() (r image.Rectangle, ok bool, err error) {
	if strings.TrimSpace(c.ModelROI) == "" {
		return image.Rectangle{}, false, nil
	}
	r, err = ParseRect(c.ModelROI)
	return r, err == nil, err
}

// ParseRect parses "x0,y0,x1,y1".
func ParseRect(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, errors.Errorf("rectangle %q: want x0,y0,x1,y1", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, errors.Wrapf(err, "rectangle %q", s)
		}
		v[i] = n
	}
	r := image.Rect(v[0], v[1], v[2], v[3])
	if r.Empty() {
		return image.Rectangle{}, errors.Errorf("rectangle %q is empty", s)
	}
	return r, nil
}

// Level returns the configured log level.
func (c Config) Level() (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, errors.Wrapf(err, "log level %q", c.LogLevel)
	}
	return l, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
