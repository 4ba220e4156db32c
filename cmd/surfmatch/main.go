package main

import (
	"flag"
	"fmt"
	"image"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/Dzusmin/surfmatch/internal/config"
	"github.com/Dzusmin/surfmatch/internal/features"
	"github.com/Dzusmin/surfmatch/internal/geometry"
	"github.com/Dzusmin/surfmatch/internal/imageio"
	"github.com/Dzusmin/surfmatch/internal/match"
	"github.com/Dzusmin/surfmatch/internal/opencv"
)

const usage = "How to run:\n\tsurfmatch [flags] <model> <observed> [output.png]"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "surfmatch:", err)
		}
		os.Exit(1)
	}
}

type flags struct {
	config   string
	path     string
	modelROI string
	scale    float64
	profiler bool
	debug    bool
	show     bool
}

func run(args []string) error {
	var f flags
	fs := flag.NewFlagSet("surfmatch", flag.ContinueOnError)
	fs.StringVar(&f.config, "config", "", "YAML configuration file")
	fs.StringVar(&f.path, "path", "", "auto, standard or accelerated")
	fs.StringVar(&f.modelROI, "model-roi", "", "x0,y0,x1,y1 region of the model to localise")
	fs.Float64Var(&f.scale, "scale", 0, "resize both images by this factor before matching")
	fs.BoolVar(&f.profiler, "profiler", false, "serve pprof on localhost:6060")
	fs.BoolVar(&f.debug, "debug", false, "log at debug level")
	fs.BoolVar(&f.show, "show", false, "show the result in a window")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 || fs.NArg() > 3 {
		fs.Usage()
		return errors.New("expected a model and an observed image")
	}

	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if f.profiler {
		go func() {
			logger.Info(http.ListenAndServe("localhost:6060", nil))
		}()
	}

	model, observed, err := loadImages(cfg, fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}

	matcher, err := newMatcher(cfg, logger)
	if err != nil {
		return err
	}
	res, err := matcher.FindMatch(model, observed)
	if err != nil {
		return err
	}
	logResult(logger, model, res)

	if fs.NArg() < 3 && !f.show {
		return nil
	}
	out, err := matcher.Render(model, observed, res)
	if err != nil {
		return err
	}
	if fs.NArg() == 3 {
		if err := imageio.Save(fs.Arg(2), out); err != nil {
			return err
		}
		logger.Infow("composition written", "file", fs.Arg(2))
	}
	if f.show {
		return show(out)
	}
	return nil
}

func loadConfig(f flags) (config.Config, error) {
	cfg := config.Default()
	if f.config != "" {
		var err error
		if cfg, err = config.Load(f.config); err != nil {
			return cfg, err
		}
	}
	if f.path != "" {
		cfg.Path = f.path
	}
	if f.modelROI != "" {
		cfg.ModelROI = f.modelROI
	}
	if f.scale != 0 {
		cfg.Scale = f.scale
	}
	if f.debug {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) (golog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = true
	l, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return l.Sugar().Named("surfmatch"), nil
}

func loadImages(cfg config.Config, modelPath, observedPath string) (features.Image, features.Image, error) {
	model, err := imageio.Load(modelPath)
	if err != nil {
		return model, features.Image{}, err
	}
	observed, err := imageio.Load(observedPath)
	if err != nil {
		return model, observed, err
	}
	if r, ok, err := cfg.ROI(); err != nil {
		return model, observed, err
	} else if ok {
		if model, err = model.WithROI(r.Add(model.Bounds().Min)); err != nil {
			return model, observed, errors.Wrap(err, "model roi")
		}
	}
	if cfg.Scale != 1 {
		if model, err = imageio.Scale(model, cfg.Scale); err != nil {
			return model, observed, err
		}
		if observed, err = imageio.Scale(observed, cfg.Scale); err != nil {
			return model, observed, err
		}
	}
	return model, observed, nil
}

func newMatcher(cfg config.Config, logger golog.Logger) (*match.Matcher, error) {
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}
	renderOpts, err := cfg.RenderOptions()
	if err != nil {
		return nil, err
	}

	standard := opencv.NewStandardBackend(logger)
	standard.Flann = cfg.Matcher == config.MatcherFlann

	var solver match.HomographySolver
	if cfg.Homography.Solver == config.SolverNative {
		solver = &match.NativeSolver{Options: cfg.RANSACOptions()}
	} else {
		solver = &opencv.Solver{MaxIterations: cfg.Homography.MaxIterations, Confidence: cfg.Homography.Confidence}
	}

	return match.NewMatcher(cfg.Params(),
		match.WithStandardBackend(standard),
		match.WithAcceleratedBackend(opencv.NewParallelBackend(cfg.Workers, logger)),
		match.WithSolver(solver),
		match.WithMode(mode),
		match.WithRenderOptions(renderOpts),
		match.WithLogger(logger),
	)
}

func logResult(logger golog.Logger, model features.Image, res *match.Result) {
	fields := []interface{}{
		"path", res.Path,
		"backend", res.Backend,
		"model_kps", len(res.ModelKeyPoints),
		"observed_kps", len(res.ObservedKeyPoints),
		"matches", len(res.Matches),
		"unique", res.UniqueCount,
		"consistent", res.ConsistentCount,
		"inliers", res.InlierCount,
		"ms", res.ElapsedMillis(),
	}
	if !res.Found() {
		logger.Infow("model not found", fields...)
		return
	}
	corners, err := res.Homography.ProjectAll(geometry.RectCorners(model.ROI))
	if err != nil {
		logger.Warnw("model outline cannot be projected", "error", err)
	}
	outline := make([]image.Point, len(corners))
	for i, c := range corners {
		outline[i] = c.Round()
	}
	fields = append(fields, "homography", res.Homography.String(), "outline", outline)
	logger.Infow("model found", fields...)
}

func show(img image.Image) error {
	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return errors.Wrap(err, "convert composition")
	}
	defer m.Close()

	window := gocv.NewWindow("surfmatch")
	defer window.Close()
	window.IMShow(m)
	window.WaitKey(0)
	return nil
}
