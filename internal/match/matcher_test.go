package match

import (
	"image"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/Dzusmin/surfmatch/internal/accel"
	"github.com/Dzusmin/surfmatch/internal/features"
	"github.com/Dzusmin/surfmatch/internal/geometry"
)

type fakeBackend struct {
	name  string
	corr  Correspondences
	err   error
	calls int
	got   BackendParams
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) DetectAndMatch(model, observed features.Image, p BackendParams) (*Correspondences, error) {
	f.calls++
	f.got = p
	if f.err != nil {
		return nil, f.err
	}
	c := f.corr
	return &c, nil
}

type countingSolver struct {
	HomographySolver
	calls int
}

func (s *countingSolver) FindHomography(src, dst []geometry.Point, threshold float64) (*geometry.Homography, []bool, error) {
	s.calls++
	return s.HomographySolver.FindHomography(src, dst, threshold)
}

func gray(w, h int, v uint8) features.Image {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return features.NewImage(g)
}

func unique(q, t int) []features.DMatch {
	return []features.DMatch{
		{QueryIdx: q, TrainIdx: t, Distance: 1},
		{QueryIdx: q, TrainIdx: t + 1, Distance: 10},
	}
}

func ambiguous(q, t int) []features.DMatch {
	return []features.DMatch{
		{QueryIdx: q, TrainIdx: t, Distance: 9},
		{QueryIdx: q, TrainIdx: t + 1, Distance: 10},
	}
}

// translatedScene returns a 4x4 grid of model keypoints seen shifted by
// (30,30), followed by three observed keypoints matched to the wrong place.
func translatedScene() Correspondences {
	var c Correspondences
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			kp := features.KeyPoint{X: float64(10 + 25*x), Y: float64(12 + 24*y), Size: 20, Angle: 45}
			c.ModelKeyPoints = append(c.ModelKeyPoints, kp)
			kp.X += 30
			kp.Y += 30
			c.ObservedKeyPoints = append(c.ObservedKeyPoints, kp)
		}
	}
	n := len(c.ModelKeyPoints)
	for i := 0; i < n; i++ {
		c.Matches = append(c.Matches, []features.DMatch{
			{QueryIdx: i, TrainIdx: i, Distance: 1},
			{QueryIdx: i, TrainIdx: (i + 1) % n, Distance: 10},
		})
	}
	for i, p := range []geometry.Point{{X: 5, Y: 190}, {X: 190, Y: 5}, {X: 100, Y: 180}} {
		q := len(c.ObservedKeyPoints)
		c.ObservedKeyPoints = append(c.ObservedKeyPoints, features.KeyPoint{X: p.X, Y: p.Y, Size: 20, Angle: 45})
		c.Matches = append(c.Matches, unique(q, 5*i))
	}
	return c
}

func newTestMatcher(t *testing.T, b Backend, opts ...Option) *Matcher {
	t.Helper()
	opts = append([]Option{
		WithStandardBackend(b),
		WithMode(accel.Standard),
		WithLogger(golog.NewTestLogger(t)),
	}, opts...)
	m, err := NewMatcher(DefaultParams(), opts...)
	test.That(t, err, test.ShouldBeNil)
	return m
}

func TestFindMatchTranslated(t *testing.T) {
	b := &fakeBackend{name: "fake", corr: translatedScene()}
	m := newTestMatcher(t, b)

	model, observed := gray(100, 100, 90), gray(200, 200, 90)
	res, err := m.FindMatch(model, observed)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.got, test.ShouldResemble, BackendParams{Detector: "surf", HessianThreshold: 300, K: 2})
	test.That(t, res.Backend, test.ShouldEqual, "fake")
	test.That(t, res.Path, test.ShouldEqual, accel.StandardPath)
	test.That(t, res.UniqueCount, test.ShouldEqual, 19)
	test.That(t, res.ConsistentCount, test.ShouldEqual, 19)
	test.That(t, res.InlierCount, test.ShouldEqual, 16)
	test.That(t, res.Found(), test.ShouldBeTrue)
	for i := 16; i < 19; i++ {
		test.That(t, res.Mask[i], test.ShouldBeFalse)
	}

	corners, err := res.Homography.ProjectAll(geometry.RectCorners(model.ROI))
	test.That(t, err, test.ShouldBeNil)
	for i, c := range geometry.RectCorners(model.ROI) {
		test.That(t, corners[i].Dist(c.Add(geometry.Pt(30, 30))), test.ShouldBeLessThanOrEqualTo, 2)
	}
	test.That(t, res.ElapsedMillis(), test.ShouldBeGreaterThanOrEqualTo, 0)
}

func TestFindMatchMaskOnlyShrinks(t *testing.T) {
	scene := translatedScene()
	m := newTestMatcher(t, &fakeBackend{name: "fake", corr: scene})
	res, err := m.FindMatch(gray(100, 100, 0), gray(200, 200, 0))
	test.That(t, err, test.ShouldBeNil)

	afterA := features.NewMask(len(scene.Matches))
	_, err = features.VoteForUniqueness(scene.Matches, 0.8, afterA)
	test.That(t, err, test.ShouldBeNil)
	for i := range res.Mask {
		if res.Mask[i] {
			test.That(t, afterA[i], test.ShouldBeTrue)
		}
	}
}

func TestFindMatchIdempotent(t *testing.T) {
	m := newTestMatcher(t, &fakeBackend{name: "fake", corr: translatedScene()})
	model, observed := gray(100, 100, 0), gray(200, 200, 0)

	first, err := m.FindMatch(model, observed)
	test.That(t, err, test.ShouldBeNil)
	second, err := m.FindMatch(model, observed)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, second.Mask, test.ShouldResemble, first.Mask)
	test.That(t, second.InlierCount, test.ShouldEqual, first.InlierCount)
	test.That(t, second.Homography.Values(), test.ShouldResemble, first.Homography.Values())
}

func TestFindMatchNoKeyPoints(t *testing.T) {
	solver := &countingSolver{HomographySolver: NewNativeSolver()}
	m := newTestMatcher(t, &fakeBackend{name: "fake"}, WithSolver(solver))

	res, err := m.FindMatch(gray(100, 100, 128), gray(100, 100, 128))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Matches, test.ShouldBeEmpty)
	test.That(t, res.Mask, test.ShouldBeEmpty)
	test.That(t, res.InlierCount, test.ShouldEqual, 0)
	test.That(t, res.Found(), test.ShouldBeFalse)
	test.That(t, solver.calls, test.ShouldEqual, 0)
}

func TestFindMatchSkipsVoteBelowGate(t *testing.T) {
	kps := make([]features.KeyPoint, 6)
	for i := range kps {
		// every rotation lands in its own bin, so the vote would clear them all
		kps[i] = features.KeyPoint{X: float64(10 * i), Y: float64(7 * i), Size: 10, Angle: float64(60 * i)}
	}
	flat := make([]features.KeyPoint, 6)
	for i := range flat {
		flat[i] = features.KeyPoint{X: float64(10 * i), Y: float64(7 * i), Size: 10, Angle: 0}
	}
	solver := &countingSolver{HomographySolver: NewNativeSolver()}
	m := newTestMatcher(t, &fakeBackend{name: "fake", corr: Correspondences{
		ModelKeyPoints:    flat,
		ObservedKeyPoints: kps,
		Matches: features.MatchGroups{
			unique(0, 0), unique(1, 1), unique(2, 2), ambiguous(3, 3), ambiguous(4, 4),
		},
	}}, WithSolver(solver))

	res, err := m.FindMatch(gray(100, 100, 0), gray(100, 100, 0))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Mask, test.ShouldResemble, features.Mask{true, true, true, false, false})
	test.That(t, res.UniqueCount, test.ShouldEqual, 3)
	test.That(t, res.ConsistentCount, test.ShouldEqual, 3)
	test.That(t, res.Found(), test.ShouldBeFalse)
	test.That(t, solver.calls, test.ShouldEqual, 0)
}

func TestFindMatchNoHomographyBelowGate(t *testing.T) {
	model := make([]features.KeyPoint, 7)
	observed := make([]features.KeyPoint, 7)
	angles := []float64{0, 0, 0, 90, 180, 270, 0}
	for i := range model {
		model[i] = features.KeyPoint{X: float64(5 + 11*i), Y: float64(3 + 13*(i%3)), Size: 10, Angle: 0}
		observed[i] = features.KeyPoint{X: model[i].X + 30, Y: model[i].Y + 30, Size: 10, Angle: angles[i]}
	}
	solver := &countingSolver{HomographySolver: NewNativeSolver()}
	m := newTestMatcher(t, &fakeBackend{name: "fake", corr: Correspondences{
		ModelKeyPoints:    model,
		ObservedKeyPoints: observed,
		Matches: features.MatchGroups{
			unique(0, 0), unique(1, 1), unique(2, 2), unique(3, 3), unique(4, 4), unique(5, 5), ambiguous(6, 6),
		},
	}}, WithSolver(solver))

	res, err := m.FindMatch(gray(100, 100, 0), gray(150, 150, 0))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.UniqueCount, test.ShouldEqual, 6)
	test.That(t, res.ConsistentCount, test.ShouldEqual, 3)
	test.That(t, res.Mask, test.ShouldResemble, features.Mask{true, true, true, false, false, false, false})
	test.That(t, res.Found(), test.ShouldBeFalse)
	test.That(t, solver.calls, test.ShouldEqual, 0)
}

func TestFindMatchShrunkGroupsRejected(t *testing.T) {
	// a single model descriptor leaves one candidate per group
	model := []features.KeyPoint{{X: 1, Y: 1, Size: 5}}
	observed := make([]features.KeyPoint, 5)
	groups := make(features.MatchGroups, 5)
	for i := range observed {
		observed[i] = features.KeyPoint{X: float64(i), Y: 2, Size: 5}
		groups[i] = []features.DMatch{{QueryIdx: i, TrainIdx: 0, Distance: 0.1}}
	}
	m := newTestMatcher(t, &fakeBackend{name: "fake", corr: Correspondences{
		ModelKeyPoints: model, ObservedKeyPoints: observed, Matches: groups,
	}})

	res, err := m.FindMatch(gray(10, 10, 0), gray(10, 10, 0))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.UniqueCount, test.ShouldEqual, 0)
	test.That(t, res.InlierCount, test.ShouldEqual, 0)
	test.That(t, res.Found(), test.ShouldBeFalse)
}

func TestFindMatchErrors(t *testing.T) {
	boom := errors.New("boom")
	b := &fakeBackend{name: "fake", err: boom}
	m := newTestMatcher(t, b)

	_, err := m.FindMatch(features.Image{}, gray(10, 10, 0))
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeTrue)
	test.That(t, b.calls, test.ShouldEqual, 0)

	bad := gray(10, 10, 0)
	bad.ROI = image.Rect(5, 5, 20, 20)
	_, err = m.FindMatch(gray(10, 10, 0), bad)
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeTrue)

	_, err = m.FindMatch(gray(10, 10, 0), gray(10, 10, 0))
	test.That(t, errors.Is(err, boom), test.ShouldBeTrue)

	_, err = m.Render(gray(10, 10, 0), gray(10, 10, 0), nil)
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeTrue)

	p := DefaultParams()
	p.K = 1
	_, err = NewMatcher(p, WithStandardBackend(b))
	test.That(t, errors.Is(err, ErrInput), test.ShouldBeTrue)
}

func TestNewMatcherPathSelection(t *testing.T) {
	std := &fakeBackend{name: "std"}
	fast := &fakeBackend{name: "fast"}
	logger := golog.NewTestLogger(t)

	m, err := NewMatcher(DefaultParams(),
		WithStandardBackend(std), WithAcceleratedBackend(fast),
		WithProbe(accel.StaticProbe(true)), WithLogger(logger))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Path(), test.ShouldEqual, accel.AcceleratedPath)

	m, err = NewMatcher(DefaultParams(),
		WithStandardBackend(std), WithAcceleratedBackend(fast),
		WithProbe(accel.StaticProbe(false)), WithLogger(logger))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Path(), test.ShouldEqual, accel.StandardPath)
	res, err := m.FindMatch(gray(10, 10, 0), gray(10, 10, 0))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Backend, test.ShouldEqual, "std")
	test.That(t, fast.calls, test.ShouldEqual, 0)

	_, err = NewMatcher(DefaultParams(),
		WithStandardBackend(std), WithAcceleratedBackend(fast),
		WithProbe(accel.StaticProbe(false)), WithMode(accel.Accelerated), WithLogger(logger))
	test.That(t, errors.Is(err, accel.ErrUnavailable), test.ShouldBeTrue)

	_, err = NewMatcher(DefaultParams(),
		WithStandardBackend(std),
		WithProbe(accel.StaticProbe(true)), WithMode(accel.Accelerated), WithLogger(logger))
	test.That(t, errors.Is(err, accel.ErrUnavailable), test.ShouldBeTrue)

	_, err = NewMatcher(DefaultParams(), WithMode(accel.Standard), WithLogger(logger))
	test.That(t, errors.Is(err, accel.ErrUnavailable), test.ShouldBeTrue)
}

func TestDrawUniformGray(t *testing.T) {
	m := newTestMatcher(t, &fakeBackend{name: "fake"})
	img, ms, err := m.Draw(gray(100, 100, 128), gray(100, 100, 128))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ms, test.ShouldBeGreaterThanOrEqualTo, 0)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 200)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 100)
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if r>>8 != 128 || g>>8 != 128 || b>>8 != 128 {
				t.Fatalf("pixel (%d,%d) was drawn on", x, y)
			}
		}
	}
}

func TestDrawTranslated(t *testing.T) {
	m := newTestMatcher(t, &fakeBackend{name: "fake", corr: translatedScene()})
	img, _, err := m.Draw(gray(100, 100, 60), gray(200, 200, 60))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 300)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 200)
}
