// Package render composes the model and observed images side by side and
// draws the correspondences and the localised model outline on top.
package render

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"golang.org/x/image/font/basicfont"

	"github.com/Dzusmin/surfmatch/internal/features"
	"github.com/Dzusmin/surfmatch/internal/geometry"
)

// Options controls what is drawn and how.
type Options struct {
	InlierColor     color.Color
	OutlierColor    color.Color
	KeyPointColor   color.Color
	PolygonColor    color.Color
	AnnotationColor color.Color

	LineWidth      float64
	PolygonWidth   float64
	KeyPointRadius float64

	// DrawOutliers draws rejected matches in OutlierColor.
	DrawOutliers  bool
	DrawKeyPoints bool
	// Annotate writes timing and counts in the top left corner.
	Annotate bool
}

// DefaultOptions returns green inliers, grey outliers, white keypoints and a
// blue 5px outline.
func DefaultOptions() Options {
	return Options{
		InlierColor:     color.RGBA{0, 255, 0, 255},
		OutlierColor:    color.RGBA{128, 128, 128, 255},
		KeyPointColor:   color.RGBA{255, 255, 255, 255},
		PolygonColor:    color.RGBA{0, 0, 255, 255},
		AnnotationColor: color.RGBA{0, 255, 0, 255},
		LineWidth:       1,
		PolygonWidth:    5,
		KeyPointRadius:  3,
		DrawOutliers:    true,
		DrawKeyPoints:   true,
	}
}

// ParseColor parses a "#rrggbb" colour.
func ParseColor(hex string) (color.Color, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return nil, errors.Wrapf(err, "parse colour %q", hex)
	}
	r, g, b := c.RGB255()
	return color.RGBA{r, g, b, 255}, nil
}

// Scene is everything the renderer needs from one matching run.
type Scene struct {
	Model, Observed   features.Image
	ModelKeyPoints    []features.KeyPoint
	ObservedKeyPoints []features.KeyPoint
	Matches           features.MatchGroups
	Mask              features.Mask
	// Homography maps model to observed coordinates; nil when not found.
	Homography *geometry.Homography
	Elapsed    time.Duration
}

// Draw returns a new image with the model on the left and the observed image
// on the right. The inputs are not modified.
func Draw(s Scene, opts Options) (image.Image, error) {
	if err := s.Model.Validate(); err != nil {
		return nil, errors.Wrap(err, "model image")
	}
	if err := s.Observed.Validate(); err != nil {
		return nil, errors.Wrap(err, "observed image")
	}
	if len(s.Mask) != len(s.Matches) {
		return nil, errors.Errorf("mask has %d entries for %d match groups", len(s.Mask), len(s.Matches))
	}

	mb, ob := s.Model.Bounds(), s.Observed.Bounds()
	height := mb.Dy()
	if ob.Dy() > height {
		height = ob.Dy()
	}
	canvas := imaging.New(mb.Dx()+ob.Dx(), height, color.Black)
	canvas = imaging.Paste(canvas, s.Model.Gray, image.Pt(0, 0))
	canvas = imaging.Paste(canvas, s.Observed.Gray, image.Pt(mb.Dx(), 0))

	dc := gg.NewContextForImage(canvas)
	toModel := func(p geometry.Point) geometry.Point {
		return geometry.Pt(p.X-float64(mb.Min.X), p.Y-float64(mb.Min.Y))
	}
	toObserved := func(p geometry.Point) geometry.Point {
		return geometry.Pt(p.X-float64(ob.Min.X)+float64(mb.Dx()), p.Y-float64(ob.Min.Y))
	}

	if opts.DrawKeyPoints {
		dc.SetColor(opts.KeyPointColor)
		dc.SetLineWidth(1)
		for _, kp := range s.ModelKeyPoints {
			p := toModel(kp.Pt())
			dc.DrawCircle(p.X, p.Y, opts.KeyPointRadius)
			dc.Stroke()
		}
		for _, kp := range s.ObservedKeyPoints {
			p := toObserved(kp.Pt())
			dc.DrawCircle(p.X, p.Y, opts.KeyPointRadius)
			dc.Stroke()
		}
	}

	inliers := 0
	dc.SetLineWidth(opts.LineWidth)
	// outliers first so inliers stay on top
	for _, inlier := range []bool{false, true} {
		if !inlier && !opts.DrawOutliers {
			continue
		}
		if inlier {
			dc.SetColor(opts.InlierColor)
		} else {
			dc.SetColor(opts.OutlierColor)
		}
		for i := range s.Matches {
			m, ok := s.Matches.Best(i)
			if !ok || s.Mask[i] != inlier {
				continue
			}
			if m.TrainIdx >= len(s.ModelKeyPoints) || m.QueryIdx >= len(s.ObservedKeyPoints) {
				return nil, errors.Errorf("match %d references keypoint out of range", i)
			}
			from := toModel(s.ModelKeyPoints[m.TrainIdx].Pt())
			to := toObserved(s.ObservedKeyPoints[m.QueryIdx].Pt())
			dc.DrawLine(from.X, from.Y, to.X, to.Y)
			dc.Stroke()
			if inlier {
				inliers++
			}
		}
	}

	if s.Homography != nil {
		corners, err := s.Homography.ProjectAll(geometry.RectCorners(s.Model.ROI))
		if err != nil {
			return nil, errors.Wrap(err, "project model outline")
		}
		dc.SetColor(opts.PolygonColor)
		dc.SetLineWidth(opts.PolygonWidth)
		dc.NewSubPath()
		for i, c := range corners {
			p := toObserved(c)
			if i == 0 {
				dc.MoveTo(p.X, p.Y)
			} else {
				dc.LineTo(p.X, p.Y)
			}
		}
		dc.ClosePath()
		dc.Stroke()
	}

	if opts.Annotate {
		dc.SetFontFace(basicfont.Face7x13)
		dc.SetColor(opts.AnnotationColor)
		lines := []string{
			fmt.Sprintf("KPS: %d / %d", len(s.ModelKeyPoints), len(s.ObservedKeyPoints)),
			fmt.Sprintf("Matches: %d / %d", inliers, len(s.Matches)),
			fmt.Sprintf("ms: %d", s.Elapsed.Milliseconds()),
		}
		for i, l := range lines {
			dc.DrawString(l, 10, float64(20*(i+1)))
		}
	}

	return dc.Image(), nil
}
