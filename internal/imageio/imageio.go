// Package imageio loads images as grayscale matcher input and writes the
// rendered compositions.
package imageio

import (
	"image"
	"math"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/pkg/errors"

	"github.com/Dzusmin/surfmatch/internal/features"
)

// JPEGQuality is used when saving .jpg and .jpeg files.
const JPEGQuality = 95

// Load reads a PNG, JPEG or BMP file and converts it to grayscale.
func Load(path string) (features.Image, error) {
	img, err := imgio.Open(path)
	if err != nil {
		return features.Image{}, errors.Wrapf(err, "open %s", path)
	}
	return FromImage(img), nil
}

// FromImage converts img to a grayscale matcher input with a full frame ROI.
// Gray images are copied as is.
func FromImage(img image.Image) features.Image {
	if g, ok := img.(*image.Gray); ok {
		b := g.Bounds()
		out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			copy(out.Pix[y*out.Stride:(y+1)*out.Stride], g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return features.NewImage(out)
	}
	return features.NewImage(effect.Grayscale(img))
}

// Scale resizes img by factor and scales its ROI with it.
func Scale(img features.Image, factor float64) (features.Image, error) {
	if err := img.Validate(); err != nil {
		return img, err
	}
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return img, errors.Errorf("scale factor must be positive, got %v", factor)
	}
	if factor == 1 {
		return img, nil
	}
	b := img.Bounds()
	w, h := scaled(b.Dx(), factor), scaled(b.Dy(), factor)
	out := FromImage(transform.Resize(img.Gray, w, h, transform.Linear))

	roi := img.ROI.Sub(b.Min)
	r := image.Rect(
		int(math.Floor(float64(roi.Min.X)*factor)),
		int(math.Floor(float64(roi.Min.Y)*factor)),
		int(math.Ceil(float64(roi.Max.X)*factor)),
		int(math.Ceil(float64(roi.Max.Y)*factor)),
	).Intersect(out.Bounds())
	if r.Empty() {
		return out, errors.Errorf("roi %v vanishes at scale %v", img.ROI, factor)
	}
	out.ROI = r
	return out, nil
}

func scaled(n int, factor float64) int {
	v := int(math.Round(float64(n) * factor))
	if v < 1 {
		return 1
	}
	return v
}

// Save writes img to path, encoding by extension.
func Save(path string, img image.Image) error {
	var enc imgio.Encoder
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		enc = imgio.PNGEncoder()
	case ".jpg", ".jpeg":
		enc = imgio.JPEGEncoder(JPEGQuality)
	case ".bmp":
		enc = imgio.BMPEncoder()
	default:
		return errors.Errorf("unsupported output format %q (want .png, .jpg or .bmp)", ext)
	}
	if err := imgio.Save(path, img, enc); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}
