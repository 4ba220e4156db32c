package opencv

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/Dzusmin/surfmatch/internal/features"
)

// toMat copies the pixels of img into a single channel Mat. The Mat origin is
// the image's Bounds().Min.
func toMat(img features.Image) (gocv.Mat, error) {
	g := img.Gray
	b := g.Bounds()
	if b.Min != (image.Point{}) || g.Stride != b.Dx() {
		packed := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			copy(packed.Pix[y*packed.Stride:(y+1)*packed.Stride], g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		g = packed
	}
	m, err := gocv.ImageGrayToMatGray(g)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "convert image to mat")
	}
	return m, nil
}

// roiMask returns the detection mask for img: empty when the ROI covers the
// whole image, otherwise 255 inside the ROI and 0 elsewhere.
func roiMask(img features.Image) (gocv.Mat, error) {
	if img.FullFrame() {
		return gocv.NewMat(), nil
	}
	b := img.Bounds()
	zeros := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	roi := img.ROI.Sub(b.Min)
	for y := roi.Min.Y; y < roi.Max.Y; y++ {
		for x := roi.Min.X; x < roi.Max.X; x++ {
			zeros.Pix[zeros.PixOffset(x, y)] = 255
		}
	}
	m, err := gocv.ImageGrayToMatGray(zeros)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "convert roi mask")
	}
	return m, nil
}

func fromKeyPoints(kps []gocv.KeyPoint, origin image.Point) []features.KeyPoint {
	out := make([]features.KeyPoint, len(kps))
	for i, k := range kps {
		out[i] = features.KeyPoint{
			X:        k.X + float64(origin.X),
			Y:        k.Y + float64(origin.Y),
			Size:     k.Size,
			Angle:    k.Angle,
			Response: k.Response,
			Octave:   k.Octave,
		}
	}
	return out
}

// fromDescriptors copies a descriptor Mat into Go memory. An empty Mat gives
// an empty set.
func fromDescriptors(m gocv.Mat, kind features.DescriptorKind) (features.Descriptors, error) {
	d := features.Descriptors{Kind: kind}
	if m.Empty() {
		return d, nil
	}
	rows, cols := m.Rows(), m.Cols()
	switch kind {
	case features.BinaryDescriptors:
		if m.Type() != gocv.MatTypeCV8U {
			return d, errors.Errorf("binary descriptors must be CV_8U, got %v", m.Type())
		}
		data := m.ToBytes()
		d.Binary = make([][]byte, rows)
		for r := range d.Binary {
			d.Binary[r] = append([]byte(nil), data[r*cols:(r+1)*cols]...)
		}
	default:
		if m.Type() != gocv.MatTypeCV32F {
			return d, errors.Errorf("float descriptors must be CV_32F, got %v", m.Type())
		}
		data, err := m.DataPtrFloat32()
		if err != nil {
			return d, errors.Wrap(err, "read descriptors")
		}
		d.Float = make([][]float64, rows)
		for r := range d.Float {
			row := make([]float64, cols)
			for c := range row {
				row[c] = float64(data[r*cols+c])
			}
			d.Float[r] = row
		}
	}
	return d, nil
}

func fromDMatches(raw [][]gocv.DMatch) features.MatchGroups {
	groups := make(features.MatchGroups, len(raw))
	for i, g := range raw {
		groups[i] = make([]features.DMatch, len(g))
		for j, m := range g {
			groups[i][j] = features.DMatch{QueryIdx: m.QueryIdx, TrainIdx: m.TrainIdx, Distance: m.Distance}
		}
	}
	return groups
}
