// Package features holds the data passed between the stages of the matching
// pipeline (images, keypoints, descriptors, match groups and the inlier
// mask) together with the voting filters that prune match groups.
package features

import (
	"image"

	"github.com/pkg/errors"

	"github.com/Dzusmin/surfmatch/internal/geometry"
)

// Image is a grayscale image with a region of interest. The ROI limits
// detection and is the outline projected into the observed image.
type Image struct {
	Gray *image.Gray
	ROI  image.Rectangle
}

// NewImage wraps g with an ROI covering the whole image.
func NewImage(g *image.Gray) Image {
	img := Image{Gray: g}
	if g != nil {
		img.ROI = g.Bounds()
	}
	return img
}

// WithROI returns a copy of img restricted to r.
func (img Image) WithROI(r image.Rectangle) (Image, error) {
	if img.Gray == nil {
		return img, errors.New("image has no pixels")
	}
	if r.Empty() || !r.In(img.Gray.Bounds()) {
		return img, errors.Errorf("roi %v outside image bounds %v", r, img.Gray.Bounds())
	}
	img.ROI = r
	return img, nil
}

// Validate checks that the image has pixels and a usable ROI.
func (img Image) Validate() error {
	if img.Gray == nil {
		return errors.New("nil image")
	}
	b := img.Gray.Bounds()
	if b.Empty() {
		return errors.Errorf("empty image %v", b)
	}
	if img.ROI.Empty() || !img.ROI.In(b) {
		return errors.Errorf("roi %v outside image bounds %v", img.ROI, b)
	}
	return nil
}

// Bounds returns the pixel bounds of the image.
func (img Image) Bounds() image.Rectangle {
	if img.Gray == nil {
		return image.Rectangle{}
	}
	return img.Gray.Bounds()
}

// FullFrame reports whether the ROI covers the whole image.
func (img Image) FullFrame() bool {
	return img.ROI == img.Bounds()
}

// KeyPoint is a detected salient location. Angle is in degrees in [0,360),
// or negative when the detector does not compute an orientation.
type KeyPoint struct {
	X, Y     float64
	Size     float64
	Angle    float64
	Response float64
	Octave   int
}

// Pt returns the keypoint location.
func (k KeyPoint) Pt() geometry.Point {
	return geometry.Pt(k.X, k.Y)
}

// DescriptorKind tells how descriptors are compared.
type DescriptorKind int

const (
	// FloatDescriptors are real-valued vectors compared by L2 distance.
	FloatDescriptors DescriptorKind = iota
	// BinaryDescriptors are bit strings compared by Hamming distance.
	BinaryDescriptors
)

func (k DescriptorKind) String() string {
	if k == BinaryDescriptors {
		return "binary"
	}
	return "float"
}

// Descriptors holds one row per keypoint, index aligned with its keypoints.
// Only the slice matching Kind is populated.
type Descriptors struct {
	Kind   DescriptorKind
	Float  [][]float64
	Binary [][]byte
}

// Len returns the number of rows.
func (d Descriptors) Len() int {
	if d.Kind == BinaryDescriptors {
		return len(d.Binary)
	}
	return len(d.Float)
}

// Width returns the row length, in elements for float descriptors and bytes
// for binary ones. It is 0 for an empty set.
func (d Descriptors) Width() int {
	if d.Len() == 0 {
		return 0
	}
	if d.Kind == BinaryDescriptors {
		return len(d.Binary[0])
	}
	return len(d.Float[0])
}

// DMatch is one candidate correspondence. QueryIdx indexes the observed
// keypoints, TrainIdx the model keypoints.
type DMatch struct {
	QueryIdx int
	TrainIdx int
	Distance float64
}

// MatchGroups holds up to k candidates per observed descriptor, ordered by
// increasing distance.
type MatchGroups [][]DMatch

// Best returns the closest candidate of group i.
func (g MatchGroups) Best(i int) (DMatch, bool) {
	if i < 0 || i >= len(g) || len(g[i]) == 0 {
		return DMatch{}, false
	}
	return g[i][0], true
}

// Mask flags which match groups are still considered inliers.
type Mask []bool

// NewMask returns a mask of n entries, all set.
func NewMask(n int) Mask {
	m := make(Mask, n)
	for i := range m {
		m[i] = true
	}
	return m
}

// Count returns the number of set entries.
func (m Mask) Count() int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}

// Clone returns an independent copy.
func (m Mask) Clone() Mask {
	return append(Mask(nil), m...)
}
