package features

import (
	"math"

	"github.com/pkg/errors"

	"github.com/Dzusmin/surfmatch/internal/geometry"
)

// VoteForUniqueness clears every group whose best candidate is not clearly
// better than the second best: a group survives only when it has at least two
// candidates and best < threshold * secondBest. Already cleared entries are
// left alone. It returns the number of set entries afterwards.
func VoteForUniqueness(groups MatchGroups, threshold float64, mask Mask) (int, error) {
	if len(mask) != len(groups) {
		return 0, errors.Errorf("mask has %d entries for %d match groups", len(mask), len(groups))
	}
	for i, g := range groups {
		if !mask[i] {
			continue
		}
		if len(g) < 2 || !(g[0].Distance < threshold*g[1].Distance) {
			mask[i] = false
		}
	}
	return mask.Count(), nil
}

// VoteForSizeAndOrientation clears groups whose scale change or rotation
// disagrees with the majority.
//
// For each set entry the log10 size ratio and the rotation (observed angle
// minus model angle, in [0,360)) between the matched keypoints is binned in a
// 2-D histogram: scale bins are log10(scaleIncrement) wide starting at the
// smallest ratio, rotation bins split the circle into rotationBins sectors.
// Bins holding no more than half of the fullest bin's count are discarded,
// and so are the entries that fell into them. It returns the number of set
// entries afterwards.
func VoteForSizeAndOrientation(
	model, observed []KeyPoint,
	groups MatchGroups,
	mask Mask,
	scaleIncrement float64,
	rotationBins int,
) (int, error) {
	if len(mask) != len(groups) {
		return 0, errors.Errorf("mask has %d entries for %d match groups", len(mask), len(groups))
	}
	if scaleIncrement <= 1 {
		return 0, errors.Errorf("scale increment must be > 1, got %v", scaleIncrement)
	}
	if rotationBins < 1 {
		return 0, errors.Errorf("rotation bins must be >= 1, got %d", rotationBins)
	}

	type vote struct {
		idx        int
		scale, rot float64
	}
	var votes []vote
	minS, maxS := math.Inf(1), math.Inf(-1)
	for i, g := range groups {
		if !mask[i] || len(g) == 0 {
			continue
		}
		m := g[0]
		if m.QueryIdx < 0 || m.QueryIdx >= len(observed) || m.TrainIdx < 0 || m.TrainIdx >= len(model) {
			return 0, errors.Errorf("match %d references keypoint out of range (query %d/%d, train %d/%d)",
				i, m.QueryIdx, len(observed), m.TrainIdx, len(model))
		}
		o, md := observed[m.QueryIdx], model[m.TrainIdx]
		v := vote{idx: i, scale: logScale(o.Size, md.Size), rot: rotation(o.Angle, md.Angle)}
		minS = math.Min(minS, v.scale)
		maxS = math.Max(maxS, v.scale)
		votes = append(votes, v)
	}
	if len(votes) == 0 {
		return mask.Count(), nil
	}

	step := math.Log10(scaleIncrement)
	scaleBins := int(math.Ceil((maxS - minS) / step))
	if scaleBins < 2 {
		scaleBins = 2
	}
	sector := 360 / float64(rotationBins)

	bins := make([]int, len(votes))
	hist := make([]int, scaleBins*rotationBins)
	for i, v := range votes {
		s := clampBin(int(math.Floor((v.scale-minS)/step)), scaleBins)
		r := clampBin(int(math.Floor(v.rot/sector)), rotationBins)
		bins[i] = s*rotationBins + r
		hist[bins[i]]++
	}
	peak := 0
	for _, c := range hist {
		if c > peak {
			peak = c
		}
	}
	cut := float64(peak) * 0.5
	for i, v := range votes {
		if float64(hist[bins[i]]) <= cut {
			mask[v.idx] = false
		}
	}
	return mask.Count(), nil
}

func logScale(observed, model float64) float64 {
	if observed <= 0 || model <= 0 {
		return 0
	}
	return math.Log10(observed / model)
}

func rotation(observed, model float64) float64 {
	if observed < 0 || model < 0 {
		return 0
	}
	r := math.Mod(observed-model, 360)
	if r < 0 {
		r += 360
	}
	return r
}

func clampBin(b, n int) int {
	if b < 0 {
		return 0
	}
	if b >= n {
		return n - 1
	}
	return b
}

// MatchedPoints returns the model and observed locations of the best
// candidate of every set group, along with the group indices they came from.
func MatchedPoints(model, observed []KeyPoint, groups MatchGroups, mask Mask) (src, dst []geometry.Point, idx []int, err error) {
	if len(mask) != len(groups) {
		return nil, nil, nil, errors.Errorf("mask has %d entries for %d match groups", len(mask), len(groups))
	}
	for i, g := range groups {
		if !mask[i] || len(g) == 0 {
			continue
		}
		m := g[0]
		if m.QueryIdx < 0 || m.QueryIdx >= len(observed) || m.TrainIdx < 0 || m.TrainIdx >= len(model) {
			return nil, nil, nil, errors.Errorf("match %d references keypoint out of range", i)
		}
		src = append(src, model[m.TrainIdx].Pt())
		dst = append(dst, observed[m.QueryIdx].Pt())
		idx = append(idx, i)
	}
	return src, dst, idx, nil
}
