// Package knn is a brute force k-nearest-neighbour descriptor matcher that
// spreads the query rows over a fixed number of goroutines.
package knn

import (
	"runtime"

	"github.com/pkg/errors"
	"github.com/steakknife/hamming"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/Dzusmin/surfmatch/internal/features"
)

// Matcher finds, for every query descriptor, its k closest train descriptors.
type Matcher struct {
	workers int
}

// NewMatcher returns a matcher using the given number of workers; values
// below 1 mean one worker per available CPU.
func NewMatcher(workers int) *Matcher {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Matcher{workers: workers}
}

// Workers returns the number of goroutines a match is split over.
func (m *Matcher) Workers() int {
	return m.workers
}

// KnnMatch returns one group per query row holding min(k, train rows)
// candidates sorted by increasing distance; ties keep the lower train index
// first. Float descriptors use L2 distance and binary ones Hamming distance.
func (m *Matcher) KnnMatch(query, train features.Descriptors, k int) (features.MatchGroups, error) {
	if k < 1 {
		return nil, errors.Errorf("k must be >= 1, got %d", k)
	}
	if query.Kind != train.Kind {
		return nil, errors.Errorf("cannot match %s descriptors against %s descriptors", query.Kind, train.Kind)
	}
	if query.Len() == 0 || train.Len() == 0 {
		return features.MatchGroups{}, nil
	}
	if query.Width() != train.Width() {
		return nil, errors.Errorf("descriptor width mismatch: query %d, train %d", query.Width(), train.Width())
	}

	dist := l2(query.Float, train.Float)
	if query.Kind == features.BinaryDescriptors {
		dist = hammingDist(query.Binary, train.Binary)
	}

	rows := query.Len()
	groups := make(features.MatchGroups, rows)
	chunk := (rows + m.workers - 1) / m.workers
	var g errgroup.Group
	for start := 0; start < rows; start += chunk {
		start, end := start, start+chunk
		if end > rows {
			end = rows
		}
		g.Go(func() error {
			for q := start; q < end; q++ {
				groups[q] = nearest(q, train.Len(), k, dist)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return groups, nil
}

type distFunc func(q, t int) float64

func l2(query, train [][]float64) distFunc {
	return func(q, t int) float64 {
		return floats.Distance(query[q], train[t], 2)
	}
}

func hammingDist(query, train [][]byte) distFunc {
	return func(q, t int) float64 {
		return float64(hamming.Bytes(query[q], train[t]))
	}
}

// nearest keeps the k best candidates of query row q, ordered by insertion.
func nearest(q, trainLen, k int, dist distFunc) []features.DMatch {
	if k > trainLen {
		k = trainLen
	}
	best := make([]features.DMatch, 0, k)
	for t := 0; t < trainLen; t++ {
		d := dist(q, t)
		if len(best) == k && d >= best[k-1].Distance {
			continue
		}
		pos := len(best)
		for pos > 0 && best[pos-1].Distance > d {
			pos--
		}
		if len(best) < k {
			best = append(best, features.DMatch{})
		}
		copy(best[pos+1:], best[pos:len(best)-1])
		best[pos] = features.DMatch{QueryIdx: q, TrainIdx: t, Distance: d}
	}
	return best
}
