package outlier

import (
	"errors"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
)

// Consistency scales MAD so the score is comparable to a standard z-score
// for normally distributed data (Iglewicz & Hoaglin).
const Consistency = 0.6745

// DefaultThreshold is the customary modified z-score cut-off.
const DefaultThreshold = 3.5

// ErrDimensionMismatch is returned by NewSample when observations have
// different lengths.
var ErrDimensionMismatch = errors.New("outlier: observations have different dimensions")

// Sample is an immutable ordered set of fixed-length observations.
type Sample struct {
	obs  [][]float64
	dims int
}

// Scalars builds a 1-D sample; each value becomes a length-1 observation.
func Scalars(values []float64) Sample {
	obs := make([][]float64, len(values))
	for i, v := range values {
		obs[i] = []float64{v}
	}
	return Sample{obs: obs, dims: 1}
}

// NewSample builds a multi-dimensional sample. Every observation must have
// the same non-zero length. The input is copied.
func NewSample(observations [][]float64) (Sample, error) {
	if len(observations) == 0 {
		return Sample{}, nil
	}
	dims := len(observations[0])
	if dims == 0 {
		return Sample{}, ErrDimensionMismatch
	}
	obs := make([][]float64, len(observations))
	for i, o := range observations {
		if len(o) != dims {
			return Sample{}, ErrDimensionMismatch
		}
		obs[i] = append([]float64(nil), o...)
	}
	return Sample{obs: obs, dims: dims}, nil
}

// Len returns the number of observations.
func (s Sample) Len() int { return len(s.obs) }

// Dims returns the observation length (0 for an empty sample).
func (s Sample) Dims() int { return s.dims }

// Score returns the modified z-score of every observation, aligned by index.
//
// An empty sample yields an empty slice. When the median absolute deviation
// is zero, observations at distance 0 from the median score 0 and all others
// score +Inf.
func Score(s Sample) []float64 {
	n := len(s.obs)
	scores := make([]float64, n)
	if n == 0 {
		return scores
	}

	center := median(s)

	diff := make([]float64, n)
	for i, o := range s.obs {
		diff[i] = floats.Distance(o, center, 2)
	}
	mad := medianOf(diff)

	for i, d := range diff {
		switch {
		case math.IsNaN(d) || math.IsNaN(mad):
			scores[i] = math.NaN()
		case mad == 0 && d == 0:
			scores[i] = 0
		case mad == 0:
			scores[i] = math.Inf(1)
		default:
			scores[i] = Consistency * d / mad
		}
	}
	return scores
}

// IsOutlier reports, per observation, whether its score exceeds threshold.
// NaN scores are never outliers.
func IsOutlier(s Sample, threshold float64) []bool {
	scores := Score(s)
	return Mask(scores, threshold)
}

// Mask applies threshold to precomputed scores.
func Mask(scores []float64, threshold float64) []bool {
	mask := make([]bool, len(scores))
	for i, sc := range scores {
		mask[i] = sc > threshold
	}
	return mask
}

// Partition splits observation indices by mask into kept (false) and
// flagged (true), both in ascending order.
func Partition(mask []bool) (kept, flagged []int) {
	for i, m := range mask {
		if m {
			flagged = append(flagged, i)
		} else {
			kept = append(kept, i)
		}
	}
	return kept, flagged
}

// Mean returns the arithmetic mean of the values whose mask entry is false.
// It returns NaN when no value is kept.
func Mean(values []float64, mask []bool) float64 {
	var sum float64
	var n int
	for i, v := range values {
		if i < len(mask) && mask[i] {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// median returns the coordinate-wise median of a non-empty sample.
func median(s Sample) []float64 {
	center := make([]float64, s.dims)
	col := make([]float64, len(s.obs))
	for d := 0; d < s.dims; d++ {
		for i, o := range s.obs {
			col[i] = o[d]
		}
		center[d] = medianOf(col)
	}
	return center
}

// medianOf is the order-statistics median: the mean of the two middle values
// for even lengths. values must be non-empty; it is not modified.
func medianOf(values []float64) float64 {
	for _, v := range values {
		if math.IsNaN(v) {
			return math.NaN()
		}
	}
	m, err := stats.Median(stats.Float64Data(values))
	if err != nil {
		// Only reachable for empty input, which callers exclude.
		return math.NaN()
	}
	return m
}
