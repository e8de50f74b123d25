// Package reconcile detects and corrects systematic unit mismatches between
// price sources.
//
// Feeds in this domain disagree by near-exact factors: one side reporting
// raw VND while the other holds thousand-VND, or a lot factor of 10000.
// Detection therefore searches a small fixed candidate set instead of
// accepting arbitrary ratios, and works on medians of recent closes so a
// few outliers cannot flip the verdict.
package reconcile

import (
	"math"
	"sort"

	"barkeep/pkg/model"
)

// Detector holds the numeric thresholds for scale detection.
type Detector struct {
	// Threshold is the minimum ratio between the two sides before any
	// candidate is considered. Genuine price divergence stays below it.
	Threshold float64
	// Candidates are the recognized mismatch factors.
	Candidates []int
	// Tolerance is the maximum relative distance |ratio-c|/c at which a
	// candidate is still accepted.
	Tolerance float64
}

// Detect reports the factor and operation that reconcile price with ref.
// ok is false when the pair is consistent or the reference is unusable.
func (d Detector) Detect(price, ref float64) (scale int, op model.Operation, ok bool) {
	if ref <= 0 || price <= 0 {
		return 0, "", false
	}
	ratio := price / ref
	if ratio > d.Threshold {
		if c, ok := d.nearest(ratio); ok {
			return c, model.OpDivide, true
		}
	}
	if ratio < 1/d.Threshold {
		if c, ok := d.nearest(ref / price); ok {
			return c, model.OpMultiply, true
		}
	}
	return 0, "", false
}

// nearest picks the candidate minimizing |ratio - c|, accepting it only
// within Tolerance.
func (d Detector) nearest(ratio float64) (int, bool) {
	best := 0
	bestDist := math.MaxFloat64
	for _, c := range d.Candidates {
		if dist := math.Abs(ratio - float64(c)); dist < bestDist {
			best, bestDist = c, dist
		}
	}
	if best == 0 || bestDist/float64(best) >= d.Tolerance {
		return 0, false
	}
	return best, true
}

// median returns the midpoint of values, averaging the middle pair for even
// lengths. ok is false on empty input.
func median(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2, true
	}
	return s[mid], true
}

// medianClose is the median of the non-null closes in bars.
func medianClose(bars []model.Bar) (float64, bool) {
	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		if b.Close != nil {
			closes = append(closes, *b.Close)
		}
	}
	return median(closes)
}
