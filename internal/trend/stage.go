package trend

import (
	"barkeep/pkg/model"
)

// DetectStage classifies the final bar of a histogram series.
//
// A zero-cross on the last bar is a Confirmed Trough (up) or Confirmed
// Peak (down). Otherwise the series since the most recent crossing within
// the trailing lookback bars is examined: a negative histogram rising off
// its minimum is Troughing, a positive one falling off its maximum is
// Peaking, and anything else is plain Falling or Rising. Series shorter
// than three bars are undefined.
func DetectStage(hist []float64, lookback int) model.Stage {
	n := len(hist)
	if n < 3 {
		return model.StageUndefined
	}

	last := hist[n-1]
	prev := hist[n-2]

	if prev < 0 && last >= 0 {
		return model.StageConfirmedTrough
	}
	if prev > 0 && last <= 0 {
		return model.StageConfirmedPeak
	}

	// The examination window opens on the bar immediately after the most
	// recent zero-crossing, or at the start of the series when no crossing
	// falls within the trailing lookback bars.
	windowStart := 0
	lo := n - lookback - 1
	if lo < 0 {
		lo = 0
	}
	for i := n - 2; i >= lo; i-- {
		if (hist[i] < 0 && hist[i+1] >= 0) || (hist[i] > 0 && hist[i+1] <= 0) {
			windowStart = i + 1
			break
		}
	}
	window := hist[windowStart:]

	if last < 0 {
		trough := windowStart + argMin(window)
		if trough < n-1 && slopeFrom(hist, trough) > 0 {
			return model.StageTroughing
		}
		return model.StageFalling
	}

	peak := windowStart + argMax(window)
	if peak < n-1 && slopeFrom(hist, peak) < 0 {
		return model.StagePeaking
	}
	return model.StageRising
}

// slopeFrom measures the trend of hist from index i to the end. Sub-series
// with fewer than two points degrade to the difference between the final
// value and the value at i.
func slopeFrom(hist []float64, i int) float64 {
	sub := hist[i:]
	if len(sub) < 2 {
		return hist[len(hist)-1] - hist[i]
	}
	return Slope(sub)
}

// argMin returns the index of the smallest value, the first on ties.
func argMin(values []float64) int {
	best := 0
	for i, v := range values {
		if v < values[best] {
			best = i
		}
	}
	return best
}

// argMax returns the index of the largest value, the first on ties.
func argMax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
