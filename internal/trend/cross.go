package trend

import (
	"math"
	"sort"

	"barkeep/pkg/model"
)

// minEstimateBars is the shortest histogram an extrapolation is attempted
// on. Below this the velocity windows overlap too much to be meaningful.
const minEstimateBars = 10

// velocityWindows are the trailing spans the per-bar velocity is sampled
// over. The median of the surviving samples is used, so a single noisy
// window cannot dominate the estimate.
var velocityWindows = []int{3, 5, 10}

// EstimateCross projects how many bars remain until the histogram crosses
// zero by extrapolating its recent velocity. It returns nil when the series
// is too short, every velocity window is flatter than flat, the histogram
// is moving away from zero, or the projected crossing falls outside
// [minDays, maxDays]. The projection is a linear extrapolation heuristic,
// not a forecast.
func EstimateCross(hist []float64, flat, minDays, maxDays float64) *model.CrossEstimate {
	n := len(hist)
	if n < minEstimateBars {
		return nil
	}
	current := hist[n-1]

	var velocities []float64
	for _, span := range velocityWindows {
		recent := tail(hist, span)
		if len(recent) < 2 {
			continue
		}
		v := meanDiff(recent)
		if math.Abs(v) > flat {
			velocities = append(velocities, v)
		}
	}
	if len(velocities) == 0 {
		return nil
	}

	velocity := median(velocities)
	if math.Abs(velocity) < flat {
		return nil
	}

	days := math.Abs(current / velocity)
	towardZero := (current < 0 && velocity > 0) || (current > 0 && velocity < 0)
	if !towardZero || days < minDays || days > maxDays {
		return nil
	}
	return &model.CrossEstimate{Days: days, Velocity: velocity}
}

// tail returns the last n values, or all of them when fewer exist.
func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

// meanDiff is the mean first difference, the average per-bar change.
func meanDiff(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < n; i++ {
		sum += values[i] - values[i-1]
	}
	return sum / float64(n-1)
}

// median returns the middle value of values, averaging the central pair
// for even counts. The input is not modified.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
