// Package trend derives momentum histograms from close series and
// classifies the latest bar into one of six trend stages. Everything here
// is pure in-memory computation over a single series; nothing is persisted
// and results are recomputed on every call.
package trend

// EMA computes the exponential moving average of values using the standard
// recursive smoothing formula with alpha = 2/(period+1), seeded with the
// first value. The result has the same length as the input.
func EMA(values []float64, period int) []float64 {
	if len(values) == 0 || period < 1 {
		return nil
	}

	alpha := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// Histogram computes the MACD histogram of a close series: the MACD line
// (fast EMA minus slow EMA) minus the signal EMA of that line.
func Histogram(closes []float64, fast, slow, signal int) []float64 {
	if len(closes) == 0 {
		return nil
	}

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}

	sig := EMA(line, signal)
	hist := make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - sig[i]
	}
	return hist
}

// Slope returns the ordinary least-squares slope of values fitted against
// their indices. Series with fewer than two points have no slope.
func Slope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}

	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}
