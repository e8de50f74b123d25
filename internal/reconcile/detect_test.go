package reconcile

import (
	"math"
	"testing"

	"barkeep/pkg/model"
)

func testDetector() Detector {
	return Detector{
		Threshold:  5.0,
		Candidates: []int{1000, 100, 10, 10000},
		Tolerance:  0.2,
	}
}

func TestDetectCandidateRoundTrip(t *testing.T) {
	det := testDetector()
	ref := 25.0

	for _, c := range det.Candidates {
		scale, op, ok := det.Detect(ref*float64(c), ref)
		if !ok || scale != c || op != model.OpDivide {
			t.Errorf("Detect(%v, %v) = (%d, %s, %v), want (%d, divide, true)",
				ref*float64(c), ref, scale, op, ok, c)
		}

		scale, op, ok = det.Detect(ref/float64(c), ref)
		if !ok || scale != c || op != model.OpMultiply {
			t.Errorf("Detect(%v, %v) = (%d, %s, %v), want (%d, multiply, true)",
				ref/float64(c), ref, scale, op, ok, c)
		}
	}

	if _, _, ok := det.Detect(ref, ref); ok {
		t.Error("Detect(r, r) detected a mismatch on identical values")
	}
}

func TestDetectVerdicts(t *testing.T) {
	det := testDetector()

	tests := []struct {
		name      string
		price     float64
		ref       float64
		wantScale int
		wantOp    model.Operation
		wantOK    bool
	}{
		{"within tolerance low side", 850, 1.0, 1000, model.OpDivide, true},
		{"within tolerance high side", 1150, 1.0, 1000, model.OpDivide, true},
		{"outside tolerance", 1250, 1.0, 0, "", false},
		{"nearest beats smaller candidate", 950, 1.0, 1000, model.OpDivide, true},
		{"nearest is the lot factor", 9800, 1.0, 10000, model.OpDivide, true},
		{"ratio at threshold is not a mismatch", 5, 1.0, 0, "", false},
		{"genuine divergence below threshold", 3, 1.0, 0, "", false},
		{"inverse within tolerance", 1.0, 980, 1000, model.OpMultiply, true},
		{"inverse outside tolerance", 1.0, 1300, 0, "", false},
		{"zero reference", 100, 0, 0, "", false},
		{"negative reference", 100, -5, 0, "", false},
		{"zero price", 0, 25, 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scale, op, ok := det.Detect(tt.price, tt.ref)
			if ok != tt.wantOK || scale != tt.wantScale || op != tt.wantOp {
				t.Errorf("Detect(%v, %v) = (%d, %q, %v), want (%d, %q, %v)",
					tt.price, tt.ref, scale, op, ok, tt.wantScale, tt.wantOp, tt.wantOK)
			}
		})
	}
}

func TestDetectEmptyCandidates(t *testing.T) {
	det := Detector{Threshold: 5.0, Tolerance: 0.2}
	if _, _, ok := det.Detect(25000, 25); ok {
		t.Error("Detect() with no candidates reported a mismatch")
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
		wantOK bool
	}{
		{"empty", nil, 0, false},
		{"single", []float64{7}, 7, true},
		{"odd", []float64{3, 1, 2}, 2, true},
		{"even averages middle pair", []float64{4, 1, 3, 2}, 2.5, true},
		{"unsorted with outlier", []float64{100, 24, 25, 26, 25}, 25, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := median(tt.values)
			if ok != tt.wantOK || math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("median(%v) = (%v, %v), want (%v, %v)", tt.values, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMedianClose(t *testing.T) {
	v1, v2 := 10.0, 30.0
	bars := []model.Bar{
		{Close: &v1},
		{Close: nil},
		{Close: &v2},
	}
	got, ok := medianClose(bars)
	if !ok || got != 20 {
		t.Errorf("medianClose() = (%v, %v), want (20, true): null closes must be excluded", got, ok)
	}

	if _, ok := medianClose([]model.Bar{{Close: nil}}); ok {
		t.Error("medianClose() with only null closes reported ok")
	}
}
