package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"barkeep/internal/config"
	"barkeep/internal/store"
	"barkeep/pkg/model"
)

// Resolution is the scale decision for a freshly fetched series. Scale 1
// leaves the series untouched.
type Resolution struct {
	Strategy string
	Scale    int
	Op       model.Operation
	Persist  bool // cache the decision for future fetches
	Note     string
}

// None reports whether the resolution leaves the series unchanged.
func (r Resolution) None() bool { return r.Scale <= 1 }

// Strategy is one tier of the scale-resolution cascade applied to fetched
// series. Resolve returns nil when the tier has no opinion, handing the
// ticker to the next tier.
type Strategy interface {
	// Name returns the strategy name as reported in logs and scale notes.
	Name() string

	// Description returns a brief description.
	Description() string

	// Resolve decides the scale for a fetched series, or returns nil to
	// pass.
	Resolve(ctx context.Context, ticker string, bars []model.Bar) (*Resolution, error)
}

// ScaleCache is the slice of the bar store the cascade reads cached
// detections from.
type ScaleCache interface {
	GetScale(ctx context.Context, ticker string) (*model.ScaleRecord, error)
}

// ReferenceHistory supplies trailing reference closes for detection.
type ReferenceHistory interface {
	RecentCloses(ctx context.Context, ticker string, lookbackDays int) ([]float64, error)
}

// LocalHistory adapts the bar store into a reference tier: closes already
// stored by any source other than the monitored one.
type LocalHistory struct {
	Store         *store.Store
	ExcludeSource string
}

func (h *LocalHistory) RecentCloses(ctx context.Context, ticker string, lookbackDays int) ([]float64, error) {
	return h.Store.RecentCloses(ctx, ticker, h.ExcludeSource, true, lookbackDays)
}

// IndexExempt pins one designated index ticker to its raw values. Index
// levels live on a scale of their own and must never be corrected.
type IndexExempt struct {
	Ticker string
}

func (s *IndexExempt) Name() string        { return "index_exempt" }
func (s *IndexExempt) Description() string { return "leave the designated index ticker unscaled" }

func (s *IndexExempt) Resolve(_ context.Context, ticker string, _ []model.Bar) (*Resolution, error) {
	if !strings.EqualFold(ticker, s.Ticker) {
		return nil, nil
	}
	return &Resolution{Strategy: s.Name(), Scale: 1, Note: "index ticker exempt"}, nil
}

// CachedScale replays a previously detected divisor without touching any
// reference data. Lookup failures count as a cache miss, never an error.
type CachedScale struct {
	Cache ScaleCache
	Log   *logrus.Logger
}

func (s *CachedScale) Name() string { return "cached_scale" }
func (s *CachedScale) Description() string {
	return "apply the divisor cached by an earlier detection"
}

func (s *CachedScale) Resolve(ctx context.Context, ticker string, _ []model.Bar) (*Resolution, error) {
	rec, err := s.Cache.GetScale(ctx, ticker)
	if err != nil {
		s.Log.WithError(err).WithField("ticker", ticker).
			Warn("scale cache lookup failed, detecting from scratch")
		return nil, nil
	}
	if rec == nil {
		return nil, nil
	}
	res := &Resolution{
		Strategy: s.Name(),
		Scale:    rec.Scale,
		Note:     fmt.Sprintf("cached by %s at %s", rec.DetectedBy, rec.DetectedAt.Format("2006-01-02")),
	}
	if rec.Scale > 1 {
		res.Op = model.OpDivide
	}
	return res, nil
}

// ReferenceMedian compares the fetched median against the first reference
// history that has recent closes, and caches confirmed divisors. Once a
// reference exists the cascade ends here whatever the verdict: a healthy
// ratio is a final "no correction", not a hand-off to the default tier.
type ReferenceMedian struct {
	Detector     Detector
	References   []ReferenceHistory
	LookbackDays int
	Log          *logrus.Logger
}

func (s *ReferenceMedian) Name() string { return "reference_median" }
func (s *ReferenceMedian) Description() string {
	return "detect against the median of recent reference closes"
}

func (s *ReferenceMedian) Resolve(ctx context.Context, ticker string, bars []model.Bar) (*Resolution, error) {
	fetched, ok := medianClose(bars)
	if !ok || fetched <= 0 {
		return nil, nil
	}
	refMedian, ok := s.referenceMedian(ctx, ticker)
	if !ok {
		return nil, nil
	}

	scale, op, ok := s.Detector.Detect(fetched, refMedian)
	if !ok {
		return &Resolution{
			Strategy: s.Name(),
			Scale:    1,
			Note:     fmt.Sprintf("consistent with reference (fetched %.2f, ref %.2f)", fetched, refMedian),
		}, nil
	}
	return &Resolution{
		Strategy: s.Name(),
		Scale:    scale,
		Op:       op,
		// The cache stores divisors only; a multiply correction is applied
		// but re-detected on the next fetch.
		Persist: op == model.OpDivide,
		Note:    fmt.Sprintf("fetched median %.2f vs reference %.2f", fetched, refMedian),
	}, nil
}

// referenceMedian walks the reference tiers in order; a failing tier is
// logged and skipped, never fatal.
func (s *ReferenceMedian) referenceMedian(ctx context.Context, ticker string) (float64, bool) {
	for _, ref := range s.References {
		closes, err := ref.RecentCloses(ctx, ticker, s.LookbackDays)
		if err != nil {
			s.Log.WithError(err).WithField("ticker", ticker).
				Warn("reference lookup failed, trying next tier")
			continue
		}
		if m, ok := median(closes); ok && m > 0 {
			return m, true
		}
	}
	return 0, false
}

// MagnitudeDefault is the last resort for tickers with no reference
// anywhere: a series whose median exceeds the divisor is assumed to be
// reported in raw units and divided down. Low confidence, so the decision
// is never cached.
type MagnitudeDefault struct {
	Divisor int
}

func (s *MagnitudeDefault) Name() string { return "magnitude_default" }
func (s *MagnitudeDefault) Description() string {
	return "divide by the default factor when the median is implausibly large"
}

func (s *MagnitudeDefault) Resolve(_ context.Context, _ string, bars []model.Bar) (*Resolution, error) {
	m, ok := medianClose(bars)
	if !ok || m <= 0 {
		return nil, nil
	}
	if m <= float64(s.Divisor) {
		return &Resolution{Strategy: s.Name(), Scale: 1, Note: "median within plausible range"}, nil
	}
	return &Resolution{
		Strategy: s.Name(),
		Scale:    s.Divisor,
		Op:       model.OpDivide,
		Note:     fmt.Sprintf("no reference; median %.2f above default divisor", m),
	}, nil
}

// Resolver runs the ordered strategy cascade over freshly fetched bars.
type Resolver struct {
	strategies []Strategy
	log        *logrus.Logger
}

// NewResolver wires the standard cascade: index exemption, cached scale,
// reference-median detection, magnitude default. references are consulted
// in the given order.
func NewResolver(cache ScaleCache, references []ReferenceHistory, cfg config.ScaleConfig, logger *logrus.Logger) *Resolver {
	det := Detector{
		Threshold:  cfg.ThresholdRatio,
		Candidates: cfg.Candidates,
		Tolerance:  cfg.Tolerance,
	}
	return &Resolver{
		strategies: []Strategy{
			&IndexExempt{Ticker: cfg.IndexTicker},
			&CachedScale{Cache: cache, Log: logger},
			&ReferenceMedian{Detector: det, References: references, LookbackDays: cfg.MedianLookbackDays, Log: logger},
			&MagnitudeDefault{Divisor: cfg.DefaultDivisor},
		},
		log: logger,
	}
}

// Resolve returns the first tier's decision. With every tier silent the
// series is left untouched.
func (r *Resolver) Resolve(ctx context.Context, ticker string, bars []model.Bar) (Resolution, error) {
	for _, s := range r.strategies {
		res, err := s.Resolve(ctx, ticker, bars)
		if err != nil {
			return Resolution{}, fmt.Errorf("strategy %s: %w", s.Name(), err)
		}
		if res == nil {
			continue
		}
		r.log.WithFields(logrus.Fields{
			"ticker":   ticker,
			"strategy": res.Strategy,
			"scale":    res.Scale,
			"op":       string(res.Op),
		}).Debug("scale resolved")
		return *res, nil
	}
	return Resolution{Strategy: "unresolved", Scale: 1}, nil
}

// ApplyScale rescales the price fields of bars in place per res. Null
// prices stay null; volume is never scaled.
func ApplyScale(bars []model.Bar, res Resolution) {
	if res.None() {
		return
	}
	f := float64(res.Scale)
	for i := range bars {
		b := &bars[i]
		b.Open = scaled(b.Open, f, res.Op)
		b.High = scaled(b.High, f, res.Op)
		b.Low = scaled(b.Low, f, res.Op)
		b.Close = scaled(b.Close, f, res.Op)
	}
}

func scaled(p *float64, f float64, op model.Operation) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	if op == model.OpMultiply {
		v *= f
	} else {
		v /= f
	}
	return &v
}
