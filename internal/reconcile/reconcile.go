package reconcile

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"barkeep/internal/config"
	"barkeep/internal/store"
	"barkeep/pkg/model"
)

// Comparison methods reported in findings.
const (
	MethodLatestClose    = "latest_close"
	MethodMedianFallback = "median_fallback"
	MethodRefLatest      = "ref_db_latest"
)

// Finding is one scan verdict: the observed/reference pair the ticker was
// judged on, the comparison method, and the correction.
type Finding struct {
	Ticker   string          `json:"ticker"`
	Observed float64         `json:"observed"`
	Ref      float64         `json:"ref"`
	Scale    int             `json:"scale"`
	Op       model.Operation `json:"op"`
	Method   string          `json:"method"`
	Rows     int64           `json:"rows,omitempty"` // rows corrected; 0 on dry runs
}

// Reconciler audits stored rows from the monitored source against reference
// data and corrects confirmed mismatches in place.
type Reconciler struct {
	store *store.Store
	ref   *store.LegacyReader // external reference store, may be nil
	cfg   config.ScaleConfig
	det   Detector
	log   *logrus.Logger
}

// NewReconciler builds a reconciler over the bar store. ref is the optional
// external reference store used as the last comparison tier.
func NewReconciler(st *store.Store, ref *store.LegacyReader, cfg config.ScaleConfig, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		store: st,
		ref:   ref,
		cfg:   cfg,
		det: Detector{
			Threshold:  cfg.ThresholdRatio,
			Candidates: cfg.Candidates,
			Tolerance:  cfg.Tolerance,
		},
		log: logger,
	}
}

// ScanAndFix examines tickers for scale mismatches between monitored-source
// rows and the best available reference: same-store latest closes when
// dated within the tolerance window, trailing medians when not, then the
// external reference store. Tickers with no reference at all are skipped.
// Findings are returned for every detected mismatch whether or not a fix
// was applied; with dryRun nothing is written. since restricts corrective
// updates to dates on or after it, while detection always uses the full
// history. An empty ticker list scans every stored ticker.
func (r *Reconciler) ScanAndFix(ctx context.Context, tickers []string, source string, dryRun bool, since string) ([]Finding, error) {
	if len(tickers) == 0 {
		var err error
		tickers, err = r.store.DistinctTickers(ctx, "")
		if err != nil {
			return nil, err
		}
	}

	var findings []Finding
	for _, t := range tickers {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		f, err := r.scanTicker(ctx, t, source)
		if err != nil {
			return findings, err
		}
		if f == nil {
			continue
		}
		if !dryRun {
			rows, err := r.store.RescaleBars(ctx, t, source, f.Scale, f.Op, since)
			if err != nil {
				return findings, fmt.Errorf("apply fix for %s: %w", t, err)
			}
			f.Rows = rows
		}
		r.log.WithFields(logrus.Fields{
			"ticker":   t,
			"observed": f.Observed,
			"ref":      f.Ref,
			"scale":    f.Scale,
			"op":       string(f.Op),
			"method":   f.Method,
			"dry_run":  dryRun,
		}).Info("scale mismatch detected")
		findings = append(findings, *f)
	}
	return findings, nil
}

func (r *Reconciler) scanTicker(ctx context.Context, ticker, source string) (*Finding, error) {
	observed, err := r.store.LatestClose(ctx, ticker, source, false)
	if err != nil {
		return nil, err
	}
	if observed == nil {
		return nil, nil // ticker has no monitored rows
	}

	p, err := r.comparisonPair(ctx, ticker, source, observed)
	if err != nil {
		return nil, err
	}
	if p == nil {
		r.log.WithField("ticker", ticker).Debug("no reference available, skipping")
		return nil, nil
	}

	scale, op, ok := r.det.Detect(p.observed, p.ref)
	if !ok {
		return nil, nil
	}
	return &Finding{
		Ticker:   ticker,
		Observed: p.observed,
		Ref:      p.ref,
		Scale:    scale,
		Op:       op,
		Method:   p.method,
	}, nil
}

type comparison struct {
	observed float64
	ref      float64
	method   string
}

// comparisonPair walks the reference tiers for one ticker. A failing tier
// advances to the next; only total absence of a reference returns nil.
func (r *Reconciler) comparisonPair(ctx context.Context, ticker, source string, latest *store.ClosePoint) (*comparison, error) {
	local, err := r.store.LatestClose(ctx, ticker, source, true)
	if err != nil {
		return nil, err
	}
	if local != nil {
		diff := latest.Date.Sub(local.Date)
		if diff < 0 {
			diff = -diff
		}
		if int(diff.Hours()/24) <= r.cfg.DateToleranceDays {
			return &comparison{observed: latest.Close, ref: local.Close, method: MethodLatestClose}, nil
		}

		// Dates too far apart for a direct comparison. A systematic
		// mismatch still shows up in the trailing medians.
		obs, err := r.store.RecentCloses(ctx, ticker, source, false, r.cfg.MedianLookbackDays)
		if err != nil {
			return nil, err
		}
		refs, err := r.store.RecentCloses(ctx, ticker, source, true, r.cfg.MedianLookbackDays)
		if err != nil {
			return nil, err
		}
		om, okObs := median(obs)
		rm, okRef := median(refs)
		if okObs && okRef && rm > 0 {
			return &comparison{observed: om, ref: rm, method: MethodMedianFallback}, nil
		}
	}

	if r.ref != nil {
		refLatest, err := r.ref.LatestClose(ctx, ticker)
		if err != nil {
			r.log.WithError(err).WithField("ticker", ticker).Warn("reference store lookup failed")
		} else if refLatest != nil {
			return &comparison{observed: latest.Close, ref: refLatest.Close, method: MethodRefLatest}, nil
		}
	}
	return nil, nil
}

// ForceRescale divides matching source rows by an explicit factor without
// any detection. Running it twice compounds the distortion: the operation
// is not idempotent and is only ever operator-invoked, never automatic.
// An empty ticker list covers every ticker carrying rows from source.
func (r *Reconciler) ForceRescale(ctx context.Context, tickers []string, source string, scale int, since string) (int64, error) {
	if scale <= 1 {
		return 0, fmt.Errorf("invalid force-rescale factor %d", scale)
	}
	if len(tickers) == 0 {
		var err error
		tickers, err = r.store.DistinctTickers(ctx, source)
		if err != nil {
			return 0, err
		}
	}

	var total int64
	for _, t := range tickers {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := r.store.RescaleBars(ctx, t, source, scale, model.OpDivide, since)
		if err != nil {
			return total, fmt.Errorf("force rescale %s: %w", t, err)
		}
		total += n
	}
	r.log.WithFields(logrus.Fields{"rows": total, "scale": scale, "source": source}).
		Info("force rescale applied")
	return total, nil
}
