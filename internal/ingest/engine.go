// Package ingest pulls daily bars from a provider, resolves unit scale,
// and writes the corrected series into the price store. Pulls run one
// ticker at a time with rate-limit pacing between calls; a cancellation
// aborts the remaining queue and leaves committed batches intact.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"barkeep/internal/config"
	"barkeep/internal/provider"
	"barkeep/internal/ratelimit"
	"barkeep/internal/reconcile"
	"barkeep/internal/store"
	"barkeep/pkg/model"
)

// Reason codes carried on per-ticker results so callers can decide
// skip-vs-abort without string-matching error text.
type Reason string

const (
	ReasonOK           Reason = "ok"
	ReasonNetworkError Reason = "network_error"
	ReasonParseError   Reason = "parse_error"
	ReasonNotFound     Reason = "not_found"
	ReasonStoreError   Reason = "store_error"
	ReasonCancelled    Reason = "cancelled"
)

// TickerResult is the outcome of one ticker's pull.
type TickerResult struct {
	Ticker   string          `json:"ticker"`
	Bars     int             `json:"bars"`
	Strategy string          `json:"strategy,omitempty"`
	Scale    int             `json:"scale,omitempty"`
	Op       model.Operation `json:"op,omitempty"`
	Reason   Reason          `json:"reason"`
	Err      error           `json:"-"`
}

// ProgressCallback is called with progress updates
type ProgressCallback func(done, total int)

// Engine coordinates provider fetches, scale resolution and store writes.
type Engine struct {
	store        *store.Store
	provider     provider.Provider
	resolver     *reconcile.Resolver
	limiter      *ratelimit.Limiter
	cfg          config.SourceConfig
	log          *logrus.Logger
	progressFunc ProgressCallback
}

// NewEngine creates an ingest engine.
func NewEngine(st *store.Store, p provider.Provider, resolver *reconcile.Resolver, limiter *ratelimit.Limiter, cfg config.SourceConfig, logger *logrus.Logger) *Engine {
	return &Engine{
		store:    st,
		provider: p,
		resolver: resolver,
		limiter:  limiter,
		cfg:      cfg,
		log:      logger,
	}
}

// SetProgressCallback sets the progress callback function
func (e *Engine) SetProgressCallback(fn ProgressCallback) {
	e.progressFunc = fn
}

// PullTicker fetches, scale-corrects and stores one ticker's daily bars.
// Failures are reported on the result, never panicked or retried here.
func (e *Engine) PullTicker(ctx context.Context, ticker string) TickerResult {
	res := TickerResult{Ticker: ticker}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			res.Err = err
			res.Reason = classify(err)
			return res
		}
	}

	bars, err := e.provider.GetDailyBars(ctx, ticker, e.cfg.DefaultDays, "D")
	if err != nil {
		var perr *provider.ProviderError
		if errors.As(err, &perr) && perr.Retryable && e.limiter != nil {
			e.limiter.SignalRateLimited()
		}
		res.Err = err
		res.Reason = classify(err)
		return res
	}
	if e.limiter != nil {
		e.limiter.ResetBackoff()
	}

	for i := range bars {
		if bars[i].Source == "" {
			bars[i].Source = e.provider.Name()
		}
	}

	resolution, err := e.resolver.Resolve(ctx, ticker, bars)
	if err != nil {
		res.Err = err
		res.Reason = ReasonStoreError
		return res
	}
	reconcile.ApplyScale(bars, resolution)

	if resolution.Persist {
		rec := model.ScaleRecord{
			Ticker:     ticker,
			Scale:      resolution.Scale,
			DetectedBy: model.DetectedAutoscale,
			Note:       resolution.Note,
		}
		if err := e.store.PutScale(ctx, rec); err != nil {
			// A cache miss on the next pull just re-detects.
			e.log.WithFields(logrus.Fields{
				"ticker": ticker,
				"error":  err,
			}).Warn("scale cache write failed")
		}
	}

	n, err := e.store.UpsertBars(ctx, bars)
	if err != nil {
		res.Err = err
		res.Reason = ReasonStoreError
		return res
	}

	res.Bars = n
	res.Strategy = resolution.Strategy
	res.Scale = resolution.Scale
	res.Op = resolution.Op
	res.Reason = ReasonOK
	return res
}

// PullAll pulls every given ticker sequentially, journaling the run. An
// empty ticker list means every ticker already in the store. A single
// ticker's failure is logged and the loop continues; only cancellation
// stops the queue.
func (e *Engine) PullAll(ctx context.Context, tickers []string) (*model.RunRecord, []TickerResult, error) {
	if len(tickers) == 0 {
		all, err := e.store.DistinctTickers(ctx, "")
		if err != nil {
			return nil, nil, err
		}
		tickers = all
	}

	run := model.RunRecord{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Source:    e.provider.Name(),
		Tickers:   len(tickers),
	}
	if err := e.store.StartRun(ctx, run); err != nil {
		return nil, nil, err
	}

	results := make([]TickerResult, 0, len(tickers))
	note := "completed"
	var written, failures int

	for i, ticker := range tickers {
		if ctx.Err() != nil {
			note = "cancelled"
			break
		}

		r := e.PullTicker(ctx, ticker)
		if r.Reason == ReasonCancelled {
			note = "cancelled"
			break
		}
		results = append(results, r)

		if r.Err != nil {
			failures++
			e.log.WithFields(logrus.Fields{
				"ticker": ticker,
				"reason": r.Reason,
				"error":  r.Err,
			}).Warn("pull failed")
		} else {
			written += r.Bars
			e.log.WithFields(logrus.Fields{
				"ticker":   ticker,
				"bars":     r.Bars,
				"strategy": r.Strategy,
			}).Debug("pull ok")
		}

		if e.progressFunc != nil {
			e.progressFunc(i+1, len(tickers))
		}
	}

	run.BarsWritten = written
	run.Failures = failures
	run.Note = note
	finished := time.Now().UTC()
	run.FinishedAt = &finished

	// The journal row is closed out even when ctx is already cancelled.
	if err := e.store.FinishRun(context.Background(), run.ID, run.Tickers, written, failures, note); err != nil {
		e.log.WithFields(logrus.Fields{"run": run.ID, "error": err}).Warn("run journal update failed")
	}

	e.log.WithFields(logrus.Fields{
		"run":      run.ID,
		"tickers":  run.Tickers,
		"bars":     written,
		"failures": failures,
		"note":     note,
	}).Info("pull run finished")

	return &run, results, ctx.Err()
}

// Import copies every row of a legacy store into the price store, tagging
// rows that carry no source with fallbackSource. limit > 0 caps the copy.
func (e *Engine) Import(ctx context.Context, ref *store.LegacyReader, fallbackSource string, limit int) (int, error) {
	bars, err := ref.ReadAll(ctx, fallbackSource, limit)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, nil
	}

	n, err := e.store.UpsertBars(ctx, bars)
	if err != nil {
		return 0, err
	}
	e.log.WithFields(logrus.Fields{
		"rows":   n,
		"schema": ref.Schema(),
	}).Info("legacy import finished")
	return n, nil
}

// classify maps an error to the reason code callers branch on.
func classify(err error) Reason {
	if err == nil {
		return ReasonOK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonCancelled
	}
	if errors.Is(err, provider.ErrNoData) {
		return ReasonNotFound
	}
	var perr *provider.ProviderError
	if errors.As(err, &perr) {
		if perr.Parse {
			return ReasonParseError
		}
		return ReasonNetworkError
	}
	return ReasonNetworkError
}
