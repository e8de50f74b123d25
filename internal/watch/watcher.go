// Package watch runs unattended refresh cycles on a cron schedule: pull
// every stored ticker, then scan the fresh rows for scale mismatches.
package watch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"barkeep/internal/ingest"
	"barkeep/internal/reconcile"
)

// Watcher owns the refresh schedule.
type Watcher struct {
	engine     *ingest.Engine
	reconciler *reconcile.Reconciler
	source     string
	spec       string
	cron       *cron.Cron
	log        *logrus.Logger
	running    atomic.Bool
}

// New creates a Watcher. spec is a six-field cron expression with a
// seconds column.
func New(engine *ingest.Engine, rec *reconcile.Reconciler, source, spec string, logger *logrus.Logger) *Watcher {
	return &Watcher{
		engine:     engine,
		reconciler: rec,
		source:     source,
		spec:       spec,
		cron:       cron.New(cron.WithSeconds()),
		log:        logger,
	}
}

// Start registers the refresh job and starts the scheduler.
func (w *Watcher) Start(ctx context.Context) error {
	w.log.WithField("cron", w.spec).Info("starting watch scheduler")

	if _, err := w.cron.AddFunc(w.spec, func() {
		w.Refresh(ctx)
	}); err != nil {
		return err
	}

	w.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for an in-flight cycle to finish.
func (w *Watcher) Stop() {
	<-w.cron.Stop().Done()
	w.log.Info("watch scheduler stopped")
}

// Refresh runs one pull-then-scan cycle. A cycle still running when the
// next trigger fires makes the new trigger a no-op.
func (w *Watcher) Refresh(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		w.log.Warn("refresh cycle still running, skipping trigger")
		return
	}
	defer w.running.Store(false)

	start := time.Now()
	w.log.Info("refresh cycle started")

	run, _, err := w.engine.PullAll(ctx, nil)
	if err != nil {
		w.log.WithError(err).Error("refresh pull failed")
		return
	}

	findings, err := w.reconciler.ScanAndFix(ctx, nil, w.source, false, "")
	if err != nil {
		w.log.WithError(err).Error("refresh scale scan failed")
		return
	}

	w.log.WithFields(logrus.Fields{
		"duration_ms": time.Since(start).Milliseconds(),
		"tickers":     run.Tickers,
		"bars":        run.BarsWritten,
		"failures":    run.Failures,
		"rescaled":    len(findings),
	}).Info("refresh cycle completed")
}
