// Package overview assembles the per-ticker composite view: stage
// classifications on daily, weekly and monthly timeframes, a weighted
// composite score, a projected-volume ratio and an optional zero-cross
// estimate. Rows are rebuilt from stored bars on every request and never
// persisted.
package overview

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"barkeep/internal/config"
	"barkeep/internal/store"
	"barkeep/internal/trend"
	"barkeep/pkg/model"
)

// Builder builds overview rows from the price store.
type Builder struct {
	store  *store.Store
	trend  config.TrendConfig
	cfg    config.OverviewConfig
	clock  *SessionClock
	source string
	log    *logrus.Logger
	now    func() time.Time
}

// NewBuilder returns a Builder reading bars preferred from source.
func NewBuilder(st *store.Store, trendCfg config.TrendConfig, cfg config.OverviewConfig, source string, logger *logrus.Logger) *Builder {
	return &Builder{
		store:  st,
		trend:  trendCfg,
		cfg:    cfg,
		clock:  NewSessionClock(cfg.Timezone),
		source: source,
		log:    logger,
		now:    time.Now,
	}
}

// Build assembles one row per ticker. An empty ticker list means every
// ticker in the store. Tickers without any usable bars are skipped, and a
// single ticker's failure is logged and skipped rather than aborting the
// whole build. Rows are ordered by daily stage, then by daily histogram.
func (b *Builder) Build(ctx context.Context, tickers []string) ([]model.OverviewRow, error) {
	if len(tickers) == 0 {
		all, err := b.store.DistinctTickers(ctx, "")
		if err != nil {
			return nil, err
		}
		tickers = all
	}

	rows := make([]model.OverviewRow, 0, len(tickers))
	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return rows, err
		}

		row, err := b.BuildRow(ctx, ticker)
		if err != nil {
			b.log.WithFields(logrus.Fields{
				"ticker": ticker,
				"error":  err,
			}).Warn("overview row failed, skipping")
			continue
		}
		if row == nil {
			continue
		}
		rows = append(rows, *row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Daily.Stage != rows[j].Daily.Stage {
			return rows[i].Daily.Stage < rows[j].Daily.Stage
		}
		if rows[i].Daily.Hist != rows[j].Daily.Hist {
			return rows[i].Daily.Hist < rows[j].Daily.Hist
		}
		return rows[i].Ticker < rows[j].Ticker
	})
	return rows, nil
}

// BuildRow assembles the row for a single ticker. It returns (nil, nil)
// when the store holds no usable bars for it.
func (b *Builder) BuildRow(ctx context.Context, ticker string) (*model.OverviewRow, error) {
	bars, err := b.store.LoadSeries(ctx, ticker, b.source)
	if err != nil {
		return nil, err
	}

	closes := closeSeries(bars)
	if len(closes) == 0 {
		return nil, nil
	}

	daily, dailyHist := b.timeframe(closes)
	weekly, _ := b.timeframe(Closes(Resample(bars, Weekly)))
	monthly, _ := b.timeframe(Closes(Resample(bars, Monthly)))

	row := &model.OverviewRow{
		Ticker:   ticker,
		Close:    closes[len(closes)-1],
		Daily:    daily,
		Weekly:   weekly,
		Monthly:  monthly,
		Score:    b.composite(daily.Stage, weekly.Stage, monthly.Stage),
		VolRatio: b.volumeRatio(bars),
	}
	if b.crossCandidate(daily.Stage, daily.Hist) {
		row.Cross = trend.EstimateCross(dailyHist, b.cfg.FlatVelocity, b.cfg.MinCrossDays, b.cfg.MaxCrossDays)
	}
	return row, nil
}

// timeframe classifies one close series and reports the latest histogram
// value alongside the full series.
func (b *Builder) timeframe(closes []float64) (model.TimeframeStage, []float64) {
	hist := trend.Histogram(closes, b.trend.Fast, b.trend.Slow, b.trend.Signal)
	ts := model.TimeframeStage{Stage: trend.DetectStage(hist, b.trend.Lookback)}
	if len(hist) > 0 {
		ts.Hist = hist[len(hist)-1]
	}
	return ts, hist
}

// composite mixes the three stage scores into one rounded number.
func (b *Builder) composite(daily, weekly, monthly model.Stage) int {
	return int(math.Round(
		b.cfg.DailyWeight*float64(daily.Score()) +
			b.cfg.WeeklyWeight*float64(weekly.Score()) +
			b.cfg.MonthlyWeight*float64(monthly.Score())))
}

// volumeRatio compares the latest bar's volume, projected to a full-day
// equivalent, against the average over the trailing complete days. With no
// trailing history the latest bar is its own baseline.
func (b *Builder) volumeRatio(bars []model.Bar) float64 {
	if len(bars) == 0 {
		return 1.0
	}

	current := float64(bars[len(bars)-1].Volume)

	prior := make([]float64, 0, b.cfg.VolumeLookbackDays)
	for _, bar := range bars[:len(bars)-1] {
		prior = append(prior, float64(bar.Volume))
	}
	if len(prior) > b.cfg.VolumeLookbackDays {
		prior = prior[len(prior)-b.cfg.VolumeLookbackDays:]
	}

	avg := current
	if len(prior) > 0 {
		var sum float64
		for _, v := range prior {
			sum += v
		}
		avg = sum / float64(len(prior))
	}

	adjusted := current
	if frac := b.clock.ElapsedFraction(b.now()); frac > 0 {
		adjusted = current / frac
	}

	if avg <= 0 {
		return 1.0
	}
	return adjusted / avg
}

// crossCandidate reports whether the daily stage and histogram sit in the
// near-zero band where a crossing estimate is worth computing.
func (b *Builder) crossCandidate(stage model.Stage, hist float64) bool {
	switch stage {
	case model.StageTroughing, model.StageFalling:
		return hist < 0 && hist > -b.cfg.NearZero
	case model.StagePeaking, model.StageRising:
		return hist > 0 && hist < b.cfg.NearZero
	default:
		return false
	}
}

// closeSeries extracts the known closes of a bar series in date order.
func closeSeries(bars []model.Bar) []float64 {
	out := make([]float64, 0, len(bars))
	for i := range bars {
		if bars[i].Close != nil {
			out = append(out, *bars[i].Close)
		}
	}
	return out
}
