package store

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"barkeep/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := Open(filepath.Join(t.TempDir(), "bars.db"), logger)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fp(v float64) *float64 { return &v }

func testBar(ticker, date, source string, c float64, vol int64) model.Bar {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	return model.Bar{
		Ticker: ticker,
		Date:   d,
		Open:   fp(c - 1),
		High:   fp(c + 1),
		Low:    fp(c - 2),
		Close:  fp(c),
		Volume: vol,
		Source: source,
	}
}

func TestUpsertBarsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bars := []model.Bar{
		testBar("FPT", "2024-03-14", "tcbs", 120.5, 1000),
		testBar("FPT", "2024-03-15", "tcbs", 121.0, 2000),
	}

	for i := 0; i < 2; i++ {
		if _, err := s.UpsertBars(ctx, bars); err != nil {
			t.Fatalf("UpsertBars() pass %d error: %v", i+1, err)
		}
	}

	n, err := s.CountSource(ctx, "tcbs", nil, "")
	if err != nil {
		t.Fatalf("CountSource() error: %v", err)
	}
	if n != 2 {
		t.Errorf("row count after double upsert = %d, want 2", n)
	}
}

func TestUpsertBarsReplacesOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertBars(ctx, []model.Bar{testBar("FPT", "2024-03-15", "tcbs", 100, 500)}); err != nil {
		t.Fatalf("UpsertBars() error: %v", err)
	}
	if _, err := s.UpsertBars(ctx, []model.Bar{testBar("FPT", "2024-03-15", "tcbs", 125, 900)}); err != nil {
		t.Fatalf("UpsertBars() replace error: %v", err)
	}

	got, err := s.SourceBars(ctx, "FPT", "tcbs")
	if err != nil {
		t.Fatalf("SourceBars() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(bars) = %d, want 1", len(got))
	}
	if got[0].Close == nil || *got[0].Close != 125 {
		t.Errorf("close after replace = %v, want 125", got[0].Close)
	}
	if got[0].Volume != 900 {
		t.Errorf("volume after replace = %d, want 900", got[0].Volume)
	}
}

func TestUpsertBarsRejectsInvalidRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		bad  model.Bar
	}{
		{"zero date", model.Bar{Ticker: "FPT", Source: "tcbs"}},
		{"empty ticker", model.Bar{Date: time.Now(), Source: "tcbs"}},
		{"empty source", model.Bar{Ticker: "FPT", Date: time.Now()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := []model.Bar{testBar("FPT", "2024-03-15", "tcbs", 100, 500), tt.bad}
			if _, err := s.UpsertBars(ctx, batch); err == nil {
				t.Fatal("UpsertBars() expected error, got nil")
			}
			n, err := s.CountSource(ctx, "tcbs", nil, "")
			if err != nil {
				t.Fatalf("CountSource() error: %v", err)
			}
			if n != 0 {
				t.Errorf("rows written despite invalid batch = %d, want 0", n)
			}
		})
	}
}

func TestUpsertBarsSpansBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var bars []model.Bar
	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < BatchSize*2+41; i++ {
		bars = append(bars, model.Bar{
			Ticker: "FPT",
			Date:   day.AddDate(0, 0, i),
			Close:  fp(float64(i)),
			Source: "tcbs",
		})
	}

	written, err := s.UpsertBars(ctx, bars)
	if err != nil {
		t.Fatalf("UpsertBars() error: %v", err)
	}
	if written != len(bars) {
		t.Errorf("written = %d, want %d", written, len(bars))
	}
	n, err := s.CountSource(ctx, "tcbs", nil, "")
	if err != nil {
		t.Fatalf("CountSource() error: %v", err)
	}
	if n != int64(len(bars)) {
		t.Errorf("row count = %d, want %d", n, len(bars))
	}
}

func TestRescaleBarsPreservesNulls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bar := model.Bar{
		Ticker: "FPT",
		Date:   time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Close:  fp(25000),
		High:   fp(26000),
		Volume: 1234,
		Source: "tcbs",
	}
	if _, err := s.UpsertBars(ctx, []model.Bar{bar}); err != nil {
		t.Fatalf("UpsertBars() error: %v", err)
	}

	n, err := s.RescaleBars(ctx, "FPT", "tcbs", 1000, model.OpDivide, "")
	if err != nil {
		t.Fatalf("RescaleBars() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows rescaled = %d, want 1", n)
	}

	got, err := s.SourceBars(ctx, "FPT", "tcbs")
	if err != nil {
		t.Fatalf("SourceBars() error: %v", err)
	}
	b := got[0]
	if b.Close == nil || *b.Close != 25 {
		t.Errorf("close = %v, want 25", b.Close)
	}
	if b.High == nil || *b.High != 26 {
		t.Errorf("high = %v, want 26", b.High)
	}
	if b.Open != nil {
		t.Errorf("open = %v, want NULL preserved", *b.Open)
	}
	if b.Low != nil {
		t.Errorf("low = %v, want NULL preserved", *b.Low)
	}
	if b.Volume != 1234 {
		t.Errorf("volume = %d, want untouched 1234", b.Volume)
	}
}

func TestRescaleBarsMultiplyAndSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bars := []model.Bar{
		testBar("VNM", "2024-03-10", "tcbs", 0.065, 100),
		testBar("VNM", "2024-03-15", "tcbs", 0.066, 100),
	}
	if _, err := s.UpsertBars(ctx, bars); err != nil {
		t.Fatalf("UpsertBars() error: %v", err)
	}

	n, err := s.RescaleBars(ctx, "VNM", "tcbs", 1000, model.OpMultiply, "2024-03-12")
	if err != nil {
		t.Fatalf("RescaleBars() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows rescaled = %d, want 1", n)
	}

	got, err := s.SourceBars(ctx, "VNM", "tcbs")
	if err != nil {
		t.Fatalf("SourceBars() error: %v", err)
	}
	if *got[0].Close != 0.065 {
		t.Errorf("close before since = %v, want untouched 0.065", *got[0].Close)
	}
	if *got[1].Close != 66 {
		t.Errorf("close after since = %v, want 66", *got[1].Close)
	}
}

func TestRescaleBarsRejectsBadInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.RescaleBars(ctx, "FPT", "tcbs", 0, model.OpDivide, ""); err == nil {
		t.Error("RescaleBars() with zero scale expected error")
	}
	if _, err := s.RescaleBars(ctx, "FPT", "tcbs", 1000, model.Operation("square"), ""); err == nil {
		t.Error("RescaleBars() with unknown operation expected error")
	}
}

func TestDeleteSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bars := []model.Bar{
		testBar("FPT", "2024-03-10", "tcbs", 100, 1),
		testBar("FPT", "2024-03-15", "tcbs", 101, 1),
		testBar("VNM", "2024-03-15", "tcbs", 60, 1),
		testBar("FPT", "2024-03-15", "local_copy", 100, 1),
	}
	if _, err := s.UpsertBars(ctx, bars); err != nil {
		t.Fatalf("UpsertBars() error: %v", err)
	}

	if _, err := s.DeleteSource(ctx, "", nil, ""); err == nil {
		t.Error("DeleteSource() without source expected error")
	}

	n, err := s.DeleteSource(ctx, "tcbs", []string{"FPT"}, "2024-03-12")
	if err != nil {
		t.Fatalf("DeleteSource() error: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	left, err := s.CountSource(ctx, "tcbs", nil, "")
	if err != nil {
		t.Fatalf("CountSource() error: %v", err)
	}
	if left != 2 {
		t.Errorf("tcbs rows left = %d, want 2", left)
	}
	other, err := s.CountSource(ctx, "local_copy", nil, "")
	if err != nil {
		t.Fatalf("CountSource() error: %v", err)
	}
	if other != 1 {
		t.Errorf("local_copy rows left = %d, want 1", other)
	}
}

func TestScaleCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.GetScale(ctx, "FPT")
	if err != nil {
		t.Fatalf("GetScale() error: %v", err)
	}
	if rec != nil {
		t.Fatalf("GetScale() on empty cache = %+v, want nil", rec)
	}

	put := model.ScaleRecord{Ticker: "FPT", Scale: 1000, DetectedBy: model.DetectedAutoscale, Note: "ratio 998.7"}
	if err := s.PutScale(ctx, put); err != nil {
		t.Fatalf("PutScale() error: %v", err)
	}

	rec, err = s.GetScale(ctx, "FPT")
	if err != nil {
		t.Fatalf("GetScale() error: %v", err)
	}
	if rec == nil {
		t.Fatal("GetScale() = nil, want record")
	}
	if rec.Scale != 1000 || rec.DetectedBy != model.DetectedAutoscale || rec.Note != "ratio 998.7" {
		t.Errorf("GetScale() = %+v, want put values back", rec)
	}
	if rec.DetectedAt.IsZero() {
		t.Error("DetectedAt not defaulted on put")
	}

	put.Scale = 100
	put.DetectedBy = model.DetectedManual
	if err := s.PutScale(ctx, put); err != nil {
		t.Fatalf("PutScale() replace error: %v", err)
	}
	rec, _ = s.GetScale(ctx, "FPT")
	if rec.Scale != 100 || rec.DetectedBy != model.DetectedManual {
		t.Errorf("GetScale() after replace = %+v, want scale 100 manual", rec)
	}

	if err := s.DeleteScale(ctx, "FPT"); err != nil {
		t.Fatalf("DeleteScale() error: %v", err)
	}
	rec, _ = s.GetScale(ctx, "FPT")
	if rec != nil {
		t.Errorf("GetScale() after delete = %+v, want nil", rec)
	}
}

func TestRunJournal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := model.RunRecord{ID: "run-1", StartedAt: time.Now().Add(-time.Minute), Source: "tcbs"}
	second := model.RunRecord{ID: "run-2", StartedAt: time.Now(), Source: "tcbs"}
	for _, rec := range []model.RunRecord{first, second} {
		if err := s.StartRun(ctx, rec); err != nil {
			t.Fatalf("StartRun(%s) error: %v", rec.ID, err)
		}
	}
	if err := s.FinishRun(ctx, "run-2", 30, 7500, 2, "partial"); err != nil {
		t.Fatalf("FinishRun() error: %v", err)
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns() error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].ID != "run-2" {
		t.Errorf("newest run = %s, want run-2", runs[0].ID)
	}
	if runs[0].FinishedAt == nil {
		t.Error("finished run has nil FinishedAt")
	}
	if runs[0].BarsWritten != 7500 || runs[0].Failures != 2 || runs[0].Tickers != 30 {
		t.Errorf("run counters = %+v, want 30/7500/2", runs[0])
	}
	if runs[1].FinishedAt != nil {
		t.Error("open run has non-nil FinishedAt")
	}
}

func TestLoadSeriesPrefersSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bars := []model.Bar{
		testBar("FPT", "2024-03-14", "local_copy", 99, 10),
		testBar("FPT", "2024-03-15", "local_copy", 100, 10),
		testBar("FPT", "2024-03-15", "tcbs", 101, 20),
		testBar("FPT", "2024-03-18", "tcbs", 102, 30),
	}
	if _, err := s.UpsertBars(ctx, bars); err != nil {
		t.Fatalf("UpsertBars() error: %v", err)
	}

	series, err := s.LoadSeries(ctx, "FPT", "tcbs")
	if err != nil {
		t.Fatalf("LoadSeries() error: %v", err)
	}
	if len(series) != 3 {
		t.Fatalf("len(series) = %d, want 3 distinct dates", len(series))
	}
	if series[0].Source != "local_copy" || *series[0].Close != 99 {
		t.Errorf("gap date = %s/%v, want local_copy/99", series[0].Source, *series[0].Close)
	}
	if series[1].Source != "tcbs" || *series[1].Close != 101 {
		t.Errorf("contested date = %s/%v, want preferred tcbs/101", series[1].Source, *series[1].Close)
	}
	if series[2].DateKey() != "2024-03-18" {
		t.Errorf("series not ordered by date: last = %s", series[2].DateKey())
	}
}

func TestLatestCloseSourceFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bars := []model.Bar{
		testBar("FPT", "2024-03-10", "local_copy", 98, 10),
		testBar("FPT", "2024-03-15", "tcbs", 101000, 20),
	}
	if _, err := s.UpsertBars(ctx, bars); err != nil {
		t.Fatalf("UpsertBars() error: %v", err)
	}

	got, err := s.LatestClose(ctx, "FPT", "tcbs", false)
	if err != nil {
		t.Fatalf("LatestClose() error: %v", err)
	}
	if got == nil || got.Close != 101000 {
		t.Errorf("LatestClose(tcbs) = %+v, want 101000", got)
	}

	ref, err := s.LatestClose(ctx, "FPT", "tcbs", true)
	if err != nil {
		t.Fatalf("LatestClose() invert error: %v", err)
	}
	if ref == nil || ref.Close != 98 {
		t.Errorf("LatestClose(non-tcbs) = %+v, want 98", ref)
	}
	if ref.Date.Format("2006-01-02") != "2024-03-10" {
		t.Errorf("reference date = %s, want 2024-03-10", ref.Date.Format("2006-01-02"))
	}

	none, err := s.LatestClose(ctx, "GONE", "tcbs", false)
	if err != nil {
		t.Fatalf("LatestClose() missing ticker error: %v", err)
	}
	if none != nil {
		t.Errorf("LatestClose(missing) = %+v, want nil", none)
	}
}

func TestRecentClosesWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	mk := func(daysAgo int, c float64) model.Bar {
		return model.Bar{
			Ticker: "FPT",
			Date:   now.AddDate(0, 0, -daysAgo),
			Close:  fp(c),
			Source: "tcbs",
		}
	}
	inWindow := []model.Bar{mk(3, 101), mk(2, 102), mk(1, 103)}
	outside := []model.Bar{mk(90, 55)}
	nullClose := model.Bar{Ticker: "FPT", Date: now, Source: "tcbs"}
	if _, err := s.UpsertBars(ctx, append(append(inWindow, outside...), nullClose)); err != nil {
		t.Fatalf("UpsertBars() error: %v", err)
	}

	got, err := s.RecentCloses(ctx, "FPT", "tcbs", false, 60)
	if err != nil {
		t.Fatalf("RecentCloses() error: %v", err)
	}
	want := []float64{101, 102, 103}
	if len(got) != len(want) {
		t.Fatalf("len(closes) = %d, want %d (stale and null rows excluded)", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("closes[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTickersSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bars := []model.Bar{
		testBar("FPT", "2024-03-10", "tcbs", 100, 1),
		testBar("FPT", "2024-03-15", "local_copy", 99, 1),
		testBar("VNM", "2024-03-15", "tcbs", 60, 1),
	}
	if _, err := s.UpsertBars(ctx, bars); err != nil {
		t.Fatalf("UpsertBars() error: %v", err)
	}

	infos, err := s.Tickers(ctx)
	if err != nil {
		t.Fatalf("Tickers() error: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("len(infos) = %d, want 2", len(infos))
	}
	fpt := infos[0]
	if fpt.Ticker != "FPT" || fpt.Rows != 2 {
		t.Errorf("first info = %+v, want FPT with 2 rows", fpt)
	}
	if fpt.First.Format("2006-01-02") != "2024-03-10" || fpt.Last.Format("2006-01-02") != "2024-03-15" {
		t.Errorf("FPT coverage = %s..%s, want 2024-03-10..2024-03-15",
			fpt.First.Format("2006-01-02"), fpt.Last.Format("2006-01-02"))
	}
	if len(fpt.Sources) != 2 {
		t.Errorf("FPT sources = %v, want two", fpt.Sources)
	}

	tickers, err := s.DistinctTickers(ctx, "tcbs")
	if err != nil {
		t.Fatalf("DistinctTickers() error: %v", err)
	}
	if len(tickers) != 2 || tickers[0] != "FPT" || tickers[1] != "VNM" {
		t.Errorf("DistinctTickers(tcbs) = %v, want [FPT VNM]", tickers)
	}
}

func newLegacyFixture(t *testing.T, schema string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer db.Close()

	switch schema {
	case "v1":
		stmts := []string{
			`CREATE TABLE market_data (ticker TEXT, date TEXT, open REAL, high REAL, low REAL, close REAL, volume INTEGER)`,
			`INSERT INTO market_data VALUES ('FPT', '2024-03-14 00:00:00', 99, 102, 98, 100.5, 1200)`,
			`INSERT INTO market_data VALUES ('FPT', '2024-03-15', NULL, NULL, NULL, 101.0, 0)`,
			`INSERT INTO market_data VALUES ('VNM', '2024-03-15', 59, 61, 58, 60.0, 800)`,
		}
		for _, s := range stmts {
			if _, err := db.Exec(s); err != nil {
				t.Fatalf("fixture exec: %v", err)
			}
		}
	case "v2":
		stmts := []string{
			`CREATE TABLE price_data (ticker TEXT, date TEXT, open REAL, high REAL, low REAL, close REAL, volume INTEGER, source TEXT, updated_at TEXT)`,
			`INSERT INTO price_data VALUES ('FPT', '2024-03-15', 99, 102, 98, 100.5, 1200, 'amibroker', '2024-03-15 12:00:00')`,
			`INSERT INTO price_data VALUES ('VNM', '2024-03-15', 59, 61, 58, 60.0, 800, '', NULL)`,
		}
		for _, s := range stmts {
			if _, err := db.Exec(s); err != nil {
				t.Fatalf("fixture exec: %v", err)
			}
		}
	case "empty":
		if _, err := db.Exec(`CREATE TABLE other (x INTEGER)`); err != nil {
			t.Fatalf("fixture exec: %v", err)
		}
	}
	return path
}

func TestOpenLegacyDetectsV1(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	r, err := OpenLegacy(newLegacyFixture(t, "v1"), LegacyAuto, logger)
	if err != nil {
		t.Fatalf("OpenLegacy() error: %v", err)
	}
	defer r.Close()

	if r.Schema() != LegacyV1 {
		t.Fatalf("Schema() = %s, want v1", r.Schema())
	}

	bars, err := r.ReadAll(context.Background(), "local_copy", 0)
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("len(bars) = %d, want 3", len(bars))
	}
	for _, b := range bars {
		if b.Source != "local_copy" {
			t.Errorf("bar %s source = %s, want fallback local_copy", b.Ticker, b.Source)
		}
	}
	if bars[0].DateKey() != "2024-03-14" {
		t.Errorf("datetime suffix not trimmed: %s", bars[0].DateKey())
	}
	if bars[1].Open != nil {
		t.Errorf("NULL open decoded as %v, want nil", *bars[1].Open)
	}
	if bars[1].Close == nil || *bars[1].Close != 101.0 {
		t.Errorf("close = %v, want 101.0", bars[1].Close)
	}
}

func TestOpenLegacyDetectsV2(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	r, err := OpenLegacy(newLegacyFixture(t, "v2"), LegacyAuto, logger)
	if err != nil {
		t.Fatalf("OpenLegacy() error: %v", err)
	}
	defer r.Close()

	if r.Schema() != LegacyV2 {
		t.Fatalf("Schema() = %s, want v2", r.Schema())
	}

	bars, err := r.ReadAll(context.Background(), "local_copy", 0)
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("len(bars) = %d, want 2", len(bars))
	}
	if bars[0].Source != "amibroker" {
		t.Errorf("source column ignored: got %s, want amibroker", bars[0].Source)
	}
	if bars[1].Source != "local_copy" {
		t.Errorf("empty source not defaulted: got %s, want local_copy", bars[1].Source)
	}
}

func TestOpenLegacyErrors(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	if _, err := OpenLegacy(filepath.Join(t.TempDir(), "missing.db"), LegacyAuto, logger); err == nil {
		t.Error("OpenLegacy() on missing file expected error")
	}
	if _, err := OpenLegacy(newLegacyFixture(t, "empty"), LegacyAuto, logger); err == nil {
		t.Error("OpenLegacy() with no known table expected error")
	}
	if _, err := OpenLegacy(newLegacyFixture(t, "v1"), LegacySchema("v9"), logger); err == nil {
		t.Error("OpenLegacy() with unknown schema expected error")
	}
}

func TestLegacyReferenceQueries(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	r, err := OpenLegacy(newLegacyFixture(t, "v1"), LegacyV1, logger)
	if err != nil {
		t.Fatalf("OpenLegacy() error: %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	latest, err := r.LatestClose(ctx, "FPT")
	if err != nil {
		t.Fatalf("LatestClose() error: %v", err)
	}
	if latest == nil || latest.Close != 101.0 {
		t.Errorf("LatestClose() = %+v, want 101.0", latest)
	}

	none, err := r.LatestClose(ctx, "GONE")
	if err != nil {
		t.Fatalf("LatestClose() missing error: %v", err)
	}
	if none != nil {
		t.Errorf("LatestClose(missing) = %+v, want nil", none)
	}
}

func TestReadAllLimit(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	r, err := OpenLegacy(newLegacyFixture(t, "v1"), LegacyV1, logger)
	if err != nil {
		t.Fatalf("OpenLegacy() error: %v", err)
	}
	defer r.Close()

	bars, err := r.ReadAll(context.Background(), "local_copy", 2)
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(bars) != 2 {
		t.Errorf("len(bars) with limit 2 = %d, want 2", len(bars))
	}
}
