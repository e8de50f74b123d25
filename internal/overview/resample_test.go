package overview

import (
	"testing"
	"time"

	"barkeep/pkg/model"
)

func fp(v float64) *float64 { return &v }

func mkDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

func mkBar(t *testing.T, date string, open, high, low, close *float64, volume int64) model.Bar {
	t.Helper()
	return model.Bar{
		Ticker: "TST",
		Date:   mkDate(t, date),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: volume,
		Source: "tcbs",
	}
}

func fullBar(t *testing.T, date string, open, high, low, close float64, volume int64) model.Bar {
	t.Helper()
	return mkBar(t, date, fp(open), fp(high), fp(low), fp(close), volume)
}

func TestResampleWeekly(t *testing.T) {
	bars := []model.Bar{
		fullBar(t, "2026-03-02", 10, 12, 9, 11, 100),
		fullBar(t, "2026-03-04", 11, 15, 10, 14, 200),
		fullBar(t, "2026-03-06", 14, 14.5, 8, 9, 50),
		fullBar(t, "2026-03-09", 9, 10, 9, 10, 300),
	}

	buckets := Resample(bars, Weekly)
	if len(buckets) != 2 {
		t.Fatalf("Expected 2 weekly buckets, got %d", len(buckets))
	}

	first := buckets[0]
	if first.Open != 10 || first.High != 15 || first.Low != 8 || first.Close != 9 {
		t.Errorf("first bucket OHLC = %v/%v/%v/%v, want 10/15/8/9",
			first.Open, first.High, first.Low, first.Close)
	}
	if first.Volume != 350 {
		t.Errorf("first bucket volume = %d, want 350", first.Volume)
	}
	if got := first.End.Format("2006-01-02"); got != "2026-03-06" {
		t.Errorf("first bucket end = %s, want 2026-03-06", got)
	}

	second := buckets[1]
	if second.Open != 9 || second.Close != 10 || second.Volume != 300 {
		t.Errorf("second bucket = %+v, want open 9, close 10, volume 300", second)
	}
}

func TestResampleMonthly(t *testing.T) {
	bars := []model.Bar{
		fullBar(t, "2026-02-26", 20, 22, 19, 21, 100),
		fullBar(t, "2026-02-27", 21, 25, 20, 24, 150),
		fullBar(t, "2026-03-02", 24, 26, 23, 25, 80),
	}

	buckets := Resample(bars, Monthly)
	if len(buckets) != 2 {
		t.Fatalf("Expected 2 monthly buckets, got %d", len(buckets))
	}

	feb := buckets[0]
	if feb.Open != 20 || feb.High != 25 || feb.Low != 19 || feb.Close != 24 || feb.Volume != 250 {
		t.Errorf("february bucket = %+v, want 20/25/19/24 volume 250", feb)
	}

	mar := buckets[1]
	if mar.Open != 24 || mar.Close != 25 || mar.Volume != 80 {
		t.Errorf("march bucket = %+v, want open 24, close 25, volume 80", mar)
	}
}

func TestResampleISOWeekYearBoundary(t *testing.T) {
	// Monday 2025-12-29 and Thursday 2026-01-01 share ISO week 1 of 2026
	// but sit in different calendar months.
	bars := []model.Bar{
		fullBar(t, "2025-12-29", 10, 11, 9, 10.5, 100),
		fullBar(t, "2026-01-01", 10.5, 12, 10, 11, 120),
	}

	if weekly := Resample(bars, Weekly); len(weekly) != 1 {
		t.Errorf("Expected 1 weekly bucket across the year boundary, got %d", len(weekly))
	}
	if monthly := Resample(bars, Monthly); len(monthly) != 2 {
		t.Errorf("Expected 2 monthly buckets, got %d", len(monthly))
	}
}

func TestResampleDropsBucketMissingPrices(t *testing.T) {
	// The first week never sees an open, so its bucket is dropped.
	bars := []model.Bar{
		mkBar(t, "2026-03-02", nil, fp(12), fp(9), fp(11), 100),
		mkBar(t, "2026-03-04", nil, fp(13), fp(10), fp(12), 150),
		fullBar(t, "2026-03-09", 9, 10, 9, 10, 300),
	}

	buckets := Resample(bars, Weekly)
	if len(buckets) != 1 {
		t.Fatalf("Expected 1 bucket after dropping the incomplete week, got %d", len(buckets))
	}
	if got := buckets[0].End.Format("2006-01-02"); got != "2026-03-09" {
		t.Errorf("surviving bucket end = %s, want 2026-03-09", got)
	}
}

func TestResampleSkipsMissingValuesWithinBucket(t *testing.T) {
	bars := []model.Bar{
		mkBar(t, "2026-03-02", nil, fp(12), fp(9), fp(10), 100),
		fullBar(t, "2026-03-04", 11, 13, 10, 12, 150),
		mkBar(t, "2026-03-06", fp(14), fp(14), fp(11), nil, 50),
	}

	buckets := Resample(bars, Weekly)
	if len(buckets) != 1 {
		t.Fatalf("Expected 1 bucket, got %d", len(buckets))
	}

	b := buckets[0]
	if b.Open != 11 {
		t.Errorf("bucket open = %v, want 11 (first known open)", b.Open)
	}
	if b.Close != 12 {
		t.Errorf("bucket close = %v, want 12 (last known close)", b.Close)
	}
	if b.High != 14 || b.Low != 9 {
		t.Errorf("bucket high/low = %v/%v, want 14/9", b.High, b.Low)
	}
	if b.Volume != 300 {
		t.Errorf("bucket volume = %d, want 300", b.Volume)
	}
}

func TestResampleEmptyInput(t *testing.T) {
	if buckets := Resample(nil, Weekly); len(buckets) != 0 {
		t.Errorf("Expected no buckets for empty input, got %d", len(buckets))
	}
}

func TestCloses(t *testing.T) {
	buckets := []Bucket{{Close: 1.5}, {Close: 2.5}}
	got := Closes(buckets)
	if len(got) != 2 || got[0] != 1.5 || got[1] != 2.5 {
		t.Errorf("Closes = %v, want [1.5 2.5]", got)
	}
}
