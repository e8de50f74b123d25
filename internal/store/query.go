package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"barkeep/pkg/model"
)

// ClosePoint is a dated close price.
type ClosePoint struct {
	Date  time.Time
	Close float64
}

// LoadSeries returns the full daily series for a ticker ordered oldest
// first. When a date carries rows from several sources the preferred
// source wins; remaining dates are filled from whatever source has them,
// lowest source name first for determinism.
func (s *Store) LoadSeries(ctx context.Context, ticker, preferred string) ([]model.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		ticker, date, open, high, low, close, volume, source, updated_at
		FROM bars WHERE ticker = ?
		ORDER BY date ASC, (source = ?) DESC, source ASC`,
		ticker, preferred)
	if err != nil {
		return nil, fmt.Errorf("load series %s: %w", ticker, err)
	}
	defer rows.Close()

	var (
		out      []model.Bar
		lastDate string
	)
	for rows.Next() {
		b, dateKey, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		if dateKey == lastDate {
			continue // a higher-priority source already supplied this date
		}
		lastDate = dateKey
		out = append(out, b)
	}
	return out, rows.Err()
}

// SourceBars returns a ticker's rows from exactly one source, oldest first.
func (s *Store) SourceBars(ctx context.Context, ticker, source string) ([]model.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		ticker, date, open, high, low, close, volume, source, updated_at
		FROM bars WHERE ticker = ? AND source = ? ORDER BY date ASC`,
		ticker, source)
	if err != nil {
		return nil, fmt.Errorf("source bars %s/%s: %w", ticker, source, err)
	}
	defer rows.Close()

	var out []model.Bar
	for rows.Next() {
		b, _, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBar(rows *sql.Rows) (model.Bar, string, error) {
	var (
		b                model.Bar
		dateKey, updated string
		o, h, l, c       sql.NullFloat64
	)
	err := rows.Scan(&b.Ticker, &dateKey, &o, &h, &l, &c,
		&b.Volume, &b.Source, &updated)
	if err != nil {
		return model.Bar{}, "", err
	}
	b.Open, b.High, b.Low, b.Close = floatPtr(o), floatPtr(h), floatPtr(l), floatPtr(c)
	b.Date, err = parseStoredDate(dateKey)
	if err != nil {
		return model.Bar{}, "", fmt.Errorf("row %s/%s: %w", b.Ticker, dateKey, err)
	}
	b.UpdatedAt, _ = time.Parse(tsLayout, updated)
	return b, dateKey, nil
}

// parseStoredDate accepts the canonical YYYY-MM-DD key and tolerates a
// trailing time component left over from legacy imports.
func parseStoredDate(s string) (time.Time, error) {
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad stored date %q: %w", s, err)
	}
	return t, nil
}

// LatestClose returns the most recent dated, non-null close for a ticker.
// A non-empty source selects rows from exactly that source, or from every
// other source when invert is set; an empty source matches all rows.
// Returns nil when no priced row exists.
func (s *Store) LatestClose(ctx context.Context, ticker, source string, invert bool) (*ClosePoint, error) {
	filter, args := closeFilter(ticker, source, invert)
	query := fmt.Sprintf(`SELECT close, date FROM bars
		WHERE %s AND close IS NOT NULL
		ORDER BY date DESC LIMIT 1`, filter)

	var (
		c       float64
		dateKey string
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&c, &dateKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest close %s: %w", ticker, err)
	}
	date, err := parseStoredDate(dateKey)
	if err != nil {
		return nil, err
	}
	return &ClosePoint{Date: date, Close: c}, nil
}

// RecentCloses returns the non-null closes for a ticker over the trailing
// lookback window, oldest first. The source filter works as in LatestClose.
func (s *Store) RecentCloses(ctx context.Context, ticker, source string, invert bool, lookbackDays int) ([]float64, error) {
	filter, args := closeFilter(ticker, source, invert)
	cutoff := time.Now().UTC().AddDate(0, 0, -lookbackDays).Format(dateLayout)
	query := fmt.Sprintf(`SELECT close FROM bars
		WHERE %s AND close IS NOT NULL AND date >= ?
		ORDER BY date ASC`, filter)
	args = append(args, cutoff)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent closes %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func closeFilter(ticker, source string, invert bool) (string, []interface{}) {
	if source == "" {
		return "ticker = ?", []interface{}{ticker}
	}
	cmp := "="
	if invert {
		cmp = "!="
	}
	return fmt.Sprintf("ticker = ? AND source %s ?", cmp), []interface{}{ticker, source}
}

// DistinctTickers lists every ticker present in the store, or only those
// with rows from source when it is non-empty. Sorted ascending.
func (s *Store) DistinctTickers(ctx context.Context, source string) ([]string, error) {
	query := "SELECT DISTINCT ticker FROM bars ORDER BY ticker"
	args := []interface{}{}
	if source != "" {
		query = "SELECT DISTINCT ticker FROM bars WHERE source = ? ORDER BY ticker"
		args = append(args, source)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("distinct tickers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Tickers summarizes every stored ticker: row count, date coverage and the
// sources contributing to it.
func (s *Store) Tickers(ctx context.Context) ([]model.TickerInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		ticker, COUNT(*), MIN(date), MAX(date), GROUP_CONCAT(DISTINCT source)
		FROM bars GROUP BY ticker ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("tickers: %w", err)
	}
	defer rows.Close()

	var out []model.TickerInfo
	for rows.Next() {
		var (
			info        model.TickerInfo
			first, last string
			sources     string
		)
		if err := rows.Scan(&info.Ticker, &info.Rows, &first, &last, &sources); err != nil {
			return nil, err
		}
		if info.First, err = parseStoredDate(first); err != nil {
			return nil, err
		}
		if info.Last, err = parseStoredDate(last); err != nil {
			return nil, err
		}
		info.Sources = strings.Split(sources, ",")
		out = append(out, info)
	}
	return out, rows.Err()
}
