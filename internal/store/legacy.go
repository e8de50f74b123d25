package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"barkeep/pkg/model"
)

// LegacySchema names a known legacy database layout.
type LegacySchema string

const (
	// LegacyAuto inspects the catalog once at open and picks the newest
	// known layout present.
	LegacyAuto LegacySchema = "auto"
	// LegacyV1 is the classic analysis layout: a market_data table keyed
	// (ticker, date) with no source column.
	LegacyV1 LegacySchema = "v1"
	// LegacyV2 is the transitional layout: a price_data table that
	// already carries a source column.
	LegacyV2 LegacySchema = "v2"
)

// legacyLayout is the fixed column mapping for one schema version. Queries
// are built from it; the layout is never re-probed after open.
type legacyLayout struct {
	table     string
	hasSource bool
}

var legacyLayouts = map[LegacySchema]legacyLayout{
	LegacyV1: {table: "market_data"},
	LegacyV2: {table: "price_data", hasSource: true},
}

// LegacyReader reads bars out of a legacy analysis store through a
// versioned column mapping. It never writes.
type LegacyReader struct {
	db     *sql.DB
	schema LegacySchema
	layout legacyLayout
	log    *logrus.Logger
}

// OpenLegacy opens an existing legacy store. With LegacyAuto the layout is
// detected from the catalog exactly once; a concrete schema skips detection
// entirely.
func OpenLegacy(path string, schema LegacySchema, logger *logrus.Logger) (*LegacyReader, error) {
	// sql.Open would silently create a missing file and every read would
	// come back empty, so require the file up front.
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("legacy store: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open legacy store: %w", err)
	}

	r := &LegacyReader{db: db, schema: schema, log: logger}
	if schema == LegacyAuto {
		detected, err := r.detect()
		if err != nil {
			db.Close()
			return nil, err
		}
		r.schema = detected
	}
	layout, ok := legacyLayouts[r.schema]
	if !ok {
		db.Close()
		return nil, fmt.Errorf("unknown legacy schema %q", schema)
	}
	r.layout = layout

	logger.WithFields(logrus.Fields{"path": path, "schema": r.schema}).Info("legacy store opened")
	return r, nil
}

func (r *LegacyReader) detect() (LegacySchema, error) {
	rows, err := r.db.Query(`SELECT name FROM sqlite_master
		WHERE type = 'table' AND name IN ('market_data', 'price_data')`)
	if err != nil {
		return "", fmt.Errorf("inspect legacy catalog: %w", err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", err
		}
		seen[name] = true
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch {
	case seen["price_data"]:
		return LegacyV2, nil
	case seen["market_data"]:
		return LegacyV1, nil
	}
	return "", fmt.Errorf("legacy store has no market_data or price_data table")
}

// Schema reports the layout the reader resolved to.
func (r *LegacyReader) Schema() LegacySchema { return r.schema }

// Close closes the legacy database.
func (r *LegacyReader) Close() error { return r.db.Close() }

// ReadAll loads every bar from the legacy store ordered by ticker and date.
// Rows without a source column are tagged with fallbackSource. limit > 0
// caps the number of rows, for trial imports.
func (r *LegacyReader) ReadAll(ctx context.Context, fallbackSource string, limit int) ([]model.Bar, error) {
	cols := "ticker, date, open, high, low, close, volume"
	if r.layout.hasSource {
		cols += ", source"
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY ticker, date", cols, r.layout.table)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read legacy bars: %w", err)
	}
	defer rows.Close()

	var out []model.Bar
	for rows.Next() {
		var (
			b          model.Bar
			dateKey    string
			o, h, l, c sql.NullFloat64
			vol        sql.NullInt64
			src        sql.NullString
		)
		dest := []interface{}{&b.Ticker, &dateKey, &o, &h, &l, &c, &vol}
		if r.layout.hasSource {
			dest = append(dest, &src)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		b.Date, err = parseStoredDate(dateKey)
		if err != nil {
			return nil, fmt.Errorf("legacy row %d (%s): %w", len(out), b.Ticker, err)
		}
		b.Open, b.High, b.Low, b.Close = floatPtr(o), floatPtr(h), floatPtr(l), floatPtr(c)
		b.Volume = vol.Int64
		b.Source = fallbackSource
		if src.Valid && src.String != "" {
			b.Source = src.String
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LatestClose returns the most recent non-null close for a ticker, or nil
// when the legacy store has none.
func (r *LegacyReader) LatestClose(ctx context.Context, ticker string) (*ClosePoint, error) {
	query := fmt.Sprintf(`SELECT close, date FROM %s
		WHERE ticker = ? AND close IS NOT NULL
		ORDER BY date DESC LIMIT 1`, r.layout.table)

	var (
		c       float64
		dateKey string
	)
	err := r.db.QueryRowContext(ctx, query, ticker).Scan(&c, &dateKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("legacy latest close %s: %w", ticker, err)
	}
	date, err := parseStoredDate(dateKey)
	if err != nil {
		return nil, err
	}
	return &ClosePoint{Date: date, Close: c}, nil
}

// RecentCloses returns the ticker's non-null closes over the trailing
// lookback window, oldest first.
func (r *LegacyReader) RecentCloses(ctx context.Context, ticker string, lookbackDays int) ([]float64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -lookbackDays).Format(dateLayout)
	query := fmt.Sprintf(`SELECT close FROM %s
		WHERE ticker = ? AND close IS NOT NULL AND date >= ?
		ORDER BY date ASC`, r.layout.table)

	rows, err := r.db.QueryContext(ctx, query, ticker, cutoff)
	if err != nil {
		return nil, fmt.Errorf("legacy recent closes %s: %w", ticker, err)
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
