// Package store persists daily bars, the per-ticker scale cache and the
// ingest-run journal in a single SQLite database.
//
// The store assumes a single writer process. In-process writers are
// serialized with a mutex; readers go straight to the pool and rely on WAL
// mode to avoid blocking behind writes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"barkeep/pkg/model"
)

// BatchSize is the number of rows committed per upsert transaction.
// Committed batches survive interruption of the run.
const BatchSize = 500

// tsLayout is the storage form of updated_at timestamps.
const tsLayout = "2006-01-02 15:04:05"

// dateLayout is the storage form of bar dates.
const dateLayout = "2006-01-02"

// Store is the bar database. All methods are safe for concurrent use
// within one process.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logrus.Logger
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so overview reads don't block behind ingest writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	s := &Store{db: db, log: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.WithField("path", path).Info("bar store opened")
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			ticker     TEXT NOT NULL,
			date       TEXT NOT NULL,
			open       REAL,
			high       REAL,
			low        REAL,
			close      REAL,
			volume     INTEGER NOT NULL DEFAULT 0,
			source     TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (ticker, date, source)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bars_ticker_date ON bars (ticker, date)`,
		`CREATE INDEX IF NOT EXISTS idx_bars_source_ticker ON bars (source, ticker)`,
		`CREATE TABLE IF NOT EXISTS scale_cache (
			ticker      TEXT PRIMARY KEY,
			scale       INTEGER NOT NULL,
			detected_by TEXT NOT NULL,
			detected_at TEXT NOT NULL,
			note        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS ingest_runs (
			id           TEXT PRIMARY KEY,
			started_at   TEXT NOT NULL,
			finished_at  TEXT,
			source       TEXT NOT NULL,
			tickers      INTEGER NOT NULL DEFAULT 0,
			bars_written INTEGER NOT NULL DEFAULT 0,
			failures     INTEGER NOT NULL DEFAULT 0,
			note         TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.log.Debug("bar store closed")
	return s.db.Close()
}

// UpsertBars writes bars keyed on (ticker, date, source), replacing the
// price fields of existing rows. Rows are written in batches of BatchSize
// with one transaction per batch, so a partially interrupted run keeps its
// committed batches. The whole input is validated before any write: the
// date is part of the identity key, so a single invalid bar rejects the
// entire batch.
func (s *Store) UpsertBars(ctx context.Context, bars []model.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	for i, b := range bars {
		if b.Ticker == "" {
			return 0, fmt.Errorf("bar %d: empty ticker", i)
		}
		if b.Source == "" {
			return 0, fmt.Errorf("bar %d (%s): empty source", i, b.Ticker)
		}
		if b.Date.IsZero() {
			return 0, fmt.Errorf("bar %d (%s): zero date", i, b.Ticker)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(tsLayout)
	written := 0
	for start := 0; start < len(bars); start += BatchSize {
		end := start + BatchSize
		if end > len(bars) {
			end = len(bars)
		}
		if err := s.upsertBatch(ctx, bars[start:end], now); err != nil {
			return written, fmt.Errorf("batch at row %d: %w", start, err)
		}
		written += end - start
	}
	return written, nil
}

func (s *Store) upsertBatch(ctx context.Context, batch []model.Bar, now string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	placeholders := make([]string, 0, len(batch))
	args := make([]interface{}, 0, len(batch)*9)
	for _, b := range batch {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			b.Ticker, b.DateKey(),
			nullFloat(b.Open), nullFloat(b.High), nullFloat(b.Low), nullFloat(b.Close),
			b.Volume, b.Source, now)
	}

	query := fmt.Sprintf(`INSERT INTO bars
		(ticker, date, open, high, low, close, volume, source, updated_at)
		VALUES %s
		ON CONFLICT (ticker, date, source) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			updated_at = excluded.updated_at`,
		strings.Join(placeholders, ", "))

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// RescaleBars divides or multiplies the open/high/low/close of a ticker's
// rows from one source by scale, in place. NULL prices stay NULL. since, if
// non-empty, restricts the update to dates on or after it (YYYY-MM-DD).
// Returns the number of rows updated.
func (s *Store) RescaleBars(ctx context.Context, ticker, source string, scale int, op model.Operation, since string) (int64, error) {
	if scale <= 0 {
		return 0, fmt.Errorf("invalid scale %d", scale)
	}
	var opSQL string
	switch op {
	case model.OpDivide:
		opSQL = "/"
	case model.OpMultiply:
		opSQL = "*"
	default:
		return 0, fmt.Errorf("unknown operation %q", op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set := fmt.Sprintf(`open  = CASE WHEN open  IS NOT NULL THEN open  %[1]s ? ELSE NULL END,
			high  = CASE WHEN high  IS NOT NULL THEN high  %[1]s ? ELSE NULL END,
			low   = CASE WHEN low   IS NOT NULL THEN low   %[1]s ? ELSE NULL END,
			close = CASE WHEN close IS NOT NULL THEN close %[1]s ? ELSE NULL END,
			updated_at = ?`, opSQL)

	f := float64(scale)
	args := []interface{}{f, f, f, f, time.Now().UTC().Format(tsLayout), ticker, source}
	query := "UPDATE bars SET " + set + " WHERE ticker = ? AND source = ?"
	if since != "" {
		query += " AND date >= ?"
		args = append(args, since)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("rescale %s: %w", ticker, err)
	}
	return res.RowsAffected()
}

// CountSource counts rows tagged with source, optionally restricted to
// tickers and a since date. Used for dry runs before prune and rescale.
func (s *Store) CountSource(ctx context.Context, source string, tickers []string, since string) (int64, error) {
	where, args := sourceFilter(source, tickers, since)
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bars WHERE "+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count source %s: %w", source, err)
	}
	return n, nil
}

// DeleteSource removes all rows tagged with source, optionally restricted
// to tickers and a since date. Returns the number of rows removed.
func (s *Store) DeleteSource(ctx context.Context, source string, tickers []string, since string) (int64, error) {
	if source == "" {
		return 0, fmt.Errorf("refusing to delete without a source filter")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	where, args := sourceFilter(source, tickers, since)
	res, err := s.db.ExecContext(ctx, "DELETE FROM bars WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete source %s: %w", source, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"source": source, "rows": n}).Info("pruned source rows")
	return n, nil
}

func sourceFilter(source string, tickers []string, since string) (string, []interface{}) {
	parts := []string{"source = ?"}
	args := []interface{}{source}
	if len(tickers) > 0 {
		parts = append(parts, "ticker IN ("+strings.TrimRight(strings.Repeat("?,", len(tickers)), ",")+")")
		for _, t := range tickers {
			args = append(args, t)
		}
	}
	if since != "" {
		parts = append(parts, "date >= ?")
		args = append(args, since)
	}
	return strings.Join(parts, " AND "), args
}

// GetScale returns the cached scale record for a ticker, or nil when no
// detection has been recorded.
func (s *Store) GetScale(ctx context.Context, ticker string) (*model.ScaleRecord, error) {
	var (
		rec model.ScaleRecord
		at  string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT ticker, scale, detected_by, detected_at, note FROM scale_cache WHERE ticker = ?",
		ticker).Scan(&rec.Ticker, &rec.Scale, &rec.DetectedBy, &at, &rec.Note)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scale %s: %w", ticker, err)
	}
	rec.DetectedAt, _ = time.Parse(tsLayout, at)
	return &rec, nil
}

// PutScale records or replaces the scale detection for a ticker.
func (s *Store) PutScale(ctx context.Context, rec model.ScaleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := rec.DetectedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO scale_cache
		(ticker, scale, detected_by, detected_at, note)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (ticker) DO UPDATE SET
			scale = excluded.scale,
			detected_by = excluded.detected_by,
			detected_at = excluded.detected_at,
			note = excluded.note`,
		rec.Ticker, rec.Scale, rec.DetectedBy, at.Format(tsLayout), rec.Note)
	if err != nil {
		return fmt.Errorf("put scale %s: %w", rec.Ticker, err)
	}
	return nil
}

// DeleteScale drops the cached detection for a ticker so the next pull
// re-detects from scratch.
func (s *Store) DeleteScale(ctx context.Context, ticker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM scale_cache WHERE ticker = ?", ticker); err != nil {
		return fmt.Errorf("delete scale %s: %w", ticker, err)
	}
	return nil
}

// StartRun journals the beginning of a bulk ingest run.
func (s *Store) StartRun(ctx context.Context, rec model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO ingest_runs
		(id, started_at, source, note) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.StartedAt.UTC().Format(tsLayout), rec.Source, rec.Note)
	if err != nil {
		return fmt.Errorf("start run %s: %w", rec.ID, err)
	}
	return nil
}

// FinishRun closes out a journaled run with its final counters.
func (s *Store) FinishRun(ctx context.Context, id string, tickers, barsWritten, failures int, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE ingest_runs SET
		finished_at = ?, tickers = ?, bars_written = ?, failures = ?, note = ?
		WHERE id = ?`,
		time.Now().UTC().Format(tsLayout), tickers, barsWritten, failures, note, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return nil
}

// ListRuns returns the most recent ingest runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, started_at, finished_at, source, tickers, bars_written, failures, note
		FROM ingest_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []model.RunRecord
	for rows.Next() {
		var (
			rec      model.RunRecord
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&rec.ID, &started, &finished, &rec.Source,
			&rec.Tickers, &rec.BarsWritten, &rec.Failures, &rec.Note); err != nil {
			return nil, err
		}
		rec.StartedAt, _ = time.Parse(tsLayout, started)
		if finished.Valid {
			t, err := time.Parse(tsLayout, finished.String)
			if err == nil {
				rec.FinishedAt = &t
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
