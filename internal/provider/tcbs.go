package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"barkeep/internal/ratelimit"
	"barkeep/pkg/model"
)

const tcbsBarsPath = "/stock-insight/v1/stock/bars-long-term"

// TCBSProvider implements the Provider interface for the TCBS public
// history API.
type TCBSProvider struct {
	name      string
	baseURL   string
	client    *http.Client
	limiter   *ratelimit.Limiter
	rateLimit int
}

// NewTCBSProvider creates a new TCBS provider. name becomes the source tag
// on every bar it returns.
func NewTCBSProvider(name, baseURL string, timeout time.Duration, perMinute int) *TCBSProvider {
	return &TCBSProvider{
		name:      name,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: timeout},
		limiter:   ratelimit.NewLimiter(name, perMinute),
		rateLimit: perMinute,
	}
}

// Name returns the provider name.
func (p *TCBSProvider) Name() string {
	return p.name
}

// IsAvailable always returns true (no API key needed).
func (p *TCBSProvider) IsAvailable() bool {
	return true
}

// RateLimit returns the rate limit per minute.
func (p *TCBSProvider) RateLimit() int {
	return p.rateLimit
}

// tcbsBar mirrors one bar object in the TCBS payload. tradingDate arrives
// as either an ISO-8601 string or Unix-epoch milliseconds, so it is kept
// raw and normalized separately.
type tcbsBar struct {
	TradingDate json.RawMessage `json:"tradingDate"`
	Open        *float64        `json:"open"`
	High        *float64        `json:"high"`
	Low         *float64        `json:"low"`
	Close       *float64        `json:"close"`
	Volume      *float64        `json:"volume"`
}

// tcbsResponse represents the TCBS API response. Rows appear under "data"
// on current deployments and "bars" on older ones.
type tcbsResponse struct {
	Data []tcbsBar `json:"data"`
	Bars []tcbsBar `json:"bars"`
}

// GetDailyBars fetches daily bars for the trailing window, oldest first.
// A single malformed trading date rejects the whole result: the date is
// part of the storage identity and a partially dated series must never be
// written.
func (p *TCBSProvider) GetDailyBars(ctx context.Context, ticker string, days int, resolution string) ([]model.Bar, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	now := time.Now()
	from := now.AddDate(0, 0, -days).Unix()
	to := now.Unix()

	url := fmt.Sprintf("%s%s?ticker=%s&type=stock&resolution=%s&from=%d&to=%d",
		p.baseURL, tcbsBarsPath, ticker, resolution, from, to)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "barkeep/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		p.limiter.SignalRateLimited()
		return nil, &ProviderError{Provider: p.name, Err: fmt.Errorf("rate limited"), Retryable: true}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: p.name, Err: fmt.Errorf("status %d", resp.StatusCode), Retryable: false}
	}

	p.limiter.ResetBackoff()

	var data tcbsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, &ProviderError{Provider: p.name, Err: fmt.Errorf("decoding response: %w", err), Retryable: false, Parse: true}
	}

	rows := data.Data
	if len(rows) == 0 {
		rows = data.Bars
	}
	if len(rows) == 0 {
		return nil, &ProviderError{Provider: p.name, Err: ErrNoData, Retryable: false}
	}

	bars, err := p.normalize(ticker, rows)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Err: err, Retryable: false, Parse: true}
	}

	return bars, nil
}

func (p *TCBSProvider) normalize(ticker string, rows []tcbsBar) ([]model.Bar, error) {
	bars := make([]model.Bar, 0, len(rows))
	for i, row := range rows {
		date, err := parseTradingDate(row.TradingDate)
		if err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}

		var volume int64
		if row.Volume != nil && *row.Volume > 0 {
			volume = int64(*row.Volume)
		}

		bars = append(bars, model.Bar{
			Ticker: ticker,
			Date:   date,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: volume,
			Source: p.name,
		})
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})

	return bars, nil
}

// parseTradingDate normalizes the two trading-date forms TCBS emits:
// ISO-8601 strings and Unix-epoch milliseconds. Times are kept in UTC so
// the derived calendar date is deterministic.
func parseTradingDate(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("missing trading date")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("invalid trading date %s: %w", raw, err)
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid trading date %q", s)
	}

	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid trading date %s: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
