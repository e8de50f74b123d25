package provider

import (
	"context"

	"barkeep/pkg/model"
)

// MockProvider returns controllable fixed data for development and testing.
type MockProvider struct {
	// Bars maps tickers to the bars GetDailyBars returns for them.
	Bars map[string][]model.Bar
	// Errs maps tickers to errors returned instead of bars.
	Errs map[string]error
	// Calls records the tickers requested, in order.
	Calls []string
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) GetDailyBars(_ context.Context, ticker string, _ int, _ string) ([]model.Bar, error) {
	m.Calls = append(m.Calls, ticker)
	if err, ok := m.Errs[ticker]; ok {
		return nil, err
	}
	bars, ok := m.Bars[ticker]
	if !ok || len(bars) == 0 {
		return nil, &ProviderError{Provider: m.Name(), Err: ErrNoData, Retryable: false}
	}
	return bars, nil
}

func (m *MockProvider) IsAvailable() bool { return true }

func (m *MockProvider) RateLimit() int { return 6000 }
