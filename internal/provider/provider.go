package provider

import (
	"context"
	"errors"

	"barkeep/pkg/model"
)

// ErrNoData reports that a source returned an empty result for a ticker.
var ErrNoData = errors.New("no data available")

// Provider defines the interface for daily bar sources.
type Provider interface {
	// Name returns the provider name, used as the source tag on rows it
	// produces.
	Name() string

	// GetDailyBars fetches daily OHLCV bars for a ticker over the trailing
	// lookback window, oldest first. resolution is the provider's
	// resolution code (daily bars use "D").
	GetDailyBars(ctx context.Context, ticker string, days int, resolution string) ([]model.Bar, error)

	// IsAvailable checks if the provider is ready to serve requests.
	IsAvailable() bool

	// RateLimit returns the rate limit per minute.
	RateLimit() int
}

// ProviderError represents a provider-specific error
type ProviderError struct {
	Provider  string
	Err       error
	Retryable bool
	// Parse marks failures in decoding or normalizing the payload, which
	// callers treat differently from transport failures.
	Parse bool
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
