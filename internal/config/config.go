package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration. It is constructed once in main
// and passed into each component's constructor; there are no process-wide
// mutable settings.
type Config struct {
	DB       DBConfig       `yaml:"db"`
	Source   SourceConfig   `yaml:"source"`
	Scale    ScaleConfig    `yaml:"scale"`
	Trend    TrendConfig    `yaml:"trend"`
	Overview OverviewConfig `yaml:"overview"`
	Watch    WatchConfig    `yaml:"watch"`
	Log      LogConfig      `yaml:"log"`
}

// DBConfig holds store locations.
type DBConfig struct {
	Path string `yaml:"path"`
	// RefPath optionally points at an external reference store used as the
	// last comparison tier during scale scans.
	RefPath string `yaml:"ref_path"`
}

// SourceConfig holds remote bar source settings.
type SourceConfig struct {
	Name        string        `yaml:"name"` // source tag written on ingested rows
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   int           `yaml:"rate_limit"`   // requests per minute
	DefaultDays int           `yaml:"default_days"` // pull lookback window
}

// ScaleConfig holds scale-mismatch detection settings.
type ScaleConfig struct {
	IndexTicker        string  `yaml:"index_ticker"` // exempt from all scaling
	ThresholdRatio     float64 `yaml:"threshold_ratio"`
	Candidates         []int   `yaml:"candidates"`
	Tolerance          float64 `yaml:"tolerance"`
	DateToleranceDays  int     `yaml:"date_tolerance_days"`
	MedianLookbackDays int     `yaml:"median_lookback_days"`
	DefaultDivisor     int     `yaml:"default_divisor"`
}

// TrendConfig holds histogram and classifier settings.
type TrendConfig struct {
	Fast     int `yaml:"fast"`
	Slow     int `yaml:"slow"`
	Signal   int `yaml:"signal"`
	Lookback int `yaml:"lookback"`
}

// OverviewConfig holds aggregator settings.
type OverviewConfig struct {
	VolumeLookbackDays int     `yaml:"volume_lookback_days"`
	DailyWeight        float64 `yaml:"daily_weight"`
	WeeklyWeight       float64 `yaml:"weekly_weight"`
	MonthlyWeight      float64 `yaml:"monthly_weight"`
	NearZero           float64 `yaml:"near_zero"`     // |hist| bound for crossing estimates
	FlatVelocity       float64 `yaml:"flat_velocity"` // |mean diff| below this is too flat
	MinCrossDays       float64 `yaml:"min_cross_days"`
	MaxCrossDays       float64 `yaml:"max_cross_days"`
	Timezone           string  `yaml:"timezone"`
}

// WatchConfig holds the scheduled refresh settings.
type WatchConfig struct {
	Cron string `yaml:"cron"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DB: DBConfig{
			Path: "barkeep.db",
		},
		Source: SourceConfig{
			Name:        "tcbs",
			BaseURL:     "https://apipubaws.tcbs.com.vn",
			Timeout:     30 * time.Second,
			RateLimit:   60,
			DefaultDays: 365,
		},
		Scale: ScaleConfig{
			IndexTicker:        "VNINDEX",
			ThresholdRatio:     5.0,
			Candidates:         []int{1000, 100, 10, 10000},
			Tolerance:          0.2,
			DateToleranceDays:  7,
			MedianLookbackDays: 60,
			DefaultDivisor:     1000,
		},
		Trend: TrendConfig{
			Fast:     12,
			Slow:     26,
			Signal:   9,
			Lookback: 20,
		},
		Overview: OverviewConfig{
			VolumeLookbackDays: 20,
			DailyWeight:        0.5,
			WeeklyWeight:       0.3,
			MonthlyWeight:      0.2,
			NearZero:           0.5,
			FlatVelocity:       0.005,
			MinCrossDays:       0.5,
			MaxCrossDays:       5.0,
			Timezone:           "Asia/Ho_Chi_Minh",
		},
		Watch: WatchConfig{
			Cron: "0 5 15 * * MON-FRI", // after the afternoon session closes
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if file doesn't exist
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Override with environment variables if set
	if v := os.Getenv("BARKEEP_DB"); v != "" {
		cfg.DB.Path = v
	}
	if v := os.Getenv("BARKEEP_REF_DB"); v != "" {
		cfg.DB.RefPath = v
	}
	if v := os.Getenv("BARKEEP_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TCBS_BASE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}
	if c.Source.Name == "" {
		return fmt.Errorf("source.name is required")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.RateLimit < 1 {
		return fmt.Errorf("source.rate_limit must be at least 1")
	}
	if c.Source.DefaultDays < 1 {
		return fmt.Errorf("source.default_days must be at least 1")
	}
	if c.Scale.ThresholdRatio <= 1 {
		return fmt.Errorf("scale.threshold_ratio must be greater than 1")
	}
	if c.Scale.Tolerance <= 0 || c.Scale.Tolerance >= 1 {
		return fmt.Errorf("scale.tolerance must be in (0, 1)")
	}
	if len(c.Scale.Candidates) == 0 {
		return fmt.Errorf("scale.candidates must not be empty")
	}
	for _, cand := range c.Scale.Candidates {
		if cand <= 1 {
			return fmt.Errorf("scale.candidates must all be greater than 1")
		}
	}
	if c.Trend.Fast <= 0 || c.Trend.Slow <= c.Trend.Fast || c.Trend.Signal <= 0 {
		return fmt.Errorf("trend periods must satisfy 0 < fast < slow and signal > 0")
	}
	if c.Trend.Lookback < 3 {
		return fmt.Errorf("trend.lookback must be at least 3")
	}
	if c.Overview.VolumeLookbackDays < 1 {
		return fmt.Errorf("overview.volume_lookback_days must be at least 1")
	}
	if w := c.Overview.DailyWeight + c.Overview.WeeklyWeight + c.Overview.MonthlyWeight; w <= 0 {
		return fmt.Errorf("overview weights must sum to a positive value")
	}
	return nil
}
