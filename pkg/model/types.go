package model

import "time"

// Bar represents one daily OHLCV row for a ticker from a single source.
// Price fields are pointers: a missing price round-trips as NULL and is
// never coerced to zero.
type Bar struct {
	Ticker    string    `json:"ticker"`
	Date      time.Time `json:"date"`
	Open      *float64  `json:"open"`
	High      *float64  `json:"high"`
	Low       *float64  `json:"low"`
	Close     *float64  `json:"close"`
	Volume    int64     `json:"volume"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// DateKey returns the bar date in the canonical YYYY-MM-DD form used as
// part of the storage key.
func (b Bar) DateKey() string {
	return b.Date.Format("2006-01-02")
}

// ScaleRecord caches a detected unit scale for a ticker. One record per
// ticker; consulted before every fetch to skip re-detection.
type ScaleRecord struct {
	Ticker     string    `json:"ticker"`
	Scale      int       `json:"scale"`
	DetectedBy string    `json:"detected_by"`
	DetectedAt time.Time `json:"detected_at"`
	Note       string    `json:"note,omitempty"`
}

// DetectedBy values for ScaleRecord.
const (
	DetectedAutoscale = "autoscale"
	DetectedManual    = "manual"
)

// Operation is the arithmetic applied when correcting a unit scale.
type Operation string

const (
	// OpDivide shrinks prices that arrived in a smaller unit (e.g. VND
	// instead of thousand VND).
	OpDivide Operation = "divide"
	// OpMultiply grows prices that arrived in a larger unit.
	OpMultiply Operation = "multiply"
)

// Stage classifies the latest bar of a histogram series into one of six
// ordered trend stages.
type Stage int

const (
	StageUndefined Stage = iota
	StageTroughing
	StageConfirmedTrough
	StageRising
	StagePeaking
	StageConfirmedPeak
	StageFalling
)

// String returns the display name of the stage.
func (s Stage) String() string {
	switch s {
	case StageTroughing:
		return "Troughing"
	case StageConfirmedTrough:
		return "Confirmed Trough"
	case StageRising:
		return "Rising above Zero"
	case StagePeaking:
		return "Peaking"
	case StageConfirmedPeak:
		return "Confirmed Peak"
	case StageFalling:
		return "Falling below Zero"
	default:
		return "undefined"
	}
}

// Score returns the fixed severity score of the stage. The mapping is
// intentionally asymmetric: peaks are treated as marginally higher-risk
// than troughs of equal shape.
func (s Stage) Score() int {
	switch s {
	case StageTroughing:
		return 2
	case StageConfirmedTrough:
		return 3
	case StageRising:
		return 1
	case StagePeaking:
		return -2
	case StageConfirmedPeak:
		return -3
	case StageFalling:
		return -1
	default:
		return 0
	}
}

// MarshalJSON renders stages by display name in API and --format json
// output.
func (s Stage) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// TimeframeStage pairs a stage with the histogram value it was derived
// from.
type TimeframeStage struct {
	Stage Stage   `json:"stage"`
	Hist  float64 `json:"hist"`
}

// CrossEstimate is a linear extrapolation of when the daily histogram
// reaches the zero line. It is a heuristic, not a forecast guarantee.
type CrossEstimate struct {
	Days     float64 `json:"days"`
	Velocity float64 `json:"velocity"`
}

// OverviewRow is the per-ticker composite view, rebuilt on every overview
// request and never persisted.
type OverviewRow struct {
	Ticker   string         `json:"ticker"`
	Close    float64        `json:"close"`
	Daily    TimeframeStage `json:"daily"`
	Weekly   TimeframeStage `json:"weekly"`
	Monthly  TimeframeStage `json:"monthly"`
	Score    int            `json:"score"`
	VolRatio float64        `json:"volume_ratio"`
	Cross    *CrossEstimate `json:"cross,omitempty"`
}

// TickerInfo summarizes the stored rows for one ticker.
type TickerInfo struct {
	Ticker  string    `json:"ticker"`
	Rows    int       `json:"rows"`
	First   time.Time `json:"first"`
	Last    time.Time `json:"last"`
	Sources []string  `json:"sources"`
}

// RunRecord journals one bulk ingest run.
type RunRecord struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Source      string     `json:"source"`
	Tickers     int        `json:"tickers"`
	BarsWritten int        `json:"bars_written"`
	Failures    int        `json:"failures"`
	Note        string     `json:"note,omitempty"`
}
