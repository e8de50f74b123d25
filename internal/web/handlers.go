package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"barkeep/pkg/model"
)

// chartBars caps the bar history returned alongside a stage classification.
const chartBars = 100

// OverviewResponse is the ranked watchlist snapshot.
type OverviewResponse struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Count       int                 `json:"count"`
	Rows        []model.OverviewRow `json:"rows"`
}

// StagesResponse pairs one ticker's classification with recent bars for
// charting.
type StagesResponse struct {
	model.OverviewRow
	Bars []model.Bar `json:"bars,omitempty"`
}

// HealthResponse reports store reachability and size.
type HealthResponse struct {
	Status  string `json:"status"`
	Tickers int    `json:"tickers"`
	Bars    int    `json:"bars"`
}

// handleOverview returns the ranked overview for the stored watchlist, or
// for ?tickers=AAA,BBB when given.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	rows, err := s.builder.Build(ctx, splitTickers(r.URL.Query().Get("tickers")))
	if err != nil {
		http.Error(w, "Failed to build overview: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []model.OverviewRow{}
	}

	resp := OverviewResponse{
		GeneratedAt: time.Now().UTC(),
		Count:       len(rows),
		Rows:        rows,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleStages returns a single ticker's stage classification with chart
// data. Path: /api/stages/VNM
func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ticker := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/stages/")))
	if ticker == "" {
		http.Error(w, "Ticker required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	row, err := s.builder.BuildRow(ctx, ticker)
	if err != nil {
		http.Error(w, "Failed to classify "+ticker+": "+err.Error(), http.StatusInternalServerError)
		return
	}
	if row == nil {
		http.Error(w, "No stored bars for "+ticker, http.StatusNotFound)
		return
	}

	bars, err := s.store.LoadSeries(ctx, ticker, "")
	if err != nil {
		http.Error(w, "Failed to load bars for "+ticker+": "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(bars) > chartBars {
		bars = bars[len(bars)-chartBars:]
	}

	resp := StagesResponse{
		OverviewRow: *row,
		Bars:        bars,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleHealth answers liveness probes with store totals.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	infos, err := s.store.Tickers(ctx)
	if err != nil {
		http.Error(w, "Store unavailable: "+err.Error(), http.StatusInternalServerError)
		return
	}

	resp := HealthResponse{Status: "ok", Tickers: len(infos)}
	for _, info := range infos {
		resp.Bars += info.Rows
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// splitTickers parses a comma-separated ticker list, dropping blanks.
func splitTickers(raw string) []string {
	if raw == "" {
		return nil
	}
	var tickers []string
	for _, part := range strings.Split(raw, ",") {
		t := strings.ToUpper(strings.TrimSpace(part))
		if t != "" {
			tickers = append(tickers, t)
		}
	}
	return tickers
}
