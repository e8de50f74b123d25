package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"barkeep/internal/config"
	"barkeep/internal/overview"
	"barkeep/internal/provider"
	"barkeep/internal/trend"
	"barkeep/pkg/model"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("=== TCBS History API Probe ===")

	prov := provider.NewTCBSProvider(cfg.Source.Name, cfg.Source.BaseURL,
		cfg.Source.Timeout, cfg.Source.RateLimit)
	ctx := context.Background()

	// 1. Provider test
	fmt.Println("\n[1] GetDailyBars for VNM")
	start := time.Now()
	bars, err := prov.GetDailyBars(ctx, "VNM", cfg.Source.DefaultDays, "D")
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("    ERROR: %v\n", err)
	} else {
		fmt.Printf("    OK: %d bars in %s\n", len(bars), elapsed)
		if len(bars) > 0 {
			last := bars[len(bars)-1]
			fmt.Printf("    Last: %s O=%s H=%s L=%s C=%s V=%d\n",
				last.Date.Format("2006-01-02"),
				fmtPrice(last.Open), fmtPrice(last.High),
				fmtPrice(last.Low), fmtPrice(last.Close), last.Volume)
		}
	}

	// 2. Stage classification across timeframes
	fmt.Println("\n[2] Trend stages for VNM")
	if len(bars) == 0 {
		fmt.Println("    no bars to classify")
	} else {
		printStage("daily", closes(bars), cfg.Trend)
		printStage("weekly", overview.Closes(overview.Resample(bars, overview.Weekly)), cfg.Trend)
		printStage("monthly", overview.Closes(overview.Resample(bars, overview.Monthly)), cfg.Trend)
	}

	// 3. A few more tickers
	probeTickers := []string{"FPT", "HPG", "VCB", "SSI", "VNINDEX"}
	fmt.Println("\n[3] Multi-ticker probe")
	for _, ticker := range probeTickers {
		start := time.Now()
		tb, err := prov.GetDailyBars(ctx, ticker, cfg.Source.DefaultDays, "D")
		elapsed := time.Since(start)
		if err != nil {
			fmt.Printf("    %s: ERROR - %v (%.1fs)\n", ticker, err, elapsed.Seconds())
			continue
		}
		if len(tb) == 0 {
			fmt.Printf("    %s: no bars (%.1fs)\n", ticker, elapsed.Seconds())
			continue
		}

		cs := closes(tb)
		hist := trend.Histogram(cs, cfg.Trend.Fast, cfg.Trend.Slow, cfg.Trend.Signal)
		stage := trend.DetectStage(hist, cfg.Trend.Lookback)

		last := tb[len(tb)-1]
		fmt.Printf("    %s: %d bars, last=%s, %s (%.1fs)\n",
			ticker, len(tb), fmtPrice(last.Close), stage, elapsed.Seconds())
	}

	fmt.Println("\n=== Probe Complete ===")
}

func printStage(label string, cs []float64, cfg config.TrendConfig) {
	hist := trend.Histogram(cs, cfg.Fast, cfg.Slow, cfg.Signal)
	if len(hist) == 0 {
		fmt.Printf("    %-8s no data\n", label+":")
		return
	}
	stage := trend.DetectStage(hist, cfg.Lookback)
	fmt.Printf("    %-8s %s (hist %+.3f)\n", label+":", stage, hist[len(hist)-1])
}

func closes(bars []model.Bar) []float64 {
	var out []float64
	for _, b := range bars {
		if b.Close != nil {
			out = append(out, *b.Close)
		}
	}
	return out
}

func fmtPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *p)
}
