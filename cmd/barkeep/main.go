package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"barkeep/internal/config"
	"barkeep/internal/ingest"
	"barkeep/internal/logging"
	"barkeep/internal/overview"
	"barkeep/internal/provider"
	"barkeep/internal/reconcile"
	"barkeep/internal/store"
	"barkeep/internal/watch"
	"barkeep/internal/web"
	"barkeep/pkg/model"
)

var (
	cfgFile      string
	pullAll      bool
	pullDays     int
	pullRate     int
	importSchema string
	importSource string
	importLimit  int
	scanApply    bool
	scanSince    string
	rescaleScale int
	rescaleSince string
	pruneSource  string
	runsLimit    int
	servePort    int
	watchCron    string
	format       string
	yes          bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "barkeep",
		Short: "Daily-bar keeper for Vietnamese equities with scale reconciliation",
		Long: `Barkeep maintains a local store of daily OHLCV bars pulled from the TCBS
public history API, reconciles price-unit mismatches between sources (TCBS
reports most equities in plain VND while local stores keep thousand VND),
and classifies each ticker's MACD-histogram trajectory into six trend
stages across daily, weekly and monthly timeframes.

Examples:
  barkeep pull VNM FPT HPG
  barkeep pull --all
  barkeep scan --apply
  barkeep overview --format json
  barkeep serve --port 8787`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create or upgrade the bar store schema",
		RunE:  runInit,
	}

	importCmd := &cobra.Command{
		Use:   "import <legacy.db>",
		Short: "Copy bars out of a legacy analysis store",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	importCmd.Flags().StringVar(&importSchema, "schema", "auto", "legacy layout: auto, v1, v2")
	importCmd.Flags().StringVar(&importSource, "source", "local_copy", "source tag for rows that carry none")
	importCmd.Flags().IntVar(&importLimit, "limit", 0, "copy at most N rows (0 = all)")

	pullCmd := &cobra.Command{
		Use:   "pull [tickers...]",
		Short: "Fetch daily bars and upsert them with scale reconciliation",
		RunE:  runPull,
	}
	pullCmd.Flags().BoolVar(&pullAll, "all", false, "pull every ticker already in the store")
	pullCmd.Flags().IntVar(&pullDays, "days", 0, "override the pull lookback window")
	pullCmd.Flags().IntVar(&pullRate, "rate", 0, "override requests per minute")

	scanCmd := &cobra.Command{
		Use:   "scan [tickers...]",
		Short: "Audit stored bars for scale mismatches",
		RunE:  runScan,
	}
	scanCmd.Flags().BoolVar(&scanApply, "apply", false, "write corrections (default is a dry run)")
	scanCmd.Flags().StringVar(&scanSince, "since", "", "only correct rows dated on or after YYYY-MM-DD")
	scanCmd.Flags().StringVar(&format, "format", "table", "output format: table, json")

	rescaleCmd := &cobra.Command{
		Use:   "rescale [tickers...]",
		Short: "Divide monitored-source prices by a fixed factor",
		RunE:  runRescale,
	}
	rescaleCmd.Flags().IntVar(&rescaleScale, "scale", 0, "divisor to apply, must be greater than 1")
	rescaleCmd.Flags().StringVar(&rescaleSince, "since", "", "only rows dated on or after YYYY-MM-DD")
	rescaleCmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation check")
	rescaleCmd.MarkFlagRequired("scale")

	pruneCmd := &cobra.Command{
		Use:   "prune [tickers...]",
		Short: "Delete stored rows from one source",
		RunE:  runPrune,
	}
	pruneCmd.Flags().StringVar(&pruneSource, "source", "", "source tag to delete")
	pruneCmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation check")
	pruneCmd.MarkFlagRequired("source")

	tickersCmd := &cobra.Command{
		Use:   "tickers",
		Short: "List stored tickers with row counts and date ranges",
		RunE:  runTickers,
	}

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Show the ingest-run journal",
		RunE:  runRuns,
	}
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "show at most N runs")

	overviewCmd := &cobra.Command{
		Use:   "overview [tickers...]",
		Short: "Rank tickers by trend stage across daily, weekly and monthly bars",
		RunE:  runOverview,
	}
	overviewCmd.Flags().StringVar(&format, "format", "table", "output format: table, json")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the overview as a JSON API",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 8787, "listen port")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Refresh the store on a cron schedule",
		RunE:  runWatch,
	}
	watchCmd.Flags().StringVar(&watchCron, "cron", "", "six-field cron spec (default from config)")

	rootCmd.AddCommand(initCmd, importCmd, pullCmd, scanCmd, rescaleCmd, pruneCmd,
		tickersCmd, runsCmd, overviewCmd, serveCmd, watchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// appEnv bundles what every subcommand needs: parsed config, a logger and
// the open store.
type appEnv struct {
	cfg *config.Config
	log *logrus.Logger
	st  *store.Store
}

func openEnv() (*appEnv, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	st, err := store.Open(cfg.DB.Path, log)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return &appEnv{cfg: cfg, log: log, st: st}, nil
}

func (a *appEnv) Close() {
	a.st.Close()
}

// openReference opens the optional external reference store. Returns nil
// without error when none is configured.
func openReference(a *appEnv) (*store.LegacyReader, error) {
	if a.cfg.DB.RefPath == "" {
		return nil, nil
	}
	ref, err := store.OpenLegacy(a.cfg.DB.RefPath, store.LegacyAuto, a.log)
	if err != nil {
		return nil, fmt.Errorf("opening reference store: %w", err)
	}
	return ref, nil
}

// buildEngine wires the fetch pipeline: TCBS provider, scale cascade,
// store. The returned reference reader is nil unless db.ref_path is set;
// the caller owns closing it.
func buildEngine(a *appEnv) (*ingest.Engine, *store.LegacyReader, error) {
	ref, err := openReference(a)
	if err != nil {
		return nil, nil, err
	}

	refs := []reconcile.ReferenceHistory{
		&reconcile.LocalHistory{Store: a.st, ExcludeSource: a.cfg.Source.Name},
	}
	if ref != nil {
		refs = append(refs, ref)
	}

	prov := provider.NewTCBSProvider(a.cfg.Source.Name, a.cfg.Source.BaseURL,
		a.cfg.Source.Timeout, a.cfg.Source.RateLimit)
	resolver := reconcile.NewResolver(a.st, refs, a.cfg.Scale, a.log)

	// The provider paces itself, so the engine runs without a second limiter.
	return ingest.NewEngine(a.st, prov, resolver, nil, a.cfg.Source, a.log), ref, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	a, err := openEnv()
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Store ready at %s\n", a.cfg.DB.Path)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	schema, err := legacySchema(importSchema)
	if err != nil {
		return err
	}

	a, err := openEnv()
	if err != nil {
		return err
	}
	defer a.Close()

	reader, err := store.OpenLegacy(args[0], schema, a.log)
	if err != nil {
		return fmt.Errorf("opening legacy store: %w", err)
	}
	defer reader.Close()

	engine, ref, err := buildEngine(a)
	if err != nil {
		return err
	}
	if ref != nil {
		defer ref.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	n, err := engine.Import(ctx, reader, importSource, importLimit)
	if err != nil {
		return fmt.Errorf("importing: %w", err)
	}

	fmt.Printf("Imported %d bars from %s (%s layout)\n", n, args[0], reader.Schema())
	return nil
}

func runPull(cmd *cobra.Command, args []string) error {
	a, err := openEnv()
	if err != nil {
		return err
	}
	defer a.Close()

	if pullDays > 0 {
		a.cfg.Source.DefaultDays = pullDays
	}
	if pullRate > 0 {
		a.cfg.Source.RateLimit = pullRate
	}

	engine, ref, err := buildEngine(a)
	if err != nil {
		return err
	}
	if ref != nil {
		defer ref.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickers := normalizeTickers(args)
	if pullAll {
		tickers, err = a.st.DistinctTickers(ctx, "")
		if err != nil {
			return err
		}
	}
	if len(tickers) == 0 {
		if pullAll {
			return fmt.Errorf("store is empty; pass tickers explicitly for the first pull")
		}
		return fmt.Errorf("specify tickers or --all")
	}

	fmt.Printf("Pulling %d tickers from %s...\n\n", len(tickers), a.cfg.Source.Name)

	bar := newProgressBar(len(tickers), "Pulling")
	engine.SetProgressCallback(func(done, total int) {
		bar.Set(done)
	})

	run, results, err := engine.PullAll(ctx, tickers)
	bar.Finish()
	fmt.Println()

	if err != nil && run == nil {
		return err
	}
	if err != nil {
		fmt.Println("Pull interrupted; partial results follow.")
	}
	return outputPullSummary(run, results)
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := checkDate(scanSince); err != nil {
		return err
	}

	a, err := openEnv()
	if err != nil {
		return err
	}
	defer a.Close()

	ref, err := openReference(a)
	if err != nil {
		return err
	}
	if ref != nil {
		defer ref.Close()
	}
	rec := reconcile.NewReconciler(a.st, ref, a.cfg.Scale, a.log)

	ctx, cancel := signalContext()
	defer cancel()

	findings, err := rec.ScanAndFix(ctx, normalizeTickers(args), a.cfg.Source.Name, !scanApply, scanSince)
	if err != nil {
		return fmt.Errorf("scanning: %w", err)
	}

	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(findings)
	}
	return outputFindingsTable(findings, scanApply)
}

func runRescale(cmd *cobra.Command, args []string) error {
	if rescaleScale <= 1 {
		return fmt.Errorf("--scale must be greater than 1")
	}
	if err := checkDate(rescaleSince); err != nil {
		return err
	}

	a, err := openEnv()
	if err != nil {
		return err
	}
	defer a.Close()

	if !yes {
		fmt.Printf("rescale divides every %s price by %d unconditionally and is NOT\n"+
			"idempotent: running it twice shrinks prices twice.\n"+
			"Re-run with --yes to proceed.\n", a.cfg.Source.Name, rescaleScale)
		return nil
	}

	rec := reconcile.NewReconciler(a.st, nil, a.cfg.Scale, a.log)

	ctx, cancel := signalContext()
	defer cancel()

	n, err := rec.ForceRescale(ctx, normalizeTickers(args), a.cfg.Source.Name, rescaleScale, rescaleSince)
	if err != nil {
		return fmt.Errorf("rescaling: %w", err)
	}

	fmt.Printf("Rescaled %d rows.\n", n)
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	a, err := openEnv()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	tickers := normalizeTickers(args)
	n, err := a.st.CountSource(ctx, pruneSource, tickers, "")
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Printf("No rows from source %s.\n", pruneSource)
		return nil
	}
	if !yes {
		fmt.Printf("Would delete %d rows from source %s. Re-run with --yes to proceed.\n", n, pruneSource)
		return nil
	}

	deleted, err := a.st.DeleteSource(ctx, pruneSource, tickers, "")
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %d rows from source %s.\n", deleted, pruneSource)
	return nil
}

func runTickers(cmd *cobra.Command, args []string) error {
	a, err := openEnv()
	if err != nil {
		return err
	}
	defer a.Close()

	infos, err := a.st.Tickers(context.Background())
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("Store is empty.")
		return nil
	}

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Ticker", "Rows", "First", "Last", "Sources"}),
	)
	for _, info := range infos {
		table.Append([]string{
			info.Ticker,
			fmt.Sprintf("%d", info.Rows),
			info.First.Format("2006-01-02"),
			info.Last.Format("2006-01-02"),
			strings.Join(info.Sources, ","),
		})
	}
	table.Render()

	fmt.Printf("\n%d tickers stored.\n", len(infos))
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	a, err := openEnv()
	if err != nil {
		return err
	}
	defer a.Close()

	recs, err := a.st.ListRuns(context.Background(), runsLimit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No ingest runs journaled yet.")
		return nil
	}

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Run", "Started", "Duration", "Source", "Tickers", "Bars", "Failures", "Note"}),
	)
	for _, r := range recs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		table.Append([]string{
			id,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			dur,
			r.Source,
			fmt.Sprintf("%d", r.Tickers),
			fmt.Sprintf("%d", r.BarsWritten),
			fmt.Sprintf("%d", r.Failures),
			r.Note,
		})
	}
	table.Render()
	return nil
}

func runOverview(cmd *cobra.Command, args []string) error {
	a, err := openEnv()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	builder := overview.NewBuilder(a.st, a.cfg.Trend, a.cfg.Overview, a.cfg.Source.Name, a.log)
	rows, err := builder.Build(ctx, normalizeTickers(args))
	if err != nil {
		return fmt.Errorf("building overview: %w", err)
	}

	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	}
	return outputOverviewTable(rows)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openEnv()
	if err != nil {
		return err
	}
	defer a.Close()

	builder := overview.NewBuilder(a.st, a.cfg.Trend, a.cfg.Overview, a.cfg.Source.Name, a.log)
	srv := web.NewServer(a.st, builder, a.log)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(servePort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	fmt.Printf("Serving API at http://localhost:%d\n", servePort)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigChan:
		fmt.Println("\nShutting down...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openEnv()
	if err != nil {
		return err
	}
	defer a.Close()

	engine, ref, err := buildEngine(a)
	if err != nil {
		return err
	}
	if ref != nil {
		defer ref.Close()
	}
	rec := reconcile.NewReconciler(a.st, ref, a.cfg.Scale, a.log)

	spec := a.cfg.Watch.Cron
	if watchCron != "" {
		spec = watchCron
	}

	ctx, cancel := signalContext()
	defer cancel()

	w := watch.New(engine, rec, a.cfg.Source.Name, spec, a.log)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	fmt.Printf("Watching on schedule %q\n", spec)
	fmt.Println("Press Ctrl+C to stop")

	<-ctx.Done()
	w.Stop()
	return nil
}

func outputPullSummary(run *model.RunRecord, results []ingest.TickerResult) error {
	var failures []ingest.TickerResult
	written := 0
	rescaled := 0
	for _, r := range results {
		if r.Reason != ingest.ReasonOK {
			failures = append(failures, r)
			continue
		}
		written += r.Bars
		if r.Scale > 1 {
			rescaled++
		}
	}

	fmt.Printf("Pulled %d tickers: %d bars written, %d rescaled, %d failed\n",
		len(results), written, rescaled, len(failures))

	if len(failures) > 0 {
		fmt.Println()
		table := tablewriter.NewTable(os.Stdout,
			tablewriter.WithHeader([]string{"Ticker", "Reason", "Error"}),
		)
		for _, f := range failures {
			msg := ""
			if f.Err != nil {
				msg = f.Err.Error()
				if len(msg) > 60 {
					msg = msg[:60] + "..."
				}
			}
			table.Append([]string{f.Ticker, string(f.Reason), msg})
		}
		table.Render()
	}

	if run != nil {
		fmt.Printf("\nRun %s journaled (%s)\n", run.ID, run.Note)
	}
	return nil
}

func outputFindingsTable(findings []reconcile.Finding, applied bool) error {
	if len(findings) == 0 {
		fmt.Println("No scale mismatches found.")
		return nil
	}

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Ticker", "Observed", "Reference", "Scale", "Op", "Method", "Rows"}),
	)
	for _, f := range findings {
		rows := "-"
		if applied {
			rows = fmt.Sprintf("%d", f.Rows)
		}
		table.Append([]string{
			f.Ticker,
			fmt.Sprintf("%.2f", f.Observed),
			fmt.Sprintf("%.2f", f.Ref),
			fmt.Sprintf("%d", f.Scale),
			string(f.Op),
			f.Method,
			rows,
		})
	}
	table.Render()

	if applied {
		fmt.Printf("\n%d mismatches corrected.\n", len(findings))
	} else {
		fmt.Printf("\n%d mismatches found (dry run). Re-run with --apply to fix.\n", len(findings))
	}
	return nil
}

func outputOverviewTable(rows []model.OverviewRow) error {
	if len(rows) == 0 {
		fmt.Println("No tickers with stored closes. Run pull first.")
		return nil
	}

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Ticker", "Close", "Daily", "Hist", "Weekly", "Monthly", "Score", "Vol", "Cross"}),
	)
	for _, r := range rows {
		cross := "-"
		if r.Cross != nil {
			cross = fmt.Sprintf("~%.1fd", r.Cross.Days)
		}
		table.Append([]string{
			r.Ticker,
			fmt.Sprintf("%.2f", r.Close),
			r.Daily.Stage.String(),
			fmt.Sprintf("%.3f", r.Daily.Hist),
			r.Weekly.Stage.String(),
			r.Monthly.Stage.String(),
			fmt.Sprintf("%+d", r.Score),
			fmt.Sprintf("%.1fx", r.VolRatio),
			cross,
		})
	}
	table.Render()

	fmt.Printf("\n%d tickers, sorted by daily stage.\n", len(rows))
	return nil
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted. Shutting down...")
		cancel()
	}()

	return ctx, cancel
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// normalizeTickers uppercases ticker args, splitting any comma-separated
// groups and dropping blanks.
func normalizeTickers(args []string) []string {
	var tickers []string
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			t := strings.ToUpper(strings.TrimSpace(part))
			if t != "" {
				tickers = append(tickers, t)
			}
		}
	}
	return tickers
}

func legacySchema(s string) (store.LegacySchema, error) {
	switch s {
	case "auto":
		return store.LegacyAuto, nil
	case "v1":
		return store.LegacyV1, nil
	case "v2":
		return store.LegacyV2, nil
	}
	return "", fmt.Errorf("unknown legacy layout %q: want auto, v1 or v2", s)
}

func checkDate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return nil
}
