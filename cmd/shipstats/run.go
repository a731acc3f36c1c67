package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/shipstats/internal/batch"
	"github.com/TobiSchelling/shipstats/internal/fetch"
	"github.com/TobiSchelling/shipstats/internal/metrics"
	"github.com/TobiSchelling/shipstats/internal/pipeline"
	"github.com/TobiSchelling/shipstats/internal/report"
	"github.com/TobiSchelling/shipstats/internal/schedule"
)

var (
	pages       int
	delay       float64
	startDate   string
	endDate     string
	onError     string
	useCache    bool
	metricsAddr string
	cronSpec    string
	runNow      bool
	jsonOutput  bool
)

func addFetchFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&pages, "pages", 1, "Listing pages to read per tag")
	cmd.Flags().Float64Var(&delay, "delay", 1.0, "Seconds to wait between requests")
	cmd.Flags().StringVar(&startDate, "start-date", "", "Only count works posted on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "Only count works posted on or before this date (YYYY-MM-DD)")
}

func addBatchFlags(cmd *cobra.Command) {
	addFetchFlags(cmd)
	cmd.Flags().StringVar(&onError, "on-error", "abort", "What to do when a tag cannot be fetched (abort or skip)")
	cmd.Flags().BoolVar(&useCache, "cache", false, "Keep fetched pages in the local page cache")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

// startMetrics registers the counters and, when an address is configured,
// serves them in the background.
func startMetrics() {
	metrics.Init()
	if cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
		if err := metrics.Serve(cfg.Metrics.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
}

func printFailures(r *batch.Report) {
	for _, f := range r.Failed {
		fmt.Fprintf(os.Stderr, "failed: %s: %v\n", f.Tag, f.Err)
	}
}

// --- scrape command ---

var scrapeCmd = &cobra.Command{
	Use:   "scrape TAG...",
	Short: "Fetch and summarize tags without writing an output file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dr, err := fetch.ParseDateRange(startDate, endDate)
		if err != nil {
			return err
		}
		startMetrics()

		p, err := pipeline.New(cmd.Context(), cfg, logger, pipeline.Options{})
		if err != nil {
			return err
		}
		defer p.Close()

		r, err := p.Scrape(cmd.Context(), args, dr)
		if err != nil {
			return err
		}
		printFailures(r)

		if jsonOutput {
			return report.JSON(os.Stdout, r.Completed)
		}
		return report.Table(os.Stdout, r.Completed, report.Options{Extended: true, Totals: true})
	},
}

func init() {
	addFetchFlags(scrapeCmd)
	scrapeCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of a table")
}

// --- batch command ---

var batchCmd = &cobra.Command{
	Use:   "batch INPUT.csv OUTPUT.csv",
	Short: "Summarize every tag in INPUT into OUTPUT, resuming a previous run",
	Long: `Reads relationship tags from the "relationship" column of INPUT and appends
one row per tag to OUTPUT. Tags already in OUTPUT are skipped, so an
interrupted run picks up where it stopped when started again.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dr, err := fetch.ParseDateRange(startDate, endDate)
		if err != nil {
			return err
		}
		startMetrics()

		p, err := pipeline.New(cmd.Context(), cfg, logger, pipeline.Options{History: true, Mirror: true})
		if err != nil {
			return err
		}
		defer p.Close()

		start := time.Now()
		r, err := p.Batch(cmd.Context(), args[0], args[1], dr)
		if r != nil {
			printFailures(r)
			fmt.Printf("%d tags: %d added, %d already done, %d failed (%s)\n",
				r.Total, len(r.Completed), len(r.Skipped), len(r.Failed), time.Since(start).Round(time.Second))
		}
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Interrupted. Run the same command again to resume.")
		}
		return err
	},
}

func init() {
	addBatchFlags(batchCmd)
}

// --- schedule command ---

var scheduleCmd = &cobra.Command{
	Use:   "schedule INPUT.csv DIR",
	Short: "Run batch on a cron schedule into dated snapshot files",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dr, err := fetch.ParseDateRange(startDate, endDate)
		if err != nil {
			return err
		}
		startMetrics()

		ctx := cmd.Context()
		p, err := pipeline.New(ctx, cfg, logger, pipeline.Options{History: true, Mirror: true})
		if err != nil {
			return err
		}
		defer p.Close()

		input := args[0]
		job := func(ctx context.Context, output string) error {
			_, err := p.Batch(ctx, input, output, dr)
			return err
		}
		s, err := schedule.New(cfg.Schedule.Cron, args[1], job, time.Local, logger.Named("schedule"))
		if err != nil {
			return err
		}

		if runNow {
			if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("initial run failed", zap.Error(err))
			}
		}
		return s.Run(ctx)
	},
}

func init() {
	addBatchFlags(scheduleCmd)
	scheduleCmd.Flags().StringVar(&cronSpec, "cron", "@daily", "Cron expression or descriptor (@daily, @every 6h)")
	scheduleCmd.Flags().BoolVar(&runNow, "now", false, "Run once immediately before waiting for the schedule")
}
