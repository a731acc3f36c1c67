package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TobiSchelling/shipstats/internal/config"
	"github.com/TobiSchelling/shipstats/internal/database"
	"github.com/TobiSchelling/shipstats/internal/pipeline"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	logLevel   string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "shipstats",
	Short:   "Per-tag statistics for AO3 relationship tags",
	Long:    "shipstats pages through the work listings of AO3 relationship tags and sums kudos, hits, bookmarks, comments and words per tag.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		var (
			path string
			err  error
		)
		cfg, path, err = config.LoadOrDefault(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := applyFlags(cmd); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger = newLogger(level)
		if path != "" {
			logger.Debug("config loaded", zap.String("path", path))
		} else {
			logger.Debug("no config file found, using defaults")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
}

// applyFlags lays the flags set on cmd over the loaded config.
func applyFlags(cmd *cobra.Command) error {
	var o config.Config
	flags := cmd.Flags()

	if flags.Changed("pages") {
		if pages < 1 {
			return fmt.Errorf("--pages must be at least 1, got %d", pages)
		}
		o.Archive.Pages = pages
	}
	if flags.Changed("delay") {
		if delay <= 0 {
			return fmt.Errorf("--delay must be positive, got %g", delay)
		}
		o.Archive.Delay = delay
	}
	if flags.Changed("on-error") {
		o.Batch.OnError = onError
	}
	if flags.Changed("cache") && useCache {
		o.Cache.Enabled = true
	}
	if flags.Changed("metrics") {
		o.Metrics.Addr = metricsAddr
	}
	if flags.Changed("cron") {
		o.Schedule.Cron = cronSpec
	}
	if logLevel != "" {
		o.Logging.Level = logLevel
	}
	return cfg.Override(o)
}

func newLogger(level string) *zap.Logger {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zc.OutputPaths = []string{"stderr"}
	zc.Sampling = nil
	switch strings.ToLower(level) {
	case "debug":
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zc.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("shipstats", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/shipstats/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the request delay, failure policy and optional Postgres mirror.")
		return nil
	},
}

// --- status command ---

var statusCmd = &cobra.Command{
	Use:   "status [INPUT OUTPUT]",
	Short: "Show run history totals, and what a batch run would do",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("expected no arguments or INPUT OUTPUT, got %d", len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("History:")
		fmt.Printf("  Database: %s\n", db.Path())
		fmt.Printf("  Runs: %d\n", stats.Runs)
		fmt.Printf("  Tags completed: %d\n", stats.TagsCompleted)
		fmt.Printf("  Tags failed: %d\n", stats.TagsFailed)
		fmt.Printf("  Distinct tags: %d\n", stats.DistinctTags)
		if stats.LastRunAt != nil {
			fmt.Printf("  Last run: %s\n", *stats.LastRunAt)
		}

		if len(args) == 0 {
			return nil
		}

		plan, err := pipeline.DryRun(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("\nBatch %s -> %s:\n", args[0], args[1])
		fmt.Printf("  Tags: %d\n", plan.Total)
		fmt.Printf("  Done: %d\n", plan.Done)
		fmt.Printf("  Pending: %d\n", len(plan.Pending))
		for i, tag := range plan.Pending {
			if i == 10 {
				fmt.Printf("    ... and %d more\n", len(plan.Pending)-i)
				break
			}
			fmt.Printf("    %s\n", tag)
		}
		if plan.Lock != nil {
			fmt.Printf("  Locked by pid %d (last heartbeat %s)\n", plan.Lock.PID, plan.Lock.Touched.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func openDB() (*database.DB, error) {
	return database.Open(cfg.DatabasePath(), logger.Named("db"))
}
