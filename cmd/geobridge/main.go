package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geobridge/geobridge/internal/bridge"
	"github.com/geobridge/geobridge/pkg/config"
	"github.com/geobridge/geobridge/pkg/convert"
	"github.com/geobridge/geobridge/pkg/logger"
	"github.com/geobridge/geobridge/pkg/metrics"
	"github.com/geobridge/geobridge/pkg/observability"
	"github.com/geobridge/geobridge/pkg/schema"
	"github.com/geobridge/geobridge/pkg/sink"

	// Import all converter kinds and sink backends to register them
	_ "github.com/geobridge/geobridge/pkg/convert/avro"
	_ "github.com/geobridge/geobridge/pkg/convert/delimited"
	_ "github.com/geobridge/geobridge/pkg/convert/jsonl"
	_ "github.com/geobridge/geobridge/pkg/sink/kafka"
	_ "github.com/geobridge/geobridge/pkg/sink/memory"
	_ "github.com/geobridge/geobridge/pkg/sink/postgres"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "geobridge",
		Short: "geobridge - schema-driven record-ingestion bridge",
		Long: `geobridge parses incoming byte streams through a schema-bound converter
and appends the resulting records to a storage backend, one durable commit
per record. Each input file is one unit of work: a fault fails that unit
only, and records committed before the fault stay committed.`,
	}

	root.AddCommand(versionCommand())
	root.AddCommand(listCommand())
	root.AddCommand(validateCommand())
	root.AddCommand(runCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("geobridge v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered converter kinds, sink backends and schemas",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Converter kinds:")
			for _, kind := range sorted(convert.ListKinds()) {
				fmt.Printf("  - %s\n", kind)
			}

			fmt.Println("\nNamed converter configurations:")
			configs := sorted(convert.ListConfigs())
			if len(configs) == 0 {
				fmt.Println("  (none)")
			}
			for _, name := range configs {
				fmt.Printf("  - %s\n", name)
			}

			fmt.Println("\nSink backends:")
			for _, backend := range sorted(sink.List()) {
				fmt.Printf("  - %s\n", backend)
			}

			fmt.Println("\nRegistered schemas:")
			names := sorted(schema.List())
			if len(names) == 0 {
				fmt.Println("  (none)")
			}
			for _, name := range names {
				fmt.Printf("  - %s\n", name)
			}
		},
	}
}

func validateCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file without connecting anywhere",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			fmt.Printf("configuration ok: name=%s backend=%s compression=%s\n",
				cfg.Name, cfg.Sink.Backend, cfg.Input.Compression)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runCommand() *cobra.Command {
	var (
		configFile    string
		schemaName    string
		converterName string
		backend       string
		logLevel      string
		enableMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "run --config bridge.yaml FILE...",
		Short: "Start the processor and ingest each file as one unit of work",
		Long: `Run starts the bridge processor against the configured backend and feeds
it every FILE argument in order, one unit of work per file. SIGINT and
SIGTERM let the unit in flight finish, then stop the processor.

Example:
  geobridge run --config bridge.yaml inbox/obs-2020-01.csv inbox/obs-2020-02.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			applyFlags(cfg, schemaName, converterName, backend, logLevel, enableMetrics)
			return runBridge(cfg, args)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file (required)")
	_ = cmd.MarkFlagRequired("config")
	cmd.Flags().StringVar(&schemaName, "schema", "", "Use a registered schema by name instead of the configured source")
	cmd.Flags().StringVar(&converterName, "converter", "", "Use a registered converter configuration by name instead of the configured source")
	cmd.Flags().StringVar(&backend, "backend", "", "Override the configured sink backend")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&enableMetrics, "enable-metrics", false, "Expose prometheus metrics regardless of configuration")

	return cmd
}

// applyFlags lays command line overrides over the loaded configuration.
// Selecting a source by name clears the competing inline spec so the
// exactly-one-source validation still holds.
func applyFlags(cfg *config.Config, schemaName, converterName, backend, logLevel string, enableMetrics bool) {
	if schemaName != "" {
		cfg.Schema.Name = schemaName
		cfg.Schema.InlineSpec = ""
		cfg.Schema.TypeNameOverride = ""
	}
	if converterName != "" {
		cfg.Converter.Name = converterName
		cfg.Converter.InlineSpec = ""
	}
	if backend != "" {
		cfg.Sink.Backend = backend
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if enableMetrics {
		cfg.Metrics.Enabled = true
	}
}

// runBridge starts the processor, ingests each file as one unit of work and
// reports a per-file outcome plus a final summary.
func runBridge(cfg *config.Config, files []string) error {
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	log := logger.With(zap.String("component", "geobridge-cli"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.Init(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	if cfg.Metrics.Enabled {
		srv := metrics.Serve(cfg.Metrics.Listen)
		log.Info("metrics listening", zap.String("addr", cfg.Metrics.Listen))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	proc := bridge.NewProcessor(cfg)
	if err := proc.Start(ctx); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	defer func() {
		if err := proc.Stop(context.Background()); err != nil {
			log.Warn("processor stop reported errors", zap.Error(err))
		}
	}()

	var succeeded, failed int
	var records int64

	for _, file := range files {
		select {
		case <-ctx.Done():
			log.Info("shutdown requested, stopping after the unit in flight")
			fmt.Println("shutdown requested")
			return summarize(succeeded, failed, records)
		default:
		}

		outcome := proc.Invoke(ctx, fileUnit(file))
		records += outcome.Records

		switch outcome.Status {
		case bridge.StatusSucceeded:
			succeeded++
			fmt.Printf("%s: %s (%d records, %s)\n",
				outcome.Provenance, outcome.Status, outcome.Records, outcome.Duration.Round(time.Millisecond))
		case bridge.StatusFailed:
			failed++
			fmt.Printf("%s: %s after %d records: %v\n",
				outcome.Provenance, outcome.Status, outcome.Records, outcome.Err)
		default:
			fmt.Printf("%s: %s\n", file, outcome.Status)
		}
	}

	return summarize(succeeded, failed, records)
}

// fileUnit wraps a file path as a unit of work. The stream opens lazily so
// a missing file surfaces as a per-unit stream fault, not a CLI error.
func fileUnit(file string) *bridge.UnitOfWork {
	dir, name := filepath.Split(file)
	return &bridge.UnitOfWork{
		Attributes: map[string]string{
			bridge.AttrPath:     dir,
			bridge.AttrFilename: name,
		},
		Open: func() (io.ReadCloser, error) {
			return os.Open(file)
		},
	}
}

func summarize(succeeded, failed int, records int64) error {
	fmt.Printf("\n%d succeeded, %d failed, %d records committed\n", succeeded, failed, records)
	if failed > 0 {
		return fmt.Errorf("%d unit(s) of work failed", failed)
	}
	return nil
}

func sorted(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}
