// Package main provides the CLI entry point for the flash-sale load
// generator and consistency checker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/example/flashsale/tools/loadgen/internal/config"
	"github.com/example/flashsale/tools/loadgen/internal/runner"
)

// Version information (populated at build time)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// CLI flags
var (
	configPath     string
	baseURL        string
	qps            float64
	verbose        bool
	validate       bool
	dryRun         bool
	showVersion    bool
	validateOnly   bool
	skipValidation bool
	prometheusAddr string
)

func init() {
	// Configuration
	flag.StringVar(&configPath, "config", "", "Path to the YAML configuration file (optional, built-in defaults otherwise)")
	flag.StringVar(&configPath, "c", "", "Path to the YAML configuration file (shorthand)")

	// Override flags
	flag.StringVar(&baseURL, "base-url", "", "Override the target service base URL")
	flag.Float64Var(&qps, "qps", 0, "Override the global request rate cap (0 = uncapped)")
	flag.StringVar(&prometheusAddr, "prometheus", "", "Prometheus metrics listen address (e.g., :9090)")

	// Mode flags
	flag.BoolVar(&validateOnly, "validate-only", false, "Skip the load phases and only run the consistency checks")
	flag.BoolVar(&skipValidation, "skip-validation", false, "Run the load phases without the post-run consistency checks")

	// Utility flags
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.BoolVar(&verbose, "v", false, "Enable debug logging (shorthand)")
	flag.BoolVar(&validate, "validate", false, "Validate configuration and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "Print the phase timeline without running")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = printUsage
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Flash-Sale Load Generator and Consistency Checker

USAGE:
    loadgen -base-url <url> [options]
    loadgen -config <path> [options]

DESCRIPTION:
    Drives a flash-sale order service through a timed sequence of load
    phases (warmup, sale rush, idempotent retries, cancellation wave,
    order probes), then validates the service's externally observable
    state: stock conservation, identifier and idempotency-key
    uniqueness, cancel idempotency, and error contracts.

    The process exits 0 only when every consistency check passes.

CONFIGURATION:
    -config, -c <path>    Path to the YAML configuration file. Without
                          it the built-in flash-sale scenario is used,
                          which still needs -base-url.

OVERRIDE OPTIONS:
    -base-url <url>       Target service base URL (e.g., http://localhost:8000)
    -qps <n>              Global request rate cap shared by all actors
    -prometheus <addr>    Expose live Prometheus metrics (e.g., :9090)

MODE OPTIONS:
    -validate-only        Run only the consistency checks against the
                          target's current state
    -skip-validation      Run only the load phases

UTILITY OPTIONS:
    -validate             Validate configuration and exit
    -dry-run              Print the phase timeline without running
    -verbose, -v          Enable debug logging
    -version              Show version information
    -help, -h             Show this help message

EXAMPLES:
    # Full run against a local service with the built-in scenario
    loadgen -base-url http://localhost:8000

    # Custom scenario with live metrics
    loadgen -config configs/sale.yaml -prometheus :9090

    # Re-check consistency after a previous run
    loadgen -base-url http://localhost:8000 -validate-only
`)
}

func main() {
	flag.Parse()

	if showVersion {
		printVersion()
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if validate {
		fmt.Printf("Configuration '%s' is valid.\n", cfg.Name)
		printConfigSummary(cfg)
		os.Exit(0)
	}

	if dryRun {
		printTimeline(cfg)
		os.Exit(0)
	}

	logger := newLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := runner.New(cfg, runner.Options{
		SkipLoad:       validateOnly,
		SkipValidation: skipValidation,
	}, logger)

	result, err := r.Run(ctx)
	if err != nil {
		logger.Error("run aborted", "error", err)
		os.Exit(1)
	}

	fmt.Println(result.Summary.String())
	if !result.Passed() {
		for _, f := range result.Report.Failures() {
			fmt.Fprintf(os.Stderr, "FAIL %s: %s\n", f.Name, f.Detail)
		}
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg := config.Default()
		cfg.ApplyDefaults()
		return cfg, nil
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	return config.Load(abs)
}

func applyOverrides(cfg *config.Config) {
	if baseURL != "" {
		cfg.Target.BaseURL = baseURL
	}
	if qps > 0 {
		cfg.Pacing.QPS = qps
	}
	if prometheusAddr != "" {
		cfg.Metrics.PrometheusAddr = prometheusAddr
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
}

func printVersion() {
	fmt.Printf("loadgen version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

func printConfigSummary(cfg *config.Config) {
	fmt.Println()
	fmt.Println("Configuration Summary:")
	fmt.Printf("  Name:       %s\n", cfg.Name)
	fmt.Printf("  Target:     %s\n", cfg.Target.BaseURL)
	fmt.Printf("  Products:   %d\n", len(cfg.Products))
	fmt.Printf("  Phases:     %d\n", len(cfg.Phases))
	fmt.Printf("  Duration:   %v\n", cfg.TotalDuration())
	if cfg.Pacing.QPS > 0 {
		fmt.Printf("  Rate cap:   %.1f qps\n", cfg.Pacing.QPS)
	} else {
		fmt.Printf("  Rate cap:   none\n")
	}
}

func printTimeline(cfg *config.Config) {
	fmt.Printf("Phase timeline for '%s' (total %v):\n\n", cfg.Name, cfg.TotalDuration())
	for _, p := range cfg.Phases {
		fmt.Printf("  %-22s %-18s start %-6v", p.Name, "("+p.Behavior+")", p.StartAfter)
		peak := p.StartTarget
		for _, s := range p.Stages {
			if s.Target > peak {
				peak = s.Target
			}
		}
		fmt.Printf(" run %-6v peak %d actor(s)\n", p.Duration(), peak)
	}
	fmt.Println()
	fmt.Println("Consistency checks run after the last phase drains.")
}
