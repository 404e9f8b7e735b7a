// Package runner assembles the load generator from its parts and drives
// one complete run: every load phase through full drain, then the
// consistency validation pass, then the metrics summary.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/flashsale/tools/loadgen/internal/actor"
	"github.com/example/flashsale/tools/loadgen/internal/client"
	"github.com/example/flashsale/tools/loadgen/internal/config"
	"github.com/example/flashsale/tools/loadgen/internal/metrics"
	"github.com/example/flashsale/tools/loadgen/internal/oracle"
	"github.com/example/flashsale/tools/loadgen/internal/sale"
	"github.com/example/flashsale/tools/loadgen/internal/timeline"
)

// Options tweak a run without touching the configuration file.
type Options struct {
	// SkipValidation suppresses the post-run consistency pass.
	SkipValidation bool

	// SkipLoad suppresses the load phases and runs only the consistency
	// pass against the target's current state.
	SkipLoad bool
}

// Result is the outcome of one run.
type Result struct {
	// Summary aggregates the run's counters and per-phase latency.
	Summary *metrics.Summary

	// Report holds the oracle findings, nil when validation was skipped.
	Report *oracle.Report
}

// Passed reports whether the run as a whole succeeded. A skipped
// validation counts as passed.
func (r *Result) Passed() bool {
	return r.Report == nil || r.Report.Passed()
}

// Runner owns the wiring for one configured run.
type Runner struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	registry *metrics.Registry
	exporter *metrics.Exporter
}

// New builds a runner from a validated configuration.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		registry: metrics.New(),
	}
}

// Run executes the configured phases, waits for every actor to drain,
// runs the consistency oracle, and returns the combined result. Load
// errors and validation findings do not produce a Go error; the error
// return covers wiring failures and context cancellation only.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	catalog, err := sale.NewCatalog(r.cfg.Products)
	if err != nil {
		return nil, fmt.Errorf("building catalog: %w", err)
	}
	sampler, err := sale.NewSampler(catalog, r.cfg.Weights)
	if err != nil {
		return nil, fmt.Errorf("building sampler: %w", err)
	}
	builder := sale.NewRequestBuilder()

	if addr := r.cfg.Metrics.PrometheusAddr; addr != "" {
		r.exporter = metrics.NewExporter(r.registry)
		if err := r.exporter.Start(addr); err != nil {
			return nil, fmt.Errorf("starting metrics endpoint: %w", err)
		}
		r.logger.Info("metrics endpoint up", "addr", r.exporter.Addr())
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.exporter.Stop(stopCtx); err != nil {
				r.logger.Warn("metrics endpoint shutdown", "error", err)
			}
		}()
	}

	if !r.opts.SkipLoad {
		if err := r.runLoad(ctx, catalog, sampler, builder); err != nil {
			return nil, err
		}
	}

	result := &Result{}
	if r.opts.SkipValidation {
		// No consistency failure was detected, so the verdict gauge must
		// not read as a failure.
		r.registry.SetValidationPassed(true)
	} else {
		report, err := r.runOracle(ctx, catalog)
		if err != nil {
			return nil, err
		}
		result.Report = report
	}

	summary, err := r.registry.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting metrics: %w", err)
	}
	result.Summary = summary
	return result, nil
}

// runLoad builds the actor behaviors and the phase timeline and runs the
// timeline to full drain. When it returns without error, no activation
// is in flight anywhere.
func (r *Runner) runLoad(ctx context.Context, catalog *sale.Catalog, sampler *sale.Sampler, builder *sale.RequestBuilder) error {
	httpClient, err := client.New(r.cfg.Target, client.NoRetry())
	if err != nil {
		return fmt.Errorf("building load client: %w", err)
	}
	api := client.NewOrderClient(httpClient, r.logger)
	behaviors := actor.New(api, catalog, sampler, builder, r.registry, r.logger)

	phases := make([]timeline.Phase, 0, len(r.cfg.Phases))
	for _, pc := range r.cfg.Phases {
		run, err := behaviors.ByName(pc.Behavior)
		if err != nil {
			return fmt.Errorf("phase %q: %w", pc.Name, err)
		}
		phases = append(phases, timeline.FromConfig(pc, run))
	}

	sched, err := timeline.New(phases, r.cfg.Pacing, r.logger)
	if err != nil {
		return fmt.Errorf("building scheduler: %w", err)
	}

	r.logger.Info("starting load run",
		"name", r.cfg.Name,
		"target", r.cfg.Target.BaseURL,
		"phases", len(phases),
		"duration", r.cfg.TotalDuration())
	start := time.Now()
	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	r.logger.Info("load run drained", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// runOracle validates the target's post-run state. It uses a separate
// client with retries: a transient fault during validation must not turn
// into a false consistency failure.
func (r *Runner) runOracle(ctx context.Context, catalog *sale.Catalog) (*oracle.Report, error) {
	httpClient, err := client.New(r.cfg.Target, client.OracleRetry())
	if err != nil {
		return nil, fmt.Errorf("building oracle client: %w", err)
	}
	api := client.NewOrderClient(httpClient, r.logger)

	o := oracle.New(api, oracle.Config{
		Products:           catalog.Products(),
		ListingCap:         r.cfg.ListingCap,
		CancelProbeSamples: r.cfg.CancelProbeSamples,
	}, r.registry, r.logger)

	r.logger.Info("starting consistency validation", "products", len(catalog.Products()))
	report, err := o.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("validation: %w", err)
	}
	if report.Passed() {
		r.logger.Info("consistency validation passed", "checks", len(report.Findings))
	} else {
		r.logger.Error("consistency validation failed", "failures", len(report.Failures()))
	}
	return report, nil
}
