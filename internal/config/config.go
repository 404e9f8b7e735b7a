// Package config provides configuration structures for the flash-sale load
// generator and its black-box consistency validator.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Errors returned by the config package.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("config: invalid configuration")
	// ErrConfigNotFound is returned when the config file is not found.
	ErrConfigNotFound = errors.New("config: configuration file not found")
)

// Config is the root configuration structure for the load generator.
type Config struct {
	// Name is a descriptive name for this run.
	Name string `yaml:"name" json:"name"`

	// Target is the order service under test.
	Target TargetConfig `yaml:"target" json:"target"`

	// Products is the product catalog the run assumes as ground truth.
	// Initial stock values must match the service's seeded state.
	Products []ProductConfig `yaml:"products" json:"products"`

	// Weights biases order placement toward specific products.
	// Every referenced product must exist in Products.
	Weights []WeightConfig `yaml:"weights" json:"weights"`

	// Phases is the load timeline. Phases may overlap in wall-clock time.
	// The consistency oracle always runs after every phase has drained; it
	// is not a phase itself.
	Phases []PhaseConfig `yaml:"phases" json:"phases"`

	// ListingCap is the maximum number of orders the service returns from
	// its list endpoint. At or above this count the oracle treats a
	// product's order view as incomplete.
	// Default: 50
	ListingCap int `yaml:"listingCap,omitempty" json:"listingCap,omitempty"`

	// CancelProbeSamples is how many already-cancelled orders per product
	// the oracle re-cancels to probe cancel idempotency.
	// Default: 3
	CancelProbeSamples int `yaml:"cancelProbeSamples,omitempty" json:"cancelProbeSamples,omitempty"`

	// Pacing configures an optional global request rate cap shared by all
	// actors. Zero QPS disables the cap.
	Pacing PacingConfig `yaml:"pacing,omitempty" json:"pacing,omitempty"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// TargetConfig describes the order service under test.
type TargetConfig struct {
	// BaseURL is the base URL of the order service (e.g. "http://localhost:9999").
	BaseURL string `yaml:"baseURL" json:"baseURL"`

	// Timeout is the per-request timeout.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Headers are additional headers sent with every request.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// ProductConfig declares one product known to be seeded in the service.
type ProductConfig struct {
	// ID is the product identifier.
	ID int64 `yaml:"id" json:"id"`

	// Name is the display name, used only in diagnostics.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// InitialStock is the stock level before any load runs. This is the
	// oracle's ground truth for the conservation check.
	InitialStock int64 `yaml:"initialStock" json:"initialStock"`
}

// WeightConfig assigns a sampling weight to a product.
type WeightConfig struct {
	// ProductID references a product in Products.
	ProductID int64 `yaml:"productId" json:"productId"`

	// Weight is the relative sampling weight. Must be positive.
	Weight int `yaml:"weight" json:"weight"`
}

// StageConfig is one segment of a phase's actor-count profile. The actor
// count ramps linearly from the previous target to Target over Duration.
type StageConfig struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
	Target   int           `yaml:"target" json:"target"`
}

// PhaseConfig declares one load phase.
type PhaseConfig struct {
	// Name identifies the phase in logs and metric labels.
	Name string `yaml:"name" json:"name"`

	// Behavior names the actor behavior this phase executes. One of:
	// "warmup", "flash_sale", "idempotency_retry", "cancel_wave",
	// "order_probe".
	Behavior string `yaml:"behavior" json:"behavior"`

	// StartAfter is the phase's start offset relative to run start.
	StartAfter time.Duration `yaml:"startAfter,omitempty" json:"startAfter,omitempty"`

	// StartTarget is the actor count at phase start, before the first
	// stage begins ramping.
	StartTarget int `yaml:"startTarget,omitempty" json:"startTarget,omitempty"`

	// Stages is the actor-count profile over time.
	Stages []StageConfig `yaml:"stages" json:"stages"`

	// GracefulStop is how long in-flight activations may run after the
	// last stage ends before being cancelled.
	// Default: 5s
	GracefulStop time.Duration `yaml:"gracefulStop,omitempty" json:"gracefulStop,omitempty"`

	// PauseMin and PauseMax bound the randomized pause between two
	// activations of the same actor.
	PauseMin time.Duration `yaml:"pauseMin,omitempty" json:"pauseMin,omitempty"`
	PauseMax time.Duration `yaml:"pauseMax,omitempty" json:"pauseMax,omitempty"`
}

// Duration returns the total wall-clock length of the phase's stages.
func (p *PhaseConfig) Duration() time.Duration {
	var d time.Duration
	for _, s := range p.Stages {
		d += s.Duration
	}
	return d
}

// End returns the offset from run start at which the phase's grace period
// expires.
func (p *PhaseConfig) End() time.Duration {
	return p.StartAfter + p.Duration() + p.GracefulStop
}

// PacingConfig configures the optional global request rate cap.
type PacingConfig struct {
	// QPS is the shared token-bucket refill rate. Zero disables the cap.
	QPS float64 `yaml:"qps,omitempty" json:"qps,omitempty"`

	// Burst is the token-bucket burst size.
	// Default: 10
	Burst int `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// MetricsConfig configures metrics exposure.
type MetricsConfig struct {
	// PrometheusAddr is the listen address for the /metrics endpoint
	// (e.g. ":9090"). Empty disables the listener.
	PrometheusAddr string `yaml:"prometheusAddr,omitempty" json:"prometheusAddr,omitempty"`
}

// Default returns the canonical flash-sale run: five seeded products with
// sampling weight biased toward the low-stock ones, and the standard
// warmup / burst / retry / cancel-wave / post-cancel / probe timeline.
func Default() *Config {
	return &Config{
		Name: "flash-sale",
		Target: TargetConfig{
			BaseURL: "http://localhost:9999",
			Timeout: 10 * time.Second,
		},
		Products: []ProductConfig{
			{ID: 1, Name: "Mechanical Keyboard Ultra", InitialStock: 100},
			{ID: 2, Name: "Wireless Mouse Pro", InitialStock: 50},
			{ID: 3, Name: "USB-C Hub 7-in-1", InitialStock: 200},
			{ID: 4, Name: "4K Webcam Stream", InitialStock: 10},
			{ID: 5, Name: "Noise-Cancel Headphones", InitialStock: 30},
		},
		Weights: []WeightConfig{
			{ProductID: 1, Weight: 10},
			{ProductID: 2, Weight: 10},
			{ProductID: 3, Weight: 10},
			{ProductID: 4, Weight: 35},
			{ProductID: 5, Weight: 35},
		},
		Phases: []PhaseConfig{
			{
				Name:        "warmup",
				Behavior:    "warmup",
				StartTarget: 1,
				Stages:      []StageConfig{{Duration: 10 * time.Second, Target: 1}},
				PauseMin:    2 * time.Second,
				PauseMax:    2 * time.Second,
			},
			{
				Name:       "flash_sale",
				Behavior:   "flash_sale",
				StartAfter: 15 * time.Second,
				Stages: []StageConfig{
					{Duration: 5 * time.Second, Target: 50},
					{Duration: 45 * time.Second, Target: 50},
					{Duration: 10 * time.Second, Target: 0},
				},
				PauseMax: 100 * time.Millisecond,
			},
			{
				Name:       "idempotency_retries",
				Behavior:   "idempotency_retry",
				StartAfter: 15 * time.Second,
				Stages: []StageConfig{
					{Duration: time.Second, Target: 10},
					{Duration: 54 * time.Second, Target: 10},
					{Duration: time.Second, Target: 0},
				},
				PauseMin: 200 * time.Millisecond,
				PauseMax: 500 * time.Millisecond,
			},
			{
				Name:       "cancel_wave",
				Behavior:   "cancel_wave",
				StartAfter: 85 * time.Second,
				Stages: []StageConfig{
					{Duration: 5 * time.Second, Target: 30},
					{Duration: 20 * time.Second, Target: 30},
					{Duration: 5 * time.Second, Target: 0},
				},
				PauseMax: 300 * time.Millisecond,
			},
			{
				Name:       "post_cancel_orders",
				Behavior:   "flash_sale",
				StartAfter: 88 * time.Second,
				Stages: []StageConfig{
					{Duration: time.Second, Target: 10},
					{Duration: 24 * time.Second, Target: 10},
					{Duration: time.Second, Target: 0},
				},
				PauseMax: 100 * time.Millisecond,
			},
			{
				Name:       "get_order",
				Behavior:   "order_probe",
				StartAfter: 88 * time.Second,
				Stages: []StageConfig{
					{Duration: time.Second, Target: 5},
					{Duration: 24 * time.Second, Target: 5},
					{Duration: time.Second, Target: 0},
				},
				PauseMax: 300 * time.Millisecond,
			},
		},
		ListingCap:         50,
		CancelProbeSamples: 3,
		Pacing:             PacingConfig{Burst: 10},
	}
}

// Load reads and validates a configuration file. Fields left unset in the
// file keep the defaults from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued optional fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Target.Timeout <= 0 {
		c.Target.Timeout = 10 * time.Second
	}
	if c.ListingCap <= 0 {
		c.ListingCap = 50
	}
	if c.CancelProbeSamples <= 0 {
		c.CancelProbeSamples = 3
	}
	if c.Pacing.Burst <= 0 {
		c.Pacing.Burst = 10
	}
	for i := range c.Phases {
		if c.Phases[i].GracefulStop <= 0 {
			c.Phases[i].GracefulStop = 5 * time.Second
		}
	}
}

// knownBehaviors lists the behavior names phases may reference.
var knownBehaviors = map[string]bool{
	"warmup":            true,
	"flash_sale":        true,
	"idempotency_retry": true,
	"cancel_wave":       true,
	"order_probe":       true,
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Target.BaseURL == "" {
		return fmt.Errorf("%w: target.baseURL is required", ErrInvalidConfig)
	}

	if len(c.Products) == 0 {
		return fmt.Errorf("%w: at least one product is required", ErrInvalidConfig)
	}
	productIDs := make(map[int64]bool, len(c.Products))
	for _, p := range c.Products {
		if p.ID <= 0 {
			return fmt.Errorf("%w: product id %d must be positive", ErrInvalidConfig, p.ID)
		}
		if productIDs[p.ID] {
			return fmt.Errorf("%w: duplicate product id %d", ErrInvalidConfig, p.ID)
		}
		if p.InitialStock < 0 {
			return fmt.Errorf("%w: product %d has negative initial stock", ErrInvalidConfig, p.ID)
		}
		productIDs[p.ID] = true
	}

	if len(c.Weights) == 0 {
		return fmt.Errorf("%w: at least one weight entry is required", ErrInvalidConfig)
	}
	for _, w := range c.Weights {
		if w.Weight <= 0 {
			return fmt.Errorf("%w: weight for product %d must be positive", ErrInvalidConfig, w.ProductID)
		}
		if !productIDs[w.ProductID] {
			return fmt.Errorf("%w: weight references unknown product %d", ErrInvalidConfig, w.ProductID)
		}
	}

	if len(c.Phases) == 0 {
		return fmt.Errorf("%w: at least one phase is required", ErrInvalidConfig)
	}
	phaseNames := make(map[string]bool, len(c.Phases))
	for i := range c.Phases {
		p := &c.Phases[i]
		if p.Name == "" {
			return fmt.Errorf("%w: phase %d has no name", ErrInvalidConfig, i)
		}
		if phaseNames[p.Name] {
			return fmt.Errorf("%w: duplicate phase name %q", ErrInvalidConfig, p.Name)
		}
		phaseNames[p.Name] = true
		if !knownBehaviors[p.Behavior] {
			return fmt.Errorf("%w: phase %q has unknown behavior %q", ErrInvalidConfig, p.Name, p.Behavior)
		}
		if len(p.Stages) == 0 {
			return fmt.Errorf("%w: phase %q has no stages", ErrInvalidConfig, p.Name)
		}
		for _, s := range p.Stages {
			if s.Duration <= 0 {
				return fmt.Errorf("%w: phase %q has a stage with non-positive duration", ErrInvalidConfig, p.Name)
			}
			if s.Target < 0 {
				return fmt.Errorf("%w: phase %q has a stage with negative target", ErrInvalidConfig, p.Name)
			}
		}
		if p.StartTarget < 0 {
			return fmt.Errorf("%w: phase %q has negative start target", ErrInvalidConfig, p.Name)
		}
		if p.PauseMin < 0 || p.PauseMax < p.PauseMin {
			return fmt.Errorf("%w: phase %q has invalid pause bounds", ErrInvalidConfig, p.Name)
		}
	}

	if c.Pacing.QPS < 0 {
		return fmt.Errorf("%w: pacing.qps must not be negative", ErrInvalidConfig)
	}

	return nil
}

// TotalDuration returns the offset at which the last phase's grace period
// expires. The consistency oracle may start only after this point.
func (c *Config) TotalDuration() time.Duration {
	var end time.Duration
	for i := range c.Phases {
		if e := c.Phases[i].End(); e > end {
			end = e
		}
	}
	return end
}
