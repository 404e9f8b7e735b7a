// Package metrics provides metrics collection and reporting for the load
// generator. Counters mirror the run's business events; request totals and
// latency are labeled by phase so infrastructure failure rates can be
// separated from expected business rejections.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricOrdersCreated            = "flashsale_orders_created_total"
	MetricStockExhausted           = "flashsale_stock_exhausted_total"
	MetricOrdersCancelled          = "flashsale_orders_cancelled_total"
	MetricCancelAlreadyCancelled   = "flashsale_cancel_already_cancelled_total"
	MetricIdempotentReplaysCorrect = "flashsale_idempotent_replays_correct_total"
	MetricIdempotencyViolations    = "flashsale_idempotency_violations_total"
	MetricGetOrderSuccess          = "flashsale_get_order_success_total"
	MetricRequestsTotal            = "flashsale_requests_total"
	MetricRequestDuration          = "flashsale_request_duration_seconds"
	MetricValidationPassed         = "flashsale_validation_passed"
)

// Request outcome label values.
const (
	OutcomeOK       = "ok"       // 2xx
	OutcomeBusiness = "business" // expected 4xx (404/409/422)
	OutcomeInfra    = "infra"    // transport error or 5xx
)

// Registry owns the run's Prometheus metrics.
type Registry struct {
	reg *prometheus.Registry

	ordersCreated            prometheus.Counter
	stockExhausted           prometheus.Counter
	ordersCancelled          prometheus.Counter
	cancelAlreadyCancelled   prometheus.Counter
	idempotentReplaysCorrect prometheus.Counter
	idempotencyViolations    prometheus.Counter
	getOrderSuccess          prometheus.Counter

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.SummaryVec

	validationPassed prometheus.Gauge
}

// New creates a registry with all run metrics registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		reg.MustRegister(c)
		return c
	}

	r := &Registry{
		reg:                      reg,
		ordersCreated:            counter(MetricOrdersCreated, "Orders newly created (201 responses)."),
		stockExhausted:           counter(MetricStockExhausted, "Order placements rejected for exhausted stock (409 responses)."),
		ordersCancelled:          counter(MetricOrdersCancelled, "Orders successfully cancelled."),
		cancelAlreadyCancelled:   counter(MetricCancelAlreadyCancelled, "Cancel attempts on already-cancelled orders (409 responses)."),
		idempotentReplaysCorrect: counter(MetricIdempotentReplaysCorrect, "Idempotent replays that returned the original order."),
		idempotencyViolations:    counter(MetricIdempotencyViolations, "Replays that deviated from the original outcome."),
		getOrderSuccess:          counter(MetricGetOrderSuccess, "Order detail reads with every required field present."),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRequestsTotal,
			Help: "Requests issued, by phase and outcome class.",
		}, []string{"phase", "outcome"}),
		requestDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       MetricRequestDuration,
			Help:       "Request latency by phase.",
			Objectives: map[float64]float64{0.5: 0.05, 0.95: 0.01, 0.99: 0.001},
		}, []string{"phase"}),
		validationPassed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricValidationPassed,
			Help: "1 when every consistency check passed, 0 otherwise.",
		}),
	}
	reg.MustRegister(r.requestsTotal, r.requestDuration, r.validationPassed)
	return r
}

// Registry exposes the underlying Prometheus registry for the exporter and
// the end-of-run summary.
func (r *Registry) Registry() *prometheus.Registry {
	return r.reg
}

// AddOrderCreated records a newly created order.
func (r *Registry) AddOrderCreated() { r.ordersCreated.Inc() }

// AddStockExhausted records a stock-exhausted rejection.
func (r *Registry) AddStockExhausted() { r.stockExhausted.Inc() }

// AddOrderCancelled records a successful cancellation.
func (r *Registry) AddOrderCancelled() { r.ordersCancelled.Inc() }

// AddCancelAlreadyCancelled records a cancel attempt that hit an
// already-cancelled order.
func (r *Registry) AddCancelAlreadyCancelled() { r.cancelAlreadyCancelled.Inc() }

// AddIdempotentReplayCorrect records a replay that correctly reproduced
// the original outcome.
func (r *Registry) AddIdempotentReplayCorrect() { r.idempotentReplaysCorrect.Inc() }

// AddIdempotencyViolation records a replay that deviated from the original
// outcome. Any count above zero means the service broke its idempotency
// guarantee.
func (r *Registry) AddIdempotencyViolation() { r.idempotencyViolations.Inc() }

// AddGetOrderSuccess records a fully populated order detail read.
func (r *Registry) AddGetOrderSuccess() { r.getOrderSuccess.Inc() }

// SetValidationPassed records the oracle's aggregate verdict.
func (r *Registry) SetValidationPassed(passed bool) {
	if passed {
		r.validationPassed.Set(1)
	} else {
		r.validationPassed.Set(0)
	}
}

// ObserveRequest records one request's outcome and latency under its
// phase label.
func (r *Registry) ObserveRequest(phase string, statusCode int, transportErr bool, d time.Duration) {
	outcome := OutcomeOK
	switch {
	case transportErr || statusCode >= 500:
		outcome = OutcomeInfra
	case statusCode >= 400:
		outcome = OutcomeBusiness
	}
	r.requestsTotal.WithLabelValues(phase, outcome).Inc()
	r.requestDuration.WithLabelValues(phase).Observe(d.Seconds())
}
