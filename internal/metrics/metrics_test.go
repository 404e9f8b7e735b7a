package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	r := New()

	r.AddOrderCreated()
	r.AddOrderCreated()
	r.AddStockExhausted()
	r.AddIdempotentReplayCorrect()
	r.AddIdempotencyViolation()
	r.AddGetOrderSuccess()
	r.AddOrderCancelled()
	r.AddCancelAlreadyCancelled()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ordersCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stockExhausted))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.idempotentReplaysCorrect))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.idempotencyViolations))
}

func TestObserveRequestOutcomes(t *testing.T) {
	r := New()

	r.ObserveRequest("flash_sale", 201, false, 10*time.Millisecond)
	r.ObserveRequest("flash_sale", 409, false, 5*time.Millisecond)
	r.ObserveRequest("flash_sale", 500, false, 5*time.Millisecond)
	r.ObserveRequest("flash_sale", 0, true, time.Millisecond)
	r.ObserveRequest("warmup", 200, false, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.requestsTotal.WithLabelValues("flash_sale", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.requestsTotal.WithLabelValues("flash_sale", OutcomeBusiness)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.requestsTotal.WithLabelValues("flash_sale", OutcomeInfra)))
}

func TestCollectSummary(t *testing.T) {
	r := New()
	r.AddOrderCreated()
	r.AddStockExhausted()
	r.SetValidationPassed(true)
	r.ObserveRequest("flash_sale", 201, false, 10*time.Millisecond)
	r.ObserveRequest("flash_sale", 409, false, 20*time.Millisecond)
	r.ObserveRequest("flash_sale", 0, true, time.Millisecond)

	s, err := r.Collect()
	require.NoError(t, err)

	assert.Equal(t, 1.0, s.Counters[MetricOrdersCreated])
	assert.Equal(t, 1.0, s.Counters[MetricStockExhausted])
	assert.Equal(t, 1.0, s.Counters[MetricValidationPassed])

	require.Len(t, s.Phases, 1)
	ps := s.Phases[0]
	assert.Equal(t, "flash_sale", ps.Phase)
	assert.Equal(t, int64(3), ps.Total())
	assert.Equal(t, int64(1), ps.Infra)
	assert.InDelta(t, 1.0/3.0, ps.InfraRate(), 1e-9)

	text := s.String()
	assert.Contains(t, text, MetricOrdersCreated)
	assert.Contains(t, text, "validation")
	assert.Contains(t, text, "PASS")
	assert.Contains(t, text, "flash_sale")
}

func TestSetValidationPassedFalse(t *testing.T) {
	r := New()
	r.SetValidationPassed(false)

	s, err := r.Collect()
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Counters[MetricValidationPassed])
	assert.Contains(t, s.String(), "FAIL")
}

func TestExporterServesMetrics(t *testing.T) {
	r := New()
	r.AddOrderCreated()

	e := NewExporter(r)
	require.NoError(t, e.Start("127.0.0.1:0"))
	defer e.Stop(context.Background())

	resp, err := http.Get("http://" + e.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), MetricOrdersCreated))
}
