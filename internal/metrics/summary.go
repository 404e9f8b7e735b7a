package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// PhaseStats summarizes request traffic for one phase.
type PhaseStats struct {
	Phase    string
	OK       int64
	Business int64
	Infra    int64
	P50      time.Duration
	P95      time.Duration
	P99      time.Duration
}

// Total returns the phase's request count across all outcomes.
func (p PhaseStats) Total() int64 {
	return p.OK + p.Business + p.Infra
}

// InfraRate returns the fraction of requests that failed at the
// infrastructure level. Business rejections are excluded so they cannot
// mask real faults.
func (p PhaseStats) InfraRate() float64 {
	if t := p.Total(); t > 0 {
		return float64(p.Infra) / float64(t)
	}
	return 0
}

// Summary is the end-of-run view of all collected metrics, read back from
// the registry.
type Summary struct {
	Counters map[string]float64
	Phases   []PhaseStats
}

// Collect gathers the registry into a Summary.
func (r *Registry) Collect() (*Summary, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	s := &Summary{Counters: make(map[string]float64)}
	phaseStats := make(map[string]*PhaseStats)

	phase := func(name string) *PhaseStats {
		ps, ok := phaseStats[name]
		if !ok {
			ps = &PhaseStats{Phase: name}
			phaseStats[name] = ps
		}
		return ps
	}

	for _, fam := range families {
		switch fam.GetName() {
		case MetricRequestsTotal:
			for _, m := range fam.GetMetric() {
				labels := labelMap(m)
				ps := phase(labels["phase"])
				count := int64(m.GetCounter().GetValue())
				switch labels["outcome"] {
				case OutcomeOK:
					ps.OK += count
				case OutcomeBusiness:
					ps.Business += count
				case OutcomeInfra:
					ps.Infra += count
				}
			}
		case MetricRequestDuration:
			for _, m := range fam.GetMetric() {
				ps := phase(labelMap(m)["phase"])
				for _, q := range m.GetSummary().GetQuantile() {
					d := time.Duration(q.GetValue() * float64(time.Second))
					switch q.GetQuantile() {
					case 0.5:
						ps.P50 = d
					case 0.95:
						ps.P95 = d
					case 0.99:
						ps.P99 = d
					}
				}
			}
		default:
			for _, m := range fam.GetMetric() {
				switch {
				case m.GetCounter() != nil:
					s.Counters[fam.GetName()] += m.GetCounter().GetValue()
				case m.GetGauge() != nil:
					s.Counters[fam.GetName()] = m.GetGauge().GetValue()
				}
			}
		}
	}

	for _, ps := range phaseStats {
		s.Phases = append(s.Phases, *ps)
	}
	sort.Slice(s.Phases, func(i, j int) bool { return s.Phases[i].Phase < s.Phases[j].Phase })
	return s, nil
}

func labelMap(m *dto.Metric) map[string]string {
	labels := make(map[string]string, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	return labels
}

// counterOrder fixes the rendering order of the business counters.
var counterOrder = []string{
	MetricOrdersCreated,
	MetricStockExhausted,
	MetricOrdersCancelled,
	MetricCancelAlreadyCancelled,
	MetricIdempotentReplaysCorrect,
	MetricIdempotencyViolations,
	MetricGetOrderSuccess,
}

// String renders the summary as the end-of-run console report.
func (s *Summary) String() string {
	var b strings.Builder
	b.WriteString("run summary\n")
	for _, name := range counterOrder {
		fmt.Fprintf(&b, "  %-45s %.0f\n", name, s.Counters[name])
	}
	if v, ok := s.Counters[MetricValidationPassed]; ok {
		verdict := "FAIL"
		if v == 1 {
			verdict = "PASS"
		}
		fmt.Fprintf(&b, "  %-45s %s\n", "validation", verdict)
	}
	if len(s.Phases) > 0 {
		b.WriteString("per-phase requests\n")
		for _, ps := range s.Phases {
			fmt.Fprintf(&b, "  %-20s total=%-6d ok=%-6d business=%-6d infra=%-4d infra_rate=%.4f p99=%s\n",
				ps.Phase, ps.Total(), ps.OK, ps.Business, ps.Infra, ps.InfraRate(), ps.P99)
		}
	}
	return b.String()
}
