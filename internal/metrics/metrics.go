// Package metrics holds the Prometheus collectors of the authorizer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	HandoffMessages *prometheus.CounterVec
	ActiveFlows     prometheus.Gauge
}

// New creates the collectors and registers them on reg (or the default
// registerer if nil).
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauth_flow_transitions_total",
			Help: "Authorization flow state transitions",
		}, []string{"from", "to"}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauth_provider_calls_total",
			Help: "Outbound provider calls by operation and outcome",
		}, []string{"op", "outcome"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oauth_provider_call_duration_seconds",
			Help:    "Latency of outbound provider calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"op"}),
		HandoffMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauth_handoff_messages_total",
			Help: "Redirect callback messages by delivery result",
		}, []string{"result"}),
		ActiveFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oauth_active_flows",
			Help: "Authorization flows currently open",
		}),
	}

	// A second New on the same registerer reuses the collectors registered
	// by the first.
	register := func(c prometheus.Collector) (prometheus.Collector, error) {
		if err := reg.Register(c); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, err
			}
			return are.ExistingCollector, nil
		}
		return c, nil
	}

	var err error
	var c prometheus.Collector
	if c, err = register(m.Transitions); err != nil {
		return nil, err
	}
	m.Transitions = c.(*prometheus.CounterVec)
	if c, err = register(m.ProviderCalls); err != nil {
		return nil, err
	}
	m.ProviderCalls = c.(*prometheus.CounterVec)
	if c, err = register(m.ProviderLatency); err != nil {
		return nil, err
	}
	m.ProviderLatency = c.(*prometheus.HistogramVec)
	if c, err = register(m.HandoffMessages); err != nil {
		return nil, err
	}
	m.HandoffMessages = c.(*prometheus.CounterVec)
	if c, err = register(m.ActiveFlows); err != nil {
		return nil, err
	}
	m.ActiveFlows = c.(prometheus.Gauge)
	return m, nil
}

// Transition records a state change.
func (m *Metrics) Transition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

// ProviderCall records one outbound call.
func (m *Metrics) ProviderCall(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(op, outcome).Inc()
	m.ProviderLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Handoff records what happened to a callback message.
func (m *Metrics) Handoff(result string) {
	if m == nil {
		return
	}
	m.HandoffMessages.WithLabelValues(result).Inc()
}

// FlowOpened and FlowClosed track live flows.
func (m *Metrics) FlowOpened() {
	if m == nil {
		return
	}
	m.ActiveFlows.Inc()
}

func (m *Metrics) FlowClosed() {
	if m == nil {
		return
	}
	m.ActiveFlows.Dec()
}
