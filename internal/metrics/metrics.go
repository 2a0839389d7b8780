// Package metrics registers the gateway's Prometheus collectors and serves
// them via promhttp, alongside the default Go process collectors under a
// whatsapp_api_ namespace.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the process-wide metric set exposed at /metrics.
type Registry struct {
	SessionsActive   prometheus.Gauge
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	Errors           *prometheus.CounterVec
	AILatencySeconds *prometheus.HistogramVec
	registry         *prometheus.Registry
}

// New builds and registers every whatsapp_* collector named in the
// external interface, plus the default process/Go collectors registered
// under a whatsapp_api_ prefix.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "whatsapp_sessions_active",
			Help: "Number of live sessions currently connected.",
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsapp_messages_sent_total",
			Help: "Total messages sent to the chat network.",
		}, []string{"agentId"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsapp_messages_received_total",
			Help: "Total inbound messages accepted for dispatch.",
		}, []string{"agentId"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsapp_errors_total",
			Help: "Total errors raised by code.",
		}, []string{"agentId", "code"}),
		AILatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whatsapp_ai_latency_seconds",
			Help:    "AI backend call latency in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"agentId"}),
	}

	reg.MustRegister(r.SessionsActive, r.MessagesSent, r.MessagesReceived, r.Errors, r.AILatencySeconds)

	procCollectors := prometheus.WrapRegistererWithPrefix("whatsapp_api_", reg)
	procCollectors.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	procCollectors.MustRegister(collectors.NewGoCollector())

	return r
}

// Handler returns the HTTP handler serving this registry's text exposition.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
