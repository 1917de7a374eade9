// Package metrics exposes Prometheus metrics for the gateway client and supervised services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	GatewayRequestsTotal   *prometheus.CounterVec
	GatewayRequestDuration *prometheus.HistogramVec

	ServiceUp    *prometheus.GaugeVec
	ServiceState *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		GatewayRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "companion_gateway_requests_total",
				Help: "Total number of requests sent to the API gateway",
			},
			[]string{"endpoint", "outcome"},
		),
		GatewayRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "companion_gateway_request_duration_seconds",
				Help:    "Duration of API gateway requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		ServiceUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "companion_service_up",
				Help: "1 when the last health check of the service succeeded",
			},
			[]string{"service"},
		),
		ServiceState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "companion_service_state",
				Help: "Supervisor state of the service (0 not started, 1 starting, 2 ready, 3 failed)",
			},
			[]string{"service"},
		),
	}
}

// ObserveGateway records one gateway call. Safe on a nil receiver.
func (m *Metrics) ObserveGateway(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.GatewayRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// SetServiceUp records a health check outcome. Safe on a nil receiver.
func (m *Metrics) SetServiceUp(service string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.ServiceUp.WithLabelValues(service).Set(v)
}

// SetServiceState records a supervisor transition. Safe on a nil receiver.
func (m *Metrics) SetServiceState(service string, state int) {
	if m == nil {
		return
	}
	m.ServiceState.WithLabelValues(service).Set(float64(state))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
