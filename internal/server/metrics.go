package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects HTTP server metrics.
type Metrics struct {
	// Requests counts API requests.
	// Labels: route, code
	Requests *prometheus.CounterVec

	// SSEClients is the number of connected event streams.
	// Labels: grid
	SSEClients *prometheus.GaugeVec

	// SSEDropped counts messages skipped for slow stream clients.
	// Labels: grid
	SSEDropped *prometheus.CounterVec

	// Captions counts caption suggestions.
	// Labels: status (ok|error)
	Captions *prometheus.CounterVec
}

// NewMetrics creates the server metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wafflegram_http_requests_total",
				Help: "API requests by route and status code",
			},
			[]string{"route", "code"},
		),
		SSEClients: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wafflegram_sse_clients",
				Help: "Connected event stream clients",
			},
			[]string{"grid"},
		),
		SSEDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wafflegram_sse_dropped_total",
				Help: "Messages skipped because a stream client was too slow",
			},
			[]string{"grid"},
		),
		Captions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wafflegram_caption_suggestions_total",
				Help: "Caption suggestions by status",
			},
			[]string{"status"},
		),
	}
}
