package gridcache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects grid cache metrics. A nil *Metrics records nothing.
type Metrics struct {
	// FeedEvents counts change-feed events by outcome.
	// Labels: grid, result (accepted|buffered|superseded|not_write|not_latest|
	// empty|other_path|other_grid|out_of_bounds|decode_error|coordinate_mismatch)
	FeedEvents *prometheus.CounterVec

	// Writes counts saves by outcome.
	// Labels: grid, outcome (accepted|ignored|rejected)
	Writes *prometheus.CounterVec

	// Cells is the number of written cells held by each cache.
	// Labels: grid
	Cells *prometheus.GaugeVec

	// BootstrapDuration measures bootstrap time in seconds.
	// Labels: grid, status (ready|failed)
	BootstrapDuration *prometheus.HistogramVec
}

// NewMetrics creates the grid cache metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FeedEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wafflegram_feed_events_total",
				Help: "Change-feed events seen by grid caches, by result",
			},
			[]string{"grid", "result"},
		),
		Writes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wafflegram_cell_writes_total",
				Help: "Cell saves submitted by grid caches, by outcome",
			},
			[]string{"grid", "outcome"},
		),
		Cells: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wafflegram_cached_cells",
				Help: "Written cells currently held by a grid cache",
			},
			[]string{"grid"},
		),
		BootstrapDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wafflegram_bootstrap_duration_seconds",
				Help:    "Duration of grid cache bootstraps in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"grid", "status"},
		),
	}
}

func (m *Metrics) feedEvent(grid, result string) {
	if m == nil {
		return
	}
	m.FeedEvents.WithLabelValues(grid, result).Inc()
}

func (m *Metrics) write(grid string, o Outcome) {
	if m == nil {
		return
	}
	m.Writes.WithLabelValues(grid, o.String()).Inc()
}

func (m *Metrics) cells(grid string, n int) {
	if m == nil {
		return
	}
	m.Cells.WithLabelValues(grid).Set(float64(n))
}

func (m *Metrics) bootstrap(grid, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.BootstrapDuration.WithLabelValues(grid, status).Observe(d.Seconds())
}
