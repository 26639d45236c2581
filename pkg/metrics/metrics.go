// Package metrics exposes the bridge's Prometheus metrics. Metrics are
// registered at import time through promauto; Serve publishes them over
// HTTP when the metrics listener is enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/geobridge/geobridge/pkg/logger"
)

var (
	// UnitsProcessed counts completed units of work by outcome status.
	//
	// Example:
	//	metrics.UnitsProcessed.WithLabelValues("succeeded").Inc()
	UnitsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geobridge_units_total",
			Help: "Total number of units of work processed",
		},
		[]string{"status"},
	)

	// RecordsCommitted counts records durably appended to the sink.
	RecordsCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geobridge_records_committed_total",
			Help: "Total number of records committed to the sink",
		},
		[]string{"type"},
	)

	// Faults counts per-unit faults by taxonomy type.
	Faults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geobridge_faults_total",
			Help: "Total number of per-unit faults",
		},
		[]string{"fault_type"},
	)

	// UnitDuration tracks end to end unit latency by outcome status.
	UnitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geobridge_unit_duration_seconds",
			Help:    "Duration of one unit of work",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
		[]string{"status"},
	)

	// CommitDuration tracks single record commit latency per backend.
	CommitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geobridge_commit_duration_seconds",
			Help:    "Duration of one record commit",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"backend"},
	)

	// ProcessorActive is 1 while the processor is in the active state.
	ProcessorActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geobridge_processor_active",
			Help: "Whether the processor is active",
		},
	)
)

// ObserveUnit records the outcome of one unit of work.
func ObserveUnit(status string, records int, typeName string, d time.Duration) {
	UnitsProcessed.WithLabelValues(status).Inc()
	UnitDuration.WithLabelValues(status).Observe(d.Seconds())
	if records > 0 {
		RecordsCommitted.WithLabelValues(typeName).Add(float64(records))
	}
}

// RecordFault counts one fault by taxonomy type.
func RecordFault(faultType string) {
	Faults.WithLabelValues(faultType).Inc()
}

// SetProcessorActive flips the active gauge.
func SetProcessorActive(active bool) {
	if active {
		ProcessorActive.Set(1)
	} else {
		ProcessorActive.Set(0)
	}
}

// Serve exposes /metrics on the listen address. The returned server is
// already serving; the caller shuts it down.
func Serve(listen string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	return srv
}
