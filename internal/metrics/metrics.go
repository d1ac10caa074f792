// Package metrics exposes Prometheus collectors for the decomposition
// pipeline: fit throughput, latency, and the recovery flags that matter
// operationally (iteration-cap hits, L-curve fallbacks).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeOK labels spectra that fitted cleanly.
	OutcomeOK = "ok"
	// OutcomeError labels spectra rejected for malformed input.
	OutcomeError = "error"
)

var (
	fitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "debye",
			Name:      "fits_total",
			Help:      "Fit jobs processed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	fitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "debye",
			Name:      "fit_seconds",
			Help:      "Wall time of one fit job including the lambda scan.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	nonConvergedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "debye",
			Name:      "fits_nonconverged_total",
			Help:      "Fits that hit the solver iteration cap.",
		},
	)

	lcurveFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "debye",
			Name:      "lcurve_fallback_total",
			Help:      "Fits where no L-curve corner was found and the midpoint heuristic chose lambda.",
		},
	)
)

// Register attaches the collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		fitsTotal,
		fitSeconds,
		nonConvergedTotal,
		lcurveFallbackTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveFit records one completed (or rejected) fit job. A coupled
// sequence counts as a single job; converged and cornerFound report the
// conjunction over its spectra.
func ObserveFit(duration time.Duration, outcome string, converged, cornerFound bool) {
	if outcome != OutcomeError {
		outcome = OutcomeOK
	}
	fitsTotal.WithLabelValues(outcome).Inc()
	fitSeconds.Observe(duration.Seconds())
	if outcome == OutcomeError {
		return
	}
	if !converged {
		nonConvergedTotal.Inc()
	}
	if !cornerFound {
		lcurveFallbackTotal.Inc()
	}
}
