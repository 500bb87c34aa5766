package scanning

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "expense_tracker"

// Scan outcomes used as the "outcome" label
const (
	outcomeOK          = "ok"
	outcomeTransport   = "transport"
	outcomeNoText      = "no_text"
	outcomeUnparseable = "unparseable"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "scans_total",
		Help:      "Receipt scans by provider and outcome.",
	}, []string{"provider", "outcome"})

	scanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "scan_duration_seconds",
		Help:      "Time spent in the extraction request.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
	}, []string{"provider"})

	fieldFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "field_fallbacks_total",
		Help:      "Extracted fields replaced by their default value.",
	}, []string{"field"})
)

func scanOutcome(err error) string {
	if err == nil {
		return outcomeOK
	}
	var parseErr *UnparseableResponseError
	switch {
	case errors.As(err, &parseErr):
		return outcomeUnparseable
	case errors.Is(err, ErrNoTextResponse):
		return outcomeNoText
	default:
		return outcomeTransport
	}
}
