package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	runCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nspmirror",
			Subsystem: "mirror",
			Name:      "runs_total",
			Help:      "Total number of mirror runs, by final state.",
		},
		[]string{"state"},
	)
	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nspmirror",
			Subsystem: "mirror",
			Name:      "run_duration_seconds",
			Help:      "Duration of mirror runs, by final state.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"state"},
	)
	syncCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nspmirror",
			Subsystem: "mirror",
			Name:      "records_synced_total",
			Help:      "Total number of records written to the store, by whether the record was new.",
		},
		[]string{"result"},
	)
)

const instrumentationName = "github.com/quay/nspmirror/mirror"

func defaultTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
