package nsp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	pageCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nspmirror",
			Subsystem: "feed",
			Name:      "pages_total",
			Help:      "Total number of advisory pages requested, by outcome.",
		},
		[]string{"result"},
	)
	pageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nspmirror",
			Subsystem: "feed",
			Name:      "page_duration_seconds",
			Help:      "Duration of advisory page requests, by outcome.",
		},
		[]string{"result"},
	)
	advisoryCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nspmirror",
			Subsystem: "feed",
			Name:      "advisories_total",
			Help:      "Total number of advisories received.",
		},
	)
)

const instrumentationName = "github.com/quay/nspmirror/nsp"

func defaultTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
