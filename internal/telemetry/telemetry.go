// Package telemetry sets up OpenTelemetry export of traces, metrics and logs.
//
// Exporters are configured through the standard OTEL_EXPORTER_OTLP_*
// environment variables; only the wire protocol is chosen here.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Supported OTLP protocols.
const (
	ProtocolHTTP = "http/protobuf"
	ProtocolGRPC = "grpc"
)

// ErrUnknownProtocol is returned by [Setup] for an unsupported protocol.
var ErrUnknownProtocol = errors.New("telemetry: unknown protocol")

// Config selects what Setup builds.
type Config struct {
	// Protocol is one of the Protocol constants. Empty means ProtocolHTTP.
	Protocol       string
	ServiceName    string
	ServiceVersion string
}

// Telemetry holds the installed providers.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
}

// Setup constructs OTLP exporters and providers and installs them as the
// process-wide defaults.
//
// The caller must call [Telemetry.Shutdown] to flush buffered data.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	var (
		se  sdktrace.SpanExporter
		me  sdkmetric.Exporter
		le  sdklog.Exporter
		err error
	)
	switch cfg.Protocol {
	case "", ProtocolHTTP:
		if se, err = otlptracehttp.New(ctx); err != nil {
			return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
		}
		if me, err = otlpmetrichttp.New(ctx); err != nil {
			return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
		}
		if le, err = otlploghttp.New(ctx); err != nil {
			return nil, fmt.Errorf("telemetry: log exporter: %w", err)
		}
	case ProtocolGRPC:
		if se, err = otlptracegrpc.New(ctx); err != nil {
			return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
		}
		if me, err = otlpmetricgrpc.New(ctx); err != nil {
			return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
		}
		if le, err = otlploggrpc.New(ctx); err != nil {
			return nil, fmt.Errorf("telemetry: log exporter: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, cfg.Protocol)
	}

	res := Resource(cfg)
	t := &Telemetry{
		TracerProvider: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(se),
			sdktrace.WithResource(res),
		),
		MeterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(me)),
			sdkmetric.WithResource(res),
		),
		LoggerProvider: sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(le)),
			sdklog.WithResource(res),
		),
	}
	otel.SetTracerProvider(t.TracerProvider)
	otel.SetMeterProvider(t.MeterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	global.SetLoggerProvider(t.LoggerProvider)
	slog.DebugContext(ctx, "telemetry export enabled", "protocol", cfg.Protocol)
	return t, nil
}

// Resource describes the service to telemetry backends.
func Resource(cfg Config) *resource.Resource {
	name := cfg.ServiceName
	if name == "" {
		name = "nspmirror"
	}
	return resource.NewSchemaless(
		attribute.String("service.name", name),
		attribute.String("service.version", cfg.ServiceVersion),
	)
}

// Handler returns a [slog.Handler] that emits records through the Telemetry's
// LoggerProvider.
func (t *Telemetry) Handler(name string) slog.Handler {
	return otelslog.NewHandler(name, otelslog.WithLoggerProvider(t.LoggerProvider))
}

// Shutdown flushes and stops every provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.TracerProvider.Shutdown(ctx),
		t.MeterProvider.Shutdown(ctx),
		t.LoggerProvider.Shutdown(ctx),
	)
}

// HandleError marks the span as failed if err is not nil, and returns err.
func HandleError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
