package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Main runs the tests in "m", exiting the process with a non-zero code on
// failure.
//
// Passing "-app-trace=path" appends the traces emitted through the global
// TracerProvider to "path" in OTel JSON format.
//
//	func TestMain(m *testing.M) {
//		test.Main(m)
//	}
func Main(m *testing.M) {
	var s setup
	flag.Func("app-trace", "path to write application traces to (otel JSON format)", s.open)
	flag.Parse()
	if err := s.start(); err != nil {
		panic(err)
	}
	code := m.Run()
	if err := s.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error while cleaning up: %v\n", err)
		code++
	}
	os.Exit(code)
}

type setup struct {
	out *os.File
	tp  *trace.TracerProvider
}

func (s *setup) open(path string) error {
	var prev error
	if s.out != nil {
		prev = s.out.Close()
		s.out = nil
	}
	if path == "" {
		return prev
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	s.out = f
	return errors.Join(prev, err)
}

func (s *setup) start() error {
	if s.out == nil {
		return nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(s.out))
	if err != nil {
		return fmt.Errorf("test: creating trace exporter: %w", err)
	}
	r, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("test.start", time.Now().Format(time.RFC3339))))
	if err != nil {
		return fmt.Errorf("test: creating resource: %w", err)
	}
	s.tp = trace.NewTracerProvider(
		trace.WithSampler(trace.AlwaysSample()),
		trace.WithResource(r),
		trace.WithBatcher(exp),
	)
	otel.SetTracerProvider(s.tp)
	return nil
}

// Close flushes and closes the trace output, if any.
func (s *setup) Close() error {
	if s.out == nil {
		return nil
	}
	ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	return errors.Join(s.tp.Shutdown(ctx), s.out.Close())
}
