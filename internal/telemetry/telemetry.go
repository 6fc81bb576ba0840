// Package telemetry configures OpenTelemetry tracing for the engine.
//
// Spans are exported as JSON lines through the stdout exporter, pointed at
// a file under the artifacts directory. When tracing is disabled the global
// no-op provider stays in place and [Tracer] still returns a usable tracer.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for all engine spans.
const TracerName = "github.com/Iron-Ham/issueforge"

// TraceFileName is the default span file under <artifacts>/execution.
const TraceFileName = "traces.jsonl"

// Options controls tracer setup.
type Options struct {
	// Enabled turns span export on.
	Enabled bool
	// Path is the span output file. Ignored when Writer is set.
	Path string
	// Writer overrides Path, mainly for tests.
	Writer io.Writer
	// BuildID is attached to the resource.
	BuildID string
	// Version is the binary version attached to the resource.
	Version string
}

// ShutdownFunc flushes and releases tracing resources.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup installs a global TracerProvider per opts. The returned shutdown
// must be called before exit to flush pending spans.
func Setup(opts Options) (ShutdownFunc, error) {
	if !opts.Enabled {
		return noopShutdown, nil
	}

	w := opts.Writer
	var file *os.File
	if w == nil {
		if opts.Path == "" {
			return nil, fmt.Errorf("trace output path is required")
		}
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create trace directory: %w", err)
		}
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		file = f
		w = f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		if file != nil {
			_ = file.Close()
		}
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", "issueforge"),
		attribute.String("service.version", opts.Version),
		attribute.String("issueforge.build_id", opts.BuildID),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if file != nil {
			if cerr := file.Close(); err == nil {
				err = cerr
			}
		}
		return err
	}, nil
}

// Tracer returns the engine tracer from the current global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
