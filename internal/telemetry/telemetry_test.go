package telemetry

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(Options{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
}

func TestSetup_RequiresPath(t *testing.T) {
	_, err := Setup(Options{Enabled: true})
	assert.Error(t, err)
}

func TestSetup_WritesSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Setup(Options{Enabled: true, Writer: &buf, BuildID: "abc12345"})
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "level")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"level"`)
	assert.Contains(t, buf.String(), "abc12345")
}

func TestSetup_File(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	path := filepath.Join(t.TempDir(), "execution", TraceFileName)
	shutdown, err := Setup(Options{Enabled: true, Path: path})
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "capability")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "capability")
}
