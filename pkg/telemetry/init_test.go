package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_StdoutExporter(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{
		ServiceName:    "cloudwaste-test",
		ServiceVersion: "0.0.1",
		Stdout:         &buf,
		Sync:           true,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("cloudwaste/test").Start(context.Background(), "Scan.Run")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name": "Scan.Run"`)
	assert.Contains(t, buf.String(), "cloudwaste-test")
}
