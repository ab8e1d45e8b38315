package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"
)

// restoreGlobalProvider puts the global tracer provider back after the test.
func restoreGlobalProvider(t *testing.T) {
	t.Helper()
	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
}

func TestInitDisabled(t *testing.T) {
	restoreGlobalProvider(t)

	p, err := Init(context.Background(), Config{}, zaptest.NewLogger(t), "test")
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.Equal(t, otel.GetTracerProvider(), p.TracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInitEnabled(t *testing.T) {
	restoreGlobalProvider(t)

	cfg := Config{Enabled: true, Endpoint: "127.0.0.1:4317", SampleRate: 1}
	p, err := Init(context.Background(), cfg, zaptest.NewLogger(t), "test")
	require.NoError(t, err)
	require.NotNil(t, p.tp)

	_, ok := p.TracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok, "expected the SDK provider")
	assert.Same(t, p.tp, otel.GetTracerProvider())

	// No spans were recorded, so shutdown does not wait on the collector.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, p.Shutdown(ctx))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.ErrorIs(t, Config{SampleRate: 1.5}.Validate(), ErrInvalidSampleRate)
	assert.Error(t, Config{Enabled: true, SampleRate: 1}.Validate())
}

func TestNilProviders(t *testing.T) {
	var p *Providers
	assert.NotNil(t, p.TracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}
