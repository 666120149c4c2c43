package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

func TestSetupTracing_DisabledWithoutEndpoint(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := SetupTracing(context.Background(), TracingConfig{ServiceName: "orderengine"}, nil)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	require.Equal(t, before, otel.GetTracerProvider(), "provider must stay untouched")
	require.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestNewResource_CarriesServiceIdentity(t *testing.T) {
	res, err := newResource(TracingConfig{ServiceName: "orderengine", ServiceVersion: "1.2.3"})
	require.NoError(t, err)

	var name, version string
	for _, attr := range res.Attributes() {
		switch attr.Key {
		case semconv.ServiceNameKey:
			name = attr.Value.AsString()
		case semconv.ServiceVersionKey:
			version = attr.Value.AsString()
		}
	}
	require.Equal(t, "orderengine", name)
	require.Equal(t, "1.2.3", version)
}

func TestSampler(t *testing.T) {
	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
