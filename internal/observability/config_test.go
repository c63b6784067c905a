package observability

import (
	"testing"

	"github.com/smallbiznis/signflow/internal/config"
	"github.com/stretchr/testify/assert"
)

func baseConfig() config.Config {
	return config.Config{
		AppName:      "signflow-api",
		AppVersion:   "1.4.0",
		Environment:  "production",
		OTLPEndpoint: "collector:4317",
		Features:     config.FeatureConfig{Tracing: true, Metrics: false},
	}
}

func TestLoadConfigFallsBackToServiceConfig(t *testing.T) {
	cfg := LoadConfig(baseConfig())

	assert.Equal(t, "signflow-api", cfg.ServiceName)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "1.4.0", cfg.Version)
	assert.Equal(t, "collector:4317", cfg.OtelExporterEndpoint)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.True(t, cfg.TracingEnabled)
	assert.False(t, cfg.MetricsEnabled)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigPrefersOtelEnvironment(t *testing.T) {
	t.Setenv("DEPLOYMENT_ENV", "local")
	t.Setenv("LOG_LEVEL", " WARN ")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP/protobuf")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.5")

	cfg := LoadConfig(baseConfig())

	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "http/protobuf", cfg.OtelExporterProtocol)
	assert.Equal(t, 0.5, cfg.OtelSamplingRatio)
	assert.True(t, cfg.Debug())
}

func TestOtelDisabledTurnsOffTelemetry(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")

	cfg := LoadConfig(baseConfig())

	assert.False(t, cfg.OtelEnabled)
	assert.False(t, cfg.TracingEnabled)
	assert.False(t, cfg.MetricsEnabled)
}
