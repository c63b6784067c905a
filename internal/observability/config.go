package observability

import (
	"strings"

	"github.com/smallbiznis/signflow/internal/config"
	"github.com/spf13/viper"
)

// Config is the telemetry view of the service configuration. Standard OTEL_*
// variables win over the values in config.Config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	TracingEnabled bool
	MetricsEnabled bool
}

func LoadConfig(cfg config.Config) Config {
	return loadConfig(cfg, viper.New())
}

func loadConfig(cfg config.Config, v *viper.Viper) Config {
	v.SetDefault("service.name", "signflow")
	v.SetDefault("service.environment", cfg.Environment)
	v.SetDefault("service.version", cfg.AppVersion)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("otel.enabled", true)
	v.SetDefault("otel.endpoint", cfg.OTLPEndpoint)
	v.SetDefault("otel.protocol", "grpc")
	v.SetDefault("otel.sampling_ratio", 0.1)

	_ = v.BindEnv("service.environment", "DEPLOYMENT_ENV")
	_ = v.BindEnv("service.version", "SERVICE_VERSION")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "LOG_FORMAT")
	_ = v.BindEnv("otel.enabled", "OTEL_ENABLED")
	_ = v.BindEnv("otel.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	// The traces-specific protocol takes precedence over the generic one.
	_ = v.BindEnv("otel.protocol", "OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "OTEL_EXPORTER_OTLP_PROTOCOL")
	_ = v.BindEnv("otel.sampling_ratio", "OTEL_SAMPLING_RATIO")

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = v.GetString("service.name")
	}
	enabled := v.GetBool("otel.enabled")

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(v.GetString("service.environment")),
		Version:              strings.TrimSpace(v.GetString("service.version")),
		LogLevel:             normalize(v.GetString("log.level")),
		LogFormat:            normalize(v.GetString("log.format")),
		OtelEnabled:          enabled,
		OtelExporterEndpoint: strings.TrimSpace(v.GetString("otel.endpoint")),
		OtelExporterProtocol: normalize(v.GetString("otel.protocol")),
		OtelSamplingRatio:    v.GetFloat64("otel.sampling_ratio"),
		TracingEnabled:       enabled && cfg.Features.Tracing,
		MetricsEnabled:       enabled && cfg.Features.Metrics,
	}
}

// Debug turns on verbose logs and stack traces.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch normalize(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
