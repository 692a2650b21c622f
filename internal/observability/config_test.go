package observability

import (
	"testing"

	"github.com/smallbiznis/captiva/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigNormalizesTelemetry(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppVersion:  "1.2.3",
		Environment: "production",
		Telemetry: config.TelemetryConfig{
			LogLevel:      "info",
			OtelEnabled:   true,
			OTLPEndpoint:  "collector:4318",
			OTLPProtocol:  "http",
			SamplingRatio: 4,
		},
	})

	assert.Equal(t, "captiva", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigWithoutEndpointDisablesExport(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:     "captiva-scheduler",
		Environment: "local",
		Telemetry:   config.TelemetryConfig{OtelEnabled: true, OTLPProtocol: "udp"},
	})

	assert.Equal(t, "captiva-scheduler", cfg.ServiceName)
	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.True(t, cfg.Debug())
}
