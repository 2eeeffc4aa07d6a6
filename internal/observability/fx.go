package observability

import (
	"github.com/manyfutures/foresight/internal/config"
	"github.com/manyfutures/foresight/internal/observability/logger"
	"github.com/manyfutures/foresight/internal/observability/metrics"
	"github.com/manyfutures/foresight/internal/observability/tracing"
	"go.uber.org/fx"
)

func provideLoggerConfig(cfg config.Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.AppName,
		Environment:         cfg.Environment,
		Version:             cfg.AppVersion,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		IncludeCaller:       true,
		IncludeStackOnError: true,
	}
}

func provideTracingConfig(cfg config.Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.AppName,
		ServiceVersion:   cfg.AppVersion,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
	}
}

func providePipelineMetrics(cfg config.Config) *metrics.PipelineMetrics {
	return metrics.PipelineWithConfig(metrics.Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	})
}

var Module = fx.Module("observability",
	fx.Provide(
		provideLoggerConfig,
		logger.New,
		provideTracingConfig,
		tracing.NewProvider,
		providePipelineMetrics,
	),
)
