// Package otelcol installs the global OpenTelemetry tracer provider. Spans
// are exported over OTLP when OTEL.ADDR is set and dropped otherwise.
package otelcol

import (
	"context"

	"habitcoin/pkg/config"
	"habitcoin/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol",
	fx.Provide(NewExporter, ProvideTrace),
	fx.Invoke(Register),
)

// NewExporter picks the OTLP transport from OTEL.PROTOCOL. A nil exporter
// means tracing stays process-local.
func NewExporter(cfg *config.Config) (trace.SpanExporter, error) {
	if cfg.Otel.Addr == "" {
		return nil, nil
	}
	if cfg.Otel.Protocol == "http" {
		return exporters.ProvideHttp(cfg)
	}
	return exporters.ProvideGrpc(cfg)
}

func defaultTraceProviderOption(cfg *config.Config) []trace.TracerProviderOption {
	return []trace.TracerProviderOption{
		trace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.AppName),
			attribute.String("service.version", cfg.AppVersion),
			attribute.String("deployment.environment", cfg.AppEnv),
		)),
	}
}

func ProvideTrace(cfg *config.Config, exporter trace.SpanExporter) *trace.TracerProvider {
	opts := defaultTraceProviderOption(cfg)
	if exporter != nil {
		opts = append(opts, trace.WithBatcher(exporter))
	}
	return trace.NewTracerProvider(opts...)
}

func Register(lc fx.Lifecycle, tp *trace.TracerProvider) {
	otel.SetTracerProvider(tp)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := tp.Shutdown(ctx); err != nil && ctx.Err() == nil {
				zap.L().Warn("tracer provider shutdown", zap.Error(err))
				return err
			}
			return nil
		},
	})
}

// Shutdown flushes pending spans; used by callers outside fx.
func Shutdown(tp *trace.TracerProvider) error {
	return tp.Shutdown(context.Background())
}
