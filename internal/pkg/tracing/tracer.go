// internal/pkg/tracing/tracer.go
package tracing

import (
	"fmt"
	"os"

	"circuitbay/internal/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// InitTracerProvider 装配 Jaeger 导出器并注册为全局 TracerProvider。
// 返回的 provider 由调用方在停机时 Shutdown，把缓冲中的 Span 刷出去。
func InitTracerProvider(serviceName, jaegerEndpoint string) (*sdktrace.TracerProvider, error) {
	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		// 全量采样；量上来之后换 ParentBased(TraceIDRatioBased)
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.DeploymentEnvironmentKey.String(deployEnv()),
		)),
	)

	otel.SetTracerProvider(tp)
	// W3C traceparent + baggage，HTTP 头和 Kafka 消息头共用
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Logger.Info().
		Str("service", serviceName).
		Str("endpoint", jaegerEndpoint).
		Msg("tracing initialized")
	return tp, nil
}

func deployEnv() string {
	if env := os.Getenv("DEPLOY_ENV"); env != "" {
		return env
	}
	return "dev"
}
