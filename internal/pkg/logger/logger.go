// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger 是全局的 zerolog 实例，所有服务共用。
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 根据服务名初始化全局日志器。
// 本地开发时设置 PRETTY_LOG=true 可以输出人类可读格式。
func Init(serviceName string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if os.Getenv("PRETTY_LOG") == "true" {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	Logger = Logger.With().Str("service", serviceName).Logger()

	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		Logger = Logger.Level(lvl)
	}
}

// Ctx 返回一个携带当前链路 TraceID/SpanID 的日志器。
// 这样日志和 Jaeger 里的链路可以互相跳转排查。
func Ctx(ctx context.Context) *zerolog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return &Logger
	}
	l := Logger.With().
		Str("trace_id", spanCtx.TraceID().String()).
		Str("span_id", spanCtx.SpanID().String()).
		Logger()
	return &l
}
