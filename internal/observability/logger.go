package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"

	"github.com/duckmesh/text2sql/internal/config"
)

type ctxKey string

const (
	traceIDKey  ctxKey = "trace_id"
	threadIDKey ctxKey = "thread_id"
)

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	return slog.New(newHandler(cfg, writer)).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

// NewLoggerWithFile fans records out to writer and to a JSON log file.
// The returned close func releases the file.
func NewLoggerWithFile(cfg config.Config, writer io.Writer) (*slog.Logger, func() error, error) {
	if cfg.Observability.LogFile == "" {
		return NewLogger(cfg, writer), func() error { return nil }, nil
	}
	file, err := os.OpenFile(cfg.Observability.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %q: %w", cfg.Observability.LogFile, err)
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	logger := slog.New(slogmulti.Fanout(newHandler(cfg, writer), fileHandler)).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
	return logger, file.Close, nil
}

func newHandler(cfg config.Config, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = io.Discard
	}
	if cfg.Observability.LogJSON {
		return slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	}
	return slog.NewTextHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
}

// DiscardLogger is used by components constructed without a logger.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func ContextWithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadIDKey, threadID)
}

func ThreadIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(threadIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

// LogAttrs returns the request-scoped attributes carried by ctx.
func LogAttrs(ctx context.Context) []any {
	attrs := make([]any, 0, 2)
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if threadID := ThreadIDFromContext(ctx); threadID != "" {
		attrs = append(attrs, slog.String("thread_id", threadID))
	}
	return attrs
}
