package observability

import (
	"context"
	"maps"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanko-field/orderops/internal/platform/requestctx"
)

// NewLogger builds a JSON logger whose keys match Cloud Logging (severity, message, timestamp).
// LOG_LEVEL picks the level and defaults to info.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL"))); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.InitialFields = map[string]any{"service": "orderops"}
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg.Build()
}

// WithLogger stores logger on ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// problemMarkers flag service events logged at warn level.
var problemMarkers = []string{"failed", "error", "dropped", "unexpected", "compensation"}

// EventLogger returns the event hook the services log through. Fields are emitted in key order and
// the request logger on ctx is preferred over fallback.
func EventLogger(fallback *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = fallback
		}
		zf := make([]zap.Field, 0, len(fields)+1)
		zf = append(zf, zap.String("event", event))
		for _, k := range slices.Sorted(maps.Keys(fields)) {
			zf = append(zf, zap.Any(k, fields[k]))
		}
		level := zapcore.InfoLevel
		if slices.ContainsFunc(problemMarkers, func(m string) bool { return strings.Contains(event, m) }) {
			level = zapcore.WarnLevel
		}
		logger.Log(level, event, zf...)
	}
}

// WarnfAdapter exposes a zap logger through the Warnf interfaces of the auth, idempotency and
// audit packages.
type WarnfAdapter struct {
	sugar *zap.SugaredLogger
}

func NewWarnfAdapter(logger *zap.Logger) WarnfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return WarnfAdapter{sugar: logger.Sugar()}
}

func (a WarnfAdapter) Warnf(format string, args ...any) { a.sugar.Warnf(format, args...) }
