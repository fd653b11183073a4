package observability

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// NewLogger builds a JSON logger whose keys match Cloud Logging's structured payload.
// Local environments get a console encoder instead.
func NewLogger(level, environment string) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevel()
	if err := atomic.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		_ = atomic.UnmarshalText([]byte(defaultLogLevel))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		StacktraceKey:  "stacktrace",
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	encoding := "json"
	if environment == "local" {
		encoding = "console"
	}

	cfg := zap.Config{
		Level:             atomic,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// EventLogger adapts zap to the event-style logger the services accept. The request
// logger on ctx wins over base so request ids and trace ids are attached.
func EventLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := base
		if requestctx.HasLogger(ctx) {
			logger = requestctx.Logger(ctx)
		}
		level := zapcore.InfoLevel
		if strings.HasSuffix(event, "failed") || strings.HasSuffix(event, "error") || strings.HasSuffix(event, "delivery_gap") {
			level = zapcore.WarnLevel
		}
		ce := logger.Check(level, event)
		if ce == nil {
			return
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		zf := make([]zap.Field, 0, len(keys)+2)
		zf = append(zf, zap.String("event", event))
		if _, ok := fields["orderId"]; !ok {
			if id := requestctx.OrderID(ctx); id != "" {
				zf = append(zf, zap.String("orderId", id))
			}
		}
		for _, k := range keys {
			zf = append(zf, zap.Any(k, fields[k]))
		}
		ce.Write(zf...)
	}
}

// PrintfAdapter adapts zap to the context-aware printf logger go-redis accepts.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
}

// NewPrintfAdapter creates a PrintfAdapter backed by the supplied logger.
func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.Sugar()}
}

// Printf implements redis.SetLogger's interface.
func (a PrintfAdapter) Printf(_ context.Context, format string, args ...any) {
	a.logger.Warnf(format, args...)
}
