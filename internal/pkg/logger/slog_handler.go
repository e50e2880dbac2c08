package logger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapSlogBridge 将 log/slog 记录转发到 zap，使业务代码可以统一用 slog 输出。
type zapSlogBridge struct {
	logger *zap.Logger
	attrs  []slog.Attr
	groups []string
}

func newSlogZapHandler(logger *zap.Logger) slog.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapSlogBridge{logger: logger}
}

func slogToZapLevel(level slog.Level) zapcore.Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level <= slog.LevelDebug:
		return LevelDebug
	default:
		return LevelInfo
	}
}

func (h *zapSlogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.Core().Enabled(slogToZapLevel(level))
}

func (h *zapSlogBridge) Handle(_ context.Context, record slog.Record) error {
	fields := make([]zap.Field, 0, len(h.attrs)+record.NumAttrs()+1)
	fields = append(fields, zap.Time("time", record.Time))
	for _, attr := range h.attrs {
		fields = append(fields, attrToField(h.groups, attr))
	}
	record.Attrs(func(attr slog.Attr) bool {
		fields = append(fields, attrToField(h.groups, attr))
		return true
	})

	entry := h.logger.With(fields...)
	switch slogToZapLevel(record.Level) {
	case LevelError:
		entry.Error(record.Message)
	case LevelWarn:
		entry.Warn(record.Message)
	case LevelDebug:
		entry.Debug(record.Message)
	default:
		entry.Info(record.Message)
	}
	return nil
}

func (h *zapSlogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *zapSlogBridge) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}

func attrToField(groups []string, attr slog.Attr) zap.Field {
	if len(groups) > 0 {
		attr.Key = strings.Join(append(append([]string{}, groups...), attr.Key), ".")
	}
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindBool:
		return zap.Bool(attr.Key, value.Bool())
	case slog.KindInt64:
		return zap.Int64(attr.Key, value.Int64())
	case slog.KindUint64:
		return zap.Uint64(attr.Key, value.Uint64())
	case slog.KindFloat64:
		return zap.Float64(attr.Key, value.Float64())
	case slog.KindDuration:
		return zap.Duration(attr.Key, value.Duration())
	case slog.KindTime:
		return zap.Time(attr.Key, value.Time())
	case slog.KindString:
		return zap.String(attr.Key, value.String())
	case slog.KindGroup:
		nested := make([]zap.Field, 0, len(value.Group()))
		for _, member := range value.Group() {
			nested = append(nested, attrToField(nil, member))
		}
		return zap.Object(attr.Key, groupedFields(nested))
	case slog.KindAny:
		if t, ok := value.Any().(time.Time); ok {
			return zap.Time(attr.Key, t)
		}
		return zap.Any(attr.Key, value.Any())
	default:
		return zap.String(attr.Key, value.String())
	}
}

type groupedFields []zap.Field

func (g groupedFields) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, field := range g {
		field.AddTo(enc)
	}
	return nil
}
