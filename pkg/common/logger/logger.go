// Package logger provides a thin, structured wrapper around log/slog that adds
// trace-id correlation, per-call key/value attributes, and an error-event hook
// so callers can route error-level records to an external sink (alerting,
// metrics) without coupling the logger to that sink's transport.
package logger

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Level mirrors slog's level scale under names that read naturally at call
// sites (logger.LevelDebug, logger.LevelInfo, ...).
type Level int

const (
	LevelDebug Level = iota - 4
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level { return slog.Level(l) }

// Record is the information handed to an Events callback for a single log
// line. Attributes holds the call-site key/value pairs already flattened to a
// map for easy serialization.
type Record struct {
	Time       time.Time
	Message    string
	Level      Level
	Attributes map[string]any
}

// Events lets callers observe log lines as they're emitted, keyed by level.
// Only Error is wired today; the others exist so the set can grow without
// breaking NewWithMetadata's signature.
type Events struct {
	Debug func(ctx context.Context, r Record)
	Info  func(ctx context.Context, r Record)
	Warn  func(ctx context.Context, r Record)
	Error func(ctx context.Context, r Record)
}

// TraceIDFunc extracts a correlation id (typically an OpenTelemetry trace id)
// from a context for inclusion on every log line.
type TraceIDFunc func(ctx context.Context) string

// Logger is a structured logger carrying a fixed set of attributes (set via
// With) plus the hooks needed for trace correlation and error observability.
type Logger struct {
	log       *slog.Logger
	minLevel  Level
	traceIDFn TraceIDFunc
	events    Events
	attrs     map[string]any
}

// New creates a Logger writing JSON lines to w at minLevel and above, with an
// optional trace-id extractor (pass nil to omit trace correlation).
func New(w io.Writer, minLevel Level, serviceName string, traceIDFn TraceIDFunc) *Logger {
	return NewWithMetadata(w, minLevel, serviceName, traceIDFn, Events{}, nil)
}

// NewWithMetadata creates a Logger with a fixed metadata attribute set (e.g.
// hostname, pod name), a trace-id extractor, and an Events hook invoked
// alongside every emitted record.
func NewWithMetadata(
	w io.Writer,
	minLevel Level,
	serviceName string,
	traceIDFn TraceIDFunc,
	events Events,
	metadata map[string]string,
) *Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: minLevel.slogLevel()})
	attrs := make(map[string]any, len(metadata)+1)
	attrs["service"] = serviceName
	for k, v := range metadata {
		attrs[k] = v
	}

	return &Logger{
		log:       slog.New(h),
		minLevel:  minLevel,
		traceIDFn: traceIDFn,
		events:    events,
		attrs:     attrs,
	}
}

// With returns a derived Logger carrying the given additional key/value pairs
// on every subsequent call. kv must be an even-length list of alternating
// keys (string) and values.
func (l *Logger) With(kv ...any) *Logger {
	merged := make(map[string]any, len(l.attrs)+len(kv)/2)
	for k, v := range l.attrs {
		merged[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			merged[key] = kv[i+1]
		}
	}
	return &Logger{log: l.log, minLevel: l.minLevel, traceIDFn: l.traceIDFn, events: l.events, attrs: merged}
}

func (l *Logger) log_(ctx context.Context, level Level, msg string, kv ...any) {
	attrs := make(map[string]any, len(l.attrs)+len(kv)/2+1)
	for k, v := range l.attrs {
		attrs[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			attrs[key] = kv[i+1]
		}
	}
	if l.traceIDFn != nil {
		attrs["trace_id"] = l.traceIDFn(ctx)
	}

	args := make([]any, 0, len(attrs)*2)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	l.log.Log(ctx, level.slogLevel(), msg, args...)

	rec := Record{Time: time.Now(), Message: msg, Level: level, Attributes: attrs}
	switch level {
	case LevelDebug:
		if l.events.Debug != nil {
			l.events.Debug(ctx, rec)
		}
	case LevelInfo:
		if l.events.Info != nil {
			l.events.Info(ctx, rec)
		}
	case LevelWarn:
		if l.events.Warn != nil {
			l.events.Warn(ctx, rec)
		}
	case LevelError:
		if l.events.Error != nil {
			l.events.Error(ctx, rec)
		}
	}
}

// Debug logs at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, kv ...any) { l.log_(ctx, LevelDebug, msg, kv...) }

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, kv ...any) { l.log_(ctx, LevelInfo, msg, kv...) }

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, kv ...any) { l.log_(ctx, LevelWarn, msg, kv...) }

// Error logs at error level and fires the Events.Error hook.
func (l *Logger) Error(ctx context.Context, msg string, kv ...any) { l.log_(ctx, LevelError, msg, kv...) }
