// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	CorrelationID LogContextKey = "correlation_id"
	RequestID     LogContextKey = "request_id"
	UserID        LogContextKey = "user_id"
)

// LogConfig selects the handler format and level.
type LogConfig struct {
	Level  string
	Format string
}

var global atomic.Pointer[slog.Logger]

func init() {
	global.Store(NewLogger(LogConfig{Level: "info", Format: "text"}))
}

// Logger returns the process-wide logger.
func Logger() *slog.Logger {
	return global.Load()
}

// SetLogger replaces the process-wide logger and slog's default.
func SetLogger(l *slog.Logger) {
	global.Store(l)
	slog.SetDefault(l)
}

// NewLogger builds a context-aware slog logger. Format "json" produces
// structured JSON output (production), anything else human-readable text.
// Level is one of: debug, info, warn, error; defaults to info.
func NewLogger(cfg LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(&ctxHandler{handler})
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ctxHandler is a slog.Handler that adds context values to the log record.
type ctxHandler struct {
	slog.Handler
}

// Handle adds context values to the record before passing it to the underlying handler.
func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(CorrelationID).(string); ok && id != "" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	if id, ok := ctx.Value(RequestID).(string); ok && id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	if uid, ok := ctx.Value(UserID).(int64); ok && uid != 0 {
		r.AddAttrs(slog.Int64("user_id", uid))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{h.Handler.WithAttrs(attrs)}
}

func (h *ctxHandler) WithGroup(name string) slog.Handler {
	return &ctxHandler{h.Handler.WithGroup(name)}
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// WithUserID returns a new context carrying the session's user ID.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserID, userID)
}

// MutationLogger provides structured logging for optimistic mutations.
type MutationLogger struct {
	logger *slog.Logger
}

// NewMutationLogger creates a MutationLogger writing to l, or to the
// process-wide logger when l is nil.
func NewMutationLogger(l *slog.Logger) *MutationLogger {
	if l == nil {
		l = Logger()
	}
	return &MutationLogger{logger: l}
}

// LogApply logs the optimistic step of a mutation.
func (l *MutationLogger) LogApply(ctx context.Context, op string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", op),
		slog.String("phase", "apply"),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.DebugContext(ctx, "mutation applied optimistically", attrs...)
}

// LogCommit logs a mutation confirmed by the server.
func (l *MutationLogger) LogCommit(ctx context.Context, op string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", op),
		slog.String("phase", "commit"),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "mutation committed", attrs...)
}

// LogRollback logs a mutation undone after a failed network call.
func (l *MutationLogger) LogRollback(ctx context.Context, op string, err error, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", op),
		slog.String("phase", "rollback"),
		slog.String("error", err.Error()),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.WarnContext(ctx, "mutation rolled back", attrs...)
}

// StreamLogger provides structured logging for the push stream.
type StreamLogger struct {
	stream string
	logger *slog.Logger
}

// NewStreamLogger creates a StreamLogger for the named stream.
func NewStreamLogger(stream string, l *slog.Logger) *StreamLogger {
	if l == nil {
		l = Logger()
	}
	return &StreamLogger{stream: stream, logger: l}
}

// LogConnect logs a stream connection.
func (l *StreamLogger) LogConnect(ctx context.Context, url string) {
	l.logger.InfoContext(ctx, "push stream connected",
		slog.String("stream", l.stream),
		slog.String("url", url),
	)
}

// LogDisconnect logs the end of a stream connection.
func (l *StreamLogger) LogDisconnect(ctx context.Context, reason string) {
	l.logger.InfoContext(ctx, "push stream disconnected",
		slog.String("stream", l.stream),
		slog.String("reason", reason),
	)
}

// LogError logs a non-fatal stream error.
func (l *StreamLogger) LogError(ctx context.Context, err error, eventType string) {
	l.logger.WarnContext(ctx, "push stream error",
		slog.String("stream", l.stream),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogEvent logs an ingested event.
func (l *StreamLogger) LogEvent(ctx context.Context, eventType string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("stream", l.stream),
		slog.String("event_type", eventType),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.DebugContext(ctx, "push event ingested", attrs...)
}
