// Package zapadapter routes pgx logs to zap and tags them with the HTTP request that caused them.
package zapadapter

import (
	"context"

	"github.com/jackc/pgx/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type key string

const (
	requestIDKey key = "request_id"
	userIDKey    key = "user_id"
)

// Logger implements pgx.Logger
type Logger struct {
	logger *zap.Logger
}

// NewContextWithID returns a copy of ctx carrying the request id
func NewContextWithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// IDFromContext returns the request id stored by NewContextWithID
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// NewContextWithUser returns a copy of ctx carrying the acting user id
func NewContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Fields returns the request-scoped fields stored in ctx
func Fields(ctx context.Context) []zapcore.Field {
	var fields []zapcore.Field
	if id, ok := IDFromContext(ctx); ok {
		fields = append(fields, zap.String(string(requestIDKey), id))
	}
	if u, ok := ctx.Value(userIDKey).(string); ok && u != "" {
		fields = append(fields, zap.String(string(userIDKey), u))
	}
	return fields
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

var levels = map[pgx.LogLevel]zapcore.Level{
	pgx.LogLevelTrace: zapcore.DebugLevel,
	pgx.LogLevelDebug: zapcore.DebugLevel,
	pgx.LogLevelInfo:  zapcore.InfoLevel,
	pgx.LogLevelWarn:  zapcore.WarnLevel,
	pgx.LogLevelError: zapcore.ErrorLevel,
}

// Log implements pgx.Logger
func (pl *Logger) Log(ctx context.Context, level pgx.LogLevel, msg string, data map[string]interface{}) {
	fields := Fields(ctx)
	for k, v := range data {
		fields = append(fields, zap.Reflect(k, v))
	}

	lvl, ok := levels[level]
	if !ok || level == pgx.LogLevelTrace {
		fields = append(fields, zap.Stringer("PGX_LOG_LEVEL", level))
	}
	if !ok {
		lvl = zapcore.ErrorLevel
	}

	if ce := pl.logger.Check(lvl, msg); ce != nil {
		ce.Write(fields...)
	}
}
