package zapadapter

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogCarriesRequestFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewLogger(zap.New(core))

	ctx := NewContextWithUser(NewContextWithID(context.Background(), "req-1"), "u1")
	l.Log(ctx, pgx.LogLevelInfo, "Query", map[string]interface{}{"sql": "select 1"})

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "Query", entries[0].Message)

	fields := entries[0].ContextMap()
	require.Equal(t, "req-1", fields["request_id"])
	require.Equal(t, "u1", fields["user_id"])
	require.Equal(t, "select 1", fields["sql"])
}

func TestLogLevels(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	l := NewLogger(zap.New(core))

	l.Log(context.Background(), pgx.LogLevelDebug, "dropped", nil)
	l.Log(context.Background(), pgx.LogLevelWarn, "warn", nil)
	l.Log(context.Background(), pgx.LogLevelError, "error", nil)
	l.Log(context.Background(), pgx.LogLevel(42), "unknown", nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, zap.ErrorLevel, entries[2].Level)
	require.Contains(t, entries[2].ContextMap(), "PGX_LOG_LEVEL")
}
