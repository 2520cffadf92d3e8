package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appctx "lotledger/internal/core/context"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{zap.New(core).Sugar()}, logs
}

func TestWithContext_WorkerTrace(t *testing.T) {
	log, logs := observed()
	ctx := appctx.WithTrace(context.Background(), appctx.NewTraceContext("worker:sweep"))

	log.WithContext(ctx).Infow("tick")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "worker:sweep", fields["origin"])
	assert.NotEmpty(t, fields["trace_id"])
	// request id equals trace id outside HTTP and is not repeated
	assert.NotContains(t, fields, "request_id")
	assert.NotContains(t, fields, "actor")
}

func TestWithContext_RequestAndUser(t *testing.T) {
	log, logs := observed()
	ctx := appctx.WithTrace(context.Background(), &appctx.TraceContext{
		TraceID:   "t-1",
		RequestID: "r-1",
		Origin:    appctx.OriginHTTP,
	})
	ctx = appctx.WithUser(ctx, &appctx.UserContext{UserID: "u-7"})

	log.WithContext(ctx).Warnw("slow", "ms", 900)

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "t-1", fields["trace_id"])
	assert.Equal(t, "r-1", fields["request_id"])
	assert.Equal(t, "u-7", fields["actor"])
	assert.EqualValues(t, 900, fields["ms"])
}

func TestFromContext_UsesAttachedLogger(t *testing.T) {
	log, logs := observed()
	ctx := WithLogger(context.Background(), log.WithComponent("reconcile"))

	Info(ctx, "swept", "groups", 2)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "swept", logs.All()[0].Message)
	assert.Equal(t, "reconcile", logs.All()[0].ContextMap()["component"])
}
