package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := L()
	Replace(zap.New(core))
	t.Cleanup(func() { Replace(prev) })
	return logs
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	SetLevel("error")
	assert.False(t, Enabled(zapcore.InfoLevel))
	assert.True(t, Enabled(zapcore.ErrorLevel))

	SetLevel("debug")
	assert.True(t, Enabled(zapcore.DebugLevel))

	// Unknown levels are ignored.
	SetLevel("chatty")
	assert.True(t, Enabled(zapcore.DebugLevel))
}

func TestInitFormats(t *testing.T) {
	prev := L()
	t.Cleanup(func() {
		Replace(prev)
		SetLevel("info")
	})

	require.NoError(t, Init(Config{Level: "warn", Format: "json", OutputPath: "stderr"}))
	assert.False(t, Enabled(zapcore.InfoLevel))

	require.NoError(t, Init(Config{Level: "nonsense", Format: "console"}))
	assert.True(t, Enabled(zapcore.InfoLevel))
}

func TestWithFields(t *testing.T) {
	logs := observe(t)

	ctx := WithFields(context.Background(), String("mount_id", "abc"))
	WithContext(ctx).Info("mounted")
	Info("plain")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "abc", entries[0].ContextMap()["mount_id"])
	assert.NotContains(t, entries[1].ContextMap(), "mount_id")
}

func TestMiddleware(t *testing.T) {
	logs := observe(t)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/healthz", fields["path"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
	assert.EqualValues(t, len("short and stout"), fields["size"])
}
