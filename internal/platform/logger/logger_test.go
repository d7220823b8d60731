package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	SetOutput(buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })
	return buf
}

func TestWarningCarriesChannelAndDetails(t *testing.T) {
	buf := captureOutput(t)
	ctx := WithTraceID(context.Background(), "trace-1")

	Warning(ctx, "時間戳無法解析",
		WithChannelID("general"),
		WithMessageID("m1"),
		WithDetails(map[string]any{"field": "createdAt"}),
		WithError(errors.New("bad time")),
	)

	var entry Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, SeverityWarning, entry.Severity)
	assert.Equal(t, "general", entry.ChannelID)
	assert.Equal(t, "m1", entry.MessageID)
	assert.Equal(t, "createdAt", entry.Details["field"])
	assert.Equal(t, "bad time", entry.Details["error"])
	assert.Equal(t, "projects/local-dev/traces/trace-1", entry.TraceID)
	assert.NotEmpty(t, entry.InsertID)
	require.NotNil(t, entry.SourceLocation)
	assert.Equal(t, "logger_test.go", entry.SourceLocation.File)
}

func TestWithLabelsMergesServiceLabel(t *testing.T) {
	buf := captureOutput(t)

	Info(context.Background(), "ok", WithLabels(map[string]string{"component": "poller"}))

	var entry Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "chat-timeline", entry.Labels["service"])
	assert.Equal(t, "poller", entry.Labels["component"])
	assert.Empty(t, entry.TraceID)
}

func TestDebugSilentWithoutDebugConfig(t *testing.T) {
	buf := captureOutput(t)
	Debug(context.Background(), "hidden")
	assert.Zero(t, buf.Len())
}
