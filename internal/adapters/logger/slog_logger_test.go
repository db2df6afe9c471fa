package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLogger_LogsJSONWithoutTraceContext(t *testing.T) {
	buf := new(bytes.Buffer)
	l := NewWithWriter(buf, slog.LevelDebug)

	l.Info(context.Background(), "login succeeded", "user_id", "u1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "login succeeded", line["msg"])
	assert.Equal(t, "u1", line["user_id"])
	assert.NotContains(t, line, "trace_id")
	assert.NotContains(t, line, "request_id")
}

func TestSlogLogger_LogsWithTraceIDWhenSegmentExists(t *testing.T) {
	buf := new(bytes.Buffer)
	l := NewWithWriter(buf, slog.LevelDebug)

	ctx, seg := xray.BeginSegment(context.Background(), "identity-test")
	defer seg.Close(nil)

	l.Warn(ctx, "access denied")

	assert.Contains(t, buf.String(), "\"trace_id\":\""+seg.TraceID+"\"")
}

func TestSlogLogger_CarriesRequestID(t *testing.T) {
	buf := new(bytes.Buffer)
	l := NewWithWriter(buf, slog.LevelInfo).With("service", "identity-service")

	l.Error(WithRequestID(context.Background(), "req-42"), "load user failed")

	out := buf.String()
	assert.Contains(t, out, "\"request_id\":\"req-42\"")
	assert.Contains(t, out, "\"service\":\"identity-service\"")
}

func TestSlogLogger_RespectsLevel(t *testing.T) {
	buf := new(bytes.Buffer)
	l := NewWithWriter(buf, ParseLevel("warn"))

	l.Info(context.Background(), "hidden")
	l.Debug(context.Background(), "hidden too")
	assert.Empty(t, strings.TrimSpace(buf.String()))

	l.Warn(context.Background(), "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
