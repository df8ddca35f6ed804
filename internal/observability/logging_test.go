package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerRedactsAPIKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	logger.Info(context.Background(), "calling provider", "api_key", "sk-ant-REDACTED")

	require.NotContains(t, buf.String(), "sk-ant-")
	require.Contains(t, buf.String(), "[REDACTED]")
}

func TestLoggerWithContextAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	ctx := WithProcessID(context.Background(), "proc-1")
	ctx = WithStage(ctx, "planning")

	logger.WithContext(ctx).Info(ctx, "stage started")

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record))
	require.Equal(t, "proc-1", record["process_id"])
	require.Equal(t, "planning", record["stage"])
}

func TestLogLevelFromString(t *testing.T) {
	require.Equal(t, "DEBUG", LogLevelFromString("debug").String())
	require.Equal(t, "WARN", LogLevelFromString("warning").String())
	require.Equal(t, "INFO", LogLevelFromString("bogus").String())
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "text", Output: &buf})
	logger.Warn(context.Background(), "approaching limit")
	require.True(t, strings.Contains(buf.String(), "approaching limit"))
}
