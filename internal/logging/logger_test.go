package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LevelInfo, FormatJSON, &buf)

	logger.WithFields(map[string]interface{}{
		"badgeId": "b-1",
		"count":   3,
	}).WithError(errors.New("boom")).Info("badge indexed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "badge indexed", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "b-1", entry["badgeId"])
	assert.Equal(t, float64(3), entry["count"])
	assert.Equal(t, "boom", entry["error"])
	assert.Contains(t, entry, "timestamp")
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LevelWarn, FormatJSON, &buf)

	logger.Debug("hidden")
	logger.Info("hidden too")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	logger.SetLevel(LevelDebug)
	logger.Debugf("now %s", "visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LevelInfo, FormatText, &buf)

	logger.WithField("provider", "replicate").Warn("prediction slow")

	line := buf.String()
	assert.True(t, strings.Contains(line, "WARN"), "expected capital level in %q", line)
	assert.Contains(t, line, "prediction slow")
	assert.Contains(t, line, "replicate")
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LevelInfo, FormatJSON, &buf).WithField("requestId", "req-42")

	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).Info("handled")

	assert.Contains(t, buf.String(), "req-42")
	assert.NotNil(t, FromContext(context.Background()))
}

func TestParseLogLevelAndFormat(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LevelInfo, ParseLogLevel("loud"))
	assert.Equal(t, FormatText, ParseLogFormat("console"))
	assert.Equal(t, FormatJSON, ParseLogFormat("xml"))
}
