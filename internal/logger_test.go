package internal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LogLevelWarn, false, false)

	logger.Debugf("debug line")
	logger.Infof("info line")
	logger.Warnf("warn line")
	logger.Errorf("error line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "warn line")
	assert.Contains(t, out, "error line")
}

func TestLoggerQuietKeepsErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LogLevelDebug, false, true)

	logger.Infof("info line")
	logger.Errorf("error line")

	out := buf.String()
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "error line")
}

func TestLoggerRedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LogLevelInfo, false, false)

	logger.Infof("GET /posts.json?login=alice&api_key=s3cret&tags=wolf")

	out := buf.String()
	assert.NotContains(t, out, "alice")
	assert.NotContains(t, out, "s3cret")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "tags=wolf")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, LogLevelWarn, ParseLogLevel("WARN"))
	assert.Equal(t, LogLevelError, ParseLogLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLogLevel("bogus"))
}
