package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Production_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("production", &buf)
	logger.Info("login ok", "user_id", "u-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "login ok", line["msg"])
	assert.Equal(t, "u-1", line["user_id"])
	assert.Equal(t, "chatauth", line["service"])
}

func TestNewLogger_Production_InfoLevel(t *testing.T) {
	logger := NewLogger("production")
	ctx := context.Background()
	assert.True(t, logger.Handler().Enabled(ctx, slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(ctx, slog.LevelDebug))
}

func TestNewLogger_Development_TextDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("development", &buf)
	logger.Debug("rate limit check", "action", "login")

	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "action=login")
}

func TestNewLogger_UnknownEnv_Text(t *testing.T) {
	var buf bytes.Buffer
	newLogger("staging", &buf).Info("hello")

	assert.Contains(t, buf.String(), "msg=hello")
	assert.NotContains(t, buf.String(), "{")
}
