package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/hubstream/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()

	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8091/ws", cfg.Backend.WebsocketURL)
	assert.Equal(t, 2*time.Second, cfg.Transport.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Transport.MaxDelay)
	assert.Equal(t, 5, cfg.Transport.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Transport.HealthInterval)
	assert.Equal(t, 30*time.Second, cfg.Transport.SilenceLimit)
	assert.Equal(t, 1000, cfg.Dedup.Threshold)
	assert.Equal(t, 5*time.Minute, cfg.Dedup.ClearInterval)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HUBSTREAM_WS_URL", "wss://backend.example.com/ws")
	t.Setenv("HUBSTREAM_BASE_DELAY", "500ms")
	t.Setenv("HUBSTREAM_MAX_ATTEMPTS", "8")

	cfg, err := config.Load()

	require.NoError(t, err)
	assert.Equal(t, "wss://backend.example.com/ws", cfg.Backend.WebsocketURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Transport.BaseDelay)
	assert.Equal(t, 8, cfg.Transport.MaxAttempts)
}

func TestLoad_Validation(t *testing.T) {
	t.Run("bad scheme", func(t *testing.T) {
		t.Setenv("HUBSTREAM_WS_URL", "http://not-a-websocket")

		_, err := config.Load()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "ws://")
	})

	t.Run("unparseable duration", func(t *testing.T) {
		t.Setenv("HUBSTREAM_BASE_DELAY", "soon")

		_, err := config.Load()

		require.Error(t, err)
	})

	t.Run("silence limit must exceed health interval", func(t *testing.T) {
		t.Setenv("HUBSTREAM_SILENCE_LIMIT", "5s")

		_, err := config.Load()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "HUBSTREAM_SILENCE_LIMIT")
	})

	t.Run("slack token without channel", func(t *testing.T) {
		t.Setenv("HUBSTREAM_SLACK_BOT_TOKEN", "xoxb-test")

		_, err := config.Load()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "HUBSTREAM_SLACK_CHANNEL")
	})
}
