package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/ewaste/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := New(config.LogConfig{Level: "chatty"})
		assert.Error(t, err)
	})

	t.Run("writes to rotating file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "service.log")
		logger, err := New(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1})
		require.NoError(t, err)

		logger.Info("hello")
		logger.Debug("hidden")
		_ = logger.Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello")
		assert.NotContains(t, string(data), "hidden")
	})
}

func TestNewObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)

	logger.Sugar().Infow("detected", "class", "Mouse")
	logger.Debug("debug entry")

	require.Equal(t, 2, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "detected", entry.Message)
	assert.Equal(t, "Mouse", entry.ContextMap()["class"])
}
