package rtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFFmpegCodec_MissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	_, err := NewFFmpegCodec(640, 480, 30, nil)
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultFrameWidth, cfg.FrameWidth)
	assert.Equal(t, DefaultFrameHeight, cfg.FrameHeight)
	assert.Equal(t, DefaultFPS, cfg.FPS)
	assert.Equal(t, DefaultPLIInterval, cfg.PLIInterval)

	assert.Empty(t, Config{}.peerConfiguration().ICEServers)
	assert.Len(t, DefaultConfig().peerConfiguration().ICEServers, 1)
}
