// Package rtc negotiates WebRTC sessions whose incoming video is run through
// the object detector.
package rtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Default session settings.
const (
	DefaultFrameWidth  = 640
	DefaultFrameHeight = 480
	DefaultFPS         = 30
	DefaultPLIInterval = 3 * time.Second

	vp8PayloadType = 96
	vp8ClockRate   = 90000
)

// Mode selects what a session sends back to the browser.
type Mode int

const (
	// ModeServerDraw returns video with boxes drawn by the server.
	ModeServerDraw Mode = iota
	// ModeClientDraw relays the original video and publishes detections for
	// the browser to draw.
	ModeClientDraw
)

func (m Mode) String() string {
	switch m {
	case ModeServerDraw:
		return "server-draw"
	case ModeClientDraw:
		return "client-draw"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Config holds peer connection and codec settings.
type Config struct {
	ICEServers  []string
	FrameWidth  int
	FrameHeight int
	FPS         int
	PLIInterval time.Duration
}

// DefaultConfig returns a Config using Google's public STUN server.
func DefaultConfig() Config {
	return Config{
		ICEServers:  []string{"stun:stun.l.google.com:19302"},
		FrameWidth:  DefaultFrameWidth,
		FrameHeight: DefaultFrameHeight,
		FPS:         DefaultFPS,
		PLIInterval: DefaultPLIInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.FrameWidth <= 0 {
		c.FrameWidth = DefaultFrameWidth
	}
	if c.FrameHeight <= 0 {
		c.FrameHeight = DefaultFrameHeight
	}
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.PLIInterval <= 0 {
		c.PLIInterval = DefaultPLIInterval
	}
	return c
}

func (c Config) peerConfiguration() webrtc.Configuration {
	var servers []webrtc.ICEServer
	if len(c.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: c.ICEServers}}
	}
	return webrtc.Configuration{ICEServers: servers}
}

func vp8Capability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: vp8ClockRate,
		RTCPFeedback: []webrtc.RTCPFeedback{
			{Type: "goog-remb"},
			{Type: "ccm", Parameter: "fir"},
			{Type: "nack"},
			{Type: "nack", Parameter: "pli"},
		},
	}
}

// NewAPI builds a pion API that negotiates VP8 video with the default
// interceptors (NACK, RTCP reports, TWCC).
func NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: vp8Capability(),
		PayloadType:        vp8PayloadType,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("failed to register VP8 codec: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}
