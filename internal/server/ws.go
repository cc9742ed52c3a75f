package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/ayusman/ewaste/internal/cache"
	"github.com/ayusman/ewaste/internal/detector"
	"github.com/ayusman/ewaste/internal/rtc"
	"github.com/ayusman/ewaste/internal/throttle"
)

// Default socket timings.
const (
	DefaultPushInterval = 100 * time.Millisecond
	DefaultLogInterval  = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

var errUndecodable = errors.New("failed to decode image")

// TrackFinder finds the client-drawing track owned by, or claimable by, a client.
type TrackFinder interface {
	BindClientTrack(clientID string) *rtc.ClientDrawTrack
}

type clientIDMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
}

type detectionsMessage struct {
	Type string               `json:"type"`
	Data []detector.Detection `json:"data"`
}

type frameMessage struct {
	Type  string `json:"type"`
	Frame string `json:"frame"`
}

func newDetectionsMessage(dets []detector.Detection) detectionsMessage {
	if dets == nil {
		dets = []detector.Detection{}
	}
	return detectionsMessage{Type: "detections", Data: dets}
}

// accept upgrades the request, registers a fresh client id in c and sends
// it to the browser.
func accept(w http.ResponseWriter, r *http.Request, c cache.Cache, logger *zap.Logger) (*websocket.Conn, string, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, "", fmt.Errorf("websocket upgrade: %w", err)
	}

	clientID := uuid.NewString()
	if err := c.Register(r.Context(), clientID); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("register client: %w", err)
	}
	logger.Info("websocket connection accepted", zap.String("client_id", clientID))

	if err := conn.WriteJSON(clientIDMessage{Type: "client_id", ClientID: clientID}); err != nil {
		forget(c, clientID, logger)
		conn.Close()
		return nil, "", err
	}
	return conn, clientID, nil
}

func forget(c cache.Cache, clientID string, logger *zap.Logger) {
	logger.Info("websocket connection closed", zap.String("client_id", clientID))
	if err := c.Delete(context.Background(), clientID); err != nil {
		logger.Warn("failed to delete client detections", zap.String("client_id", clientID), zap.Error(err))
	}
}

// DetectionsSocketConfig configures a DetectionsSocket.
type DetectionsSocketConfig struct {
	Tracks      TrackFinder
	Cache       cache.Cache
	Interval    time.Duration
	LogInterval time.Duration
	Clock       clock.Clock
	Logger      *zap.Logger
}

// DetectionsSocket pushes the detections of a client-drawing WebRTC track to
// the browser that owns it.
type DetectionsSocket struct {
	config DetectionsSocketConfig
}

// NewDetectionsSocket creates a new DetectionsSocket.
func NewDetectionsSocket(config DetectionsSocketConfig) *DetectionsSocket {
	if config.Interval <= 0 {
		config.Interval = DefaultPushInterval
	}
	if config.LogInterval <= 0 {
		config.LogInterval = DefaultLogInterval
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &DetectionsSocket{config: config}
}

// ServeHTTP handles WebSocket upgrade requests on /ws/detections.
func (h *DetectionsSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.config.Logger
	conn, clientID, err := accept(w, r, h.config.Cache, logger)
	if err != nil {
		logger.Warn("websocket setup failed", zap.Error(err))
		return
	}
	defer conn.Close()
	defer forget(h.config.Cache, clientID, logger)

	// The browser never sends anything useful; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	gate := throttle.NewChangeGate(h.config.Clock, h.config.LogInterval)
	ticker := h.config.Clock.Ticker(h.config.Interval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		var dets []detector.Detection
		if track := h.config.Tracks.BindClientTrack(clientID); track != nil {
			dets = track.Detections()
		}

		if len(dets) > 0 {
			best := detector.MaxConfidenceByClass(dets)
			if gate.Allow(detector.ClassNames(dets)) {
				logger.Info("detected classes",
					zap.String("client_id", clientID),
					zap.Int("classes", len(best)),
					zap.String("detail", rtc.FormatClasses(best)),
				)
			}
		}

		if err := h.config.Cache.Set(ctx, clientID, dets); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("failed to cache detections", zap.String("client_id", clientID), zap.Error(err))
		}
		if err := conn.WriteJSON(newDetectionsMessage(dets)); err != nil {
			logger.Debug("websocket write failed", zap.String("client_id", clientID), zap.Error(err))
			return
		}

		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// LocalSocketConfig configures a LocalSocket.
type LocalSocketConfig struct {
	Detector    detector.Detector
	Cache       cache.Cache
	Confidence  float64
	LogInterval time.Duration
	Clock       clock.Clock
	Logger      *zap.Logger
}

// LocalSocket runs detection on frames the browser sends as data URLs.
type LocalSocket struct {
	config LocalSocketConfig
}

// NewLocalSocket creates a new LocalSocket.
func NewLocalSocket(config LocalSocketConfig) *LocalSocket {
	if config.Confidence <= 0 {
		config.Confidence = detector.DefaultConfig().Confidence
	}
	if config.LogInterval <= 0 {
		config.LogInterval = DefaultLogInterval
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &LocalSocket{config: config}
}

// ServeHTTP handles WebSocket upgrade requests on /localonly/ws/detections.
func (h *LocalSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.config.Logger
	conn, clientID, err := accept(w, r, h.config.Cache, logger)
	if err != nil {
		logger.Warn("websocket setup failed", zap.Error(err))
		return
	}
	defer conn.Close()
	defer forget(h.config.Cache, clientID, logger)

	classLog := throttle.NewClassLog(h.config.Clock, h.config.LogInterval)
	logger = logger.With(zap.String("client_id", clientID))
	ctx := r.Context()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg frameMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Error("failed to parse message", zap.Error(err))
			continue
		}
		if msg.Type != "video_frame" {
			continue
		}

		dets, err := h.detect(ctx, clientID, msg.Frame, classLog, logger)
		switch {
		case errors.Is(err, errUndecodable):
			logger.Warn("failed to decode image", zap.Error(err))
		case err != nil:
			logger.Error("error processing frame", zap.Error(err))
		}

		if err := conn.WriteJSON(newDetectionsMessage(dets)); err != nil {
			return
		}
	}
}

func (h *LocalSocket) detect(ctx context.Context, clientID, frame string, classLog *throttle.ClassLog, logger *zap.Logger) ([]detector.Detection, error) {
	raw, err := decodeDataURL(frame)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUndecodable, err)
	}

	dets, err := h.config.Detector.Detect(ctx, img, h.config.Confidence)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	dets = detector.WithImageSize(dets, b.Dx(), b.Dy())

	if classLog.Observe(detector.ClassNames(dets)) {
		logger.Info("found detections",
			zap.Int("count", len(dets)),
			zap.String("classes", rtc.FormatClasses(detector.MaxConfidenceByClass(dets))),
		)
	}

	if err := h.config.Cache.Set(ctx, clientID, dets); err != nil {
		return dets, err
	}
	return dets, nil
}

// decodeDataURL returns the payload of a base64 "data:" URL.
func decodeDataURL(s string) ([]byte, error) {
	_, encoded, ok := strings.Cut(s, ",")
	if !ok {
		return nil, errors.New("frame is not a data URL")
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
