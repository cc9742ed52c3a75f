package rtc

import (
	"context"
	"fmt"
	"image"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ayusman/ewaste/internal/detector"
	"github.com/ayusman/ewaste/internal/render"
	"github.com/ayusman/ewaste/internal/throttle"
)

// TrackConfig holds the detection settings shared by all tracks.
type TrackConfig struct {
	Detector    detector.Detector
	Confidence  float64
	Interval    int
	LogInterval time.Duration
	Clock       clock.Clock
	Logger      *zap.Logger
}

func (c TrackConfig) withDefaults() TrackConfig {
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Interval < 1 {
		c.Interval = 1
	}
	return c
}

// trackBase runs the detector on every interval-th frame and keeps the
// results of the last processed frame.
type trackBase struct {
	detector   detector.Detector
	confidence float64
	skipper    *throttle.FrameSkipper
	logger     *zap.Logger

	mu         sync.RWMutex
	detections []detector.Detection
}

func newTrackBase(cfg TrackConfig) trackBase {
	return trackBase{
		detector:   cfg.Detector,
		confidence: cfg.Confidence,
		skipper:    throttle.NewFrameSkipper(cfg.Interval),
		logger:     cfg.Logger,
		detections: []detector.Detection{},
	}
}

// Detections returns a copy of the latest results.
func (t *trackBase) Detections() []detector.Detection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]detector.Detection{}, t.detections...)
}

// FramesSeen returns the number of frames passed to the track.
func (t *trackBase) FramesSeen() uint64 {
	return t.skipper.Count()
}

func (t *trackBase) setDetections(dets []detector.Detection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detections = dets
}

// ServerDrawTrack draws the latest detections onto every outgoing frame.
type ServerDrawTrack struct {
	trackBase
}

// NewServerDrawTrack returns a track for ModeServerDraw sessions.
func NewServerDrawTrack(cfg TrackConfig) *ServerDrawTrack {
	cfg = cfg.withDefaults()
	return &ServerDrawTrack{trackBase: newTrackBase(cfg)}
}

// Process runs detection when the frame is due and returns img annotated
// with the most recent detections. On detector errors the previous results
// are kept.
func (t *ServerDrawTrack) Process(ctx context.Context, img image.Image) *image.RGBA {
	if t.skipper.ShouldProcess() {
		dets, err := t.detector.Detect(ctx, img, t.confidence)
		if err != nil {
			t.logger.Error("detection failed", zap.Error(err))
		} else {
			for _, d := range dets {
				t.logger.Info("detected",
					zap.String("class", d.ClassName),
					zap.String("confidence", fmt.Sprintf("%.2f", d.Confidence)),
					zap.String("box", fmt.Sprintf("(%.2f, %.2f), (%.2f, %.2f)", d.X1, d.Y1, d.X2, d.Y2)),
				)
			}
			t.setDetections(dets)
		}
	}

	out, err := render.DrawDetections(img, t.Detections())
	if err != nil {
		t.logger.Error("failed to draw detections", zap.Error(err))
		return render.ToRGBA(img)
	}
	return out
}

// ClientDrawTrack reports detections for a browser that draws its own boxes.
type ClientDrawTrack struct {
	trackBase
	classLog *throttle.ClassLog

	idMu     sync.Mutex
	clientID string
}

// NewClientDrawTrack returns a track for ModeClientDraw sessions. clientID
// may be empty; the first detections socket to ask binds it.
func NewClientDrawTrack(cfg TrackConfig, clientID string) *ClientDrawTrack {
	cfg = cfg.withDefaults()
	return &ClientDrawTrack{
		trackBase: newTrackBase(cfg),
		classLog:  throttle.NewClassLog(cfg.Clock, cfg.LogInterval),
		clientID:  clientID,
	}
}

// ClientID returns the owning client, or "" when unbound.
func (t *ClientDrawTrack) ClientID() string {
	t.idMu.Lock()
	defer t.idMu.Unlock()
	return t.clientID
}

// SetClientID assigns the owning client.
func (t *ClientDrawTrack) SetClientID(id string) {
	t.idMu.Lock()
	defer t.idMu.Unlock()
	t.clientID = id
}

// bind claims an unbound track for clientID and reports whether the track
// belongs to clientID afterwards.
func (t *ClientDrawTrack) bind(clientID string) bool {
	t.idMu.Lock()
	defer t.idMu.Unlock()

	if t.clientID == "" {
		t.clientID = clientID
		return true
	}
	return t.clientID == clientID
}

// Process runs detection when the frame is due and stores the results with
// the frame size attached.
func (t *ClientDrawTrack) Process(ctx context.Context, img image.Image) {
	if !t.skipper.ShouldProcess() {
		return
	}

	dets, err := t.detector.Detect(ctx, img, t.confidence)
	if err != nil {
		t.logger.Error("client-drawing detection failed", zap.String("client_id", t.ClientID()), zap.Error(err))
		return
	}

	b := img.Bounds()
	dets = detector.WithImageSize(dets, b.Dx(), b.Dy())
	t.setDetections(dets)

	if t.classLog.Observe(detector.ClassNames(dets)) {
		t.logger.Info("client-drawing detections",
			zap.String("client_id", t.ClientID()),
			zap.Int("count", len(dets)),
			zap.String("classes", FormatClasses(detector.MaxConfidenceByClass(dets))),
		)
	}
}

// FormatClasses renders class confidences as "keyboard (0.76), mouse (0.91)".
func FormatClasses(best map[string]float64) string {
	names := make([]string, 0, len(best))
	for name := range best {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s (%.2f)", name, best[name])
	}
	return strings.Join(parts, ", ")
}
