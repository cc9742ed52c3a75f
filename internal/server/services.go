package server

import (
	"context"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ayusman/ewaste/internal/cache"
	"github.com/ayusman/ewaste/internal/classifier"
	"github.com/ayusman/ewaste/internal/detector"
	"github.com/ayusman/ewaste/internal/guidance"
	"github.com/ayusman/ewaste/internal/server/api"
)

// PeerCounter reports the number of live peer connections.
type PeerCounter interface {
	Len() int
}

// DetectionConfig holds the collaborators of the detection service.
type DetectionConfig struct {
	Negotiator     api.Negotiator
	Tracks         TrackFinder
	Peers          PeerCounter
	Cache          cache.Cache
	Detector       detector.Detector
	Uploads        api.UploadProcessor
	MaxUploadBytes int64
	Confidence     float64
	PushInterval   time.Duration
	LogInterval    time.Duration
	Clock          clock.Clock
	Logger         *zap.Logger
}

type indexResponse struct {
	Message string `json:"message"`
}

// NewDetection returns the detection service server.
func NewDetection(config DetectionConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var s *Server
	s = New("ok", func(ctx context.Context) map[string]any {
		fields := map[string]any{"uptime": s.Uptime().String()}
		if config.Peers != nil {
			fields["peers"] = config.Peers.Len()
		}
		if n, err := config.Cache.Len(ctx); err == nil {
			fields["clients"] = n
		}
		return fields
	}, logger)

	r := s.Router()
	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, indexResponse{Message: "YOLO WebRTC API is running"})
	}).Methods(http.MethodGet)

	if config.Negotiator != nil {
		api.NewOfferHandler(config.Negotiator, config.Cache, logger.Named("offer")).Register(r)
	}
	if config.Uploads != nil {
		api.NewUploadHandler(config.Uploads, config.MaxUploadBytes, logger.Named("upload")).Register(r)
	}

	if config.Tracks != nil {
		r.Handle("/ws/detections", NewDetectionsSocket(DetectionsSocketConfig{
			Tracks:      config.Tracks,
			Cache:       config.Cache,
			Interval:    config.PushInterval,
			LogInterval: config.LogInterval,
			Clock:       config.Clock,
			Logger:      logger.Named("ws"),
		}))
	}
	if config.Detector != nil {
		r.Handle("/localonly/ws/detections", NewLocalSocket(LocalSocketConfig{
			Detector:    config.Detector,
			Cache:       config.Cache,
			Confidence:  config.Confidence,
			LogInterval: config.LogInterval,
			Clock:       config.Clock,
			Logger:      logger.Named("localonly"),
		}))
	}

	return s
}

// NewClassifier returns the classification service server.
func NewClassifier(c classifier.Classifier, history api.PredictionLog, maxUploadBytes int64, logger *zap.Logger) *Server {
	s := New("healthy", func(context.Context) map[string]any {
		return map[string]any{"device": "cpu"}
	}, logger)
	api.NewPredictHandler(c, history, maxUploadBytes, s.logger.Named("predict")).Register(s.Router())
	return s
}

// NewGateway returns the gateway server.
func NewGateway(c guidance.Classifier, g guidance.Guide, maxFileBytes int64, logger *zap.Logger) *Server {
	s := New("healthy", nil, logger)
	api.NewGatewayHandler(c, g, maxFileBytes, s.logger.Named("gateway")).Register(s.Router())
	return s
}
