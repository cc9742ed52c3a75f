// Package app assembles the real-time detection service.
package app

import (
	"context"
	"fmt"
	"net"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayusman/ewaste/internal/cache"
	"github.com/ayusman/ewaste/internal/config"
	"github.com/ayusman/ewaste/internal/detector"
	"github.com/ayusman/ewaste/internal/inference"
	"github.com/ayusman/ewaste/internal/janitor"
	"github.com/ayusman/ewaste/internal/rtc"
	"github.com/ayusman/ewaste/internal/server"
	"github.com/ayusman/ewaste/internal/store"
	"github.com/ayusman/ewaste/internal/upload"
)

// Option overrides a collaborator that would otherwise be built from config.
type Option func(*App)

// WithDetector uses d instead of loading the ONNX model.
func WithDetector(d detector.Detector) Option {
	return func(a *App) { a.detector = d }
}

// WithCodec uses c instead of the ffmpeg codec.
func WithCodec(c rtc.Codec) Option {
	return func(a *App) { a.codec = c }
}

// WithCache uses c instead of the configured backend.
func WithCache(c cache.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithClock sets the clock used by the debounce and the janitor.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// App is the detection service: WebRTC sessions, WebSocket pushes, file
// uploads and the cleanup job behind one HTTP server.
type App struct {
	config *config.DetectorConfig
	logger *zap.Logger
	clock  clock.Clock

	store    *store.Store
	cache    cache.Cache
	redis    *redis.Client
	detector detector.Detector
	codec    rtc.Codec
	registry *rtc.Registry
	sessions *rtc.Service
	uploads  *upload.Processor
	janitor  *janitor.Janitor
	server   *server.Server

	ownsRuntime bool
}

// New builds every component of the detection service. On error, whatever
// was already opened is closed.
func New(cfg *config.DetectorConfig, logger *zap.Logger, opts ...Option) (a *App, err error) {
	a = &App{config: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.clock == nil {
		a.clock = clock.New()
	}

	defer func() {
		if err != nil {
			err = multierr.Append(err, a.close(context.Background()))
			a = nil
		}
	}()

	if a.store, err = store.New(cfg.Storage.DBPath); err != nil {
		return a, err
	}
	if err = a.initCache(); err != nil {
		return a, err
	}
	if err = a.initDetector(); err != nil {
		return a, err
	}
	if a.codec == nil {
		if a.codec, err = rtc.NewFFmpegCodec(cfg.RTC.FrameWidth, cfg.RTC.FrameHeight, cfg.RTC.FPS, a.logger.Named("codec")); err != nil {
			return a, err
		}
	}

	a.registry = rtc.NewRegistry(a.logger.Named("registry"))
	a.sessions, err = rtc.NewService(rtc.Config{
		ICEServers:  cfg.RTC.ICEServers,
		FrameWidth:  cfg.RTC.FrameWidth,
		FrameHeight: cfg.RTC.FrameHeight,
		FPS:         cfg.RTC.FPS,
	}, a.registry, a.codec, rtc.TrackConfig{
		Detector:    a.detector,
		Confidence:  cfg.DetectionConfidence,
		Interval:    cfg.DetectionInterval,
		LogInterval: cfg.LogInterval,
		Clock:       a.clock,
		Logger:      a.logger.Named("rtc"),
	})
	if err != nil {
		return a, fmt.Errorf("failed to create webrtc service: %w", err)
	}

	a.uploads, err = upload.NewProcessor(upload.Config{
		UploadDir:    cfg.Storage.UploadDir,
		ProcessedDir: cfg.Storage.ProcessedDir,
		Confidence:   cfg.DetectionConfidence,
	}, a.detector, a.store.Uploads(), a.logger.Named("upload"))
	if err != nil {
		return a, err
	}

	a.janitor, err = janitor.New(janitor.Config{
		Dirs:     []string{cfg.Storage.UploadDir, cfg.Storage.ProcessedDir},
		Interval: cfg.Janitor.Interval,
		MaxAge:   cfg.Janitor.MaxAge,
		Clock:    a.clock,
	}, a.store.Uploads(), a.logger.Named("janitor"))
	if err != nil {
		return a, err
	}

	a.server = server.NewDetection(server.DetectionConfig{
		Negotiator:     a.sessions,
		Tracks:         a.registry,
		Peers:          a.registry,
		Cache:          a.cache,
		Detector:       a.detector,
		Uploads:        a.uploads,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		Confidence:     cfg.DetectionConfidence,
		PushInterval:   cfg.PushInterval,
		LogInterval:    cfg.LogInterval,
		Clock:          a.clock,
		Logger:         a.logger.Named("http"),
	})

	return a, nil
}

func (a *App) initCache() error {
	if a.cache != nil {
		return nil
	}

	switch a.config.Cache.Backend {
	case "redis":
		rc := a.config.Cache.Redis
		a.redis = redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		if err := a.redis.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", rc.Addr, err)
		}
		a.cache = cache.NewRedis(a.redis, rc.TTL)
		a.logger.Info("using redis detection cache", zap.String("addr", rc.Addr))
	default:
		a.cache = cache.NewMemory()
	}
	return nil
}

func (a *App) initDetector() error {
	if a.detector != nil {
		return nil
	}

	if err := inference.Init(a.config.Model.OnnxLibrary); err != nil {
		return err
	}
	a.ownsRuntime = true

	dc := detector.DefaultConfig()
	dc.ModelPath = a.config.Model.Path
	dc.InputSize = a.config.InputSize
	dc.IoUThreshold = a.config.IoUThreshold
	dc.PoolSize = a.config.Model.PoolSize
	if a.config.LabelsPath != "" {
		labels, err := detector.LoadLabels(a.config.LabelsPath)
		if err != nil {
			return err
		}
		dc.Labels = labels
	}

	d, err := detector.NewYOLODetector(dc)
	if err != nil {
		return err
	}
	a.detector = d
	a.logger.Info("model loaded", zap.String("path", dc.ModelPath), zap.Int("classes", len(dc.Labels)))
	return nil
}

// Handler returns the HTTP handler of the service.
func (a *App) Handler() *server.Server {
	return a.server
}

// Registry returns the peer connection registry.
func (a *App) Registry() *rtc.Registry {
	return a.registry
}

// Run starts the janitor and serves HTTP until ctx is done, then closes
// every peer connection and releases all resources.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.HTTP.Addr())
	if err != nil {
		return multierr.Append(err, a.close(context.Background()))
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.janitor.Start(); err != nil {
		ln.Close()
		return multierr.Append(err, a.close(context.Background()))
	}

	serveErr := a.server.Serve(ctx, ln, a.config.HTTP.ShutdownTimeout)

	closeCtx, cancel := context.WithTimeout(context.Background(), a.config.HTTP.ShutdownTimeout)
	defer cancel()
	return multierr.Append(serveErr, a.close(closeCtx))
}

// close releases resources in reverse order of creation.
func (a *App) close(ctx context.Context) error {
	var err error
	if a.registry != nil {
		a.logger.Info("closing peer connections", zap.Int("peers", a.registry.Len()))
		err = multierr.Append(err, a.registry.CloseAll(ctx))
	}
	if a.janitor != nil {
		err = multierr.Append(err, a.janitor.Shutdown())
	}
	if a.detector != nil {
		err = multierr.Append(err, a.detector.Close())
	}
	if a.ownsRuntime {
		err = multierr.Append(err, inference.Shutdown())
	}
	if a.redis != nil {
		err = multierr.Append(err, a.redis.Close())
	}
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
	}
	return err
}
