package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/ewaste/internal/config"
	"github.com/ayusman/ewaste/internal/detector"
	"github.com/ayusman/ewaste/internal/logging"
	"github.com/ayusman/ewaste/internal/rtc"
)

var errNoCodec = errors.New("codec not available in tests")

type stubCodec struct{}

func (stubCodec) NewDecoder(context.Context) (rtc.FrameDecoder, error) { return nil, errNoCodec }
func (stubCodec) NewEncoder(context.Context) (rtc.FrameEncoder, error) { return nil, errNoCodec }

func testConfig(t *testing.T) *config.DetectorConfig {
	t.Helper()
	dir := t.TempDir()

	return &config.DetectorConfig{
		HTTP:                config.HTTPConfig{Host: "127.0.0.1", Port: 5005, ShutdownTimeout: 5 * time.Second},
		DetectionConfidence: 0.25,
		DetectionInterval:   5,
		LogInterval:         time.Second,
		PushInterval:        10 * time.Millisecond,
		RTC:                 config.RTCConfig{FrameWidth: 640, FrameHeight: 480, FPS: 30},
		Cache:               config.CacheConfig{Backend: "memory"},
		Storage: config.StorageConfig{
			UploadDir:      filepath.Join(dir, "uploads"),
			ProcessedDir:   filepath.Join(dir, "processed"),
			DBPath:         filepath.Join(dir, "detector.db"),
			MaxUploadBytes: 10 << 20,
		},
		Janitor: config.JanitorConfig{Interval: time.Hour, MaxAge: time.Hour},
	}
}

func TestApp_ServeUploadAndShutdown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	det := detector.NewMockDetector()
	det.SetDetections([]detector.Detection{detector.MouseDetection()})

	a, err := New(testConfig(t), logging.NewTestLogger(t), WithDetector(det), WithCodec(stubCodec{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.Serve(ctx, ln)
	}()

	// 1. Health
	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	var health map[string]any
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health["status"] != "ok" || health["peers"] != float64(0) {
		t.Errorf("unexpected health %v", health)
	}

	// 2. Upload an image
	var img bytes.Buffer
	png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 160, 120)))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "desk.png")
	part.Write(img.Bytes())
	mw.Close()

	resp, err = http.Post(base+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /upload error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /upload status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var uploaded struct {
		FileID     string               `json:"file_id"`
		Width      int                  `json:"width"`
		Detections []detector.Detection `json:"detections"`
	}
	json.NewDecoder(resp.Body).Decode(&uploaded)
	resp.Body.Close()

	if uploaded.Width != 160 || len(uploaded.Detections) != 1 {
		t.Errorf("unexpected upload response %+v", uploaded)
	}

	// 3. Download the annotated copy
	resp, err = http.Get(base + "/download/" + uploaded.FileID)
	if err != nil {
		t.Fatalf("GET /download error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /download status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %s, want image/png", ct)
	}

	// 4. The upload was recorded
	rec, err := a.store.Uploads().GetByID(uploaded.FileID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if rec.OriginalName != "desk.png" {
		t.Errorf("OriginalName = %s, want desk.png", rec.OriginalName)
	}

	// 5. Offers without SDP are rejected
	resp, err = http.Post(base+"/offer", "application/json", strings.NewReader(`{"type":"offer"}`))
	if err != nil {
		t.Fatalf("POST /offer error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST /offer status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	// 6. Shutdown
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}

	if err := a.store.DB().Ping(); err == nil {
		t.Error("store should be closed after shutdown")
	}
}

func TestNew_RedisUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Backend = "redis"
	cfg.Cache.Redis.Addr = "127.0.0.1:1"

	_, err := New(cfg, nil, WithDetector(detector.NewMockDetector()), WithCodec(stubCodec{}))
	if err == nil {
		t.Fatal("New() should fail when redis is unreachable")
	}
}
