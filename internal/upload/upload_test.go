package upload

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/ewaste/internal/capture"
	"github.com/ayusman/ewaste/internal/detector"
	"github.com/ayusman/ewaste/internal/logging"
	"github.com/ayusman/ewaste/internal/store"
)

type fakeRecorder struct {
	mu      sync.Mutex
	uploads []*store.Upload
}

func (r *fakeRecorder) Create(u *store.Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads = append(r.uploads, u)
	return nil
}

func newTestProcessor(t *testing.T, det detector.Detector) (*Processor, *fakeRecorder) {
	t.Helper()

	dir := t.TempDir()
	rec := &fakeRecorder{}
	p, err := NewProcessor(Config{
		UploadDir:    filepath.Join(dir, "uploads"),
		ProcessedDir: filepath.Join(dir, "processed"),
		Confidence:   0.25,
	}, det, rec, logging.NewTestLogger(t))
	require.NoError(t, err)
	return p, rec
}

func grayImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 40, G: 40, B: 40, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"photo.jpg", KindImage},
		{"photo.JPEG", KindImage},
		{"scan.bmp", KindImage},
		{"clip.mp4", KindVideo},
		{"clip.MKV", KindVideo},
		{"notes.txt", KindUnsupported},
		{"noext", KindUnsupported},
		{"anim.gif", KindUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.name))
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", ContentType(".JPG"))
	assert.Equal(t, "video/quicktime", ContentType(".mov"))
	assert.Equal(t, "", ContentType(".txt"))
}

func TestProcess_Image(t *testing.T) {
	det := detector.NewMockDetector()
	det.SetDetections([]detector.Detection{detector.MouseDetection()})
	p, rec := newTestProcessor(t, det)

	res, err := p.Process(context.Background(), "desk.png", bytes.NewReader(pngBytes(t, grayImage(200, 150))), 0)
	require.NoError(t, err)

	assert.Equal(t, 0.25, det.LastConfidence(), "zero confidence uses the default")
	assert.False(t, res.IsVideo)
	assert.Nil(t, res.Duration)
	assert.Equal(t, 200, res.Width)
	assert.Equal(t, 150, res.Height)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, 200, res.Detections[0].ImageWidth)

	assert.Empty(t, dirEntries(t, p.config.UploadDir), "upload is removed after processing")

	path, contentType, err := p.ProcessedPath(res.FileID)
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)
	assert.True(t, strings.HasSuffix(path, res.FileID+"_processed.png"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	out, err := png.Decode(f)
	require.NoError(t, err)
	_, g, _, _ := out.At(60, 20).RGBA()
	assert.Greater(t, g>>8, uint32(100), "box is drawn on the output")

	require.Len(t, rec.uploads, 1)
	assert.Equal(t, res.FileID, rec.uploads[0].FileID)
	assert.Equal(t, "desk.png", rec.uploads[0].OriginalName)
}

func TestProcess_ExplicitConfidence(t *testing.T) {
	det := detector.NewMockDetector()
	det.SetDetections([]detector.Detection{detector.MouseDetection(), detector.KeyboardDetection()})
	p, _ := newTestProcessor(t, det)

	res, err := p.Process(context.Background(), "desk.png", bytes.NewReader(pngBytes(t, grayImage(320, 200))), 0.8)
	require.NoError(t, err)
	assert.Equal(t, 0.8, det.LastConfidence())
	require.Len(t, res.Detections, 1)
	assert.Equal(t, "mouse", res.Detections[0].ClassName)
}

func TestProcess_UnsupportedType(t *testing.T) {
	p, rec := newTestProcessor(t, detector.NewMockDetector())

	_, err := p.Process(context.Background(), "notes.txt", strings.NewReader("hello"), 0)
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Empty(t, dirEntries(t, p.config.UploadDir))
	assert.Empty(t, rec.uploads)
}

func TestProcess_UnreadableImage(t *testing.T) {
	p, rec := newTestProcessor(t, detector.NewMockDetector())

	_, err := p.Process(context.Background(), "broken.jpg", strings.NewReader("not a jpeg"), 0)
	assert.ErrorIs(t, err, ErrUnreadable)
	assert.Empty(t, dirEntries(t, p.config.UploadDir), "failed uploads are removed")
	assert.Empty(t, dirEntries(t, p.config.ProcessedDir))
	assert.Empty(t, rec.uploads)
}

func TestProcess_DetectorError(t *testing.T) {
	det := detector.NewMockDetector()
	det.SetError(errors.New("session busy"))
	p, _ := newTestProcessor(t, det)

	_, err := p.Process(context.Background(), "desk.png", bytes.NewReader(pngBytes(t, grayImage(10, 10))), 0)
	assert.Error(t, err)
	assert.Empty(t, dirEntries(t, p.config.ProcessedDir))
}

func TestProcessedPath_NotFound(t *testing.T) {
	p, _ := newTestProcessor(t, detector.NewMockDetector())

	_, _, err := p.ProcessedPath("00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = p.ProcessedPath("../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProcess_Video(t *testing.T) {
	det := detector.NewMockDetector()
	det.SetDetections([]detector.Detection{detector.MouseDetection()})
	p, rec := newTestProcessor(t, det)

	frame := grayImage(160, 120)
	frames := make([]image.Image, 300)
	for i := range frames {
		frames[i] = frame
	}

	sink := capture.NewMockSink()
	p.openVideo = func(string) (capture.Source, error) {
		return capture.NewMockSource(frames, 40), nil
	}
	p.createVideo = func(_ string, fps float64, w, h int) (capture.Sink, error) {
		assert.Equal(t, 40.0, fps)
		assert.Equal(t, 160, w)
		assert.Equal(t, 120, h)
		return sink, nil
	}

	res, err := p.Process(context.Background(), "clip.mp4", strings.NewReader("video bytes"), 0)
	require.NoError(t, err)

	assert.True(t, res.IsVideo)
	require.NotNil(t, res.Duration)
	assert.Equal(t, 7.5, *res.Duration)
	assert.Equal(t, 160, res.Width)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, 120, res.Detections[0].ImageHeight)

	// fps 40 samples every 10th frame
	assert.Equal(t, 30, det.Calls())

	written := sink.Frames()
	require.Len(t, written, 300)
	assert.True(t, sink.Closed())
	assert.NotSame(t, frame, written[0], "sampled frames are annotated")
	assert.NotSame(t, frame, written[4], "frames near a sample reuse its boxes")
	assert.Same(t, frame, written[5], "frames half a step away are left as is")

	require.Len(t, rec.uploads, 1)
	assert.True(t, rec.uploads[0].IsVideo)
	assert.Equal(t, 7.5, rec.uploads[0].Duration)
}

func TestSampleStep(t *testing.T) {
	tests := []struct {
		fps, frames, want int
	}{
		{fps: 30, frames: 300, want: 7},
		{fps: 30, frames: 50, want: 3},
		{fps: 40, frames: 300, want: 10},
		{fps: 0, frames: 10, want: 1},
		{fps: 2, frames: 1000, want: 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SampleStep(tt.fps, tt.frames), "fps=%d frames=%d", tt.fps, tt.frames)
	}
}

func TestNearestSample(t *testing.T) {
	sampled := map[int][]string{0: {"mouse"}, 10: {"tv"}}

	got, ok := nearestSample(sampled, 8, 5)
	assert.True(t, ok)
	assert.Equal(t, 10, got)

	_, ok = nearestSample(sampled, 5, 5)
	assert.False(t, ok)
}
