package capture

import (
	"image"
	"io"
	"sync"
)

// MockSource plays back in-memory frames for testing.
type MockSource struct {
	mu     sync.Mutex
	frames []image.Image
	index  int
	fps    float64
	closed bool
}

// NewMockSource returns a source over frames at fps.
func NewMockSource(frames []image.Image, fps float64) *MockSource {
	return &MockSource{frames: frames, fps: fps}
}

func (m *MockSource) ReadFrame() (image.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.index >= len(m.frames) {
		return nil, io.EOF
	}
	img := m.frames[m.index]
	m.index++
	return img, nil
}

func (m *MockSource) FPS() float64    { return m.fps }
func (m *MockSource) FrameCount() int { return len(m.frames) }

func (m *MockSource) Size() (int, int) {
	if len(m.frames) == 0 {
		return 0, 0
	}
	b := m.frames[0].Bounds()
	return b.Dx(), b.Dy()
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// MockSink records written frames.
type MockSink struct {
	mu     sync.Mutex
	frames []image.Image
	closed bool
}

func NewMockSink() *MockSink {
	return &MockSink{}
}

func (m *MockSink) WriteFrame(img image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.frames = append(m.frames, img)
	return nil
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Frames returns the frames written so far.
func (m *MockSink) Frames() []image.Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]image.Image(nil), m.frames...)
}

// Closed reports whether Close was called.
func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
