package detector

import (
	"context"
	"image"
	"sync"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu         sync.Mutex
	detections []Detection
	err        error
	calls      int
	lastConf   float64
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetDetections sets the detections that will be returned by Detect.
func (m *MockDetector) SetDetections(dets []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = dets
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastConfidence returns the threshold passed to the latest Detect call.
func (m *MockDetector) LastConfidence() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConf
}

// Detect returns a copy of the pre-configured detections or error.
func (m *MockDetector) Detect(_ context.Context, _ image.Image, minConfidence float64) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastConf = minConfidence
	if m.err != nil {
		return nil, m.err
	}

	out := make([]Detection, 0, len(m.detections))
	for _, d := range m.detections {
		if d.Confidence >= minConfidence {
			out = append(out, d)
		}
	}
	return out, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// MouseDetection returns a preset detection of a computer mouse.
func MouseDetection() Detection {
	return Detection{X1: 10, Y1: 20, X2: 110, Y2: 90, Confidence: 0.91, ClassID: 64, ClassName: "mouse"}
}

// KeyboardDetection returns a preset detection of a keyboard.
func KeyboardDetection() Detection {
	return Detection{X1: 120, Y1: 40, X2: 300, Y2: 160, Confidence: 0.76, ClassID: 66, ClassName: "keyboard"}
}
