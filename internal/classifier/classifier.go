// Package classifier predicts the e-waste category of a photo.
package classifier

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/ayusman/ewaste/internal/inference"
)

// InputSize is the square edge the network expects.
const InputSize = 224

// Categories are the fine-tuned output classes in logit order.
var Categories = []string{
	"Battery",
	"Keyboard",
	"Microwave",
	"Mobile",
	"Mouse",
	"PCB",
	"Player",
	"Printer",
	"Television",
	"WashingMachine",
}

// Prediction is the top-1 class for an image.
type Prediction struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
}

// Classifier predicts a category for an image.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (Prediction, error)
	Close() error
}

// CategoryByName returns the id of a category, matching case-insensitively.
func CategoryByName(name string) (int, bool) {
	for i, c := range Categories {
		if strings.EqualFold(c, name) {
			return i, true
		}
	}
	return 0, false
}

// ResNetClassifier implements Classifier with an ONNX export of the fine-tuned ResNet-34.
type ResNetClassifier struct {
	pool *inference.Pool[*inference.Session]
}

// NewResNetClassifier loads modelPath into poolSize sessions.
// inference.Init must have been called.
func NewResNetClassifier(modelPath string, poolSize int) (*ResNetClassifier, error) {
	spec := inference.SessionSpec{
		ModelPath:   modelPath,
		InputName:   "input",
		OutputName:  "output",
		InputShape:  []int64{1, 3, InputSize, InputSize},
		OutputShape: []int64{1, int64(len(Categories))},
	}

	pool, err := inference.NewPool(poolSize, func() (*inference.Session, error) {
		return inference.NewSession(spec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load classifier model: %w", err)
	}
	return &ResNetClassifier{pool: pool}, nil
}

// Classify resizes img to 224x224, normalizes it with ImageNet statistics and
// returns the softmax top-1 category.
func (c *ResNetClassifier) Classify(ctx context.Context, img image.Image) (Prediction, error) {
	resized := inference.Resize(img, InputSize, InputSize)

	var logits []float32
	err := c.pool.With(ctx, func(s *inference.Session) error {
		if err := inference.FillCHW(resized, s.Input.GetData(), inference.ImageNetMean, inference.ImageNetStd); err != nil {
			return fmt.Errorf("prepare input: %w", err)
		}
		if err := s.Run(); err != nil {
			return fmt.Errorf("run classifier: %w", err)
		}
		logits = append([]float32(nil), s.Output.GetData()...)
		return nil
	})
	if err != nil {
		return Prediction{}, err
	}

	return PredictionFromLogits(logits), nil
}

// Close releases the ONNX sessions.
func (c *ResNetClassifier) Close() error {
	return c.pool.Close()
}

// PredictionFromLogits applies softmax and picks the most likely category.
func PredictionFromLogits(logits []float32) Prediction {
	probs := inference.Softmax(logits)
	idx, conf := inference.Argmax(probs)

	name := ""
	if idx >= 0 && idx < len(Categories) {
		name = Categories[idx]
	}
	return Prediction{ClassID: idx, ClassName: name, Confidence: conf}
}

// MockClassifier is a test implementation of the Classifier interface.
type MockClassifier struct {
	mu         sync.Mutex
	prediction Prediction
	err        error
	calls      int
}

// NewMockClassifier returns a mock that predicts p.
func NewMockClassifier(p Prediction) *MockClassifier {
	return &MockClassifier{prediction: p}
}

// SetError sets the error that will be returned by Classify.
func (m *MockClassifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Classify has been invoked.
func (m *MockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Classify returns the configured prediction or error.
func (m *MockClassifier) Classify(context.Context, image.Image) (Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return Prediction{}, m.err
	}
	return m.prediction, nil
}

// Close is a no-op.
func (m *MockClassifier) Close() error {
	return nil
}
