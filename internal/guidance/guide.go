package guidance

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultModel is the Gemini model used for guidance.
const DefaultModel = "gemini-1.5-flash"

// Guide streams disposal advice. emit is called once per text chunk; an
// error from emit stops the stream and is returned.
type Guide interface {
	Stream(ctx context.Context, req Request, emit func(chunk string) error) error
}

// GeminiGuide implements Guide with the Gemini API.
type GeminiGuide struct {
	client  *genai.Client
	model   string
	catalog *Catalog
	logger  *zap.Logger
}

// NewGeminiGuide creates a Gemini client for apiKey.
func NewGeminiGuide(ctx context.Context, apiKey, model string, catalog *Catalog, logger *zap.Logger) (*GeminiGuide, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiGuide{client: client, model: model, catalog: catalog, logger: logger}, nil
}

// Stream asks the model for guidance and forwards each chunk of text.
func (g *GeminiGuide) Stream(ctx context.Context, req Request, emit func(string) error) error {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.catalog.SystemInstruction(req), genai.RoleUser),
	}

	chunks := 0
	for result, err := range g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(Prompt(req)), config) {
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		text := result.Text()
		if text == "" {
			continue
		}
		if err := emit(text); err != nil {
			return err
		}
		chunks++
	}

	g.logger.Debug("guidance streamed",
		zap.String("location", req.Location),
		zap.String("image_class", req.ImageClass),
		zap.Int("chunks", chunks),
	)
	return nil
}

// MockGuide is a test implementation of the Guide interface.
type MockGuide struct {
	mu       sync.Mutex
	chunks   []string
	err      error
	requests []Request
}

// NewMockGuide returns a guide that emits chunks in order.
func NewMockGuide(chunks ...string) *MockGuide {
	return &MockGuide{chunks: chunks}
}

// SetError makes Stream fail after emitting the configured chunks.
func (m *MockGuide) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns the requests seen so far.
func (m *MockGuide) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockGuide) Stream(_ context.Context, req Request, emit func(string) error) error {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	chunks, err := m.chunks, m.err
	m.mu.Unlock()

	for _, c := range chunks {
		if err := emit(c); err != nil {
			return err
		}
	}
	return err
}
