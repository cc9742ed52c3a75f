// Package cache keeps the latest detections of every connected client.
package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/ayusman/ewaste/internal/detector"
)

// ErrUnknownClient is returned for client ids that were never registered or were deleted.
var ErrUnknownClient = errors.New("unknown client")

// Cache maps client ids to their most recent detections.
type Cache interface {
	// Register creates an empty entry for clientID.
	Register(ctx context.Context, clientID string) error
	// Set replaces the detections stored for clientID.
	Set(ctx context.Context, clientID string, dets []detector.Detection) error
	// Get returns the stored detections or ErrUnknownClient.
	Get(ctx context.Context, clientID string) ([]detector.Detection, error)
	// Delete drops clientID. Deleting an unknown client is not an error.
	Delete(ctx context.Context, clientID string) error
	// Len returns the number of registered clients.
	Len(ctx context.Context) (int, error)
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.RWMutex
	clients map[string][]detector.Detection
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{clients: make(map[string][]detector.Detection)}
}

// Register implements Cache.
func (m *Memory) Register(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[clientID]; !ok {
		m.clients[clientID] = []detector.Detection{}
	}
	return nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, clientID string, dets []detector.Detection) error {
	stored := make([]detector.Detection, len(dets))
	copy(stored, dets)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[clientID] = stored
	return nil
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, clientID string) ([]detector.Detection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dets, ok := m.clients[clientID]
	if !ok {
		return nil, ErrUnknownClient
	}
	out := make([]detector.Detection, len(dets))
	copy(out, dets)
	return out, nil
}

// Delete implements Cache.
func (m *Memory) Delete(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, clientID)
	return nil
}

// Len implements Cache.
func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients), nil
}
