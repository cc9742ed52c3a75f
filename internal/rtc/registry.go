package rtc

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Peer is a closable peer connection.
type Peer interface {
	Close() error
}

type peerEntry struct {
	pc     Peer
	tracks []*ClientDrawTrack
}

// Registry is the process-wide set of active peer connections.
type Registry struct {
	logger *zap.Logger

	mu    sync.Mutex
	peers []*peerEntry
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// Add registers pc. Adding the same connection twice is a no-op.
func (r *Registry) Add(pc Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(pc) >= 0 {
		return
	}
	r.peers = append(r.peers, &peerEntry{pc: pc})
}

// AttachTrack associates a client-drawing track with a registered connection.
func (r *Registry) AttachTrack(pc Peer, track *ClientDrawTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexOf(pc); i >= 0 {
		r.peers[i].tracks = append(r.peers[i].tracks, track)
	}
}

// Remove discards pc and closes it. Unknown connections are ignored.
func (r *Registry) Remove(pc Peer) error {
	r.mu.Lock()
	i := r.indexOf(pc)
	if i < 0 {
		r.mu.Unlock()
		return nil
	}
	r.peers = append(r.peers[:i], r.peers[i+1:]...)
	r.mu.Unlock()

	r.logger.Info("cleaning up peer connection")
	return pc.Close()
}

// CloseAll closes every registered connection concurrently and empties the
// registry. It returns the first close error, or ctx.Err() if ctx ends first.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	peers := r.peers
	r.peers = nil
	r.mu.Unlock()

	r.logger.Info("cleaning up peer connections", zap.Int("count", len(peers)))

	var g errgroup.Group
	for _, p := range peers {
		pc := p.pc
		g.Go(pc.Close)
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// BindClientTrack returns the first client-drawing track owned by clientID.
// A track without an owner is bound to clientID and returned. It returns nil
// when no track matches.
func (r *Registry) BindClientTrack(clientID string) *ClientDrawTrack {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.peers {
		for _, t := range p.tracks {
			if t.bind(clientID) {
				return t
			}
		}
	}
	return nil
}

func (r *Registry) indexOf(pc Peer) int {
	for i, p := range r.peers {
		if p.pc == pc {
			return i
		}
	}
	return -1
}
