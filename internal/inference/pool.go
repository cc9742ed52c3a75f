package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
)

// DefaultAcquireTimeout bounds how long Acquire waits for a free resource.
const DefaultAcquireTimeout = 5 * time.Second

var (
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("pool is closed")
	// ErrAcquireTimeout is returned when no resource frees up in time.
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)

// Resource is anything the pool can hand out and tear down.
type Resource interface {
	Destroy() error
}

// Stats reports pool usage counters.
type Stats struct {
	Size            int
	InUse           int64
	TotalAcquired   int64
	TotalReleased   int64
	AcquireFailures int64
}

// Pool is a fixed-size set of reusable resources, typically ONNX sessions.
type Pool[T Resource] struct {
	items          chan T
	size           int
	acquireTimeout time.Duration

	mu     sync.Mutex
	closed bool

	inUse    atomic.Int64
	acquired atomic.Int64
	released atomic.Int64
	failures atomic.Int64
}

// NewPool builds size resources with factory. If any construction fails the
// already built ones are destroyed.
func NewPool[T Resource](size int, factory func() (T, error)) (*Pool[T], error) {
	if size <= 0 {
		size = 1
	}

	p := &Pool[T]{
		items:          make(chan T, size),
		size:           size,
		acquireTimeout: DefaultAcquireTimeout,
	}

	for i := 0; i < size; i++ {
		item, err := factory()
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to initialize session %d: %w", i, err), p.Close())
		}
		p.items <- item
	}

	return p, nil
}

// SetAcquireTimeout overrides DefaultAcquireTimeout.
func (p *Pool[T]) SetAcquireTimeout(d time.Duration) {
	if d > 0 {
		p.acquireTimeout = d
	}
}

// Acquire takes a resource, waiting until one is released, the timeout
// elapses or ctx is done.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case item, ok := <-p.items:
		if !ok {
			return zero, ErrPoolClosed
		}
		p.inUse.Add(1)
		p.acquired.Add(1)
		return item, nil
	case <-timer.C:
		p.failures.Add(1)
		return zero, ErrAcquireTimeout
	case <-ctx.Done():
		p.failures.Add(1)
		return zero, ctx.Err()
	}
}

// Release returns a resource. Resources released after Close are destroyed.
func (p *Pool[T]) Release(item T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inUse.Add(-1)
	p.released.Add(1)

	if p.closed {
		item.Destroy()
		return
	}
	p.items <- item
}

// With acquires a resource, runs fn and releases it.
func (p *Pool[T]) With(ctx context.Context, fn func(T) error) error {
	item, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(item)
	return fn(item)
}

// Close destroys every idle resource. Resources still in use are destroyed on Release.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.items)

	var err error
	for item := range p.items {
		err = multierr.Append(err, item.Destroy())
	}
	return err
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Size:            p.size,
		InUse:           p.inUse.Load(),
		TotalAcquired:   p.acquired.Load(),
		TotalReleased:   p.released.Load(),
		AcquireFailures: p.failures.Load(),
	}
}
