// Package throttle decides which frames get inferred and which detections get logged.
package throttle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// FrameSkipper passes every interval-th frame.
type FrameSkipper struct {
	interval uint64
	count    atomic.Uint64
}

// NewFrameSkipper returns a skipper for the given interval. Values below 1 mean every frame.
func NewFrameSkipper(interval int) *FrameSkipper {
	if interval < 1 {
		interval = 1
	}
	return &FrameSkipper{interval: uint64(interval)}
}

// ShouldProcess counts a frame and reports whether it should be processed.
func (f *FrameSkipper) ShouldProcess() bool {
	return f.count.Add(1)%f.interval == 0
}

// Count returns the number of frames seen.
func (f *FrameSkipper) Count() uint64 {
	return f.count.Load()
}

// ClassLog tracks when each detected class was last logged for one client.
type ClassLog struct {
	clock    clock.Clock
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewClassLog returns a ClassLog that re-logs a class after interval.
func NewClassLog(clk clock.Clock, interval time.Duration) *ClassLog {
	if clk == nil {
		clk = clock.New()
	}
	return &ClassLog{clock: clk, interval: interval, last: make(map[string]time.Time)}
}

// Observe records the classes present in the current frame and reports whether
// they should be logged. Logging is due when the class set differs from the
// tracked one, or when a class is new or was last logged more than interval ago.
// Classes that are no longer present stop being tracked.
func (l *ClassLog) Observe(classes []string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	current := toSet(classes)

	due := !sameKeys(current, l.last)
	if !due {
		for name := range current {
			if ts, ok := l.last[name]; !ok || now.Sub(ts) > l.interval {
				due = true
				break
			}
		}
	}

	shouldLog := due && len(current) > 0
	if shouldLog {
		for name := range current {
			l.last[name] = now
		}
	}

	for name := range l.last {
		if _, ok := current[name]; !ok {
			delete(l.last, name)
		}
	}

	return shouldLog
}

// Reset forgets every tracked class.
func (l *ClassLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = make(map[string]time.Time)
}

// ChangeGate allows a log line when the class set changes or interval has passed
// since the last allowed line.
type ChangeGate struct {
	clock    clock.Clock
	interval time.Duration

	mu       sync.Mutex
	lastSet  map[string]struct{}
	lastTime time.Time
}

// NewChangeGate returns a gate with the given debounce interval.
func NewChangeGate(clk clock.Clock, interval time.Duration) *ChangeGate {
	if clk == nil {
		clk = clock.New()
	}
	return &ChangeGate{clock: clk, interval: interval, lastSet: map[string]struct{}{}}
}

// Allow reports whether classes should be logged now. Empty class sets are never logged.
func (g *ChangeGate) Allow(classes []string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	current := toSet(classes)
	if len(current) == 0 {
		return false
	}

	if sameKeys(current, g.lastSet) && now.Sub(g.lastTime) <= g.interval {
		return false
	}

	g.lastSet = current
	g.lastTime = now
	return true
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func sameKeys[V any](a map[string]struct{}, b map[string]V) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
