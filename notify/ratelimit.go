package notify

import (
	"sync"
	"time"

	"github.com/warp/movimientos/ledger"
)

// RateLimiter admits or rejects one request for a key.
type RateLimiter interface {
	Allow(key string) bool
}

// SlidingWindow allows at most Limit hits per key within any Window.
// It keeps hit timestamps in memory, which is enough for one peer app.
type SlidingWindow struct {
	limit  int
	window time.Duration
	clock  ledger.Clock

	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewSlidingWindow(limit int, window time.Duration, clock ledger.Clock) *SlidingWindow {
	if clock == nil {
		clock = ledger.SystemClock{}
	}
	return &SlidingWindow{
		limit:  limit,
		window: window,
		clock:  clock,
		hits:   make(map[string][]time.Time),
	}
}

// Allow records a hit for key if the window has room.
func (l *SlidingWindow) Allow(key string) bool {
	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hits[key]
	drop := 0
	for drop < len(hits) && !hits[drop].After(cutoff) {
		drop++
	}
	hits = hits[drop:]

	if len(hits) >= l.limit {
		l.hits[key] = hits
		return false
	}
	l.hits[key] = append(hits, now)
	return true
}
