package sse

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/influmatch/influmatch/internal/domain/notification"
)

// SlidingWindowLimiter bounds messages per (user, room) over a window. State
// is process-local, matching the single-node hub.
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

var _ notification.RateLimiter = (*SlidingWindowLimiter)(nil)

func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *SlidingWindowLimiter) Allow(userID uuid.UUID, room string) bool {
	key := userID.String() + "/" + room
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.events[key][:0]
	for _, t := range l.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.events[key] = kept
		return false
	}
	l.events[key] = append(kept, now)
	return true
}
