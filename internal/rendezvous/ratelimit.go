package rendezvous

import (
	"sync"
	"time"

	"github.com/lessonlive/meetmesh/internal/domain"
)

// Limiter throttles inbound control traffic per participant over a
// sliding window. Envelopes over the limit are dropped, not queued.
type Limiter struct {
	mu       sync.Mutex
	history  map[domain.ParticipantID][]time.Time
	limit    int
	interval time.Duration
}

func NewLimiter(limit int, interval time.Duration) *Limiter {
	return &Limiter{
		history:  make(map[domain.ParticipantID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (l *Limiter) Allow(id domain.ParticipantID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-l.interval)

	attempts := l.history[id]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= l.limit {
		l.history[id] = fresh
		return false
	}

	l.history[id] = append(fresh, now)
	return true
}

// Forget drops the participant's window once its connection is gone.
func (l *Limiter) Forget(id domain.ParticipantID) {
	l.mu.Lock()
	delete(l.history, id)
	l.mu.Unlock()
}
