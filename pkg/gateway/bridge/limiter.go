package bridge

import "time"

// frameLimiter is a token bucket over inbound frames. A nil limiter allows
// everything.
type frameLimiter struct {
	now      func() time.Time
	capacity float64
	tokens   float64
	refill   float64
	last     time.Time
}

func newFrameLimiter(now func() time.Time, maxPerSec int) *frameLimiter {
	if maxPerSec <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	// Two seconds of burst absorbs a reconnecting client's replayed frames.
	capacity := float64(maxPerSec * 2)
	return &frameLimiter{
		now:      now,
		capacity: capacity,
		tokens:   capacity,
		refill:   float64(maxPerSec),
		last:     now(),
	}
}

func (l *frameLimiter) Allow() bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.tokens += now.Sub(l.last).Seconds() * l.refill
	l.last = now
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}
