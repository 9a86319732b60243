// Package ratelimit holds the per-user limits for the voice API: a token
// bucket on session creation and a cap on concurrently open live sessions.
// State is in-memory and single-process.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentSessions int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*userLimiter
}

type userLimiter struct {
	mu sync.Mutex

	tb tokenBucket

	sessionSem chan struct{}

	lastSeen time.Time
}

type tokenBucket struct {
	rps      float64
	capacity float64

	tokens float64
	last   time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*userLimiter),
	}
}

func PrincipalKey(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	// 16 bytes => 32 hex chars; enough to avoid collisions in practice.
	return "u_" + hex.EncodeToString(sum[:16])
}

// PrincipalKeyFromIP buckets unauthenticated requests by client address.
func PrincipalKeyFromIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return "ip_" + hex.EncodeToString(sum[:16])
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AcquireRequest gates session creation by RPS/burst.
func (l *Limiter) AcquireRequest(principal string, now time.Time) Decision {
	if principal == "" {
		principal = "anonymous"
	}

	ul := l.getOrCreate(principal, now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		ok, retryAfter := ul.allowToken(now, l.cfg.RPS, l.cfg.Burst)
		if !ok {
			return Decision{Allowed: false, RetryAfter: retryAfter}
		}
	}

	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

// AcquireLive claims one of the user's concurrent live-session slots. The
// permit is held for the life of the bridge connection.
func (l *Limiter) AcquireLive(principal string, now time.Time) Decision {
	if principal == "" {
		principal = "anonymous"
	}

	ul := l.getOrCreate(principal, now)

	if l.cfg.MaxConcurrentSessions > 0 {
		select {
		case ul.sessionSem <- struct{}{}:
			return Decision{
				Allowed: true,
				Permit:  &Permit{release: func() { <-ul.sessionSem }},
			}
		default:
			return Decision{Allowed: false, RetryAfter: 1}
		}
	}

	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

func (l *Limiter) getOrCreate(principal string, now time.Time) *userLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// If still too big, drop one arbitrary entry (bounded memory > perfect fairness).
		if len(l.m) >= l.cfg.MaxEntries {
			for k := range l.m {
				delete(l.m, k)
				break
			}
		}
	}

	if ul, ok := l.m[principal]; ok {
		ul.lastSeen = now
		return ul
	}
	ul := &userLimiter{
		sessionSem: make(chan struct{}, max(1, l.cfg.MaxConcurrentSessions)),
		lastSeen:   now,
	}
	l.m[principal] = ul
	return ul
}

func (l *Limiter) gcLocked(now time.Time) {
	ttl := l.cfg.EntryTTL
	for k, v := range l.m {
		if now.Sub(v.lastSeen) > ttl {
			delete(l.m, k)
		}
	}
}

func (ul *userLimiter) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	if burst <= 0 || rps <= 0 {
		return true, 0
	}
	capacity := float64(burst)
	if ul.tb.capacity == 0 {
		ul.tb = tokenBucket{
			rps:      rps,
			capacity: capacity,
			tokens:   capacity,
			last:     now,
		}
	}

	// If config changes at runtime (rare), adapt.
	ul.tb.rps = rps
	ul.tb.capacity = capacity

	elapsed := now.Sub(ul.tb.last).Seconds()
	if elapsed > 0 {
		ul.tb.tokens = math.Min(ul.tb.capacity, ul.tb.tokens+(elapsed*ul.tb.rps))
		ul.tb.last = now
	}

	if ul.tb.tokens >= 1.0 {
		ul.tb.tokens -= 1.0
		return true, 0
	}

	needed := 1.0 - ul.tb.tokens
	seconds := needed / ul.tb.rps
	retryAfter := int(math.Ceil(seconds))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
