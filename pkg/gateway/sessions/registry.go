// Package sessions tracks bridge sessions from token issue to websocket
// close. The Registry holds tokens minted by the session broker until the
// client connects the bridge channel or the token expires; the Tracker holds
// handles to live connections so shutdown can warn and drain them.
package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
)

// maxSessionTTL caps how long an issued token stays redeemable regardless of
// configuration or provider expiry.
const maxSessionTTL = time.Hour

// Session is one issued bridge session. The token authenticates the bridge
// channel; the identity fields seed the runtime context for every supervisor
// call in the session.
type Session struct {
	ID          string
	UserID      string
	DisplayName string
	Token       string
	Language    string
	Location    *types.Location
	Timezone    string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the session token is past its expiry.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// NewSession carries the caller-supplied fields for Create. TTL above
// maxSessionTTL (or zero) is clamped to maxSessionTTL.
type NewSession struct {
	UserID      string
	DisplayName string
	Language    string
	Location    *types.Location
	Timezone    string
	TTL         time.Duration
}

// Registry is the in-memory session token store. It is single-process by
// design: tokens are short-lived and a restart invalidating them only forces
// clients back through session creation.
type Registry struct {
	maxPerUser int

	mu      sync.Mutex
	byToken map[string]Session
}

// NewRegistry creates a registry that keeps at most maxPerUser unexpired
// sessions per user. maxPerUser <= 0 disables the cap.
func NewRegistry(maxPerUser int) *Registry {
	return &Registry{
		maxPerUser: maxPerUser,
		byToken:    make(map[string]Session),
	}
}

// Create issues a new session. When the user is at the per-user cap the
// oldest issued session is evicted first, so a reconnecting client can
// always mint a fresh token.
func (r *Registry) Create(p NewSession, now time.Time) Session {
	ttl := p.TTL
	if ttl <= 0 || ttl > maxSessionTTL {
		ttl = maxSessionTTL
	}

	s := Session{
		ID:          "s_" + randHex(8),
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Token:       "st_" + randHex(16),
		Language:    p.Language,
		Location:    p.Location,
		Timezone:    p.Timezone,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxPerUser > 0 {
		r.evictOldestLocked(p.UserID, now)
	}
	r.byToken[s.Token] = s
	return s
}

// evictOldestLocked drops expired sessions for userID and then, if the user
// is still at the cap, their oldest remaining session.
func (r *Registry) evictOldestLocked(userID string, now time.Time) {
	var (
		count       int
		oldestToken string
		oldestAt    time.Time
	)
	for token, s := range r.byToken {
		if s.UserID != userID {
			continue
		}
		if s.Expired(now) {
			delete(r.byToken, token)
			continue
		}
		count++
		if oldestToken == "" || s.IssuedAt.Before(oldestAt) {
			oldestToken = token
			oldestAt = s.IssuedAt
		}
	}
	if count >= r.maxPerUser && oldestToken != "" {
		delete(r.byToken, oldestToken)
	}
}

// Lookup resolves a token to its session. Expired and unknown tokens both
// report false; expired entries are removed on the way out.
func (r *Registry) Lookup(token string, now time.Time) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byToken[token]
	if !ok {
		return Session{}, false
	}
	if s.Expired(now) {
		delete(r.byToken, token)
		return Session{}, false
	}
	return s, true
}

// Remove deletes a token, typically once the bridge channel claims it.
func (r *Registry) Remove(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byToken, token)
}

// Len reports how many sessions are currently stored, expired or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byToken)
}

// Sweep removes expired sessions and reports how many it dropped.
func (r *Registry) Sweep(now time.Time) (removed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for token, s := range r.byToken {
		if s.Expired(now) {
			delete(r.byToken, token)
			removed++
		}
	}
	return removed
}

// Run sweeps expired sessions every interval until ctx is done. Call it in
// its own goroutine.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
