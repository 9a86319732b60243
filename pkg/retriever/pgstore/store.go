// Package pgstore adapts the durable conversation log in Postgres to the
// retriever's Store interface. It is read-only: the surrounding app owns the
// log and its schema; the bridge only queries it. Similarity search uses a
// pgvector embedding column on the turns table.
package pgstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
)

// Config describes the conversation store connection.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string

	// MaxConns and MinConns size the pool. Defaults 10 and 2.
	MaxConns int32
	MinConns int32

	// PingTimeout bounds the startup health check. Default 5s.
	PingTimeout time.Duration
}

// Store is a pooled Postgres client for retrieval queries.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects, configures the pool, and verifies the store with a ping.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse conversation store dsn: %w", err)
	}
	pc.MaxConns = 10
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = 2
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect to conversation store: %w", err)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping conversation store: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Available reports whether the store can serve queries.
func (s *Store) Available() bool {
	return s != nil && s.pool != nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RecentTurns returns the user's latest turns, oldest first.
func (s *Store) RecentTurns(ctx context.Context, userID string, limit int) ([]types.RetrievedTurn, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT role, content, created_at
		FROM conversation_turns
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	var turns []types.RetrievedTurn
	for rows.Next() {
		var (
			role    string
			content string
			created time.Time
		)
		if err := rows.Scan(&role, &content, &created); err != nil {
			return nil, fmt.Errorf("scan recent turn: %w", err)
		}
		turns = append(turns, types.RetrievedTurn{
			Role:      types.Role(role),
			Text:      content,
			CreatedAt: created,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read recent turns: %w", err)
	}

	// The query returns newest first; the bundle wants chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SimilarTurns returns turns near the query embedding, best first, no older
// than maxAge.
func (s *Store) SimilarTurns(ctx context.Context, userID string, embedding []float32, limit int, maxAge time.Duration) ([]types.RetrievedTurn, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx, `
		SELECT role, content, created_at, 1 - (embedding <=> $2) AS score
		FROM conversation_turns
		WHERE user_id = $1
		  AND embedding IS NOT NULL
		  AND created_at > $3
		ORDER BY embedding <=> $2
		LIMIT $4
	`, uid, vec, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query similar turns: %w", err)
	}
	defer rows.Close()

	var turns []types.RetrievedTurn
	for rows.Next() {
		var (
			role    string
			content string
			created time.Time
			score   float64
		)
		if err := rows.Scan(&role, &content, &created, &score); err != nil {
			return nil, fmt.Errorf("scan similar turn: %w", err)
		}
		turns = append(turns, types.RetrievedTurn{
			Role:      types.Role(role),
			Text:      content,
			CreatedAt: created,
			Score:     score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read similar turns: %w", err)
	}
	return turns, nil
}

// Preferences returns the user's durable preferences, sorted by key.
func (s *Store) Preferences(ctx context.Context, userID string) ([]types.Preference, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT key, value
		FROM user_preferences
		WHERE user_id = $1
		ORDER BY key
	`, uid)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var prefs []types.Preference
	for rows.Next() {
		var p types.Preference
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs = append(prefs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	return prefs, nil
}
