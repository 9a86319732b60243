// Package retriever assembles the per-turn context bundle: recent
// conversation, similar past turns, and durable preferences, fetched in
// parallel from the conversation store and condensed into a bounded summary
// for the reasoning engine. Retrieval never fails a turn; sections degrade
// independently and a dead store yields an empty bundle.
package retriever

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
)

// Store is the read side of the durable conversation log.
type Store interface {
	// Available reports whether the store can serve queries at all.
	Available() bool
	// RecentTurns returns the user's latest turns, oldest first.
	RecentTurns(ctx context.Context, userID string, limit int) ([]types.RetrievedTurn, error)
	// SimilarTurns returns turns near the query embedding, best first,
	// no older than maxAge.
	SimilarTurns(ctx context.Context, userID string, embedding []float32, limit int, maxAge time.Duration) ([]types.RetrievedTurn, error)
	// Preferences returns the user's durable preferences.
	Preferences(ctx context.Context, userID string) ([]types.Preference, error)
}

// Embedder turns an utterance into a query vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configure a Retriever. Zero values take the defaults.
type Options struct {
	Store    Store
	Embedder Embedder

	// CacheTTL is how long a bundle satisfies repeat lookups for the same
	// user and utterance bucket. Default 20s.
	CacheTTL time.Duration

	// Timeout bounds one retrieval round. Default 2s.
	Timeout time.Duration

	Logger *slog.Logger

	// Now substitutes the clock in tests.
	Now func() time.Time
}

// Retriever fetches and caches context bundles.
type Retriever struct {
	store    Store
	embedder Embedder
	cache    *ttlCache
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Retriever.
func New(opts Options) *Retriever {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 20 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Retriever{
		store:    opts.Store,
		embedder: opts.Embedder,
		cache:    newTTLCache(opts.CacheTTL, opts.Now),
		timeout:  opts.Timeout,
		logger:   opts.Logger,
	}
}

// depthParams are the per-depth retrieval budgets.
type depthParams struct {
	recent     int
	similar    int
	maxAge     time.Duration
	summaryMax int
	prefs      bool
}

func paramsFor(depth types.Depth) depthParams {
	switch depth {
	case types.DepthMinimal:
		return depthParams{recent: 4, summaryMax: 400}
	case types.DepthDeep:
		return depthParams{recent: 16, similar: 10, maxAge: 7 * 24 * time.Hour, summaryMax: 1600, prefs: true}
	default:
		return depthParams{recent: 8, similar: 5, maxAge: 72 * time.Hour, summaryMax: 900, prefs: true}
	}
}

// Retrieve builds the context bundle for one turn. Within the cache TTL,
// identical (user, utterance, depth) calls return the identical bundle.
func (r *Retriever) Retrieve(ctx context.Context, userID, utterance string, depth types.Depth) types.ContextBundle {
	if r.store == nil || !r.store.Available() {
		r.logger.Warn("conversation store unavailable, serving empty bundle", "user_id", userID)
		return types.EmptyBundle()
	}

	key := bucketKey(userID, utterance, depth)
	if bundle, ok := r.cache.get(key); ok {
		return bundle
	}

	p := paramsFor(depth)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		recent  []types.RetrievedTurn
		similar []types.RetrievedTurn
		prefs   []types.Preference

		prefsOK bool
	)

	// Sections run in parallel and degrade independently: a failed section
	// is logged and left empty, never returned as an error.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		turns, err := r.store.RecentTurns(gctx, userID, p.recent)
		if err != nil {
			r.logger.Warn("recency retrieval failed", "user_id", userID, "error", err)
			return nil
		}
		recent = turns
		return nil
	})
	if p.similar > 0 && r.embedder != nil {
		g.Go(func() error {
			embedding, err := r.embedder.Embed(gctx, utterance)
			if err != nil {
				r.logger.Warn("query embedding failed", "user_id", userID, "error", err)
				return nil
			}
			turns, err := r.store.SimilarTurns(gctx, userID, embedding, p.similar, p.maxAge)
			if err != nil {
				r.logger.Warn("similarity retrieval failed", "user_id", userID, "error", err)
				return nil
			}
			similar = turns
			return nil
		})
	}
	if p.prefs {
		g.Go(func() error {
			list, err := r.store.Preferences(gctx, userID)
			if err != nil {
				r.logger.Warn("preference retrieval failed", "user_id", userID, "error", err)
				return nil
			}
			prefs = list
			prefsOK = true
			return nil
		})
	}
	_ = g.Wait()

	bundle := types.ContextBundle{
		RecentTurns:  recent,
		SimilarTurns: similar,
		Preferences:  prefs,
		Summary:      buildSummary(recent, similar, prefs, p.summaryMax),
		Confidence:   confidence(recent, similar, prefsOK),
	}
	r.cache.put(key, bundle)
	return bundle
}

// confidence scores how much the bundle should be trusted: recency carries
// the base, preferences a little, and similarity contributes in proportion
// to its best score.
func confidence(recent, similar []types.RetrievedTurn, prefsOK bool) float64 {
	var c float64
	if len(recent) > 0 {
		c += 0.35
	}
	if prefsOK {
		c += 0.15
	}
	var best float64
	for _, t := range similar {
		if t.Score > best {
			best = t.Score
		}
	}
	if best > 1 {
		best = 1
	}
	c += 0.5 * best
	if c > 1 {
		c = 1
	}
	return c
}
