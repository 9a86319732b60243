package retriever

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
)

type fakeStore struct {
	available bool
	latency   time.Duration

	recentErr  error
	similarErr error
	prefsErr   error

	recentCalls  atomic.Int64
	similarCalls atomic.Int64
	prefsCalls   atomic.Int64
}

func (f *fakeStore) Available() bool { return f.available }

func (f *fakeStore) RecentTurns(ctx context.Context, userID string, limit int) ([]types.RetrievedTurn, error) {
	f.recentCalls.Add(1)
	time.Sleep(f.latency)
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	turns := []types.RetrievedTurn{
		{Role: types.RoleUser, Text: "book a dentist appointment tomorrow at 3pm"},
		{Role: types.RoleAssistant, Text: "Done! I've booked your dentist appointment for 3pm."},
	}
	if limit < len(turns) {
		turns = turns[:limit]
	}
	return turns, nil
}

func (f *fakeStore) SimilarTurns(ctx context.Context, userID string, embedding []float32, limit int, maxAge time.Duration) ([]types.RetrievedTurn, error) {
	f.similarCalls.Add(1)
	time.Sleep(f.latency)
	if f.similarErr != nil {
		return nil, f.similarErr
	}
	return []types.RetrievedTurn{
		{Role: types.RoleUser, Text: "my dentist is on Crown Street", Score: 0.84},
	}, nil
}

func (f *fakeStore) Preferences(ctx context.Context, userID string) ([]types.Preference, error) {
	f.prefsCalls.Add(1)
	time.Sleep(f.latency)
	if f.prefsErr != nil {
		return nil, f.prefsErr
	}
	return []types.Preference{{Key: "preferred_fuel_brand", Value: "Shell"}}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func testRetriever(store Store, opts Options) *Retriever {
	opts.Store = store
	if opts.Embedder == nil {
		opts.Embedder = fakeEmbedder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return New(opts)
}

func TestRetrieveAssemblesBundle(t *testing.T) {
	t.Parallel()

	store := &fakeStore{available: true}
	r := testRetriever(store, Options{})
	bundle := r.Retrieve(context.Background(), "user_1", "change it to 4pm", types.DepthStandard)

	if len(bundle.RecentTurns) != 2 {
		t.Errorf("expected 2 recent turns, got %d", len(bundle.RecentTurns))
	}
	if len(bundle.SimilarTurns) != 1 {
		t.Errorf("expected 1 similar turn, got %d", len(bundle.SimilarTurns))
	}
	if len(bundle.Preferences) != 1 {
		t.Errorf("expected 1 preference, got %d", len(bundle.Preferences))
	}
	if !strings.Contains(bundle.Summary, "Recent conversation:") {
		t.Errorf("expected summary to open with recency, got %q", bundle.Summary)
	}
	if !strings.Contains(bundle.Summary, "preferred_fuel_brand: Shell") {
		t.Errorf("expected preferences in summary, got %q", bundle.Summary)
	}
	if bundle.Confidence <= 0.5 {
		t.Errorf("expected high confidence with all sections, got %v", bundle.Confidence)
	}
}

func TestRetrieveRunsSectionsInParallel(t *testing.T) {
	t.Parallel()

	store := &fakeStore{available: true, latency: 80 * time.Millisecond}
	r := testRetriever(store, Options{})
	start := time.Now()
	r.Retrieve(context.Background(), "user_1", "plan a trip", types.DepthStandard)
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("expected parallel sections, took %v", elapsed)
	}
}

func TestRetrieveMinimalDepthSkipsExpensiveSections(t *testing.T) {
	t.Parallel()

	store := &fakeStore{available: true}
	r := testRetriever(store, Options{})
	bundle := r.Retrieve(context.Background(), "user_1", "quick one", types.DepthMinimal)

	if store.similarCalls.Load() != 0 {
		t.Error("expected no similarity query at minimal depth")
	}
	if store.prefsCalls.Load() != 0 {
		t.Error("expected no preference query at minimal depth")
	}
	if len(bundle.RecentTurns) == 0 {
		t.Error("expected recency section at minimal depth")
	}
}

func TestRetrieveUnknownDepthBehavesAsStandard(t *testing.T) {
	t.Parallel()

	store := &fakeStore{available: true}
	r := testRetriever(store, Options{})
	r.Retrieve(context.Background(), "user_1", "hm", types.Depth("bogus"))
	if store.similarCalls.Load() != 1 {
		t.Errorf("expected standard-depth similarity query, got %d calls", store.similarCalls.Load())
	}
}

func TestRetrieveCachesWithinTTL(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{available: true}
	r := testRetriever(store, Options{CacheTTL: 20 * time.Second, Now: func() time.Time { return now }})

	first := r.Retrieve(context.Background(), "user_1", "book a dentist appointment", types.DepthStandard)
	second := r.Retrieve(context.Background(), "user_1", "book a dentist appointment", types.DepthStandard)
	if !reflect.DeepEqual(first, second) {
		t.Error("expected identical bundle within TTL")
	}
	if got := store.recentCalls.Load(); got != 1 {
		t.Errorf("expected one store round within TTL, got %d", got)
	}

	// Depth is part of the identity; a deeper call must not reuse it.
	r.Retrieve(context.Background(), "user_1", "book a dentist appointment", types.DepthDeep)
	if got := store.recentCalls.Load(); got != 2 {
		t.Errorf("expected deep call to bypass the standard cache entry, got %d rounds", got)
	}

	now = now.Add(21 * time.Second)
	r.Retrieve(context.Background(), "user_1", "book a dentist appointment", types.DepthStandard)
	if got := store.recentCalls.Load(); got != 3 {
		t.Errorf("expected fresh fetch after TTL, got %d rounds", got)
	}
}

func TestRetrieveDegradesFailedSections(t *testing.T) {
	t.Parallel()

	store := &fakeStore{available: true, similarErr: errors.New("pgvector index rebuilding")}
	r := testRetriever(store, Options{})
	bundle := r.Retrieve(context.Background(), "user_1", "change it to 4pm", types.DepthStandard)

	if len(bundle.SimilarTurns) != 0 {
		t.Error("expected failed similarity section empty")
	}
	if len(bundle.RecentTurns) == 0 || len(bundle.Preferences) == 0 {
		t.Error("expected surviving sections populated")
	}
	if bundle.Confidence <= 0 {
		t.Error("expected partial confidence, got zero")
	}

	full := testRetriever(&fakeStore{available: true}, Options{})
	if fullBundle := full.Retrieve(context.Background(), "user_1", "change it to 4pm", types.DepthStandard); fullBundle.Confidence <= bundle.Confidence {
		t.Errorf("expected degraded confidence %v below full %v", bundle.Confidence, fullBundle.Confidence)
	}
}

func TestRetrieveUnavailableStoreYieldsEmptyBundle(t *testing.T) {
	t.Parallel()

	store := &fakeStore{available: false}
	r := testRetriever(store, Options{})
	bundle := r.Retrieve(context.Background(), "user_1", "anything", types.DepthStandard)

	if !bundle.Empty() {
		t.Errorf("expected empty bundle, got %+v", bundle)
	}
	if bundle.Confidence != 0 {
		t.Errorf("expected zero confidence, got %v", bundle.Confidence)
	}
	if store.recentCalls.Load() != 0 {
		t.Error("expected no queries against an unavailable store")
	}
}

func TestRetrieveWithoutEmbedderSkipsSimilarity(t *testing.T) {
	t.Parallel()

	store := &fakeStore{available: true}
	r := New(Options{Store: store, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	bundle := r.Retrieve(context.Background(), "user_1", "change it to 4pm", types.DepthStandard)

	if store.similarCalls.Load() != 0 {
		t.Error("expected no similarity query without an embedder")
	}
	if len(bundle.RecentTurns) == 0 {
		t.Error("expected recency section still served")
	}
}

func TestSummaryRespectsBudgetAtLineBoundaries(t *testing.T) {
	t.Parallel()

	var recent []types.RetrievedTurn
	for i := 0; i < 30; i++ {
		recent = append(recent, types.RetrievedTurn{
			Role: types.RoleUser,
			Text: strings.Repeat("plan the coastal leg and the fuel stops ", 6),
		})
	}
	summary := buildSummary(recent, nil, []types.Preference{{Key: "rig", Value: "caravan"}}, 400)

	if len(summary) > 400 {
		t.Fatalf("expected summary within budget, got %d chars", len(summary))
	}
	for _, line := range strings.Split(summary, "\n") {
		if line == "" {
			t.Error("expected no empty summary lines")
			continue
		}
		if line != "Recent conversation:" && !strings.HasPrefix(line, "- ") {
			t.Errorf("expected whole lines only, got %q", line)
		}
	}
}

func TestBucketKeyFoldsUtterances(t *testing.T) {
	t.Parallel()

	a := bucketKey("user_1", "Book a dentist appointment tomorrow", types.DepthStandard)
	b := bucketKey("user_1", "book, A DENTIST appointment tomorrow!!", types.DepthStandard)
	if a != b {
		t.Errorf("expected folded spellings to share a bucket: %v vs %v", a, b)
	}
	c := bucketKey("user_2", "Book a dentist appointment tomorrow", types.DepthStandard)
	if a == c {
		t.Error("expected per-user buckets")
	}
}
