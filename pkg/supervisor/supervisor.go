// Package supervisor is the client for the heavyweight reasoning engine that
// voice sessions delegate hard turns to. It frames conversation history,
// retrieved context, and the narrowed tool catalog into an Anthropic-style
// Messages request and parses back either a settled spoken reply or a batch
// of tool invocations to dispatch.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/tools"
)

const (
	// DefaultBaseURL is the default reasoning-engine endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// APIVersion is the required engine API version header.
	APIVersion = "2023-06-01"

	// DefaultModel is the engine model used when none is configured.
	DefaultModel = "claude-sonnet-4-5"

	// DefaultMaxTokens bounds reply length. Replies are spoken aloud, so the
	// ceiling is deliberately low.
	DefaultMaxTokens = 1024

	// defaultRetryDelay is the backoff before the single retry when the
	// engine did not say how long to wait.
	defaultRetryDelay = 500 * time.Millisecond

	// maxRetryDelay caps Retry-After for voice turns. Waiting longer than
	// this would feel like a dropped call to the speaker.
	maxRetryDelay = 5 * time.Second
)

// Request carries one delegation round's inputs: the spoken conversation so
// far, the retrieved context bundle, the session's ambient facts, and the
// prefiltered tool catalog.
type Request struct {
	History []types.Turn
	Bundle  types.ContextBundle
	Runtime types.RuntimeContext
	Tools   []tools.Definition
}

// Reply is the engine's output for one call: settled text, zero or more tool
// invocations, or both. When Invocations is non-empty the caller must execute
// every one and come back through ContinueWithResults before the turn can
// settle.
type Reply struct {
	Text        string
	Invocations []types.ToolInvocation
	StopReason  string
	Usage       types.Usage

	conv conversation
}

// Settled reports whether the reply finished the turn with no tools pending.
func (r *Reply) Settled() bool {
	return r != nil && len(r.Invocations) == 0
}

// Client calls the reasoning engine over HTTP.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
	sleep      func(context.Context, time.Duration) error
}

// New creates a reasoning-engine client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		maxTokens:  DefaultMaxTokens,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     slog.Default(),
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate runs the opening engine call for a delegated turn.
func (c *Client) Generate(ctx context.Context, req Request) (*Reply, error) {
	if len(req.History) == 0 {
		return nil, core.NewInvalidRequestError("history is empty")
	}

	conv := conversation{
		system:   buildSystem(req.Runtime, req.Bundle),
		tools:    convertTools(req.Tools),
		messages: convertHistory(req.History),
	}
	return c.send(ctx, conv)
}

// ContinueWithResults appends the paired tool results to a prior exchange and
// issues the follow-up call. Every invocation from the prior reply must have
// exactly one result; anything else is a protocol violation, because a
// dropped or duplicated result would silently corrupt the exchange.
func (c *Client) ContinueWithResults(ctx context.Context, prior *Reply, results []types.ToolResult) (*Reply, error) {
	if prior == nil || len(prior.conv.messages) == 0 {
		return nil, core.NewProtocolError("no prior exchange to continue")
	}
	if len(prior.Invocations) == 0 {
		return nil, core.NewProtocolError("prior reply requested no tools")
	}

	blocks, err := pairResults(prior.Invocations, results)
	if err != nil {
		return nil, err
	}

	conv := prior.conv.withResults(blocks)
	reply, err := c.send(ctx, conv)
	if err != nil {
		return nil, err
	}
	reply.Usage = prior.Usage.Add(reply.Usage)
	return reply, nil
}

// send runs one engine call with the transport policy applied: a single
// retry with backoff on retryable failures, honoring Retry-After.
func (c *Client) send(ctx context.Context, conv conversation) (*Reply, error) {
	engReq := c.buildRequest(conv)

	body, err := c.doRequest(ctx, engReq)
	if err != nil {
		retryErr := retryableError(err)
		if retryErr == nil {
			return nil, err
		}

		delay := retryDelay(retryErr)
		c.logger.Warn("engine call failed, retrying once",
			"error", err,
			"delay", delay)
		if serr := c.sleep(ctx, delay); serr != nil {
			return nil, serr
		}

		body, err = c.doRequest(ctx, engReq)
		if err != nil {
			return nil, err
		}
	}

	return parseResponse(body, conv)
}

// retryableError returns the typed error when err warrants the single retry,
// nil otherwise.
func retryableError(err error) *core.Error {
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr.IsRetryable() {
		return coreErr
	}
	return nil
}

// retryDelay picks the backoff for a retryable error, honoring Retry-After
// up to the voice-turn cap.
func retryDelay(err *core.Error) time.Duration {
	if err.RetryAfter == nil || *err.RetryAfter <= 0 {
		return defaultRetryDelay
	}
	d := time.Duration(*err.RetryAfter) * time.Second
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
