package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
)

// maxResponseBytes bounds how much of an engine response body is read.
// Replies are capped at a few hundred tokens, so anything near this limit is
// garbage from an intermediary, not a reply.
const maxResponseBytes = 1 << 20

// doRequest sends one request to the engine and returns the raw body.
func (c *Client) doRequest(ctx context.Context, req *engineRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation (barge-in) is not an engine fault and is never
			// retried.
			return nil, fmt.Errorf("http request: %w", err)
		}
		return nil, core.NewProviderUnavailableError("reasoning engine", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.parseError(resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return respBody, nil
}

// setHeaders sets the required engine API headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("anthropic-version", APIVersion)
}

// engineError is the engine's wire error envelope.
type engineError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseError maps an engine error response onto the shared error taxonomy.
func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	var engErr engineError
	if err := json.Unmarshal(body, &engErr); err != nil || engErr.Error.Type == "" {
		return c.statusError(resp, body)
	}

	var cerr *core.Error
	switch engErr.Error.Type {
	case "invalid_request_error":
		cerr = core.NewInvalidRequestError(engErr.Error.Message)
	case "authentication_error", "permission_error":
		cerr = core.NewAuthenticationError(engErr.Error.Message)
	case "not_found_error":
		cerr = core.NewNotFoundError(engErr.Error.Message)
	case "rate_limit_error":
		cerr = core.NewRateLimitError(engErr.Error.Message, parseRetryAfter(resp))
	case "overloaded_error":
		cerr = core.NewProviderUnavailableError("reasoning engine", errors.New(engErr.Error.Message))
	default:
		cerr = core.NewAPIError(engErr.Error.Message)
	}
	cerr.RequestID = resp.Header.Get("request-id")
	return cerr
}

// statusError is the fallback for unparseable error bodies: classify by
// status code alone so retryability still comes out right.
func (c *Client) statusError(resp *http.Response, body []byte) error {
	msg := fmt.Sprintf("engine returned status %d", resp.StatusCode)
	if len(body) > 0 {
		detail := string(body)
		if len(detail) > 200 {
			detail = detail[:200]
		}
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}

	var cerr *core.Error
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		cerr = core.NewRateLimitError(msg, parseRetryAfter(resp))
	case resp.StatusCode >= 500:
		cerr = core.NewProviderUnavailableError("reasoning engine", errors.New(msg))
	default:
		cerr = core.NewInvalidRequestError(msg)
	}
	cerr.RequestID = resp.Header.Get("request-id")
	return cerr
}

// parseRetryAfter reads the Retry-After header as whole seconds. Both the
// delta-seconds and HTTP-date forms are accepted; absent or malformed
// headers yield zero.
func parseRetryAfter(resp *http.Response) int {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0
		}
		return secs
	}
	if at, err := http.ParseTime(h); err == nil {
		if secs := int(time.Until(at) / time.Second); secs > 0 {
			return secs
		}
	}
	return 0
}
