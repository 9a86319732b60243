// Package voicebridge is the Go client for the voice bridge gateway: a broker
// client that mints sessions, and a voice session that runs the two live
// channels (speech engine and bridge) plus the local audio path.
package voicebridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
)

const defaultConnectTimeout = 15 * time.Second

// Client talks to the voice bridge gateway.
type Client struct {
	baseURL        string
	identityToken  string
	httpClient     *http.Client
	connectTimeout time.Duration
	logger         *slog.Logger
}

// NewClient creates a gateway client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:        "http://localhost:8080",
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		connectTimeout: defaultConnectTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
	return c
}

// SessionRequest asks the broker for a new voice session.
type SessionRequest struct {
	// IdentityToken proves who the user is. Falls back to the client's
	// default token when empty.
	IdentityToken string

	Language string
	Location *types.Location
	Timezone string
}

// SessionGrant is a minted session: the single-use bridge token and the two
// endpoints a voice session connects to.
type SessionGrant struct {
	SessionToken   string
	ExpiresAt      time.Time
	EngineEndpoint string
	BridgeEndpoint string
}

type createSessionBody struct {
	UserIdentityToken string          `json:"user_identity_token,omitempty"`
	Language          string          `json:"language,omitempty"`
	Location          *types.Location `json:"location,omitempty"`
	Timezone          string          `json:"timezone,omitempty"`
}

// createSessionReply decodes expires_at as raw JSON so a numeric timestamp,
// which downstream clock math silently misreads, fails loudly here.
type createSessionReply struct {
	SessionToken   string          `json:"session_token"`
	ExpiresAt      json.RawMessage `json:"expires_at"`
	EngineEndpoint string          `json:"engine_endpoint"`
}

// CreateSession mints a session with the broker and derives the bridge
// websocket endpoint from the gateway base URL.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*SessionGrant, error) {
	token := strings.TrimSpace(req.IdentityToken)
	if token == "" {
		token = strings.TrimSpace(c.identityToken)
	}
	if token == "" {
		return nil, core.NewAuthenticationError("no identity token configured")
	}

	body, err := json.Marshal(createSessionBody{
		UserIdentityToken: token,
		Language:          req.Language,
		Location:          req.Location,
		Timezone:          req.Timezone,
	})
	if err != nil {
		return nil, fmt.Errorf("encode session request: %w", err)
	}

	endpoint := c.baseURL + "/v1/voice/sessions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "POST", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Op: "POST", URL: endpoint, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp.StatusCode, payload)
	}

	var reply createSessionReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	if strings.TrimSpace(reply.SessionToken) == "" {
		return nil, fmt.Errorf("session response missing session_token")
	}

	expiresAt, err := parseExpiry(reply.ExpiresAt)
	if err != nil {
		return nil, err
	}

	bridgeURL, err := c.bridgeEndpoint(reply.SessionToken)
	if err != nil {
		return nil, err
	}

	return &SessionGrant{
		SessionToken:   reply.SessionToken,
		ExpiresAt:      expiresAt,
		EngineEndpoint: reply.EngineEndpoint,
		BridgeEndpoint: bridgeURL,
	}, nil
}

// parseExpiry accepts only an RFC 3339 string. A numeric expires_at is an
// interop regression and is rejected outright rather than guessed at.
func parseExpiry(raw json.RawMessage) (time.Time, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return time.Time{}, fmt.Errorf("session response missing expires_at")
	}
	if trimmed[0] != '"' {
		return time.Time{}, fmt.Errorf("expires_at must be an RFC 3339 string, got %s", string(trimmed))
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return time.Time{}, fmt.Errorf("decode expires_at: %w", err)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expires_at %q: %w", s, err)
	}
	return t, nil
}

func (c *Client) bridgeEndpoint(sessionToken string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", core.NewInvalidRequestError("invalid gateway base URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", core.NewInvalidRequestError("gateway base URL must use http(s) or ws(s)")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice/bridge"
	q := u.Query()
	q.Set("session_token", sessionToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decodeAPIError turns a non-200 broker response into the canonical error.
func decodeAPIError(status int, payload []byte) error {
	var envelope struct {
		Error *core.Error `json:"error"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Error != nil {
		return envelope.Error
	}
	return &core.Error{
		Type:    core.ErrAPI,
		Message: fmt.Sprintf("unexpected gateway response (status %d)", status),
	}
}
