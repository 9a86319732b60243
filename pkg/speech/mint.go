package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
)

// Config identifies the speech-engine deployment the broker mints
// credentials against. APIKey is the server's long-lived key; it never
// leaves this process.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Voice      string
	HTTPClient *http.Client
}

func (c Config) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (c Config) model() string {
	if c.Model != "" {
		return c.Model
	}
	return DefaultModel
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// SessionParams carries the per-session knobs the broker forwards to the
// engine when minting.
type SessionParams struct {
	Language     string
	Voice        string
	Instructions string
}

// ClientSecret is a short-lived engine credential for one client session.
type ClientSecret struct {
	Secret    string
	ExpiresAt time.Time
}

type mintRequest struct {
	Session mintSession `json:"session"`
}

type mintSession struct {
	Type         string `json:"type"`
	Model        string `json:"model"`
	Voice        string `json:"voice,omitempty"`
	Language     string `json:"language,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

type mintResponse struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// MintClientSecret trades the server's API key for an ephemeral client
// credential at the engine's session endpoint. Engine unreachable or 5xx
// maps to a retryable provider_unavailable error.
func MintClientSecret(ctx context.Context, cfg Config, params SessionParams) (*ClientSecret, error) {
	voice := params.Voice
	if voice == "" {
		voice = cfg.Voice
	}
	if voice == "" {
		voice = DefaultVoice
	}

	body, err := json.Marshal(mintRequest{
		Session: mintSession{
			Type:         "realtime",
			Model:        cfg.model(),
			Voice:        voice,
			Language:     params.Language,
			Instructions: params.Instructions,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal mint request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		cfg.baseURL()+"/v1/realtime/client_secrets", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create mint request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := cfg.httpClient().Do(req)
	if err != nil {
		return nil, core.NewProviderUnavailableError("speech engine", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mintError(resp)
	}

	var mr mintResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&mr); err != nil {
		return nil, fmt.Errorf("parse mint response: %w", err)
	}
	if mr.Value == "" {
		return nil, core.NewAPIError("mint response carried no credential")
	}

	return &ClientSecret{
		Secret:    mr.Value,
		ExpiresAt: time.Unix(mr.ExpiresAt, 0).UTC(),
	}, nil
}

// mintError classifies a mint failure. The broker turns retryable ones into
// HTTP 503 with Retry-After.
func mintError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return core.NewAuthenticationError(fmt.Sprintf("engine rejected server credentials: %s", detail))
	case resp.StatusCode == http.StatusTooManyRequests:
		return core.NewRateLimitError("engine rate limited credential minting", retryAfterSeconds(resp))
	case resp.StatusCode >= 500:
		return core.NewProviderUnavailableError("speech engine",
			fmt.Errorf("mint status %d: %s", resp.StatusCode, detail))
	default:
		return core.NewInvalidRequestError(fmt.Sprintf("mint status %d: %s", resp.StatusCode, detail))
	}
}

func retryAfterSeconds(resp *http.Response) int {
	var secs int
	fmt.Sscanf(resp.Header.Get("Retry-After"), "%d", &secs)
	if secs < 0 {
		return 0
	}
	return secs
}

// EngineEndpoint builds the full wss URL a client connects to, carrying the
// ephemeral credential and model as query parameters so browser-class
// clients need no custom headers.
func EngineEndpoint(cfg Config, secret string) (string, error) {
	u, err := url.Parse(cfg.baseURL())
	if err != nil {
		return "", fmt.Errorf("parse engine base URL: %w", err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported engine URL scheme %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/v1/realtime"
	q := u.Query()
	q.Set("model", cfg.model())
	q.Set("client_secret", secret)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
