package voicebridge

import (
	"fmt"
	"net/url"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
)

// Error is the canonical API error shape shared with the gateway.
type Error = core.Error

const (
	ErrInvalidRequest = core.ErrInvalidRequest
	ErrAuthentication = core.ErrAuthentication
	ErrNotFound       = core.ErrNotFound
	ErrRateLimit      = core.ErrRateLimit
	ErrAPI            = core.ErrAPI
	ErrUnavailable    = core.ErrProviderUnavailable
)

// TransportError wraps failures below the API layer: DNS, dial, TLS, or a
// connection dropped mid-exchange. Gateway refusals decode to *Error instead;
// distinguish with errors.As.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	msg := "transport error"
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.URL != "" {
		msg += " " + redactedURL(e.URL)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// redactedURL strips credentials before a URL lands in error text. Bridge and
// engine endpoints carry their tokens in the query string, and failed dials
// are exactly the errors people paste into bug reports.
func redactedURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	q := u.Query()
	for _, key := range []string{"session_token", "client_secret"} {
		if q.Has(key) {
			q.Set(key, "redacted")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
