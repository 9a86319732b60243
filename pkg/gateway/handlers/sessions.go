package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/apierror"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/auth"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/config"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/lifecycle"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/sessions"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/speech"
)

type createSessionRequest struct {
	UserIdentityToken string          `json:"user_identity_token,omitempty"`
	Language          string          `json:"language,omitempty"`
	Location          *types.Location `json:"location,omitempty"`
	Timezone          string          `json:"timezone,omitempty"`
}

type createSessionResponse struct {
	SessionToken   string `json:"session_token"`
	ExpiresAt      string `json:"expires_at"`
	EngineEndpoint string `json:"engine_endpoint"`
}

// CreateSessionHandler is the session broker: it verifies the caller's
// identity, trades the server's engine key for an ephemeral client
// credential, and issues the bridge session token. Purely credential
// minting; nothing is persisted.
type CreateSessionHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Verifier  *auth.Verifier
	Registry  *sessions.Registry
	Lifecycle *lifecycle.Lifecycle
	Engine    speech.Config
	Now       func() time.Time
}

func (h CreateSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	if r.Method != http.MethodPost {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrInvalidRequest,
			Message: "method not allowed",
			Code:    "method_not_allowed",
		}, http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, drainingError(), http.StatusServiceUnavailable)
		return
	}

	var req createSessionRequest
	body := http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrInvalidRequest,
			Message: "invalid request body",
		}, http.StatusBadRequest)
		return
	}

	principal, err := h.resolvePrincipal(r, req)
	if err != nil {
		writeErrorFrom(w, r, err)
		return
	}

	secret, err := speech.MintClientSecret(r.Context(), h.Engine, speech.SessionParams{
		Language: req.Language,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("client secret mint failed", "request_id", reqID, "user_id", principal.UserID, "error", err)
		}
		coreErr, status := apierror.FromError(err, reqID)
		if coreErr.Type == core.ErrAuthentication {
			// The engine refused the server's own key. That is this
			// deployment's outage, never the caller's auth failure.
			coreErr = &core.Error{Type: core.ErrAPI, Message: "speech engine rejected server credentials"}
			status = http.StatusBadGateway
		}
		if coreErr.Type == core.ErrProviderUnavailable && coreErr.RetryAfter == nil {
			retry := 1
			coreErr.RetryAfter = &retry
		}
		writeCoreErrorJSON(w, reqID, coreErr, status)
		return
	}

	endpoint, err := speech.EngineEndpoint(h.Engine, secret.Secret)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("engine endpoint build failed", "request_id", reqID, "error", err)
		}
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrAPI,
			Message: "internal error",
		}, http.StatusInternalServerError)
		return
	}

	// The bridge token never outlives the engine credential it is paired
	// with; the registry caps both at one hour.
	now := h.now()
	ttl := h.Config.SessionTTL
	if window := secret.ExpiresAt.Sub(now); window > 0 && window < ttl {
		ttl = window
	}

	sess := h.Registry.Create(sessions.NewSession{
		UserID:      principal.UserID,
		DisplayName: principal.DisplayName,
		Language:    req.Language,
		Location:    req.Location,
		Timezone:    req.Timezone,
		TTL:         ttl,
	}, now)

	if h.Logger != nil {
		h.Logger.Info("voice session created",
			"request_id", reqID,
			"session_id", sess.ID,
			"user_id", sess.UserID,
			"expires_at", sess.ExpiresAt.UTC().Format(time.RFC3339),
		)
	}

	writeJSON(w, http.StatusOK, createSessionResponse{
		SessionToken:   sess.Token,
		ExpiresAt:      sess.ExpiresAt.UTC().Format(time.RFC3339),
		EngineEndpoint: endpoint,
	})
}

// resolvePrincipal takes the identity from the bearer header when the auth
// middleware resolved one, else from the identity token in the body, which
// browser-class clients use when they cannot set headers.
func (h CreateSessionHandler) resolvePrincipal(r *http.Request, req createSessionRequest) (*auth.Principal, error) {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return p, nil
	}
	token := strings.TrimSpace(req.UserIdentityToken)
	if token == "" {
		return nil, &core.Error{
			Type:    core.ErrAuthentication,
			Message: "missing identity token",
			Param:   "user_identity_token",
		}
	}
	id, err := h.Verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	return &auth.Principal{UserID: id.UserID, DisplayName: id.DisplayName}, nil
}

func (h CreateSessionHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func drainingError() *core.Error {
	retry := 1
	return &core.Error{
		Type:       core.ErrProviderUnavailable,
		Message:    "service is draining",
		Code:       "draining",
		RetryAfter: &retry,
	}
}
