package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/bridge"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/config"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/lifecycle"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/metrics"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/protocol"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/ratelimit"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/sessions"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/tools"
)

// BridgeHandler upgrades /v1/voice/bridge to a websocket and hands the
// connection to a bridge session. Authentication is the session token minted
// by the broker, carried as a query parameter because browser-class clients
// cannot set headers on a websocket dial.
type BridgeHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Registry  *sessions.Registry
	Tracker   *sessions.Tracker
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
	Metrics   *metrics.Metrics

	Supervisor bridge.SupervisorClient
	Retriever  bridge.ContextRetriever
	Filter     bridge.CatalogFilter
	Dispatcher bridge.ToolDispatcher
	Catalog    []tools.Definition

	// Workers is the process-wide supervisor worker semaphore shared by all
	// sessions.
	Workers chan struct{}

	Now func() time.Time
}

func (h BridgeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	if r.Method != http.MethodGet {
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
	if !h.originAllowed(r) {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrAuthentication,
			Message: "origin is not allowed",
			Param:   "Origin",
		}, http.StatusForbidden)
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("session_token"))
	if token == "" {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrAuthentication,
			Message: "missing session_token",
			Param:   "session_token",
		}, http.StatusUnauthorized)
		return
	}

	now := h.now()
	sess, ok := h.Registry.Lookup(token, now)
	if !ok {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrAuthentication,
			Message: "invalid or expired session token",
			Param:   "session_token",
		}, http.StatusUnauthorized)
		return
	}

	if h.Limiter != nil {
		dec := h.Limiter.AcquireLive(ratelimit.PrincipalKey(sess.UserID), now)
		if !dec.Allowed {
			if h.Metrics != nil {
				h.Metrics.RecordRateLimitRejection("live_sessions")
			}
			writeCoreErrorJSON(w, reqID, &core.Error{
				Type:    core.ErrRateLimit,
				Message: "too many live sessions",
			}, http.StatusTooManyRequests)
			return
		}
		defer dec.Permit.Release()
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// The token is single use: once the bridge channel claims it a second
	// socket cannot replay it. Expiry keeps running inside the session.
	h.Registry.Remove(token)

	s, err := bridge.New(bridge.Dependencies{
		Conn:       conn,
		Logger:     h.Logger,
		Session:    sess,
		RequestID:  reqID,
		Supervisor: h.Supervisor,
		Retriever:  h.Retriever,
		Filter:     h.Filter,
		Dispatcher: h.Dispatcher,
		Catalog:    h.Catalog,
		Workers:    h.Workers,
		Metrics:    h.Metrics,
		Config: bridge.Config{
			HelloTimeout:          h.Config.HelloTimeout,
			ReadTimeout:           h.Config.WSReadTimeout,
			WriteTimeout:          h.Config.WSWriteTimeout,
			PingInterval:          h.Config.WSPingInterval,
			MaxMessageBytes:       h.Config.WSMaxMessageBytes,
			MaxFramesPerSec:       h.Config.MaxFramesPerSec,
			OutboundQueueSize:     h.Config.OutboundQueueSize,
			SupervisorTimeout:     h.Config.SupervisorTimeout,
			MaxToolCallsPerTurn:   h.Config.MaxToolCallsPerTurn,
			MaxEngineCallsPerTurn: h.Config.MaxEngineCallsPerTurn,
			SpokenApology:         h.Config.SpokenApology,
		},
		Now: h.Now,
	})
	if err != nil {
		writeWSError(conn, "internal", "failed to initialize bridge session")
		return
	}

	unregister := func() {}
	if h.Tracker != nil {
		unregister = h.Tracker.Register(sess.ID, sessions.Handle{
			Cancel: s.Cancel,
			Warn:   s.SendWarning,
		})
	}
	defer unregister()

	if err := s.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("bridge session ended with error",
				"session_id", sess.ID, "request_id", reqID, "error", err)
		}
	}
}

func (h BridgeHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h BridgeHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// writeWSError reports a failure after the upgrade, where HTTP status codes
// can no longer travel.
func writeWSError(conn *websocket.Conn, code, message string) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Fatal: true})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}
