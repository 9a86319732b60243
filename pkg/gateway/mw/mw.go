package mw

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/auth"
)

type ctxKeyRequestID struct{}

func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyRequestID{}).(string)
	return id, ok && id != ""
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = "req_" + randHex(10)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// Auth resolves the caller's identity from a bearer token when one is
// present and attaches the principal. A request without a bearer passes
// through unauthenticated; the broker also accepts the identity token in its
// request body and enforces identity itself, and the bridge websocket
// authenticates separately via its session token. A bearer that is present
// but invalid is rejected here.
func Auth(verifier *auth.Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.ParseBearer(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		id, err := verifier.Verify(token)
		if err != nil {
			reqID, _ := RequestIDFrom(r.Context())
			var cerr *core.Error
			if !errors.As(err, &cerr) {
				cerr = core.NewAuthenticationError("invalid identity token")
			}
			cerr.RequestID = reqID
			writeJSONError(w, http.StatusUnauthorized, cerr)
			return
		}

		p := &auth.Principal{UserID: id.UserID, DisplayName: id.DisplayName}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func Recover(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if logger != nil {
					logger.Error("panic", "panic", v)
				}
				reqID, _ := RequestIDFrom(r.Context())
				writeJSONError(w, http.StatusInternalServerError, &core.Error{
					Type:      core.ErrAPI,
					Message:   "internal error",
					RequestID: reqID,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// wrapResponseWriter records the status code while advertising exactly the
// optional interfaces the underlying writer supports. The websocket upgrade
// needs Hijacker to survive the wrap, and recorders in tests must not be
// offered interfaces they cannot honor.
func wrapResponseWriter(w http.ResponseWriter) (http.ResponseWriter, *statusWriter) {
	sw := &statusWriter{ResponseWriter: w, status: 200}
	fl, isFlusher := w.(http.Flusher)
	hj, isHijacker := w.(http.Hijacker)
	switch {
	case isFlusher && isHijacker:
		return &flushHijackWriter{statusWriter: sw, fl: fl, hj: hj}, sw
	case isFlusher:
		return &flushWriter{statusWriter: sw, fl: fl}, sw
	case isHijacker:
		return &hijackWriter{statusWriter: sw, hj: hj}, sw
	default:
		return sw, sw
	}
}

type flushWriter struct {
	*statusWriter
	fl http.Flusher
}

func (w *flushWriter) Flush() { w.fl.Flush() }

type hijackWriter struct {
	*statusWriter
	hj http.Hijacker
}

func (w *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := w.hj.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

type flushHijackWriter struct {
	*statusWriter
	fl http.Flusher
	hj http.Hijacker
}

func (w *flushHijackWriter) Flush() { w.fl.Flush() }

func (w *flushHijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := w.hj.Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func AccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		out, sw := wrapResponseWriter(w)
		next.ServeHTTP(out, r)
		if logger == nil {
			return
		}
		reqID, _ := RequestIDFrom(r.Context())
		logger.Info("request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand should not fail in practice; fall back to time-based entropy.
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
	}
	return hex.EncodeToString(b)
}

type errorEnvelope struct {
	Error *core.Error `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, err *core.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: err})
}
