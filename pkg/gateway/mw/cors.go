package mw

import (
	"net/http"
	"strings"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/config"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	corsMaxAge  = "600"
)

var (
	corsRequestHeaders  = strings.Join([]string{"Authorization", "Content-Type", "X-Request-ID"}, ", ")
	corsResponseHeaders = strings.Join([]string{"X-Request-ID", "Retry-After"}, ", ")
)

// CORS serves browser clients of the session broker. Origins are an exact
// allowlist; an empty list disables cross-origin access entirely. The bridge
// endpoint itself is a websocket and never sees preflights.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		allowed := false
		if origin != "" {
			_, allowed = cfg.CORSAllowedOrigins[origin]
		}

		if isPreflight(r) {
			if !allowed {
				http.Error(w, "cors preflight not allowed", http.StatusForbidden)
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsRequestHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if allowed {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", corsResponseHeaders)
		}
		next.ServeHTTP(w, r)
	})
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != ""
}
