package handlers

import (
	"net/http"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/lifecycle"
)

// HealthHandler answers load-balancer probes. A draining process reports 503
// so rotation stops routing new sessions to it while live ones finish.
type HealthHandler struct {
	Lifecycle *lifecycle.Lifecycle
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.Lifecycle.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
