package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/metrics"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/principal"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/ratelimit"
)

// RateLimit charges each request against the resolved principal's token
// bucket. Unauthenticated requests are bucketed by client IP so one abusive
// address cannot starve everyone still minting a session.
func RateLimit(limiter *ratelimit.Limiter, m *metrics.Metrics, trustProxyHeaders bool, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		p := principal.Resolve(r, trustProxyHeaders)

		dec := limiter.AcquireRequest(p.Key, time.Now())
		if !dec.Allowed {
			if m != nil {
				m.RecordRateLimitRejection("requests")
			}
			reqID, _ := RequestIDFrom(r.Context())
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			}
			writeJSONError(w, http.StatusTooManyRequests, &core.Error{
				Type:      core.ErrRateLimit,
				Message:   "rate limit exceeded",
				RequestID: reqID,
				RetryAfter: func() *int {
					if dec.RetryAfter <= 0 {
						return nil
					}
					v := dec.RetryAfter
					return &v
				}(),
			})
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}

		next.ServeHTTP(w, r)
	})
}
