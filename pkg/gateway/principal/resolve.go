// Package principal decides which bucket a request's rate limits are
// charged to: the verified user when the auth middleware resolved one,
// otherwise the client IP, otherwise a shared anonymous bucket.
package principal

import (
	"net"
	"net/http"
	"strings"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/auth"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/gateway/ratelimit"
)

type Kind string

const (
	KindUser Kind = "user"
	KindIP   Kind = "ip"
	KindAnon Kind = "anonymous"
)

type Resolved struct {
	Kind Kind
	// Raw is the resolved identifier (user ID or IP). It must not be logged.
	Raw string
	// Key is a hashed identifier suitable for in-memory maps.
	Key string
}

func Resolve(r *http.Request, trustProxyHeaders bool) Resolved {
	if r == nil {
		return Resolved{Kind: KindAnon, Key: "anonymous"}
	}

	if p, ok := auth.PrincipalFrom(r.Context()); ok && strings.TrimSpace(p.UserID) != "" {
		return Resolved{
			Kind: KindUser,
			Raw:  p.UserID,
			Key:  ratelimit.PrincipalKey(p.UserID),
		}
	}

	ip := clientIP(r, trustProxyHeaders)
	if ip == "" {
		return Resolved{Kind: KindAnon, Key: "anonymous"}
	}
	return Resolved{
		Kind: KindIP,
		Raw:  ip,
		Key:  ratelimit.PrincipalKeyFromIP(ip),
	}
}

func clientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if ip := parseIP(r.Header.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if raw := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); raw != "" {
			// XFF can be "client, proxy1, proxy2". Take the left-most.
			if ip := parseIP(strings.Split(raw, ",")[0]); ip != "" {
				return ip
			}
		}
	}

	return parseIP(r.RemoteAddr)
}

func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// Some proxies include a port; accept "ip:port" as well.
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}

	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
