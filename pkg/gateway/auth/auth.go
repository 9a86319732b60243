// Package auth verifies the identity tokens the host application issues to
// its users and carries the resolved principal through request contexts. The
// bridge never stores accounts of its own; it trusts HS256 tokens signed with
// a secret shared with the host app.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Principal is the authenticated user behind a request.
type Principal struct {
	UserID      string
	DisplayName string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
