// Package auth carries the authenticated caller identity through request
// contexts. Key verification itself happens in the middleware chain.
package auth

import (
	"context"
	"net/http"
	"strings"
)

type Principal struct {
	APIKey string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseToken extracts the caller credential from the Authorization bearer
// header, or from the api_key query parameter for websocket clients that
// cannot set headers.
func ParseToken(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if strings.HasPrefix(authz, prefix) {
		if token := strings.TrimSpace(strings.TrimPrefix(authz, prefix)); token != "" {
			return token, true
		}
	}
	if token := strings.TrimSpace(r.URL.Query().Get("api_key")); token != "" {
		return token, true
	}
	return "", false
}
