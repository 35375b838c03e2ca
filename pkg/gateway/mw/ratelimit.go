package mw

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/voicebridge/voicebridge/pkg/gateway/auth"
	"github.com/voicebridge/voicebridge/pkg/gateway/ratelimit"
)

// RateLimit spends one token per request: the initiate scope for call
// creation, the session scope for everything else. Websocket upgrades
// and the live-session cap are handled inside the stream handlers, which
// hold a permit for the call's lifetime.
func RateLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health endpoints must remain cheap and reliable.
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		// The per-call handlers acquire their own session permits, and
		// provider webhooks are authenticated by signature instead.
		if r.URL.Path == "/phone" || r.URL.Path == "/web" || strings.HasPrefix(r.URL.Path, "/twilio/") {
			next.ServeHTTP(w, r)
			return
		}

		scope := ratelimit.ScopeSession
		if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/v1/calls") {
			scope = ratelimit.ScopeInitiate
		}

		principal := "anonymous"
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			principal = ratelimit.PrincipalKeyFromAPIKey(p.APIKey)
		}

		dec := limiter.Allow(principal, scope, time.Now())
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			}
			writeJSONError(w, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded", reqID)
			return
		}
		next.ServeHTTP(w, r)
	})
}
