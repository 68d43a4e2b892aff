package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pulseops/ai-gateway/internal/gateway/apierror"
	"github.com/pulseops/ai-gateway/internal/gateway/auth"
	"github.com/pulseops/ai-gateway/internal/gateway/metrics"
)

// AuthMiddleware validates the presented gateway key and attaches the key
// record plus a request id to the context. Authentication failures
// short-circuit before any other work.
func (g *Gateway) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		key, err := g.Auth.Authenticate(r.Context(), auth.ExtractSecret(r))
		if err != nil {
			metrics.RequestsTotal.WithLabelValues(r.URL.Path, "401").Inc()
			apierror.Write(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyGatewayKey, key)
		ctx = context.WithValue(ctx, ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimitMiddleware applies the per-key sliding window. It runs before the
// policy checks to shed load cheaply; rejected requests still get a
// diagnostic log row.
func (g *Gateway) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := keyFromContext(r.Context())
		if !ok {
			apierror.Write(w, apierror.Internal())
			return
		}

		limit := 0
		if key.RateLimitRPM != nil {
			limit = *key.RateLimitRPM
		}

		res, err := g.Limiter.Allow(r.Context(), key.ID, limit)
		if err != nil {
			// Redis being down must not take the gateway with it.
			next.ServeHTTP(w, r)
			return
		}

		if limit > 0 {
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", res.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", res.ResetAt.Unix()))
		}

		if !res.Allowed {
			retryAfter := int(time.Until(res.ResetAt).Seconds()) + 1
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			metrics.RateLimited.Inc()
			metrics.RequestsTotal.WithLabelValues(r.URL.Path, "429").Inc()
			g.recordRejection(key, resolveDims(r, key), "", http.StatusTooManyRequests, g.now())
			apierror.Write(w, apierror.RateLimited("rate limit exceeded, retry later"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
