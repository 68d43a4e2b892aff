package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pulseops/ai-gateway/internal/gateway/auth"
	"github.com/pulseops/ai-gateway/internal/gateway/ledger"
	"github.com/pulseops/ai-gateway/internal/gateway/policy"
	"github.com/pulseops/ai-gateway/internal/gateway/pricing"
	"github.com/pulseops/ai-gateway/internal/gateway/providers"
	"github.com/pulseops/ai-gateway/internal/gateway/ratelimit"
	"github.com/pulseops/ai-gateway/internal/gateway/router"
	"github.com/pulseops/ai-gateway/internal/shared/models"
)

type ctxKey int

const (
	ctxKeyGatewayKey ctxKey = iota
	ctxKeyRequestID
)

// Gateway composes the request pipeline: authenticate, rate-limit, enforce
// policy, resolve attribution, route, dispatch, estimate cost, and record.
// All dependencies are injected; there is no ambient state.
type Gateway struct {
	Auth            *auth.Authenticator
	Limiter         *ratelimit.Limiter
	Enforcer        *policy.Enforcer
	Router          *router.Router
	Registry        *providers.Registry
	Estimator       *pricing.Estimator
	Ledger          *ledger.Writer
	UpstreamTimeout time.Duration
	Clock           func() time.Time
}

func (g *Gateway) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now()
}

// keyFromContext returns the authenticated key set by AuthMiddleware.
func keyFromContext(ctx context.Context) (*models.GatewayKey, bool) {
	key, ok := ctx.Value(ctxKeyGatewayKey).(*models.GatewayKey)
	return key, ok
}

// requestIDFromContext returns the per-request id set by AuthMiddleware.
func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// promptHash fingerprints the request messages so logs stay greppable
// without storing prompt content.
func promptHash(messages any) string {
	data, err := json.Marshal(messages)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// recordRejection writes the diagnostic log row for a request that never
// reached a provider. Rejections carry no cost.
func (g *Gateway) recordRejection(key *models.GatewayKey, dims models.Dimensions, model string, statusCode int, started time.Time) {
	g.Ledger.Enqueue(ledger.Entry{
		Log: &models.AiRequestLog{
			ID:         uuid.NewString(),
			OrgID:      key.OrgID,
			OccurredAt: g.now().UTC(),
			Dimensions: dims,
			Model:      model,
			LatencyMs:  int(time.Since(started).Milliseconds()),
			StatusCode: statusCode,
			APIKeyID:   &key.ID,
		},
	})
}

// HandleHealth reports gateway liveness plus dependency reachability.
func HandleHealth(db interface{ Ping(context.Context) error }, rds interface{ Ping(context.Context) error }) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := map[string]string{"database": "ok", "redis": "ok"}

		if err := db.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := rds.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(checks)
	}
}
