package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pulseops/ai-gateway/internal/gateway/apierror"
	"github.com/pulseops/ai-gateway/internal/shared/models"
)

// Store is the slice of the store the enforcer needs.
type Store interface {
	SumKeySpendSince(ctx context.Context, keyID string, since time.Time) (float64, error)
	OrgRequiresAttribution(ctx context.Context, orgID string) (bool, error)
}

// Enforcer applies model, spend, and attribution rules before any upstream
// dispatch. All checks must pass; each failure is a typed rejection and no
// provider is ever called.
type Enforcer struct {
	store Store
	clock func() time.Time
}

func NewEnforcer(store Store, clock func() time.Time) *Enforcer {
	if clock == nil {
		clock = time.Now
	}
	return &Enforcer{store: store, clock: clock}
}

// matchesRule reports whether model matches entry exactly or entry is a
// prefix of model followed by a hyphen, so "gpt-4" covers "gpt-4-turbo"
// but not "gpt-4o".
func matchesRule(model, entry string) bool {
	return model == entry || strings.HasPrefix(model, entry+"-")
}

// CheckModel enforces the key's block and allow lists. The block list is
// evaluated first; an empty list means unrestricted on that axis.
func (e *Enforcer) CheckModel(key *models.GatewayKey, model string) error {
	for _, blocked := range key.BlockedModels {
		if matchesRule(model, blocked) {
			return apierror.ModelRestricted(fmt.Sprintf("model %s is blocked for this API key", model))
		}
	}

	if len(key.AllowedModels) == 0 {
		return nil
	}
	for _, allowed := range key.AllowedModels {
		if matchesRule(model, allowed) {
			return nil
		}
	}

	return apierror.ModelRestricted(fmt.Sprintf("model %s is not in this API key's allow list", model))
}

// CheckCostLimits enforces the key's daily and monthly spend limits against
// settled ledger rows. The boundary is inclusive: a running total equal to
// the limit blocks the next call. Calendar boundaries are UTC.
//
// The check and the eventual ledger write are not one transaction, so a
// concurrent burst on the same key can overshoot by at most the in-flight
// requests' spend. Known and accepted.
func (e *Enforcer) CheckCostLimits(ctx context.Context, key *models.GatewayKey) error {
	now := e.clock().UTC()

	if key.DailyCostLimit != nil {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		spent, err := e.store.SumKeySpendSince(ctx, key.ID, dayStart)
		if err != nil {
			log.Error().Err(err).Str("key_id", key.ID).Msg("daily spend query failed")
			return apierror.Internal()
		}
		if spent >= *key.DailyCostLimit {
			return apierror.CostLimit(fmt.Sprintf("daily cost limit of %.2f reached", *key.DailyCostLimit))
		}
	}

	if key.MonthlyCostLimit != nil {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		spent, err := e.store.SumKeySpendSince(ctx, key.ID, monthStart)
		if err != nil {
			log.Error().Err(err).Str("key_id", key.ID).Msg("monthly spend query failed")
			return apierror.Internal()
		}
		if spent >= *key.MonthlyCostLimit {
			return apierror.CostLimit(fmt.Sprintf("monthly cost limit of %.2f reached", *key.MonthlyCostLimit))
		}
	}

	return nil
}

// CheckAttribution enforces the attribution-required policy. The key's own
// flag wins when set; otherwise any enabled org policy requiring attribution
// applies. A resolved app id satisfies the requirement.
func (e *Enforcer) CheckAttribution(ctx context.Context, key *models.GatewayKey, dims models.Dimensions) error {
	required := false
	if key.RequireAttribution != nil {
		required = *key.RequireAttribution
	} else {
		orgRequired, err := e.store.OrgRequiresAttribution(ctx, key.OrgID)
		if err != nil {
			log.Error().Err(err).Str("org_id", key.OrgID).Msg("org policy query failed")
			return apierror.Internal()
		}
		required = orgRequired
	}

	if required && dims.AppID == nil {
		return apierror.PolicyRequirement("attribution required: supply x-pulse-app or configure a default app on the API key")
	}

	return nil
}
