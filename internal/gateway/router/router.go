package router

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/pulseops/ai-gateway/internal/gateway/apierror"
	"github.com/pulseops/ai-gateway/internal/shared/database"
	"github.com/pulseops/ai-gateway/internal/shared/models"
	"github.com/pulseops/ai-gateway/internal/shared/secrets"
)

// Store is the slice of the store the router needs.
type Store interface {
	RoutesForModel(ctx context.Context, orgID, model string) ([]models.ModelRoute, error)
	ActiveConnection(ctx context.Context, orgID, provider string) (*models.ProviderConnection, error)
}

// Resolution is a routing decision: the winning route plus the decrypted
// provider credential. The secret lives only for the duration of the dispatch.
type Resolution struct {
	Route  models.ModelRoute
	Secret string
}

// Router resolves (org, model) to a provider connection. Routes are ordered
// by ascending priority; the first enabled one wins. Missing routes and
// missing connections are configuration errors, never retried.
type Router struct {
	store Store
	box   *secrets.Box
}

func New(store Store, box *secrets.Box) *Router {
	return &Router{store: store, box: box}
}

// Resolve picks the route for a model and decrypts its connection secret.
func (r *Router) Resolve(ctx context.Context, orgID, model string) (*Resolution, error) {
	routes, err := r.store.RoutesForModel(ctx, orgID, model)
	if err != nil {
		log.Error().Err(err).Str("org_id", orgID).Str("model", model).Msg("route lookup failed")
		return nil, apierror.Internal()
	}
	if len(routes) == 0 {
		return nil, apierror.ModelNotFound(model)
	}

	// Rows arrive priority-ordered; the store contract guarantees it.
	route := routes[0]

	conn, err := r.store.ActiveConnection(ctx, orgID, route.Provider)
	if errors.Is(err, database.ErrConnectionNotFound) {
		return nil, apierror.ProviderNotConfigured(route.Provider)
	}
	if err != nil {
		log.Error().Err(err).Str("org_id", orgID).Str("provider", route.Provider).Msg("connection lookup failed")
		return nil, apierror.Internal()
	}

	secret, err := r.box.Open(conn.EncryptedSecret)
	if err != nil {
		log.Error().Err(err).Str("provider", route.Provider).Msg("failed to decrypt provider credential")
		return nil, apierror.Internal()
	}

	return &Resolution{Route: route, Secret: secret}, nil
}
