// Package attribution merges caller-supplied dimension hints with key-level
// defaults. Pure functions only; no I/O.
package attribution

import (
	"net/http"

	"github.com/pulseops/ai-gateway/internal/shared/models"
)

// Request headers carrying per-call attribution hints.
const (
	HeaderApp     = "x-pulse-app"
	HeaderProject = "x-pulse-project"
	HeaderClient  = "x-pulse-client"
	HeaderTeam    = "x-pulse-team"
)

// Resolve picks, per dimension, the header value if present, else the key's
// configured default, else nil.
func Resolve(h http.Header, key *models.GatewayKey) models.Dimensions {
	return models.Dimensions{
		AppID:     pick(h.Get(HeaderApp), key.DefaultAppID),
		ProjectID: pick(h.Get(HeaderProject), key.DefaultProjectID),
		ClientID:  pick(h.Get(HeaderClient), key.DefaultClientID),
		TeamID:    pick(h.Get(HeaderTeam), key.DefaultTeamID),
	}
}

func pick(header string, fallback *string) *string {
	if header != "" {
		return &header
	}
	return fallback
}
