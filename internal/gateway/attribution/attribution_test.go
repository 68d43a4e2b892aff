package attribution

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pulseops/ai-gateway/internal/shared/models"
)

func strPtr(s string) *string { return &s }

func TestResolve_HeaderWinsOverKeyDefault(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderApp, "app-from-header")

	key := &models.GatewayKey{DefaultAppID: strPtr("app-from-key")}

	dims := Resolve(h, key)
	assert.Equal(t, "app-from-header", *dims.AppID)
}

func TestResolve_FallsBackToKeyDefault(t *testing.T) {
	key := &models.GatewayKey{
		DefaultAppID:  strPtr("app-1"),
		DefaultTeamID: strPtr("team-1"),
	}

	dims := Resolve(http.Header{}, key)
	assert.Equal(t, "app-1", *dims.AppID)
	assert.Equal(t, "team-1", *dims.TeamID)
	assert.Nil(t, dims.ProjectID)
	assert.Nil(t, dims.ClientID)
}

func TestResolve_AllNilWithoutHintsOrDefaults(t *testing.T) {
	dims := Resolve(http.Header{}, &models.GatewayKey{})
	assert.Nil(t, dims.AppID)
	assert.Nil(t, dims.ProjectID)
	assert.Nil(t, dims.ClientID)
	assert.Nil(t, dims.TeamID)
}

func TestResolve_EachDimensionIndependent(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderProject, "proj-override")
	h.Set(HeaderClient, "client-override")

	key := &models.GatewayKey{
		DefaultAppID:     strPtr("app-default"),
		DefaultProjectID: strPtr("proj-default"),
	}

	dims := Resolve(h, key)
	assert.Equal(t, "app-default", *dims.AppID)
	assert.Equal(t, "proj-override", *dims.ProjectID)
	assert.Equal(t, "client-override", *dims.ClientID)
	assert.Nil(t, dims.TeamID)
}

func TestResolve_DoesNotMutateInputs(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderApp, "app-x")
	key := &models.GatewayKey{DefaultAppID: strPtr("app-default")}

	_ = Resolve(h, key)

	assert.Equal(t, "app-default", *key.DefaultAppID)
	assert.Equal(t, "app-x", h.Get(HeaderApp))
}
