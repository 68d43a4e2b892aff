package models

import "time"

// Key lifecycle states. Keys are never hard-deleted; revocation flips status
// so the ledger keeps a valid reference.
const (
	KeyStatusActive  = "active"
	KeyStatusRevoked = "revoked"
)

// Connection states for upstream provider credentials.
const (
	ConnectionStatusActive   = "active"
	ConnectionStatusInactive = "inactive"
)

// GatewayKey is a caller-held credential scoped to one organization. The
// plaintext secret never persists; key_hash is the only lookup path.
type GatewayKey struct {
	ID                 string
	OrgID              string
	CreatedByUserID    *string
	KeyHash            string
	KeyPrefix          string
	Label              string
	Status             string
	Enabled            bool
	ExpiresAt          *time.Time
	DefaultAppID       *string
	DefaultProjectID   *string
	DefaultClientID    *string
	DefaultTeamID      *string
	AllowedModels      []string
	BlockedModels      []string
	RequireAttribution *bool
	RateLimitRPM       *int
	DailyCostLimit     *float64
	MonthlyCostLimit   *float64
	LastUsedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProviderConnection holds one org's encrypted credential for an upstream
// provider. The secret is decrypted only at dispatch.
type ProviderConnection struct {
	ID              string
	OrgID           string
	Provider        string
	EncryptedSecret []byte
	Status          string
}

// ModelRoute maps a model name to a provider for one org. The router picks
// the lowest priority among enabled routes.
type ModelRoute struct {
	ID                string
	OrgID             string
	Model             string
	Provider          string
	Priority          int
	Enabled           bool
	MaxCostPerRequest *float64
}

// Dimensions are the cost-attribution axes assigned to a billable call.
type Dimensions struct {
	UserID    *string
	TeamID    *string
	ProjectID *string
	AppID     *string
	ClientID  *string
}

// CostEvent is one immutable billable ledger row. UniqueHash deduplicates:
// two inserts with the same hash leave exactly one row.
type CostEvent struct {
	ID                  string
	OrgID               string
	Source              string
	OccurredAt          time.Time
	AmountEUR           float64
	AmountUSD           *float64
	Provider            string
	ResourceType        string
	Service             string
	UsageType           string
	Quantity            float64
	Unit                string
	CostCategory        string
	Dimensions          Dimensions
	Model               *string
	TaskType            *string
	APIKeyID            *string
	APIKeyLabelSnapshot *string
	UniqueHash          string
	RawRef              *string
}

// AiRequestLog is the diagnostic record written for every attempted call,
// including policy-rejected ones (which carry no cost).
type AiRequestLog struct {
	ID            string
	OrgID         string
	OccurredAt    time.Time
	Dimensions    Dimensions
	Provider      string
	Model         string
	PromptHash    string
	InputTokens   int
	OutputTokens  int
	TotalTokens   int
	EstimatedCost *float64
	LatencyMs     int
	StatusCode    int
	APIKeyID      *string
	RawRef        *string
}
