package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pulseops/ai-gateway/internal/shared/models"
)

// Sentinel errors for lookups that callers translate into API errors.
var (
	ErrKeyNotFound        = errors.New("gateway key not found")
	ErrConnectionNotFound = errors.New("provider connection not found")
)

type DB struct {
	conn *sql.DB
}

// New creates a new database connection.
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// NewFromConn wraps an existing connection, used by tests with sqlmock.
func NewFromConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// GetKeyByHash looks up an active, enabled gateway key by its keyed hash.
// This is the only lookup path; plaintext secrets are never stored.
func (db *DB) GetKeyByHash(ctx context.Context, keyHash string) (*models.GatewayKey, error) {
	query := `
		SELECT id, org_id, created_by_user_id, key_hash, key_prefix, label, status, enabled,
		       expires_at, default_app_id, default_project_id, default_client_id, default_team_id,
		       allowed_models, blocked_models, require_attribution, rate_limit_rpm,
		       daily_cost_limit, monthly_cost_limit, last_used_at, created_at, updated_at
		FROM gateway_keys
		WHERE key_hash = $1 AND status = 'active' AND enabled = true
	`

	var key models.GatewayKey
	err := db.conn.QueryRowContext(ctx, query, keyHash).Scan(
		&key.ID,
		&key.OrgID,
		&key.CreatedByUserID,
		&key.KeyHash,
		&key.KeyPrefix,
		&key.Label,
		&key.Status,
		&key.Enabled,
		&key.ExpiresAt,
		&key.DefaultAppID,
		&key.DefaultProjectID,
		&key.DefaultClientID,
		&key.DefaultTeamID,
		pq.Array(&key.AllowedModels),
		pq.Array(&key.BlockedModels),
		&key.RequireAttribution,
		&key.RateLimitRPM,
		&key.DailyCostLimit,
		&key.MonthlyCostLimit,
		&key.LastUsedAt,
		&key.CreatedAt,
		&key.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &key, nil
}

// TouchKeyLastUsed updates the last_used_at timestamp.
func (db *DB) TouchKeyLastUsed(ctx context.Context, keyID string) error {
	query := `UPDATE gateway_keys SET last_used_at = NOW() WHERE id = $1`
	_, err := db.conn.ExecContext(ctx, query, keyID)
	return err
}

// RoutesForModel returns the enabled routes for (org, model) ordered by
// ascending priority.
func (db *DB) RoutesForModel(ctx context.Context, orgID, model string) ([]models.ModelRoute, error) {
	query := `
		SELECT id, org_id, model, provider, priority, enabled, max_cost_per_request
		FROM model_routes
		WHERE org_id = $1 AND model = $2 AND enabled = true
		ORDER BY priority ASC
	`

	rows, err := db.conn.QueryContext(ctx, query, orgID, model)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var routes []models.ModelRoute
	for rows.Next() {
		var r models.ModelRoute
		if err := rows.Scan(&r.ID, &r.OrgID, &r.Model, &r.Provider, &r.Priority, &r.Enabled, &r.MaxCostPerRequest); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		routes = append(routes, r)
	}

	return routes, rows.Err()
}

// ActiveConnection returns the active provider connection for (org, provider).
func (db *DB) ActiveConnection(ctx context.Context, orgID, provider string) (*models.ProviderConnection, error) {
	query := `
		SELECT id, org_id, provider, encrypted_secret, status
		FROM provider_connections
		WHERE org_id = $1 AND provider = $2 AND status = 'active'
	`

	var conn models.ProviderConnection
	err := db.conn.QueryRowContext(ctx, query, orgID, provider).Scan(
		&conn.ID,
		&conn.OrgID,
		&conn.Provider,
		&conn.EncryptedSecret,
		&conn.Status,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &conn, nil
}

// OrgRequiresAttribution reports whether any enabled org-level policy
// requires attribution.
func (db *DB) OrgRequiresAttribution(ctx context.Context, orgID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM org_policies
			WHERE org_id = $1 AND enabled = true AND require_attribution = true
		)
	`

	var required bool
	if err := db.conn.QueryRowContext(ctx, query, orgID).Scan(&required); err != nil {
		return false, fmt.Errorf("database error: %w", err)
	}

	return required, nil
}

// SumKeySpendSince sums a key's settled cost events from the given instant.
// Used by the cost-limit checks; boundaries are computed by the caller in UTC.
func (db *DB) SumKeySpendSince(ctx context.Context, keyID string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(amount_eur), 0)
		FROM cost_events
		WHERE api_key_id = $1 AND occurred_at >= $2
	`

	var total float64
	if err := db.conn.QueryRowContext(ctx, query, keyID, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("database error: %w", err)
	}

	return total, nil
}

// InsertCostEvent appends a ledger row. A duplicate unique_hash is not an
// error: the conflict target swallows it and the return reports false.
func (db *DB) InsertCostEvent(ctx context.Context, ev *models.CostEvent) (bool, error) {
	query := `
		INSERT INTO cost_events (
			id, org_id, source, occurred_at, amount_eur, amount_usd, provider,
			resource_type, service, usage_type, quantity, unit, cost_category,
			user_id, team_id, project_id, app_id, client_id, model, task_type,
			api_key_id, api_key_label_snapshot, unique_hash, raw_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		          $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (unique_hash) DO NOTHING
	`

	res, err := db.conn.ExecContext(ctx, query,
		ev.ID,
		ev.OrgID,
		ev.Source,
		ev.OccurredAt,
		ev.AmountEUR,
		ev.AmountUSD,
		ev.Provider,
		ev.ResourceType,
		ev.Service,
		ev.UsageType,
		ev.Quantity,
		ev.Unit,
		ev.CostCategory,
		ev.Dimensions.UserID,
		ev.Dimensions.TeamID,
		ev.Dimensions.ProjectID,
		ev.Dimensions.AppID,
		ev.Dimensions.ClientID,
		ev.Model,
		ev.TaskType,
		ev.APIKeyID,
		ev.APIKeyLabelSnapshot,
		ev.UniqueHash,
		ev.RawRef,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert cost event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}

	return affected > 0, nil
}

// InsertRequestLog appends one diagnostic request record.
func (db *DB) InsertRequestLog(ctx context.Context, rl *models.AiRequestLog) error {
	query := `
		INSERT INTO ai_request_logs (
			id, org_id, occurred_at, user_id, team_id, project_id, app_id, client_id,
			provider, model, prompt_hash, input_tokens, output_tokens, total_tokens,
			estimated_cost, latency_ms, status_code, api_key_id, raw_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		          $15, $16, $17, $18, $19)
	`

	_, err := db.conn.ExecContext(ctx, query,
		rl.ID,
		rl.OrgID,
		rl.OccurredAt,
		rl.Dimensions.UserID,
		rl.Dimensions.TeamID,
		rl.Dimensions.ProjectID,
		rl.Dimensions.AppID,
		rl.Dimensions.ClientID,
		rl.Provider,
		rl.Model,
		rl.PromptHash,
		rl.InputTokens,
		rl.OutputTokens,
		rl.TotalTokens,
		rl.EstimatedCost,
		rl.LatencyMs,
		rl.StatusCode,
		rl.APIKeyID,
		rl.RawRef,
	)
	if err != nil {
		return fmt.Errorf("failed to insert request log: %w", err)
	}

	return nil
}
