package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseops/ai-gateway/internal/shared/models"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewFromConn(conn), mock
}

var keyColumns = []string{
	"id", "org_id", "created_by_user_id", "key_hash", "key_prefix", "label",
	"status", "enabled", "expires_at", "default_app_id", "default_project_id",
	"default_client_id", "default_team_id", "allowed_models", "blocked_models",
	"require_attribution", "rate_limit_rpm", "daily_cost_limit",
	"monthly_cost_limit", "last_used_at", "created_at", "updated_at",
}

func TestGetKeyByHash_Found(t *testing.T) {
	db, mock := newMockDB(t)

	now := time.Now()
	rows := sqlmock.NewRows(keyColumns).AddRow(
		"k1", "org-1", nil, "abc123", "sk-pulse", "ci key",
		"active", true, nil, nil, nil,
		nil, nil, []byte("{gpt-4o,gpt-4o-mini}"), []byte("{}"),
		nil, 60, 10.5,
		nil, nil, now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM gateway_keys").
		WithArgs("abc123").
		WillReturnRows(rows)

	key, err := db.GetKeyByHash(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "k1", key.ID)
	assert.Equal(t, "org-1", key.OrgID)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, key.AllowedModels)
	assert.Empty(t, key.BlockedModels)
	require.NotNil(t, key.RateLimitRPM)
	assert.Equal(t, 60, *key.RateLimitRPM)
	require.NotNil(t, key.DailyCostLimit)
	assert.Equal(t, 10.5, *key.DailyCostLimit)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetKeyByHash_NotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT (.+) FROM gateway_keys").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := db.GetKeyByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRoutesForModel_OrderedRows(t *testing.T) {
	db, mock := newMockDB(t)

	rows := sqlmock.NewRows([]string{"id", "org_id", "model", "provider", "priority", "enabled", "max_cost_per_request"}).
		AddRow("r1", "org-1", "gpt-4o", "openai", 1, true, nil).
		AddRow("r2", "org-1", "gpt-4o", "xai", 2, true, 0.5)
	mock.ExpectQuery("SELECT (.+) FROM model_routes").
		WithArgs("org-1", "gpt-4o").
		WillReturnRows(rows)

	routes, err := db.RoutesForModel(context.Background(), "org-1", "gpt-4o")
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, "openai", routes[0].Provider)
	assert.Equal(t, "xai", routes[1].Provider)
	require.NotNil(t, routes[1].MaxCostPerRequest)
	assert.Equal(t, 0.5, *routes[1].MaxCostPerRequest)
}

func TestActiveConnection_NotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT (.+) FROM provider_connections").
		WithArgs("org-1", "anthropic").
		WillReturnError(sql.ErrNoRows)

	_, err := db.ActiveConnection(context.Background(), "org-1", "anthropic")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestOrgRequiresAttribution(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	required, err := db.OrgRequiresAttribution(context.Background(), "org-1")
	require.NoError(t, err)
	assert.True(t, required)
}

func TestSumKeySpendSince(t *testing.T) {
	db, mock := newMockDB(t)

	since := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("k1", since).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(4.2))

	total, err := db.SumKeySpendSince(context.Background(), "k1", since)
	require.NoError(t, err)
	assert.Equal(t, 4.2, total)
}

func TestInsertCostEvent_ReportsInsertion(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO cost_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := db.InsertCostEvent(context.Background(), &models.CostEvent{ID: "ev1", UniqueHash: "h1"})
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestInsertCostEvent_DuplicateHashSwallowed(t *testing.T) {
	db, mock := newMockDB(t)

	// ON CONFLICT DO NOTHING reports zero affected rows.
	mock.ExpectExec("INSERT INTO cost_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := db.InsertCostEvent(context.Background(), &models.CostEvent{ID: "ev1", UniqueHash: "h1"})
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestInsertRequestLog(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("INSERT INTO ai_request_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.InsertRequestLog(context.Background(), &models.AiRequestLog{ID: "log1", OrgID: "org-1", StatusCode: 200})
	assert.NoError(t, err)
}
