//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
Test helpers for PostgreSQL with testcontainers

- Starts a PostgreSQL container
- Creates the schema
- Cleans up after the test

References:
- https://golang.testcontainers.org/modules/postgres/
- https://eltonminetto.dev/post/2024-02-15-using-test-helpers/
*/

const (
	defaultDatabase = "testdb"
	defaultUser     = "testuser"
	defaultPassword = "testpass"
)

// PostgresContainer holds the container and its connection
type PostgresContainer struct {
	Container testcontainers.Container
	DB        *sql.DB
	ConnStr   string
}

// SetupPostgresContainer creates and starts a PostgreSQL container
func SetupPostgresContainer(t *testing.T, ctx context.Context) (*PostgresContainer, func()) {
	t.Helper()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(defaultDatabase),
		postgres.WithUsername(defaultUser),
		postgres.WithPassword(defaultPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))

	container := &PostgresContainer{
		Container: pgContainer,
		DB:        db,
		ConnStr:   connStr,
	}

	cleanup := func() {
		if db != nil {
			_ = db.Close()
		}
		if pgContainer != nil {
			_ = pgContainer.Terminate(ctx)
		}
	}

	return container, cleanup
}

// CreateTestRepository creates a repository with the schema in place
func CreateTestRepository(t *testing.T, ctx context.Context, connStr string) *Repository {
	t.Helper()

	repo, err := NewRepository(connStr)
	require.NoError(t, err)
	require.NoError(t, repo.CreateSchema(ctx))

	return repo
}

// CleanupDatabase removes every row
func CleanupDatabase(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()

	_, err := db.ExecContext(ctx, "TRUNCATE TABLE webhook_deliveries, webhooks, integration_retry_config, scheduler_heartbeats")
	require.NoError(t, err)
}

// SeedSubscription stores an active subscription
func SeedSubscription(t *testing.T, ctx context.Context, repo *Repository, id, orgID string) webhook.Subscription {
	t.Helper()

	s := webhook.Subscription{
		ID:        id,
		OrgID:     orgID,
		URL:       "https://example.com/hooks",
		Secret:    "whsec_test",
		Status:    webhook.Active,
		Headers:   map[string]string{"Authorization": "Bearer t"},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.SaveSubscription(ctx, s))

	return s
}

// NewDelivery builds a pending delivery due at dueAt
func NewDelivery(id, orgID string, dueAt time.Time) webhook.Delivery {
	return webhook.Delivery{
		ID:            id,
		WebhookID:     "wh-1",
		OrgID:         orgID,
		EventType:     "course.completed",
		RequestBody:   []byte(`{"timestamp":"2024-03-01T10:00:00Z","type":"course.completed","data":{"b":2,"a":1}}`),
		AttemptNumber: 1,
		Status:        webhook.Pending,
		NextRetryAt:   dueAt,
		CreatedAt:     dueAt,
		UpdatedAt:     dueAt,
	}
}
