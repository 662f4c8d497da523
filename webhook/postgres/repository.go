package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/backoff"
)

/*
PostgreSQL implementation of webhook.Repository and webhook.PolicyReader

- webhooks holds subscriptions, webhook_deliveries holds the delivery log,
  integration_retry_config holds per-org retry policies
- Terminal rows are protected in SQL: every delivery update is conditioned on a non-final status
- The dispatch claim is a lease column (claimed_until) plus its owner (claim_token), set with a conditional UPDATE
*/

type Repository struct {
	DB *sql.DB
	// DefaultPolicy is returned for orgs without a row in integration_retry_config
	DefaultPolicy webhook.RetryPolicy
}

const deliveryColumns = `id, webhook_id, org_id, event_type, request_body, attempt_number, status,
		response_status, response_headers, response_body, duration_ms, error_message,
		next_retry_at, resolved_at, created_at, updated_at`

const subscriptionColumns = `id, org_id, url, secret, status, headers, consecutive_failures,
		last_success_at, last_failure_at, last_triggered_at, created_at, updated_at`

// NewRepository creates a PostgreSQL repository with the default pool (25, 5, 5 min)
func NewRepository(connectionString string) (*Repository, error) {
	return NewRepositoryWithPoolConfig(connectionString, 25, 5, 5)
}

// NewRepositoryWithPoolConfig creates a PostgreSQL repository with a custom pool
// maxOpenConns: maximum simultaneous connections (0 = unlimited)
// maxIdleConns: maximum idle connections kept in the pool
// maxLifeMinutes: maximum minutes a connection may be reused
func NewRepositoryWithPoolConfig(connectionString string, maxOpenConns, maxIdleConns, maxLifeMinutes int) (*Repository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	if maxLifeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(maxLifeMinutes) * time.Minute)
	}

	return &Repository{
		DB:            db,
		DefaultPolicy: webhook.DefaultRetryPolicy(),
	}, nil
}

// CreateDelivery inserts a delivery and returns its ID
func (r *Repository) CreateDelivery(ctx context.Context, d webhook.Delivery) (string, error) {
	headers, err := marshalHeaders(d.ResponseHeaders)
	if err != nil {
		return "", err
	}

	query := `
		INSERT INTO webhook_deliveries (` + deliveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`

	var id string
	err = r.DB.QueryRowContext(ctx, query,
		d.ID, d.WebhookID, d.OrgID, d.EventType, d.RequestBody, d.AttemptNumber, d.Status.String(),
		d.ResponseStatus, headers, d.ResponseBody, d.DurationMs, d.ErrorMessage,
		nullTime(d.NextRetryAt), nullTime(d.ResolvedAt), d.CreatedAt, d.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("inserting delivery: %w", err)
	}

	return id, nil
}

// GetDelivery selects a delivery by ID
func (r *Repository) GetDelivery(ctx context.Context, id string) (webhook.Delivery, error) {
	query := "SELECT " + deliveryColumns + " FROM webhook_deliveries WHERE id = $1"

	d, err := scanDelivery(r.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return webhook.Delivery{}, fmt.Errorf("%w: %s", webhook.ErrDeliveryNotFound, id)
	}
	if err != nil {
		return webhook.Delivery{}, fmt.Errorf("selecting delivery: %w", err)
	}

	return d, nil
}

// UpdateDelivery writes every mutable field, unless the stored row is already terminal
func (r *Repository) UpdateDelivery(ctx context.Context, d webhook.Delivery) error {
	headers, err := marshalHeaders(d.ResponseHeaders)
	if err != nil {
		return err
	}

	query := `
		UPDATE webhook_deliveries
		SET attempt_number = $2, status = $3, response_status = $4, response_headers = $5,
			response_body = $6, duration_ms = $7, error_message = $8,
			next_retry_at = $9, resolved_at = $10, updated_at = $11
		WHERE id = $1 AND status NOT IN ('success', 'failed', 'dlq')
	`

	result, err := r.DB.ExecContext(ctx, query,
		d.ID, d.AttemptNumber, d.Status.String(), d.ResponseStatus, headers,
		d.ResponseBody, d.DurationMs, d.ErrorMessage,
		nullTime(d.NextRetryAt), nullTime(d.ResolvedAt), d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating delivery: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// Nothing updated: the row is either missing or terminal
	var status string
	err = r.DB.QueryRowContext(ctx, "SELECT status FROM webhook_deliveries WHERE id = $1", d.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", webhook.ErrDeliveryNotFound, d.ID)
	}
	if err != nil {
		return fmt.Errorf("selecting delivery status: %w", err)
	}

	return fmt.Errorf("updating delivery %s in status %s: %w", d.ID, status, webhook.ErrDeliveryFinal)
}

// ListDue selects pending and retrying deliveries due at now, oldest first
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]webhook.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE status IN ('pending', 'retrying') AND next_retry_at <= $1
		ORDER BY next_retry_at
		LIMIT $2
	`

	return r.queryDeliveries(ctx, query, now, limit)
}

// ListDeadLetters selects the dead-lettered deliveries of an org, oldest first
func (r *Repository) ListDeadLetters(ctx context.Context, orgID string, limit int) ([]webhook.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE org_id = $1 AND status = 'dlq'
		ORDER BY resolved_at
		LIMIT $2
	`

	return r.queryDeliveries(ctx, query, orgID, limit)
}

// DeadLetterStats aggregates every dead-lettered delivery of an org
func (r *Repository) DeadLetterStats(ctx context.Context, orgID string) (webhook.DeadLetterStats, error) {
	query := `
		SELECT COUNT(*), MIN(resolved_at), COUNT(DISTINCT webhook_id)
		FROM webhook_deliveries
		WHERE org_id = $1 AND status = 'dlq'
	`

	var stats webhook.DeadLetterStats
	var oldest sql.NullTime
	if err := r.DB.QueryRowContext(ctx, query, orgID).Scan(&stats.Count, &oldest, &stats.UniqueWebhooks); err != nil {
		return webhook.DeadLetterStats{}, fmt.Errorf("counting dead letters: %w", err)
	}
	stats.Oldest = oldest.Time

	return stats, nil
}

func (r *Repository) queryDeliveries(ctx context.Context, query string, args ...any) ([]webhook.Delivery, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []webhook.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deliveries: %w", err)
	}

	return deliveries, nil
}

// Claim sets the lease and its owner token when nobody holds the delivery or the previous lease ran out
func (r *Repository) Claim(ctx context.Context, id, token string, lease time.Duration) (bool, error) {
	query := `
		UPDATE webhook_deliveries
		SET claimed_until = NOW() + make_interval(secs => $2), claim_token = $3
		WHERE id = $1 AND (claimed_until IS NULL OR claimed_until < NOW())
	`

	result, err := r.DB.ExecContext(ctx, query, id, lease.Seconds(), token)
	if err != nil {
		return false, fmt.Errorf("claiming delivery: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	var exists bool
	err = r.DB.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM webhook_deliveries WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking delivery: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("%w: %s", webhook.ErrDeliveryNotFound, id)
	}

	return false, nil
}

// Release clears the lease if token still owns it
func (r *Repository) Release(ctx context.Context, id, token string) error {
	query := "UPDATE webhook_deliveries SET claimed_until = NULL, claim_token = NULL WHERE id = $1 AND claim_token = $2"

	_, err := r.DB.ExecContext(ctx, query, id, token)
	if err != nil {
		return fmt.Errorf("releasing delivery: %w", err)
	}
	return nil
}

// SaveSubscription inserts or replaces a subscription
func (r *Repository) SaveSubscription(ctx context.Context, s webhook.Subscription) error {
	headers, err := marshalHeaders(s.Headers)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhooks (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE
		SET org_id = EXCLUDED.org_id, url = EXCLUDED.url, secret = EXCLUDED.secret,
			status = EXCLUDED.status, headers = EXCLUDED.headers, updated_at = EXCLUDED.updated_at
	`

	_, err = r.DB.ExecContext(ctx, query,
		s.ID, s.OrgID, s.URL, s.Secret, s.Status.String(), headers, s.ConsecutiveFailures,
		nullTime(s.LastSuccessAt), nullTime(s.LastFailureAt), nullTime(s.LastTriggeredAt),
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving subscription: %w", err)
	}

	return nil
}

// GetSubscription selects a subscription by webhook ID
func (r *Repository) GetSubscription(ctx context.Context, id string) (webhook.Subscription, error) {
	query := "SELECT " + subscriptionColumns + " FROM webhooks WHERE id = $1"

	var (
		s                                   webhook.Subscription
		status                              string
		headers                             []byte
		lastSuccess, lastFailure, lastTrigg sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.OrgID, &s.URL, &s.Secret, &status, &headers, &s.ConsecutiveFailures,
		&lastSuccess, &lastFailure, &lastTrigg, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return webhook.Subscription{}, fmt.Errorf("%w: %s", webhook.ErrSubscriptionNotFound, id)
	}
	if err != nil {
		return webhook.Subscription{}, fmt.Errorf("selecting subscription: %w", err)
	}

	s.Status = webhook.NewSubscriptionStatus(status)
	s.LastSuccessAt = lastSuccess.Time
	s.LastFailureAt = lastFailure.Time
	s.LastTriggeredAt = lastTrigg.Time
	if s.Headers, err = unmarshalHeaders(headers); err != nil {
		return webhook.Subscription{}, err
	}

	return s, nil
}

// MarkSubscriptionSuccess resets the failure counter in SQL
func (r *Repository) MarkSubscriptionSuccess(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE webhooks
		SET consecutive_failures = 0, last_success_at = $2, last_triggered_at = $2, updated_at = $2
		WHERE id = $1
	`

	return r.execSubscription(ctx, query, id, at)
}

// MarkSubscriptionFailure increments the failure counter in SQL
func (r *Repository) MarkSubscriptionFailure(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE webhooks
		SET consecutive_failures = consecutive_failures + 1, last_failure_at = $2, last_triggered_at = $2, updated_at = $2
		WHERE id = $1
	`

	return r.execSubscription(ctx, query, id, at)
}

func (r *Repository) execSubscription(ctx context.Context, query, id string, at time.Time) error {
	result, err := r.DB.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("updating subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", webhook.ErrSubscriptionNotFound, id)
	}

	return nil
}

// GetRetryPolicy selects the policy of an org, falling back to DefaultPolicy
func (r *Repository) GetRetryPolicy(ctx context.Context, orgID string) (webhook.RetryPolicy, error) {
	query := `
		SELECT max_retries, strategy, base_delay_seconds, max_delay_seconds, jitter, dead_letter
		FROM integration_retry_config
		WHERE org_id = $1
	`

	p := webhook.RetryPolicy{OrgID: orgID}
	var strategy string
	err := r.DB.QueryRowContext(ctx, query, orgID).Scan(
		&p.MaxRetries, &strategy, &p.BaseDelaySeconds, &p.MaxDelaySeconds, &p.Jitter, &p.DeadLetter,
	)
	if errors.Is(err, sql.ErrNoRows) {
		p = r.DefaultPolicy
		p.OrgID = orgID
		return p, nil
	}
	if err != nil {
		return webhook.RetryPolicy{}, fmt.Errorf("selecting retry policy: %w", err)
	}

	p.Strategy = backoff.NewStrategy(strategy)
	return p, nil
}

// SaveRetryPolicy inserts or replaces the policy of an org
func (r *Repository) SaveRetryPolicy(ctx context.Context, p webhook.RetryPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO integration_retry_config (org_id, max_retries, strategy, base_delay_seconds, max_delay_seconds, jitter, dead_letter, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (org_id) DO UPDATE
		SET max_retries = EXCLUDED.max_retries, strategy = EXCLUDED.strategy,
			base_delay_seconds = EXCLUDED.base_delay_seconds, max_delay_seconds = EXCLUDED.max_delay_seconds,
			jitter = EXCLUDED.jitter, dead_letter = EXCLUDED.dead_letter, updated_at = NOW()
	`

	_, err := r.DB.ExecContext(ctx, query,
		p.OrgID, p.MaxRetries, p.Strategy.String(), p.BaseDelaySeconds, p.MaxDelaySeconds, p.Jitter, p.DeadLetter,
	)
	if err != nil {
		return fmt.Errorf("saving retry policy: %w", err)
	}

	return nil
}

// Close closes the database connection
func (r *Repository) Close(ctx context.Context) error {
	if r.DB != nil {
		return r.DB.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row scanner) (webhook.Delivery, error) {
	var (
		d                   webhook.Delivery
		status              string
		headers             []byte
		nextRetry, resolved sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.WebhookID, &d.OrgID, &d.EventType, &d.RequestBody, &d.AttemptNumber, &status,
		&d.ResponseStatus, &headers, &d.ResponseBody, &d.DurationMs, &d.ErrorMessage,
		&nextRetry, &resolved, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return webhook.Delivery{}, err
	}

	d.Status = webhook.NewStatus(status)
	if err := d.Status.Validate(); err != nil {
		return webhook.Delivery{}, fmt.Errorf("delivery %s has unknown status %q: %w", d.ID, status, err)
	}
	d.NextRetryAt = nextRetry.Time
	d.ResolvedAt = resolved.Time
	if d.ResponseHeaders, err = unmarshalHeaders(headers); err != nil {
		return webhook.Delivery{}, err
	}

	return d, nil
}

func marshalHeaders(h map[string]string) (string, error) {
	if h == nil {
		return "{}", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshaling headers: %w", err)
	}
	return string(b), nil
}

func unmarshalHeaders(b []byte) (map[string]string, error) {
	h := make(map[string]string)
	if len(b) == 0 {
		return h, nil
	}
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("unmarshaling headers: %w", err)
	}
	return h, nil
}

// nullTime stores the zero time as NULL
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
