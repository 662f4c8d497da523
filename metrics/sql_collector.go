package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook/postgres"
)

// SQLCollector implements the Collector interface over the PostgreSQL store
type SQLCollector struct {
	repo *postgres.Repository
	now  func() time.Time
}

// NewSQLCollector creates a new PostgreSQL metrics collector
func NewSQLCollector(repo *postgres.Repository) *SQLCollector {
	return &SQLCollector{
		repo: repo,
		now:  time.Now,
	}
}

// Collect gathers all metrics from PostgreSQL
func (c *SQLCollector) Collect(ctx context.Context) (Metrics, error) {
	m, err := collect(ctx, c)
	if err != nil {
		return Metrics{}, fmt.Errorf("collecting postgres metrics: %w", err)
	}
	return m, nil
}

// GetStatusCounts returns counts of deliveries grouped by status
func (c *SQLCollector) GetStatusCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := c.repo.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM webhook_deliveries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting deliveries: %w", err)
	}
	defer rows.Close()

	statusCounts := emptyStatusCounts()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		if _, exists := statusCounts[status]; exists {
			statusCounts[status] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status counts: %w", err)
	}

	return statusCounts, nil
}

// GetDueBacklog counts pending and retrying deliveries whose next attempt time has passed
func (c *SQLCollector) GetDueBacklog(ctx context.Context) (int64, error) {
	query := `
		SELECT COUNT(*) FROM webhook_deliveries
		WHERE status IN ('pending', 'retrying') AND next_retry_at <= $1
	`

	var n int64
	if err := c.repo.DB.QueryRowContext(ctx, query, c.now().UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting due deliveries: %w", err)
	}
	return n, nil
}

// GetThroughput counts deliveries resolved as success in each window
func (c *SQLCollector) GetThroughput(ctx context.Context) (ThroughputMetrics, error) {
	now := c.now().UTC()
	query := `
		SELECT
			COUNT(*) FILTER (WHERE resolved_at >= $2),
			COUNT(*) FILTER (WHERE resolved_at >= $3),
			COUNT(*)
		FROM webhook_deliveries
		WHERE status = 'success' AND resolved_at >= $1 AND resolved_at <= $4
	`

	var t ThroughputMetrics
	err := c.repo.DB.QueryRowContext(ctx, query,
		now.Add(-15*time.Minute),
		now.Add(-time.Minute),
		now.Add(-5*time.Minute),
		now,
	).Scan(&t.LastMinute, &t.LastFiveMinutes, &t.LastFifteenMinutes)
	if err != nil {
		return ThroughputMetrics{}, fmt.Errorf("counting throughput: %w", err)
	}

	return t, nil
}

// GetActiveWorkers returns schedulers with a live heartbeat row
func (c *SQLCollector) GetActiveWorkers(ctx context.Context) ([]WorkerInfo, error) {
	heartbeats, err := c.repo.GetActiveWorkers(ctx)
	if err != nil {
		return nil, err
	}

	workers := make([]WorkerInfo, 0, len(heartbeats))
	for _, h := range heartbeats {
		workers = append(workers, WorkerInfo{
			WorkerID:      h.WorkerID,
			Status:        h.Status,
			LastHeartbeat: h.LastHeartbeat,
		})
	}
	return workers, nil
}
