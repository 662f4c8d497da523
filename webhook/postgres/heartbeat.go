package postgres

import (
	"context"
	"fmt"
	"time"
)

// HeartbeatTTL is how long a scheduler stays listed without a new heartbeat
const HeartbeatTTL = 60 * time.Second

// WorkerHeartbeat is the last status a scheduler reported
type WorkerHeartbeat struct {
	WorkerID      string
	Status        string
	LastHeartbeat time.Time
}

// SetWorkerHeartbeat upserts the worker's row with the current time
func (r *Repository) SetWorkerHeartbeat(ctx context.Context, workerID, status string) error {
	query := `
		INSERT INTO scheduler_heartbeats (worker_id, status, last_heartbeat)
		VALUES ($1, $2, $3)
		ON CONFLICT (worker_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat
	`

	if _, err := r.DB.ExecContext(ctx, query, workerID, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("setting heartbeat: %w", err)
	}
	return nil
}

// GetActiveWorkers lists workers that reported within HeartbeatTTL, most recent first
func (r *Repository) GetActiveWorkers(ctx context.Context) ([]WorkerHeartbeat, error) {
	query := `
		SELECT worker_id, status, last_heartbeat
		FROM scheduler_heartbeats
		WHERE last_heartbeat > $1
		ORDER BY last_heartbeat DESC
	`

	rows, err := r.DB.QueryContext(ctx, query, time.Now().UTC().Add(-HeartbeatTTL))
	if err != nil {
		return nil, fmt.Errorf("querying heartbeats: %w", err)
	}
	defer rows.Close()

	var workers []WorkerHeartbeat
	for rows.Next() {
		var w WorkerHeartbeat
		if err := rows.Scan(&w.WorkerID, &w.Status, &w.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("scanning heartbeat: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating heartbeats: %w", err)
	}

	return workers, nil
}
