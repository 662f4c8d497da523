package metrics

import (
	"context"
	"time"
)

// Metrics represents the current state of the delivery pipeline.
type Metrics struct {
	// StatusCounts maps status name to count of deliveries in that status
	StatusCounts map[string]int64 `json:"status_counts"`

	// DueBacklog is the number of deliveries whose next attempt time has passed
	DueBacklog int64 `json:"due_backlog"`

	// Throughput represents deliveries that succeeded per time window
	Throughput ThroughputMetrics `json:"throughput"`

	// Workers lists schedulers with a live heartbeat
	Workers []WorkerInfo `json:"workers"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// ThroughputMetrics represents deliveries resolved as success over different time windows.
type ThroughputMetrics struct {
	LastMinute         int64 `json:"last_minute"`
	LastFiveMinutes    int64 `json:"last_five_minutes"`
	LastFifteenMinutes int64 `json:"last_fifteen_minutes"`
}

// WorkerInfo represents information about an active scheduler.
type WorkerInfo struct {
	WorkerID string `json:"worker_id"`

	// Status is the current status of the scheduler ("idle", "dispatching")
	Status string `json:"status"`

	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Collector defines the interface for collecting metrics from a delivery store.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetStatusCounts returns the count of deliveries by status
	GetStatusCounts(ctx context.Context) (map[string]int64, error)

	// GetDueBacklog returns the number of deliveries waiting for an attempt
	GetDueBacklog(ctx context.Context) (int64, error)

	// GetThroughput returns successful deliveries over time windows
	GetThroughput(ctx context.Context) (ThroughputMetrics, error)

	// GetActiveWorkers returns schedulers with a live heartbeat
	GetActiveWorkers(ctx context.Context) ([]WorkerInfo, error)
}

func emptyStatusCounts() map[string]int64 {
	return map[string]int64{
		"pending":  0,
		"retrying": 0,
		"success":  0,
		"failed":   0,
		"dlq":      0,
	}
}

// add counts a success resolved at resolvedAt in every window it falls into
func (t *ThroughputMetrics) add(resolvedAt, now time.Time) {
	age := now.Sub(resolvedAt)
	if age < 0 || age > 15*time.Minute {
		return
	}
	t.LastFifteenMinutes++
	if age <= 5*time.Minute {
		t.LastFiveMinutes++
		if age <= time.Minute {
			t.LastMinute++
		}
	}
}

func collect(ctx context.Context, c Collector) (Metrics, error) {
	statusCounts, err := c.GetStatusCounts(ctx)
	if err != nil {
		return Metrics{}, err
	}

	backlog, err := c.GetDueBacklog(ctx)
	if err != nil {
		return Metrics{}, err
	}

	throughput, err := c.GetThroughput(ctx)
	if err != nil {
		return Metrics{}, err
	}

	workers, err := c.GetActiveWorkers(ctx)
	if err != nil {
		return Metrics{}, err
	}

	return Metrics{
		StatusCounts: statusCounts,
		DueBacklog:   backlog,
		Throughput:   throughput,
		Workers:      workers,
		Timestamp:    time.Now(),
	}, nil
}
