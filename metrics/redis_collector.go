package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	webhookredis "github.com/marcelsud/webhook-dispatch/webhook/redis"
	"github.com/redis/go-redis/v9"
)

// RedisCollector implements the Collector interface for Redis-backed metrics
type RedisCollector struct {
	repo *webhookredis.Repository
	now  func() time.Time
}

// NewRedisCollector creates a new Redis metrics collector
func NewRedisCollector(repo *webhookredis.Repository) *RedisCollector {
	return &RedisCollector{
		repo: repo,
		now:  time.Now,
	}
}

// Collect gathers all metrics from Redis
func (c *RedisCollector) Collect(ctx context.Context) (Metrics, error) {
	m, err := collect(ctx, c)
	if err != nil {
		return Metrics{}, fmt.Errorf("collecting redis metrics: %w", err)
	}
	return m, nil
}

// GetDueBacklog counts due queue entries whose score has passed
func (c *RedisCollector) GetDueBacklog(ctx context.Context) (int64, error) {
	return c.repo.DueCount(ctx, c.now())
}

// GetStatusCounts returns counts of deliveries grouped by status
func (c *RedisCollector) GetStatusCounts(ctx context.Context) (map[string]int64, error) {
	statusCounts := emptyStatusCounts()

	err := c.scanDeliveries(ctx, func(status string, _ time.Time) {
		if _, exists := statusCounts[status]; exists {
			statusCounts[status]++
		}
	})
	if err != nil {
		return nil, err
	}

	return statusCounts, nil
}

// GetThroughput calculates deliveries resolved as success over different time windows
func (c *RedisCollector) GetThroughput(ctx context.Context) (ThroughputMetrics, error) {
	var throughput ThroughputMetrics
	now := c.now()

	err := c.scanDeliveries(ctx, func(status string, resolvedAt time.Time) {
		if status == "success" && !resolvedAt.IsZero() {
			throughput.add(resolvedAt, now)
		}
	})
	if err != nil {
		return ThroughputMetrics{}, err
	}

	return throughput, nil
}

// GetActiveWorkers returns schedulers with a live heartbeat
func (c *RedisCollector) GetActiveWorkers(ctx context.Context) ([]WorkerInfo, error) {
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

// scanDeliveries visits the status and resolution time of every delivery hash
func (c *RedisCollector) scanDeliveries(ctx context.Context, visit func(status string, resolvedAt time.Time)) error {
	client := c.repo.GetClient()
	var cursor uint64

	for {
		keys, nextCursor, err := client.Scan(ctx, cursor, "delivery:*", 1000).Result()
		if err != nil {
			return fmt.Errorf("scanning delivery keys: %w", err)
		}

		// Skip claim keys (delivery:*:claim), they are plain strings
		var deliveryKeys []string
		for _, key := range keys {
			if strings.HasSuffix(key, ":claim") {
				continue
			}
			deliveryKeys = append(deliveryKeys, key)
		}

		if len(deliveryKeys) > 0 {
			pipe := client.Pipeline()
			cmds := make([]*redis.SliceCmd, len(deliveryKeys))
			for i, key := range deliveryKeys {
				cmds[i] = pipe.HMGet(ctx, key, "status", "resolved_at")
			}
			if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
				return fmt.Errorf("executing pipeline: %w", err)
			}

			for _, cmd := range cmds {
				data, err := cmd.Result()
				if err != nil || len(data) < 2 {
					continue
				}
				status, _ := data[0].(string)
				resolved, _ := data[1].(string)
				visit(status, fromUnixMilli(resolved))
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

func fromUnixMilli(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
