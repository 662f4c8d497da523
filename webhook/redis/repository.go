package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of webhook.Repository
 * Uses Redis Hashes for delivery and subscription records
 * Uses Sorted Sets as the due queue and the per-org dead letter queue
 */

const (
	deliveryPrefix     = "delivery"        // Hash naming: delivery:{delivery_id}
	subscriptionPrefix = "subscription"    // Hash naming: subscription:{webhook_id}
	dueKey             = "deliveries:due"  // Sorted set, score = next_retry_at in unix ms
	dlqPrefix          = "deliveries:dlq"  // Sorted set naming: deliveries:dlq:{org_id}, score = resolved_at in unix ms
	claimSuffix        = "claim"           // String naming: delivery:{delivery_id}:claim
	maxTxAttempts      = 5                 // optimistic lock retries for UpdateDelivery
)

// releaseScript deletes the claim only while it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// errUnknownStatus marks a stored hash whose status is not a delivery status
var errUnknownStatus = errors.New("unknown delivery status")

type Repository struct {
	client *redis.Client
}

// NewRepository creates a new Redis repository
func NewRepository(addr, password string, db int) (*Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &Repository{
		client: client,
	}, nil
}

// NewRepositoryWithClient wraps an existing client
func NewRepositoryWithClient(client *redis.Client) *Repository {
	return &Repository{client: client}
}

// CreateDelivery stores a delivery and queues it when it is due
func (r *Repository) CreateDelivery(ctx context.Context, d webhook.Delivery) (string, error) {
	if d.ID == "" {
		return "", fmt.Errorf("delivery id is required")
	}

	fields, err := deliveryFields(d)
	if err != nil {
		return "", err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, deliveryKey(d.ID), fields)
		if d.Status.IsDue() {
			pipe.ZAdd(ctx, dueKey, redis.Z{Score: float64(unixMilli(d.NextRetryAt)), Member: d.ID})
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("storing delivery: %w", err)
	}

	return d.ID, nil
}

// GetDelivery retrieves a delivery by ID from its Redis hash
func (r *Repository) GetDelivery(ctx context.Context, id string) (webhook.Delivery, error) {
	data, err := r.client.HGetAll(ctx, deliveryKey(id)).Result()
	if err != nil {
		return webhook.Delivery{}, fmt.Errorf("getting delivery: %w", err)
	}
	if len(data) == 0 {
		return webhook.Delivery{}, fmt.Errorf("%w: %s", webhook.ErrDeliveryNotFound, id)
	}

	return parseDelivery(data)
}

/* UpdateDelivery rewrites the delivery under WATCH
 * The transaction aborts if another writer touched the hash in between,
 * so a terminal status written concurrently is never overwritten
 */
func (r *Repository) UpdateDelivery(ctx context.Context, d webhook.Delivery) error {
	key := deliveryKey(d.ID)

	fields, err := deliveryFields(d)
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "status").Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", webhook.ErrDeliveryNotFound, d.ID)
		}
		if err != nil {
			return fmt.Errorf("reading delivery status: %w", err)
		}
		if webhook.NewStatus(current).IsFinal() {
			return fmt.Errorf("updating delivery %s: %w", d.ID, webhook.ErrDeliveryFinal)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			if d.Status.IsDue() {
				pipe.ZAdd(ctx, dueKey, redis.Z{Score: float64(unixMilli(d.NextRetryAt)), Member: d.ID})
			} else {
				pipe.ZRem(ctx, dueKey, d.ID)
			}
			if d.Status == webhook.DLQ {
				pipe.ZAdd(ctx, dlqKey(d.OrgID), redis.Z{Score: float64(unixMilli(d.ResolvedAt)), Member: d.ID})
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxAttempts; i++ {
		err = r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("updating delivery %s: concurrent modification", d.ID)
	}
	if err != nil && !errors.Is(err, webhook.ErrDeliveryFinal) && !errors.Is(err, webhook.ErrDeliveryNotFound) {
		return fmt.Errorf("updating delivery: %w", err)
	}

	return err
}

// ListDue returns deliveries whose next attempt is due at now, oldest first
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]webhook.Delivery, error) {
	ids, err := r.client.ZRangeByScore(ctx, dueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading due queue: %w", err)
	}

	return r.getDeliveries(ctx, ids, dueKey)
}

// ListDeadLetters returns the dead-lettered deliveries of an org, oldest first
func (r *Repository) ListDeadLetters(ctx context.Context, orgID string, limit int) ([]webhook.Delivery, error) {
	if limit <= 0 {
		return []webhook.Delivery{}, nil
	}

	ids, err := r.client.ZRange(ctx, dlqKey(orgID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading dead letter queue: %w", err)
	}

	return r.getDeliveries(ctx, ids, dlqKey(orgID))
}

// DeadLetterStats reads webhook_id and resolved_at of every entry in the org's dead letter queue
func (r *Repository) DeadLetterStats(ctx context.Context, orgID string) (webhook.DeadLetterStats, error) {
	ids, err := r.client.ZRange(ctx, dlqKey(orgID), 0, -1).Result()
	if err != nil {
		return webhook.DeadLetterStats{}, fmt.Errorf("reading dead letter queue: %w", err)
	}
	if len(ids) == 0 {
		return webhook.DeadLetterStats{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, deliveryKey(id), "webhook_id", "resolved_at")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return webhook.DeadLetterStats{}, fmt.Errorf("loading dead letters: %w", err)
	}

	var stats webhook.DeadLetterStats
	webhooks := make(map[string]struct{})
	for _, cmd := range cmds {
		vals := cmd.Val()
		webhookID, ok := vals[0].(string)
		if !ok {
			continue
		}
		resolvedAt, _ := vals[1].(string)

		stats.Count++
		webhooks[webhookID] = struct{}{}
		if at := fromUnixMilli(resolvedAt); stats.Oldest.IsZero() || at.Before(stats.Oldest) {
			stats.Oldest = at
		}
	}
	stats.UniqueWebhooks = len(webhooks)

	return stats, nil
}

// getDeliveries loads the hashes of ids in one round trip, dropping index entries whose hash is gone
func (r *Repository) getDeliveries(ctx context.Context, ids []string, index string) ([]webhook.Delivery, error) {
	if len(ids) == 0 {
		return []webhook.Delivery{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, deliveryKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("loading deliveries: %w", err)
	}

	deliveries := make([]webhook.Delivery, 0, len(ids))
	for i, cmd := range cmds {
		data := cmd.Val()
		if len(data) == 0 {
			// Hash expired or deleted, the index entry is stale
			r.client.ZRem(ctx, index, ids[i])
			continue
		}
		d, err := parseDelivery(data)
		if errors.Is(err, errUnknownStatus) {
			// never dispatchable, GetDelivery still reports it
			continue
		}
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}

	return deliveries, nil
}

// Claim marks a delivery as being dispatched by token until the lease expires
func (r *Repository) Claim(ctx context.Context, id, token string, lease time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, claimKey(id), token, lease).Result()
	if err != nil {
		return false, fmt.Errorf("claiming delivery: %w", err)
	}
	return ok, nil
}

// Release drops the claim of a delivery if token still owns it
func (r *Repository) Release(ctx context.Context, id, token string) error {
	if err := releaseScript.Run(ctx, r.client, []string{claimKey(id)}, token).Err(); err != nil {
		return fmt.Errorf("releasing delivery: %w", err)
	}
	return nil
}

// SaveSubscription creates or replaces a subscription
func (r *Repository) SaveSubscription(ctx context.Context, s webhook.Subscription) error {
	if s.ID == "" {
		return fmt.Errorf("subscription id is required")
	}

	headersJSON, err := json.Marshal(s.Headers)
	if err != nil {
		return fmt.Errorf("marshaling headers: %w", err)
	}

	err = r.client.HSet(ctx, subscriptionKey(s.ID), map[string]interface{}{
		"id":                   s.ID,
		"org_id":               s.OrgID,
		"url":                  s.URL,
		"secret":               s.Secret,
		"status":               s.Status.String(),
		"headers":              string(headersJSON),
		"consecutive_failures": s.ConsecutiveFailures,
		"last_success_at":      unixMilli(s.LastSuccessAt),
		"last_failure_at":      unixMilli(s.LastFailureAt),
		"last_triggered_at":    unixMilli(s.LastTriggeredAt),
		"created_at":           unixMilli(s.CreatedAt),
		"updated_at":           unixMilli(s.UpdatedAt),
	}).Err()
	if err != nil {
		return fmt.Errorf("storing subscription: %w", err)
	}

	return nil
}

// GetSubscription retrieves a subscription by webhook ID
func (r *Repository) GetSubscription(ctx context.Context, id string) (webhook.Subscription, error) {
	data, err := r.client.HGetAll(ctx, subscriptionKey(id)).Result()
	if err != nil {
		return webhook.Subscription{}, fmt.Errorf("getting subscription: %w", err)
	}
	if len(data) == 0 {
		return webhook.Subscription{}, fmt.Errorf("%w: %s", webhook.ErrSubscriptionNotFound, id)
	}

	headers := make(map[string]string)
	if headersStr := data["headers"]; headersStr != "" && headersStr != "null" {
		if err := json.Unmarshal([]byte(headersStr), &headers); err != nil {
			return webhook.Subscription{}, fmt.Errorf("unmarshaling headers: %w", err)
		}
	}

	return webhook.Subscription{
		ID:                  data["id"],
		OrgID:               data["org_id"],
		URL:                 data["url"],
		Secret:              data["secret"],
		Status:              webhook.NewSubscriptionStatus(data["status"]),
		Headers:             headers,
		ConsecutiveFailures: int(parseInt64(data["consecutive_failures"])),
		LastSuccessAt:       fromUnixMilli(data["last_success_at"]),
		LastFailureAt:       fromUnixMilli(data["last_failure_at"]),
		LastTriggeredAt:     fromUnixMilli(data["last_triggered_at"]),
		CreatedAt:           fromUnixMilli(data["created_at"]),
		UpdatedAt:           fromUnixMilli(data["updated_at"]),
	}, nil
}

// MarkSubscriptionSuccess resets the failure counter
func (r *Repository) MarkSubscriptionSuccess(ctx context.Context, id string, at time.Time) error {
	key := subscriptionKey(id)
	if err := r.requireSubscription(ctx, key, id); err != nil {
		return err
	}

	err := r.client.HSet(ctx, key, map[string]interface{}{
		"consecutive_failures": 0,
		"last_success_at":      unixMilli(at),
		"last_triggered_at":    unixMilli(at),
		"updated_at":           unixMilli(at),
	}).Err()
	if err != nil {
		return fmt.Errorf("marking subscription success: %w", err)
	}

	return nil
}

// MarkSubscriptionFailure increments the failure counter with HINCRBY
func (r *Repository) MarkSubscriptionFailure(ctx context.Context, id string, at time.Time) error {
	key := subscriptionKey(id)
	if err := r.requireSubscription(ctx, key, id); err != nil {
		return err
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "consecutive_failures", 1)
		pipe.HSet(ctx, key, map[string]interface{}{
			"last_failure_at":   unixMilli(at),
			"last_triggered_at": unixMilli(at),
			"updated_at":        unixMilli(at),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("marking subscription failure: %w", err)
	}

	return nil
}

func (r *Repository) requireSubscription(ctx context.Context, key, id string) error {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("checking subscription: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", webhook.ErrSubscriptionNotFound, id)
	}
	return nil
}

// DueCount returns the number of deliveries waiting in the due queue
func (r *Repository) DueCount(ctx context.Context, now time.Time) (int64, error) {
	n, err := r.client.ZCount(ctx, dueKey, "-inf", strconv.FormatInt(now.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("counting due deliveries: %w", err)
	}
	return n, nil
}

// Close closes the Redis connection
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client for advanced operations
func (r *Repository) GetClient() *redis.Client {
	return r.client
}

// Helper functions

func deliveryKey(id string) string {
	return fmt.Sprintf("%s:%s", deliveryPrefix, id)
}

func claimKey(id string) string {
	return fmt.Sprintf("%s:%s:%s", deliveryPrefix, id, claimSuffix)
}

func subscriptionKey(id string) string {
	return fmt.Sprintf("%s:%s", subscriptionPrefix, id)
}

func dlqKey(orgID string) string {
	return fmt.Sprintf("%s:%s", dlqPrefix, orgID)
}

func deliveryFields(d webhook.Delivery) (map[string]interface{}, error) {
	headersJSON, err := json.Marshal(d.ResponseHeaders)
	if err != nil {
		return nil, fmt.Errorf("marshaling response headers: %w", err)
	}

	return map[string]interface{}{
		"id":               d.ID,
		"webhook_id":       d.WebhookID,
		"org_id":           d.OrgID,
		"event_type":       d.EventType,
		"request_body":     d.RequestBody,
		"attempt_number":   d.AttemptNumber,
		"status":           d.Status.String(),
		"response_status":  d.ResponseStatus,
		"response_headers": string(headersJSON),
		"response_body":    d.ResponseBody,
		"duration_ms":      d.DurationMs,
		"error_message":    d.ErrorMessage,
		"next_retry_at":    unixMilli(d.NextRetryAt),
		"resolved_at":      unixMilli(d.ResolvedAt),
		"created_at":       unixMilli(d.CreatedAt),
		"updated_at":       unixMilli(d.UpdatedAt),
	}, nil
}

func parseDelivery(data map[string]string) (webhook.Delivery, error) {
	headers := make(map[string]string)
	if headersStr := data["response_headers"]; headersStr != "" && headersStr != "null" {
		if err := json.Unmarshal([]byte(headersStr), &headers); err != nil {
			return webhook.Delivery{}, fmt.Errorf("unmarshaling response headers: %w", err)
		}
	}

	status := webhook.NewStatus(data["status"])
	if status.Validate() != nil {
		return webhook.Delivery{}, fmt.Errorf("parsing delivery %s: %w %q", data["id"], errUnknownStatus, data["status"])
	}

	return webhook.Delivery{
		ID:              data["id"],
		WebhookID:       data["webhook_id"],
		OrgID:           data["org_id"],
		EventType:       data["event_type"],
		RequestBody:     []byte(data["request_body"]),
		AttemptNumber:   int(parseInt64(data["attempt_number"])),
		Status:          status,
		ResponseStatus:  int(parseInt64(data["response_status"])),
		ResponseHeaders: headers,
		ResponseBody:    data["response_body"],
		DurationMs:      parseInt64(data["duration_ms"]),
		ErrorMessage:    data["error_message"],
		NextRetryAt:     fromUnixMilli(data["next_retry_at"]),
		ResolvedAt:      fromUnixMilli(data["resolved_at"]),
		CreatedAt:       fromUnixMilli(data["created_at"]),
		UpdatedAt:       fromUnixMilli(data["updated_at"]),
	}, nil
}

// unixMilli stores the zero time as 0
func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(s string) time.Time {
	ms := parseInt64(s)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func parseInt64(s string) int64 {
	result, _ := strconv.ParseInt(s, 10, 64)
	return result
}
