package postgres

import (
	"context"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/patrickmn/go-cache"
)

// PolicyCache keeps retry policies in memory for ttl so a dispatch does not hit the database every time
type PolicyCache struct {
	reader webhook.PolicyReader
	cache  *cache.Cache
}

func NewPolicyCache(reader webhook.PolicyReader, ttl time.Duration) *PolicyCache {
	return &PolicyCache{
		reader: reader,
		cache:  cache.New(ttl, 2*ttl),
	}
}

// GetRetryPolicy returns the cached policy or loads it from the reader
func (c *PolicyCache) GetRetryPolicy(ctx context.Context, orgID string) (webhook.RetryPolicy, error) {
	if p, ok := c.cache.Get(orgID); ok {
		return p.(webhook.RetryPolicy), nil
	}

	p, err := c.reader.GetRetryPolicy(ctx, orgID)
	if err != nil {
		return webhook.RetryPolicy{}, err
	}

	c.cache.SetDefault(orgID, p)
	return p, nil
}

// Invalidate drops the cached policy of an org
func (c *PolicyCache) Invalidate(orgID string) {
	c.cache.Delete(orgID)
}
