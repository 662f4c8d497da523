package tenants

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/backoff"
	"gopkg.in/yaml.v3"
)

/* Loader manages tenant configuration from tenants.yaml
 * Provides in-memory lookup for fast access and serves as a webhook.PolicyReader
 */

// Config represents the structure of tenants.yaml
type Config struct {
	Tenants []TenantConfig `yaml:"tenants"`
}

// TenantConfig represents a single organization in the YAML file
type TenantConfig struct {
	OrgID         string               `yaml:"org_id"`
	RetryPolicy   *PolicyConfig        `yaml:"retry_policy"` // Optional: default policy when absent
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

// PolicyConfig overrides fields of the default retry policy
type PolicyConfig struct {
	MaxRetries       *int    `yaml:"max_retries"`
	Strategy         *string `yaml:"strategy"` // fixed, linear or exponential
	BaseDelaySeconds *int    `yaml:"base_delay_seconds"`
	MaxDelaySeconds  *int    `yaml:"max_delay_seconds"`
	Jitter           *bool   `yaml:"jitter"`
	DeadLetter       *bool   `yaml:"dead_letter"`
}

// SubscriptionConfig represents a webhook subscription seed
type SubscriptionConfig struct {
	WebhookID string            `yaml:"webhook_id"`
	URL       string            `yaml:"url"`
	Secret    string            `yaml:"secret"` // ${VAR} references are expanded from the environment
	Status    string            `yaml:"status"` // Default: active
	Headers   map[string]string `yaml:"headers"`
}

// PolicySaver persists retry policies, for stores that keep them
type PolicySaver interface {
	SaveRetryPolicy(ctx context.Context, p webhook.RetryPolicy) error
}

// Loader holds the loaded tenants
type Loader struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	// Default is served for organizations without a retry_policy block or not listed at all
	Default webhook.RetryPolicy
}

// NewLoader creates a new tenant loader
func NewLoader() *Loader {
	return &Loader{
		tenants: make(map[string]*Tenant),
		Default: webhook.DefaultRetryPolicy(),
	}
}

// Load reads and parses the tenants.yaml file
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading tenants file: %w", err)
	}
	return l.Parse(data)
}

// Parse loads tenants from YAML bytes, replacing what was loaded before only when all of it is valid
func (l *Loader) Parse(data []byte) error {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing tenants YAML: %w", err)
	}

	tenants := make(map[string]*Tenant, len(config.Tenants))
	owners := make(map[string]string)

	for _, tc := range config.Tenants {
		tenant, err := l.convert(tc)
		if err != nil {
			return fmt.Errorf("validating tenant: %w", err)
		}
		if err := tenant.Validate(); err != nil {
			return fmt.Errorf("validating tenant: %w", err)
		}
		if _, dup := tenants[tenant.OrgID]; dup {
			return fmt.Errorf("validating tenant: duplicate org_id %s", tenant.OrgID)
		}
		for _, s := range tenant.Subscriptions {
			if owner, taken := owners[s.ID]; taken {
				return fmt.Errorf("validating tenant: webhook_id %s used by orgs %s and %s", s.ID, owner, tenant.OrgID)
			}
			owners[s.ID] = tenant.OrgID
		}
		tenants[tenant.OrgID] = tenant
	}

	l.mu.Lock()
	l.tenants = tenants
	l.mu.Unlock()

	return nil
}

func (l *Loader) convert(tc TenantConfig) (*Tenant, error) {
	tenant := &Tenant{OrgID: tc.OrgID}

	if tc.RetryPolicy != nil {
		p := l.Default
		p.OrgID = tc.OrgID
		if v := tc.RetryPolicy.MaxRetries; v != nil {
			p.MaxRetries = *v
		}
		if v := tc.RetryPolicy.Strategy; v != nil {
			p.Strategy = backoff.NewStrategy(*v)
		}
		if v := tc.RetryPolicy.BaseDelaySeconds; v != nil {
			p.BaseDelaySeconds = *v
		}
		if v := tc.RetryPolicy.MaxDelaySeconds; v != nil {
			p.MaxDelaySeconds = *v
		}
		if v := tc.RetryPolicy.Jitter; v != nil {
			p.Jitter = *v
		}
		if v := tc.RetryPolicy.DeadLetter; v != nil {
			p.DeadLetter = *v
		}
		tenant.Policy = &p
	}

	for _, sc := range tc.Subscriptions {
		status := webhook.Active
		if sc.Status != "" {
			status = webhook.NewSubscriptionStatus(sc.Status)
			if status.String() != sc.Status {
				return nil, fmt.Errorf("unknown status %q for webhook %s", sc.Status, sc.WebhookID)
			}
		}

		tenant.Subscriptions = append(tenant.Subscriptions, webhook.Subscription{
			ID:      sc.WebhookID,
			OrgID:   tc.OrgID,
			URL:     sc.URL,
			Secret:  os.ExpandEnv(sc.Secret),
			Status:  status,
			Headers: sc.Headers,
		})
	}

	return tenant, nil
}

// Get retrieves a tenant by its org ID
func (l *Loader) Get(orgID string) (*Tenant, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tenant, exists := l.tenants[orgID]
	if !exists {
		return nil, fmt.Errorf("tenant not found: %s", orgID)
	}
	return tenant, nil
}

// List returns all loaded tenants ordered by org ID
func (l *Loader) List() []*Tenant {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tenants := make([]*Tenant, 0, len(l.tenants))
	for _, tenant := range l.tenants {
		tenants = append(tenants, tenant)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].OrgID < tenants[j].OrgID })
	return tenants
}

// Exists checks if an org ID is configured
func (l *Loader) Exists(orgID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, exists := l.tenants[orgID]
	return exists
}

// GetRetryPolicy implements webhook.PolicyReader
func (l *Loader) GetRetryPolicy(_ context.Context, orgID string) (webhook.RetryPolicy, error) {
	tenant, err := l.Get(orgID)
	if err != nil {
		p := l.Default
		p.OrgID = orgID
		return p, nil
	}
	return tenant.RetryPolicy(l.Default), nil
}

/* Seed writes every subscription to the store
 * Policies go to the store too when it keeps them (policies may be nil)
 */
func (l *Loader) Seed(ctx context.Context, subs webhook.SubscriptionWriter, policies PolicySaver) (int, error) {
	now := time.Now().UTC()
	count := 0

	for _, tenant := range l.List() {
		if policies != nil && tenant.Policy != nil {
			if err := policies.SaveRetryPolicy(ctx, *tenant.Policy); err != nil {
				return count, fmt.Errorf("seeding retry policy for org %s: %w", tenant.OrgID, err)
			}
		}
		for _, s := range tenant.Subscriptions {
			s.CreatedAt = now
			s.UpdatedAt = now
			if err := subs.SaveSubscription(ctx, s); err != nil {
				return count, fmt.Errorf("seeding subscription %s: %w", s.ID, err)
			}
			count++
		}
	}

	return count, nil
}
