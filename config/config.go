package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

/* Config is a helper package. It could be an external lib
 * Values come from an optional .env (TOML) file, overridden by environment variables
 */

const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	Port  string `mapstructure:"PORT"`
	Store string `mapstructure:"STORE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	PostgresDSN                string `mapstructure:"POSTGRES_DSN"`
	PostgresMaxOpenConns       int    `mapstructure:"POSTGRES_MAX_OPEN_CONNS"`
	PostgresMaxIdleConns       int    `mapstructure:"POSTGRES_MAX_IDLE_CONNS"`
	PostgresConnMaxLifeMinutes int    `mapstructure:"POSTGRES_CONN_MAX_LIFE_MINUTES"`
	PostgresPolicyCacheSeconds int    `mapstructure:"POSTGRES_POLICY_CACHE_SECONDS"`

	TenantsFile string `mapstructure:"TENANTS_FILE"`

	HeaderPrefix           string `mapstructure:"HEADER_PREFIX"`
	DeliveryTimeoutSeconds int    `mapstructure:"DELIVERY_TIMEOUT_SECONDS"`
	MaxResponseBodyChars   int    `mapstructure:"MAX_RESPONSE_BODY_CHARS"`

	SchedulerIntervalSeconds int     `mapstructure:"SCHEDULER_INTERVAL_SECONDS"`
	SchedulerBatchSize       int     `mapstructure:"SCHEDULER_BATCH_SIZE"`
	SchedulerConcurrency     int     `mapstructure:"SCHEDULER_CONCURRENCY"`
	SchedulerRatePerSecond   float64 `mapstructure:"SCHEDULER_RATE_PER_SECOND"`
	RunScheduler             bool    `mapstructure:"RUN_SCHEDULER"`

	ClaimLeaseSeconds   int `mapstructure:"CLAIM_LEASE_SECONDS"`
	PendingGraceSeconds int `mapstructure:"PENDING_GRACE_SECONDS"`
	ParkDelaySeconds    int `mapstructure:"PARK_DELAY_SECONDS"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// defaults also registers every key, so AutomaticEnv values reach Unmarshal
var defaults = map[string]any{
	"PORT":                           "8080",
	"STORE":                          StoreRedis,
	"REDIS_ADDR":                     "localhost:6379",
	"REDIS_PASSWORD":                 "",
	"REDIS_DB":                       0,
	"POSTGRES_DSN":                   "",
	"POSTGRES_MAX_OPEN_CONNS":        25,
	"POSTGRES_MAX_IDLE_CONNS":        5,
	"POSTGRES_CONN_MAX_LIFE_MINUTES": 5,
	"POSTGRES_POLICY_CACHE_SECONDS":  30,
	"TENANTS_FILE":                   "tenants.yaml",
	"HEADER_PREFIX":                  "X-Webhook",
	"DELIVERY_TIMEOUT_SECONDS":       30,
	"MAX_RESPONSE_BODY_CHARS":        10000,
	"SCHEDULER_INTERVAL_SECONDS":     10,
	"SCHEDULER_BATCH_SIZE":           100,
	"SCHEDULER_CONCURRENCY":          10,
	"SCHEDULER_RATE_PER_SECOND":      0,
	"RUN_SCHEDULER":                  true,
	"CLAIM_LEASE_SECONDS":            120,
	"PENDING_GRACE_SECONDS":          60,
	"PARK_DELAY_SECONDS":             300,
	"LOG_LEVEL":                      "info",
}

// GetConfig reads .env from the working directory, if present, and the environment
func GetConfig() (*Config, error) {
	return Load(".")
}

// Load reads .env from dir, if present, and the environment
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("toml")
	v.AddConfigPath(dir)
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	err = v.Unmarshal(&config)
	if err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &config, nil
}

// Validate rejects combinations the service cannot start with
func (c *Config) Validate() error {
	switch c.Store {
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when STORE=redis")
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORE=postgres")
		}
	default:
		return fmt.Errorf("STORE must be %q or %q (got %q)", StoreRedis, StorePostgres, c.Store)
	}

	if c.MaxResponseBodyChars < 0 {
		return fmt.Errorf("MAX_RESPONSE_BODY_CHARS cannot be negative")
	}
	if c.SchedulerRatePerSecond < 0 {
		return fmt.Errorf("SCHEDULER_RATE_PER_SECOND cannot be negative")
	}
	// A lease shorter than the request timeout would let a second dispatch start while the first is still waiting
	if c.ClaimLeaseSeconds > 0 && c.ClaimLeaseSeconds <= c.DeliveryTimeoutSeconds {
		return fmt.Errorf("CLAIM_LEASE_SECONDS (%d) must exceed DELIVERY_TIMEOUT_SECONDS (%d)", c.ClaimLeaseSeconds, c.DeliveryTimeoutSeconds)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return nil
}

func seconds(n, def int) time.Duration {
	if n <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(n) * time.Second
}

// GetDeliveryTimeout returns the per-attempt HTTP timeout
func (c *Config) GetDeliveryTimeout() time.Duration {
	return seconds(c.DeliveryTimeoutSeconds, 30)
}

func (c *Config) GetSchedulerInterval() time.Duration {
	return seconds(c.SchedulerIntervalSeconds, 10)
}

func (c *Config) GetClaimLease() time.Duration {
	return seconds(c.ClaimLeaseSeconds, 120)
}

func (c *Config) GetPendingGrace() time.Duration {
	return seconds(c.PendingGraceSeconds, 60)
}

func (c *Config) GetParkDelay() time.Duration {
	return seconds(c.ParkDelaySeconds, 300)
}

// GetPolicyCacheTTL returns how long Postgres retry policies are cached, 0 disables the cache
func (c *Config) GetPolicyCacheTTL() time.Duration {
	if c.PostgresPolicyCacheSeconds <= 0 {
		return 0
	}
	return time.Duration(c.PostgresPolicyCacheSeconds) * time.Second
}

func (c *Config) GetMaxResponseBodyChars() int {
	if c.MaxResponseBodyChars == 0 {
		return 10000
	}
	return c.MaxResponseBodyChars
}

// GetLogLevel parses LOG_LEVEL, falling back to info
func (c *Config) GetLogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}
