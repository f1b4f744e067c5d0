// Package config defines scan settings, detection-rule defaults and the
// override merge applied per account owner.
package config

import (
	"fmt"
	"time"
)

// Defaults.
const (
	DefaultRegion               = "us-east-1"
	DefaultMaxConcurrentRegions = 3
	DefaultMaxConcurrentTypes   = 2
	DefaultScanTimeout          = 20 * time.Minute
	DefaultMissedScanRetention  = 1
	DefaultPricingTTL           = 24 * time.Hour
	DefaultRefreshInterval      = 6 * time.Hour
)

// ScanConfig holds engine settings. Field tags map to the YAML config file and
// CLOUDWASTE_* environment variables.
type ScanConfig struct {
	MaxConcurrentRegions int           `mapstructure:"max_concurrent_regions"`
	MaxConcurrentTypes   int           `mapstructure:"max_concurrent_types"`
	ScanTimeout          time.Duration `mapstructure:"scan_timeout"`
	// MissedScanRetention is the number of consecutive scans a resource may be
	// absent from provider output before its finding is removed.
	MissedScanRetention int `mapstructure:"missed_scan_retention"`

	Retry   RetryConfig   `mapstructure:"retry"`
	Pricing PricingConfig `mapstructure:"pricing"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Store   StoreConfig   `mapstructure:"store"`
	Notify  NotifyConfig  `mapstructure:"notify"`

	OtelEndpoint string `mapstructure:"otel_endpoint"`
	LogFormat    string `mapstructure:"log_format"`
	RulesFile    string `mapstructure:"rules_file"`

	Accounts []AccountConfig `mapstructure:"accounts"`
}

// RetryConfig bounds retries of a single provider call.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	// Jitter is the randomization factor in [0, 1].
	Jitter float64 `mapstructure:"jitter"`
}

type PricingConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	// SnapshotURL is "s3://bucket/prefix" or a local directory.
	SnapshotURL  string  `mapstructure:"snapshot_url"`
	DiscountRate float64 `mapstructure:"discount_rate"`
}

type QueueConfig struct {
	Workers int `mapstructure:"workers"`
	Buffer  int `mapstructure:"buffer"`
}

type StoreConfig struct {
	// Driver is one of memory, sqlite, dynamodb.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	// TablePrefix is used by the dynamodb driver.
	TablePrefix string `mapstructure:"table_prefix"`
	Region      string `mapstructure:"region"`
}

// NotifyConfig selects where finished scans are reported.
type NotifyConfig struct {
	SlackWebhook string `mapstructure:"slack_webhook"`
	SlackChannel string `mapstructure:"slack_channel"`
}

// AccountConfig declares an account the CLI can scan together with the
// material the local credential provider decrypts for it.
type AccountConfig struct {
	ID       string   `mapstructure:"id"`
	Owner    string   `mapstructure:"owner"`
	Provider string   `mapstructure:"provider"`
	Regions  []string `mapstructure:"regions"`

	Profile         string `mapstructure:"profile"`
	TenantID        string `mapstructure:"tenant_id"`
	ClientID        string `mapstructure:"client_id"`
	ClientSecret    string `mapstructure:"client_secret"`
	SubscriptionID  string `mapstructure:"subscription_id"`
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// DefaultScanConfig returns the built-in settings.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		MaxConcurrentRegions: DefaultMaxConcurrentRegions,
		MaxConcurrentTypes:   DefaultMaxConcurrentTypes,
		ScanTimeout:          DefaultScanTimeout,
		MissedScanRetention:  DefaultMissedScanRetention,
		Retry:                DefaultRetryConfig(),
		Pricing: PricingConfig{
			TTL:             DefaultPricingTTL,
			RefreshInterval: DefaultRefreshInterval,
		},
		Queue: QueueConfig{
			Workers: 4,
			Buffer:  64,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		LogFormat: "json",
	}
}

// DefaultRetryConfig returns the retry policy used for provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
		Jitter:          0.5,
	}
}

// Validate rejects settings the engine cannot run with.
func (c ScanConfig) Validate() error {
	if c.MaxConcurrentRegions < 1 {
		return fmt.Errorf("max_concurrent_regions must be >= 1, got %d", c.MaxConcurrentRegions)
	}
	if c.MaxConcurrentTypes < 1 {
		return fmt.Errorf("max_concurrent_types must be >= 1, got %d", c.MaxConcurrentTypes)
	}
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scan_timeout must be positive")
	}
	if c.MissedScanRetention < 1 {
		return fmt.Errorf("missed_scan_retention must be >= 1, got %d", c.MissedScanRetention)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be within [0,1]")
	}
	if c.Pricing.TTL <= 0 {
		return fmt.Errorf("pricing.ttl must be positive")
	}
	return nil
}
