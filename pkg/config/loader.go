package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. CLOUDWASTE_SCAN_TIMEOUT.
const EnvPrefix = "CLOUDWASTE"

// SetDefaults registers the built-in values on v so that env-only settings resolve.
func SetDefaults(v *viper.Viper) {
	d := DefaultScanConfig()
	v.SetDefault("max_concurrent_regions", d.MaxConcurrentRegions)
	v.SetDefault("max_concurrent_types", d.MaxConcurrentTypes)
	v.SetDefault("scan_timeout", d.ScanTimeout)
	v.SetDefault("missed_scan_retention", d.MissedScanRetention)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_interval", d.Retry.InitialInterval)
	v.SetDefault("retry.max_interval", d.Retry.MaxInterval)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("retry.jitter", d.Retry.Jitter)
	v.SetDefault("pricing.ttl", d.Pricing.TTL)
	v.SetDefault("pricing.refresh_interval", d.Pricing.RefreshInterval)
	v.SetDefault("queue.workers", d.Queue.Workers)
	v.SetDefault("queue.buffer", d.Queue.Buffer)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("log_format", d.LogFormat)
}

// Load decodes v into a ScanConfig and validates it.
func Load(v *viper.Viper) (ScanConfig, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	var cfg ScanConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ScanConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ScanConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
