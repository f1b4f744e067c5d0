package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

func intPtr(v int) *int { return &v }

func TestDefaultScanConfig(t *testing.T) {
	cfg := DefaultScanConfig()

	assert.Equal(t, 3, cfg.MaxConcurrentRegions)
	assert.Less(t, cfg.MaxConcurrentTypes, cfg.MaxConcurrentRegions)
	assert.Equal(t, 1, cfg.MissedScanRetention)
	assert.Equal(t, 24*time.Hour, cfg.Pricing.TTL)
	require.NoError(t, cfg.Validate())
}

func TestScanConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *ScanConfig)
	}{
		{"zero regions", func(c *ScanConfig) { c.MaxConcurrentRegions = 0 }},
		{"zero types", func(c *ScanConfig) { c.MaxConcurrentTypes = 0 }},
		{"no timeout", func(c *ScanConfig) { c.ScanTimeout = 0 }},
		{"zero retention", func(c *ScanConfig) { c.MissedScanRetention = 0 }},
		{"no attempts", func(c *ScanConfig) { c.Retry.MaxAttempts = 0 }},
		{"jitter out of range", func(c *ScanConfig) { c.Retry.Jitter = 1.5 }},
		{"no ttl", func(c *ScanConfig) { c.Pricing.TTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultScanConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRuleParams_Merge(t *testing.T) {
	base := DefaultRuleParams(resource.EBSVolume)
	disabled := false
	expr := "tags.keep == 'true'"

	tests := []struct {
		name     string
		override *DetectionRule
		check    func(t *testing.T, p RuleParams)
	}{
		{
			name:     "nil override keeps defaults",
			override: nil,
			check: func(t *testing.T, p RuleParams) {
				assert.Equal(t, base, p)
			},
		},
		{
			name:     "single field override",
			override: &DetectionRule{MinAgeDays: intPtr(10)},
			check: func(t *testing.T, p RuleParams) {
				assert.Equal(t, 10, p.MinAgeDays)
				assert.Equal(t, base.HighAfterDays, p.HighAfterDays)
				assert.True(t, p.Enabled)
			},
		},
		{
			name:     "disable and exclusion",
			override: &DetectionRule{Enabled: &disabled, ExcludeExpression: &expr},
			check: func(t *testing.T, p RuleParams) {
				assert.False(t, p.Enabled)
				assert.Equal(t, expr, p.ExcludeExpression)
			},
		},
		{
			name:     "negative values ignored",
			override: &DetectionRule{MinAgeDays: intPtr(-1)},
			check: func(t *testing.T, p RuleParams) {
				assert.Equal(t, base.MinAgeDays, p.MinAgeDays)
			},
		},
		{
			name:     "tier boundaries stay ordered",
			override: &DetectionRule{HighAfterDays: intPtr(120)},
			check: func(t *testing.T, p RuleParams) {
				assert.Equal(t, 120, p.HighAfterDays)
				assert.Equal(t, 120, p.CriticalAfterDays)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, base.Merge(tt.override))
		})
	}
}

func TestDefaultRuleParams_PerType(t *testing.T) {
	assert.Equal(t, 3, DefaultRuleParams(resource.ElasticIP).MinAgeDays)
	assert.Equal(t, 14, DefaultRuleParams(resource.EC2Instance).LookbackDays)
	assert.Equal(t, 30, DefaultRuleParams(resource.NATGateway).LookbackDays)
	assert.True(t, DefaultRuleParams(resource.ElasticIP).SuppressUnknownAge)
	assert.False(t, DefaultRuleParams(resource.EBSVolume).SuppressUnknownAge)
}

func TestMerge_SuppressUnknownAge(t *testing.T) {
	off, on := false, true
	assert.False(t, Effective(resource.ElasticIP, &DetectionRule{SuppressUnknownAge: &off}).SuppressUnknownAge)
	assert.True(t, Effective(resource.EBSVolume, &DetectionRule{SuppressUnknownAge: &on}).SuppressUnknownAge)
	assert.True(t, Effective(resource.ElasticIP, &DetectionRule{}).SuppressUnknownAge)
}

func TestParseRules(t *testing.T) {
	doc := []byte(`
rules:
  - owner: team-a
    resource_type: ebs_volume
    min_age_days: 14
    exclude_expression: "tags.env == 'prod'"
  - owner: team-a
    resource_type: elastic_ip
    enabled: false
    suppress_unknown_age: false
`)
	set, err := ParseRules(doc)
	require.NoError(t, err)

	r := set.Get("team-a", resource.EBSVolume)
	require.NotNil(t, r)
	require.NotNil(t, r.MinAgeDays)
	assert.Equal(t, 14, *r.MinAgeDays)
	assert.Nil(t, r.LookbackDays)

	eip := set.Get("team-a", resource.ElasticIP)
	require.NotNil(t, eip)
	assert.False(t, *eip.Enabled)
	require.NotNil(t, eip.SuppressUnknownAge)
	assert.False(t, *eip.SuppressUnknownAge)

	assert.Nil(t, set.Get("team-b", resource.EBSVolume))
}

func TestParseRules_Invalid(t *testing.T) {
	_, err := ParseRules([]byte("rules:\n  - owner: x\n    resource_type: floppy_disk\n"))
	assert.Error(t, err)

	_, err = ParseRules([]byte("rules:\n  - resource_type: ebs_volume\n"))
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CLOUDWASTE_MAX_CONCURRENT_REGIONS", "5")
	t.Setenv("CLOUDWASTE_MISSED_SCAN_RETENTION", "3")

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxConcurrentRegions)
	assert.Equal(t, 3, cfg.MissedScanRetention)
	assert.Equal(t, 24*time.Hour, cfg.Pricing.TTL)
}
