package config

import (
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// RuleParams are the effective, fully-populated parameters of one detection rule.
type RuleParams struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
	MinAgeDays int  `mapstructure:"min_age_days" yaml:"min_age_days"`

	// Confidence tier boundaries, in days since creation or last use.
	MediumAfterDays   int `mapstructure:"medium_after_days" yaml:"medium_after_days"`
	HighAfterDays     int `mapstructure:"high_after_days" yaml:"high_after_days"`
	CriticalAfterDays int `mapstructure:"critical_after_days" yaml:"critical_after_days"`

	LookbackDays        int     `mapstructure:"lookback_days" yaml:"lookback_days"`
	CPUThresholdPercent float64 `mapstructure:"cpu_threshold_percent" yaml:"cpu_threshold_percent"`
	StoppedDays         int     `mapstructure:"stopped_days" yaml:"stopped_days"`
	SnapshotAgeDays     int     `mapstructure:"snapshot_age_days" yaml:"snapshot_age_days"`
	InactiveDays        int     `mapstructure:"inactive_days" yaml:"inactive_days"`

	// SuppressUnknownAge withholds a verdict when the creation time could not
	// be resolved, instead of skipping the min age check.
	SuppressUnknownAge bool `mapstructure:"suppress_unknown_age" yaml:"suppress_unknown_age"`

	// ExcludeExpression is a CEL expression; a match suppresses the verdict.
	ExcludeExpression string `mapstructure:"exclude_expression" yaml:"exclude_expression"`
}

// DetectionRule is a per (owner, resource type) override. Nil fields keep the default.
type DetectionRule struct {
	OwnerID      string        `yaml:"owner"`
	ResourceType resource.Type `yaml:"resource_type"`

	Enabled             *bool    `yaml:"enabled,omitempty"`
	MinAgeDays          *int     `yaml:"min_age_days,omitempty"`
	MediumAfterDays     *int     `yaml:"medium_after_days,omitempty"`
	HighAfterDays       *int     `yaml:"high_after_days,omitempty"`
	CriticalAfterDays   *int     `yaml:"critical_after_days,omitempty"`
	LookbackDays        *int     `yaml:"lookback_days,omitempty"`
	CPUThresholdPercent *float64 `yaml:"cpu_threshold_percent,omitempty"`
	StoppedDays         *int     `yaml:"stopped_days,omitempty"`
	SnapshotAgeDays     *int     `yaml:"snapshot_age_days,omitempty"`
	InactiveDays        *int     `yaml:"inactive_days,omitempty"`
	SuppressUnknownAge  *bool    `yaml:"suppress_unknown_age,omitempty"`
	ExcludeExpression   *string  `yaml:"exclude_expression,omitempty"`
}

// BaseRuleParams are shared by every resource type.
func BaseRuleParams() RuleParams {
	return RuleParams{
		Enabled:             true,
		MinAgeDays:          3,
		MediumAfterDays:     7,
		HighAfterDays:       30,
		CriticalAfterDays:   90,
		LookbackDays:        30,
		CPUThresholdPercent: 5.0,
		StoppedDays:         30,
		SnapshotAgeDays:     90,
		InactiveDays:        90,
	}
}

// DefaultRuleParams returns the engine defaults for a resource type.
func DefaultRuleParams(t resource.Type) RuleParams {
	p := BaseRuleParams()
	switch t {
	case resource.EC2Instance:
		// Idle CPU looks at two weeks of daily averages.
		p.LookbackDays = 14
	case resource.ElasticIP:
		// Age comes from CloudTrail, which can be unreachable.
		p.SuppressUnknownAge = true
	case resource.EBSSnapshot:
		p.MinAgeDays = 7
	case resource.M365License:
		p.MinAgeDays = 30
	}
	return p
}

// Merge applies the non-nil fields of r over p. A nil rule returns p unchanged.
func (p RuleParams) Merge(r *DetectionRule) RuleParams {
	if r == nil {
		return p
	}
	if r.Enabled != nil {
		p.Enabled = *r.Enabled
	}
	if r.SuppressUnknownAge != nil {
		p.SuppressUnknownAge = *r.SuppressUnknownAge
	}
	mergeInt(&p.MinAgeDays, r.MinAgeDays)
	mergeInt(&p.MediumAfterDays, r.MediumAfterDays)
	mergeInt(&p.HighAfterDays, r.HighAfterDays)
	mergeInt(&p.CriticalAfterDays, r.CriticalAfterDays)
	mergeInt(&p.LookbackDays, r.LookbackDays)
	mergeInt(&p.StoppedDays, r.StoppedDays)
	mergeInt(&p.SnapshotAgeDays, r.SnapshotAgeDays)
	mergeInt(&p.InactiveDays, r.InactiveDays)
	if r.CPUThresholdPercent != nil && *r.CPUThresholdPercent >= 0 {
		p.CPUThresholdPercent = *r.CPUThresholdPercent
	}
	if r.ExcludeExpression != nil {
		p.ExcludeExpression = *r.ExcludeExpression
	}
	p.normalize()
	return p
}

// Negative values in an override are ignored.
func mergeInt(dst *int, v *int) {
	if v != nil && *v >= 0 {
		*dst = *v
	}
}

// normalize keeps the tier boundaries ordered after an override.
func (p *RuleParams) normalize() {
	if p.HighAfterDays < p.MediumAfterDays {
		p.HighAfterDays = p.MediumAfterDays
	}
	if p.CriticalAfterDays < p.HighAfterDays {
		p.CriticalAfterDays = p.HighAfterDays
	}
	if p.LookbackDays < 1 {
		p.LookbackDays = 1
	}
}

// Effective resolves the parameters for t given an optional override.
func Effective(t resource.Type, override *DetectionRule) RuleParams {
	return DefaultRuleParams(t).Merge(override)
}
