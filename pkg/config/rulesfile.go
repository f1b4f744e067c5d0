package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// RulesFile is the on-disk layout of detection-rule overrides.
//
//	rules:
//	  - owner: team-a
//	    resource_type: ebs_volume
//	    min_age_days: 14
type RulesFile struct {
	Rules []DetectionRule `yaml:"rules"`
}

// RuleSet indexes overrides by owner and resource type.
type RuleSet map[string]map[resource.Type]DetectionRule

// Get returns the override for (owner, t), or nil.
func (s RuleSet) Get(owner string, t resource.Type) *DetectionRule {
	byType, ok := s[owner]
	if !ok {
		return nil
	}
	r, ok := byType[t]
	if !ok {
		return nil
	}
	return &r
}

// ParseRules decodes a YAML rules document.
func ParseRules(data []byte) (RuleSet, error) {
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	set := make(RuleSet)
	for i, r := range f.Rules {
		if r.OwnerID == "" {
			return nil, fmt.Errorf("rule %d: owner is required", i)
		}
		if _, ok := resource.Lookup(r.ResourceType); !ok {
			return nil, fmt.Errorf("rule %d: unknown resource_type %q", i, r.ResourceType)
		}
		if set[r.OwnerID] == nil {
			set[r.OwnerID] = make(map[resource.Type]DetectionRule)
		}
		set[r.OwnerID][r.ResourceType] = r
	}
	return set, nil
}

// LoadRulesFile reads and parses a rules file. A missing path yields an empty set.
func LoadRulesFile(path string) (RuleSet, error) {
	if path == "" {
		return RuleSet{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}
