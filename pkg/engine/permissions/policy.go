package permissions

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

type PolicyDocument struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

type Statement struct {
	Sid      string   `json:"Sid"`
	Effect   string   `json:"Effect"`
	Action   []string `json:"Action"`
	Resource string   `json:"Resource"`
}

// GeneratePolicy returns the least-privilege policy for scanning types. An
// empty list means every AWS type. withPricing adds the pricing refresh actions.
func GeneratePolicy(types []resource.Type, withPricing bool) ([]byte, error) {
	desired := make(map[string]bool)
	for _, a := range CorePermissions() {
		desired[a] = true
	}
	if withPricing {
		for _, a := range PricingPermissions() {
			desired[a] = true
		}
	}

	if len(types) == 0 {
		types = resource.TypesFor(resource.ProviderAWS)
	}
	for _, t := range types {
		actions, ok := Catalog[t]
		if !ok {
			return nil, fmt.Errorf("no AWS permissions known for resource type %q", t)
		}
		for _, a := range actions {
			desired[a] = true
		}
	}

	actions := make([]string, 0, len(desired))
	for a := range desired {
		actions = append(actions, a)
	}
	sort.Strings(actions)

	policy := PolicyDocument{
		Version: "2012-10-17",
		Statement: []Statement{
			{
				Sid:      "CloudWasteReadOnly",
				Effect:   "Allow",
				Action:   actions,
				Resource: "*",
			},
		},
	}
	return json.MarshalIndent(policy, "", "  ")
}
