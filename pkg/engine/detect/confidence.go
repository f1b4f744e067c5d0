package detect

import (
	"fmt"
	"strings"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
)

// Confidence is the certainty tier of a verdict. Values are ordered.
type Confidence int

const (
	Low Confidence = iota
	Medium
	High
	Critical
)

func (c Confidence) String() string {
	switch c {
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	}
	return "low"
}

// ParseConfidence converts a stored tier back into a Confidence.
func ParseConfidence(s string) (Confidence, error) {
	switch strings.ToLower(s) {
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	case "critical":
		return Critical, nil
	}
	return Low, fmt.Errorf("unknown confidence %q", s)
}

func (c Confidence) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Confidence) UnmarshalText(b []byte) error {
	v, err := ParseConfidence(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// TierFor maps days since creation or last use onto a tier.
func TierFor(days float64, p config.RuleParams) Confidence {
	switch {
	case days >= float64(p.CriticalAfterDays):
		return Critical
	case days >= float64(p.HighAfterDays):
		return High
	case days >= float64(p.MediumAfterDays):
		return Medium
	}
	return Low
}

func maxConfidence(a, b Confidence) Confidence {
	if a > b {
		return a
	}
	return b
}
