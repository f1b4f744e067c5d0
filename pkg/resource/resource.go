// Package resource defines the provider-neutral model shared by the scan engine:
// provider tags, the resource type catalogue, candidates and finding identity.
package resource

import (
	"fmt"
	"sort"
	"time"
)

// Provider is the cloud provider tag of an account.
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderAzure Provider = "azure"
	ProviderGCP   Provider = "gcp"
	ProviderM365  Provider = "m365"
)

// Valid reports whether p is a known provider tag.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAWS, ProviderAzure, ProviderGCP, ProviderM365:
		return true
	}
	return false
}

// ParseProvider converts a raw tag into a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return p, nil
}

// Candidate is a resource returned by a provider listing. It is never persisted directly.
type Candidate struct {
	Provider Provider
	Type     Type
	ID       string // provider-native id
	Name     string
	Region   string

	// CreatedAt is zero when the provider does not expose a creation time.
	CreatedAt time.Time
	// LastActiveAt marks the last observed use (stop transition, detach, sign-in).
	LastActiveAt time.Time

	Tags       map[string]string
	Attributes map[string]interface{}
}

const day = 24 * time.Hour

// AgeDays returns the number of days since creation, capped at zero.
// The second value is false when the creation time is unknown.
func (c *Candidate) AgeDays(now time.Time) (float64, bool) {
	if c.CreatedAt.IsZero() {
		return 0, false
	}
	return daysBetween(c.CreatedAt, now), true
}

// IdleDays returns the days since the resource was last active. It falls back to
// the creation age when no activity marker exists.
func (c *Candidate) IdleDays(now time.Time) (float64, bool) {
	if !c.LastActiveAt.IsZero() {
		return daysBetween(c.LastActiveAt, now), true
	}
	return c.AgeDays(now)
}

func daysBetween(from, to time.Time) float64 {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return float64(d) / float64(day)
}

// String returns a string attribute or "".
func (c *Candidate) String(key string) string {
	if v, ok := c.Attributes[key].(string); ok {
		return v
	}
	return ""
}

// Float returns a numeric attribute as float64.
func (c *Candidate) Float(key string) float64 {
	switch v := c.Attributes[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Bool returns a boolean attribute.
func (c *Candidate) Bool(key string) bool {
	v, _ := c.Attributes[key].(bool)
	return v
}

// SetAttr lazily initializes the attribute map.
func (c *Candidate) SetAttr(key string, v interface{}) {
	if c.Attributes == nil {
		c.Attributes = make(map[string]interface{})
	}
	c.Attributes[key] = v
}

// FindingKey is the stable identity of a persisted finding.
type FindingKey struct {
	AccountID  string
	Type       Type
	ProviderID string
}

func (k FindingKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.AccountID, k.Type, k.ProviderID)
}

// CloudAccount is owned by the caller; the engine only reads it.
type CloudAccount struct {
	ID         string
	OwnerID    string
	Provider   Provider
	Regions    []string
	LastScanAt time.Time
}

// Credential is the decrypted credential handed over by the credential provider.
// Exactly one of the provider sections is populated.
type Credential struct {
	Provider Provider
	AWS      *AWSCredential
	Azure    *AzureCredential
	GCP      *GCPCredential
}

type AWSCredential struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// Profile selects a shared config profile when no static keys are given.
	Profile string
}

// AzureCredential is used for both azure and m365 accounts.
type AzureCredential struct {
	TenantID       string
	ClientID       string
	ClientSecret   string
	SubscriptionID string
}

type GCPCredential struct {
	ProjectID       string
	CredentialsJSON []byte
}

// SortTypes orders resource types deterministically.
func SortTypes(ts []Type) {
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
}
