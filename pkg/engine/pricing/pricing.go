// Package pricing keeps a time-bounded cache of unit prices per (provider,
// service, region), backed by a static fallback table and refreshed by a
// separate process from provider pricing APIs.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// ErrFallbackGap means a registered resource type has no fallback price.
var ErrFallbackGap = errors.New("pricing fallback gap")

// ErrNoPrice is returned by a Source that cannot price a key.
var ErrNoPrice = errors.New("no price found")

// HoursPerMonth converts hourly prices to monthly.
const HoursPerMonth = 730

// Unit is the billing unit of a price.
type Unit string

const (
	UnitHour    Unit = "Hrs"
	UnitGBMonth Unit = "GB-Mo"
	// UnitMonth is a fixed monthly price per resource or per user.
	UnitMonth Unit = "Mo"
)

// MonthlyFactor returns the multiplier from the unit price to a monthly price
// for one unit of quantity.
func (u Unit) MonthlyFactor() float64 {
	if u == UnitHour {
		return HoursPerMonth
	}
	return 1
}

type Source string

const (
	SourceAPI      Source = "api"
	SourceFallback Source = "fallback"
)

// Key identifies a price. Service is a base service ("ebs") optionally
// followed by a variant ("ebs:gp3").
type Key struct {
	Provider resource.Provider `json:"provider"`
	Service  string            `json:"service"`
	Region   string            `json:"region"`
}

func NewKey(p resource.Provider, service, variant, region string) Key {
	if variant != "" {
		service = service + ":" + variant
	}
	return Key{Provider: p, Service: service, Region: region}
}

// Base returns the service without its variant.
func (k Key) Base() string {
	base, _, _ := strings.Cut(k.Service, ":")
	return base
}

// Variant returns the part after the colon, or "".
func (k Key) Variant() string {
	_, v, _ := strings.Cut(k.Service, ":")
	return v
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Provider, k.Service, k.Region)
}

// Entry is a cached or fallback unit price.
type Entry struct {
	Key       Key       `json:"key"`
	Price     float64   `json:"price"`
	Unit      Unit      `json:"unit"`
	Currency  string    `json:"currency"`
	Source    Source    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Fresh reports whether the entry is usable at now.
func (e Entry) Fresh(now time.Time) bool {
	return e.Source == SourceAPI && now.Before(e.ExpiresAt)
}

// Quote is the answer of a pricing source.
type Quote struct {
	Price    float64
	Unit     Unit
	Currency string
}

// PriceSource fetches unit prices from a provider pricing API. It is only
// called by the Refresher, never on the scan path.
type PriceSource interface {
	Provider() resource.Provider
	FetchUnitPrice(ctx context.Context, k Key) (Quote, error)
}
