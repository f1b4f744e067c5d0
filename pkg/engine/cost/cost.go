// Package cost turns a candidate into monthly and cumulative waste figures
// using cached unit prices.
package cost

import (
	"math"
	"time"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/pricing"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// Pricer is satisfied by *pricing.Cache. Lookup never fails.
type Pricer interface {
	Lookup(k pricing.Key) pricing.Entry
}

// Line is one priced component of a resource.
type Line struct {
	Key       pricing.Key
	Quantity  float64
	UnitPrice float64
	Unit      pricing.Unit
	Source    pricing.Source
	Monthly   float64
}

type Estimate struct {
	Monthly    float64
	Cumulative float64
	Currency   string
	// Source is fallback when any line was priced from the static table.
	Source pricing.Source
	Lines  []Line
}

type Estimator struct {
	prices Pricer
}

func NewEstimator(p Pricer) *Estimator {
	return &Estimator{prices: p}
}

// Estimate prices what the resource keeps billing while orphaned. Cumulative
// cost covers the days since creation up to now and is zero when the creation
// time is unknown.
func (e *Estimator) Estimate(c *resource.Candidate, now time.Time) Estimate {
	est := Estimate{Currency: "USD", Source: pricing.SourceAPI}
	for _, q := range quantities(c) {
		entry := e.prices.Lookup(q.key)
		monthly := entry.Price * entry.Unit.MonthlyFactor() * q.qty
		est.Lines = append(est.Lines, Line{
			Key:       q.key,
			Quantity:  q.qty,
			UnitPrice: entry.Price,
			Unit:      entry.Unit,
			Source:    entry.Source,
			Monthly:   monthly,
		})
		est.Monthly += monthly
		if entry.Source == pricing.SourceFallback {
			est.Source = pricing.SourceFallback
		}
		if entry.Currency != "" {
			est.Currency = entry.Currency
		}
	}
	if len(est.Lines) == 0 {
		est.Source = pricing.SourceFallback
	}
	est.Monthly = roundCents(est.Monthly)
	if age, ok := c.AgeDays(now); ok {
		est.Cumulative = cumulativeCents(est.Monthly, age)
	}
	return est
}

// cumulativeCents prorates the reported monthly cost over age days in whole
// cents, rounding down so it never exceeds monthly × age / 30.
func cumulativeCents(monthly, ageDays float64) float64 {
	if monthly <= 0 || ageDays <= 0 {
		return 0
	}
	const monthSeconds = 30 * 24 * 60 * 60
	cents := int64(math.Round(monthly * 100))
	secs := int64(ageDays * 24 * 60 * 60)
	return float64(cents*secs/monthSeconds) / 100
}

func roundCents(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Round(v*100) / 100
}

type quantity struct {
	key pricing.Key
	qty float64
}

// quantities lists the billed components per resource type. Stopped or
// deallocated compute only bills its storage.
func quantities(c *resource.Candidate) []quantity {
	p, r := c.Provider, c.Region
	key := func(service, variant string) pricing.Key {
		return pricing.NewKey(p, service, variant, r)
	}
	size := c.Float(resource.AttrSizeGB)
	storage := c.Float(resource.AttrAttachedStorageGB)
	state := c.String(resource.AttrState)

	switch c.Type {
	case resource.EBSVolume:
		return []quantity{{key("ebs", c.String(resource.AttrVolumeType)), size}}
	case resource.ElasticIP:
		return []quantity{{key("eip", ""), 1}}
	case resource.EBSSnapshot:
		return []quantity{{key("ebs_snapshot", ""), size}}
	case resource.EC2Instance:
		out := []quantity{{key("ebs", ""), storage}}
		if state == "running" {
			out = append(out, quantity{key("ec2", c.String(resource.AttrInstanceType)), 1})
		}
		return out
	case resource.NATGateway:
		return []quantity{{key("nat_gateway", ""), 1}}
	case resource.LoadBalancer:
		return []quantity{{key("elb", c.String(resource.AttrLBType)), 1}}
	case resource.RDSInstance:
		out := []quantity{{key("rds_storage", ""), size}}
		if state != "stopped" {
			out = append(out, quantity{key("rds", c.String(resource.AttrDBClass)), 1})
		}
		return out
	case resource.ManagedDisk:
		return []quantity{{key("disk", c.String(resource.AttrVolumeType)), size}}
	case resource.PublicIP:
		return []quantity{{key("public_ip", ""), 1}}
	case resource.VirtualMachine:
		return []quantity{{key("disk", ""), storage}}
	case resource.PersistentDisk:
		return []quantity{{key("pd", c.String(resource.AttrVolumeType)), size}}
	case resource.StaticIP:
		return []quantity{{key("static_ip", ""), 1}}
	case resource.ComputeInstance:
		return []quantity{{key("pd", ""), storage}}
	case resource.M365License:
		return []quantity{{key("license", c.String(resource.AttrSKU)), 1}}
	}
	return nil
}
