package detect

import (
	"fmt"
	"strings"
	"time"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/metrics"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// Match is the outcome of one scenario.
type Match struct {
	Scenario string
	Matched  bool
	// Severity orders scenarios of a rule; higher wins.
	Severity int
	Reason   string
	// Days drives the age-derived tier. DaysKnown is false when neither
	// creation nor last activity is known.
	Days      float64
	DaysKnown bool
	// Floor is the minimum tier of a match.
	Floor Confidence
}

// EvalFunc evaluates every scenario of a rule.
type EvalFunc func(c *resource.Candidate, m metrics.Set, p config.RuleParams, now time.Time) []Match

// MetricsFunc returns the metrics a candidate needs, or nil.
type MetricsFunc func(c *resource.Candidate, p config.RuleParams) []metrics.Spec

// Rule is the detection rule of one resource type.
type Rule struct {
	Type     resource.Type
	Evaluate EvalFunc
	Metrics  MetricsFunc
}

func builtinRules() map[resource.Type]Rule {
	rules := []Rule{
		{Type: resource.EBSVolume, Evaluate: evalEBSVolume, Metrics: metricsEBSVolume},
		{Type: resource.ElasticIP, Evaluate: evalUnassociated},
		{Type: resource.EBSSnapshot, Evaluate: evalSnapshot},
		{Type: resource.EC2Instance, Evaluate: evalEC2Instance, Metrics: metricsEC2Instance},
		{Type: resource.NATGateway, Evaluate: evalNATGateway, Metrics: metricsNATGateway},
		{Type: resource.LoadBalancer, Evaluate: evalLoadBalancer, Metrics: metricsLoadBalancer},
		{Type: resource.RDSInstance, Evaluate: evalRDSInstance, Metrics: metricsRDSInstance},
		{Type: resource.ManagedDisk, Evaluate: evalUnattached},
		{Type: resource.PublicIP, Evaluate: evalUnassociated},
		{Type: resource.VirtualMachine, Evaluate: evalDeallocated},
		{Type: resource.PersistentDisk, Evaluate: evalUnattached},
		{Type: resource.StaticIP, Evaluate: evalReservedUnused},
		{Type: resource.ComputeInstance, Evaluate: evalTerminated},
		{Type: resource.M365License, Evaluate: evalInactiveUser},
	}
	out := make(map[resource.Type]Rule, len(rules))
	for _, r := range rules {
		out[r.Type] = r
	}
	return out
}

func byAge(c *resource.Candidate, now time.Time, m Match) Match {
	m.Days, m.DaysKnown = c.AgeDays(now)
	return m
}

func byIdle(c *resource.Candidate, now time.Time, m Match) Match {
	m.Days, m.DaysKnown = c.IdleDays(now)
	return m
}

func spec(name string, stat metrics.Statistic, p config.RuleParams) metrics.Spec {
	return metrics.Spec{Name: name, Statistic: stat, LookbackDays: p.LookbackDays}
}

// zeroOver reports whether the series has data and aggregates to zero.
func zeroOver(s metrics.Series) bool {
	v, ok := s.Value()
	return ok && v == 0
}

// coversLookback is false for resources younger than the metric window or
// with unknown age; a short series cannot prove inactivity.
func coversLookback(c *resource.Candidate, p config.RuleParams, now time.Time) bool {
	age, ok := c.AgeDays(now)
	return ok && age >= float64(p.LookbackDays)
}

func sizeSuffix(c *resource.Candidate) string {
	size := c.Float(resource.AttrSizeGB)
	if size <= 0 {
		return ""
	}
	if vt := c.String(resource.AttrVolumeType); vt != "" {
		return fmt.Sprintf(" (%.0f GB %s)", size, vt)
	}
	return fmt.Sprintf(" (%.0f GB)", size)
}

func evalEBSVolume(c *resource.Candidate, m metrics.Set, p config.RuleParams, now time.Time) []Match {
	attached := c.Bool(resource.AttrAttached)
	unattached := byIdle(c, now, Match{
		Scenario: "unattached",
		Matched:  !attached,
		Severity: 2,
	})
	unattached.Reason = fmt.Sprintf("Volume unattached for %.0f days%s", unattached.Days, sizeSuffix(c))

	zeroIO := byAge(c, now, Match{
		Scenario: "zero_io",
		Matched:  attached && coversLookback(c, p, now) && zeroOver(m.Get(metrics.VolumeOps)),
		Severity: 1,
		Reason:   fmt.Sprintf("Attached volume had no read or write operations in %d days%s", p.LookbackDays, sizeSuffix(c)),
		Floor:    High,
	})
	return []Match{unattached, zeroIO}
}

func metricsEBSVolume(c *resource.Candidate, p config.RuleParams) []metrics.Spec {
	if !c.Bool(resource.AttrAttached) {
		return nil
	}
	return []metrics.Spec{spec(metrics.VolumeOps, metrics.Sum, p)}
}

func evalUnassociated(c *resource.Candidate, _ metrics.Set, _ config.RuleParams, now time.Time) []Match {
	m := byAge(c, now, Match{
		Scenario: "unassociated",
		Matched:  !c.Bool(resource.AttrAssociated),
		Severity: 1,
	})
	ip := c.String(resource.AttrPublicIP)
	if ip == "" {
		ip = c.ID
	}
	if m.DaysKnown {
		m.Reason = fmt.Sprintf("Public IP %s not associated, allocated %.0f days ago", ip, m.Days)
	} else {
		m.Reason = fmt.Sprintf("Public IP %s not associated", ip)
	}
	return []Match{m}
}

func evalSnapshot(c *resource.Candidate, _ metrics.Set, p config.RuleParams, now time.Time) []Match {
	m := byAge(c, now, Match{Scenario: "source_volume_deleted", Severity: 1})
	m.Matched = !c.Bool(resource.AttrSourceVolumeExists) && m.DaysKnown && m.Days >= float64(p.SnapshotAgeDays)
	m.Reason = fmt.Sprintf("Snapshot of deleted volume %s is %.0f days old%s",
		c.String(resource.AttrSourceVolume), m.Days, sizeSuffix(c))
	return []Match{m}
}

func evalEC2Instance(c *resource.Candidate, m metrics.Set, p config.RuleParams, now time.Time) []Match {
	state := c.String(resource.AttrState)
	stopped := byIdle(c, now, Match{Scenario: "stopped", Severity: 2})
	stopped.Matched = state == "stopped" && stopped.DaysKnown && stopped.Days >= float64(p.StoppedDays)
	stopped.Reason = fmt.Sprintf("Instance stopped for %.0f days, %.0f GB of volumes still billed",
		stopped.Days, c.Float(resource.AttrAttachedStorageGB))

	cpu := m.Get(metrics.CPUUtilization)
	avg, ok := cpu.Value()
	idle := byAge(c, now, Match{
		Scenario: "idle_cpu",
		Matched:  state == "running" && ok && avg < p.CPUThresholdPercent && coversLookback(c, p, now),
		Severity: 1,
		Reason: fmt.Sprintf("Average CPU %.1f%% below %.0f%% over %d days (%s)",
			avg, p.CPUThresholdPercent, p.LookbackDays, c.String(resource.AttrInstanceType)),
	})
	return []Match{stopped, idle}
}

func metricsEC2Instance(c *resource.Candidate, p config.RuleParams) []metrics.Spec {
	if c.String(resource.AttrState) != "running" {
		return nil
	}
	return []metrics.Spec{spec(metrics.CPUUtilization, metrics.Average, p)}
}

func evalNATGateway(c *resource.Candidate, m metrics.Set, p config.RuleParams, now time.Time) []Match {
	return []Match{byAge(c, now, Match{
		Scenario: "zero_traffic",
		Matched:  coversLookback(c, p, now) && zeroOver(m.Get(metrics.BytesOut)),
		Severity: 1,
		Reason:   fmt.Sprintf("NAT gateway sent no bytes in %d days", p.LookbackDays),
		Floor:    High,
	})}
}

func metricsNATGateway(_ *resource.Candidate, p config.RuleParams) []metrics.Spec {
	return []metrics.Spec{spec(metrics.BytesOut, metrics.Sum, p)}
}

func evalLoadBalancer(c *resource.Candidate, m metrics.Set, p config.RuleParams, now time.Time) []Match {
	listeners := c.Float(resource.AttrListenerCount)
	healthy := c.Float(resource.AttrHealthyTargets)
	lbType := c.String(resource.AttrLBType)
	return []Match{
		byAge(c, now, Match{
			Scenario: "no_listeners",
			Matched:  listeners == 0,
			Severity: 3,
			Reason:   fmt.Sprintf("Load balancer (%s) has no listeners", lbType),
		}),
		byAge(c, now, Match{
			Scenario: "no_healthy_targets",
			Matched:  listeners > 0 && healthy == 0,
			Severity: 2,
			Reason: fmt.Sprintf("Load balancer (%s) has no healthy targets across %.0f target groups",
				lbType, c.Float(resource.AttrTargetGroups)),
		}),
		byAge(c, now, Match{
			Scenario: "zero_requests",
			Matched:  coversLookback(c, p, now) && zeroOver(m.Get(metrics.RequestCount)),
			Severity: 1,
			Reason:   fmt.Sprintf("Load balancer (%s) served no requests in %d days", lbType, p.LookbackDays),
			Floor:    High,
		}),
	}
}

// Traffic only matters when the existence checks pass.
func metricsLoadBalancer(c *resource.Candidate, p config.RuleParams) []metrics.Spec {
	if c.Float(resource.AttrListenerCount) == 0 || c.Float(resource.AttrHealthyTargets) == 0 {
		return nil
	}
	return []metrics.Spec{spec(metrics.RequestCount, metrics.Sum, p)}
}

func evalRDSInstance(c *resource.Candidate, m metrics.Set, p config.RuleParams, now time.Time) []Match {
	state := c.String(resource.AttrState)
	class := c.String(resource.AttrDBClass)
	return []Match{
		byIdle(c, now, Match{
			Scenario: "stopped",
			Matched:  state == "stopped",
			Severity: 2,
			Reason:   fmt.Sprintf("Database %s (%s) is stopped, storage still billed", c.ID, class),
		}),
		byAge(c, now, Match{
			Scenario: "zero_connections",
			Matched:  state == "available" && coversLookback(c, p, now) && zeroOver(m.Get(metrics.DatabaseConnections)),
			Severity: 1,
			Reason:   fmt.Sprintf("Database %s (%s) had no connections in %d days", c.ID, class, p.LookbackDays),
			Floor:    High,
		}),
	}
}

func metricsRDSInstance(c *resource.Candidate, p config.RuleParams) []metrics.Spec {
	if c.String(resource.AttrState) != "available" {
		return nil
	}
	return []metrics.Spec{spec(metrics.DatabaseConnections, metrics.Maximum, p)}
}

func evalUnattached(c *resource.Candidate, _ metrics.Set, _ config.RuleParams, now time.Time) []Match {
	m := byIdle(c, now, Match{
		Scenario: "unattached",
		Matched:  !c.Bool(resource.AttrAttached),
		Severity: 1,
	})
	m.Reason = fmt.Sprintf("Disk unattached for %.0f days%s", m.Days, sizeSuffix(c))
	return []Match{m}
}

func evalDeallocated(c *resource.Candidate, _ metrics.Set, _ config.RuleParams, now time.Time) []Match {
	m := byIdle(c, now, Match{
		Scenario: "deallocated",
		Matched:  c.String(resource.AttrState) == "deallocated",
		Severity: 1,
	})
	m.Reason = fmt.Sprintf("VM deallocated for %.0f days, %.0f GB of disks still billed",
		m.Days, c.Float(resource.AttrAttachedStorageGB))
	return []Match{m}
}

func evalReservedUnused(c *resource.Candidate, _ metrics.Set, _ config.RuleParams, now time.Time) []Match {
	m := byAge(c, now, Match{
		Scenario: "reserved_unused",
		Matched:  !c.Bool(resource.AttrAssociated),
		Severity: 1,
	})
	addr := c.String(resource.AttrPublicIP)
	if addr == "" {
		addr = c.Name
	}
	m.Reason = fmt.Sprintf("Static address %s reserved but unused", addr)
	return []Match{m}
}

func evalTerminated(c *resource.Candidate, _ metrics.Set, _ config.RuleParams, now time.Time) []Match {
	m := byIdle(c, now, Match{
		Scenario: "terminated",
		Matched:  strings.EqualFold(c.String(resource.AttrState), "TERMINATED"),
		Severity: 1,
	})
	m.Reason = fmt.Sprintf("Instance terminated for %.0f days, %.0f GB of disks still billed",
		m.Days, c.Float(resource.AttrAttachedStorageGB))
	return []Match{m}
}

func evalInactiveUser(c *resource.Candidate, _ metrics.Set, p config.RuleParams, now time.Time) []Match {
	signedIn := c.Bool(resource.AttrSignedIn)
	m := byIdle(c, now, Match{Scenario: "inactive_user", Severity: 1})
	m.Matched = !signedIn || (m.DaysKnown && m.Days >= float64(p.InactiveDays))
	user := c.String(resource.AttrUserPrincipalName)
	if signedIn {
		m.Reason = fmt.Sprintf("%s license assigned to %s, last sign-in %.0f days ago", c.String(resource.AttrSKU), user, m.Days)
	} else {
		m.Reason = fmt.Sprintf("%s license assigned to %s, who never signed in", c.String(resource.AttrSKU), user)
	}
	return []Match{m}
}
