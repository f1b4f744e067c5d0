package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/metrics"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d float64) time.Time {
	return now.Add(-time.Duration(d * float64(24*time.Hour)))
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New()
	require.NoError(t, err)
	return e
}

func cand(typ resource.Type, age float64, attrs map[string]interface{}) *resource.Candidate {
	c := &resource.Candidate{
		Type:       typ,
		ID:         "res-1",
		Region:     "us-east-1",
		Tags:       map[string]string{},
		Attributes: attrs,
	}
	if age >= 0 {
		c.CreatedAt = daysAgo(age)
	}
	return c
}

func eval(e *Engine, c *resource.Candidate, m metrics.Set) Verdict {
	rs := e.Resolve([]resource.Type{c.Type}, nil)
	return e.Evaluate(context.Background(), Input{Candidate: c, Metrics: m, Rule: rs.Get(c.Type), Now: now})
}

func okSeries(name string, stat metrics.Statistic, values ...float64) metrics.Series {
	var pts []metrics.Point
	for i, v := range values {
		pts = append(pts, metrics.Point{Time: daysAgo(float64(len(values) - i)), Value: v})
	}
	return metrics.NewSeries(metrics.Spec{Name: name, Statistic: stat}, pts)
}

func TestEvaluate_UnattachedVolume(t *testing.T) {
	e := newEngine(t)
	c := cand(resource.EBSVolume, 45, map[string]interface{}{
		resource.AttrAttached:   false,
		resource.AttrSizeGB:     float64(100),
		resource.AttrVolumeType: "gp3",
	})

	v := eval(e, c, nil)
	assert.True(t, v.IsOrphan)
	assert.Equal(t, "unattached", v.Scenario)
	assert.Equal(t, High, v.Confidence)
	assert.Contains(t, v.Reason, "100 GB gp3")
}

func TestEvaluate_ElasticIPYoungerThanMinAge(t *testing.T) {
	e := newEngine(t)
	c := cand(resource.ElasticIP, 2, map[string]interface{}{resource.AttrAssociated: false})

	v := eval(e, c, nil)
	assert.False(t, v.IsOrphan)
	assert.Contains(t, v.Reason, "younger than 3 days")
}

func TestEvaluate_NeverFlagsBelowMinAge(t *testing.T) {
	e := newEngine(t)
	zero := metrics.Set{
		metrics.VolumeOps:           okSeries(metrics.VolumeOps, metrics.Sum, 0),
		metrics.BytesOut:            okSeries(metrics.BytesOut, metrics.Sum, 0),
		metrics.DatabaseConnections: okSeries(metrics.DatabaseConnections, metrics.Maximum, 0),
	}
	cases := []*resource.Candidate{
		cand(resource.EBSVolume, 1, map[string]interface{}{resource.AttrAttached: false}),
		cand(resource.ElasticIP, 0.5, map[string]interface{}{}),
		cand(resource.NATGateway, 2.9, map[string]interface{}{}),
		cand(resource.LoadBalancer, 1, map[string]interface{}{}),
		cand(resource.RDSInstance, 2, map[string]interface{}{resource.AttrState: "stopped"}),
		cand(resource.ManagedDisk, 0, map[string]interface{}{}),
		cand(resource.StaticIP, 1, map[string]interface{}{}),
		cand(resource.EBSSnapshot, 6, map[string]interface{}{}),
		cand(resource.M365License, 29, map[string]interface{}{resource.AttrSignedIn: false}),
	}
	for _, c := range cases {
		t.Run(string(c.Type), func(t *testing.T) {
			v := eval(e, c, zero)
			assert.False(t, v.IsOrphan)
		})
	}
}

func TestEvaluate_UnknownAgeIsLowConfidence(t *testing.T) {
	e := newEngine(t)
	c := cand(resource.PublicIP, -1, map[string]interface{}{resource.AttrAssociated: false})

	v := eval(e, c, nil)
	assert.True(t, v.IsOrphan)
	assert.Equal(t, Low, v.Confidence)
	assert.Equal(t, "unassociated", v.Scenario)
}

func TestEvaluate_SuppressUnknownAge(t *testing.T) {
	e := newEngine(t)
	off := false
	tests := []struct {
		name       string
		override   *config.DetectionRule
		wantOrphan bool
	}{
		{name: "default withholds", wantOrphan: false},
		{name: "opted out", override: &config.DetectionRule{SuppressUnknownAge: &off}, wantOrphan: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := e.Resolve([]resource.Type{resource.ElasticIP}, func(resource.Type) *config.DetectionRule { return tt.override })
			c := cand(resource.ElasticIP, -1, map[string]interface{}{resource.AttrAssociated: false})
			v := e.Evaluate(context.Background(), Input{Candidate: c, Rule: rs.Get(resource.ElasticIP), Now: now})

			assert.Equal(t, tt.wantOrphan, v.IsOrphan)
			assert.Equal(t, !tt.wantOrphan, v.Inconclusive)
			if !tt.wantOrphan {
				assert.Equal(t, "creation time unknown", v.Reason)
			}
		})
	}

	// A known age is evaluated as usual.
	v := eval(e, cand(resource.ElasticIP, 45, map[string]interface{}{resource.AttrAssociated: false}), nil)
	assert.True(t, v.IsOrphan)
	assert.False(t, v.Inconclusive)
}

func TestEvaluate_ZeroTrafficForcesHigh(t *testing.T) {
	e := newEngine(t)
	lookback := 7
	rs := e.Resolve([]resource.Type{resource.NATGateway}, func(resource.Type) *config.DetectionRule {
		return &config.DetectionRule{LookbackDays: &lookback}
	})
	c := cand(resource.NATGateway, 10, map[string]interface{}{})
	m := metrics.Set{metrics.BytesOut: okSeries(metrics.BytesOut, metrics.Sum, 0, 0, 0)}

	v := e.Evaluate(context.Background(), Input{Candidate: c, Metrics: m, Rule: rs.Get(resource.NATGateway), Now: now})
	assert.True(t, v.IsOrphan)
	assert.Equal(t, "zero_traffic", v.Scenario)
	assert.Equal(t, High, v.Confidence)
}

func TestEvaluate_MetricStates(t *testing.T) {
	e := newEngine(t)
	spec := metrics.Spec{Name: metrics.BytesOut, Statistic: metrics.Sum}
	tests := []struct {
		name       string
		series     metrics.Series
		wantOrphan bool
	}{
		{"zero", okSeries(metrics.BytesOut, metrics.Sum, 0, 0), true},
		{"traffic", okSeries(metrics.BytesOut, metrics.Sum, 0, 12), false},
		{"no data is not zero", metrics.NewSeries(spec, nil), false},
		{"unavailable", metrics.Unavailable(spec), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cand(resource.NATGateway, 60, map[string]interface{}{})
			v := eval(e, c, metrics.Set{metrics.BytesOut: tt.series})
			assert.Equal(t, tt.wantOrphan, v.IsOrphan)
		})
	}
}

func TestEvaluate_UnavailableMetricsCapAtLow(t *testing.T) {
	e := newEngine(t)
	c := cand(resource.LoadBalancer, 120, map[string]interface{}{
		resource.AttrListenerCount:  float64(0),
		resource.AttrHealthyTargets: float64(0),
	})
	m := metrics.Set{metrics.RequestCount: metrics.Unavailable(metrics.Spec{Name: metrics.RequestCount})}

	v := eval(e, c, m)
	assert.True(t, v.IsOrphan)
	assert.Equal(t, "no_listeners", v.Scenario)
	assert.True(t, v.MetricsDegraded)
	assert.Equal(t, Low, v.Confidence)
}

func TestEvaluate_MostSevereScenarioWins(t *testing.T) {
	e := newEngine(t)
	c := cand(resource.LoadBalancer, 40, map[string]interface{}{
		resource.AttrListenerCount:  float64(2),
		resource.AttrHealthyTargets: float64(0),
		resource.AttrLBType:         "application",
	})
	m := metrics.Set{metrics.RequestCount: okSeries(metrics.RequestCount, metrics.Sum, 0)}

	v := eval(e, c, m)
	assert.True(t, v.IsOrphan)
	assert.Equal(t, "no_healthy_targets", v.Scenario)
	assert.Equal(t, High, v.Confidence)
}

func TestEvaluate_TieBreaksTowardHigherTier(t *testing.T) {
	rule := Rule{
		Type: resource.EBSVolume,
		Evaluate: func(c *resource.Candidate, _ metrics.Set, _ config.RuleParams, _ time.Time) []Match {
			return []Match{
				{Scenario: "a", Matched: true, Severity: 1, Days: 10, DaysKnown: true},
				{Scenario: "b", Matched: true, Severity: 1, Days: 10, DaysKnown: true, Floor: Critical},
				{Scenario: "c", Matched: false, Severity: 5, Days: 200, DaysKnown: true},
			}
		},
	}
	e, err := New(WithRule(rule))
	require.NoError(t, err)

	v := eval(e, cand(resource.EBSVolume, 10, nil), nil)
	assert.Equal(t, "b", v.Scenario)
	assert.Equal(t, Critical, v.Confidence)
}

func TestEvaluate_StoppedInstance(t *testing.T) {
	e := newEngine(t)
	c := cand(resource.EC2Instance, 200, map[string]interface{}{
		resource.AttrState:             "stopped",
		resource.AttrAttachedStorageGB: float64(50),
	})

	c.LastActiveAt = daysAgo(20)
	v := eval(e, c, nil)
	assert.False(t, v.IsOrphan, "stopped for less than stopped_days")

	c.LastActiveAt = daysAgo(95)
	v = eval(e, c, nil)
	assert.True(t, v.IsOrphan)
	assert.Equal(t, "stopped", v.Scenario)
	assert.Equal(t, Critical, v.Confidence)
}

func TestEvaluate_IdleCPU(t *testing.T) {
	e := newEngine(t)
	c := cand(resource.EC2Instance, 20, map[string]interface{}{resource.AttrState: "running"})

	v := eval(e, c, metrics.Set{metrics.CPUUtilization: okSeries(metrics.CPUUtilization, metrics.Average, 1, 2, 3)})
	assert.True(t, v.IsOrphan)
	assert.Equal(t, "idle_cpu", v.Scenario)
	assert.Equal(t, Medium, v.Confidence)

	v = eval(e, c, metrics.Set{metrics.CPUUtilization: okSeries(metrics.CPUUtilization, metrics.Average, 40, 60)})
	assert.False(t, v.IsOrphan)
}

func TestEvaluate_InactiveLicense(t *testing.T) {
	e := newEngine(t)
	tests := []struct {
		name       string
		signedIn   bool
		lastActive float64
		want       bool
	}{
		{"never signed in", false, -1, true},
		{"recent sign-in", true, 5, false},
		{"stale sign-in", true, 120, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cand(resource.M365License, 400, map[string]interface{}{
				resource.AttrSignedIn: tt.signedIn,
				resource.AttrSKU:      "SPE_E3",
			})
			if tt.lastActive >= 0 {
				c.LastActiveAt = daysAgo(tt.lastActive)
			}
			v := eval(e, c, nil)
			assert.Equal(t, tt.want, v.IsOrphan)
		})
	}
}

func TestEvaluate_ExcludeExpression(t *testing.T) {
	e := newEngine(t)
	expr := `"keep" in tags && tags["keep"] == "true"`
	rs := e.Resolve([]resource.Type{resource.ManagedDisk}, func(resource.Type) *config.DetectionRule {
		return &config.DetectionRule{ExcludeExpression: &expr}
	})
	rule := rs.Get(resource.ManagedDisk)
	require.NotNil(t, rule.Exclude)

	c := cand(resource.ManagedDisk, 40, map[string]interface{}{resource.AttrAttached: false})
	c.Tags["keep"] = "true"
	v := e.Evaluate(context.Background(), Input{Candidate: c, Rule: rule, Now: now})
	assert.False(t, v.IsOrphan)
	assert.Equal(t, "excluded by rule expression", v.Reason)

	c.Tags["keep"] = "false"
	v = e.Evaluate(context.Background(), Input{Candidate: c, Rule: rule, Now: now})
	assert.True(t, v.IsOrphan)
}

func TestResolve_InvalidExpressionIsDropped(t *testing.T) {
	e := newEngine(t)
	bad := `tags[`
	rs := e.Resolve([]resource.Type{resource.PersistentDisk}, func(resource.Type) *config.DetectionRule {
		return &config.DetectionRule{ExcludeExpression: &bad}
	})
	rule := rs.Get(resource.PersistentDisk)
	assert.Nil(t, rule.Exclude)
	assert.Empty(t, rule.Params.ExcludeExpression)

	c := cand(resource.PersistentDisk, 40, map[string]interface{}{resource.AttrAttached: false})
	v := e.Evaluate(context.Background(), Input{Candidate: c, Rule: rule, Now: now})
	assert.True(t, v.IsOrphan)
}

func TestEvaluate_DisabledRule(t *testing.T) {
	e := newEngine(t)
	off := false
	rs := e.Resolve([]resource.Type{resource.ElasticIP}, func(resource.Type) *config.DetectionRule {
		return &config.DetectionRule{Enabled: &off}
	})
	c := cand(resource.ElasticIP, 100, map[string]interface{}{})
	v := e.Evaluate(context.Background(), Input{Candidate: c, Rule: rs.Get(resource.ElasticIP), Now: now})
	assert.False(t, v.IsOrphan)
	assert.Equal(t, "rule disabled", v.Reason)
}

func TestMetricSpecs(t *testing.T) {
	e := newEngine(t)
	p := config.DefaultRuleParams(resource.EBSVolume)

	attached := cand(resource.EBSVolume, 40, map[string]interface{}{resource.AttrAttached: true})
	specs := e.MetricSpecs(attached, p)
	require.Len(t, specs, 1)
	assert.Equal(t, metrics.VolumeOps, specs[0].Name)
	assert.Equal(t, metrics.Sum, specs[0].Statistic)
	assert.Equal(t, 30, specs[0].LookbackDays)

	detached := cand(resource.EBSVolume, 40, map[string]interface{}{resource.AttrAttached: false})
	assert.Nil(t, e.MetricSpecs(detached, p))

	ec2 := cand(resource.EC2Instance, 40, map[string]interface{}{resource.AttrState: "running"})
	specs = e.MetricSpecs(ec2, config.DefaultRuleParams(resource.EC2Instance))
	require.Len(t, specs, 1)
	assert.Equal(t, 14, specs[0].LookbackDays)

	assert.Nil(t, e.MetricSpecs(cand(resource.ManagedDisk, 40, nil), p))
}

func TestTierFor(t *testing.T) {
	p := config.BaseRuleParams()
	tests := []struct {
		days float64
		want Confidence
	}{
		{0, Low},
		{6.9, Low},
		{7, Medium},
		{29, Medium},
		{30, High},
		{89.5, High},
		{90, Critical},
		{900, Critical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.days, p), "days=%v", tt.days)
	}
}

func TestParseConfidence(t *testing.T) {
	for _, c := range []Confidence{Low, Medium, High, Critical} {
		got, err := ParseConfidence(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseConfidence("extreme")
	assert.Error(t, err)
}
