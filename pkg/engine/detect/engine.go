// Package detect evaluates per resource type detection rules and turns a
// candidate into a verdict with a confidence tier.
package detect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/metrics"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/policy"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// Verdict is the outcome of evaluating one candidate.
type Verdict struct {
	Candidate  resource.Candidate
	IsOrphan   bool
	Confidence Confidence
	Scenario   string
	Reason     string
	Params     config.RuleParams
	// MetricsDegraded is set when a requested metric could not be fetched.
	MetricsDegraded bool
	// Inconclusive marks a non-orphan verdict reached for lack of data.
	Inconclusive bool
}

// Resolved is the effective rule of one resource type for one scan.
type Resolved struct {
	Params  config.RuleParams
	Exclude *policy.Program
}

// RuleSet maps resource types to their resolved rules.
type RuleSet map[resource.Type]Resolved

// Get returns the resolved rule for t, falling back to engine defaults.
func (rs RuleSet) Get(t resource.Type) Resolved {
	if r, ok := rs[t]; ok {
		return r
	}
	return Resolved{Params: config.DefaultRuleParams(t)}
}

// Input bundles what Evaluate needs. Now is fixed per scan so that
// evaluation is deterministic.
type Input struct {
	Candidate *resource.Candidate
	Metrics   metrics.Set
	Rule      Resolved
	Now       time.Time
}

// Engine holds the rule registry and the CEL environment.
type Engine struct {
	rules  map[resource.Type]Rule
	cel    *policy.CELEngine
	logger *slog.Logger
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRule registers or replaces a rule.
func WithRule(r Rule) Option {
	return func(e *Engine) { e.rules[r.Type] = r }
}

// New creates an engine with the built-in rules.
func New(opts ...Option) (*Engine, error) {
	celEngine, err := policy.NewCELEngine()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		rules:  builtinRules(),
		cel:    celEngine,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Supports reports whether a rule exists for t.
func (e *Engine) Supports(t resource.Type) bool {
	_, ok := e.rules[t]
	return ok
}

// Resolve merges overrides onto defaults for every type and compiles the
// exclusion expressions once. An invalid expression is dropped with a warning.
func (e *Engine) Resolve(types []resource.Type, override func(resource.Type) *config.DetectionRule) RuleSet {
	rs := make(RuleSet, len(types))
	for _, t := range types {
		var o *config.DetectionRule
		if override != nil {
			o = override(t)
		}
		r := Resolved{Params: config.Effective(t, o)}
		if expr := r.Params.ExcludeExpression; expr != "" {
			prg, err := e.cel.Compile(expr)
			if err != nil {
				e.logger.Warn("Ignoring invalid exclusion expression", "resource_type", t, "error", err)
				r.Params.ExcludeExpression = ""
			} else {
				r.Exclude = prg
			}
		}
		rs[t] = r
	}
	return rs
}

// MetricSpecs returns the metrics the rule for c needs. Nil means the verdict
// is decided by existence heuristics alone.
func (e *Engine) MetricSpecs(c *resource.Candidate, p config.RuleParams) []metrics.Spec {
	r, ok := e.rules[c.Type]
	if !ok || r.Metrics == nil || !p.Enabled {
		return nil
	}
	return r.Metrics(c, p)
}

// Evaluate runs every scenario of the candidate's rule and returns the verdict
// of the most severe match.
func (e *Engine) Evaluate(ctx context.Context, in Input) Verdict {
	c := in.Candidate
	p := in.Rule.Params
	v := Verdict{Candidate: *c, Params: p, Confidence: Low}

	_, span := otel.Tracer("cloudwaste/detect").Start(ctx, "Detect.Evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("resource_type", string(c.Type)),
		attribute.String("resource_id", c.ID),
	)

	r, ok := e.rules[c.Type]
	if !ok {
		v.Reason = "no rule for resource type"
		return v
	}
	if !p.Enabled {
		v.Reason = "rule disabled"
		return v
	}

	age, ageKnown := c.AgeDays(in.Now)
	if !ageKnown && p.SuppressUnknownAge {
		v.Reason = "creation time unknown"
		v.Inconclusive = true
		return v
	}
	if ageKnown && age < float64(p.MinAgeDays) {
		v.Reason = fmt.Sprintf("younger than %d days", p.MinAgeDays)
		return v
	}

	var best *Match
	var bestTier Confidence
	for _, m := range r.Evaluate(c, in.Metrics, p, in.Now) {
		if !m.Matched {
			continue
		}
		tier := Low
		if m.DaysKnown {
			tier = TierFor(m.Days, p)
		}
		tier = maxConfidence(tier, m.Floor)
		m := m
		if best == nil || m.Severity > best.Severity || (m.Severity == best.Severity && tier > bestTier) {
			best, bestTier = &m, tier
		}
	}
	if best == nil {
		v.Reason = "no scenario matched"
		return v
	}

	if in.Metrics.AnyUnavailable() {
		v.MetricsDegraded = true
		bestTier = Low
	}

	if prg := in.Rule.Exclude; prg != nil {
		excluded, err := prg.Matches(policy.Input{
			ID:      c.ID,
			Type:    string(c.Type),
			Region:  c.Region,
			AgeDays: age,
			Tags:    c.Tags,
			Attrs:   c.Attributes,
		})
		if err != nil {
			e.logger.Warn("Exclusion expression failed", "resource_id", c.ID, "error", err)
		} else if excluded {
			v.Scenario = best.Scenario
			v.Reason = "excluded by rule expression"
			return v
		}
	}

	v.IsOrphan = true
	v.Scenario = best.Scenario
	v.Reason = best.Reason
	v.Confidence = bestTier
	span.SetAttributes(
		attribute.String("scenario", v.Scenario),
		attribute.String("confidence", v.Confidence.String()),
	)
	return v
}
