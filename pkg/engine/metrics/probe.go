package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// Probe fetches metric series through a provider Fetcher. Failures never
// propagate: a failed metric is returned as StatusUnavailable.
type Probe struct {
	policy fault.Policy
	logger *slog.Logger
}

// NewProbe creates a probe with the given retry policy.
func NewProbe(policy fault.Policy, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Probe{policy: policy, logger: logger}
}

// Fetch retrieves every spec for c over windows ending at now.
func (p *Probe) Fetch(ctx context.Context, f Fetcher, c *resource.Candidate, specs []Spec, now time.Time) Set {
	set := make(Set, len(specs))
	for _, spec := range specs {
		set[spec.Name] = p.fetchOne(ctx, f, c, spec, now)
	}
	return set
}

func (p *Probe) fetchOne(ctx context.Context, f Fetcher, c *resource.Candidate, spec Spec, now time.Time) Series {
	w := WindowFor(spec, now)
	series, err := fault.Do(ctx, p.policy, func(ctx context.Context) (Series, error) {
		return f.FetchMetrics(ctx, c, spec, w)
	}, nil)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, fault.ErrMetricsUnavailable) || errors.Is(err, fault.ErrUnsupported) {
			level = slog.LevelDebug
		}
		p.logger.Log(ctx, level, "Metric unavailable",
			"resource_id", c.ID,
			"resource_type", c.Type,
			"metric", spec.Name,
			"error", err,
		)
		return Unavailable(spec)
	}
	series.Spec = spec
	if series.Status == StatusOK && len(series.Points) == 0 {
		series.Status = StatusNoData
	}
	return series
}
