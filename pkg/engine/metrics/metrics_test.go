package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

type fetcherFunc func(ctx context.Context, c *resource.Candidate, spec Spec, w Window) (Series, error)

func (f fetcherFunc) FetchMetrics(ctx context.Context, c *resource.Candidate, spec Spec, w Window) (Series, error) {
	return f(ctx, c, spec, w)
}

func points(vals ...float64) []Point {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]Point, len(vals))
	for i, v := range vals {
		out[i] = Point{Time: start.Add(time.Duration(i) * Granularity), Value: v}
	}
	return out
}

func TestSeries_Value(t *testing.T) {
	tests := []struct {
		name   string
		stat   Statistic
		points []Point
		want   float64
		ok     bool
	}{
		{"average", Average, points(2, 4, 6), 4, true},
		{"maximum", Maximum, points(2, 9, 6), 9, true},
		{"sum", Sum, points(1, 1, 1), 3, true},
		{"zero is data", Sum, points(0, 0), 0, true},
		{"no data", Sum, nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSeries(Spec{Name: "m", Statistic: tt.stat}, tt.points)
			got, ok := s.Value()
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestWindowFor(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	w := WindowFor(Spec{LookbackDays: 14}, now)

	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, 14*Granularity, w.End.Sub(w.Start))
	assert.Equal(t, Granularity, w.Period)
}

func TestProbe_Fetch(t *testing.T) {
	policy := fault.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1, Jitter: 0}
	probe := NewProbe(policy, nil)
	c := &resource.Candidate{ID: "vol-1", Type: resource.EBSVolume}

	attempts := 0
	f := fetcherFunc(func(ctx context.Context, c *resource.Candidate, spec Spec, w Window) (Series, error) {
		switch spec.Name {
		case "empty":
			return Series{Status: StatusOK}, nil
		case "flaky":
			attempts++
			if attempts == 1 {
				return Series{}, fault.New(fault.ErrThrottled, "aws", "GetMetricStatistics", nil)
			}
			return NewSeries(spec, points(0, 0, 0)), nil
		case "broken":
			return Series{}, errors.New("access denied")
		}
		return Series{}, fault.New(fault.ErrMetricsUnavailable, "aws", spec.Name, nil)
	})

	set := probe.Fetch(context.Background(), f, c, []Spec{
		{Name: "empty", Statistic: Sum, LookbackDays: 7},
		{Name: "flaky", Statistic: Sum, LookbackDays: 7},
		{Name: "broken", Statistic: Sum, LookbackDays: 7},
	}, time.Now())

	assert.Equal(t, StatusNoData, set.Get("empty").Status)

	flaky := set.Get("flaky")
	require.Equal(t, StatusOK, flaky.Status)
	v, ok := flaky.Value()
	assert.True(t, ok)
	assert.Zero(t, v)
	assert.Equal(t, 2, attempts)

	assert.Equal(t, StatusUnavailable, set.Get("broken").Status)
	assert.Equal(t, StatusUnavailable, set.Get("never-requested").Status)
	assert.True(t, set.AnyUnavailable())
}

func TestSet_AllOK(t *testing.T) {
	ok := NewSeries(Spec{Name: "a"}, []Point{{Value: 1}})
	tests := []struct {
		name string
		set  Set
		want bool
	}{
		{"empty", nil, true},
		{"all data", Set{"a": ok}, true},
		{"no data", Set{"a": ok, "b": NewSeries(Spec{Name: "b"}, nil)}, false},
		{"unavailable", Set{"a": ok, "b": Unavailable(Spec{Name: "b"})}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.set.AllOK())
		})
	}
}
