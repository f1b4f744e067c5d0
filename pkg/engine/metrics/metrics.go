// Package metrics fetches time-windowed utilization series for candidates and
// keeps "no data" distinct from a measured zero.
package metrics

import (
	"context"
	"time"

	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// Statistic selects how daily datapoints are aggregated by the provider.
type Statistic string

const (
	Average Statistic = "Average"
	Maximum Statistic = "Maximum"
	Sum     Statistic = "Sum"
)

// Common metric names understood by the adapters.
const (
	CPUUtilization      = "CPUUtilization"
	BytesOut            = "BytesOut"
	RequestCount        = "RequestCount"
	DatabaseConnections = "DatabaseConnections"
	VolumeOps           = "VolumeOps"
)

// Granularity is the fixed period of every series.
const Granularity = 24 * time.Hour

// Spec names one metric to fetch.
type Spec struct {
	Name         string
	Statistic    Statistic
	LookbackDays int
}

// Window is the time range of a fetch.
type Window struct {
	Start  time.Time
	End    time.Time
	Period time.Duration
}

// WindowFor returns the lookback window ending at now, aligned to whole days.
func WindowFor(spec Spec, now time.Time) Window {
	end := now.UTC().Truncate(Granularity)
	days := spec.LookbackDays
	if days < 1 {
		days = 1
	}
	return Window{
		Start:  end.Add(-time.Duration(days) * Granularity),
		End:    end,
		Period: Granularity,
	}
}

// Status describes the outcome of a fetch.
type Status int

const (
	// StatusOK means datapoints were returned.
	StatusOK Status = iota
	// StatusNoData means the provider answered with no datapoints.
	StatusNoData
	// StatusUnavailable means the fetch failed.
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoData:
		return "no_data"
	}
	return "unavailable"
}

type Point struct {
	Time  time.Time
	Value float64
}

// Series is an aggregated daily series.
type Series struct {
	Spec   Spec
	Status Status
	Points []Point
}

// NewSeries builds a series, deriving the status from the points.
func NewSeries(spec Spec, points []Point) Series {
	s := Series{Spec: spec, Points: points, Status: StatusOK}
	if len(points) == 0 {
		s.Status = StatusNoData
	}
	return s
}

// Unavailable returns a failed series.
func Unavailable(spec Spec) Series {
	return Series{Spec: spec, Status: StatusUnavailable}
}

// Value aggregates the points by the spec statistic. ok is false unless the
// series has data.
func (s Series) Value() (float64, bool) {
	if s.Status != StatusOK || len(s.Points) == 0 {
		return 0, false
	}
	switch s.Spec.Statistic {
	case Maximum:
		max := s.Points[0].Value
		for _, p := range s.Points[1:] {
			if p.Value > max {
				max = p.Value
			}
		}
		return max, true
	case Sum:
		var sum float64
		for _, p := range s.Points {
			sum += p.Value
		}
		return sum, true
	default:
		var sum float64
		for _, p := range s.Points {
			sum += p.Value
		}
		return sum / float64(len(s.Points)), true
	}
}

// Set holds the series of one candidate keyed by metric name.
type Set map[string]Series

// Get returns the series for name. A missing entry reads as unavailable.
func (s Set) Get(name string) Series {
	if v, ok := s[name]; ok {
		return v
	}
	return Series{Spec: Spec{Name: name}, Status: StatusUnavailable}
}

// AnyUnavailable reports whether a requested metric could not be fetched.
func (s Set) AnyUnavailable() bool {
	for _, v := range s {
		if v.Status == StatusUnavailable {
			return true
		}
	}
	return false
}

// AllOK reports whether every requested metric returned datapoints. An empty
// set is trivially complete.
func (s Set) AllOK() bool {
	for _, v := range s {
		if v.Status != StatusOK {
			return false
		}
	}
	return true
}

// Fetcher is implemented by provider adapters.
type Fetcher interface {
	FetchMetrics(ctx context.Context, c *resource.Candidate, spec Spec, w Window) (Series, error)
}
