package scan

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

// jobState guards the job record shared by region workers.
type jobState struct {
	mu  sync.Mutex
	job *store.ScanJob
	idx map[string]int
}

func newJobState(job *store.ScanJob) *jobState {
	s := &jobState{job: job.Clone(), idx: make(map[string]int, len(job.Regions))}
	for i, r := range s.job.Regions {
		s.idx[r.Region] = i
	}
	return s
}

func (s *jobState) snapshot() *store.ScanJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.Clone()
}

func (s *jobState) update(f func(j *store.ScanJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s.job)
}

func (s *jobState) region(name string, f func(r *store.RegionStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.idx[name]; ok {
		f(&s.job.Regions[i])
	}
}

// typeTally is the outcome of one (region, type) scope.
type typeTally struct {
	scanned    int
	orphans    int
	monthly    float64
	cumulative float64
}

func (t *typeTally) add(o typeTally) {
	t.scanned += o.scanned
	t.orphans += o.orphans
	t.monthly += o.monthly
	t.cumulative += o.cumulative
}

// summarize fills the job summary and error message from region states.
func summarize(j *store.ScanJob, waste typeTally, timedOut bool, timeout time.Duration) {
	sum := store.Summary{
		EstimatedMonthlyWaste:    roundCents(waste.monthly),
		EstimatedCumulativeWaste: roundCents(waste.cumulative),
	}
	var problems []string
	for _, r := range j.Regions {
		sum.ResourcesScanned += r.ResourcesScanned
		sum.OrphansFound += r.OrphansFound
		switch r.State {
		case store.RegionSucceeded:
			sum.RegionsSucceeded++
			if len(r.TypeFailures) > 0 {
				problems = append(problems, fmt.Sprintf("%s: %s", r.Region, formatTypeFailures(r.TypeFailures)))
			}
		default:
			sum.RegionsFailed++
			msg := r.Error
			if msg == "" {
				msg = string(r.State)
			}
			problems = append(problems, fmt.Sprintf("%s: %s", r.Region, msg))
		}
	}
	if timedOut {
		problems = append([]string{fmt.Sprintf("scan timed out after %s", timeout)}, problems...)
	}
	j.Summary = sum
	j.ErrorMessage = strings.Join(problems, "; ")
}

func formatTypeFailures(m map[resource.Type]string) string {
	types := make([]resource.Type, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	resource.SortTypes(types)
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%s (%s)", t, m[t]))
	}
	return strings.Join(parts, ", ")
}

func roundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// sortedRegions is used for deterministic logging.
func sortedRegions(rs []store.RegionStatus) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Region)
	}
	sort.Strings(out)
	return out
}
