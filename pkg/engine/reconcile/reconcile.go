// Package reconcile turns orphan verdicts into persisted findings with a
// stable identity across scans.
package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/cost"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/detect"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

// Scope is one (region, resource type) listing of a scan.
type Scope struct {
	Region string
	Type   resource.Type
}

// Listing is what one complete (region, type) listing of a scan observed.
// Seen holds every listed provider id. The value is true when the scan
// evaluated the resource with full information and found it no longer an
// orphan; quick scans and degraded metrics leave it false.
type Listing struct {
	Scope
	Seen map[string]bool
}

type SweepResult struct {
	Missed  int
	Deleted int
	// Kept counts findings not re-detected whose resource is still listed.
	Kept int
}

type Reconciler struct {
	repo   store.Repository
	logger *slog.Logger

	mu      sync.Mutex
	writers map[string]*sync.Mutex
}

type Option func(*Reconciler)

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(repo store.Repository, opts ...Option) *Reconciler {
	r := &Reconciler{
		repo:    repo,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		writers: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// account returns the writer lock of one account.
func (r *Reconciler) account(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.writers[id]
	if !ok {
		m = &sync.Mutex{}
		r.writers[id] = m
	}
	return m
}

// FindingFrom builds the scan-owned part of a finding.
func FindingFrom(accountID, scanID string, v detect.Verdict, est cost.Estimate, now time.Time) store.Finding {
	c := v.Candidate
	meta := make(map[string]interface{}, len(c.Attributes)+3)
	for k, val := range c.Attributes {
		meta[k] = val
	}
	if len(c.Tags) > 0 {
		meta["tags"] = c.Tags
	}
	if !c.CreatedAt.IsZero() {
		meta["created_at"] = c.CreatedAt.UTC().Format(time.RFC3339)
	}
	if v.MetricsDegraded {
		meta["metrics_degraded"] = true
	}
	return store.Finding{
		AccountID:          accountID,
		ResourceType:       c.Type,
		ProviderResourceID: c.ID,
		Region:             c.Region,
		Name:               c.Name,
		MonthlyCost:        est.Monthly,
		CumulativeCost:     est.Cumulative,
		Currency:           est.Currency,
		PriceSource:        string(est.Source),
		Confidence:         v.Confidence.String(),
		Scenario:           v.Scenario,
		Reason:             v.Reason,
		Metadata:           meta,
		LastSeenAt:         now,
		LastScanID:         scanID,
	}
}

// Upsert persists one orphan verdict. Writes for the same account are
// serialized so concurrent region workers never race on the identity key.
func (r *Reconciler) Upsert(ctx context.Context, f store.Finding) (bool, error) {
	m := r.account(f.AccountID)
	m.Lock()
	defer m.Unlock()

	created, err := r.repo.UpsertFinding(ctx, f)
	if err != nil {
		return false, err
	}
	if created {
		r.logger.Debug("New finding", "account_id", f.AccountID, "resource_type", f.ResourceType,
			"resource_id", f.ProviderResourceID, "scenario", f.Scenario)
	}
	return created, nil
}

// Sweep ages findings that scanID did not re-detect in a complete listing.
// A finding counts as missed when its resource is absent from the listing, or
// when an active finding's resource was settled as in use. Any other listed
// resource keeps its finding and has its miss count reset. A finding is
// deleted once it has been missed retention times in a row. Findings outside
// the listed scopes are left alone.
func (r *Reconciler) Sweep(ctx context.Context, accountID, scanID string, listings []Listing, retention int) (SweepResult, error) {
	var res SweepResult
	if len(listings) == 0 {
		return res, nil
	}
	retention = max(retention, 1)
	scopes := make(map[Scope]map[string]bool, len(listings))
	for _, l := range listings {
		seen := scopes[l.Scope]
		if seen == nil {
			seen = make(map[string]bool, len(l.Seen))
			scopes[l.Scope] = seen
		}
		for id, settled := range l.Seen {
			seen[id] = seen[id] || settled
		}
	}

	m := r.account(accountID)
	m.Lock()
	defer m.Unlock()

	findings, err := r.repo.ListFindings(ctx, accountID)
	if err != nil {
		return res, err
	}
	var errs []error
	for _, f := range findings {
		if f.LastScanID == scanID {
			continue
		}
		seen, ok := scopes[Scope{Region: f.Region, Type: f.ResourceType}]
		if !ok {
			continue
		}
		settled, listed := seen[f.ProviderResourceID]
		if listed && !(settled && f.Status == store.StatusActive) {
			res.Kept++
			if f.MissedScans > 0 {
				if err := r.repo.SetMissedScans(ctx, f.Key(), 0); err != nil {
					errs = append(errs, err)
				}
			}
			continue
		}
		missed := f.MissedScans + 1
		if missed >= retention {
			if err := r.repo.DeleteFinding(ctx, f.Key()); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Deleted++
			r.logger.Info("Finding retired", "account_id", accountID, "resource_type", f.ResourceType,
				"resource_id", f.ProviderResourceID, "missed_scans", missed, "listed", listed)
			continue
		}
		if err := r.repo.SetMissedScans(ctx, f.Key(), missed); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Missed++
	}
	return res, errors.Join(errs...)
}
