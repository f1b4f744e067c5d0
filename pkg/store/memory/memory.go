// Package memory is an in-process Repository for tests and CLI dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

type ruleKey struct {
	owner string
	typ   resource.Type
}

type Store struct {
	mu       sync.Mutex
	accounts map[string]resource.CloudAccount
	rules    map[ruleKey]config.DetectionRule
	jobs     map[string]*store.ScanJob
	locks    map[string]string
	findings map[resource.FindingKey]store.Finding
}

func New() *Store {
	return &Store{
		accounts: make(map[string]resource.CloudAccount),
		rules:    make(map[ruleKey]config.DetectionRule),
		jobs:     make(map[string]*store.ScanJob),
		locks:    make(map[string]string),
		findings: make(map[resource.FindingKey]store.Finding),
	}
}

// PutAccount registers an account.
func (s *Store) PutAccount(a resource.CloudAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Regions = append([]string(nil), a.Regions...)
	s.accounts[a.ID] = a
}

// PutRuleOverride stores an override keyed by its owner and resource type.
func (s *Store) PutRuleOverride(r config.DetectionRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[ruleKey{r.OwnerID, r.ResourceType}] = r
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (resource.CloudAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return resource.CloudAccount{}, fmt.Errorf("account %s: %w", accountID, store.ErrNotFound)
	}
	a.Regions = append([]string(nil), a.Regions...)
	return a, nil
}

func (s *Store) GetRuleOverrides(ctx context.Context, ownerID string, t resource.Type) (*config.DetectionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleKey{ownerID, t}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *Store) SaveScanJob(ctx context.Context, job *store.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	if a, ok := s.accounts[job.AccountID]; ok && job.Status == store.JobCompleted {
		a.LastScanAt = job.CompletedAt
		s.accounts[job.AccountID] = a
	}
	return nil
}

func (s *Store) GetScanJob(ctx context.Context, jobID string) (*store.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("scan job %s: %w", jobID, store.ErrNotFound)
	}
	return j.Clone(), nil
}

func (s *Store) AcquireAccountScanLock(ctx context.Context, accountID, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.locks[accountID]; ok && holder != jobID {
		return false, nil
	}
	s.locks[accountID] = jobID
	return true, nil
}

func (s *Store) ReleaseAccountScanLock(ctx context.Context, accountID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[accountID] == jobID {
		delete(s.locks, accountID)
	}
	return nil
}

func (s *Store) UpsertFinding(ctx context.Context, f store.Finding) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := f.Key()
	existing, ok := s.findings[k]
	if !ok {
		s.findings[k] = store.NewFinding(f)
		return true, nil
	}
	existing.ApplyDetection(f)
	s.findings[k] = existing
	return false, nil
}

func (s *Store) ListFindings(ctx context.Context, accountID string) ([]store.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Finding
	for k, f := range s.findings {
		if k.AccountID == accountID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

func (s *Store) SetMissedScans(ctx context.Context, key resource.FindingKey, missed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.findings[key]
	if !ok {
		return fmt.Errorf("finding %s: %w", key, store.ErrNotFound)
	}
	f.MissedScans = missed
	s.findings[key] = f
	return nil
}

func (s *Store) SetFindingStatus(ctx context.Context, key resource.FindingKey, status store.Status, at time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.findings[key]
	if !ok {
		return fmt.Errorf("finding %s: %w", key, store.ErrNotFound)
	}
	f.Status = status
	f.StatusChangedAt = at
	s.findings[key] = f
	return nil
}

func (s *Store) DeleteFinding(ctx context.Context, key resource.FindingKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.findings, key)
	return nil
}

var _ store.Repository = (*Store)(nil)
