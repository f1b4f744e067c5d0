// Package store defines the persistence contracts of the scan engine: findings,
// scan jobs, the per-account scan lock, rule overrides and credentials.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Status of a finding. Only the external caller changes it after creation.
type Status string

const (
	StatusActive            Status = "active"
	StatusIgnored           Status = "ignored"
	StatusMarkedForDeletion Status = "marked_for_deletion"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusIgnored, StatusMarkedForDeletion:
		return true
	}
	return false
}

// Finding is a persisted orphan, identified by (account, type, provider id).
type Finding struct {
	AccountID          string                 `json:"account_id"`
	ResourceType       resource.Type          `json:"resource_type"`
	ProviderResourceID string                 `json:"provider_resource_id"`
	Region             string                 `json:"region"`
	Name               string                 `json:"name,omitempty"`
	MonthlyCost        float64                `json:"estimated_monthly_cost"`
	CumulativeCost     float64                `json:"estimated_cumulative_cost"`
	Currency           string                 `json:"currency"`
	PriceSource        string                 `json:"price_source"`
	Confidence         string                 `json:"confidence"`
	Scenario           string                 `json:"scenario"`
	Reason             string                 `json:"reason"`
	Metadata           map[string]interface{} `json:"resource_metadata,omitempty"`
	FirstSeenAt        time.Time              `json:"first_seen_at"`
	LastSeenAt         time.Time              `json:"last_seen_at"`
	Status             Status                 `json:"status"`
	StatusChangedAt    time.Time              `json:"status_changed_at"`
	// MissedScans counts consecutive completed scans that counted the finding as missed.
	MissedScans int    `json:"missed_scans"`
	LastScanID  string `json:"last_scan_id,omitempty"`
}

func (f Finding) Key() resource.FindingKey {
	return resource.FindingKey{AccountID: f.AccountID, Type: f.ResourceType, ProviderID: f.ProviderResourceID}
}

// ApplyDetection copies the scan-owned fields of in onto f. Identity, status,
// status_changed_at and first_seen_at are preserved.
func (f *Finding) ApplyDetection(in Finding) {
	f.Region = in.Region
	f.Name = in.Name
	f.MonthlyCost = in.MonthlyCost
	f.CumulativeCost = in.CumulativeCost
	f.Currency = in.Currency
	f.PriceSource = in.PriceSource
	f.Confidence = in.Confidence
	f.Scenario = in.Scenario
	f.Reason = in.Reason
	f.Metadata = in.Metadata
	f.LastSeenAt = in.LastSeenAt
	f.LastScanID = in.LastScanID
	f.MissedScans = 0
}

// NewFinding prepares a first detection.
func NewFinding(in Finding) Finding {
	f := in
	f.Status = StatusActive
	f.FirstSeenAt = in.LastSeenAt
	f.StatusChangedAt = in.LastSeenAt
	f.MissedScans = 0
	return f
}

// JobStatus is the lifecycle state of a scan job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// RegionState is the status of one region within a job.
type RegionState string

const (
	RegionPending   RegionState = "pending"
	RegionRunning   RegionState = "running"
	RegionSucceeded RegionState = "succeeded"
	RegionFailed    RegionState = "failed"
	RegionTimedOut  RegionState = "timed_out"
)

type RegionStatus struct {
	Region           string                   `json:"region"`
	State            RegionState              `json:"state"`
	Error            string                   `json:"error,omitempty"`
	TypeFailures     map[resource.Type]string `json:"type_failures,omitempty"`
	ResourcesScanned int                      `json:"resources_scanned"`
	OrphansFound     int                      `json:"orphans_found"`
	StartedAt        time.Time                `json:"started_at,omitempty"`
	FinishedAt       time.Time                `json:"finished_at,omitempty"`
}

type Summary struct {
	ResourcesScanned         int     `json:"resources_scanned"`
	OrphansFound             int     `json:"orphans_found"`
	EstimatedMonthlyWaste    float64 `json:"estimated_monthly_waste"`
	EstimatedCumulativeWaste float64 `json:"estimated_cumulative_waste"`
	RegionsSucceeded         int     `json:"regions_succeeded"`
	RegionsFailed            int     `json:"regions_failed"`
}

type ScanJob struct {
	ID           string         `json:"id"`
	AccountID    string         `json:"account_id"`
	ScanType     string         `json:"scan_type"`
	Status       JobStatus      `json:"status"`
	Regions      []RegionStatus `json:"regions"`
	Summary      Summary        `json:"summary"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    time.Time      `json:"started_at,omitempty"`
	CompletedAt  time.Time      `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j *ScanJob) Clone() *ScanJob {
	c := *j
	c.Regions = make([]RegionStatus, len(j.Regions))
	for i, r := range j.Regions {
		c.Regions[i] = r
		if r.TypeFailures != nil {
			c.Regions[i].TypeFailures = make(map[resource.Type]string, len(r.TypeFailures))
			for k, v := range r.TypeFailures {
				c.Regions[i].TypeFailures[k] = v
			}
		}
	}
	return &c
}

// Repository is the storage contract of the engine.
type Repository interface {
	GetAccount(ctx context.Context, accountID string) (resource.CloudAccount, error)
	// GetRuleOverrides returns nil when the owner has no override for t.
	GetRuleOverrides(ctx context.Context, ownerID string, t resource.Type) (*config.DetectionRule, error)

	SaveScanJob(ctx context.Context, job *ScanJob) error
	GetScanJob(ctx context.Context, jobID string) (*ScanJob, error)
	// AcquireAccountScanLock returns false when another job holds the lock.
	AcquireAccountScanLock(ctx context.Context, accountID, jobID string) (bool, error)
	// ReleaseAccountScanLock is a no-op unless jobID holds the lock.
	ReleaseAccountScanLock(ctx context.Context, accountID, jobID string) error

	// UpsertFinding inserts with status active or updates the scan-owned fields
	// of an existing finding. It reports whether a row was created.
	UpsertFinding(ctx context.Context, f Finding) (bool, error)
	ListFindings(ctx context.Context, accountID string) ([]Finding, error)
	SetMissedScans(ctx context.Context, key resource.FindingKey, missed int) error
	SetFindingStatus(ctx context.Context, key resource.FindingKey, status Status, at time.Time) error
	DeleteFinding(ctx context.Context, key resource.FindingKey) error
}

// CredentialProvider hands out decrypted credentials. The engine never
// persists them.
type CredentialProvider interface {
	GetDecryptedCredential(ctx context.Context, accountID string) (resource.Credential, error)
}
