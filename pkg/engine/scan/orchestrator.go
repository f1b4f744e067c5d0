// Package scan runs scan jobs: it takes the account lock, validates
// credentials once, fans out over regions and resource types, and records
// per-region progress on the job.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/cost"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/detect"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/metrics"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/provider"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/reconcile"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/swarm"
	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

var (
	ErrScanAlreadyInProgress = errors.New("scan already in progress")
	ErrJobNotFound           = errors.New("scan job not found")
	ErrInvalidScanType       = errors.New("invalid scan type")
)

// Scan types. A quick scan skips metric calls and relies on existence
// heuristics only.
const (
	TypeFull  = "full"
	TypeQuick = "quick"
)

// Deps are the collaborators of an Orchestrator. Reconciler and Probe are
// built from the other fields when nil.
type Deps struct {
	Repo        store.Repository
	Credentials store.CredentialProvider
	Adapters    *provider.Registry
	Detector    *detect.Engine
	Estimator   *cost.Estimator
	Reconciler  *reconcile.Reconciler
	Probe       *metrics.Probe
	// Overrides is consulted when the repository has no rule for an owner.
	Overrides config.RuleSet
}

type Orchestrator struct {
	Deps
	cfg    config.ScanConfig
	policy fault.Policy
	queue  swarm.Queue
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithQueue runs jobs on q instead of a dedicated goroutine per job.
func WithQueue(q swarm.Queue) Option {
	return func(o *Orchestrator) { o.queue = q }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator replaces the uuid job id generator.
func WithIDGenerator(f func() string) Option {
	return func(o *Orchestrator) { o.newID = f }
}

func New(deps Deps, cfg config.ScanConfig, opts ...Option) (*Orchestrator, error) {
	if deps.Repo == nil || deps.Credentials == nil || deps.Adapters == nil || deps.Detector == nil || deps.Estimator == nil {
		return nil, errors.New("scan: repository, credentials, adapters, detector and estimator are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		Deps:   deps,
		cfg:    cfg,
		policy: fault.PolicyFrom(cfg.Retry),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer("cloudwaste/scan"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.Reconciler == nil {
		o.Reconciler = reconcile.New(o.Repo, reconcile.WithLogger(o.logger))
	}
	if o.Probe == nil {
		o.Probe = metrics.NewProbe(o.policy, o.logger)
	}
	return o, nil
}

// TriggerScan creates a job for the account and schedules it. It fails with
// ErrScanAlreadyInProgress when another job holds the account lock. Failures
// after scheduling are reported on the returned job, never as an error.
func (o *Orchestrator) TriggerScan(ctx context.Context, accountID, scanType string) (*store.ScanJob, error) {
	switch scanType {
	case "":
		scanType = TypeFull
	case TypeFull, TypeQuick:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidScanType, scanType)
	}

	account, err := o.Repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	job := &store.ScanJob{
		ID:        o.newID(),
		AccountID: account.ID,
		ScanType:  scanType,
		Status:    store.JobPending,
		CreatedAt: o.now(),
	}
	for _, r := range account.Regions {
		job.Regions = append(job.Regions, store.RegionStatus{Region: r, State: store.RegionPending})
	}

	ok, err := o.Repo.AcquireAccountScanLock(ctx, account.ID, job.ID)
	if err != nil {
		return nil, fmt.Errorf("acquire scan lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("account %s: %w", account.ID, ErrScanAlreadyInProgress)
	}
	if err := o.Repo.SaveScanJob(ctx, job); err != nil {
		_ = o.Repo.ReleaseAccountScanLock(context.WithoutCancel(ctx), account.ID, job.ID)
		return nil, fmt.Errorf("save scan job: %w", err)
	}

	o.logger.Info("Scan queued", "account_id", account.ID, "job_id", job.ID, "scan_type", scanType,
		"regions", len(account.Regions))

	r := &runner{o: o, account: account, state: newJobState(job)}
	task := swarm.Task{Name: "scan:" + job.ID, Run: r.run}
	if o.queue == nil {
		go func() { _ = task.Run(context.WithoutCancel(ctx)) }()
		return job.Clone(), nil
	}
	if err := o.queue.Enqueue(ctx, task); err != nil {
		// The job never started; close it out so the lock is not leaked.
		r.finishEarly(context.WithoutCancel(ctx), fmt.Sprintf("could not schedule scan: %v", err))
		return r.state.snapshot(), nil
	}
	return job.Clone(), nil
}

// GetScanStatus returns the latest persisted state of a job.
func (o *Orchestrator) GetScanStatus(ctx context.Context, jobID string) (*store.ScanJob, error) {
	job, err := o.Repo.GetScanJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", jobID, ErrJobNotFound)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Wait polls the job until it reaches a terminal state or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, jobID string, every time.Duration) (*store.ScanJob, error) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		job, err := o.GetScanStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-t.C:
		}
	}
}
