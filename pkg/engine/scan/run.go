package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/detect"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/provider"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/reconcile"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/swarm"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

// runner executes one job.
type runner struct {
	o       *Orchestrator
	account resource.CloudAccount
	state   *jobState

	adapter provider.Adapter
	rules   detect.RuleSet
	types   []resource.Type
	now     time.Time

	mu        sync.Mutex
	waste     typeTally
	succeeded []reconcile.Listing
	throttled bool
}

func (r *runner) jobID() string { return r.state.job.ID }

// save persists a snapshot of the job. It outlives scan cancellation.
func (r *runner) save(ctx context.Context) {
	if err := r.o.Repo.SaveScanJob(context.WithoutCancel(ctx), r.state.snapshot()); err != nil {
		r.o.logger.Error("Failed to save scan job", "job_id", r.jobID(), "error", err)
	}
}

// finishEarly fails the job and releases its lock.
func (r *runner) finishEarly(ctx context.Context, msg string) {
	r.state.update(func(j *store.ScanJob) {
		j.Status = store.JobFailed
		j.ErrorMessage = msg
		j.CompletedAt = r.o.now()
		for i := range j.Regions {
			if j.Regions[i].State == store.RegionPending {
				j.Regions[i].State = store.RegionFailed
				j.Regions[i].Error = "not started"
			}
		}
	})
	r.save(ctx)
	if err := r.o.Repo.ReleaseAccountScanLock(context.WithoutCancel(ctx), r.account.ID, r.jobID()); err != nil {
		r.o.logger.Error("Failed to release scan lock", "account_id", r.account.ID, "job_id", r.jobID(), "error", err)
	}
}

func (r *runner) run(ctx context.Context) (err error) {
	o := r.o
	log := o.logger.With("account_id", r.account.ID, "job_id", r.jobID())

	ctx, span := o.tracer.Start(ctx, "Scan.Run", trace.WithAttributes(
		attribute.String("account_id", r.account.ID),
		attribute.String("provider", string(r.account.Provider)),
		attribute.String("job_id", r.jobID()),
	))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			pe := &swarm.PanicError{Value: p, Stack: debug.Stack()}
			span.RecordError(pe, trace.WithStackTrace(true))
			span.SetStatus(codes.Error, "panic")
			log.Error("Scan panicked", "error", p, "stack", string(pe.Stack))
			r.finishEarly(ctx, fmt.Sprintf("internal error: %v", p))
			err = pe
		}
	}()

	r.now = o.now()
	r.state.update(func(j *store.ScanJob) {
		j.Status = store.JobRunning
		j.StartedAt = r.now
	})
	r.save(ctx)

	scanCtx, cancel := context.WithTimeout(ctx, o.cfg.ScanTimeout)
	defer cancel()

	if msg := r.prepare(scanCtx); msg != "" {
		span.SetStatus(codes.Error, msg)
		log.Error("Scan failed before region fan-out", "error", msg)
		r.finishEarly(ctx, msg)
		return nil
	}

	log.Info("Scan started", "regions", sortedRegions(r.state.snapshot().Regions), "resource_types", len(r.types))

	fatal := r.fanOut(scanCtx)
	timedOut := errors.Is(scanCtx.Err(), context.DeadlineExceeded)

	if fatal != nil {
		span.RecordError(fatal, trace.WithStackTrace(true))
		span.SetStatus(codes.Error, fatal.Error())
		log.Error("Scan aborted", "error", fatal)
		r.state.update(func(j *store.ScanJob) {
			summarize(j, r.waste, timedOut, o.cfg.ScanTimeout)
		})
		r.finishEarly(ctx, fatal.Error())
		return nil
	}

	// Retention only looks at scopes that listed completely.
	if len(r.succeeded) > 0 {
		res, err := o.Reconciler.Sweep(context.WithoutCancel(ctx), r.account.ID, r.jobID(), r.succeeded, o.cfg.MissedScanRetention)
		if err != nil {
			log.Warn("Retention sweep incomplete", "error", err)
		}
		log.Debug("Retention sweep", "missed", res.Missed, "deleted", res.Deleted)
	}

	var final *store.ScanJob
	r.state.update(func(j *store.ScanJob) {
		for i := range j.Regions {
			if j.Regions[i].State == store.RegionPending || j.Regions[i].State == store.RegionRunning {
				j.Regions[i].State = store.RegionTimedOut
				j.Regions[i].Error = "scan timed out"
				j.Regions[i].FinishedAt = o.now()
			}
		}
		summarize(j, r.waste, timedOut, o.cfg.ScanTimeout)
		j.Status = store.JobCompleted
		if j.Summary.RegionsSucceeded == 0 {
			j.Status = store.JobFailed
		}
		j.CompletedAt = o.now()
		final = j.Clone()
	})
	r.save(ctx)
	if err := o.Repo.ReleaseAccountScanLock(context.WithoutCancel(ctx), r.account.ID, r.jobID()); err != nil {
		log.Error("Failed to release scan lock", "error", err)
	}

	span.SetAttributes(
		attribute.String("status", string(final.Status)),
		attribute.Int("resources_scanned", final.Summary.ResourcesScanned),
		attribute.Int("orphans_found", final.Summary.OrphansFound),
		attribute.Int("regions_failed", final.Summary.RegionsFailed),
		attribute.Bool("timed_out", timedOut),
	)
	if final.Status == store.JobFailed {
		span.SetStatus(codes.Error, final.ErrorMessage)
	}
	log.Info("Scan finished",
		"status", final.Status,
		"resources_scanned", final.Summary.ResourcesScanned,
		"orphans_found", final.Summary.OrphansFound,
		"monthly_waste", final.Summary.EstimatedMonthlyWaste,
		"regions_failed", final.Summary.RegionsFailed,
	)
	r.mu.Lock()
	throttled := r.throttled
	r.mu.Unlock()
	if throttled {
		// Only the worker pool acts on this; the job is already stored.
		return fmt.Errorf("scan %s: %w", r.jobID(), fault.ErrThrottled)
	}
	return nil
}

// prepare resolves credentials, the adapter and the rule set. A non-empty
// return fails the job before any region runs.
func (r *runner) prepare(ctx context.Context) string {
	o := r.o
	if len(r.state.job.Regions) == 0 {
		return "no regions configured for account"
	}
	cred, err := o.Credentials.GetDecryptedCredential(ctx, r.account.ID)
	if err != nil {
		return fmt.Sprintf("credentials: %v", err)
	}
	if cred.Provider == "" {
		cred.Provider = r.account.Provider
	}
	r.adapter, err = o.Adapters.New(ctx, cred)
	if err != nil {
		return fmt.Sprintf("adapter: %v", err)
	}

	// Validated once per account, before any region work.
	identity, err := fault.Do(ctx, o.policy, r.adapter.ValidateCredentials, nil)
	if err != nil {
		return fmt.Sprintf("credential validation: %v", err)
	}
	o.logger.Debug("Credentials validated", "account_id", r.account.ID, "identity", identity.AccountID)

	var types []resource.Type
	for _, t := range resource.TypesFor(r.account.Provider) {
		if o.Detector.Supports(t) {
			types = append(types, t)
		}
	}
	r.rules = o.Detector.Resolve(types, func(t resource.Type) *config.DetectionRule {
		rule, err := o.Repo.GetRuleOverrides(ctx, r.account.OwnerID, t)
		if err != nil {
			o.logger.Warn("Rule override lookup failed, using defaults", "account_id", r.account.ID,
				"resource_type", t, "error", err)
			return nil
		}
		if rule == nil {
			rule = o.Overrides.Get(r.account.OwnerID, t)
		}
		return rule
	})
	for _, t := range types {
		if r.rules.Get(t).Params.Enabled {
			r.types = append(r.types, t)
		}
	}
	return ""
}

// fanOut scans regions in parallel. Only credential failures and panics are
// returned; every other failure stays in the region status.
func (r *runner) fanOut(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.cfg.MaxConcurrentRegions)
	for _, rs := range r.state.snapshot().Regions {
		region := rs.Region
		g.Go(func() error { return r.scanRegion(gctx, region) })
	}
	return g.Wait()
}

func (r *runner) scanRegion(ctx context.Context, region string) error {
	o := r.o
	if ctx.Err() != nil {
		return nil
	}
	ctx, span := o.tracer.Start(ctx, "Scan.Region", trace.WithAttributes(attribute.String("region", region)))
	defer span.End()

	r.state.region(region, func(rs *store.RegionStatus) {
		rs.State = store.RegionRunning
		rs.StartedAt = o.now()
	})
	r.save(ctx)

	var (
		mu        sync.Mutex
		tally     typeTally
		failures  = map[resource.Type]string{}
		scopes    []reconcile.Listing
		attempts  int
		throttled bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrentTypes)
	for _, t := range r.types {
		t := t
		g.Go(func() error {
			got, seen, err := r.safeScanType(gctx, region, t)
			mu.Lock()
			defer mu.Unlock()
			tally.add(got)
			var pe *swarm.PanicError
			switch {
			case err == nil:
				attempts++
				scopes = append(scopes, reconcile.Listing{Scope: reconcile.Scope{Region: region, Type: t}, Seen: seen})
			case errors.Is(err, fault.ErrUnsupported):
			case fault.Fatal(err), errors.As(err, &pe):
				return err
			default:
				attempts++
				failures[t] = err.Error()
				throttled = throttled || errors.Is(err, fault.ErrThrottled)
			}
			return nil
		})
	}
	fatal := g.Wait()

	state := store.RegionSucceeded
	var msg string
	switch {
	case fatal != nil:
		state, msg = store.RegionFailed, fatal.Error()
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && len(failures) > 0:
		state, msg = store.RegionTimedOut, "scan timed out"
	case attempts > 0 && len(failures) == attempts:
		state, msg = store.RegionFailed, "all resource types failed"
	}
	if state != store.RegionSucceeded {
		span.SetStatus(codes.Error, msg)
	}
	span.SetAttributes(
		attribute.Int("resources_scanned", tally.scanned),
		attribute.Int("orphans_found", tally.orphans),
		attribute.Int("type_failures", len(failures)),
	)

	r.state.region(region, func(rs *store.RegionStatus) {
		rs.State = state
		rs.Error = msg
		rs.ResourcesScanned = tally.scanned
		rs.OrphansFound = tally.orphans
		rs.FinishedAt = o.now()
		if len(failures) > 0 {
			rs.TypeFailures = failures
		}
	})
	r.mu.Lock()
	r.throttled = r.throttled || throttled
	r.waste.monthly += tally.monthly
	r.waste.cumulative += tally.cumulative
	if state == store.RegionSucceeded {
		r.succeeded = append(r.succeeded, scopes...)
	}
	r.mu.Unlock()
	r.save(ctx)

	o.logger.Info("Region scanned", "account_id", r.account.ID, "job_id", r.jobID(), "region", region,
		"state", state, "resources_scanned", tally.scanned, "orphans_found", tally.orphans)
	return fatal
}

// safeScanType turns a panic in adapter or rule code into a PanicError, which
// aborts the job.
func (r *runner) safeScanType(ctx context.Context, region string, t resource.Type) (tally typeTally, seen map[string]bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &swarm.PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return r.scanType(ctx, region, t)
}

// scanType lists one resource type in a region and persists every orphan as
// soon as it is found, so a timeout keeps what was already computed. seen maps
// every listed id to whether it was settled as not an orphan.
func (r *runner) scanType(ctx context.Context, region string, t resource.Type) (typeTally, map[string]bool, error) {
	o := r.o
	var tally typeTally
	ctx, span := o.tracer.Start(ctx, "Scan.ResourceType", trace.WithAttributes(
		attribute.String("region", region),
		attribute.String("resource_type", string(t)),
	))
	defer span.End()

	log := o.logger.With("account_id", r.account.ID, "job_id", r.jobID(), "region", region, "resource_type", t)

	candidates, err := fault.Do(ctx, o.policy, func(ctx context.Context) ([]resource.Candidate, error) {
		return r.adapter.ListResources(ctx, t, region)
	}, func(err error, wait time.Duration) {
		log.Debug("Retrying list", "error", err, "wait", wait)
	})
	if err != nil {
		if !errors.Is(err, fault.ErrUnsupported) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list failed")
			log.Warn("List failed", "error", err)
		}
		return tally, nil, err
	}

	rule := r.rules.Get(t)
	quick := r.state.job.ScanType == TypeQuick
	seen := make(map[string]bool, len(candidates))
	var persistErr error
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return tally, nil, err
		}
		c := &candidates[i]
		tally.scanned++

		in := detect.Input{Candidate: c, Rule: rule, Now: r.now}
		if !quick {
			in.Metrics = o.Probe.Fetch(ctx, r.adapter, c, o.Detector.MetricSpecs(c, rule.Params), r.now)
		}
		v := o.Detector.Evaluate(ctx, in)
		seen[c.ID] = !v.IsOrphan && !v.Inconclusive && !quick && in.Metrics.AllOK()
		if !v.IsOrphan {
			continue
		}
		est := o.Estimator.Estimate(c, r.now)
		f := reconcile.FindingFrom(r.account.ID, r.jobID(), v, est, r.now)
		if _, err := o.Reconciler.Upsert(context.WithoutCancel(ctx), f); err != nil {
			log.Error("Failed to persist finding", "resource_id", c.ID, "error", err)
			persistErr = fmt.Errorf("persist findings: %w", err)
			continue
		}
		tally.orphans++
		tally.monthly += est.Monthly
		tally.cumulative += est.Cumulative
	}
	span.SetAttributes(
		attribute.Int("resources_scanned", tally.scanned),
		attribute.Int("orphans_found", tally.orphans),
	)
	return tally, seen, persistErr
}
