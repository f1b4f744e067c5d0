// Package storetest holds behavioural tests shared by Repository
// implementations.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/store"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func finding(id string, cost float64, seen time.Time) store.Finding {
	return store.Finding{
		AccountID:          "acct-1",
		ResourceType:       resource.EBSVolume,
		ProviderResourceID: id,
		Region:             "us-east-1",
		MonthlyCost:        cost,
		CumulativeCost:     cost * 2,
		Currency:           "USD",
		PriceSource:        "fallback",
		Confidence:         "high",
		Scenario:           "unattached",
		Reason:             "Volume unattached",
		Metadata:           map[string]interface{}{"size_gb": float64(100)},
		LastSeenAt:         seen,
		LastScanID:         "job-1",
	}
}

// Run exercises the finding, job and lock contract on a fresh repository
// returned by newRepo.
func Run(t *testing.T, newRepo func(t *testing.T) store.Repository) {
	t.Run("UpsertPreservesStatus", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		created, err := repo.UpsertFinding(ctx, finding("vol-1", 8, t0))
		require.NoError(t, err)
		assert.True(t, created)

		key := finding("vol-1", 0, t0).Key()
		require.NoError(t, repo.SetFindingStatus(ctx, key, store.StatusIgnored, t0.Add(time.Hour)))
		require.NoError(t, repo.SetMissedScans(ctx, key, 3))

		later := t0.Add(24 * time.Hour)
		created, err = repo.UpsertFinding(ctx, finding("vol-1", 9.5, later))
		require.NoError(t, err)
		assert.False(t, created)

		got, err := repo.ListFindings(ctx, "acct-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		f := got[0]
		assert.Equal(t, store.StatusIgnored, f.Status)
		assert.True(t, f.StatusChangedAt.Equal(t0.Add(time.Hour)))
		assert.True(t, f.FirstSeenAt.Equal(t0))
		assert.True(t, f.LastSeenAt.Equal(later))
		assert.Equal(t, 9.5, f.MonthlyCost)
		assert.Equal(t, 0, f.MissedScans)
		assert.Equal(t, float64(100), f.Metadata["size_gb"])
	})

	t.Run("ConcurrentUpsertsKeepOneRow", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := repo.UpsertFinding(ctx, finding("vol-race", float64(i), t0.Add(time.Duration(i)*time.Second)))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()
		got, err := repo.ListFindings(ctx, "acct-1")
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("DeleteFinding", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		_, err := repo.UpsertFinding(ctx, finding("vol-2", 1, t0))
		require.NoError(t, err)
		require.NoError(t, repo.DeleteFinding(ctx, finding("vol-2", 0, t0).Key()))
		got, err := repo.ListFindings(ctx, "acct-1")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("SetStatusMissing", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.SetFindingStatus(context.Background(), finding("nope", 0, t0).Key(), store.StatusIgnored, t0)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ScanJobRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		job := &store.ScanJob{
			ID:        "job-1",
			AccountID: "acct-1",
			ScanType:  "full",
			Status:    store.JobRunning,
			CreatedAt: t0,
			StartedAt: t0,
			Regions: []store.RegionStatus{
				{Region: "us-east-1", State: store.RegionSucceeded, ResourcesScanned: 4},
				{Region: "eu-west-1", State: store.RegionFailed, Error: "throttled",
					TypeFailures: map[resource.Type]string{resource.NATGateway: "throttled"}},
			},
		}
		require.NoError(t, repo.SaveScanJob(ctx, job))

		job.Status = store.JobCompleted
		job.Summary = store.Summary{ResourcesScanned: 4, RegionsSucceeded: 1, RegionsFailed: 1}
		job.CompletedAt = t0.Add(time.Minute)
		require.NoError(t, repo.SaveScanJob(ctx, job))

		got, err := repo.GetScanJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, store.JobCompleted, got.Status)
		assert.Equal(t, 1, got.Summary.RegionsFailed)
		require.Len(t, got.Regions, 2)
		assert.Equal(t, "throttled", got.Regions[1].TypeFailures[resource.NATGateway])

		_, err = repo.GetScanJob(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("AccountLock", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		ok, err := repo.AcquireAccountScanLock(ctx, "acct-1", "job-1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.AcquireAccountScanLock(ctx, "acct-1", "job-2")
		require.NoError(t, err)
		assert.False(t, ok)

		// Only the holder can release.
		require.NoError(t, repo.ReleaseAccountScanLock(ctx, "acct-1", "job-2"))
		ok, err = repo.AcquireAccountScanLock(ctx, "acct-1", "job-3")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, repo.ReleaseAccountScanLock(ctx, "acct-1", "job-1"))
		ok, err = repo.AcquireAccountScanLock(ctx, "acct-1", "job-3")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
