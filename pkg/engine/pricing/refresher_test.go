package pricing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/storage"
)

type fakeSource struct {
	mu     sync.Mutex
	prices map[Key]float64
	errs   map[Key]error
	calls  int
}

func (f *fakeSource) Provider() resource.Provider { return resource.ProviderAWS }

func (f *fakeSource) FetchUnitPrice(ctx context.Context, k Key) (Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[k]; ok {
		return Quote{}, err
	}
	p, ok := f.prices[k]
	if !ok {
		return Quote{}, ErrNoPrice
	}
	return Quote{Price: p, Unit: UnitHour, Currency: "USD"}, nil
}

func fastRetry() fault.Policy {
	return fault.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}
}

func TestRefresh(t *testing.T) {
	nat := NewKey(resource.ProviderAWS, "nat_gateway", "", "us-east-1")
	eip := NewKey(resource.ProviderAWS, "eip", "", "us-east-1")
	ec2 := NewKey(resource.ProviderAWS, "ec2", "", "us-east-1")
	disk := NewKey(resource.ProviderAzure, "disk", "", "westeurope")

	src := &fakeSource{
		prices: map[Key]float64{nat: 0.048},
		errs:   map[Key]error{eip: fault.New(fault.ErrThrottled, "aws", "GetProducts", errors.New("slow down"))},
	}
	store := storage.NewLocalStore(t.TempDir())
	cache := newTestCache()
	r := NewRefresher(cache, []PriceSource{src}, WithStore(store), WithRetry(fastRetry()))

	res, err := r.Refresh(context.Background(), []Key{nat, eip, ec2, disk})
	require.NoError(t, err)
	assert.Equal(t, RefreshResult{Updated: 1, Skipped: 2, Failed: 1}, res)
	// One call for nat, ec2, and two for the throttled eip.
	assert.Equal(t, 4, src.calls)

	got := cache.Lookup(nat)
	assert.Equal(t, SourceAPI, got.Source)
	assert.InDelta(t, 0.048, got.Price, 1e-9)
	assert.Equal(t, testNow.Add(24*time.Hour), got.ExpiresAt)

	reloaded := newTestCache()
	n, err := reloaded.Load(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRefreshAll_UsesSeedAndCachedKeys(t *testing.T) {
	seed := NewKey(resource.ProviderAWS, "elb", "application", "us-east-1")
	cached := NewKey(resource.ProviderAWS, "ec2", "t3.micro", "us-east-1")
	src := &fakeSource{prices: map[Key]float64{seed: 0.0225, cached: 0.0104}}

	cache := newTestCache()
	cache.Merge([]Entry{apiEntry(cached, 0.01, testNow.Add(-time.Hour))})
	r := NewRefresher(cache, []PriceSource{src}, WithSeedKeys([]Key{seed}), WithRetry(fastRetry()))

	res, err := r.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.InDelta(t, 0.0104, cache.Lookup(cached).Price, 1e-9)
}

func TestRun_RefreshesOnTrigger(t *testing.T) {
	nat := NewKey(resource.ProviderAWS, "nat_gateway", "", "eu-west-1")
	src := &fakeSource{prices: map[Key]float64{nat: 0.048}}
	cache := newTestCache()
	r := NewRefresher(cache, []PriceSource{src}, WithInterval(time.Hour), WithRetry(fastRetry()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Equal(t, SourceFallback, cache.Lookup(nat).Source)
	assert.Eventually(t, func() bool {
		return cache.Lookup(nat).Source == SourceAPI
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_OnDemandOnlySkipsFullPass(t *testing.T) {
	seeded := NewKey(resource.ProviderAWS, "eip", "", "us-east-1")
	nat := NewKey(resource.ProviderAWS, "nat_gateway", "", "us-east-1")
	src := &fakeSource{prices: map[Key]float64{seeded: 0.005, nat: 0.045}}
	cache := newTestCache()
	r := NewRefresher(cache, []PriceSource{src}, WithRetry(fastRetry()), WithSeedKeys([]Key{seeded}), OnDemandOnly())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cache.Lookup(nat)
	assert.Eventually(t, func() bool {
		return cache.Lookup(nat).Source == SourceAPI
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, cache.Entries(), 1)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFallbackKeys(t *testing.T) {
	keys := DefaultTable().Keys(resource.ProviderGCP, []string{"us-central1", "europe-west1"})
	require.NotEmpty(t, keys)
	assert.Equal(t, "us-central1", keys[0].Region)
	assert.Equal(t, len(DefaultTable()[resource.ProviderGCP])*2, len(keys))
}
