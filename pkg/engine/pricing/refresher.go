package pricing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
	"github.com/surpriz/cloud-waste-sub010/pkg/engine/fault"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/storage"
)

// RefreshResult counts the outcome of one refresh pass.
type RefreshResult struct {
	Updated int
	Skipped int
	Failed  int
}

// Refresher is the single writer of the cache. It runs on its own schedule
// and on demand when scans report missing or expired keys.
type Refresher struct {
	cache    *Cache
	sources  map[resource.Provider]PriceSource
	store    storage.BlobStore
	interval time.Duration
	retry    fault.Policy
	seed     []Key
	onDemand bool
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[Key]struct{}
}

type RefresherOption func(*Refresher)

func WithStore(s storage.BlobStore) RefresherOption {
	return func(r *Refresher) { r.store = s }
}

func WithInterval(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithRetry(p fault.Policy) RefresherOption {
	return func(r *Refresher) { r.retry = p }
}

// WithSeedKeys adds keys refreshed on every full pass.
func WithSeedKeys(keys []Key) RefresherOption {
	return func(r *Refresher) { r.seed = append(r.seed, keys...) }
}

// OnDemandOnly skips the startup and periodic full passes; only keys reported
// by the cache are refreshed.
func OnDemandOnly() RefresherOption {
	return func(r *Refresher) { r.onDemand = true }
}

func WithRefresherLogger(l *slog.Logger) RefresherOption {
	return func(r *Refresher) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRefresher(cache *Cache, sources []PriceSource, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		cache:    cache,
		sources:  make(map[resource.Provider]PriceSource, len(sources)),
		interval: config.DefaultRefreshInterval,
		retry:    fault.DefaultPolicy(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		pending:  make(map[Key]struct{}),
	}
	for _, s := range sources {
		r.sources[s.Provider()] = s
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run refreshes once, then on every tick and whenever the cache reports a
// miss. It returns when ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if !r.onDemand {
		if _, err := r.RefreshAll(ctx); err != nil {
			r.logger.Warn("Initial pricing refresh failed", "error", err)
		}
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if _, err := r.RefreshAll(ctx); err != nil {
				r.logger.Warn("Pricing refresh failed", "error", err)
			}
		case k := <-r.cache.Triggers():
			r.enqueue(k)
			r.drainTriggers()
			if _, err := r.Refresh(ctx, r.takePending()); err != nil {
				r.logger.Warn("On-demand pricing refresh failed", "error", err)
			}
		}
	}
}

func (r *Refresher) enqueue(k Key) {
	r.mu.Lock()
	r.pending[k] = struct{}{}
	r.mu.Unlock()
}

// drainTriggers coalesces a burst of triggers into one pass.
func (r *Refresher) drainTriggers() {
	for {
		select {
		case k := <-r.cache.Triggers():
			r.enqueue(k)
		default:
			return
		}
	}
}

func (r *Refresher) takePending() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]Key, 0, len(r.pending))
	for k := range r.pending {
		keys = append(keys, k)
	}
	r.pending = make(map[Key]struct{})
	return keys
}

// RefreshAll refreshes seed keys, cached keys and any pending triggers.
func (r *Refresher) RefreshAll(ctx context.Context) (RefreshResult, error) {
	r.drainTriggers()
	set := make(map[Key]struct{})
	for _, k := range r.seed {
		set[k] = struct{}{}
	}
	for _, e := range r.cache.Entries() {
		set[e.Key] = struct{}{}
	}
	for _, k := range r.takePending() {
		set[k] = struct{}{}
	}
	keys := make([]Key, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return r.Refresh(ctx, keys)
}

// Refresh fetches keys from their provider source, merges successes and
// persists the snapshot. Keys without a source keep using the fallback.
func (r *Refresher) Refresh(ctx context.Context, keys []Key) (RefreshResult, error) {
	ctx, span := otel.Tracer("cloudwaste/pricing").Start(ctx, "Pricing.Refresh")
	defer span.End()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	var res RefreshResult
	var fresh []Entry
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return res, err
		}
		src, ok := r.sources[k.Provider]
		if !ok {
			res.Skipped++
			continue
		}
		q, err := fault.Do(ctx, r.retry, func(ctx context.Context) (Quote, error) {
			return src.FetchUnitPrice(ctx, k)
		}, nil)
		if err != nil {
			if errors.Is(err, ErrNoPrice) {
				res.Skipped++
			} else {
				res.Failed++
				r.logger.Debug("Price fetch failed", "key", k.String(), "error", err)
			}
			continue
		}
		now := r.cache.now()
		currency := q.Currency
		if currency == "" {
			currency = "USD"
		}
		fresh = append(fresh, Entry{
			Key:       k,
			Price:     q.Price,
			Unit:      q.Unit,
			Currency:  currency,
			Source:    SourceAPI,
			FetchedAt: now,
			ExpiresAt: now.Add(r.cache.TTL()),
		})
		res.Updated++
	}

	span.SetAttributes(
		attribute.Int("pricing.updated", res.Updated),
		attribute.Int("pricing.skipped", res.Skipped),
		attribute.Int("pricing.failed", res.Failed),
	)
	if len(fresh) == 0 {
		return res, nil
	}
	r.cache.Merge(fresh)
	r.logger.Info("Pricing refreshed", "updated", res.Updated, "skipped", res.Skipped, "failed", res.Failed)

	if r.store != nil {
		if err := r.cache.Save(ctx, r.store); err != nil {
			span.RecordError(err)
			return res, err
		}
	}
	return res, nil
}
