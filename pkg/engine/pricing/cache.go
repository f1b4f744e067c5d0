package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
	"github.com/surpriz/cloud-waste-sub010/pkg/resource"
	"github.com/surpriz/cloud-waste-sub010/pkg/storage"
)

// SnapshotKey is the blob key of the persisted cache.
const SnapshotKey = "pricing/snapshot.json"

type snapshot struct {
	entries map[Key]Entry
}

// Cache is read lock-free by scan workers. Writers build a new snapshot and
// swap it in.
type Cache struct {
	snap     atomic.Pointer[snapshot]
	writeMu  sync.Mutex
	fallback Table
	ttl      time.Duration
	now      func() time.Time
	trigger  chan Key
	logger   *slog.Logger
}

type Option func(*Cache)

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithFallback(t Table) Option {
	return func(c *Cache) { c.fallback = t }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache returns an empty cache. Every lookup falls back until the
// Refresher or Load populates it.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		fallback: DefaultTable(),
		ttl:      config.DefaultPricingTTL,
		now:      time.Now,
		trigger:  make(chan Key, 256),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snap.Store(&snapshot{entries: map[Key]Entry{}})
	return c
}

// TTL is the lifetime given to refreshed entries.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Fallback exposes the static table.
func (c *Cache) Fallback() Table { return c.fallback }

// Validate is the startup self-check: every registered resource type must be
// priceable without the API.
func (c *Cache) Validate() error {
	return c.fallback.Validate(resource.All())
}

// Lookup never fails. Order: fresh API entry, fallback for the exact service,
// fallback for the base service, stale API entry, zero. Anything but a fresh
// entry requests a refresh.
func (c *Cache) Lookup(k Key) Entry {
	now := c.now()
	cached, ok := c.snap.Load().entries[k]
	if ok && cached.Fresh(now) {
		return cached
	}
	c.requestRefresh(k)

	if fp, ok := c.fallback.lookup(k); ok {
		return Entry{
			Key:      k,
			Price:    fp.Price,
			Unit:     fp.Unit,
			Currency: "USD",
			Source:   SourceFallback,
		}
	}
	if ok {
		c.logger.Warn("Using stale price, no fallback", "key", k.String(), "expired_at", cached.ExpiresAt)
		return cached
	}
	c.logger.Error("No price for key", "key", k.String())
	return Entry{Key: k, Currency: "USD", Source: SourceFallback, Unit: UnitMonth}
}

// requestRefresh never blocks; a full queue drops the request.
func (c *Cache) requestRefresh(k Key) {
	select {
	case c.trigger <- k:
	default:
	}
}

// Triggers delivers keys looked up while missing or expired.
func (c *Cache) Triggers() <-chan Key { return c.trigger }

// Merge adds or replaces entries and publishes a new snapshot.
func (c *Cache) Merge(entries []Entry) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	old := c.snap.Load().entries
	next := make(map[Key]Entry, len(old)+len(entries))
	for k, e := range old {
		next[k] = e
	}
	for _, e := range entries {
		next[e.Key] = e
	}
	c.snap.Store(&snapshot{entries: next})
}

// Entries returns the cached API entries in stable order.
func (c *Cache) Entries() []Entry {
	m := c.snap.Load().entries
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

type snapshotFile struct {
	SavedAt time.Time `json:"saved_at"`
	Entries []Entry   `json:"entries"`
}

// Save writes the snapshot to the blob store.
func (c *Cache) Save(ctx context.Context, store storage.BlobStore) error {
	data, err := json.MarshalIndent(snapshotFile{SavedAt: c.now().UTC(), Entries: c.Entries()}, "", "  ")
	if err != nil {
		return err
	}
	if err := store.Put(ctx, SnapshotKey, data); err != nil {
		return fmt.Errorf("save pricing snapshot: %w", err)
	}
	return nil
}

// Load merges a persisted snapshot. Entries keep their expiry, so an old file
// yields stale entries that fall back. A missing snapshot is not an error.
func (c *Cache) Load(ctx context.Context, store storage.BlobStore) (int, error) {
	data, err := store.Get(ctx, SnapshotKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load pricing snapshot: %w", err)
	}
	var f snapshotFile
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("decode pricing snapshot: %w", err)
	}
	valid := f.Entries[:0]
	for _, e := range f.Entries {
		if e.Source == SourceAPI && e.Price >= 0 {
			valid = append(valid, e)
		}
	}
	c.Merge(valid)
	c.logger.Info("Loaded pricing snapshot", "entries", len(valid), "saved_at", f.SavedAt)
	return len(valid), nil
}
