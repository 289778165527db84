package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

// Store is the optional persistent tier behind the in-memory LRU.
type Store interface {
	GetCacheEntry(ctx context.Context, fingerprint string) (*entity.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry *entity.CacheEntry) error
	DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int, error)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Entries  int   `json:"entries"`
	InFlight int   `json:"in_flight"`
}

// Claim is the outcome of a non-blocking lookup.
type Claim struct {
	// Entry is set on a hit.
	Entry *entity.CacheEntry
	// Owner is true when the caller must compute the value and then call
	// Complete or Release.
	Owner bool
	// Wait is closed when the current owner completes or releases.
	Wait <-chan struct{}
}

type inflight struct {
	done chan struct{}
}

// ResultCache maps fingerprints to extraction payloads. Entries expire after
// their TTL and the least recently used ones are evicted beyond maxEntries.
// Concurrent misses for one fingerprint are collapsed onto a single owner.
type ResultCache struct {
	mu       sync.Mutex
	entries  *lru.Cache[string, *entity.CacheEntry]
	inflight map[string]*inflight

	ttl    time.Duration
	store  Store
	now    func() time.Time
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	writes sync.WaitGroup
}

const storeWriteTimeout = 5 * time.Second

type Option func(*ResultCache)

func WithTTL(d time.Duration) Option {
	return func(c *ResultCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithStore(s Store) Option {
	return func(c *ResultCache) {
		c.store = s
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(maxEntries int, logger *slog.Logger, opts ...Option) (*ResultCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	entries, err := lru.New[string, *entity.CacheEntry](maxEntries)
	if err != nil {
		return nil, err
	}
	c := &ResultCache{
		entries:  entries,
		inflight: make(map[string]*inflight),
		ttl:      24 * time.Hour,
		now:      time.Now,
		logger:   logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Get returns a copy of the live entry for fingerprint, consulting the
// persistent store on a memory miss.
func (c *ResultCache) Get(ctx context.Context, fingerprint string) (*entity.CacheEntry, bool) {
	c.mu.Lock()
	e := c.lookupLocked(fingerprint)
	c.mu.Unlock()
	if e == nil {
		e = c.loadFromStore(ctx, fingerprint)
	}
	if e == nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e, true
}

// Put stores payload under fingerprint in memory and in the persistent
// store. A non-positive ttl uses the default.
func (c *ResultCache) Put(ctx context.Context, fingerprint string, payload json.RawMessage, model string, ttl time.Duration) {
	c.persist(ctx, c.remember(fingerprint, payload, model, ttl))
}

// remember adds an entry to the memory tier and returns a private copy of it.
func (c *ResultCache) remember(fingerprint string, payload json.RawMessage, model string, ttl time.Duration) *entity.CacheEntry {
	if ttl <= 0 {
		ttl = c.ttl
	}
	e := &entity.CacheEntry{
		Fingerprint: fingerprint,
		Payload:     append(json.RawMessage(nil), payload...),
		Model:       model,
		CreatedAt:   c.now(),
		TTL:         ttl,
	}
	snapshot := *e
	c.mu.Lock()
	c.entries.Add(fingerprint, e)
	c.mu.Unlock()
	return &snapshot
}

func (c *ResultCache) persist(ctx context.Context, e *entity.CacheEntry) {
	if c.store == nil {
		return
	}
	if err := c.store.PutCacheEntry(ctx, e); err != nil {
		c.logger.Warn("cache.store.put_failed", "fingerprint", short(e.Fingerprint), "error", err)
	}
}

// Claim resolves fingerprint without blocking. On a miss with no computation
// in flight the caller becomes owner; otherwise it gets a channel to wait on.
func (c *ResultCache) Claim(ctx context.Context, fingerprint string) Claim {
	c.mu.Lock()
	if e := c.lookupLocked(fingerprint); e != nil {
		c.mu.Unlock()
		c.hits.Add(1)
		return Claim{Entry: e}
	}
	if f, busy := c.inflight[fingerprint]; busy {
		c.mu.Unlock()
		return Claim{Wait: f.done}
	}
	c.inflight[fingerprint] = &inflight{done: make(chan struct{})}
	c.mu.Unlock()

	if e := c.loadFromStore(ctx, fingerprint); e != nil {
		c.release(fingerprint)
		c.hits.Add(1)
		return Claim{Entry: e}
	}
	c.misses.Add(1)
	return Claim{Owner: true}
}

// Acquire is the blocking form of Claim: it waits for in-flight owners and
// returns either a hit or ownership.
func (c *ResultCache) Acquire(ctx context.Context, fingerprint string) (Claim, error) {
	for {
		cl := c.Claim(ctx, fingerprint)
		if cl.Wait == nil {
			return cl, nil
		}
		select {
		case <-cl.Wait:
		case <-ctx.Done():
			return Claim{}, ctx.Err()
		}
	}
}

// Complete populates the memory tier and wakes waiters. The persistent
// store is written in the background; Flush waits for those writes.
func (c *ResultCache) Complete(fingerprint string, payload json.RawMessage, model string, ttl time.Duration) {
	e := c.remember(fingerprint, payload, model, ttl)
	c.release(fingerprint)
	if c.store == nil {
		return
	}
	c.writes.Add(1)
	go func() {
		defer c.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
		defer cancel()
		c.persist(ctx, e)
	}()
}

// Flush blocks until background store writes have finished.
func (c *ResultCache) Flush() {
	c.writes.Wait()
}

// Release drops ownership without populating, so a waiter can take over.
func (c *ResultCache) Release(fingerprint string) {
	c.release(fingerprint)
}

func (c *ResultCache) release(fingerprint string) {
	c.mu.Lock()
	f, ok := c.inflight[fingerprint]
	if ok {
		delete(c.inflight, fingerprint)
	}
	c.mu.Unlock()
	if ok {
		close(f.done)
	}
}

// Sweep removes expired entries from memory and the persistent store.
func (c *ResultCache) Sweep(ctx context.Context) (int, error) {
	now := c.now()
	removed := 0
	c.mu.Lock()
	for _, k := range c.entries.Keys() {
		if e, ok := c.entries.Peek(k); ok && e.Expired(now) {
			c.entries.Remove(k)
			removed++
		}
	}
	c.mu.Unlock()

	if c.store != nil {
		n, err := c.store.DeleteExpiredCacheEntries(ctx, now)
		if err != nil {
			return removed, common.WrapError(err, "sweep cache store")
		}
		removed += n
	}
	if removed > 0 {
		c.logger.Info("cache.sweep", "removed", removed)
	}
	return removed, nil
}

func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Entries:  c.entries.Len(),
		InFlight: len(c.inflight),
	}
}

// lookupLocked returns a copy of a live entry and bumps its hit count.
func (c *ResultCache) lookupLocked(fingerprint string) *entity.CacheEntry {
	e, ok := c.entries.Get(fingerprint)
	if !ok {
		return nil
	}
	if e.Expired(c.now()) {
		c.entries.Remove(fingerprint)
		return nil
	}
	e.HitCount++
	cp := *e
	return &cp
}

func (c *ResultCache) loadFromStore(ctx context.Context, fingerprint string) *entity.CacheEntry {
	if c.store == nil {
		return nil
	}
	e, err := c.store.GetCacheEntry(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			c.logger.Warn("cache.store.get_failed", "fingerprint", short(fingerprint), "error", err)
		}
		return nil
	}
	if e.Expired(c.now()) {
		return nil
	}
	e.HitCount++
	c.mu.Lock()
	c.entries.Add(fingerprint, e)
	c.mu.Unlock()
	cp := *e
	return &cp
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
