// Package cache holds an in-process, read-mostly snapshot of Policy
// definitions, refreshed from static configuration and a Repository on a
// timer and on demand.
//
//	c := cache.New(repo, cache.WithConfiguredPolicies(staticPolicies),
//		cache.WithReloadInterval(30*time.Second))
//	c.Initialize(ctx)
//	p, ok := c.GetPolicy("checkout")
package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rohanverma/ratelimitd/policy"
	"github.com/rohanverma/ratelimitd/repository"
)

// Option configures a Cache.
type Option func(*cacheConfig)

type cacheConfig struct {
	reloadInterval     time.Duration
	warmOnStartup      bool
	configuredPolicies []policy.Policy
	logger             zerolog.Logger
}

// WithReloadInterval sets the period of the background refresh timer.
// A value <= 0 disables the timer; refreshes then happen only via
// Initialize and TriggerRefresh.
func WithReloadInterval(d time.Duration) Option {
	return func(c *cacheConfig) { c.reloadInterval = d }
}

// WithWarmOnStartup makes Initialize block on the first refresh instead of
// installing an empty snapshot and refreshing in the background.
func WithWarmOnStartup(warm bool) Option {
	return func(c *cacheConfig) { c.warmOnStartup = warm }
}

// WithConfiguredPolicies supplies the statically configured policies.
// Repository-sourced entries with the same name overwrite these on merge.
func WithConfiguredPolicies(policies []policy.Policy) Option {
	return func(c *cacheConfig) { c.configuredPolicies = policies }
}

// WithLogger sets the logger used for skipped-entry and refresh-failure
// messages. Defaults to a disabled logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *cacheConfig) { c.logger = logger }
}

// Cache holds an immutable mapping from policy name (case-insensitive) to
// Policy, atomically swapped on each successful refresh.
type Cache struct {
	repo   repository.Repository
	config cacheConfig

	snapshot   atomic.Pointer[map[string]policy.Policy]
	refreshing atomic.Bool

	mu           sync.Mutex
	lastRefresh  time.Time
	lastErr      error
	refreshCount int64

	closeCh chan struct{}
	closed  bool
}

// New creates a Cache backed by repo (may be nil if only configured
// policies are used).
func New(repo repository.Repository, opts ...Option) *Cache {
	cfg := cacheConfig{
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Cache{
		repo:    repo,
		config:  cfg,
		closeCh: make(chan struct{}),
	}
	empty := make(map[string]policy.Policy)
	c.snapshot.Store(&empty)
	return c
}

// Initialize performs the first refresh and starts the background reload
// timer. If WithWarmOnStartup was set, the first refresh is blocking and
// its error is returned; otherwise an empty snapshot is already installed
// and the first refresh runs in the background.
func (c *Cache) Initialize(ctx context.Context) error {
	var err error
	if c.config.warmOnStartup {
		err = c.refresh(ctx)
	} else {
		go func() { _ = c.refresh(context.Background()) }()
	}

	if c.config.reloadInterval > 0 {
		go c.reloadLoop()
	}
	return err
}

func (c *Cache) reloadLoop() {
	ticker := time.NewTicker(c.config.reloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = c.refresh(context.Background())
		case <-c.closeCh:
			return
		}
	}
}

// TriggerRefresh requests an out-of-band refresh, e.g. on an observed
// configuration change. Coalesced with any refresh already in flight.
func (c *Cache) TriggerRefresh(ctx context.Context) error {
	return c.refresh(ctx)
}

// refresh merges configured and repository policies and swaps the
// snapshot. At most one refresh runs at a time: a concurrent caller that
// loses the try-acquire returns nil immediately rather than queuing.
func (c *Cache) refresh(ctx context.Context) error {
	if !c.refreshing.CompareAndSwap(false, true) {
		return nil
	}
	defer c.refreshing.Store(false)

	next := make(map[string]policy.Policy, len(c.config.configuredPolicies))
	for _, p := range c.config.configuredPolicies {
		c.insertIfValid(next, p, "configured")
	}

	var refreshErr error
	if c.repo != nil {
		repoPolicies, err := c.repo.GetPolicies(ctx)
		if err != nil {
			refreshErr = &repository.RepositoryError{Err: err}
			c.config.logger.Warn().Err(refreshErr).Msg("cache: repository refresh failed, keeping previous snapshot")
			c.recordRefresh(refreshErr)
			return refreshErr
		}
		for _, p := range repoPolicies {
			c.insertIfValid(next, p, "repository")
		}
	}

	c.snapshot.Store(&next)
	c.recordRefresh(nil)
	return nil
}

func (c *Cache) insertIfValid(dst map[string]policy.Policy, p policy.Policy, source string) {
	if err := p.Validate(); err != nil {
		c.config.logger.Error().Err(err).Str("source", source).Str("policy", p.PolicyName).
			Msg("cache: skipping invalid policy")
		return
	}
	dst[strings.ToLower(p.PolicyName)] = p.WithResolvedDefaults()
}

func (c *Cache) recordRefresh(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRefresh = time.Now()
	c.lastErr = err
	c.refreshCount++
}

// GetPolicy returns the policy named name (case-insensitive), or
// (zero-value, false) if absent. Never blocks.
func (c *Cache) GetPolicy(name string) (policy.Policy, bool) {
	snap := *c.snapshot.Load()
	p, ok := snap[strings.ToLower(name)]
	return p, ok
}

// SnapshotPolicies returns the currently published mapping. The returned
// map must be treated as read-only; callers that need to hold it across a
// later cache swap will keep seeing this snapshot's contents.
func (c *Cache) SnapshotPolicies() map[string]policy.Policy {
	return *c.snapshot.Load()
}

// Stats reports point-in-time cache diagnostics.
type Stats struct {
	PolicyCount  int
	LastRefresh  time.Time
	LastErr      error
	RefreshCount int64
}

// Stats returns a snapshot of cache diagnostics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		PolicyCount:  len(*c.snapshot.Load()),
		LastRefresh:  c.lastRefresh,
		LastErr:      c.lastErr,
		RefreshCount: c.refreshCount,
	}
}

// Close stops the background reload timer.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closeCh)
	}
}
