// Package config defines the external configuration record for a
// rate-limiting deployment: where shared state lives, which policies are
// statically configured, and how often they are refreshed.
//
// Loading these values from a file, environment, or flag set is explicitly
// out of scope; callers populate a Config however suits their deployment
// (flags, a YAML loader, a secrets manager) and pass it to their own wiring
// code. This package only defines the record, its defaults, and the
// Source contract a dynamic configuration provider can implement to push
// change notifications.
package config

import (
	"time"

	"github.com/rohanverma/ratelimitd/policy"
)

// RedisConfig describes the shared Redis backend used by store/redis.
type RedisConfig struct {
	// ConnectionString is a redis:// or rediss:// URL understood by
	// redis.ParseURL. Required when Redis is the evaluator backend.
	ConnectionString string

	// KeyPrefix is prepended to every composed storage key.
	// Default: "ratelimitd".
	KeyPrefix string

	// KeyTTL bounds how long a key's state survives without further
	// requests. Should exceed the widest policy Window in use. The
	// coordinator does not read this field: it sets a per-evaluation TTL
	// of 2x the policy Window.
	KeyTTL time.Duration

	// Database selects the logical Redis database index (SELECT N).
	// Default: 0.
	Database int
}

// PostgresConfig describes the shared Postgres connection used by
// repository/postgres and audit/postgres.
type PostgresConfig struct {
	// ConnectionString is a postgres:// URL or libpq keyword/value string
	// understood by pgxpool.ParseConfig.
	ConnectionString string

	// MaxConns bounds the pgxpool connection pool size.
	// Default: 0, which defers to pgxpool's own default.
	MaxConns int32
}

// SlidingWindowConfig controls the observability-only sliding window
// counter a coordinator maintains per policy, independent of that policy's
// enforcement algorithm.
type SlidingWindowConfig struct {
	// Enabled records whether sliding-window sampling is wanted. The
	// coordinator does not read it; it samples exactly the policies whose
	// Policy.SlidingWindowMetricsEnabled is set.
	Enabled bool

	// Window is the lookback duration for rate/hit sampling.
	// Default: time.Minute. The coordinator does not read it; it sizes
	// each policy's counter to that policy's Window.
	Window time.Duration

	// Buckets is the number of ring-buffer buckets the window is divided
	// into. Higher values trade memory for smoother rate estimates.
	// Default: 60.
	Buckets int
}

// Config is the full set of external inputs a deployment supplies to wire
// up a Coordinator. Zero value is not directly usable; build one with New.
type Config struct {
	Redis    RedisConfig
	Postgres PostgresConfig

	// Policies are statically configured rate limit policies, merged with
	// any Repository-sourced policies at cache refresh time (repository
	// entries win on name collision).
	Policies []policy.Policy

	// PolicyReloadInterval is the period of the policy cache's background
	// refresh timer. A value <= 0 disables the timer.
	// Default: 30 * time.Second.
	PolicyReloadInterval time.Duration

	// WarmPoliciesOnStartup makes the policy cache block on its first
	// refresh during Initialize instead of warming in the background.
	WarmPoliciesOnStartup bool

	// AuditLoggingEnabled turns on best-effort audit insertion for denied
	// decisions. When false, no audit.Sink is wired into the coordinator.
	AuditLoggingEnabled bool

	SlidingWindow SlidingWindowConfig
}

// Option is a functional option for New.
type Option func(*Config)

// WithRedis sets the Redis backend configuration.
func WithRedis(r RedisConfig) Option {
	return func(c *Config) { c.Redis = r }
}

// WithPostgres sets the Postgres backend configuration.
func WithPostgres(p PostgresConfig) Option {
	return func(c *Config) { c.Postgres = p }
}

// WithPolicies sets the statically configured policies.
func WithPolicies(policies []policy.Policy) Option {
	return func(c *Config) { c.Policies = policies }
}

// WithPolicyReloadInterval overrides the cache refresh period.
func WithPolicyReloadInterval(d time.Duration) Option {
	return func(c *Config) { c.PolicyReloadInterval = d }
}

// WithWarmPoliciesOnStartup controls whether Initialize blocks on the
// first refresh.
func WithWarmPoliciesOnStartup(warm bool) Option {
	return func(c *Config) { c.WarmPoliciesOnStartup = warm }
}

// WithAuditLoggingEnabled turns audit insertion on or off.
func WithAuditLoggingEnabled(enabled bool) Option {
	return func(c *Config) { c.AuditLoggingEnabled = enabled }
}

// WithSlidingWindow sets the sliding-window observability configuration.
func WithSlidingWindow(s SlidingWindowConfig) Option {
	return func(c *Config) { c.SlidingWindow = s }
}

// New builds a Config with sensible defaults, then applies opts.
func New(opts ...Option) Config {
	c := Config{
		Redis: RedisConfig{
			KeyPrefix: "ratelimitd",
			KeyTTL:    5 * time.Minute,
		},
		PolicyReloadInterval: 30 * time.Second,
		SlidingWindow: SlidingWindowConfig{
			Window:  time.Minute,
			Buckets: 60,
		},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// ChangeFunc is invoked by a Source when the external configuration it
// watches changes. Implementations of Source call it with the freshly
// loaded Config; the receiver is responsible for applying it (e.g. by
// calling cache.TriggerRefresh or rebuilding a Coordinator).
type ChangeFunc func(Config)

// Source is the contract a dynamic configuration provider implements to
// push change notifications. This package ships no concrete Source: file
// watching, environment polling, and remote config services are all
// deployment-specific and explicitly out of scope here.
type Source interface {
	// Watch registers onChange to be called whenever the source observes
	// a new Config. Watch returns a function that stops the watch and
	// releases any associated resources.
	Watch(onChange ChangeFunc) (stop func(), err error)
}
