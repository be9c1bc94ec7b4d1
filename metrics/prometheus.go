// Package metrics provides Prometheus instrumentation for the coordinator.
//
// Wrap a *ratelimitd.Coordinator to automatically record admission counts,
// evaluation latency, and backend errors:
//
//	collector := metrics.NewCollector()
//	coordinator := ratelimitd.NewCoordinator(policyCache, redisStore)
//	instrumented := metrics.Wrap(coordinator, collector)
//
// All metrics are partitioned by policy name. Request counts carry an
// additional "decision" label (allowed / denied).
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	ratelimitd "github.com/rohanverma/ratelimitd"
)

// Collector holds Prometheus metric vectors for coordinator instrumentation.
type Collector struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

type collectorConfig struct {
	namespace string
	subsystem string
	registry  prometheus.Registerer
	buckets   []float64
}

// CollectorOption configures a Collector.
type CollectorOption func(*collectorConfig)

// WithNamespace sets the Prometheus metric namespace (prefix).
func WithNamespace(ns string) CollectorOption {
	return func(c *collectorConfig) { c.namespace = ns }
}

// WithSubsystem sets the Prometheus metric subsystem.
func WithSubsystem(sub string) CollectorOption {
	return func(c *collectorConfig) { c.subsystem = sub }
}

// WithRegistry registers metrics with the given Registerer instead of
// prometheus.DefaultRegisterer.
func WithRegistry(r prometheus.Registerer) CollectorOption {
	return func(c *collectorConfig) { c.registry = r }
}

// WithBuckets sets custom histogram buckets for evaluation duration.
func WithBuckets(b []float64) CollectorOption {
	return func(c *collectorConfig) { c.buckets = b }
}

var defaultBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}

// NewCollector creates a Collector and registers its metrics.
//
// Metrics registered:
//   - {namespace}_requests_total        counter   (policy, decision)
//   - {namespace}_request_duration_seconds  histogram (policy)
//   - {namespace}_errors_total          counter   (policy)
//
// Default namespace is "ratelimit".
func NewCollector(opts ...CollectorOption) *Collector {
	cfg := &collectorConfig{
		namespace: "ratelimit",
		registry:  prometheus.DefaultRegisterer,
		buckets:   defaultBuckets,
	}
	for _, o := range opts {
		o(cfg)
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "requests_total",
		Help:      "Total rate limit checks partitioned by policy and decision.",
	}, []string{"policy", "decision"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "request_duration_seconds",
		Help:      "Latency of ShouldAllowN evaluations in seconds.",
		Buckets:   cfg.buckets,
	}, []string{"policy"})

	errors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "errors_total",
		Help:      "Total coordinator evaluation errors (unknown policy, invalid request, cancelled context).",
	}, []string{"policy"})

	cfg.registry.MustRegister(requests, duration, errors)

	return &Collector{
		requests: requests,
		duration: duration,
		errors:   errors,
	}
}

// InstrumentedCoordinator wraps a *ratelimitd.Coordinator, recording
// Prometheus metrics for every ShouldAllow/ShouldAllowN call.
type InstrumentedCoordinator struct {
	inner     *ratelimitd.Coordinator
	collector *Collector
}

// Wrap returns an InstrumentedCoordinator delegating to coordinator while
// recording metrics partitioned by the request's policy name.
func Wrap(coordinator *ratelimitd.Coordinator, collector *Collector) *InstrumentedCoordinator {
	return &InstrumentedCoordinator{inner: coordinator, collector: collector}
}

// ShouldAllow records metrics around an admission decision for req.Tokens;
// it is equivalent to ShouldAllowN.
func (c *InstrumentedCoordinator) ShouldAllow(ctx context.Context, req ratelimitd.Request) (ratelimitd.Decision, error) {
	return c.ShouldAllowN(ctx, req)
}

// ShouldAllowN records metrics around an admission decision for req.Tokens
// tokens, then delegates to the wrapped coordinator.
func (c *InstrumentedCoordinator) ShouldAllowN(ctx context.Context, req ratelimitd.Request) (ratelimitd.Decision, error) {
	start := time.Now()
	decision, err := c.inner.ShouldAllowN(ctx, req)
	c.collector.duration.WithLabelValues(req.PolicyName).Observe(time.Since(start).Seconds())

	if err != nil {
		c.collector.errors.WithLabelValues(req.PolicyName).Inc()
		return decision, err
	}

	label := "denied"
	if decision.IsAllowed {
		label = "allowed"
	}
	c.collector.requests.WithLabelValues(req.PolicyName, label).Inc()
	return decision, nil
}

// Reset delegates to the wrapped coordinator without recording metrics.
func (c *InstrumentedCoordinator) Reset(ctx context.Context, policyName string, identity ratelimitd.Identity) error {
	return c.inner.Reset(ctx, policyName, identity)
}
