package cascade

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voxgov/internal/cache"
	"github.com/fyrsmithlabs/voxgov/internal/config"
	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/fyrsmithlabs/voxgov/internal/logging"
	"github.com/fyrsmithlabs/voxgov/internal/telemetry"
)

// ErrSourceNotRegistered is recorded when a descriptor names a source the
// registry cannot resolve.
var ErrSourceNotRegistered = errors.New("source not registered")

// errSourcePanic wraps a recovered panic value.
var errSourcePanic = errors.New("source panicked")

// CacheConfig sizes the cascade caches. Zero TTLs never expire.
type CacheConfig struct {
	Shards            int
	PlanTTL           time.Duration
	KeywordTTL        time.Duration
	ResultTTL         time.Duration
	ResultMaxEntries  int
	DefaultTimeout    time.Duration
	DefaultSafeAnswer string
}

// DefaultCacheConfig mirrors config.Default().Cascade.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Shards:            16,
		PlanTTL:           10 * time.Minute,
		KeywordTTL:        30 * time.Minute,
		ResultTTL:         2 * time.Minute,
		ResultMaxEntries:  10000,
		DefaultTimeout:    300 * time.Millisecond,
		DefaultSafeAnswer: DefaultSafeResponse,
	}
}

// CacheConfigFrom converts the daemon's cascade section.
func CacheConfigFrom(cfg config.CascadeConfig) CacheConfig {
	cc := CacheConfig{
		Shards:            cfg.CacheShards,
		PlanTTL:           cfg.SourceCacheTTL.Duration(),
		KeywordTTL:        cfg.KeywordIndexTTL.Duration(),
		ResultTTL:         cfg.QueryCacheTTL.Duration(),
		ResultMaxEntries:  cfg.QueryCacheEntries,
		DefaultTimeout:    cfg.SourceTimeout.Duration(),
		DefaultSafeAnswer: cfg.SafeResponse,
	}
	if cc.DefaultSafeAnswer == "" {
		cc.DefaultSafeAnswer = DefaultSafeResponse
	}
	return cc
}

// Option configures a Cascade.
type Option func(*Cascade)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Cascade) { c.logger = l.Named("cascade") }
}

// WithTracer sets the tracer used for run and attempt spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Cascade) { c.tracer = t }
}

// WithPostProcessors appends response post-processors, applied in order.
func WithPostProcessors(p ...PostProcessor) Option {
	return func(c *Cascade) { c.post = append(c.post, p...) }
}

// WithPicker sets how cached candidates with alternatives are re-phrased.
func WithPicker(p Picker) Option {
	return func(c *Cascade) { c.picker = p }
}

// WithCacheConfig replaces the default cache sizing.
func WithCacheConfig(cc CacheConfig) Option {
	return func(c *Cascade) { c.cfg = cc }
}

// Cascade runs ranked knowledge sources for a tenant. It is safe for
// concurrent use by many calls.
type Cascade struct {
	resolver Resolver
	registry *Registry
	cfg      CacheConfig

	plans    *cache.Sharded[[]governance.SourceDescriptor]
	keywords *cache.Sharded[keywordIndex]
	results  *cache.Sharded[Candidate]

	post    []PostProcessor
	picker  Picker
	logger  *logging.Logger
	tracer  trace.Tracer
	metrics *Metrics
}

// New builds a cascade resolving descriptors through resolver and
// implementations through registry. Its caches are process-wide; build
// one cascade at startup.
func New(resolver Resolver, registry *Registry, opts ...Option) *Cascade {
	c := &Cascade{
		resolver: resolver,
		registry: registry,
		cfg:      DefaultCacheConfig(),
		logger:   logging.Nop(),
		tracer:   otel.Tracer("voxgov/cascade"),
		metrics:  NewMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.DefaultSafeAnswer == "" {
		c.cfg.DefaultSafeAnswer = DefaultSafeResponse
	}
	c.plans = cache.New[[]governance.SourceDescriptor](cache.Options{
		Name: "source_plan", Shards: c.cfg.Shards, TTL: c.cfg.PlanTTL,
	})
	c.keywords = cache.New[keywordIndex](cache.Options{
		Name: "keyword_index", Shards: c.cfg.Shards, TTL: c.cfg.KeywordTTL,
	})
	c.results = cache.New[Candidate](cache.Options{
		Name: "query_result", Shards: c.cfg.Shards, TTL: c.cfg.ResultTTL, MaxEntries: c.cfg.ResultMaxEntries,
	})
	return c
}

// Run executes the cascade for req. It never returns an error and never
// panics; failures are expressed in the Outcome.
func (c *Cascade) Run(ctx context.Context, req Request) (out Outcome) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, telemetry.SpanCascade,
		trace.WithAttributes(telemetry.AttrTenant.String(req.TenantID)))
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(ctx, "cascade panicked", zap.Any("panic", r), zap.Stack("stack"))
			out = c.errorFallback(req, fmt.Errorf("cascade panic: %v", r))
		}
		out.Elapsed = time.Since(start)
		c.metrics.Outcomes.WithLabelValues(string(out.Status)).Inc()
		c.metrics.RunDuration.Observe(out.Elapsed.Seconds())
		span.SetAttributes(telemetry.AttrStatus.String(string(out.Status)))
		if out.Status == StatusErrorFallback {
			span.SetStatus(codes.Error, out.Error)
		}
		span.End()
	}()

	plan, err := c.plan(ctx, req.TenantID)
	if err != nil {
		c.logger.Error(ctx, "cannot resolve knowledge sources",
			zap.String("tenant_id", req.TenantID), zap.Error(err))
		return c.errorFallback(req, err)
	}

	out = Outcome{Status: StatusNoMatch, Attempts: make([]Attempt, 0, len(plan))}
	for _, desc := range plan {
		attempt, cand := c.attempt(ctx, req, desc)
		out.Attempts = append(out.Attempts, attempt)
		if attempt.Status != AttemptMatched {
			continue
		}
		out.Status = StatusMatched
		out.SourceID = desc.SourceID
		out.Confidence = cand.Confidence
		out.Metadata = cand.Metadata
		out.Response = c.postProcess(ctx, req, cand.Response)
		return out
	}
	c.logger.Debug(ctx, "cascade exhausted",
		zap.String("tenant_id", req.TenantID), zap.Int("attempts", len(out.Attempts)))
	return out
}

func (c *Cascade) errorFallback(req Request, err error) Outcome {
	resp := c.cfg.DefaultSafeAnswer
	if req.Style != nil && req.Style.SafeResponse != "" {
		resp = req.Style.SafeResponse
	}
	return Outcome{Status: StatusErrorFallback, Response: resp, Error: err.Error(), Attempts: []Attempt{}}
}

func (c *Cascade) postProcess(ctx context.Context, req Request, resp string) string {
	for _, p := range c.post {
		resp = p.Process(ctx, req, resp)
	}
	return resp
}

func (c *Cascade) plan(ctx context.Context, tenantID string) ([]governance.SourceDescriptor, error) {
	if plan, ok := c.plans.Get(tenantID); ok {
		return plan, nil
	}
	if c.resolver == nil {
		return nil, errors.New("no source resolver configured")
	}
	descs, err := c.resolver.Sources(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve sources for %s: %w", tenantID, err)
	}
	plan := make([]governance.SourceDescriptor, 0, len(descs))
	for _, d := range descs {
		if d.Enabled {
			plan = append(plan, d)
		}
	}
	sort.SliceStable(plan, func(i, j int) bool { return plan[i].Priority < plan[j].Priority })
	c.plans.Set(tenantID, plan)
	return plan, nil
}

func (c *Cascade) attempt(ctx context.Context, req Request, desc governance.SourceDescriptor) (Attempt, Candidate) {
	start := time.Now()
	a := Attempt{SourceID: desc.SourceID, Priority: desc.Priority, Threshold: desc.ConfidenceThreshold}
	ctx, span := c.tracer.Start(ctx, telemetry.SpanAttempt, trace.WithAttributes(
		telemetry.AttrTenant.String(req.TenantID),
		telemetry.AttrSource.String(desc.SourceID),
	))
	defer func() {
		a.Elapsed = time.Since(start)
		c.metrics.Attempts.WithLabelValues(string(a.Status)).Inc()
		c.metrics.AttemptDuration.WithLabelValues(string(a.Status)).Observe(a.Elapsed.Seconds())
		span.SetAttributes(
			telemetry.AttrStatus.String(string(a.Status)),
			attribute.Float64("voxgov.confidence", a.Confidence),
			attribute.Bool("voxgov.cached", a.Cached),
		)
		span.End()
	}()

	if req.Allow != nil && !req.Allow(desc) {
		a.Status = AttemptNotAllowed
		return a, Candidate{}
	}

	src, ok := c.registry.Lookup(req.TenantID, desc.SourceID)
	if !ok {
		c.fail(ctx, &a, ErrSourceNotRegistered)
		return a, Candidate{}
	}

	idx, err := c.keywordIndex(ctx, req.TenantID, desc, src)
	if err != nil {
		c.fail(ctx, &a, err)
		return a, Candidate{}
	}
	if !idx.overlaps(req.Query) {
		a.Status = AttemptSkippedPrefilter
		return a, Candidate{}
	}

	key := cache.Key(req.TenantID, desc.SourceID, NormalizeQuery(req.Query))
	cand, cached := c.results.Get(key)
	if !cached {
		cand, err = guard(ctx, c.timeout(desc), func(ctx context.Context) (Candidate, error) {
			return src.Query(ctx, req.Query)
		})
		if err != nil {
			c.fail(ctx, &a, err)
			return a, Candidate{}
		}
		c.results.Set(key, cand)
	} else if c.picker != nil && len(cand.Alternatives) > 1 {
		cand.Response = c.picker.Pick(cand.Alternatives)
	}
	a.Cached = cached
	a.Confidence = clamp01(cand.Confidence)
	if a.Confidence >= desc.ConfidenceThreshold {
		a.Status = AttemptMatched
		return a, cand
	}
	a.Status = AttemptBelowThreshold
	return a, Candidate{}
}

// fail records a source failure as a zero-confidence attempt.
func (c *Cascade) fail(ctx context.Context, a *Attempt, err error) {
	a.Confidence = 0
	a.Error = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		a.Status = AttemptTimeout
	case errors.Is(err, errSourcePanic):
		a.Status = AttemptPanic
	default:
		a.Status = AttemptError
	}
	c.logger.Warn(ctx, "knowledge source failed",
		zap.String("source_id", a.SourceID),
		zap.String("status", string(a.Status)),
		zap.Error(err))
}

func (c *Cascade) keywordIndex(ctx context.Context, tenantID string, desc governance.SourceDescriptor, src Source) (keywordIndex, error) {
	key := cache.Key(tenantID, desc.SourceID)
	if idx, ok := c.keywords.Get(key); ok {
		return idx, nil
	}
	kws, err := guard(ctx, c.timeout(desc), src.Keywords)
	if err != nil {
		return nil, fmt.Errorf("keyword index: %w", err)
	}
	idx := buildIndex(kws)
	c.keywords.Set(key, idx)
	return idx, nil
}

func (c *Cascade) timeout(desc governance.SourceDescriptor) time.Duration {
	if t := desc.Timeout(c.cfg.DefaultTimeout); t > 0 {
		return t
	}
	return DefaultCacheConfig().DefaultTimeout
}

type guarded[T any] struct {
	val T
	err error
}

// guard runs fn under a hard timeout and converts panics to errors. A
// source that ignores cancellation keeps its goroutine until it returns,
// but the caller is released when the deadline passes.
func guard[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan guarded[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- guarded[T]{err: fmt.Errorf("%w: %v", errSourcePanic, r)}
			}
		}()
		v, err := fn(ctx)
		done <- guarded[T]{val: v, err: err}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// InvalidateSource drops the keyword index and cached query results for
// one tenant source. Call it whenever the source's content changes.
func (c *Cascade) InvalidateSource(tenantID, sourceID string) {
	key := cache.Key(tenantID, sourceID)
	c.keywords.Delete(key)
	n := c.results.DeletePrefix(key + "\x1f")
	c.logger.Debug(context.Background(), "source invalidated",
		zap.String("tenant_id", tenantID), zap.String("source_id", sourceID), zap.Int("results_dropped", n))
}

// InvalidateTenant drops every cached entry for a tenant, including its
// resolved source plan.
func (c *Cascade) InvalidateTenant(tenantID string) {
	c.plans.Delete(tenantID)
	prefix := cache.Key(tenantID, "")
	c.keywords.DeletePrefix(prefix)
	c.results.DeletePrefix(prefix)
}

// InvalidateAll drops every cached plan, keyword index and result.
func (c *Cascade) InvalidateAll() {
	c.plans.Purge()
	c.keywords.Purge()
	c.results.Purge()
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
