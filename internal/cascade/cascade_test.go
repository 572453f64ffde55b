package cascade

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/fyrsmithlabs/voxgov/internal/logging"
	"github.com/fyrsmithlabs/voxgov/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	keywords   []string
	keywordErr error
	confidence float64
	response   string
	alts       []string
	err        error
	block      bool
	panics     bool

	queries  atomic.Int32
	keywordN atomic.Int32
}

func (f *fakeSource) Keywords(context.Context) ([]string, error) {
	f.keywordN.Add(1)
	return f.keywords, f.keywordErr
}

func (f *fakeSource) Query(ctx context.Context, q string) (Candidate, error) {
	f.queries.Add(1)
	if f.panics {
		panic("index corrupted")
	}
	if f.block {
		<-ctx.Done()
		return Candidate{}, ctx.Err()
	}
	if f.err != nil {
		return Candidate{}, f.err
	}
	return Candidate{Confidence: f.confidence, Response: f.response, Alternatives: f.alts, Metadata: map[string]string{"q": q}}, nil
}

type staticResolver struct {
	sources []governance.SourceDescriptor
	err     error
	calls   atomic.Int32
}

func (r *staticResolver) Sources(context.Context, string) ([]governance.SourceDescriptor, error) {
	r.calls.Add(1)
	return r.sources, r.err
}

// testCacheConfig uses non-expiring caches so no janitor goroutines run.
func testCacheConfig() CacheConfig {
	cc := DefaultCacheConfig()
	cc.PlanTTL, cc.KeywordTTL, cc.ResultTTL = 0, 0, 0
	cc.Shards = 4
	return cc
}

func newTestCascade(t *testing.T, res Resolver, reg *Registry, opts ...Option) *Cascade {
	t.Helper()
	base := []Option{WithCacheConfig(testCacheConfig())}
	return New(res, reg, append(base, opts...)...)
}

func desc(id string, priority int, threshold float64) governance.SourceDescriptor {
	return governance.SourceDescriptor{SourceID: id, Priority: priority, ConfidenceThreshold: threshold, Enabled: true}
}

func TestRun_FirstSourceClearingItsOwnThresholdWins(t *testing.T) {
	reg := NewRegistry()
	s1 := &fakeSource{keywords: []string{"hours"}, confidence: 0.6, response: "from S1"}
	s2 := &fakeSource{keywords: []string{"hours"}, confidence: 0.7, response: "from S2"}
	reg.Register("acme", "S1", s1)
	reg.Register("acme", "S2", s2)

	res := &staticResolver{sources: []governance.SourceDescriptor{desc("S1", 1, 0.8), desc("S2", 2, 0.5)}}
	out := newTestCascade(t, res, reg).Run(context.Background(), Request{TenantID: "acme", Query: "what are your hours"})

	require.Equal(t, StatusMatched, out.Status)
	assert.Equal(t, "S2", out.SourceID)
	assert.Equal(t, "from S2", out.Response)
	assert.InDelta(t, 0.7, out.Confidence, 1e-9)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, AttemptBelowThreshold, out.Attempts[0].Status)
	assert.InDelta(t, 0.6, out.Attempts[0].Confidence, 1e-9)
	assert.Equal(t, AttemptMatched, out.Attempts[1].Status)
}

func TestRun_SortsByPriorityStably(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"a", "b", "c", "d"} {
		reg.Register("", id, &fakeSource{keywords: []string{"parking"}, confidence: 0.1})
	}
	res := &staticResolver{sources: []governance.SourceDescriptor{
		desc("c", 2, 0.9), desc("a", 1, 0.9), desc("d", 2, 0.9), desc("b", 1, 0.9),
	}}
	out := newTestCascade(t, res, reg).Run(context.Background(), Request{TenantID: "acme", Query: "parking"})

	var order []string
	for _, a := range out.Attempts {
		order = append(order, a.SourceID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestRun_ExhaustionTracesEveryEnabledSource(t *testing.T) {
	reg := NewRegistry()
	reg.Register("acme", "faq", &fakeSource{keywords: []string{"insurance"}, confidence: 0.4})
	reg.Register("acme", "kb", &fakeSource{keywords: []string{"insurance"}, confidence: 0.2})
	reg.Register("acme", "off", &fakeSource{keywords: []string{"insurance"}, confidence: 1})
	off := desc("off", 1, 0.1)
	off.Enabled = false
	res := &staticResolver{sources: []governance.SourceDescriptor{desc("faq", 1, 0.8), desc("kb", 2, 0.8), off}}

	out := newTestCascade(t, res, reg).Run(context.Background(), Request{TenantID: "acme", Query: "do you take insurance"})

	assert.Equal(t, StatusNoMatch, out.Status)
	assert.Empty(t, out.Response)
	require.Len(t, out.Attempts, 2)
	for _, a := range out.Attempts {
		assert.GreaterOrEqual(t, a.Elapsed, time.Duration(0))
		assert.Equal(t, AttemptBelowThreshold, a.Status)
		assert.NotEqual(t, "off", a.SourceID)
	}
}

func TestRun_EmptyKeywordIndexSkipsQuery(t *testing.T) {
	reg := NewRegistry()
	empty := &fakeSource{confidence: 1, response: "never"}
	reg.Register("acme", "empty", empty)
	res := &staticResolver{sources: []governance.SourceDescriptor{desc("empty", 1, 0.1)}}

	out := newTestCascade(t, res, reg).Run(context.Background(), Request{TenantID: "acme", Query: "anything at all"})

	assert.Equal(t, StatusNoMatch, out.Status)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, AttemptSkippedPrefilter, out.Attempts[0].Status)
	assert.Zero(t, empty.queries.Load())
}

func TestRun_NoOverlapSkipsQuery(t *testing.T) {
	reg := NewRegistry()
	src := &fakeSource{keywords: []string{"whitening", "the"}, confidence: 1}
	reg.Register("acme", "s", src)
	res := &staticResolver{sources: []governance.SourceDescriptor{desc("s", 1, 0.1)}}

	out := newTestCascade(t, res, reg).Run(context.Background(), Request{TenantID: "acme", Query: "the parking lot"})

	assert.Equal(t, AttemptSkippedPrefilter, out.Attempts[0].Status)
	assert.Zero(t, src.queries.Load())
}

func TestRun_SourceFailuresAreZeroConfidenceAndContinue(t *testing.T) {
	tests := []struct {
		name   string
		broken *fakeSource
		want   AttemptStatus
	}{
		{"error", &fakeSource{keywords: []string{"cost"}, err: errors.New("upstream 503")}, AttemptError},
		{"timeout", &fakeSource{keywords: []string{"cost"}, block: true}, AttemptTimeout},
		{"panic", &fakeSource{keywords: []string{"cost"}, panics: true}, AttemptPanic},
		{"keyword error", &fakeSource{keywordErr: errors.New("index unavailable")}, AttemptError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			reg.Register("acme", "broken", tt.broken)
			reg.Register("acme", "good", &fakeSource{keywords: []string{"cost"}, confidence: 0.9, response: "It's $120."})
			broken := desc("broken", 1, 0.5)
			broken.TimeoutMS = 20
			res := &staticResolver{sources: []governance.SourceDescriptor{broken, desc("good", 2, 0.5)}}

			out := newTestCascade(t, res, reg).Run(context.Background(), Request{TenantID: "acme", Query: "how much does a cleaning cost"})

			require.Equal(t, StatusMatched, out.Status)
			assert.Equal(t, "good", out.SourceID)
			require.Len(t, out.Attempts, 2)
			assert.Equal(t, tt.want, out.Attempts[0].Status)
			assert.Zero(t, out.Attempts[0].Confidence)
			assert.NotEmpty(t, out.Attempts[0].Error)
		})
	}
}

func TestRun_UnregisteredSourceIsAnError(t *testing.T) {
	res := &staticResolver{sources: []governance.SourceDescriptor{desc("ghost", 1, 0.5)}}
	out := newTestCascade(t, res, NewRegistry()).Run(context.Background(), Request{TenantID: "acme", Query: "hello"})

	assert.Equal(t, StatusNoMatch, out.Status)
	assert.Equal(t, AttemptError, out.Attempts[0].Status)
	assert.Contains(t, out.Attempts[0].Error, ErrSourceNotRegistered.Error())
}

func TestRun_ResolverFailureReturnsErrorFallback(t *testing.T) {
	tl := logging.NewTestLogger()
	res := &staticResolver{err: governance.ErrTenantNotFound}
	c := newTestCascade(t, res, NewRegistry(), WithLogger(tl.Logger))

	out := c.Run(context.Background(), Request{TenantID: "nobody", Query: "hi"})
	assert.Equal(t, StatusErrorFallback, out.Status)
	assert.Equal(t, DefaultSafeResponse, out.Response)
	assert.NotEmpty(t, out.Error)
	tl.AssertLogged(t, zapcore.ErrorLevel, "cannot resolve knowledge sources")

	style := governance.Default().Style
	out = c.Run(context.Background(), Request{TenantID: "nobody", Query: "hi", Style: &style})
	assert.Equal(t, style.SafeResponse, out.Response)
}

func TestRun_NilResolver(t *testing.T) {
	out := newTestCascade(t, nil, NewRegistry()).Run(context.Background(), Request{TenantID: "acme", Query: "hi"})
	assert.Equal(t, StatusErrorFallback, out.Status)
}

func TestRun_AllowVetoesSource(t *testing.T) {
	reg := NewRegistry()
	src := &fakeSource{keywords: []string{"book"}, confidence: 1, response: "booked"}
	reg.Register("acme", "scenarios", src)
	res := &staticResolver{sources: []governance.SourceDescriptor{desc("scenarios", 1, 0.5)}}

	out := newTestCascade(t, res, reg).Run(context.Background(), Request{
		TenantID: "acme",
		Query:    "book me",
		Allow:    func(governance.SourceDescriptor) bool { return false },
	})
	assert.Equal(t, StatusNoMatch, out.Status)
	assert.Equal(t, AttemptNotAllowed, out.Attempts[0].Status)
	assert.Zero(t, src.queries.Load())
}

type cyclePicker struct{ n atomic.Int32 }

func (p *cyclePicker) Pick(options []string) string {
	return options[int(p.n.Add(1))%len(options)]
}

func TestRun_CachedResultRepicksPhrasing(t *testing.T) {
	reg := NewRegistry()
	src := &fakeSource{
		keywords:   []string{"hours"},
		confidence: 0.9,
		response:   "We open at nine.",
		alts:       []string{"We open at nine.", "Our doors open at 9 am."},
	}
	reg.Register("acme", "faq", src)
	res := &staticResolver{sources: []governance.SourceDescriptor{desc("faq", 1, 0.5)}}
	c := newTestCascade(t, res, reg, WithPicker(&cyclePicker{}))
	ctx := context.Background()

	first := c.Run(ctx, Request{TenantID: "acme", Query: "hours"})
	second := c.Run(ctx, Request{TenantID: "acme", Query: "hours"})
	third := c.Run(ctx, Request{TenantID: "acme", Query: "hours"})

	assert.Equal(t, int32(1), src.queries.Load())
	assert.Equal(t, "We open at nine.", first.Response)
	assert.True(t, second.Attempts[0].Cached)
	assert.Equal(t, "Our doors open at 9 am.", second.Response)
	assert.Equal(t, "We open at nine.", third.Response)
}

func TestRun_CachesPlanKeywordsAndResults(t *testing.T) {
	reg := NewRegistry()
	src := &fakeSource{keywords: []string{"open", "hours"}, confidence: 0.9, response: "9 to 5"}
	reg.Register("acme", "faq", src)
	res := &staticResolver{sources: []governance.SourceDescriptor{desc("faq", 1, 0.5)}}
	c := newTestCascade(t, res, reg)
	ctx := context.Background()

	first := c.Run(ctx, Request{TenantID: "acme", Query: "What are your hours?"})
	second := c.Run(ctx, Request{TenantID: "acme", Query: "  what are your   HOURS "})

	assert.False(t, first.Attempts[0].Cached)
	assert.True(t, second.Attempts[0].Cached)
	assert.Equal(t, int32(1), src.queries.Load())
	assert.Equal(t, int32(1), src.keywordN.Load())
	assert.Equal(t, int32(1), res.calls.Load())

	c.InvalidateSource("acme", "faq")
	third := c.Run(ctx, Request{TenantID: "acme", Query: "what are your hours"})
	assert.False(t, third.Attempts[0].Cached)
	assert.Equal(t, int32(2), src.queries.Load())
	assert.Equal(t, int32(2), src.keywordN.Load())

	c.InvalidateTenant("acme")
	c.Run(ctx, Request{TenantID: "acme", Query: "what are your hours"})
	assert.Equal(t, int32(2), res.calls.Load())
	assert.Equal(t, int32(3), src.queries.Load())
}

func TestRun_FailedQueriesAreNotCached(t *testing.T) {
	reg := NewRegistry()
	src := &fakeSource{keywords: []string{"hours"}, err: errors.New("flaky")}
	reg.Register("acme", "faq", src)
	res := &staticResolver{sources: []governance.SourceDescriptor{desc("faq", 1, 0.5)}}
	c := newTestCascade(t, res, reg)

	c.Run(context.Background(), Request{TenantID: "acme", Query: "hours"})
	c.Run(context.Background(), Request{TenantID: "acme", Query: "hours"})
	assert.Equal(t, int32(2), src.queries.Load())
}

func TestRun_TenantSpecificBindingShadowsShared(t *testing.T) {
	reg := NewRegistry()
	reg.Register("", "faq", &fakeSource{keywords: []string{"hours"}, confidence: 0.9, response: "shared"})
	reg.Register("acme", "faq", &fakeSource{keywords: []string{"hours"}, confidence: 0.9, response: "acme"})
	res := &staticResolver{sources: []governance.SourceDescriptor{desc("faq", 1, 0.5)}}
	c := newTestCascade(t, res, reg)

	assert.Equal(t, "acme", c.Run(context.Background(), Request{TenantID: "acme", Query: "hours"}).Response)
	assert.Equal(t, "shared", c.Run(context.Background(), Request{TenantID: "other", Query: "hours"}).Response)
	assert.Equal(t, 2, reg.Len())
}

func TestRun_AppliesPostProcessors(t *testing.T) {
	reg := NewRegistry()
	reg.Register("acme", "faq", &fakeSource{
		keywords:   []string{"hours"},
		confidence: 0.9,
		response:   "We open at nine.   We close at five. Weekends vary. Call ahead.",
	})
	res := &staticResolver{sources: []governance.SourceDescriptor{desc("faq", 1, 0.5)}}
	style := governance.Style{MaxSentences: 2, Acknowledgments: []string{"Sure."}, AckRate: 1}
	c := newTestCascade(t, res, reg, WithPostProcessors(NewStyleProcessor(rand.New(rand.NewSource(7)))))

	out := c.Run(context.Background(), Request{TenantID: "acme", Query: "hours", Style: &style})
	assert.Equal(t, "Sure. We open at nine. We close at five.", out.Response)
}

func TestRun_RecordsSpans(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	reg := NewRegistry()
	reg.Register("acme", "faq", &fakeSource{keywords: []string{"hours"}, confidence: 0.9, response: "9 to 5"})
	res := &staticResolver{sources: []governance.SourceDescriptor{desc("faq", 1, 0.5)}}
	c := newTestCascade(t, res, reg, WithTracer(tt.Tracer("cascade")))

	c.Run(context.Background(), Request{TenantID: "acme", Query: "hours"})

	tt.AssertSpanExists(t, telemetry.SpanCascade)
	tt.AssertSpanAttribute(t, telemetry.SpanCascade, telemetry.AttrStatus, string(StatusMatched))
	tt.AssertSpanAttribute(t, telemetry.SpanAttempt, telemetry.AttrSource, "faq")
	tt.AssertSpanAttribute(t, telemetry.SpanAttempt, telemetry.AttrStatus, string(AttemptMatched))
}

func TestRun_CancelledCallAbandonsQueries(t *testing.T) {
	reg := NewRegistry()
	src := &fakeSource{keywords: []string{"hours"}, block: true}
	reg.Register("acme", "slow", src)
	d := desc("slow", 1, 0.5)
	d.TimeoutMS = 5000
	res := &staticResolver{sources: []governance.SourceDescriptor{d}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	out := newTestCascade(t, res, reg).Run(ctx, Request{TenantID: "acme", Query: "hours"})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StatusNoMatch, out.Status)
	assert.Equal(t, AttemptError, out.Attempts[0].Status)
}
