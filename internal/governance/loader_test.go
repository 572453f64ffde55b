package governance

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
tenant_id: acme_dental
version: "3"
`

const fullYAML = `
tenant_id: acme_dental
version: "4"
capture_goals:
  must: [name, phone]
  should: [issue]
  nice: [email]
  min_turns_without_progress: 3
  prompt_desired: true
handlers:
  scenario:
    min_confidence: 0.8
  fallback:
    allow_fact_writes: true
router_order: [booking, scenario]
loop_detection:
  max_repeated_responses: 3
  on_loop: rephrase
sources:
  - source_id: scenarios
    priority: 1
    confidence_threshold: 0.8
  - source_id: faq
    priority: 2
    confidence_threshold: 0.5
    timeout_ms: 150
    phases: [GREETING, DISCOVERY]
  - source_id: kb
    priority: 3
    confidence_threshold: 0.6
    enabled: false
`

func TestParse_MinimalMergesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, "acme_dental", cfg.TenantID)
	assert.Equal(t, "3", cfg.Version)
	assert.Equal(t, def.CaptureGoals, cfg.CaptureGoals)
	assert.Equal(t, def.Handlers, cfg.Handlers)
	assert.Equal(t, def.RouterOrder, cfg.RouterOrder)
	assert.Empty(t, cfg.Sources)
}

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"email"}, cfg.CaptureGoals.Nice)
	assert.True(t, cfg.CaptureGoals.PromptDesired)
	assert.Equal(t, 0.8, cfg.Handlers.Scenario.MinConfidence)
	assert.True(t, cfg.Handlers.Scenario.Enabled, "unset nested keys keep defaults")
	assert.True(t, cfg.Handlers.Fallback.AllowFactWrites)
	assert.Equal(t, []Handler{HandlerBooking, HandlerScenario}, cfg.RouterOrder, "lists replace defaults")
	assert.Equal(t, LoopRephrase, cfg.LoopDetection.OnLoop)

	require.Len(t, cfg.Sources, 3)
	assert.True(t, cfg.Sources[0].Enabled, "enabled defaults to true")
	assert.Equal(t, 150*time.Millisecond, cfg.Sources[1].Timeout(time.Second))
	assert.Equal(t, time.Second, cfg.Sources[0].Timeout(time.Second))
	assert.Equal(t, []Phase{PhaseGreeting, PhaseDiscovery}, cfg.Sources[1].Phases)
	assert.Empty(t, cfg.Sources[0].Phases)
	assert.False(t, cfg.Sources[2].Enabled)
}

func TestParse_Fatal(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"missing tenant_id", "version: '1'\n", ErrMissingRequired},
		{"missing version", "tenant_id: acme\n", ErrMissingRequired},
		{"unknown top-level key", minimalYAML + "surprise: true\n", ErrUnknownKey},
		{"unknown nested key", minimalYAML + "handlers:\n  scenario:\n    min_conf: 0.5\n", ErrUnknownKey},
		{"source missing threshold", minimalYAML + "sources:\n  - source_id: faq\n    priority: 1\n", ErrMissingRequired},
		{"capture overlap", minimalYAML + "capture_goals:\n  must: [name]\n  should: [name]\n", ErrCaptureOverlap},
		{"duplicate source", minimalYAML + `sources:
  - {source_id: faq, priority: 1, confidence_threshold: 0.5}
  - {source_id: faq, priority: 2, confidence_threshold: 0.5}
`, ErrDuplicateSource},
		{"bad threshold", minimalYAML + "sources:\n  - {source_id: faq, priority: 1, confidence_threshold: 1.5}\n", ErrInvalidConfig},
		{"bad source phase", minimalYAML + "sources:\n  - {source_id: faq, priority: 1, confidence_threshold: 0.5, phases: [HOLD]}\n", ErrInvalidConfig},
		{"bad router handler", minimalYAML + "router_order: [oracle]\n", ErrInvalidConfig},
		{"bad trigger", minimalYAML + "handlers:\n  escalation:\n    allowed_triggers: [boredom]\n", ErrInvalidConfig},
		{"not yaml", "tenant_id: [unclosed\n", ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func writeTenant(t *testing.T, dir, tenant, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, tenant+".yaml"), []byte(content), 0o600))
}

func TestFileProvider_Load(t *testing.T) {
	dir := t.TempDir()
	writeTenant(t, dir, "acme_dental", fullYAML)
	p := NewFileProvider(dir)

	cfg, err := p.Load(context.Background(), "acme_dental")
	require.NoError(t, err)
	assert.Equal(t, "4", cfg.Version)

	_, err = p.Load(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrTenantNotFound)

	_, err = p.Load(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidTenantID)
}

func TestFileProvider_TenantMismatch(t *testing.T) {
	dir := t.TempDir()
	writeTenant(t, dir, "other", minimalYAML)

	_, err := NewFileProvider(dir).Load(context.Background(), "other")
	assert.ErrorIs(t, err, ErrTenantMismatch)
}

type countingProvider struct {
	calls atomic.Int32
	cfg   *Config
}

func (p *countingProvider) Load(context.Context, string) (*Config, error) {
	p.calls.Add(1)
	return p.cfg, nil
}

func TestCachedProvider(t *testing.T) {
	inner := &countingProvider{cfg: testConfig()}
	p := NewCachedProvider(inner, 0, 2)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := p.Load(ctx, "acme_dental")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), inner.calls.Load())

	p.Invalidate("acme_dental")
	_, err := p.Load(ctx, "acme_dental")
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())

	srcs, err := p.Sources(ctx, "acme_dental")
	require.NoError(t, err)
	assert.Equal(t, inner.cfg.Sources, srcs)
	assert.Equal(t, int32(2), inner.calls.Load())

	p.InvalidateAll()
	_, _ = p.Load(ctx, "acme_dental")
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestCachedProvider_ErrorsNotCached(t *testing.T) {
	p := NewCachedProvider(NewFileProvider(t.TempDir()), time.Minute, 1)
	_, err := p.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrTenantNotFound)
	_, err = p.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}
