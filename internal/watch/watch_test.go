package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	loaded  []string
	sources []string
	tenants []string
	configs []string
	purges  int
	loadErr error
}

func (r *recorder) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purges++
}

func (r *recorder) LoadSource(_ context.Context, tenantID, sourceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = append(r.loaded, tenantID+"/"+sourceID)
	return r.loadErr
}

func (r *recorder) InvalidateSource(tenantID, sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, tenantID+"/"+sourceID)
}

func (r *recorder) InvalidateTenant(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants = append(r.tenants, tenantID)
}

func (r *recorder) Invalidate(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, tenantID)
}

func (r *recorder) snapshot() (loaded, sources, tenants, configs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.loaded...), append([]string(nil), r.sources...),
		append([]string(nil), r.tenants...), append([]string(nil), r.configs...)
}

func startWatcher(t *testing.T, govDir, knowDir string, rec *recorder) chan Change {
	t.Helper()
	changes := make(chan Change, 64)
	w, err := New(Config{
		GovernanceDir: govDir,
		KnowledgeDir:  knowDir,
		Configs:       rec,
		Knowledge:     rec,
		Caches:        rec,
		OnChange:      func(c Change) { changes <- c },
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, w.Close())
		select {
		case <-w.Done():
		case <-time.After(2 * time.Second):
			t.Error("watch loop did not exit")
		}
	})
	return changes
}

func waitFor(t *testing.T, changes <-chan Change, match func(Change) bool) Change {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-changes:
			if match(c) {
				return c
			}
		case <-deadline:
			t.Fatal("timed out waiting for change")
			return Change{}
		}
	}
}

func TestWatcher_GovernanceChange(t *testing.T) {
	gov := t.TempDir()
	rec := &recorder{}
	changes := startWatcher(t, gov, "", rec)

	require.NoError(t, os.WriteFile(filepath.Join(gov, "acme_dental.yaml"), []byte("tenant_id: acme_dental\n"), 0o644))

	c := waitFor(t, changes, func(c Change) bool { return c.Kind == KindGovernance })
	assert.Equal(t, "acme_dental", c.TenantID)

	_, _, tenants, configs := rec.snapshot()
	assert.Contains(t, configs, "acme_dental")
	assert.Contains(t, tenants, "acme_dental")
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	gov := t.TempDir()
	rec := &recorder{}
	changes := startWatcher(t, gov, "", rec)

	require.NoError(t, os.WriteFile(filepath.Join(gov, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(gov, "Bad Tenant.yaml"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(gov, "acme_dental.yaml"), []byte("x"), 0o644))

	c := waitFor(t, changes, func(Change) bool { return true })
	assert.Equal(t, "acme_dental", c.TenantID)
	_, _, _, configs := rec.snapshot()
	for _, id := range configs {
		assert.Equal(t, "acme_dental", id)
	}
}

func TestWatcher_PackChangeInExistingTenant(t *testing.T) {
	know := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(know, "acme_dental"), 0o755))
	rec := &recorder{}
	changes := startWatcher(t, "", know, rec)

	require.NoError(t, os.WriteFile(filepath.Join(know, "acme_dental", "faq.toml"), []byte(`kind = "faq"`), 0o644))

	c := waitFor(t, changes, func(c Change) bool { return c.Kind == KindKnowledge })
	assert.Equal(t, "acme_dental", c.TenantID)
	assert.Equal(t, "faq", c.SourceID)
	assert.NoError(t, c.Err)

	loaded, sources, _, _ := rec.snapshot()
	assert.Contains(t, loaded, "acme_dental/faq")
	assert.Contains(t, sources, "acme_dental/faq")
}

func TestWatcher_NewTenantDirectory(t *testing.T) {
	know := t.TempDir()
	rec := &recorder{}
	changes := startWatcher(t, "", know, rec)

	dir := filepath.Join(know, "bright_smiles")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hours.toml"), []byte(`kind = "scenario"`), 0o644))

	c := waitFor(t, changes, func(c Change) bool { return c.SourceID == "hours" })
	assert.Equal(t, "bright_smiles", c.TenantID)
}

func TestWatcher_RemovalReloads(t *testing.T) {
	know := t.TempDir()
	dir := filepath.Join(know, "acme_dental")
	require.NoError(t, os.Mkdir(dir, 0o755))
	path := filepath.Join(dir, "faq.toml")
	require.NoError(t, os.WriteFile(path, []byte(`kind = "faq"`), 0o644))

	rec := &recorder{}
	changes := startWatcher(t, "", know, rec)

	require.NoError(t, os.Remove(path))
	c := waitFor(t, changes, func(c Change) bool { return c.SourceID == "faq" })
	assert.NotZero(t, c.Op)
	loaded, _, _, _ := rec.snapshot()
	assert.Contains(t, loaded, "acme_dental/faq")
}

func TestWatcher_LoadErrorStillInvalidates(t *testing.T) {
	know := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(know, "acme_dental"), 0o755))
	rec := &recorder{loadErr: assert.AnError}
	changes := startWatcher(t, "", know, rec)

	require.NoError(t, os.WriteFile(filepath.Join(know, "acme_dental", "faq.toml"), []byte("bad"), 0o644))

	c := waitFor(t, changes, func(c Change) bool { return c.Kind == KindKnowledge })
	assert.ErrorIs(t, c.Err, assert.AnError)
	_, sources, _, _ := rec.snapshot()
	assert.Contains(t, sources, "acme_dental/faq")
}

func TestWatcher_OverflowDropsEverything(t *testing.T) {
	rec := &recorder{}
	var got []Change
	w, err := New(Config{
		GovernanceDir: t.TempDir(),
		Configs:       rec,
		Caches:        rec,
		OnChange:      func(c Change) { got = append(got, c) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	w.handleError(context.Background(), fsnotify.ErrEventOverflow)
	w.handleError(context.Background(), errors.New("inotify hiccup"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.purges, "configs and cascade caches both purged once")
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0].Err, fsnotify.ErrEventOverflow)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{KnowledgeDir: t.TempDir()})
	assert.Error(t, err)
}
