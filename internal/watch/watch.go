// Package watch reloads tenant governance files and knowledge packs when
// they change on disk.
//
// Governance files live at <governance_dir>/<tenant>.yaml and knowledge
// packs at <knowledge_dir>/<tenant>/<source>.toml. A change to a
// governance file drops the tenant's cached config and source plan; a
// change to a pack reloads that one source and drops its cascade caches.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/fyrsmithlabs/voxgov/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// KnowledgeLoader reloads one knowledge source from disk.
type KnowledgeLoader interface {
	LoadSource(ctx context.Context, tenantID, sourceID string) error
}

// CacheInvalidator drops cascade caches.
type CacheInvalidator interface {
	InvalidateSource(tenantID, sourceID string)
	InvalidateTenant(tenantID string)
	InvalidateAll()
}

// ConfigInvalidator drops cached governance configs.
type ConfigInvalidator interface {
	Invalidate(tenantID string)
	InvalidateAll()
}

// Kind says which tree a change came from.
type Kind string

const (
	KindGovernance Kind = "governance"
	KindKnowledge  Kind = "knowledge"
)

// Change describes one applied reload.
type Change struct {
	Kind     Kind
	TenantID string
	SourceID string
	Op       fsnotify.Op
	Err      error
}

// Config wires a Watcher. Either directory may be empty to skip that tree.
type Config struct {
	GovernanceDir string
	KnowledgeDir  string

	Configs   ConfigInvalidator
	Knowledge KnowledgeLoader
	Caches    CacheInvalidator

	Logger *logging.Logger
	// OnChange, if set, is called after every applied change.
	OnChange func(Change)
}

// Watcher applies filesystem changes to the live caches.
type Watcher struct {
	cfg     Config
	watcher *fsnotify.Watcher
	logger  *logging.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a watcher. Call Start to begin processing events.
func New(cfg Config) (*Watcher, error) {
	if cfg.GovernanceDir == "" && cfg.KnowledgeDir == "" {
		return nil, errors.New("watch: no directories configured")
	}
	if cfg.KnowledgeDir != "" && cfg.Knowledge == nil {
		return nil, errors.New("watch: knowledge dir set without a loader")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.GovernanceDir != "" {
		cfg.GovernanceDir = filepath.Clean(cfg.GovernanceDir)
	}
	if cfg.KnowledgeDir != "" {
		cfg.KnowledgeDir = filepath.Clean(cfg.KnowledgeDir)
	}
	return &Watcher{
		cfg:     cfg,
		watcher: fw,
		logger:  logger.Named("watch"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start registers the watched directories and starts the event loop.
func (w *Watcher) Start(ctx context.Context) error {
	if d := w.cfg.GovernanceDir; d != "" {
		if err := w.watcher.Add(d); err != nil {
			return fmt.Errorf("watching %s: %w", d, err)
		}
	}
	if d := w.cfg.KnowledgeDir; d != "" {
		if err := w.watcher.Add(d); err != nil {
			return fmt.Errorf("watching %s: %w", d, err)
		}
		entries, err := os.ReadDir(d)
		if err != nil {
			return fmt.Errorf("reading %s: %w", d, err)
		}
		for _, e := range entries {
			if e.IsDir() && governance.ValidTenantID(e.Name()) {
				if err := w.watcher.Add(filepath.Join(d, e.Name())); err != nil {
					return fmt.Errorf("watching tenant %s: %w", e.Name(), err)
				}
			}
		}
	}
	go w.loop(ctx)
	return nil
}

// Close stops the event loop and releases the watcher.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		err = w.watcher.Close()
	})
	return err
}

// Done is closed once the event loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.handleError(ctx, err)
		}
	}
}

// handleError drops every cached config and cascade entry when the kernel
// queue overflowed, since the lost events cannot be replayed.
func (w *Watcher) handleError(ctx context.Context, err error) {
	if !errors.Is(err, fsnotify.ErrEventOverflow) {
		w.logger.Warn(ctx, "watcher error", zap.Error(err))
		return
	}
	w.logger.Warn(ctx, "watcher queue overflowed, dropping all cached configs", zap.Error(err))
	if w.cfg.Configs != nil {
		w.cfg.Configs.InvalidateAll()
	}
	if w.cfg.Caches != nil {
		w.cfg.Caches.InvalidateAll()
	}
	w.notify(Change{Kind: KindGovernance, Err: err})
}

const relevantOps = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&relevantOps == 0 {
		return
	}
	name := filepath.Clean(ev.Name)
	dir := filepath.Dir(name)

	switch {
	case w.cfg.GovernanceDir != "" && dir == w.cfg.GovernanceDir:
		w.governanceChanged(ctx, name, ev.Op)
	case w.cfg.KnowledgeDir != "" && dir == w.cfg.KnowledgeDir:
		w.tenantDirChanged(ctx, name, ev.Op)
	case w.cfg.KnowledgeDir != "" && filepath.Dir(dir) == w.cfg.KnowledgeDir:
		w.packChanged(ctx, filepath.Base(dir), name, ev.Op)
	}
}

func (w *Watcher) governanceChanged(ctx context.Context, path string, op fsnotify.Op) {
	tenant, ok := strings.CutSuffix(filepath.Base(path), ".yaml")
	if !ok || !governance.ValidTenantID(tenant) {
		return
	}
	if w.cfg.Configs != nil {
		w.cfg.Configs.Invalidate(tenant)
	}
	if w.cfg.Caches != nil {
		w.cfg.Caches.InvalidateTenant(tenant)
	}
	w.logger.Info(ctx, "governance config changed", zap.String("tenant.id", tenant), zap.String("op", op.String()))
	w.notify(Change{Kind: KindGovernance, TenantID: tenant, Op: op})
}

// tenantDirChanged picks up a new tenant directory. Packs written before
// the watch was added are loaded immediately.
func (w *Watcher) tenantDirChanged(ctx context.Context, path string, op fsnotify.Op) {
	if !op.Has(fsnotify.Create) {
		return
	}
	tenant := filepath.Base(path)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() || !governance.ValidTenantID(tenant) {
		return
	}
	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn(ctx, "watching tenant dir failed", zap.String("tenant.id", tenant), zap.Error(err))
		return
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.packChanged(ctx, tenant, filepath.Join(path, e.Name()), fsnotify.Create)
		}
	}
}

func (w *Watcher) packChanged(ctx context.Context, tenant, path string, op fsnotify.Op) {
	source, ok := strings.CutSuffix(filepath.Base(path), ".toml")
	if !ok || !governance.ValidTenantID(tenant) {
		return
	}
	err := w.cfg.Knowledge.LoadSource(ctx, tenant, source)
	if w.cfg.Caches != nil {
		w.cfg.Caches.InvalidateSource(tenant, source)
	}
	if err != nil {
		w.logger.Warn(ctx, "knowledge reload failed",
			zap.String("tenant.id", tenant), zap.String("source", source), zap.Error(err))
	} else {
		w.logger.Info(ctx, "knowledge source reloaded",
			zap.String("tenant.id", tenant), zap.String("source", source), zap.String("op", op.String()))
	}
	w.notify(Change{Kind: KindKnowledge, TenantID: tenant, SourceID: source, Op: op, Err: err})
}

func (w *Watcher) notify(c Change) {
	if w.cfg.OnChange != nil {
		w.cfg.OnChange(c)
	}
}
