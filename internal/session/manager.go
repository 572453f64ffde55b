package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/fyrsmithlabs/voxgov/internal/logging"
	"github.com/fyrsmithlabs/voxgov/internal/store"
	"go.uber.org/zap"
)

// Manager loads and persists sessions through a transient store.
type Manager struct {
	store  store.SessionStore
	logger *logging.Logger
	opts   []Option
}

// NewManager returns a manager. opts are applied to every session it
// creates or loads.
func NewManager(st store.SessionStore, logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{store: st, logger: logger, opts: opts}
}

// LoadOrCreate returns the stored session for id.CallID, or a new one.
// It never fails: an unavailable store or undecodable entry is logged and
// a fresh session is returned. A stored session keeps the governance
// configuration it was created with.
func (m *Manager) LoadOrCreate(ctx context.Context, id Identity, cfg *governance.Config) *Session {
	ctx = logging.WithCall(ctx, logging.Call{TenantID: id.TenantID, CallID: id.CallID})

	data, err := m.store.Get(ctx, id.CallID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return m.fresh(id, cfg)
	case err != nil:
		m.logger.Warn(ctx, "session store unavailable, starting fresh session", zap.Error(err))
		return m.fresh(id, cfg)
	}

	s, err := m.decode(data)
	if err != nil {
		m.logger.Warn(ctx, "discarding undecodable session", zap.Error(err))
		return m.fresh(id, cfg)
	}
	if s.Config == nil {
		s.Config = cfg
	}
	return s
}

// Get returns the stored session for callID. Unlike LoadOrCreate it
// reports absence as store.ErrNotFound and surfaces store errors.
func (m *Manager) Get(ctx context.Context, callID string) (*Session, error) {
	data, err := m.store.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	return m.decode(data)
}

func (m *Manager) fresh(id Identity, cfg *governance.Config) *Session {
	return New(id, cfg, append([]Option{WithLogger(m.logger)}, m.opts...)...)
}

func (m *Manager) decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if s.Identity.CallID == "" {
		return nil, fmt.Errorf("%w: missing call id", ErrCorruptSession)
	}
	if s.Facts == nil {
		s.Facts = make(map[string]*Fact)
	}
	if s.Metrics.HandlerUsage == nil {
		s.Metrics.HandlerUsage = make(map[governance.Handler]int)
	}
	if s.Turns == nil {
		s.Turns = []TurnRecord{}
	}
	s.logger = m.logger
	s.apply(m.opts...)
	return &s, nil
}

// Save writes the session, refreshing its time-to-live. A session with an
// open turn is not written. Errors are logged here; callers may ignore them.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	ctx = logging.WithCall(ctx, logging.Call{TenantID: s.Identity.TenantID, CallID: s.Identity.CallID})
	if s.open != nil {
		m.logger.Warn(ctx, "refusing to persist session with open turn", zap.Int("turn", s.open.Index))
		return ErrTurnInProgress
	}
	data, err := json.Marshal(s)
	if err != nil {
		m.logger.Error(ctx, "failed to encode session", zap.Error(err))
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Put(ctx, s.Identity.CallID, data); err != nil {
		m.logger.Warn(ctx, "failed to persist session", zap.Error(err))
		return err
	}
	return nil
}

// Delete removes the stored session. Errors are logged here.
func (m *Manager) Delete(ctx context.Context, callID string) error {
	if err := m.store.Delete(ctx, callID); err != nil {
		m.logger.Warn(logging.WithCall(ctx, logging.Call{CallID: callID}), "failed to delete session", zap.Error(err))
		return err
	}
	return nil
}
