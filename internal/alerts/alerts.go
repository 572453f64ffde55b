// Package alerts emits structured call events for an external alerting
// subsystem. The engine never formats or delivers human-readable alerts;
// it publishes events and moves on.
//
// Events are published to NATS subjects of the form
//
//	voxgov.events.{tenant_id}.{type}
package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names an event.
type Type string

const (
	TypeLoopDetected        Type = "loop_detected"
	TypeEscalationTriggered Type = "escalation_triggered"
	TypeGovernanceViolation Type = "governance_violation"
	TypeCallCompleted       Type = "call_completed"
)

// Event is one structured call event.
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	TenantID   string            `json:"tenant_id"`
	CallID     string            `json:"call_id"`
	Turn       int               `json:"turn,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewEvent fills ID and OccurredAt.
func NewEvent(t Type, tenantID, callID string, turn int, attrs map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		TenantID:   tenantID,
		CallID:     callID,
		Turn:       turn,
		OccurredAt: time.Now().UTC(),
		Attributes: attrs,
	}
}

// Emitter publishes events. Implementations must be safe for concurrent use.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// MemoryEmitter records events and fans them out to subscribers.
type MemoryEmitter struct {
	mu       sync.RWMutex
	handlers []func(Event)
	events   []Event
}

// NewMemoryEmitter returns an empty emitter.
func NewMemoryEmitter() *MemoryEmitter {
	return &MemoryEmitter{}
}

func (m *MemoryEmitter) Emit(_ context.Context, e Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	handlers := append([]func(Event){}, m.handlers...)
	m.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
	return nil
}

// Subscribe registers a handler for future events.
func (m *MemoryEmitter) Subscribe(h func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Events returns a copy of everything emitted.
func (m *MemoryEmitter) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.events...)
}

// OfType filters Events by type.
func (m *MemoryEmitter) OfType(t Type) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }
