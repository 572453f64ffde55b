package session

import (
	"context"
	"slices"
	"time"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/fyrsmithlabs/voxgov/internal/logging"
	"go.uber.org/zap"
)

// Identity identifies a call.
type Identity struct {
	CallID    string    `json:"call_id"`
	TenantID  string    `json:"tenant_id"`
	Caller    string    `json:"caller"`
	Callee    string    `json:"callee"`
	StartedAt time.Time `json:"started_at"`
}

// PhaseState is the current phase plus how it was reached.
type PhaseState struct {
	Current   governance.Phase  `json:"current"`
	Previous  governance.Phase  `json:"previous,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	ChangedAt time.Time         `json:"changed_at"`
	History   []PhaseTransition `json:"history,omitempty"`
}

// PhaseTransition is one recorded phase change.
type PhaseTransition struct {
	From   governance.Phase `json:"from"`
	To     governance.Phase `json:"to"`
	Reason string           `json:"reason"`
	At     time.Time        `json:"at"`
}

// BookingState is the booking sub-state. ModeLocked implies phase BOOKING.
type BookingState struct {
	ConsentDetected bool     `json:"consent_detected"`
	ConsentTurn     *int     `json:"consent_turn,omitempty"`
	ModeLocked      bool     `json:"mode_locked"`
	CurrentStep     string   `json:"current_step,omitempty"`
	CompletedSteps  []string `json:"completed_steps"`
	RemainingSteps  []string `json:"remaining_steps"`
}

// Metrics aggregates per-call counters.
type Metrics struct {
	TotalTurns           int                        `json:"total_turns"`
	TotalLatencyMs       float64                    `json:"total_latency_ms"`
	AvgResponseLatencyMs float64                    `json:"avg_response_latency_ms"`
	ExternalCalls        int                        `json:"external_calls"`
	EscalationTriggered  bool                       `json:"escalation_triggered"`
	EscalationTrigger    governance.Trigger         `json:"escalation_trigger,omitempty"`
	HandlerUsage         map[governance.Handler]int `json:"handler_usage"`
	AbandonedTurns       int                        `json:"abandoned_turns"`
}

// Outcome is the terminal result of a call. It is set once.
type Outcome struct {
	Status  string    `json:"status"`
	Summary string    `json:"summary,omitempty"`
	EndedAt time.Time `json:"ended_at"`
}

// Session is the governed state of one call.
type Session struct {
	Identity Identity           `json:"identity"`
	Facts    map[string]*Fact   `json:"facts"`
	Phase    PhaseState         `json:"phase"`
	Booking  BookingState       `json:"booking"`
	Capture  CaptureProgress    `json:"capture"`
	Loop     LoopState          `json:"loop"`
	Turns    []TurnRecord       `json:"turns"`
	Metrics  Metrics            `json:"metrics"`
	Outcome  *Outcome           `json:"outcome,omitempty"`
	Config   *governance.Config `json:"config"`

	open   *TurnRecord
	now    func() time.Time
	logger *logging.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the logger used for rejected mutations.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New creates a session in GREETING with empty facts and zeroed metrics.
func New(id Identity, cfg *governance.Config, opts ...Option) *Session {
	s := &Session{
		Identity: id,
		Facts:    make(map[string]*Fact),
		Capture:  newCaptureProgress(cfg.CaptureGoals),
		Turns:    []TurnRecord{},
		Metrics:  Metrics{HandlerUsage: make(map[governance.Handler]int)},
		Config:   cfg,
		Booking:  BookingState{CompletedSteps: []string{}, RemainingSteps: []string{}},
	}
	s.apply(opts...)
	if s.Identity.StartedAt.IsZero() {
		s.Identity.StartedAt = s.clock()
	}
	s.Phase = PhaseState{Current: governance.PhaseGreeting, ChangedAt: s.Identity.StartedAt}
	return s
}

func (s *Session) apply(opts ...Option) {
	for _, o := range opts {
		o(s)
	}
}

func (s *Session) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Session) log() *logging.Logger {
	if s.logger != nil {
		return s.logger
	}
	return logging.Nop()
}

func (s *Session) logCtx() context.Context {
	ctx := logging.WithCall(context.Background(), logging.Call{TenantID: s.Identity.TenantID, CallID: s.Identity.CallID})
	if s.open != nil {
		ctx = logging.WithTurn(ctx, s.open.Index)
	}
	return ctx
}

// TransitionPhase moves to phase, recording the previous phase, reason and
// time. Unknown phases are logged and ignored. Transitions are monotonic
// except re-entry to BOOKING, which is allowed from any phase. Leaving
// BOOKING releases the booking lock.
func (s *Session) TransitionPhase(phase governance.Phase, reason string) error {
	if !phase.Valid() {
		s.log().Warn(s.logCtx(), "ignoring unknown phase", zap.String("phase", string(phase)), zap.String("reason", reason))
		return ErrUnknownPhase
	}
	cur := s.Phase.Current
	if phase == cur {
		return nil
	}
	if phase != governance.PhaseBooking && phase.Rank() < cur.Rank() {
		s.log().Warn(s.logCtx(), "rejected backward phase transition",
			zap.String("from", string(cur)), zap.String("to", string(phase)))
		return ErrInvalidTransition
	}

	now := s.clock()
	s.Phase.History = append(s.Phase.History, PhaseTransition{From: cur, To: phase, Reason: reason, At: now})
	s.Phase.Previous = cur
	s.Phase.Current = phase
	s.Phase.Reason = reason
	s.Phase.ChangedAt = now
	if cur == governance.PhaseBooking {
		s.Booking.ModeLocked = false
	}
	return nil
}

// SetBookingConsent records that the caller consented on turn.
func (s *Session) SetBookingConsent(turn int) {
	t := turn
	s.Booking.ConsentDetected = true
	s.Booking.ConsentTurn = &t
}

// LockBookingMode locks the call into the booking flow and forces phase
// BOOKING. Remaining steps are seeded from configuration on first lock.
func (s *Session) LockBookingMode() {
	_ = s.TransitionPhase(governance.PhaseBooking, "booking_locked")
	s.Booking.ModeLocked = true
	if len(s.Booking.RemainingSteps) == 0 && len(s.Booking.CompletedSteps) == 0 {
		for _, st := range s.Config.Booking.Steps {
			s.Booking.RemainingSteps = append(s.Booking.RemainingSteps, st.Name)
		}
	}
}

// SetBookingStep marks step as in progress.
func (s *Session) SetBookingStep(step string) {
	s.Booking.CurrentStep = step
}

// CompleteBookingStep moves step from remaining to completed.
func (s *Session) CompleteBookingStep(step string) {
	if !slices.Contains(s.Booking.CompletedSteps, step) {
		s.Booking.CompletedSteps = append(s.Booking.CompletedSteps, step)
	}
	s.Booking.RemainingSteps = slices.DeleteFunc(s.Booking.RemainingSteps, func(x string) bool { return x == step })
	if s.Booking.CurrentStep == step {
		s.Booking.CurrentStep = ""
	}
}

// GovernanceState projects the session onto what admission rules read.
func (s *Session) GovernanceState() governance.State {
	return governance.State{
		Phase:               s.Phase.Current,
		BookingLocked:       s.Booking.ModeLocked,
		ConsentDetected:     s.Booking.ConsentDetected,
		EscalationTriggered: s.Metrics.EscalationTriggered,
	}
}

// ApproveEscalation checks ShouldEscalate and, when allowed, flags the
// call as escalated.
func (s *Session) ApproveEscalation(trigger governance.Trigger) governance.Decision {
	d := governance.ShouldEscalate(s.Config, s.GovernanceState(), trigger)
	if d.Allowed {
		s.Metrics.EscalationTriggered = true
		s.Metrics.EscalationTrigger = trigger
	}
	return d
}

// RecordExternalCall counts a call to an external collaborator.
func (s *Session) RecordExternalCall() {
	s.Metrics.ExternalCalls++
}

// SetOutcome sets the terminal outcome once.
func (s *Session) SetOutcome(status, summary string) error {
	if s.Outcome != nil {
		return ErrOutcomeAlreadySet
	}
	s.Outcome = &Outcome{Status: status, Summary: summary, EndedAt: s.clock()}
	return nil
}
