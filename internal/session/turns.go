package session

import (
	"time"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TriageCandidate is an upstream intent guess for the input.
type TriageCandidate struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// TurnInput is what the caller said this turn.
type TurnInput struct {
	RawInput        string            `json:"raw_input"`
	CleanedInput    string            `json:"cleaned_input"`
	InputConfidence float64           `json:"input_confidence"`
	Triage          []TriageCandidate `json:"triage,omitempty"`
}

// Rejection records why a handler was not chosen.
type Rejection struct {
	Handler governance.Handler `json:"handler"`
	Reason  governance.Reason  `json:"reason"`
}

// ViolationKind classifies a governance violation.
type ViolationKind string

const (
	ViolationFactWrite       ViolationKind = "unauthorized_fact_write"
	ViolationHandlerDisabled ViolationKind = "disallowed_handler"
)

// Violation is a refused governed action, kept for audit.
type Violation struct {
	Kind    ViolationKind      `json:"kind"`
	Handler governance.Handler `json:"handler"`
	Reason  governance.Reason  `json:"reason"`
	Detail  string             `json:"detail,omitempty"`
}

// TurnSnapshot is session state captured when a turn commits.
type TurnSnapshot struct {
	Phase         governance.Phase `json:"phase"`
	BookingLocked bool             `json:"booking_locked"`
	Capture       CaptureProgress  `json:"capture"`
	Facts         map[string]any   `json:"facts"`
}

// TurnRecord is one caller/agent exchange. Records are append-only.
type TurnRecord struct {
	ID         string             `json:"id"`
	Index      int                `json:"index"`
	StartedAt  time.Time          `json:"started_at"`
	Input      TurnInput          `json:"input"`
	Handler    governance.Handler `json:"handler,omitempty"`
	Rejections []Rejection        `json:"rejections,omitempty"`
	Violations []Violation        `json:"violations,omitempty"`
	Response   string             `json:"response"`
	LatencyMs  float64            `json:"latency_ms"`
	FactDeltas []string           `json:"fact_deltas,omitempty"`
	Snapshot   *TurnSnapshot      `json:"snapshot,omitempty"`
	Complete   bool               `json:"complete"`
	// AbandonReason is set on records returned by AbandonTurn.
	AbandonReason string `json:"abandon_reason,omitempty"`

	progress bool
}

func (s *Session) currentTurnIndex() int {
	if s.open != nil {
		return s.open.Index
	}
	return len(s.Turns)
}

// StartTurn opens the next turn record.
func (s *Session) StartTurn(in TurnInput) (*TurnRecord, error) {
	if s.open != nil {
		return nil, ErrTurnInProgress
	}
	s.open = &TurnRecord{
		ID:        uuid.NewString(),
		Index:     len(s.Turns) + 1,
		StartedAt: s.clock(),
		Input:     in,
	}
	return s.open, nil
}

// OpenTurn returns the open turn or nil.
func (s *Session) OpenTurn() *TurnRecord {
	return s.open
}

// Reject records why handler was not chosen on the open turn.
func (s *Session) Reject(handler governance.Handler, reason governance.Reason) {
	if s.open == nil {
		return
	}
	s.open.Rejections = append(s.open.Rejections, Rejection{Handler: handler, Reason: reason})
}

// RecordViolation appends a governance violation to the open turn and
// logs it. Violations are never silent.
func (s *Session) RecordViolation(v Violation) {
	s.log().Warn(s.logCtx(), "governance violation",
		zap.String("kind", string(v.Kind)),
		zap.String("handler", string(v.Handler)),
		zap.String("reason", string(v.Reason)),
		zap.String("detail", v.Detail))
	if s.open != nil {
		s.open.Violations = append(s.open.Violations, v)
	}
}

// Respond sets the chosen handler and reply on the open turn.
func (s *Session) Respond(handler governance.Handler, text string) {
	if s.open == nil {
		return
	}
	s.open.Handler = handler
	s.open.Response = text
}

// CommitTurn closes the open turn: it snapshots state, appends the record
// and updates metrics. Average latency is the exact mean of all committed
// turn latencies.
func (s *Session) CommitTurn(latency time.Duration) (TurnRecord, error) {
	if s.open == nil {
		return TurnRecord{}, ErrNoOpenTurn
	}
	rec := s.open
	s.open = nil

	if rec.progress {
		s.Capture.TurnsWithoutProgress = 0
	} else {
		s.Capture.TurnsWithoutProgress++
	}

	rec.LatencyMs = float64(latency) / float64(time.Millisecond)
	rec.Complete = true
	rec.Snapshot = &TurnSnapshot{
		Phase:         s.Phase.Current,
		BookingLocked: s.Booking.ModeLocked,
		Capture:       s.Capture.clone(),
		Facts:         s.SimplifiedFacts(),
	}
	s.Turns = append(s.Turns, *rec)

	m := &s.Metrics
	m.TotalTurns = len(s.Turns)
	m.TotalLatencyMs += rec.LatencyMs
	m.AvgResponseLatencyMs = m.TotalLatencyMs / float64(m.TotalTurns)
	if rec.Handler != "" {
		if m.HandlerUsage == nil {
			m.HandlerUsage = make(map[governance.Handler]int)
		}
		m.HandlerUsage[rec.Handler]++
	}
	return *rec, nil
}

// AbandonTurn drops the open turn without appending it, returning it
// marked incomplete. Callers must not persist the session afterwards: the
// stored copy still reflects the last completed turn.
func (s *Session) AbandonTurn(reason string) (TurnRecord, error) {
	if s.open == nil {
		return TurnRecord{}, ErrNoOpenTurn
	}
	rec := *s.open
	s.open = nil
	rec.Complete = false
	rec.AbandonReason = reason
	s.Metrics.AbandonedTurns++
	s.log().Info(s.logCtx(), "turn abandoned", zap.Int("turn", rec.Index), zap.String("reason", reason))
	return rec, nil
}
