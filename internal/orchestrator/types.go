package orchestrator

import (
	"errors"

	"github.com/fyrsmithlabs/voxgov/internal/cascade"
	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/fyrsmithlabs/voxgov/internal/session"
)

var (
	// ErrCallEnded is reported when a turn arrives for a finished call.
	ErrCallEnded = errors.New("call already ended")
	// ErrTenantMismatch is reported when a call id is reused by another tenant.
	ErrTenantMismatch = errors.New("call belongs to another tenant")
	// ErrUnknownCall is returned when no live session exists for a call.
	ErrUnknownCall = errors.New("unknown call")
	// ErrInvalidRequest is returned for requests missing identifiers.
	ErrInvalidRequest = errors.New("invalid request")
)

// Signals are upstream classifications of the caller's utterance.
type Signals struct {
	BookingConsent      bool    `json:"booking_consent,omitempty"`
	ConsentConfidence   float64 `json:"consent_confidence,omitempty"`
	EscalationRequested bool    `json:"escalation_requested,omitempty"`
	Frustration         bool    `json:"frustration,omitempty"`
}

// TurnRequest is one caller utterance.
type TurnRequest struct {
	CallID          string                    `json:"call_id"`
	TenantID        string                    `json:"tenant_id"`
	Caller          string                    `json:"caller,omitempty"`
	Callee          string                    `json:"callee,omitempty"`
	Input           string                    `json:"input"`
	CleanedInput    string                    `json:"cleaned_input,omitempty"`
	InputConfidence float64                   `json:"input_confidence,omitempty"`
	Triage          []session.TriageCandidate `json:"triage,omitempty"`
	// Facts is an upstream extraction payload; see session.IngestFacts.
	Facts   map[string]any `json:"facts,omitempty"`
	Signals Signals        `json:"signals"`
}

func (r TurnRequest) text() string {
	if r.CleanedInput != "" {
		return r.CleanedInput
	}
	return r.Input
}

// CascadeSummary is the diagnostic view of the cascade run for a turn.
type CascadeSummary struct {
	Status     cascade.Status    `json:"status"`
	SourceID   string            `json:"source_id,omitempty"`
	Confidence float64           `json:"confidence"`
	Attempts   []cascade.Attempt `json:"attempts"`
}

// TurnResponse is the orchestrator's answer for a turn. It is always
// well-formed, even when Degraded.
type TurnResponse struct {
	CallID        string                 `json:"call_id"`
	TurnIndex     int                    `json:"turn_index"`
	Response      string                 `json:"response"`
	Handler       governance.Handler     `json:"handler,omitempty"`
	Phase         governance.Phase       `json:"phase"`
	BookingLocked bool                   `json:"booking_locked"`
	Escalated     bool                   `json:"escalated"`
	Rejections    []session.Rejection    `json:"rejections,omitempty"`
	Violations    []session.Violation    `json:"violations,omitempty"`
	Cascade       *CascadeSummary        `json:"cascade,omitempty"`
	CapturePrompt *session.CapturePrompt `json:"capture_prompt,omitempty"`
	Loop          session.LoopSignal     `json:"loop"`
	Ingest        *session.IngestReport  `json:"ingest,omitempty"`
	LatencyMs     float64                `json:"latency_ms"`
	Degraded      bool                   `json:"degraded,omitempty"`
	Abandoned     bool                   `json:"abandoned,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// EndRequest finishes a call.
type EndRequest struct {
	CallID   string `json:"call_id"`
	TenantID string `json:"tenant_id"`
	Status   string `json:"status"`
	Summary  string `json:"summary,omitempty"`
}

// EndResult reports what EndCall did.
type EndResult struct {
	CallID    string           `json:"call_id"`
	Outcome   session.Outcome  `json:"outcome"`
	Metrics   session.Metrics  `json:"metrics"`
	ArchiveID string           `json:"archive_id,omitempty"`
	Phase     governance.Phase `json:"phase"`
	// ArchivePending is set when archiving failed and the session was kept
	// for a retry.
	ArchivePending bool   `json:"archive_pending,omitempty"`
	ArchiveError   string `json:"archive_error,omitempty"`
}
