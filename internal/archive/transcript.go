package archive

import (
	"sort"
	"time"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/fyrsmithlabs/voxgov/internal/redact"
	"github.com/fyrsmithlabs/voxgov/internal/session"
)

// Transcript is the redacted, archival form of a finished call.
type Transcript struct {
	CallID    string                    `json:"call_id"`
	TenantID  string                    `json:"tenant_id"`
	Caller    string                    `json:"caller"`
	StartedAt time.Time                 `json:"started_at"`
	Phase     governance.Phase          `json:"phase"`
	Phases    []session.PhaseTransition `json:"phases,omitempty"`
	Turns     []TranscriptTurn          `json:"turns"`
	Facts     map[string]ArchivedFact   `json:"facts"`
	Metrics   session.Metrics           `json:"metrics"`
	Outcome   *session.Outcome          `json:"outcome,omitempty"`
}

// TranscriptTurn is one exchange with the caller's words redacted.
type TranscriptTurn struct {
	Index      int                 `json:"index"`
	Caller     string              `json:"caller"`
	Agent      string              `json:"agent"`
	Handler    governance.Handler  `json:"handler,omitempty"`
	Rejections []session.Rejection `json:"rejections,omitempty"`
	Violations []session.Violation `json:"violations,omitempty"`
	LatencyMs  float64             `json:"latency_ms"`
	FactDeltas []string            `json:"fact_deltas,omitempty"`
}

// ArchivedFact keeps a fact's final value and provenance.
type ArchivedFact struct {
	Value      any                `json:"value"`
	Confidence float64            `json:"confidence"`
	Source     session.FactSource `json:"source"`
	Turn       int                `json:"turn"`
}

// BuildTranscript converts s into a transcript, redacting caller speech,
// agent responses and string fact values with r. A nil r keeps text as is.
func BuildTranscript(s *session.Session, r *redact.Redactor) (Transcript, []redact.Finding) {
	var findings []redact.Finding
	text := func(v string) string {
		res := r.Text(v)
		findings = append(findings, res.Findings...)
		return res.Text
	}

	t := Transcript{
		CallID:    s.Identity.CallID,
		TenantID:  s.Identity.TenantID,
		Caller:    text(s.Identity.Caller),
		StartedAt: s.Identity.StartedAt,
		Phase:     s.Phase.Current,
		Phases:    s.Phase.History,
		Turns:     make([]TranscriptTurn, 0, len(s.Turns)),
		Facts:     make(map[string]ArchivedFact, len(s.Facts)),
		Metrics:   s.Metrics,
		Outcome:   s.Outcome,
	}
	for _, turn := range s.Turns {
		in := turn.Input.CleanedInput
		if in == "" {
			in = turn.Input.RawInput
		}
		t.Turns = append(t.Turns, TranscriptTurn{
			Index:      turn.Index,
			Caller:     text(in),
			Agent:      text(turn.Response),
			Handler:    turn.Handler,
			Rejections: turn.Rejections,
			Violations: turn.Violations,
			LatencyMs:  turn.LatencyMs,
			FactDeltas: turn.FactDeltas,
		})
	}

	ids := make([]string, 0, len(s.Facts))
	for id := range s.Facts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		f := s.Facts[id]
		v := f.Value
		if str, ok := v.(string); ok {
			v = text(str)
		}
		t.Facts[id] = ArchivedFact{Value: v, Confidence: f.Confidence, Source: f.Source, Turn: f.CapturedTurn}
	}
	return t, findings
}
