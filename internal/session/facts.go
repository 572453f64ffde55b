package session

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
)

// FactSource is the provenance of a fact.
type FactSource string

const (
	SourceSelfIdentified FactSource = "self_identified"
	SourceExtracted      FactSource = "extracted"
	SourceConfirmed      FactSource = "confirmed"
	SourceExternalID     FactSource = "external_id"
	SourceTriage         FactSource = "triage"
	SourceBooking        FactSource = "booking"
)

// Valid reports whether s is a whitelisted source.
func (s FactSource) Valid() bool {
	switch s {
	case SourceSelfIdentified, SourceExtracted, SourceConfirmed,
		SourceExternalID, SourceTriage, SourceBooking:
		return true
	}
	return false
}

// Fact is a governed value learned about the caller.
type Fact struct {
	Value         any          `json:"value"`
	Confidence    float64      `json:"confidence"`
	Source        FactSource   `json:"source"`
	CapturedTurn  int          `json:"captured_turn"`
	CapturedAt    time.Time    `json:"captured_at"`
	Confirmed     bool         `json:"confirmed"`
	PreviousValue any          `json:"previous_value,omitempty"`
	History       []FactChange `json:"history,omitempty"`
}

// FactChange is a superseded revision of a fact.
type FactChange struct {
	Value      any        `json:"value"`
	Confidence float64    `json:"confidence"`
	Source     FactSource `json:"source"`
	Turn       int        `json:"turn"`
	At         time.Time  `json:"at"`
}

// present reports whether the fact carries a usable value.
func (f *Fact) present() bool {
	if f == nil || f.Value == nil {
		return false
	}
	if s, ok := f.Value.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// CommitResult reports the outcome of CommitFact.
type CommitResult struct {
	Success bool         `json:"success"`
	Reason  RejectReason `json:"reason,omitempty"`
}

func rejected(r RejectReason) CommitResult { return CommitResult{Reason: r} }

// CommitFact stores or overwrites a fact. It is the only write path into
// the fact store. Confidence is clamped to [0,1]; NaN is rejected. An
// overwrite keeps the prior value in PreviousValue and History.
func (s *Session) CommitFact(id string, value any, source FactSource, confidence float64) CommitResult {
	id = strings.TrimSpace(id)
	switch {
	case !source.Valid():
		return rejected(RejectInvalidSource)
	case id == "":
		return rejected(RejectEmptyFactID)
	case math.IsNaN(confidence):
		return rejected(RejectInvalidConfidence)
	case !supportedValue(value):
		return rejected(RejectUnsupportedValue)
	}
	confidence = math.Max(0, math.Min(1, confidence))

	turn := s.currentTurnIndex()
	now := s.clock()
	next := &Fact{
		Value:        value,
		Confidence:   confidence,
		Source:       source,
		CapturedTurn: turn,
		CapturedAt:   now,
		Confirmed:    source == SourceConfirmed,
	}
	if prev, ok := s.Facts[id]; ok {
		next.PreviousValue = prev.Value
		next.History = append(prev.History, FactChange{
			Value:      prev.Value,
			Confidence: prev.Confidence,
			Source:     prev.Source,
			Turn:       prev.CapturedTurn,
			At:         prev.CapturedAt,
		})
		// A confirmed value stays confirmed when restated with the same value.
		next.Confirmed = next.Confirmed || (prev.Confirmed && fmt.Sprint(prev.Value) == fmt.Sprint(value))
	}
	s.Facts[id] = next

	if next.present() {
		s.markCaptured(id, turn)
	} else {
		s.clearCaptured(id)
	}
	if s.open != nil {
		s.open.FactDeltas = append(s.open.FactDeltas, id)
	}
	return CommitResult{Success: true}
}

// CommitFactAs commits on behalf of handler after checking the tenant's
// fact-write authorization. A refusal is a governance violation and is
// recorded on the open turn.
func (s *Session) CommitFactAs(handler governance.Handler, id string, value any, source FactSource, confidence float64) CommitResult {
	if d := governance.CanWriteFacts(s.Config, handler); !d.Allowed {
		s.RecordViolation(Violation{
			Kind:    ViolationFactWrite,
			Handler: handler,
			Reason:  d.Reason,
			Detail:  id,
		})
		return rejected(RejectNotAuthorized)
	}
	return s.CommitFact(id, value, source, confidence)
}

// Fact returns a fact by id.
func (s *Session) Fact(id string) (*Fact, bool) {
	f, ok := s.Facts[id]
	return f, ok
}

// HasFact reports whether id holds a non-empty value.
func (s *Session) HasFact(id string) bool {
	return s.Facts[id].present()
}

// SimplifiedFacts maps fact ids to bare values.
func (s *Session) SimplifiedFacts() map[string]any {
	out := make(map[string]any, len(s.Facts))
	for id, f := range s.Facts {
		out[id] = f.Value
	}
	return out
}

func supportedValue(v any) bool {
	switch x := v.(type) {
	case nil, string, bool, int, int32, int64:
		return true
	case float32:
		return !math.IsNaN(float64(x)) && !math.IsInf(float64(x), 0)
	case float64:
		return !math.IsNaN(x) && !math.IsInf(x, 0)
	}
	return false
}
