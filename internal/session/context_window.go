package session

import "github.com/fyrsmithlabs/voxgov/internal/governance"

// Roles of context window entries.
const (
	RoleCaller = "caller"
	RoleAgent  = "agent"
)

// ContextEntry is one utterance in the window.
type ContextEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
	Turn int    `json:"turn"`
}

// ContextWindow is the bounded view handed to the fallback interpreter.
type ContextWindow struct {
	Entries         []ContextEntry   `json:"entries"`
	Facts           map[string]any   `json:"facts,omitempty"`
	Phase           governance.Phase `json:"phase"`
	BookingLocked   bool             `json:"booking_locked"`
	MissingRequired []string         `json:"missing_required"`
	MissingDesired  []string         `json:"missing_desired"`
}

// ContextWindow returns the last maxTurns committed turns as alternating
// caller and agent entries, plus facts when the tenant includes them. A
// non-positive maxTurns uses the configured window size.
func (s *Session) ContextWindow(maxTurns int) ContextWindow {
	if maxTurns <= 0 {
		maxTurns = s.Config.ContextWindow.MaxTurns
	}
	start := len(s.Turns) - maxTurns
	if start < 0 {
		start = 0
	}

	w := ContextWindow{
		Entries:         make([]ContextEntry, 0, 2*(len(s.Turns)-start)),
		Phase:           s.Phase.Current,
		BookingLocked:   s.Booking.ModeLocked,
		MissingRequired: s.MissingRequiredFields(),
		MissingDesired:  s.MissingDesiredFields(),
	}
	for _, t := range s.Turns[start:] {
		in := t.Input.CleanedInput
		if in == "" {
			in = t.Input.RawInput
		}
		w.Entries = append(w.Entries,
			ContextEntry{Role: RoleCaller, Text: in, Turn: t.Index},
			ContextEntry{Role: RoleAgent, Text: t.Response, Turn: t.Index},
		)
	}
	if s.Config.ContextWindow.IncludeFacts {
		w.Facts = s.SimplifiedFacts()
	}
	return w
}
