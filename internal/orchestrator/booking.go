package orchestrator

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/fyrsmithlabs/voxgov/internal/session"
)

// Picker chooses one of several phrasings.
type Picker interface {
	Pick(options []string) string
}

type firstPicker struct{}

func (firstPicker) Pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[0]
}

// BookingStep is what the booking flow did on one turn.
type BookingStep struct {
	Response  string
	Step      string
	Completed bool
	// Captured is the field filled from the caller's answer, if any.
	Captured string
}

// BookingFlow walks the tenant's configured booking steps.
type BookingFlow struct {
	picker Picker
}

// NewBookingFlow returns a flow choosing confirmations with picker. A nil
// picker always uses the first confirmation.
func NewBookingFlow(picker Picker) *BookingFlow {
	if picker == nil {
		picker = firstPicker{}
	}
	return &BookingFlow{picker: picker}
}

// Step advances the booking on s.
//
// If the previous turn asked for a step's field and the caller's answer
// did not arrive as an extracted fact, the answer itself is committed as
// the field value. Steps whose field is present are completed; the first
// missing one is asked for. When every step is done the booking is
// confirmed and the call moves to COMPLETE.
func (b *BookingFlow) Step(s *session.Session, answer string) BookingStep {
	var out BookingStep
	steps := s.Config.Booking.Steps

	if cur := s.Booking.CurrentStep; cur != "" {
		if st, ok := findStep(steps, cur); ok && !s.HasFact(st.Field) && strings.TrimSpace(answer) != "" {
			res := s.CommitFactAs(governance.HandlerBooking, st.Field, strings.TrimSpace(answer),
				session.SourceBooking, session.DefaultConfidence[session.SourceBooking])
			if res.Success {
				out.Captured = st.Field
			}
		}
	}

	for _, st := range steps {
		if s.HasFact(st.Field) {
			s.CompleteBookingStep(st.Name)
			continue
		}
		s.SetBookingStep(st.Name)
		out.Step = st.Name
		out.Response = st.Prompt
		if out.Response == "" {
			out.Response = fmt.Sprintf("What's your %s?", strings.ReplaceAll(st.Field, "_", " "))
		}
		return out
	}

	out.Completed = true
	out.Response = b.picker.Pick(s.Config.Booking.Confirmation)
	if out.Response == "" {
		out.Response = "You're all set."
	}
	_ = s.TransitionPhase(governance.PhaseComplete, "booking_completed")
	return out
}

func findStep(steps []governance.BookingStep, name string) (governance.BookingStep, bool) {
	for _, st := range steps {
		if st.Name == name {
			return st, true
		}
	}
	return governance.BookingStep{}, false
}
