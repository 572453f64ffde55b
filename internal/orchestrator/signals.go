package orchestrator

import (
	"regexp"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
)

// Triage labels the orchestrator understands.
const (
	LabelBookingConsent = "booking_consent"
	LabelHumanRequest   = "human_request"
	LabelFrustration    = "frustration"
)

// minTriageConfidence is the floor for escalation-related triage labels.
// Consent carries its own confidence to the booking admission rule.
const minTriageConfidence = 0.5

var humanRequest = regexp.MustCompile(`(?i)\b(?:(?:speak|talk) (?:to|with) (?:a |an )?(?:human|person|someone|agent|representative|operator)|real person|representative|operator)\b`)

// detectSignals merges explicit request signals with triage labels and a
// phrase check for requests to reach a person. An explicit consent signal
// without a confidence counts as certain; triage consent keeps its own.
func detectSignals(req TurnRequest) Signals {
	sig := req.Signals
	if sig.BookingConsent && sig.ConsentConfidence == 0 {
		sig.ConsentConfidence = 1
	}
	for _, c := range req.Triage {
		switch c.Label {
		case LabelBookingConsent:
			sig.BookingConsent = true
			sig.ConsentConfidence = max(sig.ConsentConfidence, c.Confidence)
		case LabelHumanRequest:
			if c.Confidence >= minTriageConfidence {
				sig.EscalationRequested = true
			}
		case LabelFrustration:
			if c.Confidence >= minTriageConfidence {
				sig.Frustration = true
			}
		}
	}
	if !sig.EscalationRequested && humanRequest.MatchString(req.text()) {
		sig.EscalationRequested = true
	}
	return sig
}

// trigger returns the escalation trigger the caller raised, explicit
// requests first.
func (s Signals) trigger() (governance.Trigger, bool) {
	switch {
	case s.EscalationRequested:
		return governance.TriggerExplicitRequest, true
	case s.Frustration:
		return governance.TriggerFrustration, true
	}
	return "", false
}
