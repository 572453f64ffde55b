package governance

import "slices"

// Reason explains an admission decision.
type Reason string

const (
	ReasonHandlerDisabled     Reason = "handler_disabled"
	ReasonConfidenceMet       Reason = "confidence_met"
	ReasonBelowConfidence     Reason = "below_confidence"
	ReasonBookingLocked       Reason = "booking_mode_locked"
	ReasonBookingInProgress   Reason = "booking_in_progress"
	ReasonConsentConfirmed    Reason = "consent_confirmed"
	ReasonNoConsent           Reason = "no_consent_signal"
	ReasonConsentBelowFloor   Reason = "consent_below_floor"
	ReasonDefaultHandler      Reason = "default_handler"
	ReasonTriggerAllowed      Reason = "trigger_allowed"
	ReasonTriggerNotAllowed   Reason = "trigger_not_allowed"
	ReasonAlreadyEscalated    Reason = "already_escalated"
	ReasonWriteAuthorized     Reason = "write_authorized"
	ReasonWriteNotAuthorized  Reason = "fact_write_not_authorized"
	ReasonUnknownHandler      Reason = "unknown_handler"
	ReasonNoMatch             Reason = "no_match"
	ReasonCallComplete        Reason = "call_complete"
	ReasonPreferredByPriority Reason = "lower_router_priority"
	ReasonSourceAllowed       Reason = "source_allowed"
	ReasonPhaseNotAllowed     Reason = "phase_not_allowed"
)

// Decision is the result of an admission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

func allow(r Reason) Decision { return Decision{Allowed: true, Reason: r} }
func deny(r Reason) Decision  { return Decision{Allowed: false, Reason: r} }

// State is the slice of session state admission rules read.
type State struct {
	Phase               Phase
	BookingLocked       bool
	ConsentDetected     bool
	EscalationTriggered bool
}

// ShouldUseScenarioMatcher admits a scenario match of the given confidence.
func ShouldUseScenarioMatcher(cfg *Config, st State, confidence float64) Decision {
	h := cfg.Handlers.Scenario
	switch {
	case !h.Enabled:
		return deny(ReasonHandlerDisabled)
	case st.BookingLocked && !h.AllowDuringBooking:
		return deny(ReasonBookingLocked)
	case confidence < h.MinConfidence:
		return deny(ReasonBelowConfidence)
	}
	return allow(ReasonConfidenceMet)
}

// SourceAllowed reports whether the cascade may consult a source in the
// call's current phase.
func SourceAllowed(desc SourceDescriptor, st State) Decision {
	if len(desc.Phases) > 0 && !slices.Contains(desc.Phases, st.Phase) {
		return deny(ReasonPhaseNotAllowed)
	}
	return allow(ReasonSourceAllowed)
}

// ShouldUseBookingHandler admits the booking flow. A locked booking is
// always admitted so an in-progress booking is never abandoned; otherwise a
// consent signal at or above the configured floor is required.
func ShouldUseBookingHandler(cfg *Config, st State, consentDetected bool, consentConfidence float64) Decision {
	if st.BookingLocked {
		return allow(ReasonBookingInProgress)
	}
	h := cfg.Handlers.Booking
	switch {
	case !h.Enabled:
		return deny(ReasonHandlerDisabled)
	case !consentDetected:
		return deny(ReasonNoConsent)
	case consentConfidence < h.ConsentFloor:
		return deny(ReasonConsentBelowFloor)
	}
	return allow(ReasonConsentConfirmed)
}

// ShouldUseFallbackInterpreter admits the fallback interpreter unless it is
// disabled.
func ShouldUseFallbackInterpreter(cfg *Config, _ State) Decision {
	if !cfg.Handlers.Fallback.Enabled {
		return deny(ReasonHandlerDisabled)
	}
	return allow(ReasonDefaultHandler)
}

// ShouldEscalate admits an escalation for an allow-listed trigger. The
// caller records the escalation on the session when allowed.
func ShouldEscalate(cfg *Config, st State, trigger Trigger) Decision {
	h := cfg.Handlers.Escalation
	switch {
	case !h.Enabled:
		return deny(ReasonHandlerDisabled)
	case st.EscalationTriggered:
		return deny(ReasonAlreadyEscalated)
	case !slices.Contains(h.AllowedTriggers, trigger):
		return deny(ReasonTriggerNotAllowed)
	}
	return allow(ReasonTriggerAllowed)
}

// CanWriteFacts reports whether handler may commit facts. The fallback
// interpreter's free-text inference is unverified, so it may write only
// when the tenant explicitly authorizes it.
func CanWriteFacts(cfg *Config, handler Handler) Decision {
	switch handler {
	case HandlerScenario, HandlerBooking, HandlerEscalation, HandlerCapture:
		return allow(ReasonWriteAuthorized)
	case HandlerFallback:
		if cfg.Handlers.Fallback.AllowFactWrites {
			return allow(ReasonWriteAuthorized)
		}
		return deny(ReasonWriteNotAuthorized)
	}
	return deny(ReasonUnknownHandler)
}

// RouterOrder returns the configured handler priority order. The fallback
// interpreter is appended when absent so every turn has a last resort.
func RouterOrder(cfg *Config) []Handler {
	order := slices.Clone(cfg.RouterOrder)
	if !slices.Contains(order, HandlerFallback) {
		order = append(order, HandlerFallback)
	}
	return order
}
