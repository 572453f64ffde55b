package governance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testConfig() *Config {
	cfg := Default()
	cfg.TenantID = "acme_dental"
	cfg.Version = "1"
	return cfg
}

func TestShouldUseScenarioMatcher(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Config)
		state      State
		confidence float64
		want       Decision
	}{
		{"confident match", nil, State{Phase: PhaseDiscovery}, 0.9, allow(ReasonConfidenceMet)},
		{"exactly at minimum", nil, State{}, 0.75, allow(ReasonConfidenceMet)},
		{"below minimum", nil, State{}, 0.5, deny(ReasonBelowConfidence)},
		{"disabled", func(c *Config) { c.Handlers.Scenario.Enabled = false }, State{}, 0.99, deny(ReasonHandlerDisabled)},
		{"booking locked", nil, State{Phase: PhaseBooking, BookingLocked: true}, 0.99, deny(ReasonBookingLocked)},
		{"booking locked but allowed", func(c *Config) { c.Handlers.Scenario.AllowDuringBooking = true },
			State{Phase: PhaseBooking, BookingLocked: true}, 0.99, allow(ReasonConfidenceMet)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			assert.Equal(t, tt.want, ShouldUseScenarioMatcher(cfg, tt.state, tt.confidence))
		})
	}
}

func TestShouldUseBookingHandler_AlwaysAllowedWhenLocked(t *testing.T) {
	cfg := testConfig()
	cfg.Handlers.Booking.Enabled = false
	locked := State{Phase: PhaseBooking, BookingLocked: true}

	for _, consent := range []bool{true, false} {
		for _, conf := range []float64{0, 0.3, 1} {
			d := ShouldUseBookingHandler(cfg, locked, consent, conf)
			assert.True(t, d.Allowed, "consent=%v conf=%v", consent, conf)
			assert.Equal(t, ReasonBookingInProgress, d.Reason)
		}
	}
}

func TestShouldUseBookingHandler_Consent(t *testing.T) {
	cfg := testConfig()
	st := State{Phase: PhaseDiscovery}

	assert.Equal(t, deny(ReasonNoConsent), ShouldUseBookingHandler(cfg, st, false, 0.99))
	assert.Equal(t, deny(ReasonConsentBelowFloor), ShouldUseBookingHandler(cfg, st, true, 0.5))
	assert.Equal(t, allow(ReasonConsentConfirmed), ShouldUseBookingHandler(cfg, st, true, 0.7))

	cfg.Handlers.Booking.Enabled = false
	assert.Equal(t, deny(ReasonHandlerDisabled), ShouldUseBookingHandler(cfg, st, true, 0.99))
}

func TestShouldUseFallbackInterpreter(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, allow(ReasonDefaultHandler), ShouldUseFallbackInterpreter(cfg, State{}))

	cfg.Handlers.Fallback.Enabled = false
	assert.Equal(t, deny(ReasonHandlerDisabled), ShouldUseFallbackInterpreter(cfg, State{}))
}

func TestShouldEscalate(t *testing.T) {
	cfg := testConfig()
	cfg.Handlers.Escalation.AllowedTriggers = []Trigger{TriggerExplicitRequest, TriggerLoopDetected}

	assert.Equal(t, allow(ReasonTriggerAllowed), ShouldEscalate(cfg, State{}, TriggerExplicitRequest))
	assert.Equal(t, allow(ReasonTriggerAllowed), ShouldEscalate(cfg, State{}, TriggerLoopDetected))
	assert.Equal(t, deny(ReasonTriggerNotAllowed), ShouldEscalate(cfg, State{}, TriggerFrustration))
	assert.Equal(t, deny(ReasonAlreadyEscalated),
		ShouldEscalate(cfg, State{EscalationTriggered: true}, TriggerExplicitRequest))

	cfg.Handlers.Escalation.Enabled = false
	assert.Equal(t, deny(ReasonHandlerDisabled), ShouldEscalate(cfg, State{}, TriggerExplicitRequest))
}

func TestSourceAllowed(t *testing.T) {
	always := SourceDescriptor{SourceID: "faq"}
	discovery := SourceDescriptor{SourceID: "promos", Phases: []Phase{PhaseGreeting, PhaseDiscovery}}

	assert.Equal(t, allow(ReasonSourceAllowed), SourceAllowed(always, State{Phase: PhaseBooking}))
	assert.Equal(t, allow(ReasonSourceAllowed), SourceAllowed(discovery, State{Phase: PhaseDiscovery}))
	assert.Equal(t, deny(ReasonPhaseNotAllowed), SourceAllowed(discovery, State{Phase: PhaseBooking}))
}

func TestCanWriteFacts(t *testing.T) {
	cfg := testConfig()

	for _, h := range []Handler{HandlerScenario, HandlerBooking, HandlerEscalation, HandlerCapture} {
		assert.True(t, CanWriteFacts(cfg, h).Allowed, h)
	}
	assert.Equal(t, deny(ReasonWriteNotAuthorized), CanWriteFacts(cfg, HandlerFallback))
	assert.Equal(t, deny(ReasonUnknownHandler), CanWriteFacts(cfg, Handler("llm")))

	cfg.Handlers.Fallback.AllowFactWrites = true
	assert.True(t, CanWriteFacts(cfg, HandlerFallback).Allowed)
}

func TestRouterOrder(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, []Handler{HandlerEscalation, HandlerBooking, HandlerScenario, HandlerFallback}, RouterOrder(cfg))

	cfg.RouterOrder = []Handler{HandlerScenario, HandlerBooking}
	assert.Equal(t, []Handler{HandlerScenario, HandlerBooking, HandlerFallback}, RouterOrder(cfg))
	assert.Len(t, cfg.RouterOrder, 2, "configured order must not be mutated")
}

func TestPhase(t *testing.T) {
	assert.True(t, PhaseBooking.Valid())
	assert.False(t, Phase("HOLD").Valid())
	assert.Less(t, PhaseGreeting.Rank(), PhaseDiscovery.Rank())
	assert.Less(t, PhaseBooking.Rank(), PhaseComplete.Rank())
}
