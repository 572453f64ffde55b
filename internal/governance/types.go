package governance

import (
	"fmt"
	"slices"
	"time"
)

// Phase is the conversation phase of a call.
type Phase string

const (
	PhaseGreeting  Phase = "GREETING"
	PhaseDiscovery Phase = "DISCOVERY"
	PhaseBooking   Phase = "BOOKING"
	PhaseComplete  Phase = "COMPLETE"
)

var phaseOrder = map[Phase]int{
	PhaseGreeting:  0,
	PhaseDiscovery: 1,
	PhaseBooking:   2,
	PhaseComplete:  3,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Rank orders phases for monotonic transition checks.
func (p Phase) Rank() int {
	return phaseOrder[p]
}

// Handler names a candidate producer of a turn's reply or facts.
type Handler string

const (
	HandlerEscalation Handler = "escalation"
	HandlerBooking    Handler = "booking"
	HandlerScenario   Handler = "scenario"
	HandlerFallback   Handler = "fallback"
	// HandlerCapture writes facts from upstream extraction; it never replies.
	HandlerCapture Handler = "capture"
)

var routable = []Handler{HandlerEscalation, HandlerBooking, HandlerScenario, HandlerFallback}

// Trigger is a signal that may justify escalating to a human.
type Trigger string

const (
	TriggerExplicitRequest Trigger = "explicit_request"
	TriggerFrustration     Trigger = "frustration"
	TriggerLoopDetected    Trigger = "loop_detected"
)

// LoopAction is what the orchestrator does once a response loop is detected.
type LoopAction string

const (
	LoopEscalate LoopAction = "escalate"
	LoopRephrase LoopAction = "rephrase"
	LoopIgnore   LoopAction = "none"
)

// Config is the governance configuration for one tenant.
type Config struct {
	TenantID      string              `koanf:"tenant_id" json:"tenant_id"`
	Version       string              `koanf:"version" json:"version"`
	CaptureGoals  CaptureGoals        `koanf:"capture_goals" json:"capture_goals"`
	ContextWindow ContextWindowConfig `koanf:"context_window" json:"context_window"`
	Handlers      Handlers            `koanf:"handlers" json:"handlers"`
	RouterOrder   []Handler           `koanf:"router_order" json:"router_order"`
	LoopDetection LoopDetection       `koanf:"loop_detection" json:"loop_detection"`
	Sources       []SourceDescriptor  `koanf:"sources" json:"sources"`
	Booking       BookingConfig       `koanf:"booking" json:"booking"`
	Style         Style               `koanf:"style" json:"style"`
}

// CaptureGoals declares the fields the agent must, should and may capture.
type CaptureGoals struct {
	Must                    []string          `koanf:"must" json:"must"`
	Should                  []string          `koanf:"should" json:"should"`
	Nice                    []string          `koanf:"nice" json:"nice"`
	MinTurnsWithoutProgress int               `koanf:"min_turns_without_progress" json:"min_turns_without_progress"`
	PromptDesired           bool              `koanf:"prompt_desired" json:"prompt_desired"`
	Prompts                 map[string]string `koanf:"prompts" json:"prompts,omitempty"`
}

// ContextWindowConfig sizes the window handed to the fallback interpreter.
type ContextWindowConfig struct {
	MaxTurns     int  `koanf:"max_turns" json:"max_turns"`
	IncludeFacts bool `koanf:"include_facts" json:"include_facts"`
}

// Handlers holds per-handler switches and admission thresholds.
type Handlers struct {
	Scenario   ScenarioHandler   `koanf:"scenario" json:"scenario"`
	Booking    BookingHandler    `koanf:"booking" json:"booking"`
	Fallback   FallbackHandler   `koanf:"fallback" json:"fallback"`
	Escalation EscalationHandler `koanf:"escalation" json:"escalation"`
}

type ScenarioHandler struct {
	Enabled            bool    `koanf:"enabled" json:"enabled"`
	MinConfidence      float64 `koanf:"min_confidence" json:"min_confidence"`
	AllowDuringBooking bool    `koanf:"allow_during_booking" json:"allow_during_booking"`
}

type BookingHandler struct {
	Enabled      bool    `koanf:"enabled" json:"enabled"`
	ConsentFloor float64 `koanf:"consent_floor" json:"consent_floor"`
}

type FallbackHandler struct {
	Enabled         bool `koanf:"enabled" json:"enabled"`
	AllowFactWrites bool `koanf:"allow_fact_writes" json:"allow_fact_writes"`
}

type EscalationHandler struct {
	Enabled         bool      `koanf:"enabled" json:"enabled"`
	AllowedTriggers []Trigger `koanf:"allowed_triggers" json:"allowed_triggers"`
	Response        string    `koanf:"response" json:"response"`
}

// LoopDetection configures the repeated-response detector.
type LoopDetection struct {
	MaxRepeatedResponses int        `koanf:"max_repeated_responses" json:"max_repeated_responses"`
	OnLoop               LoopAction `koanf:"on_loop" json:"on_loop"`
}

// SourceDescriptor ranks one knowledge source for the cascade.
// Priority 1 is consulted first.
type SourceDescriptor struct {
	SourceID            string  `koanf:"source_id" json:"source_id"`
	Priority            int     `koanf:"priority" json:"priority"`
	ConfidenceThreshold float64 `koanf:"confidence_threshold" json:"confidence_threshold"`
	Enabled             bool    `koanf:"enabled" json:"enabled"`
	TimeoutMS           int     `koanf:"timeout_ms" json:"timeout_ms,omitempty"`
	// Phases restricts the source to these conversation phases. Empty
	// means every phase.
	Phases []Phase `koanf:"phases" json:"phases,omitempty"`
}

// Timeout returns the per-source timeout, or def when unset.
func (d SourceDescriptor) Timeout(def time.Duration) time.Duration {
	if d.TimeoutMS > 0 {
		return time.Duration(d.TimeoutMS) * time.Millisecond
	}
	return def
}

// BookingConfig lists the ordered steps of the booking flow.
type BookingConfig struct {
	Steps        []BookingStep `koanf:"steps" json:"steps"`
	Confirmation []string      `koanf:"confirmation" json:"confirmation"`
}

// BookingStep collects one fact.
type BookingStep struct {
	Name   string `koanf:"name" json:"name"`
	Field  string `koanf:"field" json:"field"`
	Prompt string `koanf:"prompt" json:"prompt"`
}

// Style shapes replies for voice output.
type Style struct {
	MaxSentences    int      `koanf:"max_sentences" json:"max_sentences"`
	Acknowledgments []string `koanf:"acknowledgments" json:"acknowledgments"`
	AckRate         float64  `koanf:"ack_rate" json:"ack_rate"`
	SafeResponse    string   `koanf:"safe_response" json:"safe_response"`
}

// Default returns the configuration optional keys fall back to.
// TenantID and Version are left empty; they are always required.
func Default() *Config {
	return &Config{
		CaptureGoals: CaptureGoals{
			Must:                    []string{"name", "phone"},
			Should:                  []string{"issue"},
			MinTurnsWithoutProgress: 2,
		},
		ContextWindow: ContextWindowConfig{MaxTurns: 6, IncludeFacts: true},
		Handlers: Handlers{
			Scenario: ScenarioHandler{Enabled: true, MinConfidence: 0.75},
			Booking:  BookingHandler{Enabled: true, ConsentFloor: 0.7},
			Fallback: FallbackHandler{Enabled: true},
			Escalation: EscalationHandler{
				Enabled:         true,
				AllowedTriggers: []Trigger{TriggerExplicitRequest, TriggerFrustration, TriggerLoopDetected},
				Response:        "Let me connect you with someone from our team who can help.",
			},
		},
		RouterOrder:   []Handler{HandlerEscalation, HandlerBooking, HandlerScenario, HandlerFallback},
		LoopDetection: LoopDetection{MaxRepeatedResponses: 2, OnLoop: LoopEscalate},
		Booking: BookingConfig{
			Steps: []BookingStep{
				{Name: "collect_name", Field: "name", Prompt: "Great, let's get you booked. What name should I put this under?"},
				{Name: "collect_phone", Field: "phone", Prompt: "And what's the best phone number to reach you?"},
				{Name: "collect_time", Field: "preferred_time", Prompt: "What day and time works best for you?"},
			},
			Confirmation: []string{
				"You're all set. We'll see you then.",
				"Perfect, your appointment is booked.",
			},
		},
		Style: Style{
			MaxSentences:    3,
			Acknowledgments: []string{"Sure.", "Got it.", "Okay."},
			AckRate:         0.3,
			SafeResponse:    "I'm sorry, could you say that one more time?",
		},
	}
}

// Validate checks structural invariants. Errors wrap ErrInvalidConfig or a
// more specific sentinel.
func (c *Config) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("%w: tenant_id", ErrMissingRequired)
	}
	if c.Version == "" {
		return fmt.Errorf("%w: version", ErrMissingRequired)
	}

	seen := map[string]string{}
	for tier, fields := range map[string][]string{
		"must": c.CaptureGoals.Must, "should": c.CaptureGoals.Should, "nice": c.CaptureGoals.Nice,
	} {
		for _, f := range fields {
			if f == "" {
				return fmt.Errorf("%w: empty field in capture_goals.%s", ErrInvalidConfig, tier)
			}
			if prev, dup := seen[f]; dup {
				return fmt.Errorf("%w: %q in %s and %s", ErrCaptureOverlap, f, prev, tier)
			}
			seen[f] = tier
		}
	}
	if c.CaptureGoals.MinTurnsWithoutProgress < 0 {
		return fmt.Errorf("%w: capture_goals.min_turns_without_progress must be >= 0", ErrInvalidConfig)
	}
	if c.ContextWindow.MaxTurns < 1 {
		return fmt.Errorf("%w: context_window.max_turns must be >= 1", ErrInvalidConfig)
	}

	for name, v := range map[string]float64{
		"handlers.scenario.min_confidence": c.Handlers.Scenario.MinConfidence,
		"handlers.booking.consent_floor":   c.Handlers.Booking.ConsentFloor,
		"style.ack_rate":                   c.Style.AckRate,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be in [0,1], got %v", ErrInvalidConfig, name, v)
		}
	}
	for _, tr := range c.Handlers.Escalation.AllowedTriggers {
		switch tr {
		case TriggerExplicitRequest, TriggerFrustration, TriggerLoopDetected:
		default:
			return fmt.Errorf("%w: unknown escalation trigger %q", ErrInvalidConfig, tr)
		}
	}

	if len(c.RouterOrder) == 0 {
		return fmt.Errorf("%w: router_order is empty", ErrInvalidConfig)
	}
	order := map[Handler]bool{}
	for _, h := range c.RouterOrder {
		if !slices.Contains(routable, h) {
			return fmt.Errorf("%w: router_order has unknown handler %q", ErrInvalidConfig, h)
		}
		if order[h] {
			return fmt.Errorf("%w: router_order lists %q twice", ErrInvalidConfig, h)
		}
		order[h] = true
	}

	if c.LoopDetection.MaxRepeatedResponses < 1 {
		return fmt.Errorf("%w: loop_detection.max_repeated_responses must be >= 1", ErrInvalidConfig)
	}
	switch c.LoopDetection.OnLoop {
	case LoopEscalate, LoopRephrase, LoopIgnore:
	default:
		return fmt.Errorf("%w: unknown loop_detection.on_loop %q", ErrInvalidConfig, c.LoopDetection.OnLoop)
	}

	ids := map[string]bool{}
	for i, s := range c.Sources {
		if s.SourceID == "" {
			return fmt.Errorf("%w: sources[%d].source_id is empty", ErrInvalidConfig, i)
		}
		if ids[s.SourceID] {
			return fmt.Errorf("%w: %q", ErrDuplicateSource, s.SourceID)
		}
		ids[s.SourceID] = true
		if s.Priority < 1 {
			return fmt.Errorf("%w: sources[%s].priority must be >= 1", ErrInvalidConfig, s.SourceID)
		}
		if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
			return fmt.Errorf("%w: sources[%s].confidence_threshold must be in [0,1]", ErrInvalidConfig, s.SourceID)
		}
		if s.TimeoutMS < 0 {
			return fmt.Errorf("%w: sources[%s].timeout_ms must be >= 0", ErrInvalidConfig, s.SourceID)
		}
		for _, p := range s.Phases {
			if !p.Valid() {
				return fmt.Errorf("%w: sources[%s].phases: unknown phase %q", ErrInvalidConfig, s.SourceID, p)
			}
		}
	}

	for i, st := range c.Booking.Steps {
		if st.Name == "" || st.Field == "" {
			return fmt.Errorf("%w: booking.steps[%d] needs name and field", ErrInvalidConfig, i)
		}
	}
	if c.Style.MaxSentences < 0 {
		return fmt.Errorf("%w: style.max_sentences must be >= 0", ErrInvalidConfig)
	}
	if c.Style.SafeResponse == "" {
		return fmt.Errorf("%w: style.safe_response is empty", ErrInvalidConfig)
	}
	return nil
}
