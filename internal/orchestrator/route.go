package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voxgov/internal/alerts"
	"github.com/fyrsmithlabs/voxgov/internal/cascade"
	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/fyrsmithlabs/voxgov/internal/session"
)

// turn carries the state of one ProcessTurn call through the router.
type turn struct {
	s       *session.Session
	cfg     *governance.Config
	req     TurnRequest
	sig     Signals
	input   string
	index   int
	cascade *cascade.Outcome
	booking *BookingStep

	escalated governance.Trigger
	degraded  bool
}

// routeFunc runs one handler. It returns the reply and the admission
// decision; a reply is only used when the decision allows it.
type routeFunc func(ctx context.Context, t *turn) (string, governance.Decision)

func denied(r governance.Reason) governance.Decision {
	return governance.Decision{Reason: r}
}

// route walks the router order and returns the winning handler and reply.
// Every other handler is recorded on the turn with the reason it lost.
func (o *Orchestrator) route(ctx context.Context, t *turn) (governance.Handler, string) {
	var (
		winner governance.Handler
		reply  string
	)
	for _, h := range governance.RouterOrder(t.cfg) {
		if winner != "" {
			t.s.Reject(h, governance.ReasonPreferredByPriority)
			continue
		}
		fn, ok := o.handlers[h]
		if !ok {
			t.s.Reject(h, governance.ReasonUnknownHandler)
			continue
		}
		text, d := fn(ctx, t)
		if !d.Allowed || text == "" {
			reason := d.Reason
			if d.Allowed {
				reason = governance.ReasonNoMatch
			}
			t.s.Reject(h, reason)
			o.metrics.Denials.WithLabelValues(string(h), string(reason)).Inc()
			continue
		}
		winner, reply = h, text
	}
	return winner, reply
}

func (o *Orchestrator) routeEscalation(ctx context.Context, t *turn) (string, governance.Decision) {
	trig, ok := t.sig.trigger()
	if !ok {
		return "", denied(governance.ReasonNoMatch)
	}
	d := t.s.ApproveEscalation(trig)
	if !d.Allowed {
		if d.Reason != governance.ReasonAlreadyEscalated {
			t.s.RecordViolation(session.Violation{
				Kind:    session.ViolationHandlerDisabled,
				Handler: governance.HandlerEscalation,
				Reason:  d.Reason,
				Detail:  string(trig),
			})
		}
		return "", d
	}
	t.escalated = trig
	return escalationResponse(t.cfg), d
}

func (o *Orchestrator) routeBooking(_ context.Context, t *turn) (string, governance.Decision) {
	d := governance.ShouldUseBookingHandler(t.cfg, t.s.GovernanceState(), t.sig.BookingConsent, t.sig.ConsentConfidence)
	if !d.Allowed {
		if t.sig.BookingConsent && d.Reason == governance.ReasonHandlerDisabled {
			t.s.RecordViolation(session.Violation{
				Kind:    session.ViolationHandlerDisabled,
				Handler: governance.HandlerBooking,
				Reason:  d.Reason,
				Detail:  "booking consent",
			})
		}
		return "", d
	}
	if d.Reason == governance.ReasonConsentConfirmed {
		t.s.SetBookingConsent(t.index)
	}
	if !t.s.Booking.ModeLocked {
		t.s.LockBookingMode()
	}
	step := o.booking.Step(t.s, t.input)
	t.booking = &step
	return step.Response, d
}

func (o *Orchestrator) routeScenario(ctx context.Context, t *turn) (string, governance.Decision) {
	// Gates that do not depend on the match are checked before any source
	// is queried.
	if d := governance.ShouldUseScenarioMatcher(t.cfg, t.s.GovernanceState(), 1); !d.Allowed {
		return "", d
	}
	if o.cascade == nil || t.input == "" {
		return "", denied(governance.ReasonNoMatch)
	}

	st := t.s.GovernanceState()
	out := o.cascade.Run(ctx, cascade.Request{
		TenantID: t.cfg.TenantID,
		Query:    t.input,
		Allow: func(d governance.SourceDescriptor) bool {
			return governance.SourceAllowed(d, st).Allowed
		},
		Style: &t.cfg.Style,
	})
	t.cascade = &out
	for _, a := range out.Attempts {
		if a.Status != cascade.AttemptSkippedPrefilter && a.Status != cascade.AttemptNotAllowed {
			t.s.RecordExternalCall()
			break
		}
	}

	switch out.Status {
	case cascade.StatusErrorFallback:
		t.degraded = true
		return "", denied(governance.ReasonNoMatch)
	case cascade.StatusNoMatch:
		return "", denied(governance.ReasonNoMatch)
	}
	d := governance.ShouldUseScenarioMatcher(t.cfg, t.s.GovernanceState(), out.Confidence)
	if !d.Allowed {
		return "", d
	}
	return out.Response, d
}

func (o *Orchestrator) routeFallback(ctx context.Context, t *turn) (string, governance.Decision) {
	d := governance.ShouldUseFallbackInterpreter(t.cfg, t.s.GovernanceState())
	if !d.Allowed {
		return "", d
	}
	if o.interpreter == nil {
		return "", denied(governance.ReasonHandlerDisabled)
	}
	t.s.RecordExternalCall()
	reply, err := o.interpreter.Interpret(ctx, t.s.ContextWindow(t.cfg.ContextWindow.MaxTurns), t.input)
	if err != nil {
		o.logger.Warn(ctx, "fallback interpreter failed", zap.Error(err))
		t.degraded = true
		return "", denied(governance.ReasonNoMatch)
	}
	return reply, d
}

// applyLoopAction reacts to a detected response loop.
func (o *Orchestrator) applyLoopAction(ctx context.Context, t *turn, sig session.LoopSignal, handler governance.Handler, reply string) (governance.Handler, string) {
	o.emit(ctx, alerts.NewEvent(alerts.TypeLoopDetected, t.cfg.TenantID, t.req.CallID, t.index, map[string]string{
		"count":   itoa(sig.Count),
		"action":  string(sig.Action),
		"handler": string(handler),
	}))

	switch sig.Action {
	case governance.LoopEscalate:
		d := t.s.ApproveEscalation(governance.TriggerLoopDetected)
		if !d.Allowed {
			o.logger.Info(ctx, "loop escalation not approved", zap.String("reason", string(d.Reason)))
			return handler, reply
		}
		t.escalated = governance.TriggerLoopDetected
		return governance.HandlerEscalation, escalationResponse(t.cfg)
	case governance.LoopRephrase:
		return handler, "Let me put that another way. " + reply
	}
	return handler, reply
}

func escalationResponse(cfg *governance.Config) string {
	if r := cfg.Handlers.Escalation.Response; r != "" {
		return r
	}
	return "Let me connect you with someone who can help."
}
