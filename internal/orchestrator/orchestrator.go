package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voxgov/internal/alerts"
	"github.com/fyrsmithlabs/voxgov/internal/archive"
	"github.com/fyrsmithlabs/voxgov/internal/cascade"
	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/fyrsmithlabs/voxgov/internal/interpreter"
	"github.com/fyrsmithlabs/voxgov/internal/logging"
	"github.com/fyrsmithlabs/voxgov/internal/session"
	"github.com/fyrsmithlabs/voxgov/internal/store"
	"github.com/fyrsmithlabs/voxgov/internal/telemetry"
)

// Cascader runs the knowledge source cascade.
type Cascader interface {
	Run(ctx context.Context, req cascade.Request) cascade.Outcome
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCascade sets the cascade consulted by the scenario handler.
func WithCascade(c Cascader) Option {
	return func(o *Orchestrator) { o.cascade = c }
}

// WithInterpreter sets the fallback interpreter.
func WithInterpreter(i interpreter.Interpreter) Option {
	return func(o *Orchestrator) { o.interpreter = i }
}

// WithArchiver sets where finished calls are archived.
func WithArchiver(a archive.Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithEmitter sets the event emitter.
func WithEmitter(e alerts.Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithBookingFlow replaces the default booking flow.
func WithBookingFlow(b *BookingFlow) Option {
	return func(o *Orchestrator) { o.booking = b }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l.Named("orchestrator") }
}

// WithTracer sets the tracer for turn spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithClock overrides time.Now for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSafeResponse sets the reply used when a tenant configures none.
func WithSafeResponse(text string) Option {
	return func(o *Orchestrator) { o.safeResponse = text }
}

// Orchestrator runs governed turns. It is safe for concurrent use; turns
// for the same call are serialized.
type Orchestrator struct {
	provider    governance.Provider
	sessions    *session.Manager
	cascade     Cascader
	interpreter interpreter.Interpreter
	archiver    archive.Archiver
	emitter     alerts.Emitter
	booking     *BookingFlow

	handlers map[governance.Handler]routeFunc
	locks    *callLocks

	safeResponse string
	logger       *logging.Logger
	tracer       trace.Tracer
	metrics      *Metrics
	now          func() time.Time
}

// New builds an orchestrator loading tenant configuration from provider
// and sessions through sessions.
func New(provider governance.Provider, sessions *session.Manager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:     provider,
		sessions:     sessions,
		emitter:      alerts.Nop{},
		booking:      NewBookingFlow(nil),
		locks:        newCallLocks(),
		safeResponse: cascade.DefaultSafeResponse,
		logger:       logging.Nop(),
		tracer:       otel.Tracer("voxgov/orchestrator"),
		metrics:      NewMetrics(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.handlers = map[governance.Handler]routeFunc{
		governance.HandlerEscalation: o.routeEscalation,
		governance.HandlerBooking:    o.routeBooking,
		governance.HandlerScenario:   o.routeScenario,
		governance.HandlerFallback:   o.routeFallback,
	}
	return o
}

// ProcessTurn runs one turn end to end. It never returns an error: every
// failure is folded into a well-formed, possibly Degraded, response.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest) (resp TurnResponse) {
	start := o.now()
	ctx = logging.WithCall(ctx, logging.Call{TenantID: req.TenantID, CallID: req.CallID})
	ctx, span := o.tracer.Start(ctx, telemetry.SpanTurn, trace.WithAttributes(
		telemetry.AttrTenant.String(req.TenantID),
		telemetry.AttrCall.String(req.CallID),
	))

	resp = TurnResponse{CallID: req.CallID}
	var s *session.Session
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error(ctx, "turn panicked", zap.Any("panic", r), zap.Stack("stack"))
			if s != nil && s.OpenTurn() != nil {
				_, _ = s.AbandonTurn("panic")
			}
			resp = o.degrade(resp, nil, fmt.Errorf("internal error: %v", r))
		}
		resp.LatencyMs = float64(o.now().Sub(start)) / float64(time.Millisecond)
		result := "committed"
		switch {
		case resp.Abandoned:
			result = "abandoned"
		case resp.Degraded:
			result = "degraded"
		}
		o.metrics.Turns.WithLabelValues(string(resp.Handler), result).Inc()
		o.metrics.TurnDuration.WithLabelValues(string(resp.Handler)).Observe(resp.LatencyMs / 1000)
		span.SetAttributes(telemetry.AttrHandler.String(string(resp.Handler)),
			telemetry.AttrStatus.String(result))
		if resp.Error != "" {
			span.SetStatus(codes.Error, resp.Error)
		}
		span.End()
	}()

	if req.CallID == "" || req.TenantID == "" {
		return o.degrade(resp, nil, fmt.Errorf("%w: call_id and tenant_id are required", ErrInvalidRequest))
	}

	unlock := o.locks.lock(req.CallID)
	defer unlock()

	cfg, err := o.provider.Load(ctx, req.TenantID)
	if err != nil {
		o.logger.Error(ctx, "cannot load tenant governance", zap.Error(err))
		return o.degrade(resp, nil, err)
	}

	s = o.sessions.LoadOrCreate(ctx, session.Identity{
		CallID:   req.CallID,
		TenantID: req.TenantID,
		Caller:   req.Caller,
		Callee:   req.Callee,
	}, cfg)
	cfg = s.Config
	switch {
	case s.Identity.TenantID != req.TenantID:
		o.logger.Warn(ctx, "call id reused across tenants", zap.String("owner", s.Identity.TenantID))
		return o.degrade(resp, cfg, ErrTenantMismatch)
	case s.Outcome != nil:
		return o.degrade(resp, cfg, ErrCallEnded)
	}

	rec, err := s.StartTurn(session.TurnInput{
		RawInput:        req.Input,
		CleanedInput:    req.CleanedInput,
		InputConfidence: req.InputConfidence,
		Triage:          req.Triage,
	})
	if err != nil {
		return o.degrade(resp, cfg, err)
	}
	ctx = logging.WithTurn(ctx, rec.Index)
	t := &turn{s: s, cfg: cfg, req: req, sig: detectSignals(req), input: req.text(), index: rec.Index}

	if len(req.Facts) > 0 {
		rep := s.IngestFacts(governance.HandlerCapture, req.Facts)
		resp.Ingest = &rep
	}
	if s.Phase.Current == governance.PhaseGreeting && t.input != "" {
		_ = s.TransitionPhase(governance.PhaseDiscovery, "caller_engaged")
	}

	handler, reply := o.route(ctx, t)
	if handler == "" {
		reply = o.safe(cfg)
		t.degraded = true
	}

	if handler != governance.HandlerEscalation && handler != governance.HandlerBooking {
		if p := s.ShouldInjectCapturePrompt(); p.Inject {
			reply = reply + " " + p.Prompt
			resp.CapturePrompt = &p
		}
	}

	loop := s.CheckForResponseLoop(reply)
	resp.Loop = loop
	if loop.IsLoop {
		handler, reply = o.applyLoopAction(ctx, t, loop, handler, reply)
	}

	if err := ctx.Err(); err != nil {
		abandoned, _ := s.AbandonTurn(err.Error())
		o.logger.Info(ctx, "caller hung up mid-turn", zap.Error(err))
		resp.TurnIndex = abandoned.Index
		resp.Handler = handler
		resp.Abandoned = true
		resp.Error = err.Error()
		resp.Response = reply
		resp.Phase = s.Phase.Current
		return resp
	}

	s.Respond(handler, reply)
	committed, err := s.CommitTurn(o.now().Sub(start))
	if err != nil {
		return o.degrade(resp, cfg, err)
	}
	_ = o.sessions.Save(ctx, s)

	if t.escalated != "" {
		o.metrics.Escalations.WithLabelValues(string(t.escalated)).Inc()
		o.emit(ctx, alerts.NewEvent(alerts.TypeEscalationTriggered, cfg.TenantID, req.CallID, committed.Index,
			map[string]string{"trigger": string(t.escalated)}))
	}
	for _, v := range committed.Violations {
		o.metrics.Violations.WithLabelValues(string(v.Kind)).Inc()
		o.emit(ctx, alerts.NewEvent(alerts.TypeGovernanceViolation, cfg.TenantID, req.CallID, committed.Index,
			map[string]string{
				"kind":    string(v.Kind),
				"handler": string(v.Handler),
				"reason":  string(v.Reason),
				"detail":  v.Detail,
			}))
	}

	resp.TurnIndex = committed.Index
	resp.Response = reply
	resp.Handler = handler
	resp.Phase = s.Phase.Current
	resp.BookingLocked = s.Booking.ModeLocked
	resp.Escalated = s.Metrics.EscalationTriggered
	resp.Rejections = committed.Rejections
	resp.Violations = committed.Violations
	resp.Degraded = t.degraded
	if t.cascade != nil {
		resp.Cascade = &CascadeSummary{
			Status:     t.cascade.Status,
			SourceID:   t.cascade.SourceID,
			Confidence: t.cascade.Confidence,
			Attempts:   t.cascade.Attempts,
		}
	}
	o.logger.Debug(ctx, "turn committed",
		logging.Utterance("input", t.input),
		zap.String("handler", string(handler)),
		zap.String("phase", string(resp.Phase)),
		zap.Int("rejections", len(committed.Rejections)))
	return resp
}

// degrade fills resp with the safe response for a turn that could not run.
func (o *Orchestrator) degrade(resp TurnResponse, cfg *governance.Config, err error) TurnResponse {
	resp.Response = o.safe(cfg)
	resp.Handler = ""
	resp.Degraded = true
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (o *Orchestrator) safe(cfg *governance.Config) string {
	if cfg != nil && cfg.Style.SafeResponse != "" {
		return cfg.Style.SafeResponse
	}
	return o.safeResponse
}

// EndCall sets the call's outcome, archives a redacted copy, deletes the
// transient session and emits call_completed. When archiving fails the
// finished session is kept in the store with ArchivePending set, and a
// later EndCall for the same call retries the archive with the outcome
// already recorded.
func (o *Orchestrator) EndCall(ctx context.Context, req EndRequest) (EndResult, error) {
	if req.CallID == "" || req.TenantID == "" || req.Status == "" {
		return EndResult{}, fmt.Errorf("%w: call_id, tenant_id and status are required", ErrInvalidRequest)
	}
	ctx = logging.WithCall(ctx, logging.Call{TenantID: req.TenantID, CallID: req.CallID})
	unlock := o.locks.lock(req.CallID)
	defer unlock()

	s, err := o.stored(ctx, req.TenantID, req.CallID)
	if err != nil {
		return EndResult{}, err
	}
	if err := s.SetOutcome(req.Status, req.Summary); err != nil {
		if !errors.Is(err, session.ErrOutcomeAlreadySet) {
			return EndResult{}, err
		}
		o.logger.Info(ctx, "retrying archive for ended call", zap.String("status", s.Outcome.Status))
	}
	_ = s.TransitionPhase(governance.PhaseComplete, "call_ended")

	res := EndResult{CallID: req.CallID, Outcome: *s.Outcome, Metrics: s.Metrics, Phase: s.Phase.Current}
	if o.archiver != nil {
		id, err := o.archiver.Archive(ctx, s)
		if err != nil {
			o.logger.Error(ctx, "failed to archive call, keeping session", zap.Error(err))
			o.metrics.ArchiveFailures.Inc()
			if serr := o.sessions.Save(ctx, s); serr != nil {
				o.logger.Error(ctx, "failed to keep unarchived session", zap.Error(serr))
			}
			res.ArchivePending = true
			res.ArchiveError = err.Error()
			return res, nil
		}
		res.ArchiveID = id
	}
	_ = o.sessions.Delete(ctx, req.CallID)

	status := s.Outcome.Status
	o.metrics.CallsEnded.WithLabelValues(status).Inc()
	o.emit(ctx, alerts.NewEvent(alerts.TypeCallCompleted, req.TenantID, req.CallID, len(s.Turns), map[string]string{
		"status":     status,
		"turns":      itoa(s.Metrics.TotalTurns),
		"escalated":  strconv.FormatBool(s.Metrics.EscalationTriggered),
		"archive_id": res.ArchiveID,
	}))
	o.logger.Info(ctx, "call ended",
		zap.String("status", status),
		zap.Int("turns", s.Metrics.TotalTurns),
		zap.Float64("avg_latency_ms", s.Metrics.AvgResponseLatencyMs))
	return res, nil
}

// ContextWindow returns a live call's current context window without
// modifying the session.
func (o *Orchestrator) ContextWindow(ctx context.Context, tenantID, callID string) (session.ContextWindow, error) {
	if callID == "" || tenantID == "" {
		return session.ContextWindow{}, ErrInvalidRequest
	}
	unlock := o.locks.lock(callID)
	defer unlock()
	s, err := o.stored(ctx, tenantID, callID)
	if err != nil {
		return session.ContextWindow{}, err
	}
	return s.ContextWindow(s.Config.ContextWindow.MaxTurns), nil
}

// stored loads an existing call owned by tenantID.
func (o *Orchestrator) stored(ctx context.Context, tenantID, callID string) (*session.Session, error) {
	s, err := o.sessions.Get(ctx, callID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrUnknownCall, callID)
	case err != nil:
		return nil, fmt.Errorf("loading session: %w", err)
	case s.Identity.TenantID != tenantID:
		return nil, ErrTenantMismatch
	}
	return s, nil
}

func (o *Orchestrator) emit(ctx context.Context, e alerts.Event) {
	if err := o.emitter.Emit(ctx, e); err != nil {
		o.logger.Warn(ctx, "failed to emit event", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
