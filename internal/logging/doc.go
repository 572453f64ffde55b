// Package logging provides structured logging for the turn engine.
//
// # Overview
//
// Logger wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry log bridge)
//   - Automatic call correlation fields (trace_id, tenant.id, call.id, turn.index)
//   - Caller-data redaction (phone and card numbers, credential field names)
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithCall(ctx, logging.Call{TenantID: "acme_dental", CallID: "CA123"})
//	ctx = logging.WithTurn(ctx, 4)
//	logger.Info(ctx, "turn committed", zap.String("handler", "scenario"))
//
// Output:
//
//	{"ts":"...","level":"info","msg":"turn committed","tenant.id":"acme_dental",
//	 "call.id":"CA123","turn.index":4,"handler":"scenario"}
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	svc := NewService(tl.Logger)
//	tl.AssertLogged(t, zapcore.WarnLevel, "session store unavailable")
package logging
