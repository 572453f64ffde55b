// Package telemetry wires OpenTelemetry tracing and metrics for the turn
// engine.
//
// Every processed turn produces a "turn.process" span with one child
// "cascade.attempt" span per consulted knowledge source. Telemetry is off
// by default and degrades to no-op providers when the collector cannot be
// reached; a call is never failed because export is unavailable.
//
// Tests use NewTestTelemetry, which records spans in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	engine := cascade.New(..., cascade.WithTracer(tt.Tracer("cascade")))
//	tt.AssertSpanExists(t, "cascade.attempt")
package telemetry
