// Package orchestrator runs one governed conversation turn.
//
// # Overview
//
// For every caller utterance the Orchestrator:
//
//	load session → ingest facts → route → capture/loop checks → commit → persist
//
// Routing walks the tenant's router order (escalation, booking, scenario,
// fallback by default). Each handler is admitted or denied by the pure
// rules in internal/governance; denied handlers are recorded on the turn
// with their reason, and the first admitted handler that produces a reply
// wins. The scenario handler consults the knowledge source cascade.
//
// # Failure handling
//
// ProcessTurn always returns a well-formed TurnResponse. A tenant whose
// configuration cannot be loaded, a panic anywhere in the turn, or a
// router that produces nothing all yield the tenant's safe response with
// Degraded set. A cancelled context (caller hung up) abandons the open
// turn and skips persistence.
//
// # Events
//
// Loop detection, approved escalations, governance violations and call
// completion are published through an alerts.Emitter.
package orchestrator
