// Package session holds the governed state of one live call.
//
// A Session owns the caller's facts, capture progress, loop detector,
// phase and booking sub-state, the append-only turn ledger and aggregate
// metrics. All mutation goes through Session methods; CommitFact is the
// only way a fact is written. A Session is owned by the single turn being
// processed for its call and is never shared between calls.
//
// Manager moves sessions in and out of the transient store. Store failures
// never fail a turn: LoadOrCreate falls back to a fresh session and Save
// logs and returns.
package session
