// Package governance holds per-tenant governance configuration and the pure
// admission rules that decide which handler may run on a turn and which
// handler may write caller facts.
//
// Configuration is versioned, loaded strictly (unknown keys and missing
// required keys are fatal), merged over Default, and treated as read-only
// for the lifetime of a call. Admission functions never mutate state; the
// session records side effects such as the escalation flag.
package governance
