package session

import "errors"

// Phase errors.
var (
	ErrUnknownPhase      = errors.New("unknown phase")
	ErrInvalidTransition = errors.New("invalid phase transition")
)

// Turn ledger errors.
var (
	ErrTurnInProgress = errors.New("a turn is already open")
	ErrNoOpenTurn     = errors.New("no open turn")
)

// Lifecycle errors.
var (
	ErrOutcomeAlreadySet = errors.New("call outcome already set")
	ErrCorruptSession    = errors.New("stored session could not be decoded")
)

// RejectReason explains why a fact commit was refused.
type RejectReason string

const (
	RejectInvalidSource     RejectReason = "invalid_source"
	RejectEmptyFactID       RejectReason = "empty_fact_id"
	RejectInvalidConfidence RejectReason = "invalid_confidence"
	RejectUnsupportedValue  RejectReason = "unsupported_value"
	RejectNotAuthorized     RejectReason = "fact_write_not_authorized"
)
