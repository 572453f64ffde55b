package session

import (
	"strings"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
)

// LoopState is the repeated-response detector's memory.
type LoopState struct {
	LastResponse string `json:"last_response"`
	RepeatCount  int    `json:"repeat_count"`
}

// LoopSignal is the result of CheckForResponseLoop.
type LoopSignal struct {
	IsLoop bool                  `json:"is_loop"`
	Count  int                   `json:"count"`
	Action governance.LoopAction `json:"action,omitempty"`
}

// CheckForResponseLoop compares text, normalized for case and whitespace,
// with the previous response. An exact repeat increments the counter and
// anything else resets it; a loop is signalled once the counter reaches
// MaxRepeatedResponses. It updates state on every call.
func (s *Session) CheckForResponseLoop(text string) LoopSignal {
	norm := normalizeResponse(text)
	if s.Loop.LastResponse != "" && norm == s.Loop.LastResponse {
		s.Loop.RepeatCount++
	} else {
		s.Loop.RepeatCount = 0
	}
	s.Loop.LastResponse = norm

	ld := s.Config.LoopDetection
	sig := LoopSignal{Count: s.Loop.RepeatCount}
	if s.Loop.RepeatCount >= ld.MaxRepeatedResponses {
		sig.IsLoop = true
		sig.Action = ld.OnLoop
	}
	return sig
}

func normalizeResponse(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
