package session

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
)

// CaptureStatus tracks one capture goal field.
type CaptureStatus struct {
	Captured bool `json:"captured"`
	Turn     *int `json:"turn,omitempty"`
}

// CaptureProgress holds the must/should/nice capture maps.
type CaptureProgress struct {
	Must   map[string]CaptureStatus `json:"must"`
	Should map[string]CaptureStatus `json:"should"`
	Nice   map[string]CaptureStatus `json:"nice"`
	// TurnsWithoutProgress counts committed turns since a field was last captured.
	TurnsWithoutProgress int `json:"turns_without_progress"`
}

func newCaptureProgress(g governance.CaptureGoals) CaptureProgress {
	build := func(fields []string) map[string]CaptureStatus {
		m := make(map[string]CaptureStatus, len(fields))
		for _, f := range fields {
			m[f] = CaptureStatus{}
		}
		return m
	}
	return CaptureProgress{Must: build(g.Must), Should: build(g.Should), Nice: build(g.Nice)}
}

func (p CaptureProgress) clone() CaptureProgress {
	cp := func(m map[string]CaptureStatus) map[string]CaptureStatus {
		out := make(map[string]CaptureStatus, len(m))
		for k, v := range m {
			if v.Turn != nil {
				t := *v.Turn
				v.Turn = &t
			}
			out[k] = v
		}
		return out
	}
	return CaptureProgress{
		Must:                 cp(p.Must),
		Should:               cp(p.Should),
		Nice:                 cp(p.Nice),
		TurnsWithoutProgress: p.TurnsWithoutProgress,
	}
}

// markCaptured flips the field's status in whichever tier declares it.
// Only the first capture counts as progress.
func (s *Session) markCaptured(field string, turn int) {
	for _, m := range []map[string]CaptureStatus{s.Capture.Must, s.Capture.Should, s.Capture.Nice} {
		st, ok := m[field]
		if !ok || st.Captured {
			continue
		}
		t := turn
		m[field] = CaptureStatus{Captured: true, Turn: &t}
		if s.open != nil {
			s.open.progress = true
		} else {
			s.Capture.TurnsWithoutProgress = 0
		}
	}
}

// clearCaptured resets the field's status after its value was emptied, so
// the tracker agrees with MissingRequiredFields. Clearing is not progress.
func (s *Session) clearCaptured(field string) {
	for _, m := range []map[string]CaptureStatus{s.Capture.Must, s.Capture.Should, s.Capture.Nice} {
		if st, ok := m[field]; ok && st.Captured {
			m[field] = CaptureStatus{}
		}
	}
}

// MissingRequiredFields lists must-capture fields without a value, in
// declared order.
func (s *Session) MissingRequiredFields() []string {
	return s.missing(s.Config.CaptureGoals.Must)
}

// MissingDesiredFields lists should-capture fields without a value, in
// declared order.
func (s *Session) MissingDesiredFields() []string {
	return s.missing(s.Config.CaptureGoals.Should)
}

func (s *Session) missing(fields []string) []string {
	out := []string{}
	for _, f := range fields {
		if !s.HasFact(f) {
			out = append(out, f)
		}
	}
	return out
}

// CapturePrompt tells the orchestrator to ask for a missing field.
type CapturePrompt struct {
	Inject bool   `json:"inject"`
	Field  string `json:"field,omitempty"`
	Tier   string `json:"tier,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

// ShouldInjectCapturePrompt decides whether this turn should proactively
// ask for a field. Nothing is injected until MinTurnsWithoutProgress turns
// have passed without a capture. Required fields take precedence; desired
// fields are only asked for in DISCOVERY and only when the tenant enables
// desired prompting.
func (s *Session) ShouldInjectCapturePrompt() CapturePrompt {
	g := s.Config.CaptureGoals
	if s.Capture.TurnsWithoutProgress < g.MinTurnsWithoutProgress {
		return CapturePrompt{}
	}
	if s.Phase.Current == governance.PhaseComplete {
		return CapturePrompt{}
	}
	if missing := s.MissingRequiredFields(); len(missing) > 0 {
		return s.capturePrompt(missing[0], "must")
	}
	if g.PromptDesired && s.Phase.Current == governance.PhaseDiscovery {
		if missing := s.MissingDesiredFields(); len(missing) > 0 {
			return s.capturePrompt(missing[0], "should")
		}
	}
	return CapturePrompt{}
}

func (s *Session) capturePrompt(field, tier string) CapturePrompt {
	prompt, ok := s.Config.CaptureGoals.Prompts[field]
	if !ok || prompt == "" {
		prompt = fmt.Sprintf("Before we go on, could I get your %s?", strings.ReplaceAll(field, "_", " "))
	}
	return CapturePrompt{Inject: true, Field: field, Tier: tier, Prompt: prompt}
}
