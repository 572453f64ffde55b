package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestContextWindow(t *testing.T) {
	s := newTestSession(t)
	for i := 1; i <= 4; i++ {
		_, err := s.StartTurn(TurnInput{RawInput: fmt.Sprintf("raw %d", i), CleanedInput: fmt.Sprintf("caller %d", i)})
		require.NoError(t, err)
		s.Respond(governance.HandlerFallback, fmt.Sprintf("agent %d", i))
		_, err = s.CommitTurn(time.Millisecond)
		require.NoError(t, err)
	}
	s.CommitFact("name", "Dana", SourceSelfIdentified, 0.8)

	got := s.ContextWindow(2)
	want := ContextWindow{
		Entries: []ContextEntry{
			{Role: RoleCaller, Text: "caller 3", Turn: 3},
			{Role: RoleAgent, Text: "agent 3", Turn: 3},
			{Role: RoleCaller, Text: "caller 4", Turn: 4},
			{Role: RoleAgent, Text: "agent 4", Turn: 4},
		},
		Facts:           map[string]any{"name": "Dana"},
		Phase:           governance.PhaseGreeting,
		MissingRequired: []string{"phone"},
		MissingDesired:  []string{"issue"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ContextWindow(2) mismatch (-want +got):\n%s", diff)
	}
}

func TestContextWindow_DefaultsAndFactsToggle(t *testing.T) {
	s := newTestSession(t)
	s.Config.ContextWindow = governance.ContextWindowConfig{MaxTurns: 1, IncludeFacts: false}
	for i := 0; i < 3; i++ {
		_, _ = s.StartTurn(TurnInput{RawInput: "hi"})
		s.Respond(governance.HandlerFallback, "hello")
		_, _ = s.CommitTurn(time.Millisecond)
	}
	s.CommitFact("name", "Dana", SourceSelfIdentified, 0.8)

	got := s.ContextWindow(0)
	if len(got.Entries) != 2 {
		t.Fatalf("want 2 entries from configured window, got %d", len(got.Entries))
	}
	if got.Entries[0].Text != "hi" {
		t.Errorf("raw input should be used when cleaned input is empty, got %q", got.Entries[0].Text)
	}
	if got.Facts != nil {
		t.Errorf("facts must be omitted when include_facts is false")
	}
}
