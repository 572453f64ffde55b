package session

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitEmptyTurn(t *testing.T, s *Session) {
	t.Helper()
	_, err := s.StartTurn(TurnInput{RawInput: "uh huh"})
	require.NoError(t, err)
	s.Respond(governance.HandlerFallback, "okay")
	_, err = s.CommitTurn(10 * time.Millisecond)
	require.NoError(t, err)
}

func TestMissingFields_Idempotent(t *testing.T) {
	s := newTestSession(t)
	s.CommitFact("phone", "4155550100", SourceSelfIdentified, 0.8)

	first := s.MissingRequiredFields()
	second := s.MissingRequiredFields()
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"name"}, first)
	assert.Equal(t, s.MissingDesiredFields(), s.MissingDesiredFields())
}

func TestMissingFields_EmptyValueNotPresent(t *testing.T) {
	s := newTestSession(t)
	s.CommitFact("name", "   ", SourceExtracted, 0.6)
	assert.Equal(t, []string{"name", "phone"}, s.MissingRequiredFields())
	assert.False(t, s.Capture.Must["name"].Captured)

	s.CommitFact("name", "Dana", SourceExtracted, 0.6)
	assert.Equal(t, []string{"phone"}, s.MissingRequiredFields())
	assert.True(t, s.Capture.Must["name"].Captured)
}

func TestMissingFields_OverwriteWithEmptyClearsCapture(t *testing.T) {
	s := newTestSession(t)
	s.CommitFact("name", "Dana", SourceSelfIdentified, 0.8)
	require.True(t, s.Capture.Must["name"].Captured)

	s.CommitFact("name", "", SourceExtracted, 0.6)

	assert.Equal(t, []string{"name", "phone"}, s.MissingRequiredFields())
	assert.False(t, s.Capture.Must["name"].Captured)
	assert.Nil(t, s.Capture.Must["name"].Turn)
	assert.Equal(t, "Dana", s.Facts["name"].PreviousValue)
}

func TestShouldInjectCapturePrompt(t *testing.T) {
	t.Run("waits for turns without progress", func(t *testing.T) {
		s := newTestSession(t)
		assert.False(t, s.ShouldInjectCapturePrompt().Inject)
		commitEmptyTurn(t, s)
		assert.False(t, s.ShouldInjectCapturePrompt().Inject)
		commitEmptyTurn(t, s)

		p := s.ShouldInjectCapturePrompt()
		assert.True(t, p.Inject)
		assert.Equal(t, "name", p.Field)
		assert.Equal(t, "must", p.Tier)
		assert.Contains(t, p.Prompt, "name")
	})

	t.Run("progress resets the counter", func(t *testing.T) {
		s := newTestSession(t)
		commitEmptyTurn(t, s)
		commitEmptyTurn(t, s)

		_, _ = s.StartTurn(TurnInput{RawInput: "I'm Dana"})
		s.CommitFact("name", "Dana", SourceSelfIdentified, 0.8)
		_, _ = s.CommitTurn(time.Millisecond)

		assert.Equal(t, 0, s.Capture.TurnsWithoutProgress)
		assert.False(t, s.ShouldInjectCapturePrompt().Inject)
	})

	t.Run("desired only in discovery and when enabled", func(t *testing.T) {
		s := newTestSession(t)
		s.CommitFact("name", "Dana", SourceSelfIdentified, 0.8)
		s.CommitFact("phone", "4155550100", SourceSelfIdentified, 0.8)
		commitEmptyTurn(t, s)
		commitEmptyTurn(t, s)

		require.NoError(t, s.TransitionPhase(governance.PhaseDiscovery, "engaged"))
		assert.False(t, s.ShouldInjectCapturePrompt().Inject, "desired prompting is off by default")

		s.Config.CaptureGoals.PromptDesired = true
		p := s.ShouldInjectCapturePrompt()
		assert.True(t, p.Inject)
		assert.Equal(t, "issue", p.Field)
		assert.Equal(t, "should", p.Tier)

		s.LockBookingMode()
		assert.False(t, s.ShouldInjectCapturePrompt().Inject, "no desired prompts outside DISCOVERY")
	})

	t.Run("configured prompt text", func(t *testing.T) {
		s := newTestSession(t)
		s.Config.CaptureGoals.MinTurnsWithoutProgress = 0
		s.Config.CaptureGoals.Prompts = map[string]string{"name": "Who am I speaking with?"}
		assert.Equal(t, "Who am I speaking with?", s.ShouldInjectCapturePrompt().Prompt)
	})
}

func TestCheckForResponseLoop(t *testing.T) {
	tests := []struct {
		name      string
		responses []string
		max       int
		wantLoop  []bool
	}{
		{"three repeats trip at max two", []string{"A", "A", "A"}, 2, []bool{false, false, true}},
		{"alternation never loops", []string{"A", "B", "A"}, 2, []bool{false, false, false}},
		{"normalization", []string{"Sorry, say again?", "  sorry,   SAY again? "}, 1, []bool{false, true}},
		{"reset after change", []string{"A", "A", "B", "B"}, 2, []bool{false, false, false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t)
			s.Config.LoopDetection.MaxRepeatedResponses = tt.max
			for i, r := range tt.responses {
				sig := s.CheckForResponseLoop(r)
				assert.Equal(t, tt.wantLoop[i], sig.IsLoop, "response %d", i)
				if sig.IsLoop {
					assert.Equal(t, governance.LoopEscalate, sig.Action)
				}
			}
		})
	}
}
