package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/voxgov/internal/config"
	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/fyrsmithlabs/voxgov/internal/redact"
	"github.com/fyrsmithlabs/voxgov/internal/session"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func finishedCall(t *testing.T, callID string, start time.Time) *session.Session {
	t.Helper()
	now := start
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	cfg := governance.Default()
	cfg.TenantID = "acme_dental"
	s := session.New(session.Identity{CallID: callID, TenantID: "acme_dental", Caller: "+14155550100", StartedAt: start},
		cfg, session.WithClock(clock))

	_, err := s.StartTurn(session.TurnInput{RawInput: "hi this is Dana, email dana@example.com", CleanedInput: "hi this is Dana, email dana@example.com"})
	require.NoError(t, err)
	require.True(t, s.CommitFact("name", "Dana", session.SourceSelfIdentified, 0.9).Success)
	require.True(t, s.CommitFact("email", "dana@example.com", session.SourceSelfIdentified, 0.8).Success)
	s.Respond(governance.HandlerScenario, "Thanks Dana, how can I help?")
	_, err = s.CommitTurn(120 * time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, s.SetOutcome("completed", "caller hung up"))
	return s
}

func openArchive(t *testing.T, r *redact.Redactor) *SQLiteArchive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"), r)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestBuildTranscript_Redacts(t *testing.T) {
	r, err := redact.New(config.RedactionConfig{Enabled: true})
	require.NoError(t, err)

	tr, findings := BuildTranscript(finishedCall(t, "CA1", t0), r)

	require.Len(t, tr.Turns, 1)
	assert.NotContains(t, tr.Turns[0].Caller, "dana@example.com")
	assert.Contains(t, tr.Turns[0].Caller, "[REDACTED:email]")
	assert.Equal(t, "Thanks Dana, how can I help?", tr.Turns[0].Agent)
	assert.Equal(t, "[REDACTED:email]", tr.Facts["email"].Value)
	assert.Equal(t, "Dana", tr.Facts["name"].Value)
	assert.NotContains(t, tr.Caller, "4155550100")
	assert.NotEmpty(t, findings)
}

func TestBuildTranscript_NilRedactorKeepsText(t *testing.T) {
	tr, findings := BuildTranscript(finishedCall(t, "CA1", t0), nil)
	assert.Equal(t, "dana@example.com", tr.Facts["email"].Value)
	assert.Equal(t, "+14155550100", tr.Caller)
	assert.Empty(t, findings)
}

func TestArchive_RoundTrip(t *testing.T) {
	r, err := redact.New(config.RedactionConfig{Enabled: true})
	require.NoError(t, err)
	a := openArchive(t, r)
	ctx := context.Background()

	s := finishedCall(t, "CA1", t0)
	id, err := a.Archive(ctx, s)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := a.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "CA1", rec.CallID)
	assert.Equal(t, "acme_dental", rec.TenantID)
	assert.Equal(t, "completed", rec.Outcome)
	assert.Equal(t, 1, rec.TotalTurns)
	assert.InDelta(t, 120.0, rec.AvgLatencyMs, 1e-9)
	assert.False(t, rec.Escalated)
	assert.True(t, rec.StartedAt.Equal(t0))
	assert.False(t, rec.EndedAt.IsZero())
	assert.Equal(t, 2, rec.Redactions["email"])
	assert.Equal(t, 1, rec.Redactions["phone"])
	require.Len(t, rec.Transcript.Turns, 1)
	assert.NotContains(t, rec.Transcript.Turns[0].Caller, "dana@example.com")
}

func TestArchive_GetMissing(t *testing.T) {
	a := openArchive(t, nil)
	_, err := a.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArchive_ListByTenant(t *testing.T) {
	a := openArchive(t, nil)
	ctx := context.Background()

	for i, call := range []string{"CA1", "CA2", "CA3"} {
		_, err := a.Archive(ctx, finishedCall(t, call, t0.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	recs, err := a.ListByTenant(ctx, "acme_dental", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "CA3", recs[0].CallID)
	assert.Equal(t, "CA2", recs[1].CallID)

	none, err := a.ListByTenant(ctx, "other", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOpen_Memory(t *testing.T) {
	a, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Archive(context.Background(), finishedCall(t, "CA9", t0))
	assert.NoError(t, err)
}
