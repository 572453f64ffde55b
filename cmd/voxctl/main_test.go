package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/fyrsmithlabs/voxgov/internal/orchestrator"
	"github.com/fyrsmithlabs/voxgov/internal/session"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTurnCmd(t *testing.T) {
	var got orchestrator.TurnRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(orchestrator.TurnResponse{
			Response: "Sure, we can book that.",
			Handler:  governance.HandlerBooking,
			Phase:    governance.PhaseBooking,
		})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "turn", "CA1", "--tenant", "acme_dental", "--consent", "0.9", "book", "me", "in")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/calls/CA1/turns", path)
	assert.Equal(t, "acme_dental", got.TenantID)
	assert.Equal(t, "book me in", got.Input)
	assert.True(t, got.Signals.BookingConsent)
	assert.InDelta(t, 0.9, got.Signals.ConsentConfidence, 1e-9)
	assert.Contains(t, out, "[BOOKING/booking] Sure, we can book that.")
}

func TestTurnCmd_RequiresTenant(t *testing.T) {
	_, err := execute(t, "turn", "CA1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant")
}

func TestEndCmd_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"unknown call: CA9"}`))
	}))
	defer srv.Close()

	_, err := execute(t, "--server", srv.URL, "end", "CA9", "--tenant", "acme_dental")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "unknown call")
}

func TestEndCmd_ArchivePending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(orchestrator.EndResult{
			CallID:         "CA1",
			Outcome:        session.Outcome{Status: "completed"},
			ArchivePending: true,
			ArchiveError:   "disk full",
		})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "end", "CA1", "--tenant", "acme_dental")
	require.NoError(t, err)
	assert.Contains(t, out, "Call CA1 ended: completed")
	assert.Contains(t, out, "Archive pending (disk full)")
	assert.NotContains(t, out, "Archive: ")
}

func TestContextCmd(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("tenant_id")
		_ = json.NewEncoder(w).Encode(session.ContextWindow{Phase: governance.PhaseDiscovery, MissingRequired: []string{"phone"}})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "context", "CA1", "--tenant", "acme_dental")
	require.NoError(t, err)
	assert.Equal(t, "acme_dental", query)
	assert.Contains(t, out, `"missing_required": [`)
	assert.Contains(t, out, `"phone"`)
}

func TestHealthCmd_Degraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"degraded","checks":{"nats":"nats RECONNECTING"}}`))
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "health")
	require.Error(t, err)
	assert.Contains(t, out, "Server Status: degraded")
	assert.Contains(t, out, "nats: nats RECONNECTING")
}

func TestValidateGovernance(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "acme_dental.yaml")
	bad := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(good, []byte("tenant_id: acme_dental\nversion: \"2\"\n"), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte("tenant_id: broken\nversion: \"1\"\nsurprise: true\n"), 0o600))

	out, err := execute(t, "validate", "governance", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok    "+good+": tenant acme_dental v2, 0 source(s)")

	out, err = execute(t, "validate", "governance", good, bad)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL  "+bad)
	assert.Contains(t, err.Error(), "1 invalid file(s)")
}

func TestValidatePack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenarios.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
kind = "scenario"

[[scenario]]
id = "hours"
keywords = ["hours"]
responses = ["We open at nine."]
`), 0o600))

	out, err := execute(t, "validate", "pack", path)
	require.NoError(t, err)
	assert.Contains(t, out, "scenario pack, 1 entry")

	_, err = execute(t, "validate", "pack", filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}
