package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/voxgov/internal/orchestrator"
)

const tenantYAML = `
tenant_id: acme_dental
version: "1"
sources:
  - source_id: scenarios
    priority: 1
    confidence_threshold: 0.5
`

const scenarioPack = `
kind = "scenario"

[[scenario]]
id = "hours"
keywords = ["hours", "open"]
patterns = ['(?i)what time do you open']
responses = ["We open at nine."]
`

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	root := t.TempDir()
	govDir := filepath.Join(root, "tenants")
	knowDir := filepath.Join(root, "knowledge")
	require.NoError(t, os.MkdirAll(govDir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(knowDir, "acme_dental"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(govDir, "acme_dental.yaml"), []byte(tenantYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(knowDir, "acme_dental", "scenarios.toml"), []byte(scenarioPack), 0o600))

	port := freePort(t)
	t.Setenv("VOXGOV_SERVER_HOST", "127.0.0.1")
	t.Setenv("VOXGOV_SERVER_HTTP_PORT", fmt.Sprint(port))
	t.Setenv("VOXGOV_STORE_BACKEND", "memory")
	t.Setenv("VOXGOV_ARCHIVE_PATH", filepath.Join(root, "archive.db"))
	t.Setenv("VOXGOV_GOVERNANCE_DIR", govDir)
	t.Setenv("VOXGOV_KNOWLEDGE_DIR", knowDir)
	t.Setenv("VOXGOV_INTERPRETER_ENABLED", "false")
	t.Setenv("VOXGOV_OBSERVABILITY_LOG_LEVEL", "error")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, "")
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := http.Post(base+"/api/v1/calls/CA1/turns", "application/json",
		strings.NewReader(`{"tenant_id":"acme_dental","input":"what time do you open"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var turn orchestrator.TurnResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&turn))
	assert.Contains(t, turn.Response, "We open at nine.")
	assert.False(t, turn.Degraded)

	end, err := http.Post(base+"/api/v1/calls/CA1/end", "application/json",
		strings.NewReader(`{"tenant_id":"acme_dental","status":"completed"}`))
	require.NoError(t, err)
	defer end.Body.Close()
	require.Equal(t, http.StatusOK, end.StatusCode)

	var res orchestrator.EndResult
	require.NoError(t, json.NewDecoder(end.Body).Decode(&res))
	assert.NotEmpty(t, res.ArchiveID)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}

func TestRunInvalidConfig(t *testing.T) {
	t.Setenv("VOXGOV_STORE_BACKEND", "redis")
	err := run(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
}
