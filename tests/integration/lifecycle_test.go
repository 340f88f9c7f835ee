package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxLifecycle(t *testing.T) {
	t.Log("starting sandbox")
	startPayload := map[string]any{
		"image":           "python:3.10-slim",
		"cpus":            1.0,
		"memory":          "512m",
		"startup_timeout": 30,
	}
	body, _ := json.Marshal(startPayload)
	resp, err := http.Post(apiURL("/apis/envs/sandbox/v1/sandbox/start"), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var startResp struct {
		SandboxID string `json:"sandbox_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&startResp))
	resp.Body.Close()
	sandboxID := startResp.SandboxID
	require.NotEmpty(t, sandboxID)

	defer func() {
		stopBody, _ := json.Marshal(map[string]any{"sandbox_id": sandboxID})
		http.Post(apiURL("/apis/envs/sandbox/v1/sandbox/stop"), "application/json", bytes.NewReader(stopBody))
	}()

	t.Log("executing a command")
	execPayload := map[string]any{
		"sandbox_id": sandboxID,
		"command":    []string{"echo", "lifecycle-test-success"},
	}
	body, _ = json.Marshal(execPayload)
	resp, err = http.Post(apiURL("/apis/envs/sandbox/v1/sandbox/execute"), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var execResp struct {
		Stdout   string `json:"stdout"`
		ExitCode int    `json:"exit_code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&execResp))
	resp.Body.Close()

	assert.Equal(t, 0, execResp.ExitCode)
	assert.Contains(t, execResp.Stdout, "lifecycle-test-success")

	t.Log("stopping sandbox")
	stopBody, _ := json.Marshal(map[string]any{"sandbox_id": sandboxID})
	resp, err = http.Post(apiURL("/apis/envs/sandbox/v1/sandbox/stop"), "application/json", bytes.NewReader(stopBody))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// A second stop should now fail: the actor was removed from the registry.
	resp, err = http.Post(apiURL("/apis/envs/sandbox/v1/sandbox/stop"), "application/json", bytes.NewReader(stopBody))
	require.NoError(t, err)
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
