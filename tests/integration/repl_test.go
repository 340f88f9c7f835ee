// Sticky sessions replace the teacher's websocket REPL: a session here is
// a named persistent shell whose commands are FIFO-serialized by
// internal/actor.Actor and driven through JSON run_in_session calls rather
// than an interactive channel. See DESIGN.md for why the websocket
// interact route was dropped.
package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRunThenCloseRejectsFurtherCommands(t *testing.T) {
	id := startSandbox(t)

	createBody, _ := json.Marshal(map[string]any{"sandbox_id": id, "session": "repl"})
	resp, err := http.Post(apiURL("/apis/envs/sandbox/v1/sandbox/create_session"), "application/json", bytes.NewReader(createBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	runInSession := func(command string) string {
		body, _ := json.Marshal(map[string]any{"sandbox_id": id, "session": "repl", "command": command})
		resp, err := http.Post(apiURL("/apis/envs/sandbox/v1/sandbox/run_in_session"), "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		defer resp.Body.Close()
		var out struct {
			Output string `json:"output"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out.Output
	}

	out := runInSession("echo boxed-session-marker-123")
	assert.Contains(t, out, "boxed-session-marker-123")

	closeBody, _ := json.Marshal(map[string]any{"sandbox_id": id, "session": "repl"})
	resp, err = http.Post(apiURL("/apis/envs/sandbox/v1/sandbox/close_session"), "application/json", bytes.NewReader(closeBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// run_in_session against the now-closed session fails.
	body, _ := json.Marshal(map[string]any{"sandbox_id": id, "session": "repl", "command": "echo hi"})
	resp, err = http.Post(apiURL("/apis/envs/sandbox/v1/sandbox/run_in_session"), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// run_in_session against a name that was never created also fails.
	body, _ = json.Marshal(map[string]any{"sandbox_id": id, "session": "never-created", "command": "echo hi"})
	resp, err = http.Post(apiURL("/apis/envs/sandbox/v1/sandbox/run_in_session"), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
