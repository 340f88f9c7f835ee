package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSandbox(t *testing.T) string {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"image":           "python:3.10-slim",
		"cpus":            1.0,
		"memory":          "256m",
		"startup_timeout": 30,
	})
	resp, err := http.Post(apiURL("/apis/envs/sandbox/v1/sandbox/start"), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		SandboxID string `json:"sandbox_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	t.Cleanup(func() {
		b, _ := json.Marshal(map[string]any{"sandbox_id": out.SandboxID})
		http.Post(apiURL("/apis/envs/sandbox/v1/sandbox/stop"), "application/json", bytes.NewReader(b))
	})
	return out.SandboxID
}

func TestFilesystemWriteAndReadFile(t *testing.T) {
	id := startSandbox(t)

	writePayload := map[string]any{"sandbox_id": id, "path": "hello.txt", "content": "Hello from context"}
	body, _ := json.Marshal(writePayload)
	resp, err := http.Post(apiURL("/apis/envs/sandbox/v1/sandbox/write_file"), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	readPayload := map[string]any{"sandbox_id": id, "path": "hello.txt"}
	body, _ = json.Marshal(readPayload)
	resp, err = http.Post(apiURL("/apis/envs/sandbox/v1/sandbox/read_file"), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var readResp struct {
		Content string `json:"content"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&readResp))
	resp.Body.Close()
	assert.Equal(t, "Hello from context", readResp.Content)
}

func TestFilesystemUpload(t *testing.T) {
	id := startSandbox(t)

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	require.NoError(t, w.WriteField("sandbox_id", id))
	require.NoError(t, w.WriteField("target_path", "upload.txt"))
	fw, err := w.CreateFormFile("file", "upload.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("uploaded content"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, apiURL("/apis/envs/sandbox/v1/sandbox/upload"), &b)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload failed: %s: %s", resp.Status, respBody)
	}

	var out struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
}
