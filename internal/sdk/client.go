// Package sdk implements the client used to talk to a running sandbox's
// control-plane endpoints, ported from the original RemoteSandboxRuntime
// (sandbox/remote_sandbox.py): request headers carry the sandbox id, a
// 511 response is rehydrated as a transfer exception, and IsAlive/
// WaitUntilAlive never raise on transport failure.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/akshayaggarwal99/boxed/internal/apierr"
	"github.com/akshayaggarwal99/boxed/internal/proto"
)

const sandboxIDHeader = "ROUTE-KEY"

// Client is a thin HTTP client scoped to one sandbox.
type Client struct {
	baseURL   string
	sandboxID string
	http      *http.Client
}

func New(baseURL, sandboxID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   baseURL,
		sandboxID: sandboxID,
		http:      &http.Client{Timeout: timeout},
	}
}

func (c *Client) headers(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sandboxIDHeader, c.sandboxID)
}

// request POSTs body (marshaled to JSON) to path and unmarshals the
// response into out. A 511 response is parsed into an apierr.TransferError
// instead of out.
func (c *Client) request(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: %s", apierr.ErrInvalidArgument, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %s", apierr.ErrInternal, err)
	}
	c.headers(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", apierr.ErrInternal, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s", apierr.ErrInternal, err)
	}

	if resp.StatusCode == apierr.HTTPStatus(apierr.KindTransfer) {
		var wrapper struct {
			RockletException apierr.TransferError `json:"rockletexception"`
		}
		if jerr := json.Unmarshal(respBody, &wrapper); jerr != nil {
			return fmt.Errorf("%w: malformed transfer envelope", apierr.ErrTransfer)
		}
		return &wrapper.RockletException
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d: %s", apierr.ErrInternal, resp.StatusCode, string(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// IsAlive probes liveness. It never returns a Go error; a transport
// failure is reported as IsAlive=false with the error text as Message.
func (c *Client) IsAlive(ctx context.Context) proto.IsAliveResponse {
	var out proto.IsAliveResponse
	if err := c.request(ctx, http.MethodGet, "/is_alive", nil, &out); err != nil {
		return proto.IsAliveResponse{IsAlive: false, Message: err.Error()}
	}
	return out
}

// WaitUntilAlive polls IsAlive at interval until it reports alive or
// timeout elapses, mirroring the original's wait_until_alive helper.
func (c *Client) WaitUntilAlive(ctx context.Context, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	var last proto.IsAliveResponse
	for time.Now().Before(deadline) {
		last = c.IsAlive(ctx)
		if last.IsAlive {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("%w: sandbox did not become alive: %s", apierr.ErrTimeout, last.Message)
}

func (c *Client) CreateSession(ctx context.Context, req proto.CreateSessionRequest) error {
	return c.request(ctx, http.MethodPost, "/session", req, &proto.CreateSessionResponse{})
}

func (c *Client) CloseSession(ctx context.Context, session string) error {
	return c.request(ctx, http.MethodDelete, "/session", proto.CloseSessionRequest{Session: session}, &proto.CloseSessionResponse{})
}

// RunInSession executes command inside an existing session and returns the
// command's full observation.
func (c *Client) RunInSession(ctx context.Context, session, command string) (*proto.Observation, error) {
	var out proto.Observation
	req := map[string]string{"session": session, "command": command}
	if err := c.request(ctx, http.MethodPost, "/run_in_session", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Execute(ctx context.Context, cmd []string) (*proto.CommandResponse, error) {
	var out proto.CommandResponse
	if err := c.request(ctx, http.MethodPost, "/execute", map[string]any{"cmd": cmd}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Arun launches a command detached and reports its outcome once it
// finishes or the in-sandbox wait times out, per the NOHUP contract
// (internal/actor.RunNohup is what actually implements it server-side).
func (c *Client) Arun(ctx context.Context, command string, mode proto.NohupOutputMode, timeoutSeconds int) (*proto.CommandResponse, error) {
	var out proto.CommandResponse
	req := map[string]any{"command": command, "output_mode": mode, "timeout_seconds": timeoutSeconds}
	if err := c.request(ctx, http.MethodPost, "/arun", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ReadFile(ctx context.Context, path string) (string, error) {
	var out proto.ReadFileResponse
	if err := c.request(ctx, http.MethodGet, "/file?path="+path, nil, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

func (c *Client) WriteFile(ctx context.Context, path, content string) error {
	req := proto.WriteFileRequest{Path: path, Content: content}
	return c.request(ctx, http.MethodPut, "/file", req, &proto.WriteFileResponse{})
}

// Upload uploads a local file to the sandbox's upload endpoint, using a
// multipart form, mirroring client_upload in the original SDK.
func (c *Client) Upload(ctx context.Context, localPath, targetPath string) error {
	f, err := openForUpload(localPath)
	if err != nil {
		return fmt.Errorf("%w: %s", apierr.ErrInvalidArgument, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := newMultipartWriter(&buf)
	if err := mw.writeField("target_path", targetPath); err != nil {
		return err
	}
	if err := mw.writeFile("file", localPath, f); err != nil {
		return err
	}
	if err := mw.close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return fmt.Errorf("%w: %s", apierr.ErrInternal, err)
	}
	req.Header.Set(sandboxIDHeader, c.sandboxID)
	req.Header.Set("Content-Type", mw.contentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", apierr.ErrInternal, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: upload failed: %s", apierr.ErrInternal, string(body))
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.request(ctx, http.MethodPost, "/close", nil, &proto.CloseResponse{})
}
