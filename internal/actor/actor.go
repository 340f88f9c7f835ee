// Package actor implements the in-process addressable handle for one
// running sandbox: session management, detached-process execution, file
// transfer, and liveness probing. Each Actor corresponds to exactly one
// driver-managed container and serializes commands within each session;
// per-sandbox serialization of mutating calls is internal/registry's lock,
// taken by internal/api.
package actor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/akshayaggarwal99/boxed/internal/apierr"
	"github.com/akshayaggarwal99/boxed/internal/driver"
	"github.com/akshayaggarwal99/boxed/internal/proto"
)

// State is the actor's own lifecycle state, distinct from but driven by
// the underlying driver.SandboxInfo state: STARTING persists from Create
// until the in-container agent first answers a liveness probe, at which
// point the actor transitions to READY. CreateSession, RunInSession,
// Execute, Arun, ReadFile, WriteFile and Upload are rejected with
// ErrNotReady unless READY; IsAlive, WaitUntilAlive, CloseSession,
// GetStatistics and Close are not gated.
type State string

const (
	StateInit     State = "INIT"
	StateStarting State = "STARTING"
	StateReady    State = "READY"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
)

// Session is one named shell context inside a sandbox: a persistent
// exec'd shell (sessionStream) plus the working directory prefixed onto
// every command run against it. All RunInSession calls against the same
// session execute strictly in order; calls against different sessions of
// the same actor may run concurrently.
type Session struct {
	mu      sync.Mutex
	name    string
	env     map[string]string
	workDir string
	stream  *sessionStream
}

// Actor is the addressable handle for one sandbox. It owns the sandbox's
// driver id and exposes the full in-sandbox operation surface; the
// control plane talks to sandboxes exclusively through an Actor, never
// the driver directly (internal/registry hands out Actors).
type Actor struct {
	mu        sync.RWMutex
	id        string
	drv       driver.Driver
	state     State
	sessions  map[string]*Session
	workDir   string
	createdAt time.Time
}

// New wraps a driver-created sandbox id in an Actor, starting in STARTING.
func New(id string, drv driver.Driver, workDir string) *Actor {
	return &Actor{
		id:        id,
		drv:       drv,
		state:     StateStarting,
		sessions:  make(map[string]*Session),
		workDir:   workDir,
		createdAt: time.Now(),
	}
}

func (a *Actor) ID() string { return a.id }

func (a *Actor) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Actor) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// requireReady returns ErrNotReady unless the actor is READY.
func (a *Actor) requireReady() error {
	if a.State() != StateReady {
		return fmt.Errorf("%w: actor is %s", apierr.ErrNotReady, a.State())
	}
	return nil
}

// IsAlive probes the in-container agent. It never returns a Go error —
// transport failures are folded into a negative IsAliveResponse, mirroring
// the always-a-value contract the client SDK polls on.
func (a *Actor) IsAlive(ctx context.Context) proto.IsAliveResponse {
	_, code, err := a.drv.Exec(ctx, a.id, []string{"true"})
	if err != nil {
		return proto.IsAliveResponse{IsAlive: false, Message: err.Error()}
	}
	if code != 0 {
		return proto.IsAliveResponse{IsAlive: false, Message: fmt.Sprintf("probe exited %d", code)}
	}
	if a.State() == StateStarting {
		a.setState(StateReady)
	}
	return proto.IsAliveResponse{IsAlive: true}
}

// WaitUntilAlive polls IsAlive until it reports alive or the deadline
// elapses, mirroring the client SDK's own wait loop at the actor level so
// the control plane can gate readiness server-side too.
func (a *Actor) WaitUntilAlive(ctx context.Context, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	var last proto.IsAliveResponse
	for time.Now().Before(deadline) {
		last = a.IsAlive(ctx)
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

// CreateSession opens a persistent shell connection into the container
// (driver.Connect) and registers it under name. Creating a session that
// already exists closes the old stream and replaces it.
func (a *Actor) CreateSession(ctx context.Context, name string, env map[string]string, workDir string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if workDir == "" {
		workDir = a.workDir
	}
	conn, err := a.drv.Connect(ctx, a.id, "")
	if err != nil {
		return fmt.Errorf("%w: %s", apierr.ErrLaunchFailed, err)
	}

	a.mu.Lock()
	if old, ok := a.sessions[name]; ok {
		old.stream.Close()
	}
	a.sessions[name] = &Session{name: name, env: env, workDir: workDir, stream: newSessionStream(conn)}
	a.mu.Unlock()
	return nil
}

// CloseSession tears down a session's persistent shell and discards its
// state. It does not kill any in-flight command; a command that is mid-run
// when its session closes runs to completion, but a new RunInSession call
// against the closed name fails with ErrSessionGone.
func (a *Actor) CloseSession(ctx context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[name]
	if !ok {
		return fmt.Errorf("%w: %s", apierr.ErrSessionGone, name)
	}
	s.stream.Close()
	delete(a.sessions, name)
	return nil
}

func (a *Actor) session(name string) (*Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apierr.ErrSessionGone, name)
	}
	return s, nil
}

// RunInSession executes command in the named session's shell context,
// serialized against any other command on the same session (s.mu), while
// commands on distinct sessions proceed concurrently.
func (a *Actor) RunInSession(ctx context.Context, name, command string) (*proto.Observation, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	s, err := a.session(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	wrapped := command
	if s.workDir != "" {
		wrapped = fmt.Sprintf("cd %s && %s", shellQuotePath(s.workDir), command)
	}
	return s.stream.run(wrapped)
}

// Execute runs a session-less one-shot command.
func (a *Actor) Execute(ctx context.Context, cmd []string) (*proto.CommandResponse, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	stdout, code, err := a.drv.Exec(ctx, a.id, cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apierr.ErrInternal, err)
	}
	return &proto.CommandResponse{Stdout: stdout, ExitCode: code}, nil
}

// Arun launches command detached via nohup and returns once it finishes or
// times out, per RunNohup's contract. limitBytes is the Limited-mode byte
// budget (response_limited_bytes_in_nohup); it is ignored by the other
// modes.
func (a *Actor) Arun(ctx context.Context, command string, mode proto.NohupOutputMode, limitBytes int, timeout time.Duration) (*NohupResult, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return RunNohup(ctx, execAdapter{a}, command, mode, limitBytes, timeout)
}

type execAdapter struct{ a *Actor }

func (e execAdapter) Exec(ctx context.Context, cmd []string) (string, int, error) {
	return e.a.drv.Exec(ctx, e.a.id, cmd)
}

// ReadFile and WriteFile implement the filesystem RPC surface.
func (a *Actor) ReadFile(ctx context.Context, path string) (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	rc, err := a.drv.GetFile(ctx, a.id, path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", apierr.ErrNotFound, err)
	}
	defer rc.Close()
	buf := make([]byte, 0, 4096)
	for {
		chunk := make([]byte, 4096)
		n, rerr := rc.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if rerr != nil {
			break
		}
	}
	return string(buf), nil
}

func (a *Actor) WriteFile(ctx context.Context, path, content string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.drv.PutFile(ctx, a.id, path, strings.NewReader(content))
}

// GetStatistics returns a read-only snapshot of the actor's session table.
// It takes no per-id lock (internal/registry's lockSet), matching spec.md
// §4.3's read-operation exemption.
func (a *Actor) GetStatistics(ctx context.Context) proto.StatisticsResponse {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.sessions))
	for name := range a.sessions {
		names = append(names, name)
	}
	return proto.StatisticsResponse{
		State:        string(a.state),
		UptimeSecond: time.Since(a.createdAt).Seconds(),
		SessionNames: names,
	}
}

// Close tears down the actor's driver-backed container and any open
// session streams. Idempotent.
func (a *Actor) Close(ctx context.Context) error {
	a.setState(StateStopping)
	a.mu.Lock()
	for name, s := range a.sessions {
		s.stream.Close()
		delete(a.sessions, name)
	}
	a.mu.Unlock()
	err := a.drv.Stop(ctx, a.id)
	a.setState(StateStopped)
	if err != nil && err != driver.ErrSandboxNotFound {
		return err
	}
	return nil
}

func shellQuotePath(p string) string {
	return "'" + p + "'"
}
