// Package fakedriver implements driver.Driver entirely in memory, so
// internal/actor and internal/pool tests exercise the full actor/session
// lifecycle without a container runtime.
package fakedriver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/akshayaggarwal99/boxed/internal/driver"
	"github.com/akshayaggarwal99/boxed/internal/proto"
	"github.com/google/uuid"
)

// sandbox is one fake container: a bag of in-memory files and a fixed
// exec behavior table.
type sandbox struct {
	id      string
	spec    driver.SandboxSpec
	state   driver.SandboxState
	created time.Time
	files   map[string][]byte
}

// FakeDriver is a thread-safe, entirely in-memory driver.Driver. Exec
// always succeeds with empty output unless an override is installed via
// SetExecFunc. Connect, unless SetShellFunc overrides it, hands back one
// end of an in-memory pipe driven by runFakeAgent, a miniature JSON-RPC
// agent that answers "exec" requests using that same SetExecFunc table —
// so a session-based test and a one-shot-exec test can share one script.
type FakeDriver struct {
	mu        sync.Mutex
	sandboxes map[string]*sandbox
	execFn    func(id string, cmd []string) (string, int, error)
	shellFn   func(id string) io.ReadWriter
}

func New() *FakeDriver {
	return &FakeDriver{sandboxes: make(map[string]*sandbox)}
}

// SetExecFunc overrides Exec's behavior for tests that need to simulate
// specific probe/launch outputs.
func (f *FakeDriver) SetExecFunc(fn func(id string, cmd []string) (string, int, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execFn = fn
}

// SetShellFunc installs a factory for the reader/writer pair returned by
// Connect, letting a test script canned agent responses.
func (f *FakeDriver) SetShellFunc(fn func(id string) io.ReadWriter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shellFn = fn
}

func (f *FakeDriver) Create(ctx context.Context, spec driver.SandboxSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.sandboxes[id] = &sandbox{
		id:      id,
		spec:    spec,
		state:   driver.StateCreating,
		created: time.Now(),
		files:   make(map[string][]byte),
	}
	return id, nil
}

func (f *FakeDriver) Start(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.sandboxes[id]
	if !ok {
		return driver.ErrSandboxNotFound
	}
	sb.state = driver.StateReady
	return nil
}

func (f *FakeDriver) Stop(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sandboxes[id]; !ok {
		return driver.ErrSandboxNotFound
	}
	delete(f.sandboxes, id)
	return nil
}

func (f *FakeDriver) Connect(ctx context.Context, id string, shell string) (io.ReadWriteCloser, error) {
	f.mu.Lock()
	sb, ok := f.sandboxes[id]
	shellFn := f.shellFn
	execFn := f.execFn
	f.mu.Unlock()
	if !ok {
		return nil, driver.ErrSandboxNotFound
	}
	if sb.state != driver.StateReady {
		return nil, driver.ErrSandboxNotRunning
	}
	if shellFn != nil {
		return nopCloser{shellFn(id)}, nil
	}
	client, agent := net.Pipe()
	go runFakeAgent(agent, id, execFn)
	return client, nil
}

// runFakeAgent simulates the in-container agent's JSON-RPC loop well
// enough for internal/actor's sessionStream to drive against: it reads
// "exec" requests, reuses whatever SetExecFunc produced for Exec, and
// reports the result back as a "stdout" notification followed by "exit",
// the same two frames internal/proto documents for session command output.
func runFakeAgent(conn io.ReadWriteCloser, id string, execFn func(id string, cmd []string) (string, int, error)) {
	defer conn.Close()
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 4096), 1<<20)
	for sc.Scan() {
		var req proto.Request
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			continue
		}
		if req.Method != "exec" {
			continue
		}
		var params proto.ExecParams
		if raw, err := json.Marshal(req.Params); err == nil {
			json.Unmarshal(raw, &params)
		}
		cmd := append([]string{params.Cmd}, params.Args...)
		var stdout string
		var code int
		var err error
		if execFn != nil {
			stdout, code, err = execFn(id, cmd)
		}
		if err != nil {
			writeFrame(conn, proto.NewNotification("error", map[string]any{"message": err.Error()}))
			return
		}
		writeFrame(conn, proto.NewNotification("stdout", map[string]any{"chunk": stdout}))
		writeFrame(conn, proto.NewNotification("exit", map[string]any{"code": code}))
	}
}

func writeFrame(w io.Writer, v any) {
	line, err := json.Marshal(v)
	if err != nil {
		return
	}
	w.Write(append(line, '\n'))
}

func (f *FakeDriver) Exec(ctx context.Context, id string, cmd []string) (string, int, error) {
	f.mu.Lock()
	sb, ok := f.sandboxes[id]
	execFn := f.execFn
	f.mu.Unlock()
	if !ok {
		return "", -1, driver.ErrSandboxNotFound
	}
	if execFn != nil {
		return execFn(sb.id, cmd)
	}
	return "", 0, nil
}

func (f *FakeDriver) PortMapping(ctx context.Context, id string) (map[int]int, error) {
	return map[int]int{}, nil
}

func (f *FakeDriver) ListFiles(ctx context.Context, id, path string) ([]*driver.FileEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.sandboxes[id]
	if !ok {
		return nil, driver.ErrSandboxNotFound
	}
	var out []*driver.FileEntry
	for p, data := range sb.files {
		out = append(out, &driver.FileEntry{Name: p, Path: p, Size: int64(len(data))})
	}
	return out, nil
}

func (f *FakeDriver) PutFile(ctx context.Context, id, path string, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.sandboxes[id]
	if !ok {
		return driver.ErrSandboxNotFound
	}
	sb.files[path] = data
	return nil
}

func (f *FakeDriver) GetFile(ctx context.Context, id, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.sandboxes[id]
	if !ok {
		return nil, driver.ErrSandboxNotFound
	}
	data, ok := sb.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", driver.ErrSandboxNotFound, path)
	}
	return io.NopCloser(bufio.NewReader(newByteReader(data))), nil
}

func (f *FakeDriver) Info(ctx context.Context, id string) (*driver.SandboxInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.sandboxes[id]
	if !ok {
		return nil, driver.ErrSandboxNotFound
	}
	return &driver.SandboxInfo{ID: sb.id, State: sb.state, CreatedAt: sb.created, DriverType: "fake"}, nil
}

func (f *FakeDriver) List(ctx context.Context, states []driver.SandboxState) ([]*driver.SandboxInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*driver.SandboxInfo
	for _, sb := range f.sandboxes {
		out = append(out, &driver.SandboxInfo{ID: sb.id, State: sb.state, CreatedAt: sb.created, DriverType: "fake"})
	}
	return out, nil
}

func (f *FakeDriver) DriverName() string { return "fake" }

func (f *FakeDriver) Healthy(ctx context.Context) error { return nil }

func (f *FakeDriver) Close() error { return nil }

type nopCloser struct{ io.ReadWriter }

func (nopCloser) Close() error { return nil }

func newByteReader(b []byte) io.Reader {
	return &byteReader{data: b}
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
