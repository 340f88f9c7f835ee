// Package driver abstracts over container backends. The concrete backend
// specified by the control plane is Docker (internal/driver/docker); an
// in-memory fake (internal/driver/fakedriver) backs tests that do not need
// a real container runtime.
package driver

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Common errors returned by Driver implementations, matching spec.md §7's
// error taxonomy (see internal/apierr for the coarse Kind these refine).
var (
	ErrSandboxNotFound   = fmt.Errorf("sandbox not found")
	ErrSandboxNotRunning = fmt.Errorf("sandbox not running")
	ErrConnectionFailed  = fmt.Errorf("failed to connect to sandbox agent")
	ErrResourceExhausted = fmt.Errorf("resource limit exhausted")
	ErrInvalidConfig     = fmt.Errorf("invalid sandbox configuration")
	ErrImagePullFailed   = fmt.Errorf("image pull failed")
	ErrRuntimeError      = fmt.Errorf("container runtime error")
)

// SandboxState is the driver-observed lifecycle state of one container.
type SandboxState string

const (
	StateCreating SandboxState = "creating"
	StateReady    SandboxState = "ready"
	StateStopping SandboxState = "stopping"
	StateStopped  SandboxState = "stopped"
	StateError    SandboxState = "error"
)

// SandboxSpec is the contract between the control plane and the driver:
// everything needed to provision one container-backed sandbox. MemoryBytes
// is already parsed (see internal/format.ParseMemorySize) by the time it
// reaches the driver.
type SandboxSpec struct {
	Image                 string            `json:"image"`
	CPUs                  float64           `json:"cpus"`
	MemoryBytes           int64             `json:"memory_bytes"`
	Env                   map[string]string `json:"env,omitempty"`
	Labels                map[string]string `json:"labels,omitempty"`
	StartupTimeoutSeconds int               `json:"startup_timeout_seconds"`
	WorkDir               string            `json:"work_dir,omitempty"`
}

// Validate applies defaults and rejects an invalid spec.
func (s *SandboxSpec) Validate() error {
	if s.Image == "" {
		return fmt.Errorf("%w: image is required", ErrInvalidConfig)
	}
	if s.MemoryBytes <= 0 {
		s.MemoryBytes = 512 * 1024 * 1024
	}
	if s.CPUs <= 0 {
		s.CPUs = 1.0
	}
	if s.StartupTimeoutSeconds <= 0 {
		s.StartupTimeoutSeconds = 60
	}
	if s.WorkDir == "" {
		s.WorkDir = "/workspace"
	}
	return nil
}

// FileEntry describes one file or directory inside a sandbox.
type FileEntry struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Mode         int64     `json:"mode"`
	IsDir        bool      `json:"is_dir"`
	LastModified time.Time `json:"last_modified"`
}

// SandboxInfo is runtime information about a driver-managed container.
type SandboxInfo struct {
	ID         string       `json:"id"`
	State      SandboxState `json:"state"`
	CreatedAt  time.Time    `json:"created_at"`
	DriverType string       `json:"driver_type"`
	IPAddress  string       `json:"ip_address,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Driver is the abstraction interface for sandbox backends. Implementations
// must be safe for concurrent use.
//
// Lifecycle: Create() provisions the container (not yet running); Start()
// boots it and blocks until the container process is launched (it does
// NOT wait for the in-container agent to answer is_alive — that polling
// belongs to internal/actor, per spec.md §4.2); Stop() tears everything
// down and is idempotent.
type Driver interface {
	// Create provisions a new sandbox container for spec, pulling the
	// image first if necessary. Returns ErrInvalidConfig for an invalid
	// spec; the Docker backend returns ErrImagePullFailed or
	// ErrRuntimeError for pull and container-create failures.
	Create(ctx context.Context, spec SandboxSpec) (id string, err error)

	// Start boots a previously created container.
	Start(ctx context.Context, id string) error

	// Stop terminates and removes a container. Idempotent.
	Stop(ctx context.Context, id string) error

	// Connect establishes a raw bidirectional stream to a freshly exec'd
	// process inside the container (shell if non-empty, otherwise the
	// backend's in-container agent) — the transport underlying one Session
	// (internal/actor).
	Connect(ctx context.Context, id string, shell string) (io.ReadWriteCloser, error)

	// Exec runs a one-shot host-side command inside the container and
	// waits for it to finish, used for probes (is_alive, kill -0) rather
	// than user session traffic.
	Exec(ctx context.Context, id string, cmd []string) (stdout string, exitCode int, err error)

	// PortMapping returns the container-port -> host-port bindings
	// published when the container started.
	PortMapping(ctx context.Context, id string) (map[int]int, error)

	// ListFiles, PutFile, and GetFile implement the filesystem API.
	ListFiles(ctx context.Context, id, path string) ([]*FileEntry, error)
	PutFile(ctx context.Context, id, path string, content io.Reader) error
	GetFile(ctx context.Context, id, path string) (io.ReadCloser, error)

	// Info and List report driver-observed container state.
	Info(ctx context.Context, id string) (*SandboxInfo, error)
	List(ctx context.Context, states []SandboxState) ([]*SandboxInfo, error)

	DriverName() string
	Healthy(ctx context.Context) error
	Close() error
}

// PoolStats reports warmup pool occupancy for one (image, spec) key.
type PoolStats struct {
	Available int `json:"available"`
	InUse     int `json:"in_use"`
	Total     int `json:"total"`
	Target    int `json:"target"`
}

// PooledDriver extends Driver with warm-pool semantics. internal/pool.Pool
// implements this interface, delegating WarmUp/Claim/PoolStatus to its own
// per-(image,spec) bookkeeping, so the control plane's warmup admin routes
// can address either a bare Driver or a pool-backed one uniformly.
type PooledDriver interface {
	Driver

	// WarmUp pre-creates count idle, READY actors for spec and returns
	// their sandbox ids.
	WarmUp(ctx context.Context, spec SandboxSpec, count int) ([]string, error)

	// Claim hands off a pre-warmed sandbox, or falls back to a
	// synchronous build if the pool for spec is empty.
	Claim(ctx context.Context, spec SandboxSpec) (id string, err error)

	// PoolStatus reports current pool occupancy for spec.
	PoolStatus(ctx context.Context, spec SandboxSpec) (*PoolStats, error)
}

// DriverFactory creates Driver instances based on configuration, enabling
// runtime selection of the backend.
type DriverFactory func(cfg map[string]any) (Driver, error)

var driverRegistry = make(map[string]DriverFactory)

// RegisterDriver registers a driver factory under the given name. Typically
// called from the init() function of a driver implementation package.
func RegisterDriver(name string, factory DriverFactory) {
	driverRegistry[name] = factory
}

// NewDriver creates a new Driver instance using the registered factory.
func NewDriver(name string, cfg map[string]any) (Driver, error) {
	factory, ok := driverRegistry[name]
	if !ok {
		return nil, fmt.Errorf("unknown driver: %s", name)
	}
	return factory(cfg)
}

// AvailableDrivers returns the names of all registered drivers.
func AvailableDrivers() []string {
	names := make([]string, 0, len(driverRegistry))
	for name := range driverRegistry {
		names = append(names, name)
	}
	return names
}
