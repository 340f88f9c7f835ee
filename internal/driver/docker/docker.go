// Package docker implements driver.Driver against the Docker engine.
package docker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/akshayaggarwal99/boxed/internal/driver"
	"github.com/akshayaggarwal99/boxed/internal/status"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog/log"
)

const (
	DriverName      = "docker"
	AgentBinaryPath = "/usr/local/bin/boxed-agent"
	AgentPort       = 8900
	ManagedLabel    = "xyz.boxed.managed"
)

// DockerDriver implements driver.Driver using the Docker engine. A status
// writer, keyed by sandbox id, records bring-up phases to the status
// directory so a read-role replica can serve status without a live driver.
type DockerDriver struct {
	cli           *client.Client
	hostAgentPath string
	statusDir     string
}

// New creates a new DockerDriver. cfg["agent_path"] points at the compiled
// agent binary on the host; cfg["status_dir"] is where phase documents are
// persisted (see internal/status).
func New(cfg map[string]any) (driver.Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	go cleanupOrphans(cli)

	agentPath := "boxed-agent"
	if p, ok := cfg["agent_path"].(string); ok && p != "" {
		agentPath = p
	} else if abs, err := filepath.Abs("agent/target/release/boxed-agent"); err == nil {
		agentPath = abs
	}

	statusDir, _ := cfg["status_dir"].(string)

	return &DockerDriver{
		cli:           cli,
		hostAgentPath: agentPath,
		statusDir:     statusDir,
	}, nil
}

func init() {
	driver.RegisterDriver(DriverName, New)
}

func (d *DockerDriver) DriverName() string {
	return DriverName
}

func (d *DockerDriver) Healthy(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

func (d *DockerDriver) Close() error {
	return d.cli.Close()
}

func cleanupOrphans(cli *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("performing startup garbage collection of orphaned containers")
	list, err := cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedLabel+"=true")),
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to list orphaned containers")
		return
	}

	count := 0
	for _, c := range list {
		if err := cli.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
			log.Warn().Str("id", c.ID).Err(err).Msg("failed to remove orphan")
		} else {
			count++
		}
	}
	if count > 0 {
		log.Info().Int("count", count).Msg("removed orphaned containers")
	}
}

// newStatus builds a Status tracker for id, a no-op persister if statusDir
// is unset.
func (d *DockerDriver) newStatus(id string) *status.Status {
	return status.New(d.statusDir, id)
}

func (d *DockerDriver) Create(ctx context.Context, spec driver.SandboxSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	nanoCPUs := int64(spec.CPUs * 1e9)

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: nanoCPUs,
			Memory:   spec.MemoryBytes,
		},
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   d.hostAgentPath,
				Target:   AgentBinaryPath,
				ReadOnly: true,
			},
			{Type: mount.TypeTmpfs, Target: "/tmp"},
			{Type: mount.TypeTmpfs, Target: "/output"},
		},
		PortBindings: nat.PortMap{
			nat.Port(fmt.Sprintf("%d/tcp", AgentPort)): []nat.PortBinding{{HostIP: "127.0.0.1"}},
		},
	}

	env := []string{"BOXED_AGENT_MODE=docker"}
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	labels := spec.Labels
	if labels == nil {
		labels = make(map[string]string)
	}
	labels[ManagedLabel] = "true"

	st := d.newStatus("pending")

	_, _, err := d.cli.ImageInspectWithRaw(ctx, spec.Image)
	if client.IsErrNotFound(err) {
		st.UpdateStatus(status.PhaseImagePull, status.Running, "pulling "+spec.Image)
		log.Info().Str("image", spec.Image).Msg("image not found locally, pulling")
		reader, perr := d.cli.ImagePull(ctx, spec.Image, types.ImagePullOptions{})
		if perr != nil {
			st.UpdateStatus(status.PhaseImagePull, status.Failed, perr.Error())
			return "", fmt.Errorf("%w: %s", driver.ErrImagePullFailed, perr)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
		st.UpdateStatus(status.PhaseImagePull, status.Success, "pulled")
	} else if err != nil {
		return "", fmt.Errorf("failed to inspect image: %w", err)
	} else {
		st.UpdateStatus(status.PhaseImagePull, status.Success, "already present")
	}

	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        spec.Image,
			Cmd:          []string{"tail", "-f", "/dev/null"},
			Env:          env,
			Labels:       labels,
			WorkingDir:   spec.WorkDir,
			ExposedPorts: nat.PortSet{nat.Port(fmt.Sprintf("%d/tcp", AgentPort)): struct{}{}},
		},
		hostConfig,
		nil,
		nil,
		"",
	)
	if err != nil {
		st.UpdateStatus(status.PhaseDockerRun, status.Failed, err.Error())
		return "", fmt.Errorf("%w: %s", driver.ErrRuntimeError, err)
	}

	// Rename the status file to the real id now that it's known.
	st.Remove()
	real := status.New(d.statusDir, resp.ID)
	real.UpdateStatus(status.PhaseImagePull, status.Success, "ready")
	real.UpdateStatus(status.PhaseDockerRun, status.Waiting, "created")

	return resp.ID, nil
}

func (d *DockerDriver) Start(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("%w: %s", driver.ErrRuntimeError, err)
	}

	st := d.newStatus(id)
	st.UpdateStatus(status.PhaseDockerRun, status.Success, "running")

	if mapping, err := d.PortMapping(ctx, id); err == nil {
		for containerPort, hostPort := range mapping {
			st.AddPortMapping(containerPort, hostPort)
		}
	}

	return nil
}

func (d *DockerDriver) Stop(ctx context.Context, id string) error {
	opts := types.ContainerRemoveOptions{Force: true, RemoveVolumes: true}
	if err := d.cli.ContainerRemove(ctx, id, opts); err != nil {
		if client.IsErrNotFound(err) {
			return driver.ErrSandboxNotFound
		}
		return fmt.Errorf("%w: %s", driver.ErrRuntimeError, err)
	}
	d.newStatus(id).Remove()
	return nil
}

// Connect exec's the agent binary inside the container and returns a
// demultiplexed stream to it, for use as one Session's transport.
func (d *DockerDriver) Connect(ctx context.Context, id string, shell string) (io.ReadWriteCloser, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, driver.ErrSandboxNotFound
		}
		return nil, err
	}
	if !info.State.Running {
		return nil, driver.ErrSandboxNotRunning
	}

	cmd := []string{AgentBinaryPath}
	if shell != "" {
		cmd = []string{shell}
	}

	execConfig := types.ExecConfig{
		Cmd:          cmd,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}

	execIDResp, err := d.cli.ContainerExecCreate(ctx, id, execConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", driver.ErrConnectionFailed, err)
	}

	resp, err := d.cli.ContainerExecAttach(ctx, execIDResp.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", driver.ErrConnectionFailed, err)
	}

	return NewDockerStream(resp), nil
}

// Exec runs a one-shot command to completion and captures its stdout,
// used for probes (is_alive, kill -0) rather than session traffic.
func (d *DockerDriver) Exec(ctx context.Context, id string, cmd []string) (string, int, error) {
	execConfig := types.ExecConfig{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	}
	execIDResp, err := d.cli.ContainerExecCreate(ctx, id, execConfig)
	if err != nil {
		return "", -1, fmt.Errorf("%w: %s", driver.ErrConnectionFailed, err)
	}

	resp, err := d.cli.ContainerExecAttach(ctx, execIDResp.ID, types.ExecStartCheck{})
	if err != nil {
		return "", -1, fmt.Errorf("%w: %s", driver.ErrConnectionFailed, err)
	}
	defer resp.Close()

	stream := NewDockerStream(resp)
	out, _ := io.ReadAll(stream)
	stream.Close()

	inspect, err := d.cli.ContainerExecInspect(ctx, execIDResp.ID)
	if err != nil {
		return string(out), -1, err
	}
	return string(out), inspect.ExitCode, nil
}

// PortMapping returns the agent's published host port, if any.
func (d *DockerDriver) PortMapping(ctx context.Context, id string) (map[int]int, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, driver.ErrSandboxNotFound
		}
		return nil, err
	}

	result := make(map[int]int)
	key := nat.Port(fmt.Sprintf("%d/tcp", AgentPort))
	bindings, ok := info.NetworkSettings.Ports[key]
	if !ok || len(bindings) == 0 {
		return result, nil
	}
	var hostPort int
	fmt.Sscanf(bindings[0].HostPort, "%d", &hostPort)
	result[AgentPort] = hostPort
	return result, nil
}

func (d *DockerDriver) Info(ctx context.Context, id string) (*driver.SandboxInfo, error) {
	inspect, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, driver.ErrSandboxNotFound
		}
		return nil, err
	}

	state := driver.StateStopped
	if inspect.State.Running {
		state = driver.StateReady
	} else if inspect.State.Dead || inspect.State.OOMKilled {
		state = driver.StateError
	}

	created, _ := time.Parse(time.RFC3339Nano, inspect.Created)

	return &driver.SandboxInfo{
		ID:         inspect.ID,
		State:      state,
		CreatedAt:  created,
		DriverType: DriverName,
		IPAddress:  inspect.NetworkSettings.IPAddress,
	}, nil
}

func (d *DockerDriver) List(ctx context.Context, states []driver.SandboxState) ([]*driver.SandboxInfo, error) {
	containers, err := d.cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedLabel+"=true")),
	})
	if err != nil {
		return nil, err
	}

	want := make(map[driver.SandboxState]bool, len(states))
	for _, s := range states {
		want[s] = true
	}

	var results []*driver.SandboxInfo
	for _, c := range containers {
		state := driver.StateStopped
		if c.State == "running" {
			state = driver.StateReady
		}
		if len(want) > 0 && !want[state] {
			continue
		}
		results = append(results, &driver.SandboxInfo{
			ID:         c.ID,
			State:      state,
			DriverType: DriverName,
		})
	}
	return results, nil
}

// DockerStream demultiplexes a hijacked exec connection's stdout/stderr
// frames (the Docker stream-copy header format) into a clean
// io.ReadWriteCloser carrying only stdout, so the JSON-RPC wire protocol
// never sees interleaved stderr bytes.
type DockerStream struct {
	resp   types.HijackedResponse
	reader *io.PipeReader
	writer *io.PipeWriter
}

func NewDockerStream(resp types.HijackedResponse) *DockerStream {
	pr, pw := io.Pipe()
	ds := &DockerStream{resp: resp, reader: pr, writer: pw}
	go ds.demux()
	return ds
}

func (ds *DockerStream) demux() {
	defer ds.writer.Close()

	for {
		header := make([]byte, 8)
		if _, err := io.ReadFull(ds.resp.Reader, header); err != nil {
			return
		}

		payloadSize := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if payloadSize < 0 {
			return
		}

		switch header[0] {
		case 1: // stdout
			if _, err := io.CopyN(ds.writer, ds.resp.Reader, int64(payloadSize)); err != nil {
				return
			}
		case 2: // stderr, logged not forwarded
			io.CopyN(os.Stderr, ds.resp.Reader, int64(payloadSize))
		default:
			io.CopyN(io.Discard, ds.resp.Reader, int64(payloadSize))
		}
	}
}

func (ds *DockerStream) Read(p []byte) (int, error) {
	return ds.reader.Read(p)
}

func (ds *DockerStream) Write(p []byte) (int, error) {
	return ds.resp.Conn.Write(p)
}

func (ds *DockerStream) Close() error {
	ds.resp.Close()
	ds.writer.Close()
	return nil
}
