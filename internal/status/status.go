// Package status implements the on-disk PhaseStatus persistence contract:
// every sandbox's phases and port mapping are written to
// <status_dir>/<sandbox_id>.json as a full-file replacement (write new,
// rename) on every update, so a read-role replica of the control plane can
// answer status queries without consulting the sandbox actor.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Phase status values. The reserved phases are ImagePull and DockerRun;
// additional phases may be appended, but the phase order Status keeps in
// its order slice is never rearranged.
type PhaseState string

const (
	Waiting   PhaseState = "WAITING"
	Running   PhaseState = "RUNNING"
	Success   PhaseState = "SUCCESS"
	Failed    PhaseState = "FAILED"
	Cancelled PhaseState = "CANCELLED"
)

const (
	PhaseImagePull = "image_pull"
	PhaseDockerRun = "docker_run"
)

// Phase holds the state of a single named bring-up step.
type Phase struct {
	Status  PhaseState `json:"status"`
	Message string     `json:"message"`
}

// Document is the JSON shape written to <status_dir>/<sandbox_id>.json.
type Document struct {
	Phases      map[string]Phase `json:"phases"`
	PortMapping map[string]int   `json:"port_mapping"`
}

// Status is the in-memory, persisted view of one sandbox's bring-up state.
// It is safe for concurrent use; every mutating method re-serializes the
// whole document to disk before returning.
type Status struct {
	mu          sync.Mutex
	sandboxID   string
	dir         string
	order       []string
	phases      map[string]Phase
	portMapping map[string]int
}

// New creates a Status for sandboxID rooted at dir, pre-populated with the
// two reserved phases in order, matching the original implementation's
// ServiceStatus constructor.
func New(dir, sandboxID string) *Status {
	s := &Status{
		sandboxID:   sandboxID,
		dir:         dir,
		order:       []string{PhaseImagePull, PhaseDockerRun},
		phases:      map[string]Phase{PhaseImagePull: {Status: Waiting, Message: "waiting"}, PhaseDockerRun: {Status: Waiting, Message: "waiting"}},
		portMapping: map[string]int{},
	}
	return s
}

// AddPhase appends a new named phase if it does not already exist,
// preserving insertion order, and persists.
func (s *Status) AddPhase(name string, initial PhaseState, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.phases[name]; !exists {
		s.order = append(s.order, name)
	}
	s.phases[name] = Phase{Status: initial, Message: message}
	return s.saveLocked()
}

// UpdateStatus sets a phase's status and message, appending the phase to
// the order if it is new, and persists.
func (s *Status) UpdateStatus(name string, state PhaseState, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.phases[name]; !exists {
		s.order = append(s.order, name)
	}
	s.phases[name] = Phase{Status: state, Message: message}
	return s.saveLocked()
}

// AddPortMapping records containerPort -> hostPort and persists.
func (s *Status) AddPortMapping(containerPort, hostPort int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portMapping[fmt.Sprintf("%d", containerPort)] = hostPort
	return s.saveLocked()
}

// AllSucceeded reports whether every known phase has reached Success —
// the condition under which the sandbox is permitted to leave CREATING.
func (s *Status) AllSucceeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.phases) == 0 {
		return false
	}
	for _, p := range s.phases {
		if p.Status != Success {
			return false
		}
	}
	return true
}

// AnyFailed reports whether any phase has entered Failed.
func (s *Status) AnyFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.phases {
		if p.Status == Failed {
			return true
		}
	}
	return false
}

// Document returns a snapshot of the current phases and port mapping.
func (s *Status) Document() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toDocumentLocked()
}

func (s *Status) toDocumentLocked() Document {
	phases := make(map[string]Phase, len(s.phases))
	for k, v := range s.phases {
		phases[k] = v
	}
	ports := make(map[string]int, len(s.portMapping))
	for k, v := range s.portMapping {
		ports[k] = v
	}
	return Document{Phases: phases, PortMapping: ports}
}

func (s *Status) path() string {
	return filepath.Join(s.dir, s.sandboxID+".json")
}

// saveLocked serializes the document and replaces the status file
// atomically: write to a temp file in the same directory, then rename.
// Must be called with s.mu held.
func (s *Status) saveLocked() error {
	if s.dir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	data, err := json.MarshalIndent(s.toDocumentLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, s.sandboxID+".json.tmp-*")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp status file: %w", err)
	}
	if err := os.Rename(tmpName, s.path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename status file: %w", err)
	}
	return nil
}

// Remove deletes the persisted status file, if any. Idempotent.
func (s *Status) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir == "" {
		return nil
	}
	err := os.Remove(s.path())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Load reads and parses a persisted status document from disk, for the
// read role to serve /sandbox/status without an actor.
func Load(dir, sandboxID string) (Document, error) {
	data, err := os.ReadFile(filepath.Join(dir, sandboxID+".json"))
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse status document: %w", err)
	}
	return doc, nil
}
