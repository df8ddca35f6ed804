package process

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is a Process's lifecycle state (spec §3).
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateWaiting   State = "waiting"
	StateDone      State = "done"
	StateErrored   State = "errored"
	StateTerminated State = "terminated"
)

// Process is one agent container tracked by the controller.
type Process struct {
	ID        string
	ProjectID string
	IsCore    bool
	State     State
	StartedAt time.Time
	UpdatedAt time.Time
}

// ContainerDriver is the narrow surface the Manager needs to start and
// force-stop the containerized agent process. Production wiring backs
// this with DockerDriver (the docker CLI); tests substitute a stub.
type ContainerDriver interface {
	Start(ctx context.Context, p *Process) error
	ForceStop(ctx context.Context, processID string) error
}

// Manager tracks every known Process and designates exactly one core
// process per controller instance (spec §4.9's "core process" guard).
type Manager struct {
	mu       sync.RWMutex
	byID     map[string]*Process
	coreID   string
	driver   ContainerDriver
	queue    *CommandQueue
}

func NewManager(driver ContainerDriver) *Manager {
	return &Manager{
		byID:   make(map[string]*Process),
		driver: driver,
		queue:  NewCommandQueue(),
	}
}

// Create registers and starts a new process. If isCore is true and a
// core process is already designated, Create returns an error — only
// one core process may exist at a time.
func (m *Manager) Create(ctx context.Context, id, projectID string, isCore bool) (*Process, error) {
	m.mu.Lock()
	if isCore && m.coreID != "" {
		m.mu.Unlock()
		return nil, fmt.Errorf("process: core process %q already designated", m.coreID)
	}
	if _, exists := m.byID[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("process: %q already exists", id)
	}
	p := &Process{ID: id, ProjectID: projectID, IsCore: isCore, State: StatePending, StartedAt: time.Now(), UpdatedAt: time.Now()}
	m.byID[id] = p
	if isCore {
		m.coreID = id
	}
	m.mu.Unlock()

	if _, err := EnqueueInLane(m.queue, LaneMain, func(ctx context.Context) (any, error) {
		return nil, m.driver.Start(ctx, p)
	}, nil); err != nil {
		m.SetState(id, StateErrored)
		return p, err
	}
	m.SetState(id, StateRunning)
	return p, nil
}

func (m *Manager) Get(id string) (*Process, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[id]
	return p, ok
}

// IsCore reports whether id is the designated core process.
func (m *Manager) IsCore(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return id != "" && id == m.coreID
}

func (m *Manager) SetState(id string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byID[id]; ok {
		p.State = state
		p.UpdatedAt = time.Now()
	}
}

// ForceStop stops a container immediately. Per spec §4.9, callers must
// refuse to stop the core process through the normal command_start path;
// ForceStop itself has no such guard — it is the event router's job to
// enforce that policy before calling it.
func (m *Manager) ForceStop(ctx context.Context, id string) error {
	if err := m.driver.ForceStop(ctx, id); err != nil {
		return err
	}
	m.SetState(id, StateTerminated)
	return nil
}

// List returns a snapshot of every tracked process.
func (m *Manager) List() []*Process {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Process, 0, len(m.byID))
	for _, p := range m.byID {
		out = append(out, p)
	}
	return out
}

// Remove drops a process from tracking, clearing the core designation
// if it was the core process.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	if m.coreID == id {
		m.coreID = ""
	}
}
