// Package lifecycle implements the per-session start/stop state machine
// from §4.3, the direct counterpart of the source LifecycleManager.
package lifecycle

import (
	"fmt"
	"log/slog"
	"sync"
)

// State is one of the session lifecycle states.
type State int

const (
	Created State = iota
	Starting
	Running
	Stopping
	Stopped
	Error
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Hook is a start or stop action. Returning an error from an OnStart
// hook moves the manager into the Error state without aborting the
// remaining hooks, matching the source's per-hook try/except.
type Hook func() error

// Manager drives one session through Created -> Starting -> Running ->
// Stopping -> Stopped, with Error reachable from Starting. Stop still
// moves an errored manager through Stopping to Stopped.
type Manager struct {
	mu         sync.Mutex
	state      State
	onStart    []Hook
	onStop     []Hook
	stopCh     chan struct{}
	stopClosed bool
	logger     *slog.Logger
}

// New creates a Manager in the Created state.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		state:  Created,
		stopCh: make(chan struct{}),
		logger: logger,
	}
}

// OnStart registers a hook run, in registration order, by Start.
func (m *Manager) OnStart(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStart = append(m.onStart, h)
}

// OnStop registers a hook run, in reverse registration order, by Stop.
func (m *Manager) OnStop(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStop = append(m.onStop, h)
}

// Start transitions Created -> Starting -> Running, running every
// OnStart hook in order. A hook failure is logged and transitions the
// manager to Error, but subsequent hooks still run (the source
// prioritizes best-effort startup over fail-fast).
func (m *Manager) Start() {
	m.mu.Lock()
	m.state = Starting
	hooks := append([]Hook(nil), m.onStart...)
	m.mu.Unlock()

	failed := false
	for _, h := range hooks {
		if err := h(); err != nil {
			failed = true
			m.logger.Error("lifecycle start hook failed", "error", err)
		}
	}

	m.mu.Lock()
	if failed {
		m.state = Error
	} else {
		m.state = Running
	}
	m.mu.Unlock()
}

// Stop transitions to Stopping, runs every OnStop hook in reverse
// registration order, then to Stopped and unblocks WaitForStop. Stop is
// idempotent: calling it more than once is a no-op after the first.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopClosed {
		m.mu.Unlock()
		return
	}
	m.stopClosed = true
	m.state = Stopping
	hooks := append([]Hook(nil), m.onStop...)
	m.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](); err != nil {
			m.logger.Error("lifecycle stop hook failed", "error", err)
		}
	}

	m.mu.Lock()
	m.state = Stopped
	close(m.stopCh)
	m.mu.Unlock()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsRunning reports whether the manager has completed Start without
// error and has not begun Stop.
func (m *Manager) IsRunning() bool {
	return m.State() == Running
}

// IsStopped reports whether Stop has completed.
func (m *Manager) IsStopped() bool {
	return m.State() == Stopped
}

// StopSignal returns a channel closed once Stop has fully completed.
// Session-owned goroutines select on this at every suspension point
// per §5.
func (m *Manager) StopSignal() <-chan struct{} {
	return m.stopCh
}

// WaitForStop blocks until Stop has fully completed.
func (m *Manager) WaitForStop() {
	<-m.stopCh
}

// Err returns a descriptive error if the manager is in the Error state.
func (m *Manager) Err() error {
	if m.State() != Error {
		return nil
	}
	return fmt.Errorf("lifecycle: one or more start hooks failed")
}
