package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voicegate/gateway/internal/config"
	"github.com/voicegate/gateway/internal/container"
	"github.com/voicegate/gateway/internal/eventbus"
)

// Manager owns the sessionID -> Context map, creating and destroying
// sessions and emitting the SessionCreated/SessionDestroying lifecycle
// events, per §4.7 item 7 of the component dependency order.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Context

	bus       *eventbus.Bus
	container *container.Container
	logger    *slog.Logger
}

// NewManager creates a session manager wired to the shared event bus
// and DI container.
func NewManager(bus *eventbus.Bus, c *container.Container, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:  make(map[string]*Context),
		bus:       bus,
		container: c,
		logger:    logger,
	}
}

// Create merges deviceOverride onto defaults, allocates a Context, and
// publishes SessionCreated. The caller is responsible for starting the
// lifecycle manager once per-session components are registered.
func (m *Manager) Create(ctx context.Context, deviceID, clientID, clientIP string, defaults *config.Tree, deviceOverride map[string]any) *Context {
	merged := defaults.MergeOverride(deviceOverride)
	sc := New(deviceID, clientID, clientIP, merged, m.logger)

	m.mu.Lock()
	m.sessions[sc.SessionID] = sc
	m.mu.Unlock()

	m.logger.Info("session created", "session_id", sc.SessionID, "device_id", deviceID)
	m.bus.Publish(ctx, eventbus.SessionCreated{Base: eventbus.NewBase(sc.SessionID), DeviceID: deviceID})
	return sc
}

// Get looks up a live session by id.
func (m *Manager) Get(sessionID string) (*Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.sessions[sessionID]
	return sc, ok
}

// Destroy publishes SessionDestroying, runs the session's stop hooks in
// reverse order via its LifecycleManager, cleans up its container
// cache, and removes it from the live map. Safe to call more than once:
// a repeat call finds no live session and returns a not-found error
// without publishing or stopping anything.
func (m *Manager) Destroy(ctx context.Context, sessionID, reason string) error {
	m.mu.Lock()
	sc, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, errNotFound)
	}

	m.bus.Publish(ctx, eventbus.SessionDestroying{Base: eventbus.NewBase(sessionID), Reason: reason})
	sc.Lifecycle.Stop()
	m.container.CleanupSession(sessionID)
	m.logger.Info("session destroyed", "session_id", sessionID, "reason", reason)
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Each calls fn for every live session. fn must not call Destroy
// itself; collect ids and destroy after iterating.
func (m *Manager) Each(fn func(*Context)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sc := range m.sessions {
		fn(sc)
	}
}

var errNotFound = fmt.Errorf("not found")
