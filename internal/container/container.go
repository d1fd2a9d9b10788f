// Package container implements the per-process dependency registry
// described in §4.2: three resolution scopes (global, per-session,
// transient) behind a single Resolve(name, sessionID) call, the direct
// counterpart of the source DIContainer.
package container

import (
	"errors"
	"fmt"
	"sync"
)

// Scope controls how many times a factory runs.
type Scope int

const (
	// Global factories run at most once per process.
	Global Scope = iota
	// PerSession factories run at most once per session id.
	PerSession
	// Transient factories run on every Resolve call.
	Transient
)

// ErrUnregistered is returned when name has no descriptor.
var ErrUnregistered = errors.New("container: unregistered service")

// ErrMissingSession is returned when a session-scoped name is resolved
// without a session id.
var ErrMissingSession = errors.New("container: session-scoped service requires a session id")

// Factory builds an instance of a registered service. sessionID is
// empty for global and most transient resolutions.
type Factory func(c *Container, sessionID string) (any, error)

type descriptor struct {
	scope    Scope
	factory  Factory
	sharable bool
}

// Container is the process-wide service registry. The zero value is
// not usable; construct with New.
type Container struct {
	mu           sync.Mutex
	descriptors  map[string]*descriptor
	globalCache  map[string]any
	sessionCache map[string]map[string]any
}

// New creates an empty Container.
func New() *Container {
	return &Container{
		descriptors:  make(map[string]*descriptor),
		globalCache:  make(map[string]any),
		sessionCache: make(map[string]map[string]any),
	}
}

// RegisterGlobal registers a process-wide singleton.
func (c *Container) RegisterGlobal(name string, factory Factory) {
	c.register(name, &descriptor{scope: Global, factory: factory})
}

// RegisterSession registers a factory created at most once per session.
// sharable, when true, allows a resolution without a session id to fall
// back to a read-only instance shared across sessions (used for
// components like the plugin registry that are conceptually
// per-session-scoped but safe to share).
func (c *Container) RegisterSession(name string, factory Factory, sharable bool) {
	c.register(name, &descriptor{scope: PerSession, factory: factory, sharable: sharable})
}

// RegisterTransient registers a factory invoked on every Resolve call.
func (c *Container) RegisterTransient(name string, factory Factory) {
	c.register(name, &descriptor{scope: Transient, factory: factory})
}

// RegisterInstance registers a pre-built global singleton, skipping
// factory invocation entirely.
func (c *Container) RegisterInstance(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.descriptors[name] = &descriptor{scope: Global}
	c.globalCache[name] = value
}

func (c *Container) register(name string, d *descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.descriptors[name] = d
}

// Resolve looks up name, consulting the session-scoped cache first
// (when sessionID is non-empty) before falling back to the global
// registry for sharable singletons, matching the source resolver's
// "session cache first, then descriptor-scope dispatch" order.
func (c *Container) Resolve(name, sessionID string) (any, error) {
	c.mu.Lock()
	d, ok := c.descriptors[name]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnregistered, name)
	}

	if sessionID != "" {
		if sess, ok := c.sessionCache[sessionID]; ok {
			if inst, ok := sess[name]; ok {
				c.mu.Unlock()
				return inst, nil
			}
		}
	}

	switch d.scope {
	case Global:
		if inst, ok := c.globalCache[name]; ok {
			c.mu.Unlock()
			return inst, nil
		}
		factory := d.factory
		c.mu.Unlock()
		inst, err := factory(c, "")
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", name, err)
		}
		c.mu.Lock()
		c.globalCache[name] = inst
		c.mu.Unlock()
		return inst, nil

	case PerSession:
		if sessionID == "" {
			if d.sharable {
				if inst, ok := c.globalCache[name]; ok {
					c.mu.Unlock()
					return inst, nil
				}
				factory := d.factory
				c.mu.Unlock()
				inst, err := factory(c, "")
				if err != nil {
					return nil, fmt.Errorf("resolve %s: %w", name, err)
				}
				c.mu.Lock()
				c.globalCache[name] = inst
				c.mu.Unlock()
				return inst, nil
			}
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrMissingSession, name)
		}
		factory := d.factory
		c.mu.Unlock()
		inst, err := factory(c, sessionID)
		if err != nil {
			return nil, fmt.Errorf("resolve %s for session %s: %w", name, sessionID, err)
		}
		c.mu.Lock()
		if c.sessionCache[sessionID] == nil {
			c.sessionCache[sessionID] = make(map[string]any)
		}
		c.sessionCache[sessionID][name] = inst
		c.mu.Unlock()
		return inst, nil

	default: // Transient
		factory := d.factory
		c.mu.Unlock()
		inst, err := factory(c, sessionID)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", name, err)
		}
		return inst, nil
	}
}

// CleanupSession drops every cached per-session instance for
// sessionID. Called on SessionDestroying.
func (c *Container) CleanupSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessionCache, sessionID)
}

// HasService reports whether name has a descriptor.
func (c *Container) HasService(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.descriptors[name]
	return ok
}

// ServiceNames returns all registered names, for diagnostics.
func (c *Container) ServiceNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.descriptors))
	for n := range c.descriptors {
		names = append(names, n)
	}
	return names
}

// Clear removes every registration and cache entry. Used by tests.
func (c *Container) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.descriptors = make(map[string]*descriptor)
	c.globalCache = make(map[string]any)
	c.sessionCache = make(map[string]map[string]any)
}
