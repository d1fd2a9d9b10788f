package tools

import (
	"github.com/voicegate/gateway/internal/container"
	"github.com/voicegate/gateway/internal/eventbus"
	"github.com/voicegate/gateway/internal/session"
)

// SessionInvoker adapts a Registry+Dispatcher pair to the
// session.ToolInvoker capability every session's FuncHandler exposes
// to the dialogue and intent services.
type SessionInvoker struct {
	registry   *Registry
	dispatcher *Dispatcher
	container  *container.Container
	bus        *eventbus.Bus
}

// NewSessionInvoker builds the per-session tool-invocation facade.
func NewSessionInvoker(registry *Registry, c *container.Container, bus *eventbus.Bus) *SessionInvoker {
	return &SessionInvoker{
		registry:   registry,
		dispatcher: NewDispatcher(registry),
		container:  c,
		bus:        bus,
	}
}

// Functions implements session.ToolInvoker, returning the tool
// definitions to offer the LLM.
func (s *SessionInvoker) Functions() []any {
	defs := s.registry.Defs()
	out := make([]any, len(defs))
	for i, d := range defs {
		out[i] = d
	}
	return out
}

// Invoke implements session.ToolInvoker.
func (s *SessionInvoker) Invoke(sc *session.Context, name, rawArgs, toolCallID string) (session.ActionResponse, error) {
	_ = toolCallID
	pc := &PluginContext{Session: sc, Container: s.container, Bus: s.bus}
	return s.dispatcher.Dispatch(pc, name, rawArgs), nil
}

var _ session.ToolInvoker = (*SessionInvoker)(nil)
