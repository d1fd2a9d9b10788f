// Package tools implements the process-wide tool/function registry and
// dispatcher from §4.12: a read-only-after-startup table of
// {name, description, type, function} entries, invoked by the dialogue
// and intent services with a common ActionResponse contract. Grounded
// on the reference service's plugin-style function registry
// (internal/pipeline's engine/router pattern generalized to tool
// dispatch) and on xiaozhi-server's
// core/providers/tools/server_plugins/plugin_executor.py for the
// type taxonomy (WAIT/SYSTEM_CTL/IOT_CTL/CHANGE_SYS_PROMPT/MCP).
package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/voicegate/gateway/internal/container"
	"github.com/voicegate/gateway/internal/eventbus"
	"github.com/voicegate/gateway/internal/pipeline"
	"github.com/voicegate/gateway/internal/session"
)

// Type is the tool's dispatch kind, per §4.12.
type Type string

const (
	TypeWait            Type = "WAIT"
	TypeSystemCtl       Type = "SYSTEM_CTL"
	TypeIoTCtl          Type = "IOT_CTL"
	TypeChangeSysPrompt Type = "CHANGE_SYS_PROMPT"
	TypeMCP             Type = "MCP"
)

// PluginContext gives a SYSTEM_CTL/IOT_CTL/CHANGE_SYS_PROMPT handler
// access to the session, the global container, and the event bus, per
// §4.12. WAIT handlers are side-effect-free and may ignore it.
type PluginContext struct {
	Session   *session.Context
	Container *container.Container
	Bus       *eventbus.Bus
}

// Handler implements one tool. rawArgs is the LLM's raw JSON function
// arguments.
type Handler func(pc *PluginContext, rawArgs string) (session.ActionResponse, error)

// Tool is one registry entry.
type Tool struct {
	Name        string
	Description string
	Type        Type
	Parameters  json.RawMessage // JSON schema for the function-call definition
	Handler     Handler
}

// Registry is the process-wide, read-only-after-startup tool table
// (§5 "Shared resources": "Plugin registry is read-only after
// startup").
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Intended to run at startup, before any session
// is served; Register is still safe to call concurrently.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool in registration order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Defs renders the registry as the LLM function-calling definitions
// the dialogue service's TurnRequest carries (§4.10 item 6: "If
// tool-use is enabled, pass the current tool list").
func (r *Registry) Defs() []pipeline.ToolDef {
	all := r.All()
	out := make([]pipeline.ToolDef, 0, len(all))
	for _, t := range all {
		out = append(out, pipeline.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return out
}

// Dispatcher invokes registered tools and normalizes panics/errors
// into an ActionResponse{ERROR}, per §7's Plugin error disposition.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a dispatcher bound to registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch invokes the named tool with rawArgs and returns its
// ActionResponse. An unknown tool yields Action=NOTFOUND; a handler
// error or panic yields Action=ERROR, never propagates.
func (d *Dispatcher) Dispatch(pc *PluginContext, name, rawArgs string) (resp session.ActionResponse) {
	t, ok := d.registry.Get(name)
	if !ok {
		return session.ActionResponse{
			Action:   "NOTFOUND",
			Response: fmt.Sprintf("我不知道怎么做「%s」。", name),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			resp = session.ActionResponse{
				Action:   "ERROR",
				Response: fmt.Sprintf("工具「%s」执行出错了。", name),
			}
		}
	}()

	out, err := t.Handler(pc, rawArgs)
	if err != nil {
		return session.ActionResponse{
			Action:   "ERROR",
			Result:   err.Error(),
			Response: fmt.Sprintf("工具「%s」执行出错了：%v", name, err),
		}
	}
	return out
}
