// Package pipeline holds the outward-facing provider adapters the
// session-scoped services talk to: ASR transcription, LLM turn
// streaming (with tool-call support), and TTS synthesis. These are the
// "stateless outward clients with a common response-iterator contract"
// named by §2 item 11 and the provider adapters carved out by §1 as
// external to the orchestration core.
package pipeline

import (
	"context"
	"encoding/json"
	"time"
)

// ToolDef describes one function the LLM may call, per §4.12's
// registered-tool shape reduced to what a provider's function-calling
// API needs: name, description, and a JSON-schema parameter shape.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolCall is one function invocation the LLM emitted mid-stream.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// TurnMessage is the wire shape of one dialogue message as handed to a
// provider: role, content, and (for role="tool") the originating
// tool_call_id.
type TurnMessage struct {
	Role       string // system | user | assistant | tool
	Content    string
	ToolCallID string
}

// TurnRequest is one LLM call: the full message history plus, when
// tool use is enabled for this turn, the tool definitions to offer.
type TurnRequest struct {
	Model    string
	Messages []TurnMessage
	Tools    []ToolDef
}

// TurnChunk is one unit of a streamed turn: either a text delta or a
// completed tool call, per §4.10 item 6 ("Each chunk is (text?,
// tool_calls?)").
type TurnChunk struct {
	Text     string
	ToolCall *ToolCall
}

// LLMResult summarizes a completed turn for tracing/metrics.
type LLMResult struct {
	Text               string
	ToolCalls          []ToolCall
	LatencyMs          float64
	TimeToFirstTokenMs float64
}

// TurnStreamer is implemented by LLM providers capable of driving the
// dialogue service's tool-calling turn loop (§4.10 items 6-7). The
// dialogue service calls onChunk for every text delta and every
// completed tool call, checking ctx (or its own client_abort flag)
// between chunks, per §5's cancellation contract.
type TurnStreamer interface {
	StreamTurn(ctx context.Context, req TurnRequest, onChunk func(TurnChunk)) (*LLMResult, error)
}

// TokenCallback is called for each streamed text token by the simpler,
// non-tool-calling providers used for intent classification and
// fallback chat (§4.11).
type TokenCallback func(token string)

// LLMChatClient is the simpler single-shot streaming interface used by
// providers that never need to emit tool calls.
type LLMChatClient interface {
	Chat(ctx context.Context, userMessage, systemPrompt, model string, onToken TokenCallback) (*LLMResult, error)
}

// LLMRouter dispatches to the correct non-tool-calling LLM backend by
// engine name, e.g. for the intent classifier choosing between
// providers at low cost.
type LLMRouter struct {
	*Router[LLMChatClient]
}

// NewLLMRouter creates a router with registered LLM backends and a
// fallback default.
func NewLLMRouter(backends map[string]LLMChatClient, fallback string) *LLMRouter {
	return &LLMRouter{Router: NewRouter(backends, fallback)}
}

// Chat routes to the correct backend and streams a chat completion.
func (r *LLMRouter) Chat(ctx context.Context, userMessage, systemPrompt, model, engine string, onToken TokenCallback) (*LLMResult, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	return backend.Chat(ctx, userMessage, systemPrompt, model, onToken)
}

// streamResult accumulates a streaming response's text and first-token
// timestamp; shared by every provider's stream-consuming loop.
type streamResult struct {
	text string
	ttft time.Time
}
