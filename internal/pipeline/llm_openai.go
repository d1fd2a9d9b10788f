package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/voicegate/gateway/internal/metrics"
)

// OpenAIToolClient streams chat-completion turns from an
// OpenAI-compatible /v1/chat/completions endpoint, offering the tool
// definitions the dialogue service supplies and surfacing both text
// deltas and completed tool calls through TurnChunk, per §4.10 items
// 6-7. It is the primary TurnStreamer implementation named by
// SPEC_FULL's DOMAIN STACK table.
type OpenAIToolClient struct {
	client openai.Client
	model  string
}

// NewOpenAIToolClient builds a client against baseURL (empty selects
// the SDK's default, api.openai.com) using apiKey and a default model.
func NewOpenAIToolClient(apiKey, baseURL, model string) *OpenAIToolClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIToolClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// StreamTurn implements TurnStreamer.
func (c *OpenAIToolClient) StreamTurn(ctx context.Context, req TurnRequest, onChunk func(TurnChunk)) (*LLMResult, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: toOpenAIMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = toOpenAITools(req.Tools)
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)

	var acc openai.ChatCompletionAccumulator
	var textBuf string
	var ttft time.Time

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			if ttft.IsZero() {
				ttft = time.Now()
			}
			textBuf += delta.Content
			if onChunk != nil {
				onChunk(TurnChunk{Text: delta.Content})
			}
		}
	}
	if err := stream.Err(); err != nil {
		metrics.Errors.WithLabelValues("llm", "stream").Inc()
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	var calls []ToolCall
	if len(acc.Choices) > 0 {
		for _, tc := range acc.Choices[0].Message.ToolCalls {
			call := ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
			calls = append(calls, call)
			if onChunk != nil {
				onChunk(TurnChunk{ToolCall: &call})
			}
		}
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("llm").Observe(latency.Seconds())

	ttftMs := float64(0)
	if !ttft.IsZero() {
		ttftMs = float64(ttft.Sub(start).Milliseconds())
	}

	return &LLMResult{
		Text:               textBuf,
		ToolCalls:          calls,
		LatencyMs:          float64(latency.Milliseconds()),
		TimeToFirstTokenMs: ttftMs,
	}, nil
}

func toOpenAIMessages(msgs []TurnMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func toOpenAITools(defs []ToolDef) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		params := shared.FunctionParameters{}
		if len(d.Parameters) > 0 {
			_ = params.UnmarshalJSON(d.Parameters)
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  params,
			},
		})
	}
	return out
}
