package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voicegate/gateway/internal/pipeline"
)

// classifierSystemPrompt instructs the backing chat model to reduce a
// transcript to the JSON shape classifyResponse decodes, never prose.
const classifierSystemPrompt = `你是一个意图识别器。根据用户的话和下面的工具列表，判断是否需要调用某个工具。
只输出 JSON，不要输出其他任何文字。
如果需要调用工具，输出：{"function_call": {"name": "工具名", "arguments": "JSON字符串参数"}}
如果只是普通聊天，不需要调用任何工具，输出：{"continue_chat": true}`

// classifyResponse is the wire shape the classifier model is
// instructed to emit.
type classifyResponse struct {
	FunctionCall *struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function_call"`
	ContinueChat bool `json:"continue_chat"`
}

// LLMClassifier implements Classifier over the simpler
// non-tool-calling chat interface (§4.11 item 5), since the
// classification call itself never streams tool calls — it returns
// its verdict as a single JSON document.
type LLMClassifier struct {
	client pipeline.LLMChatClient
	model  string
}

// NewLLMClassifier builds a classifier bound to one chat backend/model.
func NewLLMClassifier(client pipeline.LLMChatClient, model string) *LLMClassifier {
	return &LLMClassifier{client: client, model: model}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, transcript string, tools []pipeline.ToolDef) (Result, error) {
	prompt := classifierSystemPrompt
	if len(tools) > 0 {
		var b strings.Builder
		b.WriteString("\n\n可用工具：\n")
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
		prompt += b.String()
	}

	var out strings.Builder
	_, err := c.client.Chat(ctx, transcript, prompt, c.model, func(token string) {
		out.WriteString(token)
	})
	if err != nil {
		return Result{}, fmt.Errorf("intent classifier chat: %w", err)
	}

	raw := extractJSON(out.String())
	if raw == "" {
		return Result{ContinueChat: true}, nil
	}

	var resp classifyResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return Result{ContinueChat: true}, nil
	}
	if resp.FunctionCall != nil && resp.FunctionCall.Name != "" {
		return Result{FunctionCall: &FunctionCall{Name: resp.FunctionCall.Name, Arguments: resp.FunctionCall.Arguments}}, nil
	}
	return Result{ContinueChat: true}, nil
}

// extractJSON trims chat-model chatter around the single JSON object
// the prompt asked for, tolerating a model that wraps it in a code
// fence or a leading/trailing sentence.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}
