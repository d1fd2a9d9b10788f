package dialogue

import (
	"context"
	"testing"
	"time"

	"github.com/voicegate/gateway/internal/config"
	"github.com/voicegate/gateway/internal/eventbus"
	"github.com/voicegate/gateway/internal/pipeline"
	"github.com/voicegate/gateway/internal/session"
	"github.com/voicegate/gateway/internal/transport"
)

type fakeTTS struct {
	firsts []string
	texts  []string
	lasts  []string
}

func (f *fakeTTS) AddFirst(sentenceID string)     { f.firsts = append(f.firsts, sentenceID) }
func (f *fakeTTS) AddText(sentenceID, text string) { f.texts = append(f.texts, text) }
func (f *fakeTTS) AddLast(sentenceID string)      { f.lasts = append(f.lasts, sentenceID) }
func (f *fakeTTS) PlayFile(sentenceID, path string) {}
func (f *fakeTTS) SynthesizeOneSentence(sentenceID, text string) {
	f.firsts = append(f.firsts, sentenceID)
	f.texts = append(f.texts, text)
	f.lasts = append(f.lasts, sentenceID)
}

type fakeIntent struct{ absorb bool }

func (f *fakeIntent) Handle(ctx context.Context, transcript string) bool { return f.absorb }

type fakeTransport struct{ texts []string }

func (f *fakeTransport) SendText(s string) error         { f.texts = append(f.texts, s); return nil }
func (f *fakeTransport) SendBinary(b []byte) error        { return nil }
func (f *fakeTransport) Receive() <-chan transport.Frame  { return nil }
func (f *fakeTransport) Close() error                     { return nil }
func (f *fakeTransport) IsConnected() bool                { return true }

type scriptedLLM struct {
	// calls[i] is returned on the i-th StreamTurn invocation; extra
	// invocations beyond len(calls) reuse the last entry.
	calls []func(req pipeline.TurnRequest, onChunk func(pipeline.TurnChunk)) (*pipeline.LLMResult, error)
	n     int
}

func (s *scriptedLLM) StreamTurn(ctx context.Context, req pipeline.TurnRequest, onChunk func(pipeline.TurnChunk)) (*pipeline.LLMResult, error) {
	idx := s.n
	if idx >= len(s.calls) {
		idx = len(s.calls) - 1
	}
	s.n++
	return s.calls[idx](req, onChunk)
}

func textOnly(text string) func(pipeline.TurnRequest, func(pipeline.TurnChunk)) (*pipeline.LLMResult, error) {
	return func(req pipeline.TurnRequest, onChunk func(pipeline.TurnChunk)) (*pipeline.LLMResult, error) {
		onChunk(pipeline.TurnChunk{Text: text})
		return &pipeline.LLMResult{Text: text}, nil
	}
}

type fakeInvoker struct {
	resp session.ActionResponse
	err  error
	defs []pipeline.ToolDef
}

func (f *fakeInvoker) Functions() []any {
	out := make([]any, len(f.defs))
	for i, d := range f.defs {
		out[i] = d
	}
	return out
}

func (f *fakeInvoker) Invoke(sc *session.Context, name, rawArgs, toolCallID string) (session.ActionResponse, error) {
	return f.resp, f.err
}

func newDialogueTestSession(cfgData map[string]any) *session.Context {
	sc := session.New("dev1", "client1", "127.0.0.1", config.New(cfgData), nil)
	return sc
}

func TestService_SimpleTurnAppendsAssistantMessage(t *testing.T) {
	sc := newDialogueTestSession(nil)
	tts := &fakeTTS{}
	tr := &fakeTransport{}
	llm := &scriptedLLM{calls: []func(pipeline.TurnRequest, func(pipeline.TurnChunk)) (*pipeline.LLMResult, error){
		textOnly("Hello there."),
	}}
	svc := New(sc, tr, tts, &fakeIntent{absorb: false}, llm, eventbus.New(nil), NewDailyQuota(), nil)

	svc.HandleTranscript(context.Background(), "hi")

	if len(tts.firsts) != 1 || len(tts.lasts) != 1 {
		t.Fatalf("expected exactly one AddFirst/AddLast, got firsts=%d lasts=%d", len(tts.firsts), len(tts.lasts))
	}
	if !sc.LLMFinishTask() {
		t.Fatal("expected llm_finish_task=true after turn")
	}
	msgs := sc.Dialogue.Snapshot()
	if msgs[len(msgs)-1].Role != "assistant" {
		t.Fatalf("expected trailing assistant message, got %+v", msgs[len(msgs)-1])
	}
}

func TestService_ToolCallResponseSynthesizesAndEndsTurn(t *testing.T) {
	sc := newDialogueTestSession(nil)
	sc.FuncHandler = &fakeInvoker{resp: session.ActionResponse{Action: "RESPONSE", Response: "done"}}
	tts := &fakeTTS{}
	tr := &fakeTransport{}
	llm := &scriptedLLM{calls: []func(pipeline.TurnRequest, func(pipeline.TurnChunk)) (*pipeline.LLMResult, error){
		func(req pipeline.TurnRequest, onChunk func(pipeline.TurnChunk)) (*pipeline.LLMResult, error) {
			onChunk(pipeline.TurnChunk{ToolCall: &pipeline.ToolCall{ID: "c1", Name: "iot_control"}})
			return &pipeline.LLMResult{}, nil
		},
	}}
	svc := New(sc, tr, tts, &fakeIntent{absorb: false}, llm, eventbus.New(nil), NewDailyQuota(), nil)

	svc.HandleTranscript(context.Background(), "turn on the lights")

	if len(tts.lasts) != 1 {
		t.Fatalf("expected exactly one AddLast, got %d", len(tts.lasts))
	}
	found := false
	for _, txt := range tts.texts {
		if txt == "done" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected tool RESPONSE text to reach AddText, got %v", tts.texts)
	}
}

func TestService_ToolCallREQLLMRecursesUntilDepthGuard(t *testing.T) {
	sc := newDialogueTestSession(nil)
	sc.FuncHandler = &fakeInvoker{resp: session.ActionResponse{Action: "REQLLM", Result: "context"}}
	tts := &fakeTTS{}
	tr := &fakeTransport{}

	toolCallResponse := func(req pipeline.TurnRequest, onChunk func(pipeline.TurnChunk)) (*pipeline.LLMResult, error) {
		if req.Tools == nil {
			// depth guard reached: no tools offered, must answer in text.
			onChunk(pipeline.TurnChunk{Text: "final answer"})
			return &pipeline.LLMResult{}, nil
		}
		onChunk(pipeline.TurnChunk{ToolCall: &pipeline.ToolCall{ID: "c1", Name: "result_for_context"}})
		return &pipeline.LLMResult{}, nil
	}
	llm := &scriptedLLM{calls: []func(pipeline.TurnRequest, func(pipeline.TurnChunk)) (*pipeline.LLMResult, error){
		toolCallResponse, toolCallResponse, toolCallResponse, toolCallResponse, toolCallResponse, toolCallResponse,
	}}
	svc := New(sc, tr, tts, &fakeIntent{absorb: false}, llm, eventbus.New(nil), NewDailyQuota(), nil)

	svc.HandleTranscript(context.Background(), "what time is it")

	if llm.n > maxToolDepth+1 {
		t.Fatalf("expected recursion to stop at the depth guard, got %d LLM calls", llm.n)
	}
	if len(tts.lasts) != 1 {
		t.Fatalf("expected exactly one AddLast across the whole recursive turn, got %d", len(tts.lasts))
	}
}

func TestService_IntentAbsorbsSkipsLLM(t *testing.T) {
	sc := newDialogueTestSession(nil)
	tts := &fakeTTS{}
	tr := &fakeTransport{}
	llm := &scriptedLLM{calls: []func(pipeline.TurnRequest, func(pipeline.TurnChunk)) (*pipeline.LLMResult, error){
		textOnly("should not run"),
	}}
	svc := New(sc, tr, tts, &fakeIntent{absorb: true}, llm, eventbus.New(nil), NewDailyQuota(), nil)

	svc.HandleTranscript(context.Background(), "再见")

	if llm.n != 0 {
		t.Fatalf("expected LLM not to be called when intent absorbs, got %d calls", llm.n)
	}
}

func TestService_InterruptsSpeakingSessionBeforeNewTurn(t *testing.T) {
	sc := newDialogueTestSession(nil)
	sc.SetListenMode(session.ListenAuto)
	sc.SetSpeaking(true)
	tts := &fakeTTS{}
	tr := &fakeTransport{}
	bus := eventbus.New(nil)

	gotAbort := make(chan struct{})
	eventbus.Subscribe(bus, eventbus.Sync, func(ctx context.Context, e eventbus.ClientAbort) {
		close(gotAbort)
		go func() {
			time.Sleep(10 * time.Millisecond)
			sc.SetSpeaking(false)
		}()
	})

	llm := &scriptedLLM{calls: []func(pipeline.TurnRequest, func(pipeline.TurnChunk)) (*pipeline.LLMResult, error){
		textOnly("ok."),
	}}
	svc := New(sc, tr, tts, &fakeIntent{absorb: false}, llm, bus, NewDailyQuota(), nil)

	done := make(chan struct{})
	go func() {
		svc.HandleTranscript(context.Background(), "stop that")
		close(done)
	}()

	select {
	case <-gotAbort:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ClientAbort publish")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HandleTranscript to finish")
	}
}

func TestService_CappedQuotaSchedulesClose(t *testing.T) {
	sc := newDialogueTestSession(map[string]any{"max_output_size": float64(1)})
	quota := NewDailyQuota()
	quota.Add(sc.DeviceID, 10)
	tts := &fakeTTS{}
	tr := &fakeTransport{}
	llm := &scriptedLLM{calls: []func(pipeline.TurnRequest, func(pipeline.TurnChunk)) (*pipeline.LLMResult, error){
		textOnly("should not run"),
	}}
	svc := New(sc, tr, tts, &fakeIntent{absorb: false}, llm, eventbus.New(nil), quota, nil)

	svc.HandleTranscript(context.Background(), "hi")

	if !sc.CloseAfterChat() {
		t.Fatal("expected close_after_chat=true once daily quota is exceeded")
	}
	if llm.n != 0 {
		t.Fatalf("expected LLM not to run once quota is exceeded, got %d calls", llm.n)
	}
}
