package intent

import (
	"context"
	"testing"
	"time"

	"github.com/voicegate/gateway/internal/config"
	"github.com/voicegate/gateway/internal/eventbus"
	"github.com/voicegate/gateway/internal/pipeline"
	"github.com/voicegate/gateway/internal/session"
)

type fakeTTS struct {
	firsts   []string
	lasts    []string
	synth    []string // "sentenceID:text"
	frameCmd []string
}

func (f *fakeTTS) AddFirst(sentenceID string)     { f.firsts = append(f.firsts, sentenceID) }
func (f *fakeTTS) AddText(sentenceID, text string) {}
func (f *fakeTTS) AddLast(sentenceID string)      { f.lasts = append(f.lasts, sentenceID) }
func (f *fakeTTS) SynthesizeOneSentence(sentenceID, text string) {
	f.synth = append(f.synth, sentenceID+":"+text)
}
func (f *fakeTTS) PlayFrames(sentenceID string, frames [][]byte, caption string) {
	f.frameCmd = append(f.frameCmd, sentenceID+":"+caption)
}

type fakeSynth struct{ calls int }

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([][]byte, error) {
	f.calls++
	return [][]byte{[]byte("frame")}, nil
}

type fakeClassifier struct {
	result Result
	err    error
}

func (f *fakeClassifier) Classify(ctx context.Context, transcript string, tools []pipeline.ToolDef) (Result, error) {
	return f.result, f.err
}

func newIntentTestSession(cfgData map[string]any) *session.Context {
	return session.New("dev1", "client1", "127.0.0.1", config.New(cfgData), nil)
}

func TestService_CmdExitAbsorbsAndSchedulesDestroy(t *testing.T) {
	sc := newIntentTestSession(map[string]any{"cmd_exit": []any{"再见", "拜拜"}})
	tts := &fakeTTS{}
	destroyedCh := make(chan string, 1)
	destroyer := func(ctx context.Context, sessionID, reason string) error {
		destroyedCh <- sessionID + ":" + reason
		return nil
	}
	svc := New(sc, tts, nil, nil, eventbus.New(nil), destroyer, NewSharedCache(), nil)

	if !svc.Handle(context.Background(), "再见") {
		t.Fatal("expected cmd_exit to be absorbed")
	}
	if len(tts.lasts) != 1 {
		t.Fatalf("expected exactly one AddLast, got %d", len(tts.lasts))
	}
	if len(tts.firsts) != 0 {
		t.Fatalf("expected no AddFirst for cmd_exit, got %d", len(tts.firsts))
	}

	select {
	case got := <-destroyedCh:
		if got != sc.SessionID+":cmd_exit" {
			t.Fatalf("destroyed = %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for destroyer")
	}
}

func TestSharedCache_ServedAcrossServices(t *testing.T) {
	cache := NewSharedCache()
	cfgData := map[string]any{
		"wake_words":      []any{"小智"},
		"enable_greeting": true,
		"greeting_text":   "我在呢",
	}
	tts1 := &fakeTTS{}
	synth := &fakeSynth{}
	svc1 := New(newIntentTestSession(cfgData), tts1, synth, nil, eventbus.New(nil), nil, cache, nil)
	if !svc1.Handle(context.Background(), "小智") {
		t.Fatal("expected wake word to be absorbed")
	}
	if len(tts1.synth) != 1 {
		t.Fatalf("expected first wake to synthesize fresh, got %v", tts1.synth)
	}
	svc1.refreshGreeting("我在呢") // simulate the async cache-fill completing

	tts2 := &fakeTTS{}
	svc2 := New(newIntentTestSession(cfgData), tts2, synth, nil, eventbus.New(nil), nil, cache, nil)
	if !svc2.Handle(context.Background(), "小智") {
		t.Fatal("expected wake word to be absorbed")
	}
	if len(tts2.frameCmd) != 1 {
		t.Fatalf("expected second session to play cached frames, got synth=%v frames=%v", tts2.synth, tts2.frameCmd)
	}
}

func TestService_FunctionCallIntentTypeNotAbsorbed(t *testing.T) {
	sc := newIntentTestSession(map[string]any{"intent_type": "function_call"})
	tts := &fakeTTS{}
	svc := New(sc, tts, nil, nil, eventbus.New(nil), nil, NewSharedCache(), nil)

	if svc.Handle(context.Background(), "turn on the lights") {
		t.Fatal("expected intent_type=function_call to pass through to dialogue service")
	}
}

func TestService_ClassifierContinueChatNotAbsorbed(t *testing.T) {
	sc := newIntentTestSession(nil)
	tts := &fakeTTS{}
	svc := New(sc, tts, nil, &fakeClassifier{result: Result{ContinueChat: true}}, eventbus.New(nil), nil, NewSharedCache(), nil)

	if svc.Handle(context.Background(), "what's the weather") {
		t.Fatal("expected continue_chat to not be absorbed")
	}
}

func TestUnwrapEnvelope(t *testing.T) {
	speaker, content := unwrapEnvelope(`{"speaker":"alice","content":"hi"}`)
	if speaker != "alice" || content != "hi" {
		t.Fatalf("got speaker=%q content=%q", speaker, content)
	}
	speaker, content = unwrapEnvelope("plain text")
	if speaker != "" || content != "plain text" {
		t.Fatalf("got speaker=%q content=%q", speaker, content)
	}
}
