// Package dialogue implements §4.10: the service that turns a final
// transcript into an assistant turn, streaming the LLM's response
// sentence-by-sentence into the TTS orchestrator and recursing through
// the tool-call dispatch loop up to the depth-5 guard. Grounded on
// xiaozhi-server's core/connection.py chat() method's interrupt/
// intent/stream/tool-loop sequencing, reimplemented around this
// module's event-driven session model.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voicegate/gateway/internal/eventbus"
	"github.com/voicegate/gateway/internal/metrics"
	"github.com/voicegate/gateway/internal/pipeline"
	"github.com/voicegate/gateway/internal/session"
	"github.com/voicegate/gateway/internal/trace"
	"github.com/voicegate/gateway/internal/transport"
)

// maxToolDepth is the recursion guard from §4.10's closing line: "at
// depth 5 the LLM is called without tool definitions to force a
// textual answer."
const maxToolDepth = 5

// abortWaitTimeout bounds how long HandleTranscript waits for the
// orchestrator to observe a ClientAbort before giving up and
// continuing anyway, so a stuck sender can never wedge a session.
const abortWaitTimeout = 2 * time.Second

// TTSController is the subset of *tts.Orchestrator the dialogue
// service drives.
type TTSController interface {
	AddFirst(sentenceID string)
	AddText(sentenceID, text string)
	AddLast(sentenceID string)
	PlayFile(sentenceID, path string)
	SynthesizeOneSentence(sentenceID, text string)
}

// IntentGate is the §4.11 pre-dialogue gate. Handle reports whether it
// absorbed the transcript.
type IntentGate interface {
	Handle(ctx context.Context, transcript string) bool
}

// Service is the per-session dialogue orchestrator.
type Service struct {
	sc        *session.Context
	transport transport.Transport
	tts       TTSController
	intent    IntentGate
	llm       pipeline.TurnStreamer
	bus       *eventbus.Bus
	quota     *DailyQuota
	logger    *slog.Logger
	tracer    *trace.Tracer

	// turnMu serializes HandleTranscript end to end. TranscriptReady can
	// be published for the same session from two independent goroutines
	// (the ASR adapter's recognition goroutine and the router's
	// synchronous detect path); without this, two near-simultaneous
	// transcripts race on sentence_id and interleave two turns'
	// AddFirst/AddText/AddLast calls on the same orchestrator, breaking
	// the "at most one LLM turn in flight" invariant.
	turnMu sync.Mutex
}

// New creates a dialogue Service. quota should be shared process-wide
// (one DailyQuota for every session) so the budget is per-device, not
// per-connection. When max_output_size is exceeded, HandleTranscript
// schedules the session's destruction itself via sc.SetCloseAfterChat,
// which the paced sender observes once it has sent the turn's final
// state:"stop" (§4.9's last invariant).
func New(sc *session.Context, tr transport.Transport, tts TTSController, intent IntentGate, llm pipeline.TurnStreamer, bus *eventbus.Bus, quota *DailyQuota, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sc:        sc,
		transport: tr,
		tts:       tts,
		intent:    intent,
		llm:       llm,
		bus:       bus,
		quota:     quota,
		logger:    logger,
	}
}

// SetTracer attaches an optional call tracer; nil (the default) makes
// every trace call a no-op.
func (s *Service) SetTracer(t *trace.Tracer) {
	s.tracer = t
}

// HandleTranscript runs the §4.10 sequence against one
// TranscriptReady(final=true) event's text.
func (s *Service) HandleTranscript(ctx context.Context, text string) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	sc := s.sc

	runID := s.tracer.StartRun()
	start := time.Now()
	defer func() {
		s.tracer.EndRun(runID, float64(time.Since(start).Milliseconds()), text, "", "handled")
	}()

	if sc.NeedBind() {
		s.handleBind(sc)
		return
	}

	if limit := sc.Config.Int("max_output_size", 0); limit > 0 && s.quota != nil && s.quota.Exceeded(sc.DeviceID, limit) {
		sentenceID := sc.NewTurn()
		s.tts.SynthesizeOneSentence(sentenceID, sc.Config.String("quota_exceeded_text", "今天的使用额度已经用完了，请明天再聊。"))
		sc.SetCloseAfterChat(true)
		return
	}

	if sc.IsSpeaking() && sc.ListenMode() != session.ListenManual {
		sc.SetClientAbort(true)
		metrics.BargeIns.Inc()
		s.bus.Publish(ctx, eventbus.ClientAbort{Base: eventbus.NewBase(sc.SessionID), Reason: "user_interrupt"})
		s.waitForClear(sc)
	}

	if s.intent != nil && s.intent.Handle(ctx, text) {
		return
	}

	sc.SetClientAbort(false)
	s.sendSTTEcho(text)

	sentenceID := sc.NewTurn()
	metrics.TurnsStarted.Inc()
	sc.Dialogue.Put(session.DialogueMessage{Role: "user", Content: text})
	s.tts.AddFirst(sentenceID)

	s.runTurn(ctx, sentenceID, nil, 0)
}

// waitForClear blocks until the orchestrator has observed the abort
// (is_speaking flips false) or abortWaitTimeout elapses, satisfying
// §8 invariant 2's ordering requirement without a dedicated
// notification channel.
func (s *Service) waitForClear(sc *session.Context) {
	deadline := time.Now().Add(abortWaitTimeout)
	for sc.IsSpeaking() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *Service) sendSTTEcho(text string) {
	if s.transport == nil {
		return
	}
	payload := fmt.Sprintf(`{"type":"stt","text":%q}`, text)
	if err := s.transport.SendText(payload); err != nil {
		s.logger.Error("dialogue: stt echo failed", "session_id", s.sc.SessionID, "error", err)
	}
}

func (s *Service) handleBind(sc *session.Context) {
	sentenceID := sc.NewTurn()
	s.tts.AddFirst(sentenceID)
	code := sc.BindCode()
	if code == "" {
		s.tts.PlayFile(sentenceID, s.clipPath(sc, "device_not_found"))
	} else {
		for _, digit := range code {
			s.tts.PlayFile(sentenceID, s.clipPath(sc, "digit_"+string(digit)))
		}
	}
	s.tts.AddLast(sentenceID)
}

func (s *Service) clipPath(sc *session.Context, name string) string {
	dir := sc.Config.String("bind_clip_dir", "clips")
	return dir + "/" + name + ".wav"
}

// runTurn drives one LLM streaming call and, when it emits tool calls,
// recurses with the tool results appended to the message history
// (§4.10 items 6-9). extraMessages accumulates across recursion; it is
// empty for the top-level call.
func (s *Service) runTurn(ctx context.Context, sentenceID string, extraMessages []pipeline.TurnMessage, depth int) {
	sc := s.sc
	req := pipeline.TurnRequest{
		Model:    sc.Config.String("llm_model", ""),
		Messages: s.buildMessages(extraMessages),
	}
	if depth < maxToolDepth {
		req.Tools = s.toolDefs()
	}

	s.bus.Publish(ctx, eventbus.LLMRequest{Base: eventbus.NewBase(sc.SessionID)})

	var textBuf strings.Builder
	sentenceBuf := pipeline.NewSentenceBuffer()
	var toolCalls []pipeline.ToolCall
	aborted := false

	_, err := s.llm.StreamTurn(ctx, req, func(chunk pipeline.TurnChunk) {
		if aborted || sc.ClientAbort() {
			aborted = true
			return
		}
		if chunk.Text != "" {
			textBuf.WriteString(chunk.Text)
			if sentence := sentenceBuf.Add(chunk.Text); sentence != "" {
				s.tts.AddText(sentenceID, sentence)
			}
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
	})
	if err != nil {
		s.logger.Error("dialogue: llm stream failed", "session_id", sc.SessionID, "error", err)
		s.bus.Publish(ctx, eventbus.LLMError{Base: eventbus.NewBase(sc.SessionID), Err: err})
		s.finishTurn(sentenceID)
		return
	}

	if rest := sentenceBuf.Flush(); rest != "" && !aborted && !sc.ClientAbort() {
		s.tts.AddText(sentenceID, rest)
	}

	if aborted || sc.ClientAbort() {
		s.finishTurn(sentenceID)
		return
	}

	s.bus.Publish(ctx, eventbus.LLMResponse{Base: eventbus.NewBase(sc.SessionID), Text: textBuf.String()})

	if len(toolCalls) > 0 {
		s.dispatchToolCalls(ctx, sentenceID, extraMessages, toolCalls, depth)
		return
	}

	if textBuf.Len() > 0 {
		text := textBuf.String()
		sc.Dialogue.Put(session.DialogueMessage{Role: "assistant", Content: text})
		if s.quota != nil {
			s.quota.Add(sc.DeviceID, len(text))
		}
	}
	s.finishTurn(sentenceID)
}

// dispatchToolCalls implements §4.10 item 7's Action-keyed disposition
// and item 7's recursion ("REQLLM -> append a tool message and recurse
// with depth+1").
func (s *Service) dispatchToolCalls(ctx context.Context, sentenceID string, extraMessages []pipeline.TurnMessage, toolCalls []pipeline.ToolCall, depth int) {
	sc := s.sc
	if sc.FuncHandler == nil {
		s.finishTurn(sentenceID)
		return
	}

	var reqllm []pipeline.TurnMessage
	for _, call := range toolCalls {
		resp, err := sc.FuncHandler.Invoke(sc, call.Name, call.Arguments, call.ID)
		if err != nil {
			s.logger.Error("dialogue: tool dispatch failed", "session_id", sc.SessionID, "tool", call.Name, "error", err)
			continue
		}
		switch resp.Action {
		case "RESPONSE", "NOTFOUND", "ERROR":
			s.tts.AddText(sentenceID, resp.Response)
		case "REQLLM":
			reqllm = append(reqllm, pipeline.TurnMessage{Role: "tool", Content: resp.Result, ToolCallID: call.ID})
		case "NONE":
		}
	}

	if len(reqllm) > 0 {
		s.runTurn(ctx, sentenceID, append(extraMessages, reqllm...), depth+1)
		return
	}
	s.finishTurn(sentenceID)
}

func (s *Service) finishTurn(sentenceID string) {
	s.tts.AddLast(sentenceID)
	s.sc.SetLLMFinishTask(true)
	metrics.TurnsCompleted.Inc()
}

func (s *Service) buildMessages(extra []pipeline.TurnMessage) []pipeline.TurnMessage {
	snapshot := s.sc.Dialogue.Snapshot()
	out := make([]pipeline.TurnMessage, 0, len(snapshot)+len(extra))
	for _, m := range snapshot {
		out = append(out, pipeline.TurnMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID})
	}
	out = append(out, extra...)
	return out
}

func (s *Service) toolDefs() []pipeline.ToolDef {
	if s.sc.FuncHandler == nil {
		return nil
	}
	raw := s.sc.FuncHandler.Functions()
	out := make([]pipeline.ToolDef, 0, len(raw))
	for _, r := range raw {
		if def, ok := r.(pipeline.ToolDef); ok {
			out = append(out, def)
		}
	}
	return out
}
