// Package intent implements §4.11: the cheap pre-dialogue gate that
// absorbs exit commands, wake-words, and structured function calls
// before a transcript ever reaches the dialogue service's LLM call.
// Grounded on xiaozhi-server's core/providers/intent package's
// unwrap-classify-dispatch pipeline, adapted to this module's
// event-driven session model.
package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voicegate/gateway/internal/eventbus"
	"github.com/voicegate/gateway/internal/pipeline"
	"github.com/voicegate/gateway/internal/session"
)

// TTSController is the subset of *tts.Orchestrator the intent service
// drives.
type TTSController interface {
	AddFirst(sentenceID string)
	AddText(sentenceID, text string)
	AddLast(sentenceID string)
	SynthesizeOneSentence(sentenceID, text string)
	PlayFrames(sentenceID string, frames [][]byte, caption string)
}

// Synthesizer renders greeting text to audio frames for caching.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([][]byte, error)
}

// Classifier asks an LLM to reduce a transcript to a structured
// function call or a continue-chat signal, per §4.11 item 5.
type Classifier interface {
	Classify(ctx context.Context, transcript string, tools []pipeline.ToolDef) (Result, error)
}

// Result is the classifier's structured verdict.
type Result struct {
	FunctionCall *FunctionCall
	ContinueChat bool
}

// FunctionCall names the tool the classifier chose and its arguments.
type FunctionCall struct {
	Name      string
	Arguments string
}

// Destroyer schedules session teardown, matching
// (*session.Manager).Destroy's signature without importing it (the
// intent package is constructed before a Manager necessarily exists in
// tests).
type Destroyer func(ctx context.Context, sessionID, reason string) error

// envelope is the JSON shape the ASR adapter wraps a transcript in
// when a speaker identifier resolved (internal/asr/adapter.go).
type envelope struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

type greetingEntry struct {
	frames   [][]byte
	cachedAt time.Time
}

// greetingCache is shared process-wide: a given wake-word greeting
// text renders to the same audio regardless of which session triggers
// it.
type greetingCache struct {
	mu      sync.Mutex
	entries map[string]greetingEntry
}

func newGreetingCache() *greetingCache {
	return &greetingCache{entries: make(map[string]greetingEntry)}
}

func (c *greetingCache) get(key string) (greetingEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *greetingCache) put(key string, e greetingEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
}

// Service is the per-session intent gate. One Service is constructed
// per live session, sharing the process-wide greeting cache across
// sessions via the cache field.
type Service struct {
	sc         *session.Context
	tts        TTSController
	synth      Synthesizer
	classifier Classifier
	bus        *eventbus.Bus
	destroyer  Destroyer
	cache      *greetingCache
	logger     *slog.Logger
}

// New creates an intent Service. cache must be shared across every
// session's Service via NewSharedCache so greetings render once per
// process, not once per session.
func New(sc *session.Context, tts TTSController, synth Synthesizer, classifier Classifier, bus *eventbus.Bus, destroyer Destroyer, cache *SharedCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sc:         sc,
		tts:        tts,
		synth:      synth,
		classifier: classifier,
		bus:        bus,
		destroyer:  destroyer,
		cache:      cache.inner,
		logger:     logger,
	}
}

// SharedCache wraps the process-wide greeting cache so call sites
// don't need to import an unexported type.
type SharedCache struct{ inner *greetingCache }

// NewSharedCache creates a cache to be shared by every session's
// intent Service.
func NewSharedCache() *SharedCache {
	return &SharedCache{inner: newGreetingCache()}
}

// Handle runs the §4.11 sequence against a final transcript. It
// returns true if the intent service absorbed the message (the caller
// must not hand it to the dialogue service).
func (s *Service) Handle(ctx context.Context, transcript string) (absorbed bool) {
	speaker, content := unwrapEnvelope(transcript)
	if speaker != "" {
		s.sc.SetCurrentSpeaker(speaker)
	}

	normalized := normalize(content)

	if s.matchesAny(normalized, "cmd_exit") {
		s.tts.AddLast(s.sc.NewTurn())
		if s.destroyer != nil {
			go func() {
				if err := s.destroyer(context.Background(), s.sc.SessionID, "cmd_exit"); err != nil {
					s.logger.Error("intent: destroy after cmd_exit failed", "session_id", s.sc.SessionID, "error", err)
				}
			}()
		}
		return true
	}

	if wakeWord, ok := s.matchWakeWord(normalized); ok {
		s.handleWake(ctx, wakeWord)
		return true
	}

	if s.sc.IntentType() == "function_call" {
		return false
	}

	return s.classify(ctx, content)
}

func (s *Service) matchesAny(normalized, configKey string) bool {
	for _, entry := range s.sc.Config.StringSlice(configKey) {
		if normalize(entry) == normalized {
			return true
		}
	}
	return false
}

func (s *Service) matchWakeWord(normalized string) (string, bool) {
	for _, w := range s.sc.Config.StringSlice("wake_words") {
		if normalize(w) == normalized {
			return w, true
		}
	}
	return "", false
}

func (s *Service) handleWake(ctx context.Context, wakeWord string) {
	if !s.sc.Config.Bool("enable_greeting", true) {
		s.tts.AddLast(s.sc.NewTurn())
		return
	}

	greeting := s.sc.Config.String("greeting_text", "我在呢，有什么可以帮您？")
	refresh := time.Duration(s.sc.Config.Int("greeting_refresh_seconds", 3600)) * time.Second
	sentenceID := s.sc.NewTurn()

	if entry, ok := s.cache.get(greeting); ok {
		s.tts.AddFirst(sentenceID)
		s.tts.PlayFrames(sentenceID, entry.frames, greeting)
		s.tts.AddLast(sentenceID)
		if time.Since(entry.cachedAt) > refresh {
			go s.refreshGreeting(greeting)
		}
		return
	}

	s.tts.SynthesizeOneSentence(sentenceID, greeting)
	go s.refreshGreeting(greeting)
}

func (s *Service) refreshGreeting(greeting string) {
	frames, err := s.synth.Synthesize(context.Background(), greeting)
	if err != nil {
		s.logger.Error("intent: greeting refresh failed", "error", err)
		return
	}
	s.cache.put(greeting, greetingEntry{frames: frames, cachedAt: time.Now()})
}

func (s *Service) classify(ctx context.Context, content string) bool {
	if s.classifier == nil {
		return false
	}
	var tools []pipeline.ToolDef
	if s.sc.FuncHandler != nil {
		for _, raw := range s.sc.FuncHandler.Functions() {
			if def, ok := raw.(pipeline.ToolDef); ok {
				tools = append(tools, def)
			}
		}
	}

	result, err := s.classifier.Classify(ctx, content, tools)
	if err != nil {
		s.logger.Error("intent: classifier call failed", "session_id", s.sc.SessionID, "error", err)
		return false
	}
	if result.ContinueChat || result.FunctionCall == nil {
		return false
	}
	if s.sc.FuncHandler == nil {
		return false
	}

	resp, err := s.sc.FuncHandler.Invoke(s.sc, result.FunctionCall.Name, result.FunctionCall.Arguments, "")
	if err != nil {
		s.logger.Error("intent: tool dispatch failed", "session_id", s.sc.SessionID, "error", err)
		return false
	}
	return s.applyAction(resp)
}

// applyAction mirrors the dialogue service's per-Action synthesis
// disposition (§4.10 item 7 / §4.11 item 5's shared glossary entry),
// except REQLLM here means "not absorbed, re-run as if this were the
// original dialogue turn with the enriched prompt" since the intent
// service itself never streams the LLM.
func (s *Service) applyAction(resp session.ActionResponse) bool {
	switch resp.Action {
	case "RESPONSE":
		s.tts.SynthesizeOneSentence(s.sc.NewTurn(), resp.Response)
		return true
	case "NOTFOUND", "ERROR":
		s.tts.SynthesizeOneSentence(s.sc.NewTurn(), resp.Response)
		return true
	case "NONE":
		return true
	case "REQLLM":
		return false
	default:
		return false
	}
}

func unwrapEnvelope(transcript string) (speaker, content string) {
	trimmed := strings.TrimSpace(transcript)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", transcript
	}
	var e envelope
	if err := json.Unmarshal([]byte(trimmed), &e); err != nil {
		return "", transcript
	}
	if e.Content == "" {
		return "", transcript
	}
	return e.Speaker, e.Content
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if r == ' ' || r == '\t' || r == '\n' {
			continue
		}
		switch r {
		case '.', '!', '?', ',', ';', ':', '，', '。', '！', '？', '、':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
