// Package asr implements the per-session ASR adapter from §4.7: it
// accumulates inbound audio, decides when an utterance boundary has
// been crossed, snapshots the buffer, and runs recognition (optionally
// alongside speaker identification) before publishing TranscriptReady.
// Grounded on the reference service's internal/pipeline/asr.go
// (whisper.cpp HTTP client) for the Remote variant and wired to
// internal/asrpool for the Local variant named by §4.7's "two
// implementations of this adapter".
package asr

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/voicegate/gateway/internal/audio"
	"github.com/voicegate/gateway/internal/eventbus"
	"github.com/voicegate/gateway/internal/session"
)

// minPacketsPerUtterance guards against submitting noise: at 60ms per
// packet this is ~900ms of audio, per §4.7 item 2 ("≈ 15 packets at
// 60 ms/packet to guard against noise").
const minPacketsPerUtterance = 15

// Recognizer performs one blocking recognition call over a complete
// utterance's PCM samples. Implemented by a remote streaming wrapper
// or by a client of the shared local pool (internal/asrpool).
type Recognizer interface {
	Recognize(ctx context.Context, pcm []float32, sessionID, format string) (text string, err error)
}

// SpeakerIdentifier optionally resolves a speaker's name from the same
// PCM buffer handed to Recognizer, per §4.7 item 3. A nil
// SpeakerIdentifier is a valid "no voiceprint provider configured"
// deployment.
type SpeakerIdentifier interface {
	Identify(ctx context.Context, pcm []float32) (name string, err error)
}

// BusyNotifier is invoked when the recognizer reports backpressure
// (e.g. asrpool.ErrBusy), so the caller can speak the §7 Pipeline
// backpressure fallback instead of the adapter silently dropping the
// utterance.
type BusyNotifier func(ctx context.Context, sc *session.Context)

type buffer struct {
	mu      sync.Mutex
	samples []float32
	packets int
}

// Adapter is the per-session audio accumulator and recognition
// dispatcher. One Adapter is shared across sessions; per-session state
// lives in an internal map keyed by session id.
type Adapter struct {
	recognizer Recognizer
	speaker    SpeakerIdentifier
	bus        *eventbus.Bus
	busy       BusyNotifier
	logger     *slog.Logger

	mu      sync.Mutex
	buffers map[string]*buffer
}

// New creates an Adapter. speaker and busy may be nil.
func New(recognizer Recognizer, speaker SpeakerIdentifier, bus *eventbus.Bus, busy BusyNotifier, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		recognizer: recognizer,
		speaker:    speaker,
		bus:        bus,
		busy:       busy,
		logger:     logger,
		buffers:    make(map[string]*buffer),
	}
}

func (a *Adapter) bufferFor(sessionID string) *buffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buffers[sessionID]
	if !ok {
		b = &buffer{}
		a.buffers[sessionID] = b
	}
	return b
}

// Drop removes a session's accumulation buffer, called on
// SessionDestroying.
func (a *Adapter) Drop(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.buffers, sessionID)
}

// Feed accumulates one frame of decoded PCM samples (60ms worth,
// nominally) for sc, drives VAD classification in auto/realtime mode,
// and — when an utterance boundary is crossed — snapshots the buffer
// and dispatches recognition, per §4.7 items 1-2. In manual listen
// mode, vad is not consulted; voice_stopped is driven only by listen
// control frames (§4.6, §4.7 item 1).
func (a *Adapter) Feed(ctx context.Context, sc *session.Context, vad *audio.VAD, samples []float32) {
	buf := a.bufferFor(sc.SessionID)
	buf.mu.Lock()
	buf.samples = append(buf.samples, samples...)
	buf.packets++
	buf.mu.Unlock()

	var stopped bool
	if sc.ListenMode() == session.ListenManual {
		stopped = sc.VoiceStopped()
	} else {
		res := vad.Process(samples)
		sc.SetHaveVoice(res.HaveVoice)
		sc.SetVoiceStopped(res.VoiceStopped)
		if res.VoiceStarted {
			a.bus.Publish(ctx, eventbus.VADSpeechStart{Base: eventbus.NewBase(sc.SessionID)})
		}
		if res.VoiceJustDone {
			a.bus.Publish(ctx, eventbus.VADSpeechEnd{Base: eventbus.NewBase(sc.SessionID)})
		}
		stopped = res.VoiceStopped
	}

	if !stopped {
		return
	}

	buf.mu.Lock()
	if buf.packets < minPacketsPerUtterance {
		buf.samples = buf.samples[:0]
		buf.packets = 0
		buf.mu.Unlock()
		sc.SetVoiceStopped(false)
		vad.Reset()
		return
	}
	snapshot := append([]float32(nil), buf.samples...)
	buf.samples = buf.samples[:0]
	buf.packets = 0
	buf.mu.Unlock()

	vad.Reset()
	sc.SetVoiceStopped(false)
	sc.SetHaveVoice(false)

	go a.recognize(ctx, sc, snapshot)
}

// recognize runs transcription and (optionally) speaker
// identification concurrently over the same snapshot, waits for both
// (§4.7 item 3), and publishes TranscriptReady — wrapping the text in
// a speaker envelope when a name was resolved (§4.7 item 4). Empty
// transcripts are suppressed (§4.7 item 5).
func (a *Adapter) recognize(ctx context.Context, sc *session.Context, pcm []float32) {
	var text, speakerName string
	var recognizeErr error

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t, err := a.recognizer.Recognize(ctx, pcm, sc.SessionID, string(sc.AudioFormat()))
		text, recognizeErr = t, err
	}()

	if a.speaker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, err := a.speaker.Identify(ctx, pcm)
			if err == nil {
				speakerName = name
			}
		}()
	}
	wg.Wait()

	if recognizeErr != nil {
		if errors.Is(recognizeErr, ErrBusy) {
			if a.busy != nil {
				a.busy(ctx, sc)
			}
			return
		}
		a.logger.Error("asr recognize failed", "session_id", sc.SessionID, "error", recognizeErr)
		a.bus.Publish(ctx, eventbus.Error{Base: eventbus.NewBase(sc.SessionID), Stage: "asr", Err: recognizeErr})
		return
	}

	if len(stripPunctuation(text)) == 0 {
		return
	}

	out := text
	if speakerName != "" {
		sc.SetCurrentSpeaker(speakerName)
		envelope, err := json.Marshal(map[string]string{"speaker": speakerName, "content": text})
		if err == nil {
			out = string(envelope)
		}
	}

	a.bus.Publish(ctx, eventbus.TranscriptReady{
		Base:       eventbus.NewBase(sc.SessionID),
		Final:      true,
		Text:       out,
		Confidence: 1.0,
	})
}

// stripPunctuation removes punctuation/whitespace so an
// all-punctuation ASR artifact (silence misclassified as a short
// sound) is treated as empty, per §4.7 item 5.
func stripPunctuation(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsPunct(r) || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ErrBusy is the sentinel a Recognizer implementation should wrap or
// return when the shared pool is at capacity, so recognize() can
// trigger BusyNotifier instead of logging a hard error.
var ErrBusy = errors.New("asr: recognizer busy")
