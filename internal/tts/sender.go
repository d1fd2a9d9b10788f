package tts

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/voicegate/gateway/internal/eventbus"
	"github.com/voicegate/gateway/internal/metrics"
	"github.com/voicegate/gateway/internal/session"
	"github.com/voicegate/gateway/internal/transport"
)

// defaultFrameDuration is the nominal per-frame playback duration.
const defaultFrameDuration = 60 * time.Millisecond

// defaultPreBuffer is the number of frames emitted back-to-back before
// pacing kicks in, per §4.9.
const defaultPreBuffer = 5

// SenderConfig tunes the paced sender's timing. Zero values fall back
// to the §4.9 defaults (60ms frame duration, 5-frame pre-buffer).
type SenderConfig struct {
	FrameDuration time.Duration
	PreBuffer     int
	// ExtraDelayMs, when positive, overrides the derived schedule with a
	// fixed sleep per frame, per §4.9's "Configurable extra delay".
	ExtraDelayMs int
}

func (c SenderConfig) normalized() SenderConfig {
	if c.FrameDuration <= 0 {
		c.FrameDuration = defaultFrameDuration
	}
	if c.PreBuffer <= 0 {
		c.PreBuffer = defaultPreBuffer
	}
	return c
}

// Sender is the audio-paced downstream sender (§4.9): it drains one
// session's AudioQueue and writes frames to the transport with
// pre-buffering and steady-state pacing, emitting the tts.start/
// sentence_start/stop control messages at turn boundaries.
type Sender struct {
	sc        *session.Context
	transport transport.Transport
	audio     <-chan AudioFrame
	cfg       SenderConfig
	bus       *eventbus.Bus
	logger    *slog.Logger

	// onTurnClosed is invoked after a LAST boundary's stop message has
	// been sent, and only when the session's close_after_chat flag is
	// set, so the caller can honor it (§4.9's last invariant).
	onTurnClosed func()
}

// NewSender creates a Sender. onTurnClosed may be nil.
func NewSender(sc *session.Context, tr transport.Transport, audio <-chan AudioFrame, cfg SenderConfig, bus *eventbus.Bus, logger *slog.Logger, onTurnClosed func()) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		sc:           sc,
		transport:    tr,
		audio:        audio,
		cfg:          cfg.normalized(),
		bus:          bus,
		logger:       logger,
		onTurnClosed: onTurnClosed,
	}
}

// Run drains AudioQueue until ctx is cancelled or stopSignal fires. It
// is meant to run in its own goroutine for the lifetime of the
// session.
func (s *Sender) Run(ctx context.Context, stopSignal <-chan struct{}) {
	var turnStart time.Time
	var frameIdx int

	for {
		select {
		case frame, ok := <-s.audio:
			if !ok {
				return
			}
			switch frame.Boundary {
			case First:
				turnStart = time.Now()
				frameIdx = 0
				s.sc.SetSpeaking(true)
				s.sendControl(ctx, controlMessage("start", ""))
				s.sendControl(ctx, controlMessage("sentence_start", frame.CaptionText))
			case Last:
				s.sendControl(ctx, controlMessage("stop", ""))
				s.sc.SetSpeaking(false)
				if s.onTurnClosed != nil && s.sc.CloseAfterChat() {
					s.onTurnClosed()
				}
				continue
			}

			if len(frame.Frame) == 0 {
				continue
			}
			s.pace(turnStart, frameIdx)
			if err := s.transport.SendBinary(frame.Frame); err != nil {
				s.logger.Error("tts sender: send binary failed", "session_id", s.sc.SessionID, "error", err)
			}
			frameIdx++

		case <-stopSignal:
			s.sc.SetSpeaking(false)
			return
		case <-ctx.Done():
			s.sc.SetSpeaking(false)
			return
		}
	}
}

// pace blocks until frame frameIdx is due, per §4.9's timing contract:
// the first PreBuffer frames are sent back-to-back with no delay;
// frame k (0-indexed from the end of the pre-buffer) is sent no
// earlier than turnStart + k*FrameDuration, catching up without
// busy-waiting when behind schedule. A positive ExtraDelayMs overrides
// the derived schedule with a fixed per-frame sleep instead.
func (s *Sender) pace(turnStart time.Time, frameIdx int) {
	if s.cfg.ExtraDelayMs > 0 {
		time.Sleep(time.Duration(s.cfg.ExtraDelayMs) * time.Millisecond)
		return
	}
	if frameIdx < s.cfg.PreBuffer {
		return
	}
	k := frameIdx - s.cfg.PreBuffer
	target := turnStart.Add(time.Duration(k) * s.cfg.FrameDuration)
	d := time.Until(target)
	if d > 0 {
		time.Sleep(d)
		metrics.SenderFrameLateness.Observe(0)
		return
	}
	metrics.SenderFrameLateness.Observe((-d).Seconds())
}

func (s *Sender) sendControl(ctx context.Context, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.transport.SendText(string(raw)); err != nil {
		s.logger.Error("tts sender: send control failed", "session_id", s.sc.SessionID, "error", err)
	}
}

func controlMessage(state, text string) map[string]any {
	msg := map[string]any{"type": "tts", "state": state}
	if text != "" {
		msg["text"] = text
	}
	return msg
}
