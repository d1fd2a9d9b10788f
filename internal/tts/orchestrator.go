package tts

import (
	"context"
	"log/slog"

	"github.com/voicegate/gateway/internal/eventbus"
)

// defaultQueueCapacity bounds the in-memory TextQueue/AudioQueue so a
// runaway producer can't grow them unboundedly; ordinary turns enqueue
// a handful of items.
const defaultQueueCapacity = 256

// Orchestrator owns one session's TextQueue and AudioQueue (§4.9) and
// the background synthesizer goroutine draining the former into the
// latter.
type Orchestrator struct {
	sessionID string
	synth     Synthesizer
	files     FileLoader
	bus       *eventbus.Bus
	logger    *slog.Logger

	textQueue  chan TextItem
	audioQueue chan AudioFrame

	turnStarted map[string]bool
}

// New creates an Orchestrator for one session. files may be nil if no
// deployment-local clip directory is configured.
func New(sessionID string, synth Synthesizer, files FileLoader, bus *eventbus.Bus, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sessionID:   sessionID,
		synth:       synth,
		files:       files,
		bus:         bus,
		logger:      logger,
		textQueue:   make(chan TextItem, defaultQueueCapacity),
		audioQueue:  make(chan AudioFrame, defaultQueueCapacity),
		turnStarted: make(map[string]bool),
	}
}

// AudioQueue exposes the channel the paced sender drains.
func (o *Orchestrator) AudioQueue() <-chan AudioFrame { return o.audioQueue }

// AddFirst pushes a FIRST/ACTION boundary marker, per §4.9.
func (o *Orchestrator) AddFirst(sentenceID string) {
	o.textQueue <- TextItem{SentenceID: sentenceID, Boundary: First, Content: ContentAction}
}

// AddText pushes a MIDDLE/TEXT item to be synthesized.
func (o *Orchestrator) AddText(sentenceID, text string) {
	if text == "" {
		return
	}
	o.textQueue <- TextItem{SentenceID: sentenceID, Boundary: Middle, Content: ContentText, Text: text}
}

// AddLast pushes a LAST/ACTION boundary marker.
func (o *Orchestrator) AddLast(sentenceID string) {
	o.textQueue <- TextItem{SentenceID: sentenceID, Boundary: Last, Content: ContentAction}
}

// PlayFile pushes a MIDDLE/FILE item referencing a pre-recorded clip.
func (o *Orchestrator) PlayFile(sentenceID, path string) {
	o.textQueue <- TextItem{SentenceID: sentenceID, Boundary: Middle, Content: ContentFile, FilePath: path}
}

// PlayFrames pushes pre-synthesized audio frames directly, skipping
// the Synthesizer — used to play a cached greeting (§4.11 item 3)
// without paying synthesis latency a second time.
func (o *Orchestrator) PlayFrames(sentenceID string, frames [][]byte, caption string) {
	o.textQueue <- TextItem{SentenceID: sentenceID, Boundary: Middle, Content: ContentFrames, Frames: frames, Text: caption}
}

// SynthesizeOneSentence is the atomic FIRST+TEXT+LAST unit named by
// §4.9, used for canned/diagnostic replies that are a whole turn by
// themselves.
func (o *Orchestrator) SynthesizeOneSentence(sentenceID, text string) {
	o.AddFirst(sentenceID)
	o.AddText(sentenceID, text)
	o.AddLast(sentenceID)
}

// Run drains TextQueue until ctx is cancelled (Abort empties the queue
// but never closes it). It is meant to run in its own goroutine for the
// lifetime of the session.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case item, ok := <-o.textQueue:
			if !ok {
				return
			}
			o.process(ctx, item)
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, item TextItem) {
	switch item.Content {
	case ContentAction:
		o.emit(item.SentenceID, item.Boundary, nil, "")
	case ContentText:
		frames, err := o.synth.Synthesize(ctx, item.Text)
		if err != nil {
			o.logger.Error("tts synthesize failed", "session_id", o.sessionID, "error", err)
			o.bus.Publish(ctx, eventbus.TTSError{Base: eventbus.NewBase(o.sessionID), Err: err})
			return
		}
		o.emitFrames(item.SentenceID, frames, item.Text)
		o.bus.Publish(ctx, eventbus.TTSAudioReady{Base: eventbus.NewBase(o.sessionID), SentenceID: item.SentenceID})
	case ContentFile:
		if o.files == nil {
			o.logger.Error("tts file item with no FileLoader configured", "session_id", o.sessionID, "path", item.FilePath)
			return
		}
		frames, err := o.files.Load(item.FilePath)
		if err != nil {
			o.logger.Error("tts file load failed", "session_id", o.sessionID, "path", item.FilePath, "error", err)
			o.bus.Publish(ctx, eventbus.TTSError{Base: eventbus.NewBase(o.sessionID), Err: err})
			return
		}
		o.emitFrames(item.SentenceID, frames, "")
	case ContentFrames:
		o.emitFrames(item.SentenceID, item.Frames, item.Text)
		o.bus.Publish(ctx, eventbus.TTSAudioReady{Base: eventbus.NewBase(o.sessionID), SentenceID: item.SentenceID})
	}
}

func (o *Orchestrator) emitFrames(sentenceID string, frames [][]byte, caption string) {
	for _, f := range frames {
		o.emit(sentenceID, Middle, f, caption)
		caption = "" // only the first emitted frame carries the caption
	}
}

// emit pushes one AudioQueue record, resolving the requested boundary
// through nextBoundary so the first audio-bearing frame of a turn
// inherits FIRST even when it arrives from a TEXT/FILE item rather than
// an explicit AddFirst action (§4.9).
func (o *Orchestrator) emit(sentenceID string, requested Boundary, frame []byte, caption string) {
	o.audioQueue <- AudioFrame{
		SentenceID:  sentenceID,
		Boundary:    o.nextBoundary(sentenceID, requested),
		Frame:       frame,
		CaptionText: caption,
	}
}

func (o *Orchestrator) nextBoundary(sentenceID string, requested Boundary) Boundary {
	if requested == Last {
		delete(o.turnStarted, sentenceID)
		return Last
	}
	if !o.turnStarted[sentenceID] {
		o.turnStarted[sentenceID] = true
		return First
	}
	return Middle
}

// Abort clears both queues immediately, per §5's cancellation contract
// ("An abort clears AudioQueue and TextQueue"). It does not close the
// channels — Run keeps draining new turns afterward.
func (o *Orchestrator) Abort() {
	drain(o.textQueue)
	drain(o.audioQueue)
	o.turnStarted = make(map[string]bool)
}

func drain[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
