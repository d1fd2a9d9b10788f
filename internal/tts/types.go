// Package tts implements §4.9: the TTSOrchestrator's TextQueue/
// AudioQueue pair and the audio-paced downstream sender, grounded on
// the reference service's internal/pipeline/tts.go (Piper HTTP client)
// for synthesis and internal/audio/wav.go for pre-recorded clip
// loading, generalized from a single synthesize-and-return call into a
// queued, boundary-tagged turn pipeline.
package tts

import "context"

// Boundary marks a sentence's position within an assistant turn.
type Boundary string

const (
	First  Boundary = "FIRST"
	Middle Boundary = "MIDDLE"
	Last   Boundary = "LAST"
)

// ContentType is the TextQueue item's payload kind.
type ContentType string

const (
	ContentText   ContentType = "TEXT"
	ContentFile   ContentType = "FILE"
	ContentAction ContentType = "ACTION"
	// ContentFrames carries pre-synthesized audio frames, bypassing the
	// Synthesizer/FileLoader. Used for cached greetings (§4.11 item 3).
	ContentFrames ContentType = "FRAMES"
)

// TextItem is one TTSMessage from §3: a unit of work for the
// background synthesizer.
type TextItem struct {
	SentenceID string
	Boundary   Boundary
	Content    ContentType
	Text       string   // set when Content == ContentText, or the caption when Content == ContentFrames
	FilePath   string   // set when Content == ContentFile
	Frames     [][]byte // set when Content == ContentFrames
}

// AudioFrame is one entry on the AudioQueue: a boundary tag, an
// optionally-empty encoded audio payload (ACTION markers carry none),
// and the caption text sent as the turn's sentence_start control
// message.
type AudioFrame struct {
	SentenceID  string
	Boundary    Boundary
	Frame       []byte
	CaptionText string
}

// Synthesizer turns text into a sequence of encoded audio frames ready
// for the transport (e.g. Opus packets at the negotiated frame
// duration). Implemented by a provider adapter over
// internal/pipeline.TTSClient.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([][]byte, error)
}

// FileLoader loads a pre-recorded clip (bind-code digit, device-not-found
// notice) as a sequence of encoded audio frames.
type FileLoader interface {
	Load(path string) ([][]byte, error)
}
