package tts

import (
	"context"
	"os"

	"github.com/voicegate/gateway/internal/pipeline"
)

// frameChunkBytes is the fixed size the provider's single synthesized
// blob is sliced into so the paced sender (§4.9) has discrete frames to
// pace, the same way it would pace real Opus packets.
const frameChunkBytes = 3200

// PiperSynthesizer adapts pipeline.TTSClient to Synthesizer.
type PiperSynthesizer struct {
	client *pipeline.TTSClient
	engine string
}

// NewPiperSynthesizer builds a Synthesizer over a Piper HTTP client
// fixed to one voice engine ("fast" or "quality").
func NewPiperSynthesizer(client *pipeline.TTSClient, engine string) *PiperSynthesizer {
	return &PiperSynthesizer{client: client, engine: engine}
}

// Synthesize implements Synthesizer.
func (p *PiperSynthesizer) Synthesize(ctx context.Context, text string) ([][]byte, error) {
	res, err := p.client.Synthesize(ctx, text, p.engine)
	if err != nil {
		return nil, err
	}
	return chunkBytes(res.Audio, frameChunkBytes), nil
}

func chunkBytes(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	out := make([][]byte, 0, len(data)/size+1)
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[i:end])
	}
	return out
}

// ClipFileLoader reads a pre-recorded clip from disk and chunks it the
// same way synthesized audio is chunked, for bind-code digit playback
// and the device-not-found notice (dialogue.Service.handleBind).
type ClipFileLoader struct{}

// NewClipFileLoader builds a FileLoader over the local filesystem.
func NewClipFileLoader() ClipFileLoader { return ClipFileLoader{} }

// Load implements FileLoader.
func (ClipFileLoader) Load(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return chunkBytes(data, frameChunkBytes), nil
}
