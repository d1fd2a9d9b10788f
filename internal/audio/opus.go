package audio

import (
	"fmt"

	"github.com/hraban/opus"
)

// OpusCodec wraps a stateful decoder/encoder pair for one session.
// Both directions run at 16 kHz mono, the format VAD/ASR and the paced
// TTS sender exchange audio in throughout §4.6/§4.9.
type OpusCodec struct {
	sampleRate int
	channels   int
	dec        *opus.Decoder
	enc        *opus.Encoder
	pcmScratch []int16
}

// NewOpusCodec builds a decoder and, if encode is true, an encoder
// tuned for voice (OPUS_APPLICATION_VOIP), per the teacher's low-
// latency audio path.
func NewOpusCodec(sampleRate, channels int, encode bool) (*OpusCodec, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	c := &OpusCodec{
		sampleRate: sampleRate,
		channels:   channels,
		dec:        dec,
		pcmScratch: make([]int16, sampleRate/10*channels), // 100ms scratch
	}
	if encode {
		enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
		if err != nil {
			return nil, fmt.Errorf("opus encoder: %w", err)
		}
		c.enc = enc
	}
	return c, nil
}

// Decode converts one Opus packet to float32 PCM samples in [-1, 1].
func (c *OpusCodec) Decode(packet []byte) ([]float32, error) {
	n, err := c.dec.Decode(packet, c.pcmScratch)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	out := make([]float32, n*c.channels)
	for i := 0; i < n*c.channels; i++ {
		out[i] = float32(c.pcmScratch[i]) / 32768.0
	}
	return out, nil
}

// Encode converts float32 PCM samples in [-1, 1] to one Opus packet
// sized for a single frame (e.g. 60ms at 16kHz = 960 samples).
func (c *OpusCodec) Encode(samples []float32) ([]byte, error) {
	if c.enc == nil {
		return nil, fmt.Errorf("opus codec: encoder not configured")
	}
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = int16(s * 32767.0)
	}
	buf := make([]byte, 4000)
	n, err := c.enc.Encode(pcm, buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return buf[:n], nil
}
