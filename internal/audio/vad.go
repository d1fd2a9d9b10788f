package audio

import (
	"math"
	"time"
)

// VADConfig controls the dual-threshold, windowed voice activity
// detector from §4.6.
type VADConfig struct {
	ThresholdHighDB float64       // score >= high -> voice
	ThresholdLowDB  float64       // score <= low -> non-voice; between carries previous label
	SilenceTimeout  time.Duration // elapsed since last voice chunk before voice_stopped
	SampleRate      int
	ChunkSamples    int // fixed classification window, 512 per §4.6
	WindowSize      int // sliding window of recent chunk labels, 5 per §4.6
	WindowVotes     int // voice chunks required within WindowSize to flip have_voice, 3 per §4.6
}

// DefaultVADConfig returns the §4.6 defaults.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		ThresholdHighDB: -30,
		ThresholdLowDB:  -45,
		SilenceTimeout:  1000 * time.Millisecond,
		SampleRate:      16000,
		ChunkSamples:    512,
		WindowSize:      5,
		WindowVotes:     3,
	}
}

// VAD holds per-session voice activity state: a PCM accumulation
// buffer (inbound frames rarely align to ChunkSamples), a sliding
// window of recent per-chunk voice/non-voice labels, the previous
// label carried through the dual-threshold dead zone, and the
// last-voice timestamp used to derive voice_stopped.
type VAD struct {
	cfg VADConfig

	pending []float32

	prevLabel bool
	window    []bool
	windowPos int

	haveVoice    bool
	voiceStopped bool
	lastVoiceAt  time.Time
}

// NewVAD creates a VAD for one session.
func NewVAD(cfg VADConfig) *VAD {
	return &VAD{
		cfg:    cfg,
		window: make([]bool, 0, cfg.WindowSize),
	}
}

// Result reports the have_voice/voice_stopped transitions produced by
// processing one call's worth of samples.
type Result struct {
	HaveVoice     bool
	VoiceStopped  bool
	VoiceStarted  bool // have_voice flipped false->true during this call
	VoiceJustDone bool // voice_stopped flipped false->true during this call
}

// Process classifies every full ChunkSamples window it can form from
// the accumulated samples and updates have_voice/voice_stopped per
// §4.6. Callers in manual listen mode should not call this; voice-stop
// there is driven only by listen control frames.
func (v *VAD) Process(samples []float32) Result {
	v.pending = append(v.pending, samples...)

	hadVoice := v.haveVoice
	hadStopped := v.voiceStopped

	for len(v.pending) >= v.cfg.ChunkSamples {
		chunk := v.pending[:v.cfg.ChunkSamples]
		v.pending = v.pending[v.cfg.ChunkSamples:]
		v.classify(chunk)
	}

	return Result{
		HaveVoice:     v.haveVoice,
		VoiceStopped:  v.voiceStopped,
		VoiceStarted:  !hadVoice && v.haveVoice,
		VoiceJustDone: !hadStopped && v.voiceStopped,
	}
}

// classify scores one fixed-size chunk, applies the dual-threshold
// decision (voice / non-voice / carry-previous), pushes the label into
// the sliding window, and re-evaluates have_voice and voice_stopped.
func (v *VAD) classify(chunk []float32) {
	score := computeEnergyDB(chunk)

	var label bool
	switch {
	case score >= v.cfg.ThresholdHighDB:
		label = true
	case score <= v.cfg.ThresholdLowDB:
		label = false
	default:
		label = v.prevLabel
	}
	v.prevLabel = label

	v.pushWindow(label)

	now := time.Now()
	if label {
		v.lastVoiceAt = now
	}

	if v.voteVoice() {
		v.haveVoice = true
	}

	if v.haveVoice && !label {
		if !v.lastVoiceAt.IsZero() && now.Sub(v.lastVoiceAt) >= v.cfg.SilenceTimeout {
			v.voiceStopped = true
		}
	}
}

func (v *VAD) pushWindow(label bool) {
	if len(v.window) < v.cfg.WindowSize {
		v.window = append(v.window, label)
		return
	}
	v.window[v.windowPos] = label
	v.windowPos = (v.windowPos + 1) % v.cfg.WindowSize
}

func (v *VAD) voteVoice() bool {
	votes := 0
	for _, l := range v.window {
		if l {
			votes++
		}
	}
	return votes >= v.cfg.WindowVotes
}

// Reset clears have_voice/voice_stopped and the classification window,
// called when the ASR adapter snapshots a completed utterance (§4.7).
func (v *VAD) Reset() {
	v.pending = v.pending[:0]
	v.window = v.window[:0]
	v.windowPos = 0
	v.prevLabel = false
	v.haveVoice = false
	v.voiceStopped = false
	v.lastVoiceAt = time.Time{}
}

func computeEnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
