package audio

import (
	"testing"
	"time"
)

func loudChunk(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 1.0
		} else {
			out[i] = -1.0
		}
	}
	return out
}

func silentChunk(n int) []float32 {
	return make([]float32, n)
}

func testVADConfig() VADConfig {
	cfg := DefaultVADConfig()
	cfg.SilenceTimeout = 20 * time.Millisecond
	return cfg
}

func TestVAD_RequiresWindowVotesBeforeFlippingHaveVoice(t *testing.T) {
	cfg := testVADConfig()
	v := NewVAD(cfg)

	// Two loud chunks: below WindowVotes=3, have_voice must stay false.
	r := v.Process(loudChunk(cfg.ChunkSamples))
	if r.HaveVoice {
		t.Fatal("expected have_voice to still be false after only one loud chunk")
	}
	r = v.Process(loudChunk(cfg.ChunkSamples))
	if r.HaveVoice {
		t.Fatal("expected have_voice to still be false after two loud chunks (below WindowVotes)")
	}

	// Third loud chunk reaches WindowVotes=3 within the WindowSize=5 window.
	r = v.Process(loudChunk(cfg.ChunkSamples))
	if !r.HaveVoice || !r.VoiceStarted {
		t.Fatalf("expected have_voice to flip true with VoiceStarted on the 3rd loud chunk, got %+v", r)
	}
}

func TestVAD_SilenceTimeoutFlipsVoiceStopped(t *testing.T) {
	cfg := testVADConfig()
	v := NewVAD(cfg)

	for i := 0; i < 3; i++ {
		v.Process(loudChunk(cfg.ChunkSamples))
	}

	time.Sleep(cfg.SilenceTimeout + 10*time.Millisecond)

	r := v.Process(silentChunk(cfg.ChunkSamples))
	if !r.VoiceStopped || !r.VoiceJustDone {
		t.Fatalf("expected voice_stopped once SilenceTimeout elapses after voice, got %+v", r)
	}
}

func TestVAD_Reset_ClearsState(t *testing.T) {
	cfg := testVADConfig()
	v := NewVAD(cfg)
	for i := 0; i < 3; i++ {
		v.Process(loudChunk(cfg.ChunkSamples))
	}
	if !v.haveVoice {
		t.Fatal("expected have_voice true before Reset")
	}

	v.Reset()

	if v.haveVoice || v.voiceStopped || len(v.window) != 0 {
		t.Fatalf("expected Reset to clear have_voice/voice_stopped/window, got haveVoice=%v voiceStopped=%v window=%v", v.haveVoice, v.voiceStopped, v.window)
	}
}

func TestVAD_DeadZoneCarriesPreviousLabel(t *testing.T) {
	cfg := testVADConfig()
	v := NewVAD(cfg)

	// A chunk whose energy sits strictly between the two thresholds must
	// carry the previous label rather than independently classifying.
	mid := make([]float32, cfg.ChunkSamples)
	for i := range mid {
		if i%4 == 0 {
			mid[i] = 0.02
		}
	}
	score := computeEnergyDB(mid)
	if score <= cfg.ThresholdLowDB || score >= cfg.ThresholdHighDB {
		t.Skipf("synthetic mid chunk score %.2f dB not inside the dead zone (%.2f, %.2f); adjust fixture", score, cfg.ThresholdLowDB, cfg.ThresholdHighDB)
	}

	v.prevLabel = true
	v.classify(mid)
	if !v.prevLabel {
		t.Fatal("expected dead-zone chunk to carry forward the previous (true) label")
	}
}
