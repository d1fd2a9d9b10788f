package asr

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/voicegate/gateway/internal/audio"
	"github.com/voicegate/gateway/internal/config"
	"github.com/voicegate/gateway/internal/eventbus"
	"github.com/voicegate/gateway/internal/session"
)

type stubRecognizer struct {
	text string
	err  error
}

func (s *stubRecognizer) Recognize(ctx context.Context, pcm []float32, sessionID, format string) (string, error) {
	return s.text, s.err
}

type stubSpeaker struct {
	name string
}

func (s *stubSpeaker) Identify(ctx context.Context, pcm []float32) (string, error) {
	return s.name, nil
}

func newTestSession() *session.Context {
	return session.New("dev1", "client1", "127.0.0.1", config.New(nil), nil)
}

func voiceChunk(v float32) []float32 {
	out := make([]float32, 512)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestAdapter_PublishesTranscriptOnUtteranceBoundary(t *testing.T) {
	bus := eventbus.New(nil)
	var mu sync.Mutex
	var got eventbus.TranscriptReady
	gotCh := make(chan struct{})
	eventbus.Subscribe(bus, eventbus.Sync, func(ctx context.Context, e eventbus.TranscriptReady) {
		mu.Lock()
		got = e
		mu.Unlock()
		close(gotCh)
	})

	rec := &stubRecognizer{text: "hello there"}
	a := New(rec, nil, bus, nil, nil)
	sc := newTestSession()
	vad := audio.NewVAD(audio.DefaultVADConfig())

	// Enough voice chunks to flip have_voice, then enough silence to
	// flip voice_stopped, with >= minPacketsPerUtterance total feeds.
	for i := 0; i < 20; i++ {
		a.Feed(context.Background(), sc, vad, voiceChunk(1.0))
	}
	cfg := audio.DefaultVADConfig()
	silenceStart := time.Now()
	for time.Since(silenceStart) < cfg.SilenceTimeout+50*time.Millisecond {
		a.Feed(context.Background(), sc, vad, voiceChunk(0))
	}

	select {
	case <-gotCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for TranscriptReady")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Text != "hello there" {
		t.Fatalf("text = %q, want %q", got.Text, "hello there")
	}
	if !got.Final {
		t.Fatal("expected Final=true")
	}
}

func TestAdapter_SpeakerEnvelope(t *testing.T) {
	bus := eventbus.New(nil)
	gotCh := make(chan eventbus.TranscriptReady, 1)
	eventbus.Subscribe(bus, eventbus.Sync, func(ctx context.Context, e eventbus.TranscriptReady) {
		gotCh <- e
	})

	rec := &stubRecognizer{text: "turn on the lights"}
	a := New(rec, &stubSpeaker{name: "alice"}, bus, nil, nil)
	sc := newTestSession()
	vad := audio.NewVAD(audio.DefaultVADConfig())

	for i := 0; i < 20; i++ {
		a.Feed(context.Background(), sc, vad, voiceChunk(1.0))
	}
	cfg := audio.DefaultVADConfig()
	start := time.Now()
	for time.Since(start) < cfg.SilenceTimeout+50*time.Millisecond {
		a.Feed(context.Background(), sc, vad, voiceChunk(0))
	}

	select {
	case e := <-gotCh:
		var envelope struct {
			Speaker string `json:"speaker"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(e.Text), &envelope); err != nil {
			t.Fatalf("expected JSON envelope, got %q: %v", e.Text, err)
		}
		if envelope.Speaker != "alice" || envelope.Content != "turn on the lights" {
			t.Fatalf("envelope = %+v", envelope)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for TranscriptReady")
	}
}

func TestAdapter_SuppressesEmptyTranscript(t *testing.T) {
	bus := eventbus.New(nil)
	published := false
	eventbus.Subscribe(bus, eventbus.Sync, func(ctx context.Context, e eventbus.TranscriptReady) {
		published = true
	})

	rec := &stubRecognizer{text: "...!?"}
	a := New(rec, nil, bus, nil, nil)
	sc := newTestSession()
	vad := audio.NewVAD(audio.DefaultVADConfig())

	for i := 0; i < 20; i++ {
		a.Feed(context.Background(), sc, vad, voiceChunk(1.0))
	}
	cfg := audio.DefaultVADConfig()
	start := time.Now()
	for time.Since(start) < cfg.SilenceTimeout+50*time.Millisecond {
		a.Feed(context.Background(), sc, vad, voiceChunk(0))
	}
	time.Sleep(100 * time.Millisecond)

	if published {
		t.Fatal("expected TranscriptReady to be suppressed for all-punctuation transcript")
	}
}

func TestStripPunctuation(t *testing.T) {
	cases := map[string]string{
		"hello":   "hello",
		"...!? ":  "",
		" a, b! ": "ab",
	}
	for in, want := range cases {
		if got := stripPunctuation(in); got != want {
			t.Errorf("stripPunctuation(%q) = %q, want %q", in, got, want)
		}
	}
}
