package tts

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/voicegate/gateway/internal/config"
	"github.com/voicegate/gateway/internal/session"
	"github.com/voicegate/gateway/internal/transport"
)

type fakeTransport struct {
	mu      sync.Mutex
	texts   []string
	binary  [][]byte
	sendsAt []time.Time
}

func (f *fakeTransport) SendText(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, s)
	return nil
}

func (f *fakeTransport) SendBinary(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binary = append(f.binary, b)
	f.sendsAt = append(f.sendsAt, time.Now())
	return nil
}

func (f *fakeTransport) Receive() <-chan transport.Frame { return nil }
func (f *fakeTransport) Close() error                    { return nil }
func (f *fakeTransport) IsConnected() bool               { return true }

func newSenderTestSession() *session.Context {
	return session.New("dev1", "client1", "127.0.0.1", config.New(nil), nil)
}

func controlStates(texts []string) []string {
	var states []string
	for _, raw := range texts {
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		if s, ok := m["state"].(string); ok {
			states = append(states, s)
		}
	}
	return states
}

// §8 invariant 1: exactly one tts.start and one tts.stop per turn.
func TestSender_ExactlyOneStartAndStop(t *testing.T) {
	audioCh := make(chan AudioFrame, 10)
	tr := &fakeTransport{}
	sc := newSenderTestSession()
	cfg := SenderConfig{FrameDuration: time.Millisecond, PreBuffer: 1}
	s := NewSender(sc, tr, audioCh, cfg, nil, nil, nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), stop)
		close(done)
	}()

	audioCh <- AudioFrame{SentenceID: "t1", Boundary: First}
	audioCh <- AudioFrame{SentenceID: "t1", Boundary: Middle, Frame: []byte("a")}
	audioCh <- AudioFrame{SentenceID: "t1", Boundary: Middle, Frame: []byte("b")}
	audioCh <- AudioFrame{SentenceID: "t1", Boundary: Last}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	<-done

	states := controlStates(tr.texts)
	starts, stops := 0, 0
	for _, st := range states {
		switch st {
		case "start":
			starts++
		case "stop":
			stops++
		}
	}
	if starts != 1 {
		t.Fatalf("start count = %d, want 1", starts)
	}
	if stops != 1 {
		t.Fatalf("stop count = %d, want 1", stops)
	}
	if sc.IsSpeaking() {
		t.Fatal("expected IsSpeaking=false after stop")
	}
}

// §8 invariant 4: frames are sent no earlier than their scheduled time,
// i.e. pacing is monotone non-decreasing relative to frame index.
func TestSender_MonotonePacing(t *testing.T) {
	audioCh := make(chan AudioFrame, 10)
	tr := &fakeTransport{}
	sc := newSenderTestSession()
	cfg := SenderConfig{FrameDuration: 20 * time.Millisecond, PreBuffer: 1}
	s := NewSender(sc, tr, audioCh, cfg, nil, nil, nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), stop)
		close(done)
	}()

	audioCh <- AudioFrame{SentenceID: "t1", Boundary: First}
	for i := 0; i < 4; i++ {
		audioCh <- AudioFrame{SentenceID: "t1", Boundary: Middle, Frame: []byte{byte(i)}}
	}
	audioCh <- AudioFrame{SentenceID: "t1", Boundary: Last}

	time.Sleep(200 * time.Millisecond)
	close(stop)
	<-done

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.sendsAt) != 4 {
		t.Fatalf("sent %d binary frames, want 4", len(tr.sendsAt))
	}
	for i := 1; i < len(tr.sendsAt); i++ {
		if tr.sendsAt[i].Before(tr.sendsAt[i-1]) {
			t.Fatalf("frame %d sent before frame %d", i, i-1)
		}
	}
}

// A FIRST boundary marks the session as speaking; once the stop signal
// fires, Run returns without leaving the session in a speaking state.
func TestSender_StopSignalLeavesNotSpeaking(t *testing.T) {
	audioCh := make(chan AudioFrame, 10)
	tr := &fakeTransport{}
	sc := newSenderTestSession()
	s := NewSender(sc, tr, audioCh, SenderConfig{}, nil, nil, nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), stop)
		close(done)
	}()

	audioCh <- AudioFrame{SentenceID: "t1", Boundary: First}
	time.Sleep(20 * time.Millisecond)
	if !sc.IsSpeaking() {
		t.Fatal("expected IsSpeaking=true after start boundary")
	}

	close(stop)
	<-done
	if sc.IsSpeaking() {
		t.Fatal("expected IsSpeaking=false after the stop signal")
	}
}
