package tts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voicegate/gateway/internal/eventbus"
)

type fakeSynth struct {
	frames [][]byte
	err    error
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([][]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.frames, nil
}

type fakeLoader struct {
	frames [][]byte
	err    error
}

func (f *fakeLoader) Load(path string) ([][]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.frames, nil
}

func drainAudio(t *testing.T, o *Orchestrator, n int, timeout time.Duration) []AudioFrame {
	t.Helper()
	var out []AudioFrame
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case f := <-o.AudioQueue():
			out = append(out, f)
		case <-deadline:
			t.Fatalf("timed out after %d/%d frames", len(out), n)
		}
	}
	return out
}

// §8 invariant 1: exactly one FIRST and one LAST boundary marker per
// turn, regardless of how many sentences it contains.
func TestOrchestrator_ExactlyOneFirstAndLast(t *testing.T) {
	synth := &fakeSynth{frames: [][]byte{[]byte("a"), []byte("b")}}
	o := New("s1", synth, nil, eventbus.New(nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	o.AddFirst("turn1")
	o.AddText("turn1", "hello")
	o.AddText("turn1", "world")
	o.AddLast("turn1")

	frames := drainAudio(t, o, 6, 2*time.Second)

	firsts, lasts := 0, 0
	for _, f := range frames {
		switch f.Boundary {
		case First:
			firsts++
		case Last:
			lasts++
		}
	}
	if firsts != 1 {
		t.Fatalf("FIRST count = %d, want 1", firsts)
	}
	if lasts != 1 {
		t.Fatalf("LAST count = %d, want 1", lasts)
	}
	if frames[len(frames)-1].Boundary != Last {
		t.Fatalf("last frame boundary = %v, want Last", frames[len(frames)-1].Boundary)
	}
}

func TestOrchestrator_SynthesizeOneSentence(t *testing.T) {
	synth := &fakeSynth{frames: [][]byte{[]byte("a")}}
	o := New("s1", synth, nil, eventbus.New(nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	o.SynthesizeOneSentence("t1", "hi there")
	frames := drainAudio(t, o, 3, 2*time.Second)
	if frames[0].Boundary != First {
		t.Fatalf("frame[0] = %v, want First", frames[0].Boundary)
	}
	if frames[len(frames)-1].Boundary != Last {
		t.Fatalf("frame[last] = %v, want Last", frames[len(frames)-1].Boundary)
	}
}

func TestOrchestrator_PublishesTTSErrorOnSynthFailure(t *testing.T) {
	synth := &fakeSynth{err: errors.New("boom")}
	bus := eventbus.New(nil)
	gotCh := make(chan eventbus.TTSError, 1)
	eventbus.Subscribe(bus, eventbus.Sync, func(ctx context.Context, e eventbus.TTSError) {
		gotCh <- e
	})
	o := New("s1", synth, nil, bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	o.AddFirst("t1")
	o.AddText("t1", "hello")
	o.AddLast("t1")

	select {
	case <-gotCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for TTSError")
	}
}

// §5's cancellation contract: Abort clears both queues immediately.
func TestOrchestrator_AbortDrainsQueues(t *testing.T) {
	synth := &fakeSynth{frames: [][]byte{[]byte("a")}}
	o := New("s1", synth, nil, eventbus.New(nil), nil)

	o.AddFirst("t1")
	o.AddText("t1", "hello")
	o.AddLast("t1")
	time.Sleep(20 * time.Millisecond)

	o.Abort()

	select {
	case f := <-o.AudioQueue():
		t.Fatalf("expected empty AudioQueue after Abort, got %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}
