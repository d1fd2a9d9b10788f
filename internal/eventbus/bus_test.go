package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSubscribe_SyncHandlersRunInRegistrationOrderBeforePublishReturns(t *testing.T) {
	b := New(nil)
	var order []int
	var mu sync.Mutex

	for i := 0; i < 3; i++ {
		i := i
		Subscribe(b, Sync, func(ctx context.Context, e SessionCreated) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	b.Publish(context.Background(), SessionCreated{Base: NewBase("s1"), DeviceID: "d1"})

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("expected sync handlers to run in registration order, got %v", order)
	}
}

func TestPublish_AsyncHandlersAllCompleteBeforeReturning(t *testing.T) {
	b := New(nil)
	var done [5]bool
	var mu sync.Mutex

	for i := 0; i < 5; i++ {
		i := i
		Subscribe(b, Async, func(ctx context.Context, e SessionCreated) {
			time.Sleep(time.Millisecond)
			mu.Lock()
			done[i] = true
			mu.Unlock()
		})
	}

	b.Publish(context.Background(), SessionCreated{Base: NewBase("s1")})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range done {
		if !v {
			t.Fatalf("expected async handler %d to have completed before Publish returned", i)
		}
	}
}

func TestPublish_HandlerPanicDoesNotStopSiblings(t *testing.T) {
	b := New(nil)
	ran := false

	Subscribe(b, Sync, func(ctx context.Context, e SessionCreated) {
		panic("boom")
	})
	Subscribe(b, Sync, func(ctx context.Context, e SessionCreated) {
		ran = true
	})

	b.Publish(context.Background(), SessionCreated{Base: NewBase("s1")})

	if !ran {
		t.Fatal("expected the second handler to still run after the first panicked")
	}
}

func TestPublish_OnlyDeliversToMatchingConcreteType(t *testing.T) {
	b := New(nil)
	var gotCreated, gotDestroying bool

	Subscribe(b, Sync, func(ctx context.Context, e SessionCreated) { gotCreated = true })
	Subscribe(b, Sync, func(ctx context.Context, e SessionDestroying) { gotDestroying = true })

	b.Publish(context.Background(), SessionCreated{Base: NewBase("s1")})

	if !gotCreated {
		t.Fatal("expected SessionCreated subscriber to be invoked")
	}
	if gotDestroying {
		t.Fatal("expected SessionDestroying subscriber not to be invoked by a SessionCreated publish")
	}
}

func TestClear_RemovesAllSubscriptions(t *testing.T) {
	b := New(nil)
	called := false
	Subscribe(b, Sync, func(ctx context.Context, e SessionCreated) { called = true })

	b.Clear()
	b.Publish(context.Background(), SessionCreated{Base: NewBase("s1")})

	if called {
		t.Fatal("expected no handlers to run after Clear")
	}
}
