package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/khuang/chronosync/internal/store"
)

type countingSyncer struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSyncer) Sync(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return true, nil
}

func (c *countingSyncer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestTriggerSyncRunsEngine(t *testing.T) {
	engine := &countingSyncer{}
	s := New(engine, &Config{
		SyncInterval:   time.Hour,
		ThrottleWindow: time.Millisecond,
		DebounceWindow: time.Millisecond,
	})

	if !s.TriggerSync(context.Background()) {
		t.Fatal("first trigger should run")
	}
	if engine.count() != 1 {
		t.Fatalf("engine calls = %d, want 1", engine.count())
	}
}

func TestTriggerSyncThrottled(t *testing.T) {
	engine := &countingSyncer{}
	s := New(engine, &Config{
		SyncInterval:   time.Hour,
		ThrottleWindow: time.Hour,
		DebounceWindow: time.Millisecond,
	})

	ctx := context.Background()
	if !s.TriggerSync(ctx) {
		t.Fatal("first trigger should run")
	}
	if s.TriggerSync(ctx) {
		t.Fatal("second trigger inside the window should be throttled")
	}
	if engine.count() != 1 {
		t.Fatalf("engine calls = %d, want 1", engine.count())
	}
}

func TestPeriodicLoopSyncs(t *testing.T) {
	engine := &countingSyncer{}
	s := New(engine, &Config{
		SyncInterval:   20 * time.Millisecond,
		ThrottleWindow: time.Millisecond,
		DebounceWindow: time.Millisecond,
	})

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for engine.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("periodic loop never synced")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartIsIdempotentAndStopWaits(t *testing.T) {
	engine := &countingSyncer{}
	s := New(engine, &Config{
		SyncInterval:   time.Hour,
		ThrottleWindow: time.Millisecond,
		DebounceWindow: time.Millisecond,
	})

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx) // no second goroutine
	if !s.IsRunning() {
		t.Fatal("expected running")
	}
	s.Stop()
	if s.IsRunning() {
		t.Fatal("expected stopped")
	}
	s.Stop() // safe to call twice
}

func TestTimerStartEventDebounced(t *testing.T) {
	engine := &countingSyncer{}
	s := New(engine, &Config{
		SyncInterval:   time.Hour,
		ThrottleWindow: time.Millisecond,
		DebounceWindow: 30 * time.Millisecond,
	})

	listener := s.OnStoreEvent(context.Background())
	for i := 0; i < 5; i++ {
		listener(store.Event{Type: store.EventTimerStarted, EntryID: "e1"})
	}

	if engine.count() != 0 {
		t.Fatal("debounced trigger fired before the window elapsed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for engine.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("debounced trigger never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// A burst of starts collapses to a single sync pass.
	time.Sleep(60 * time.Millisecond)
	if engine.count() != 1 {
		t.Fatalf("engine calls = %d, want 1", engine.count())
	}
}

func TestOtherEventsTriggerImmediately(t *testing.T) {
	engine := &countingSyncer{}
	s := New(engine, &Config{
		SyncInterval:   time.Hour,
		ThrottleWindow: time.Hour,
		DebounceWindow: time.Millisecond,
	})

	listener := s.OnStoreEvent(context.Background())
	listener(store.Event{Type: store.EventEntryUpdated, EntryID: "e1"})
	if engine.count() != 1 {
		t.Fatalf("engine calls = %d, want 1", engine.count())
	}

	// Follow-up mutation inside the throttle window does not stack.
	listener(store.Event{Type: store.EventTimerStopped, EntryID: "e1"})
	if engine.count() != 1 {
		t.Fatalf("engine calls = %d, want 1 after throttled event", engine.count())
	}
}
