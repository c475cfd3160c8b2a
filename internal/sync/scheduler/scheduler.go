// Package scheduler drives the sync engine from its three trigger
// sources: a periodic ticker, local store mutations, and manual
// requests. All triggers funnel through a shared throttle gate so
// bursts of activity cannot stack sync passes.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/khuang/chronosync/internal/logging"
	"github.com/khuang/chronosync/internal/store"
	"github.com/khuang/chronosync/internal/sync/gate"
)

// Syncer is the engine-facing contract. Satisfied by *sync.Engine.
type Syncer interface {
	Sync(ctx context.Context) (bool, error)
}

// Config holds scheduler timing parameters.
type Config struct {
	SyncInterval   time.Duration // periodic sync cadence (default: 5 minutes)
	ThrottleWindow time.Duration // minimum spacing between sync passes (default: 30 seconds)
	DebounceWindow time.Duration // settle window after timer starts (default: 500 ms)
}

// DefaultConfig returns the default scheduler timings.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:   5 * time.Minute,
		ThrottleWindow: 30 * time.Second,
		DebounceWindow: 500 * time.Millisecond,
	}
}

// Scheduler owns the periodic loop and the event-driven triggers.
type Scheduler struct {
	engine   Syncer
	throttle *gate.Throttle
	debounce *gate.Debounce
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.RWMutex
	isRunning bool
}

// New creates a Scheduler. A nil config means DefaultConfig.
func New(engine Syncer, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		engine:   engine,
		throttle: gate.NewThrottle(config.ThrottleWindow),
		debounce: gate.NewDebounce(config.DebounceWindow),
		interval: config.SyncInterval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the periodic sync loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.periodicLoop(ctx)

	logging.Info("sync scheduler started",
		map[string]any{"interval_minutes": s.interval.Minutes()})
}

// Stop halts the loop, drops any pending debounced trigger and waits for
// the loop goroutine to exit. An in-flight sync pass is not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	s.debounce.Cancel()
	close(s.stopCh)
	s.wg.Wait()

	logging.Info("sync scheduler stopped", nil)
}

// IsRunning reports whether the periodic loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// OnStoreEvent wires the scheduler to local store mutations: pass it to
// store.Subscribe. Timer starts are debounced so a start immediately
// followed by corrections syncs once; every other mutation goes straight
// to the throttle gate.
func (s *Scheduler) OnStoreEvent(ctx context.Context) store.Listener {
	return func(event store.Event) {
		switch event.Type {
		case store.EventTimerStarted:
			s.debounce.Schedule(func() { s.trigger(ctx, "timer_start") })
		default:
			s.trigger(ctx, string(event.Type))
		}
	}
}

// TriggerSync requests an immediate sync pass. Returns false when the
// throttle window has not elapsed; the periodic loop will cover the
// skipped work.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	return s.trigger(ctx, "manual")
}

func (s *Scheduler) periodicLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.trigger(ctx, "periodic")
		}
	}
}

// trigger runs one sync pass through the throttle gate.
func (s *Scheduler) trigger(ctx context.Context, source string) bool {
	ran, err := s.throttle.Execute(func() error {
		syncCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		_, err := s.engine.Sync(syncCtx)
		return err
	})
	if !ran {
		logging.Debug("sync trigger throttled",
			map[string]any{"source": source, "wait": s.throttle.TimeUntilNext().String()})
		return false
	}
	if err != nil {
		logging.Error("sync trigger failed", err, map[string]any{"source": source})
		return false
	}
	return true
}
