// Package timer coordinates active timers across devices through a
// shared remote registry document. Each device polls the registry to
// learn about timers started elsewhere; starts and stops are
// read-modify-write exchanges against the same document.
package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/khuang/chronosync/internal/errors"
	"github.com/khuang/chronosync/internal/logging"
	"github.com/khuang/chronosync/internal/models"
	"github.com/khuang/chronosync/internal/notify"
	"github.com/khuang/chronosync/internal/remote"
	"github.com/khuang/chronosync/internal/sync/backoff"
	"github.com/khuang/chronosync/internal/uuid"
)

// Registry is the slice of the remote store the coordinator needs.
// Satisfied by *remote.Store.
type Registry interface {
	ReadJSON(ctx context.Context, name string, v any) (bool, error)
	WriteJSON(ctx context.Context, name string, v any) (string, error)
}

// registryDoc is the remote document: one record per category.
type registryDoc struct {
	Timers map[string]models.ActiveTimerRecord `json:"timers"`
}

// RemoteTimerFunc is called once per newly discovered remote timer.
type RemoteTimerFunc func(record models.ActiveTimerRecord)

// Config holds the coordinator's collaborators.
type Config struct {
	Registry      Registry
	Device        models.DeviceInfo
	Notifier      notify.Notifier
	PollInterval  time.Duration // default: 30 seconds
	OnRemoteTimer RemoteTimerFunc
	Clock         func() time.Time // nil means time.Now
}

// Coordinator maintains a local snapshot of all devices' active timers.
type Coordinator struct {
	registry      Registry
	device        models.DeviceInfo
	notifier      notify.Notifier
	backoff       *backoff.Controller
	interval      time.Duration
	onRemoteTimer RemoteTimerFunc
	now           func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu         sync.RWMutex
	isRunning  bool
	inFlight   bool
	cancelPoll context.CancelFunc
	snapshot   map[string]models.ActiveTimerRecord
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		registry:      cfg.Registry,
		device:        cfg.Device,
		notifier:      notifier,
		backoff:       backoff.NewWithClock(now),
		interval:      interval,
		onRemoteTimer: cfg.OnRemoteTimer,
		now:           now,
		stopCh:        make(chan struct{}),
		snapshot:      make(map[string]models.ActiveTimerRecord),
	}
}

// readDoc fetches the registry document. A missing document means no
// timers anywhere, not an error.
func (c *Coordinator) readDoc(ctx context.Context) (registryDoc, error) {
	var doc registryDoc
	found, err := c.registry.ReadJSON(ctx, remote.FileActiveTimers, &doc)
	if err != nil {
		return registryDoc{}, err
	}
	if !found || doc.Timers == nil {
		doc.Timers = make(map[string]models.ActiveTimerRecord)
	}
	return doc, nil
}

func (c *Coordinator) writeDoc(ctx context.Context, doc registryDoc) error {
	_, err := c.registry.WriteJSON(ctx, remote.FileActiveTimers, doc)
	return err
}

// FetchActiveTimers returns all devices' active timers keyed by category.
func (c *Coordinator) FetchActiveTimers(ctx context.Context) (map[string]models.ActiveTimerRecord, error) {
	doc, err := c.readDoc(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, "fetch active timers", err)
	}
	return doc.Timers, nil
}

// FetchActiveTimer returns the active timer for one category, or nil when
// none is running.
func (c *Coordinator) FetchActiveTimer(ctx context.Context, categoryID string) (*models.ActiveTimerRecord, error) {
	timers, err := c.FetchActiveTimers(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := timers[categoryID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// StartTimer registers a timer for the category in the remote registry.
// Exactly one timer may run per category; a second start is a conflict
// regardless of which device owns the first.
func (c *Coordinator) StartTimer(ctx context.Context, categoryID, notes string) (*models.ActiveTimerRecord, error) {
	doc, err := c.readDoc(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, "start timer", err)
	}
	if existing, ok := doc.Timers[categoryID]; ok {
		return nil, errors.New(errors.ErrConflict,
			fmt.Sprintf("a timer for this category is already running on %s", existing.DeviceName))
	}

	rec := models.ActiveTimerRecord{
		ID:         uuid.New(),
		CategoryID: categoryID,
		DeviceID:   c.device.ID,
		DeviceName: c.device.Name,
		Platform:   c.device.Platform,
		StartTime:  models.Timestamp(c.now()),
		Notes:      notes,
	}
	doc.Timers[categoryID] = rec
	if err := c.writeDoc(ctx, doc); err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, "start timer", err)
	}
	return &rec, nil
}

// StopTimer removes the category's registry record and returns it so the
// caller can close the matching local entry. Stopping a timer that is not
// running is a not-found error.
func (c *Coordinator) StopTimer(ctx context.Context, categoryID string) (*models.ActiveTimerRecord, error) {
	doc, err := c.readDoc(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, "stop timer", err)
	}
	rec, ok := doc.Timers[categoryID]
	if !ok {
		return nil, errors.New(errors.ErrNotFound, "no running timer for this category")
	}
	delete(doc.Timers, categoryID)
	if err := c.writeDoc(ctx, doc); err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, "stop timer", err)
	}
	return &rec, nil
}

// CancelTimer removes the category's registry record without reporting
// it. Cancelling an absent timer is a no-op.
func (c *Coordinator) CancelTimer(ctx context.Context, categoryID string) error {
	doc, err := c.readDoc(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrNetwork, "cancel timer", err)
	}
	if _, ok := doc.Timers[categoryID]; !ok {
		return nil
	}
	delete(doc.Timers, categoryID)
	if err := c.writeDoc(ctx, doc); err != nil {
		return errors.Wrap(errors.ErrNetwork, "cancel timer", err)
	}
	return nil
}

// HasActiveTimer reports whether the latest completed poll saw a timer
// for the category.
func (c *Coordinator) HasActiveTimer(categoryID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.snapshot[categoryID]
	return ok
}

// TimerForCategory returns the latest completed poll's record for the
// category, or nil.
func (c *Coordinator) TimerForCategory(categoryID string) *models.ActiveTimerRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.snapshot[categoryID]
	if !ok {
		return nil
	}
	return &rec
}

// Start launches the polling loop.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.pollLoop(ctx)

	logging.Info("active timer polling started",
		map[string]any{"interval_seconds": c.interval.Seconds()})
}

// Stop halts the loop, cancels any in-flight poll and waits for the loop
// goroutine to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	cancel := c.cancelPoll
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(c.stopCh)
	c.wg.Wait()

	logging.Info("active timer polling stopped", nil)
}

func (c *Coordinator) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Poll(ctx)
		}
	}
}

// Poll issues one registry fetch and applies the result. Skipped silently
// while backed off or while a previous poll is still in flight. Never
// returns an error; failures are classified and surfaced as
// notifications so the loop keeps running.
func (c *Coordinator) Poll(ctx context.Context) {
	if c.backoff.IsInBackoff() {
		return
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	pollCtx, cancel := context.WithCancel(ctx)
	c.cancelPoll = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.inFlight = false
		c.cancelPoll = nil
		c.mu.Unlock()
	}()

	timers, err := c.FetchActiveTimers(pollCtx)
	if err != nil {
		if pollCtx.Err() != nil {
			// Cancelled poll: discard, no user-facing noise.
			return
		}
		if backoff.IsQuotaError(err) {
			minutes, _ := c.backoff.Trigger()
			until := models.Timestamp(c.backoff.Until())
			logging.Warn("active timer polling hit rate limit",
				map[string]any{"cooldown_minutes": minutes, "until": until})
			c.notifier.Publish(notify.EventSyncCooldown,
				fmt.Sprintf("rate limited, pausing timer updates for %d minutes", minutes),
				map[string]any{"minutes": minutes, "until": until})
			return
		}
		c.notifier.Publish(notify.EventPollFailed,
			"could not check timers on other devices",
			map[string]any{"error": err.Error()})
		return
	}

	c.backoff.Reset()
	c.apply(timers)
}

// apply swaps in the new snapshot and reports remote timers not seen in
// the previous one. The swap is atomic: readers never observe a
// half-applied poll.
func (c *Coordinator) apply(timers map[string]models.ActiveTimerRecord) {
	c.mu.Lock()
	previous := c.snapshot
	c.snapshot = timers
	c.mu.Unlock()

	if c.onRemoteTimer == nil {
		return
	}

	known := make(map[string]bool, len(previous))
	for _, rec := range previous {
		known[rec.ID] = true
	}
	for _, rec := range timers {
		if rec.DeviceID == c.device.ID || known[rec.ID] {
			continue
		}
		logging.Info("timer started on another device",
			map[string]any{"category_id": rec.CategoryID, "device": rec.DeviceName})
		c.notifier.Publish(notify.EventRemoteTimer,
			fmt.Sprintf("timer started on %s", rec.DeviceName),
			map[string]any{"categoryId": rec.CategoryID, "deviceName": rec.DeviceName})
		c.onRemoteTimer(rec)
	}
}
