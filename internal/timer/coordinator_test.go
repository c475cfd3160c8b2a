package timer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/khuang/chronosync/internal/errors"
	"github.com/khuang/chronosync/internal/models"
	"github.com/khuang/chronosync/internal/remote"
)

type fakeRegistry struct {
	mu      sync.Mutex
	doc     []byte
	reads   int
	writes  int
	readErr error
}

func (f *fakeRegistry) ReadJSON(ctx context.Context, name string, v any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return false, f.readErr
	}
	if name != remote.FileActiveTimers || f.doc == nil {
		return false, nil
	}
	return true, json.Unmarshal(f.doc, v)
}

func (f *fakeRegistry) WriteJSON(ctx context.Context, name string, v any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	f.doc = data
	return "file-1", nil
}

func (f *fakeRegistry) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeRegistry) setReadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

func (f *fakeRegistry) seed(t *testing.T, timers map[string]models.ActiveTimerRecord) {
	t.Helper()
	data, err := json.Marshal(registryDoc{Timers: timers})
	if err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	f.doc = data
	f.mu.Unlock()
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	data   []map[string]any
}

func (r *recordingNotifier) Publish(eventType, message string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	r.data = append(r.data, data)
}

func (r *recordingNotifier) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func testCoordinator(reg *fakeRegistry, onRemote RemoteTimerFunc) (*Coordinator, *recordingNotifier) {
	n := &recordingNotifier{}
	c := New(Config{
		Registry:      reg,
		Device:        models.DeviceInfo{ID: "dev-local", Name: "laptop", Platform: "linux"},
		Notifier:      n,
		PollInterval:  time.Hour,
		OnRemoteTimer: onRemote,
	})
	return c, n
}

func TestStartTimerRegistersRecord(t *testing.T) {
	reg := &fakeRegistry{}
	c, _ := testCoordinator(reg, nil)
	ctx := context.Background()

	rec, err := c.StartTimer(ctx, "work", "standup")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if rec.CategoryID != "work" || rec.DeviceID != "dev-local" || rec.Notes != "standup" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ID == "" || rec.StartTime == "" {
		t.Fatal("record missing id or start time")
	}

	got, err := c.FetchActiveTimer(ctx, "work")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got == nil || got.ID != rec.ID {
		t.Fatalf("registry record = %+v, want id %s", got, rec.ID)
	}
}

func TestStartTimerConflictsWhenCategoryBusy(t *testing.T) {
	reg := &fakeRegistry{}
	reg.seed(t, map[string]models.ActiveTimerRecord{
		"work": {ID: "t1", CategoryID: "work", DeviceID: "dev-other", DeviceName: "phone"},
	})
	c, _ := testCoordinator(reg, nil)

	_, err := c.StartTimer(context.Background(), "work", "")
	if !apperrors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestStopTimerRemovesAndReturnsRecord(t *testing.T) {
	reg := &fakeRegistry{}
	c, _ := testCoordinator(reg, nil)
	ctx := context.Background()

	started, err := c.StartTimer(ctx, "work", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	stopped, err := c.StopTimer(ctx, "work")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.ID != started.ID {
		t.Fatalf("stopped %s, started %s", stopped.ID, started.ID)
	}

	if _, err := c.StopTimer(ctx, "work"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found on double stop, got %v", err)
	}
}

func TestCancelTimerIsIdempotent(t *testing.T) {
	reg := &fakeRegistry{}
	c, _ := testCoordinator(reg, nil)
	ctx := context.Background()

	if _, err := c.StartTimer(ctx, "work", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.CancelTimer(ctx, "work"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := c.CancelTimer(ctx, "work"); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if c.HasActiveTimer("work") {
		t.Fatal("snapshot should not contain cancelled timer")
	}
}

func TestPollDetectsRemoteTimerOnce(t *testing.T) {
	reg := &fakeRegistry{}
	var mu sync.Mutex
	var reported []string
	c, n := testCoordinator(reg, func(rec models.ActiveTimerRecord) {
		mu.Lock()
		reported = append(reported, rec.ID)
		mu.Unlock()
	})
	ctx := context.Background()

	remoteRec := models.ActiveTimerRecord{
		ID: "t-remote", CategoryID: "exercise",
		DeviceID: "dev-other", DeviceName: "phone",
	}
	localRec := models.ActiveTimerRecord{
		ID: "t-local", CategoryID: "work", DeviceID: "dev-local",
	}
	reg.seed(t, map[string]models.ActiveTimerRecord{
		"exercise": remoteRec,
		"work":     localRec,
	})

	c.Poll(ctx)
	c.Poll(ctx) // same registry state: no re-report

	mu.Lock()
	got := append([]string(nil), reported...)
	mu.Unlock()
	if len(got) != 1 || got[0] != "t-remote" {
		t.Fatalf("reported = %v, want [t-remote]", got)
	}
	if events := n.seen(); len(events) != 1 || events[0] != "timer.remote_started" {
		t.Fatalf("events = %v", events)
	}

	if !c.HasActiveTimer("exercise") || !c.HasActiveTimer("work") {
		t.Fatal("snapshot missing polled timers")
	}
	if rec := c.TimerForCategory("exercise"); rec == nil || rec.DeviceName != "phone" {
		t.Fatalf("TimerForCategory = %+v", rec)
	}
	if c.HasActiveTimer("sleep") {
		t.Fatal("unexpected timer for idle category")
	}
}

func TestPollQuotaErrorEntersBackoffAndSkipsNextPoll(t *testing.T) {
	reg := &fakeRegistry{}
	c, n := testCoordinator(reg, nil)
	ctx := context.Background()

	reg.setReadErr(errors.New("rate limit exceeded"))
	c.Poll(ctx)

	if events := n.seen(); len(events) != 1 || events[0] != "sync.cooldown" {
		t.Fatalf("events = %v", events)
	}
	n.mu.Lock()
	payload := n.data[0]
	n.mu.Unlock()
	if payload["minutes"] != 2 {
		t.Fatalf("cooldown minutes = %v, want 2", payload["minutes"])
	}
	until, ok := payload["until"].(string)
	if !ok || until == "" {
		t.Fatalf("cooldown payload missing until timestamp: %v", payload)
	}
	if _, err := models.ParseTimestamp(until); err != nil {
		t.Fatalf("until %q does not parse: %v", until, err)
	}
	calls := reg.readCount()

	// First quota error backs off for two minutes; the next poll inside
	// that window must not touch the network.
	c.Poll(ctx)
	if reg.readCount() != calls {
		t.Fatal("poll issued a network call while backed off")
	}
}

func TestPollGenericErrorNotifiesAndKeepsPolling(t *testing.T) {
	reg := &fakeRegistry{}
	c, n := testCoordinator(reg, nil)
	ctx := context.Background()

	reg.setReadErr(errors.New("connection reset"))
	c.Poll(ctx)

	if events := n.seen(); len(events) != 1 || events[0] != "timer.poll_failed" {
		t.Fatalf("events = %v", events)
	}

	// No backoff for generic errors: the next poll goes out, and a
	// success resets the error streak.
	reg.setReadErr(nil)
	reg.seed(t, map[string]models.ActiveTimerRecord{})
	calls := reg.readCount()
	c.Poll(ctx)
	if reg.readCount() != calls+1 {
		t.Fatal("poll should continue after a generic error")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	reg := &fakeRegistry{}
	c, _ := testCoordinator(reg, nil)

	ctx := context.Background()
	c.Start(ctx)
	c.Start(ctx) // idempotent
	c.Stop()
	c.Stop() // safe to call twice
}
