package sync

import (
	"context"
	"sync"
	"time"

	"github.com/khuang/chronosync/internal/auth"
	"github.com/khuang/chronosync/internal/errors"
	"github.com/khuang/chronosync/internal/logging"
	"github.com/khuang/chronosync/internal/models"
	"github.com/khuang/chronosync/internal/notify"
	"github.com/khuang/chronosync/internal/remote"
)

// Status is the engine's externally visible state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
)

// Remote is the slice of the remote store the engine needs. Satisfied by
// *remote.Store.
type Remote interface {
	ReadJSON(ctx context.Context, name string, v any) (bool, error)
	WriteJSON(ctx context.Context, name string, v any) (string, error)
}

// LocalStore is the slice of the local store the engine needs. Satisfied
// by *store.Store. ReplaceTimeEntries must not re-trigger sync events.
type LocalStore interface {
	ListTimeEntries() ([]models.TimeEntry, error)
	ReplaceTimeEntries(entries []models.TimeEntry) error
	UpdatedAt() (string, error)
	SetUpdatedAt(ts string) error
}

// EngineConfig holds the engine's collaborators.
type EngineConfig struct {
	Store    LocalStore
	Remote   Remote
	Tokens   auth.TokenProvider
	Notifier notify.Notifier
	Device   models.DeviceInfo
	Clock    func() time.Time // nil means time.Now
}

// Engine performs one sync pass at a time: fetch remote metadata, decide
// a direction, move the time-entries payload. Single-flight per instance;
// independent instances race with last-writer-wins semantics only.
type Engine struct {
	store    LocalStore
	remote   Remote
	tokens   auth.TokenProvider
	notifier notify.Notifier
	device   models.DeviceInfo
	now      func() time.Time

	mu       sync.Mutex
	inFlight bool
	lastSync *time.Time
	lastErr  error
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{
		store:    cfg.Store,
		remote:   cfg.Remote,
		tokens:   cfg.Tokens,
		notifier: notifier,
		device:   cfg.Device,
		now:      now,
	}
}

// Status reports idle or syncing.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight {
		return StatusSyncing
	}
	return StatusIdle
}

// LastSync returns when the last successful sync finished.
func (e *Engine) LastSync() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// LastError returns the most recent sync failure, cleared by the next
// success.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Sync runs one sync pass. It returns false without touching the network
// when there is no access token (not signed in) or another pass is in
// flight. Failures notify the user and return the engine to idle; backoff
// is the active-timer coordinator's concern, not this path's.
func (e *Engine) Sync(ctx context.Context) (bool, error) {
	token, err := e.tokens.AccessToken(ctx)
	if err != nil || token == "" {
		logging.Debug("sync skipped: not signed in", nil)
		return false, nil
	}

	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		logging.Debug("sync already in progress, skipping trigger", nil)
		return false, nil
	}
	e.inFlight = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}()

	if err := e.syncOnce(ctx); err != nil {
		e.mu.Lock()
		e.lastErr = err
		e.mu.Unlock()
		e.notifier.Publish(notify.EventSyncFailed, "sync failed, will retry on the next trigger",
			map[string]any{"error": err.Error()})
		return false, err
	}

	now := e.now()
	e.mu.Lock()
	e.lastSync = &now
	e.lastErr = nil
	e.mu.Unlock()
	return true, nil
}

func (e *Engine) syncOnce(ctx context.Context) error {
	// Lightweight call: metadata only, never the full payload.
	var meta models.SyncMetadata
	found, err := e.remote.ReadJSON(ctx, remote.FileSyncMetadata, &meta)
	if err != nil {
		return errors.Wrap(errors.ErrSyncFailed, "fetch sync metadata", err)
	}

	local, err := e.store.UpdatedAt()
	if err != nil {
		return err
	}
	remoteTS := ""
	if found {
		remoteTS = meta.UpdatedAt
	}

	decision := Compare(local, remoteTS)
	logging.Debug("sync decision", map[string]any{
		"action": string(decision.Action),
		"local":  local,
		"remote": remoteTS,
	})

	switch decision.Action {
	case ActionDownload:
		return e.download(ctx, remoteTS)
	case ActionUpload:
		return e.upload(ctx)
	default:
		return nil
	}
}

// download overwrites the local time entries with the remote payload and
// adopts the remote timestamp. Categories are fixed and not part of the
// lightweight path.
func (e *Engine) download(ctx context.Context, remoteTS string) error {
	var doc models.TimeEntriesDocument
	found, err := e.remote.ReadJSON(ctx, remote.FileTimeEntries, &doc)
	if err != nil {
		return errors.Wrap(errors.ErrSyncFailed, "fetch time entries", err)
	}
	if !found {
		// Metadata exists but the payload doesn't: nothing to apply yet.
		logging.Warn("sync metadata present but time entries document missing", nil)
		return e.store.SetUpdatedAt(remoteTS)
	}

	if err := e.store.ReplaceTimeEntries(doc.TimeEntries); err != nil {
		return err
	}
	if err := e.store.SetUpdatedAt(remoteTS); err != nil {
		return err
	}

	e.notifier.Publish(notify.EventSyncCompleted, "downloaded latest data",
		map[string]any{"entries": len(doc.TimeEntries)})
	return nil
}

// upload pushes the local time entries with a fresh timestamp, then
// records that same timestamp in the metadata document and locally, so
// all three agree.
func (e *Engine) upload(ctx context.Context) error {
	entries, err := e.store.ListTimeEntries()
	if err != nil {
		return err
	}

	ts := models.Timestamp(e.now())
	doc := models.TimeEntriesDocument{TimeEntries: entries, UpdatedAt: ts}
	if _, err := e.remote.WriteJSON(ctx, remote.FileTimeEntries, doc); err != nil {
		return errors.Wrap(errors.ErrSyncFailed, "upload time entries", err)
	}

	meta := models.SyncMetadata{UpdatedAt: ts, Device: e.device.Name}
	if _, err := e.remote.WriteJSON(ctx, remote.FileSyncMetadata, meta); err != nil {
		return errors.Wrap(errors.ErrSyncFailed, "write sync metadata", err)
	}

	if err := e.store.SetUpdatedAt(ts); err != nil {
		return err
	}

	e.notifier.Publish(notify.EventSyncCompleted, "uploaded local changes",
		map[string]any{"entries": len(entries)})
	return nil
}
