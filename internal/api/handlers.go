// Package api exposes the sync engine over a localhost HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"google.golang.org/api/drive/v3"

	"github.com/khuang/chronosync/internal/errors"
	"github.com/khuang/chronosync/internal/logging"
	"github.com/khuang/chronosync/internal/models"
	"github.com/khuang/chronosync/internal/remote"
	"github.com/khuang/chronosync/internal/sync/merge"
	"github.com/khuang/chronosync/internal/sync/retry"
)

// RemoteStore is the slice of the remote adapter the handlers need.
// Satisfied by *remote.Store.
type RemoteStore interface {
	ReadJSON(ctx context.Context, name string, v any) (bool, error)
	WriteJSON(ctx context.Context, name string, v any) (string, error)
	ListFiles(ctx context.Context) ([]*drive.File, error)
	DeleteFile(ctx context.Context, name string) (bool, error)
}

// LocalStore is the slice of the local store the handlers need.
// Satisfied by *store.Store.
type LocalStore interface {
	StartTimer(categoryID, userID, notes string) (*models.TimeEntry, error)
	StopTimer(entryID, notes string) (*models.TimeEntry, error)
	OpenEntry(categoryID string) (*models.TimeEntry, error)
	ListTimeEntries() ([]models.TimeEntry, error)
	ReplaceTimeEntries(entries []models.TimeEntry) error
	ListCategories() ([]models.Category, error)
	ReplaceCategories(cats []models.Category) error
	UpdatedAt() (string, error)
	SetUpdatedAt(ts string) error
}

// SyncTrigger requests an immediate sync pass. Satisfied by
// *scheduler.Scheduler.
type SyncTrigger interface {
	TriggerSync(ctx context.Context) bool
}

// Handler serves the sync API.
type Handler struct {
	store   LocalStore
	remote  RemoteStore
	trigger SyncTrigger
	device  models.DeviceInfo
	retrier *retry.Executor
}

// NewHandler creates a Handler. trigger may be nil when no scheduler is
// running (sync disabled).
func NewHandler(store LocalStore, remoteStore RemoteStore, trigger SyncTrigger, device models.DeviceInfo) *Handler {
	return &Handler{
		store:   store,
		remote:  remoteStore,
		trigger: trigger,
		device:  device,
		retrier: retry.New(retry.Config{
			MaxRetries: 3,
			Retryable:  errors.IsRetryable,
		}),
	}
}

// Routes builds the router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RateLimit(10, 20))

	r.Get("/health", h.health)

	r.Route("/api/v1/timers", func(r chi.Router) {
		r.Post("/start", h.startTimer)
		r.Post("/stop", h.stopTimer)
	})

	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Get("/metadata", h.metadata)
		r.Get("/download", h.download)
		r.Post("/upload", h.upload)
		r.Post("/backup", h.backup)
		r.Post("/trigger", h.triggerSync)
		r.Get("/verify", h.verify)
		r.Delete("/", h.clear)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]any{"status": "ok"})
}

type timerRequest struct {
	CategoryID string `json:"categoryId"`
	EntryID    string `json:"entryId"`
	Notes      string `json:"notes"`
}

// startTimer opens a time entry for the category. The store emits a
// timer-started event, so a running scheduler picks this up through its
// debounced trigger.
func (h *Handler) startTimer(w http.ResponseWriter, r *http.Request) {
	var req timerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CategoryID == "" {
		writeError(w, errors.New(errors.ErrValidation, "categoryId is required"))
		return
	}
	entry, err := h.store.StartTimer(req.CategoryID, "", req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, entry)
}

// stopTimer closes an open entry, addressed by entry id or by the
// category whose timer is running.
func (h *Handler) stopTimer(w http.ResponseWriter, r *http.Request) {
	var req timerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New(errors.ErrValidation, "invalid request body"))
		return
	}
	entryID := req.EntryID
	if entryID == "" {
		if req.CategoryID == "" {
			writeError(w, errors.New(errors.ErrValidation, "entryId or categoryId is required"))
			return
		}
		open, err := h.store.OpenEntry(req.CategoryID)
		if err != nil {
			writeError(w, err)
			return
		}
		if open == nil {
			writeError(w, errors.New(errors.ErrNotFound, "no running timer for this category"))
			return
		}
		entryID = open.ID
	}
	entry, err := h.store.StopTimer(entryID, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, entry)
}

// remoteReady rejects remote-backed requests when the service is running
// without Drive credentials.
func (h *Handler) remoteReady(w http.ResponseWriter) bool {
	if h.remote == nil {
		writeError(w, errors.New(errors.ErrUnauthorized, "sync is not configured"))
		return false
	}
	return true
}

// metadata reports the remote dataset's last-changed timestamp without
// fetching any payload.
func (h *Handler) metadata(w http.ResponseWriter, r *http.Request) {
	if !h.remoteReady(w) {
		return
	}
	var meta models.SyncMetadata
	found, err := h.remote.ReadJSON(r.Context(), remote.FileSyncMetadata, &meta)
	if err != nil {
		writeError(w, errors.Wrap(errors.ErrNetwork, "fetch sync metadata", err))
		return
	}
	writeSuccess(w, map[string]any{
		"updatedAt": meta.UpdatedAt,
		"exists":    found,
	})
}

type downloadResponse struct {
	Categories  []models.Category  `json:"categories"`
	TimeEntries []models.TimeEntry `json:"timeEntries"`
	UpdatedAt   string             `json:"updatedAt"`
	MergeStats  *mergeStats        `json:"mergeStats,omitempty"`
}

type mergeStats struct {
	Categories  merge.Stats `json:"categories"`
	TimeEntries merge.Stats `json:"timeEntries"`
	Conflicts   int         `json:"conflicts"`
}

// download returns the full remote payload. With ?merge=1 the payload is
// reconciled against the local store entity-by-entity and the result is
// written back locally; without it the remote data is returned untouched.
func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	if !h.remoteReady(w) {
		return
	}
	ctx := r.Context()

	var catDoc models.CategoriesDocument
	if _, err := h.remote.ReadJSON(ctx, remote.FileCategories, &catDoc); err != nil {
		writeError(w, errors.Wrap(errors.ErrNetwork, "fetch categories", err))
		return
	}
	var entryDoc models.TimeEntriesDocument
	if _, err := h.remote.ReadJSON(ctx, remote.FileTimeEntries, &entryDoc); err != nil {
		writeError(w, errors.Wrap(errors.ErrNetwork, "fetch time entries", err))
		return
	}

	resp := downloadResponse{
		Categories:  catDoc.Categories,
		TimeEntries: entryDoc.TimeEntries,
		UpdatedAt:   entryDoc.UpdatedAt,
	}
	if resp.Categories == nil {
		resp.Categories = []models.Category{}
	}
	if resp.TimeEntries == nil {
		resp.TimeEntries = []models.TimeEntry{}
	}

	if r.URL.Query().Get("merge") == "1" {
		merged, err := h.mergeDownload(resp.Categories, resp.TimeEntries)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Categories = merged.Categories
		resp.TimeEntries = merged.TimeEntries
		resp.MergeStats = merged.MergeStats
	}

	writeSuccess(w, resp)
}

// mergeDownload reconciles the remote payload with the local store and
// persists the merged result locally.
func (h *Handler) mergeDownload(remoteCats []models.Category, remoteEntries []models.TimeEntry) (*downloadResponse, error) {
	localCats, err := h.store.ListCategories()
	if err != nil {
		return nil, err
	}
	localEntries, err := h.store.ListTimeEntries()
	if err != nil {
		return nil, err
	}

	catResult := merge.Collections(localCats, remoteCats)
	entryResult := merge.Collections(localEntries, remoteEntries)

	if err := h.store.ReplaceCategories(catResult.Merged); err != nil {
		return nil, err
	}
	if err := h.store.ReplaceTimeEntries(entryResult.Merged); err != nil {
		return nil, err
	}

	conflicts := len(catResult.Conflicts) + len(entryResult.Conflicts)
	if conflicts > 0 {
		logging.Warn("merge resolved conflicts in local favor",
			map[string]any{"count": conflicts})
	}

	return &downloadResponse{
		Categories:  catResult.Merged,
		TimeEntries: entryResult.Merged,
		MergeStats: &mergeStats{
			Categories:  catResult.Stats,
			TimeEntries: entryResult.Stats,
			Conflicts:   conflicts,
		},
	}, nil
}

type uploadRequest struct {
	TimeEntries []models.TimeEntry `json:"timeEntries"`
	UpdatedAt   string             `json:"updatedAt"`
}

// upload pushes a time-entries payload to the remote store. Remote writes
// go through the retry executor; auth and validation failures are not
// retried.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	if !h.remoteReady(w) {
		return
	}
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New(errors.ErrValidation, "invalid request body"))
		return
	}
	ts := req.UpdatedAt
	if ts == "" {
		ts = models.Timestamp(time.Now())
	}

	ctx := r.Context()
	fileIDs := make(map[string]string)

	entriesID, err := retry.Do(ctx, h.retrier, func() (string, error) {
		return h.remote.WriteJSON(ctx, remote.FileTimeEntries,
			models.TimeEntriesDocument{TimeEntries: req.TimeEntries, UpdatedAt: ts})
	}, h.logRetry("upload time entries"))
	if err != nil {
		writeError(w, err)
		return
	}
	fileIDs[remote.FileTimeEntries] = entriesID

	metaID, err := retry.Do(ctx, h.retrier, func() (string, error) {
		return h.remote.WriteJSON(ctx, remote.FileSyncMetadata,
			models.SyncMetadata{UpdatedAt: ts, Device: h.device.Name})
	}, h.logRetry("write sync metadata"))
	if err != nil {
		writeError(w, err)
		return
	}
	fileIDs[remote.FileSyncMetadata] = metaID

	if err := h.store.SetUpdatedAt(ts); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]any{"fileIds": fileIDs, "updatedAt": ts})
}

type backupRequest struct {
	Preferences json.RawMessage           `json:"preferences,omitempty"`
	ActiveTimer *models.ActiveTimerRecord `json:"activeTimer,omitempty"`
}

// backup writes a full snapshot of the local store to the remote folder:
// categories, time entries, preferences, the optional running timer, and
// sync metadata last so a complete backup is always newest.
func (h *Handler) backup(w http.ResponseWriter, r *http.Request) {
	if !h.remoteReady(w) {
		return
	}
	var req backupRequest
	if r.Body != nil {
		// An empty body is a valid backup request.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	cats, err := h.store.ListCategories()
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.store.ListTimeEntries()
	if err != nil {
		writeError(w, err)
		return
	}

	ts := models.Timestamp(time.Now())
	ctx := r.Context()
	fileIDs := make(map[string]string)

	docs := []struct {
		name    string
		payload any
	}{
		{remote.FileCategories, models.CategoriesDocument{Categories: cats, UpdatedAt: ts}},
		{remote.FileTimeEntries, models.TimeEntriesDocument{TimeEntries: entries, UpdatedAt: ts}},
		{remote.FilePreferences, preferencesPayload(req.Preferences)},
	}
	if req.ActiveTimer != nil {
		docs = append(docs, struct {
			name    string
			payload any
		}{remote.FileActiveTimers, map[string]any{
			"timers": map[string]models.ActiveTimerRecord{
				req.ActiveTimer.CategoryID: *req.ActiveTimer,
			},
		}})
	}
	docs = append(docs, struct {
		name    string
		payload any
	}{remote.FileSyncMetadata, models.SyncMetadata{UpdatedAt: ts, Device: h.device.Name}})

	for _, doc := range docs {
		doc := doc
		id, err := retry.Do(ctx, h.retrier, func() (string, error) {
			return h.remote.WriteJSON(ctx, doc.name, doc.payload)
		}, h.logRetry("backup "+doc.name))
		if err != nil {
			writeError(w, err)
			return
		}
		fileIDs[doc.name] = id
	}

	if err := h.store.SetUpdatedAt(ts); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]any{"fileIds": fileIDs, "updatedAt": ts})
}

func preferencesPayload(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	return raw
}

// clear deletes every remote document, including the active-timer
// registry. Missing documents are not an error.
func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	if !h.remoteReady(w) {
		return
	}
	ctx := r.Context()
	names := append(remote.ExpectedFiles(), remote.FileActiveTimers)
	deleted := []string{}
	for _, name := range names {
		ok, err := h.remote.DeleteFile(ctx, name)
		if err != nil {
			writeError(w, errors.Wrap(errors.ErrNetwork, "delete "+name, err))
			return
		}
		if ok {
			deleted = append(deleted, name)
		}
	}
	writeSuccess(w, map[string]any{"deleted": deleted})
}

// verify reports which expected remote documents are missing.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	if !h.remoteReady(w) {
		return
	}
	files, err := h.remote.ListFiles(r.Context())
	if err != nil {
		writeError(w, errors.Wrap(errors.ErrNetwork, "list remote files", err))
		return
	}

	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f.Name] = true
	}

	missing := []string{}
	for _, name := range remote.ExpectedFiles() {
		if !present[name] {
			missing = append(missing, name)
		}
	}

	writeSuccess(w, map[string]any{
		"complete": len(missing) == 0,
		"missing":  missing,
		"found":    len(files),
	})
}

// triggerSync requests an immediate sync pass from the scheduler.
func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, errors.New(errors.ErrUnauthorized, "sync is not configured"))
		return
	}
	started := h.trigger.TriggerSync(r.Context())
	writeSuccess(w, map[string]any{"started": started})
}

func (h *Handler) logRetry(op string) func(attempt int, err error) {
	return func(attempt int, err error) {
		logging.Warn("retrying remote write",
			map[string]any{"op": op, "attempt": attempt, "error": err.Error()})
	}
}
