// Package remote maps logical document names to objects in one Drive
// folder: find/read/write/delete/list scoped to that folder, with folder-id
// caching. Operations are single remote calls; retrying is a caller
// concern.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"google.golang.org/api/drive/v3"

	"github.com/khuang/chronosync/internal/errors"
	"github.com/khuang/chronosync/internal/logging"
	"github.com/khuang/chronosync/internal/models"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Logical document names within the backup folder.
const (
	FileCategories   = "categories.json"
	FileTimeEntries  = "time-entries.json"
	FilePreferences  = "preferences.json"
	FileSyncMetadata = "sync-metadata.json"
	FileActiveTimers = "active-timers.json"
)

// ExpectedFiles lists the documents a complete backup contains. The
// active-timers registry is transient and not part of this set.
func ExpectedFiles() []string {
	return []string{FileCategories, FileTimeEntries, FilePreferences, FileSyncMetadata}
}

// API is the slice of the Drive files surface the adapter needs. A thin
// wrapper satisfies it in production; tests substitute a fake.
type API interface {
	List(ctx context.Context, query string) ([]*drive.File, error)
	CreateFolder(ctx context.Context, name string) (*drive.File, error)
	CreateFile(ctx context.Context, name, parentID string, content []byte) (*drive.File, error)
	UpdateFile(ctx context.Context, fileID string, content []byte) (*drive.File, error)
	ReadFile(ctx context.Context, fileID string) ([]byte, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// DriveAPI implements API over a *drive.Service.
type DriveAPI struct {
	svc *drive.Service
}

// NewDriveAPI wraps a Drive service.
func NewDriveAPI(svc *drive.Service) *DriveAPI {
	return &DriveAPI{svc: svc}
}

func (d *DriveAPI) List(ctx context.Context, query string) ([]*drive.File, error) {
	r, err := d.svc.Files.List().
		Q(query).
		Fields("files(id, name, createdTime)").
		PageSize(100).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	return r.Files, nil
}

func (d *DriveAPI) CreateFolder(ctx context.Context, name string) (*drive.File, error) {
	return d.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
	}).Fields("id, name, createdTime").Context(ctx).Do()
}

func (d *DriveAPI) CreateFile(ctx context.Context, name, parentID string, content []byte) (*drive.File, error) {
	return d.svc.Files.Create(&drive.File{
		Name:    name,
		Parents: []string{parentID},
	}).Media(bytes.NewReader(content)).Fields("id, name").Context(ctx).Do()
}

func (d *DriveAPI) UpdateFile(ctx context.Context, fileID string, content []byte) (*drive.File, error) {
	return d.svc.Files.Update(fileID, &drive.File{}).
		Media(bytes.NewReader(content)).
		Fields("id, name").
		Context(ctx).
		Do()
}

func (d *DriveAPI) ReadFile(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := d.svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (d *DriveAPI) DeleteFile(ctx context.Context, fileID string) error {
	return d.svc.Files.Delete(fileID).Context(ctx).Do()
}

// Store is the folder-scoped remote store adapter.
type Store struct {
	api        API
	folderName string
	accountKey string
	cache      *FolderCache
}

// NewStore creates a Store. accountKey scopes the folder cache to the
// credential in use so a different account never reuses a stale id.
func NewStore(api API, folderName, accountKey string, cache *FolderCache) *Store {
	if cache == nil {
		cache = NewFolderCache()
	}
	return &Store{
		api:        api,
		folderName: folderName,
		accountKey: accountKey,
		cache:      cache,
	}
}

// escapeQuery escapes single quotes for Drive query strings.
func escapeQuery(s string) string {
	return strings.ReplaceAll(s, `'`, `\'`)
}

// GetOrCreateFolder resolves the backup folder's id, creating the folder
// if it does not exist. When duplicates exist (created by racing devices),
// the oldest by creation time wins so every device converges on the same
// folder.
func (s *Store) GetOrCreateFolder(ctx context.Context) (string, error) {
	if id, ok := s.cache.Get(s.accountKey); ok {
		return id, nil
	}

	query := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		escapeQuery(s.folderName), folderMimeType)
	folders, err := s.api.List(ctx, query)
	if err != nil {
		return "", err
	}

	if len(folders) > 0 {
		sort.Slice(folders, func(i, j int) bool {
			return olderCreated(folders[i], folders[j])
		})
		if len(folders) > 1 {
			logging.Warn("duplicate backup folders found, using the oldest", map[string]any{
				"folder": s.folderName,
				"count":  len(folders),
				"chosen": folders[0].Id,
			})
		}
		s.cache.Put(s.accountKey, folders[0].Id)
		return folders[0].Id, nil
	}

	created, err := s.api.CreateFolder(ctx, s.folderName)
	if err != nil {
		return "", err
	}
	if created == nil || created.Id == "" {
		return "", errors.New(errors.ErrCreateFailed, "folder create returned no id")
	}

	logging.Info("created backup folder", map[string]any{
		"folder": s.folderName,
		"id":     created.Id,
	})
	s.cache.Put(s.accountKey, created.Id)
	return created.Id, nil
}

// olderCreated orders files by creation time, oldest first. Ids break ties
// so the order is deterministic even with equal timestamps.
func olderCreated(a, b *drive.File) bool {
	ta, errA := models.ParseTimestamp(a.CreatedTime)
	tb, errB := models.ParseTimestamp(b.CreatedTime)
	if errA != nil || errB != nil {
		if a.CreatedTime != b.CreatedTime {
			return a.CreatedTime < b.CreatedTime
		}
		return a.Id < b.Id
	}
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return a.Id < b.Id
}

// FindFile returns the id of the named file within the folder, or "" when
// no such file exists.
func (s *Store) FindFile(ctx context.Context, name string) (string, error) {
	folderID, err := s.GetOrCreateFolder(ctx)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escapeQuery(name), folderID)
	files, err := s.api.List(ctx, query)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}
	return files[0].Id, nil
}

// ReadJSON finds and decodes the named document into v. The second return
// is false when the document does not exist; that is not an error.
func (s *Store) ReadJSON(ctx context.Context, name string, v any) (bool, error) {
	fileID, err := s.FindFile(ctx, name)
	if err != nil {
		return false, err
	}
	if fileID == "" {
		return false, nil
	}

	data, err := s.api.ReadFile(ctx, fileID)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errors.Wrap(errors.ErrValidation, fmt.Sprintf("malformed document %s", name), err)
	}
	return true, nil
}

// WriteJSON encodes v into the named document, overwriting an existing
// file or creating a new one parented to the folder. Returns the file id.
func (s *Store) WriteJSON(ctx context.Context, name string, v any) (string, error) {
	content, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(errors.ErrValidation, fmt.Sprintf("encode document %s", name), err)
	}

	folderID, err := s.GetOrCreateFolder(ctx)
	if err != nil {
		return "", err
	}

	fileID, err := s.FindFile(ctx, name)
	if err != nil {
		return "", err
	}

	if fileID != "" {
		if _, err := s.api.UpdateFile(ctx, fileID, content); err != nil {
			return "", err
		}
		return fileID, nil
	}

	created, err := s.api.CreateFile(ctx, name, folderID, content)
	if err != nil {
		return "", err
	}
	if created == nil || created.Id == "" {
		return "", errors.New(errors.ErrCreateFailed, fmt.Sprintf("create of %s returned no id", name))
	}
	return created.Id, nil
}

// ListFiles returns all files in the folder. The result is empty, never
// nil, when the folder has no files.
func (s *Store) ListFiles(ctx context.Context) ([]*drive.File, error) {
	folderID, err := s.GetOrCreateFolder(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
	files, err := s.api.List(ctx, query)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []*drive.File{}
	}
	return files, nil
}

// DeleteFile removes the named file. Returns false when no matching file
// existed; that is not an error.
func (s *Store) DeleteFile(ctx context.Context, name string) (bool, error) {
	fileID, err := s.FindFile(ctx, name)
	if err != nil {
		return false, err
	}
	if fileID == "" {
		return false, nil
	}

	if err := s.api.DeleteFile(ctx, fileID); err != nil {
		return false, err
	}
	return true, nil
}
