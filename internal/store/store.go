// Package store provides the local data store: the single source of truth
// for time entries and categories, backed by SQLite.
//
// Mutation methods bump the local dataset timestamp and emit events to
// registered listeners. The bulk Replace operations used by sync downloads
// do neither, so applying remote data never re-triggers a sync.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/khuang/chronosync/internal/errors"
	"github.com/khuang/chronosync/internal/models"
	"github.com/khuang/chronosync/internal/uuid"
)

// Meta keys for the kv table.
const (
	MetaUpdatedAt  = "updated_at"
	MetaDeviceID   = "device_id"
	MetaDeviceName = "device_name"
)

// EventType classifies a store mutation.
type EventType string

const (
	EventTimerStarted    EventType = "timer.started"
	EventTimerStopped    EventType = "timer.stopped"
	EventEntryUpdated    EventType = "entry.updated"
	EventCategoryChanged EventType = "category.changed"
)

// Event describes one mutation. Emitted synchronously to listeners after
// the write commits.
type Event struct {
	Type       EventType
	EntryID    string
	CategoryID string
}

// Listener receives store events.
type Listener func(Event)

// Store is the sqlite-backed local store.
type Store struct {
	db *sql.DB

	mu        sync.RWMutex
	listeners []Listener

	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS time_entries (
	id          TEXT PRIMARY KEY,
	category_id TEXT NOT NULL,
	start_time  TEXT NOT NULL,
	end_time    TEXT NOT NULL DEFAULT '',
	duration    INTEGER NOT NULL DEFAULT 0,
	user_id     TEXT NOT NULL DEFAULT '',
	notes       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_time_entries_category ON time_entries(category_id);
CREATE INDEX IF NOT EXISTS idx_time_entries_open ON time_entries(category_id) WHERE end_time = '';

CREATE TABLE IF NOT EXISTS categories (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	color       TEXT NOT NULL DEFAULT '',
	icon        TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	is_default  INTEGER NOT NULL DEFAULT 0,
	user_id     TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Open opens (and if needed creates) the store under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "chronosync.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(errors.ErrDatabase, "create schema", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM categories").Scan(&count); err != nil {
		return errors.Wrap(errors.ErrDatabase, "count categories", err)
	}
	if count > 0 {
		return nil
	}

	now := models.Timestamp(s.now())
	for _, c := range models.DefaultCategories(now) {
		if err := s.insertCategory(c); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Subscribe registers a listener for store events.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) emit(ev Event) {
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

// markUpdated bumps the local dataset timestamp. Called by every mutation
// method, never by the bulk Replace operations.
func (s *Store) markUpdated() error {
	return s.SetMeta(MetaUpdatedAt, models.Timestamp(s.now()))
}

// StartTimer creates an open time entry for the category and emits
// EventTimerStarted.
func (s *Store) StartTimer(categoryID, userID, notes string) (*models.TimeEntry, error) {
	if open, err := s.OpenEntry(categoryID); err != nil {
		return nil, err
	} else if open != nil {
		return nil, errors.New(errors.ErrConflict,
			fmt.Sprintf("a timer is already running for category %s", categoryID))
	}

	now := models.Timestamp(s.now())
	entry := &models.TimeEntry{
		ID:         uuid.New(),
		CategoryID: categoryID,
		StartTime:  now,
		UserID:     userID,
		Notes:      notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.db.Exec(`INSERT INTO time_entries
		(id, category_id, start_time, end_time, duration, user_id, notes, created_at, updated_at)
		VALUES (?, ?, ?, '', 0, ?, ?, ?, ?)`,
		entry.ID, entry.CategoryID, entry.StartTime, entry.UserID, entry.Notes,
		entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "insert time entry", err)
	}

	if err := s.markUpdated(); err != nil {
		return nil, err
	}
	s.emit(Event{Type: EventTimerStarted, EntryID: entry.ID, CategoryID: categoryID})
	return entry, nil
}

// StopTimer closes the open entry, computing its duration, and emits
// EventTimerStopped.
func (s *Store) StopTimer(entryID, notes string) (*models.TimeEntry, error) {
	entry, err := s.GetTimeEntry(entryID)
	if err != nil {
		return nil, err
	}
	if !entry.IsOpen() {
		return nil, errors.New(errors.ErrConflict, fmt.Sprintf("entry %s is already closed", entryID))
	}

	end := s.now()
	start, err := models.ParseTimestamp(entry.StartTime)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "corrupt start time", err)
	}

	entry.EndTime = models.Timestamp(end)
	entry.Duration = int64(end.Sub(start) / time.Second)
	if entry.Duration < 0 {
		entry.Duration = 0
	}
	if notes != "" {
		entry.Notes = notes
	}
	entry.UpdatedAt = models.Timestamp(s.now())

	_, err = s.db.Exec(`UPDATE time_entries
		SET end_time = ?, duration = ?, notes = ?, updated_at = ? WHERE id = ?`,
		entry.EndTime, entry.Duration, entry.Notes, entry.UpdatedAt, entry.ID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "close time entry", err)
	}

	if err := s.markUpdated(); err != nil {
		return nil, err
	}
	s.emit(Event{Type: EventTimerStopped, EntryID: entry.ID, CategoryID: entry.CategoryID})
	return entry, nil
}

// UpdateEntryNotes edits the notes of an entry. The only edit allowed on a
// closed entry.
func (s *Store) UpdateEntryNotes(entryID, notes string) (*models.TimeEntry, error) {
	entry, err := s.GetTimeEntry(entryID)
	if err != nil {
		return nil, err
	}

	entry.Notes = notes
	entry.UpdatedAt = models.Timestamp(s.now())

	_, err = s.db.Exec(`UPDATE time_entries SET notes = ?, updated_at = ? WHERE id = ?`,
		entry.Notes, entry.UpdatedAt, entry.ID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "update notes", err)
	}

	if err := s.markUpdated(); err != nil {
		return nil, err
	}
	s.emit(Event{Type: EventEntryUpdated, EntryID: entry.ID, CategoryID: entry.CategoryID})
	return entry, nil
}

// GetTimeEntry fetches one entry by id.
func (s *Store) GetTimeEntry(id string) (*models.TimeEntry, error) {
	row := s.db.QueryRow(`SELECT id, category_id, start_time, end_time, duration,
		user_id, notes, created_at, updated_at FROM time_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrNotFound, fmt.Sprintf("time entry %s not found", id))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "get time entry", err)
	}
	return entry, nil
}

// OpenEntry returns the category's open entry, or nil when none is
// running.
func (s *Store) OpenEntry(categoryID string) (*models.TimeEntry, error) {
	row := s.db.QueryRow(`SELECT id, category_id, start_time, end_time, duration,
		user_id, notes, created_at, updated_at FROM time_entries
		WHERE category_id = ? AND end_time = ''`, categoryID)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "get open entry", err)
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.TimeEntry, error) {
	var e models.TimeEntry
	err := row.Scan(&e.ID, &e.CategoryID, &e.StartTime, &e.EndTime, &e.Duration,
		&e.UserID, &e.Notes, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListTimeEntries returns every entry, newest start first.
func (s *Store) ListTimeEntries() ([]models.TimeEntry, error) {
	rows, err := s.db.Query(`SELECT id, category_id, start_time, end_time, duration,
		user_id, notes, created_at, updated_at FROM time_entries ORDER BY start_time DESC`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "list time entries", err)
	}
	defer rows.Close()

	entries := make([]models.TimeEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "scan time entry", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// ReplaceTimeEntries swaps the whole entries table for the given set.
// Used when applying a sync download or restore: it neither bumps the
// dataset timestamp nor emits events.
func (s *Store) ReplaceTimeEntries(entries []models.TimeEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "begin replace", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM time_entries"); err != nil {
		return errors.Wrap(errors.ErrDatabase, "clear time entries", err)
	}
	for _, e := range entries {
		_, err := tx.Exec(`INSERT INTO time_entries
			(id, category_id, start_time, end_time, duration, user_id, notes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.CategoryID, e.StartTime, e.EndTime, e.Duration,
			e.UserID, e.Notes, e.CreatedAt, e.UpdatedAt)
		if err != nil {
			return errors.Wrap(errors.ErrDatabase, "insert time entry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrDatabase, "commit replace", err)
	}
	return nil
}

func (s *Store) insertCategory(c models.Category) error {
	_, err := s.db.Exec(`INSERT INTO categories
		(id, name, color, icon, type, description, is_default, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Color, c.Icon, c.Type, c.Description, boolToInt(c.IsDefault),
		c.UserID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "insert category", err)
	}
	return nil
}

// UpsertCategory creates or updates a category and emits
// EventCategoryChanged.
func (s *Store) UpsertCategory(c models.Category) error {
	c.UpdatedAt = models.Timestamp(s.now())
	if c.CreatedAt == "" {
		c.CreatedAt = c.UpdatedAt
	}

	_, err := s.db.Exec(`INSERT INTO categories
		(id, name, color, icon, type, description, is_default, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, color = excluded.color, icon = excluded.icon,
			type = excluded.type, description = excluded.description,
			is_default = excluded.is_default, updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Color, c.Icon, c.Type, c.Description, boolToInt(c.IsDefault),
		c.UserID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "upsert category", err)
	}

	if err := s.markUpdated(); err != nil {
		return err
	}
	s.emit(Event{Type: EventCategoryChanged, CategoryID: c.ID})
	return nil
}

// ListCategories returns every category, defaults first, then by name.
func (s *Store) ListCategories() ([]models.Category, error) {
	rows, err := s.db.Query(`SELECT id, name, color, icon, type, description,
		is_default, user_id, created_at, updated_at
		FROM categories ORDER BY is_default DESC, name ASC`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "list categories", err)
	}
	defer rows.Close()

	cats := make([]models.Category, 0)
	for rows.Next() {
		var c models.Category
		var isDefault int
		err := rows.Scan(&c.ID, &c.Name, &c.Color, &c.Icon, &c.Type, &c.Description,
			&isDefault, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "scan category", err)
		}
		c.IsDefault = isDefault != 0
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// ReplaceCategories swaps the whole categories table. Bulk operation:
// no timestamp bump, no events.
func (s *Store) ReplaceCategories(cats []models.Category) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "begin replace", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM categories"); err != nil {
		return errors.Wrap(errors.ErrDatabase, "clear categories", err)
	}
	for _, c := range cats {
		_, err := tx.Exec(`INSERT INTO categories
			(id, name, color, icon, type, description, is_default, user_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.Color, c.Icon, c.Type, c.Description, boolToInt(c.IsDefault),
			c.UserID, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return errors.Wrap(errors.ErrDatabase, "insert category", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrDatabase, "commit replace", err)
	}
	return nil
}

// GetMeta reads a kv value; "" when unset.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(errors.ErrDatabase, "get meta", err)
	}
	return value, nil
}

// SetMeta writes a kv value.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "set meta", err)
	}
	return nil
}

// UpdatedAt returns the local dataset timestamp; "" before any mutation
// or sync.
func (s *Store) UpdatedAt() (string, error) {
	return s.GetMeta(MetaUpdatedAt)
}

// SetUpdatedAt pins the local dataset timestamp, used after sync to adopt
// the authoritative value.
func (s *Store) SetUpdatedAt(ts string) error {
	return s.SetMeta(MetaUpdatedAt, ts)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
