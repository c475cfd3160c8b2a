// Package models provides data model definitions for chronosync.
package models

import "time"

// TimeFormat is the wire format for all timestamps. Timestamps travel as
// strings so that documents written by different devices compare bytewise.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Timestamp formats t in the canonical wire format (UTC, millisecond
// precision).
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTimestamp parses a wire-format timestamp. It accepts any RFC 3339
// fractional-second precision, not only the canonical one.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// TimeEntry is a single tracked period of time. An entry with no EndTime is
// "open": its timer is still running. Closed entries are immutable except
// for notes edits.
type TimeEntry struct {
	ID         string `db:"id" json:"id"`
	CategoryID string `db:"category_id" json:"categoryId"`
	StartTime  string `db:"start_time" json:"startTime"`
	EndTime    string `db:"end_time" json:"endTime,omitempty"`
	Duration   int64  `db:"duration" json:"duration,omitempty"` // seconds
	UserID     string `db:"user_id" json:"userId,omitempty"`
	Notes      string `db:"notes" json:"notes,omitempty"`
	CreatedAt  string `db:"created_at" json:"createdAt"`
	UpdatedAt  string `db:"updated_at" json:"updatedAt,omitempty"`
}

// IsOpen reports whether the entry's timer is still running.
func (e *TimeEntry) IsOpen() bool {
	return e.EndTime == ""
}

// EntityID implements merge.Entity.
func (e TimeEntry) EntityID() string {
	return e.ID
}

// ModifiedAt implements merge.Entity. Entries created before the updatedAt
// column existed fall back to their creation time.
func (e TimeEntry) ModifiedAt() string {
	if e.UpdatedAt != "" {
		return e.UpdatedAt
	}
	return e.CreatedAt
}

// Category is a bucket time entries are filed under. The predefined set is
// seeded on first open; user-created categories share the same shape.
type Category struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Color       string `db:"color" json:"color"`
	Icon        string `db:"icon" json:"icon"`
	Type        string `db:"type" json:"type"`
	Description string `db:"description" json:"description,omitempty"`
	IsDefault   bool   `db:"is_default" json:"isDefault"`
	UserID      string `db:"user_id" json:"userId,omitempty"`
	CreatedAt   string `db:"created_at" json:"createdAt"`
	UpdatedAt   string `db:"updated_at" json:"updatedAt"`
}

// EntityID implements merge.Entity.
func (c Category) EntityID() string {
	return c.ID
}

// ModifiedAt implements merge.Entity.
func (c Category) ModifiedAt() string {
	return c.UpdatedAt
}

// ActiveTimerRecord is one running timer in the cross-device registry,
// keyed by category. At most one record exists per category.
type ActiveTimerRecord struct {
	ID         string `json:"id"`
	CategoryID string `json:"categoryId"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	Platform   string `json:"platform"`
	StartTime  string `json:"startTime"`
	Notes      string `json:"notes,omitempty"`
}

// SyncMetadata is the single remote document recording when the
// authoritative remote dataset last changed, and which device wrote it.
type SyncMetadata struct {
	UpdatedAt string `json:"updatedAt"`
	Device    string `json:"device,omitempty"`
}

// DeviceInfo identifies this installation to the timer registry and the
// sync metadata document.
type DeviceInfo struct {
	ID       string `json:"deviceId"`
	Name     string `json:"deviceName"`
	Platform string `json:"platform"`
}

// TimeEntriesDocument is the remote time-entries payload.
type TimeEntriesDocument struct {
	TimeEntries []TimeEntry `json:"timeEntries"`
	UpdatedAt   string      `json:"updatedAt"`
}

// CategoriesDocument is the remote categories payload.
type CategoriesDocument struct {
	Categories []Category `json:"categories"`
	UpdatedAt  string     `json:"updatedAt"`
}

// DefaultCategories returns the predefined category set seeded into a fresh
// local store. IDs are fixed so every device agrees on them.
func DefaultCategories(now string) []Category {
	defs := []struct {
		id, name, color, icon string
	}{
		{"sleep", "Sleep", "#6366f1", "moon"},
		{"work", "Work", "#2563eb", "briefcase"},
		{"exercise", "Exercise", "#16a34a", "dumbbell"},
		{"meals", "Meals", "#f59e0b", "utensils"},
		{"commute", "Commute", "#64748b", "car"},
		{"study", "Study", "#8b5cf6", "book"},
		{"chores", "Chores", "#d97706", "home"},
		{"social", "Social", "#ec4899", "users"},
		{"leisure", "Leisure", "#14b8a6", "gamepad"},
		{"other", "Other", "#71717a", "circle"},
	}

	cats := make([]Category, 0, len(defs))
	for _, d := range defs {
		cats = append(cats, Category{
			ID:        d.id,
			Name:      d.name,
			Color:     d.color,
			Icon:      d.icon,
			Type:      "default",
			IsDefault: true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return cats
}
