// Package sync implements the offline-first synchronization core: the
// sync-direction decision, the auto-sync engine and its supporting types.
package sync

import (
	"strings"

	"github.com/khuang/chronosync/internal/models"
)

// Action is the sync direction decided from two timestamps.
type Action string

const (
	ActionUpload   Action = "upload"
	ActionDownload Action = "download"
	ActionNone     Action = "none"
)

// Decision is the outcome of comparing local and remote dataset
// timestamps.
type Decision struct {
	Action Action `json:"action"`
	Local  string `json:"local,omitempty"`
	Remote string `json:"remote,omitempty"`
}

// Compare decides the sync direction from the local and remote updatedAt
// timestamps. Empty string means absent. Pure function; used by the engine
// and by diagnostic tooling.
func Compare(local, remote string) Decision {
	d := Decision{Local: local, Remote: remote}

	switch {
	case local == "" && remote == "":
		// First use, nothing to sync yet.
		d.Action = ActionNone
	case local == "":
		d.Action = ActionDownload
	case remote == "":
		d.Action = ActionUpload
	case local == remote:
		d.Action = ActionNone
	case newer(local, remote):
		d.Action = ActionUpload
	default:
		d.Action = ActionDownload
	}

	return d
}

// newer reports whether a represents a later instant than b. Timestamps
// that fail to parse fall back to lexicographic order, which matches
// chronological order for same-format RFC 3339 strings, so Compare stays
// total.
func newer(a, b string) bool {
	ta, errA := models.ParseTimestamp(a)
	tb, errB := models.ParseTimestamp(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b) > 0
	}
	return ta.After(tb)
}
