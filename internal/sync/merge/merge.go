// Package merge reconciles local and remote entity collections by id using
// per-entity modification timestamps, last writer wins.
package merge

import (
	"reflect"

	syncpkg "github.com/khuang/chronosync/internal/sync"
)

// Entity is anything the merge engine can reconcile: id-bearing and
// timestamped. Categories and time entries both qualify.
type Entity interface {
	EntityID() string
	ModifiedAt() string
}

// Resolution tags how a conflicting pair was settled.
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"

	// ResolutionCombined is reserved for field-level combination. No code
	// path produces it today; the tag is kept for forward compatibility.
	ResolutionCombined Resolution = "combined"
)

// Conflict records a pair that shared an id and a timestamp but differed
// in content. Kept for observability; the merged output already contains
// the winner.
type Conflict[T Entity] struct {
	ID         string     `json:"id"`
	Local      T          `json:"local"`
	Remote     T          `json:"remote"`
	Resolution Resolution `json:"resolution"`
}

// Stats counts how the union of ids was split.
type Stats struct {
	LocalOnly  int `json:"localOnly"`
	RemoteOnly int `json:"remoteOnly"`
	Merged     int `json:"merged"` // ids present on both sides
}

// Result is the outcome of merging two collections. Output ordering is
// unspecified; callers must not depend on it.
type Result[T Entity] struct {
	Merged    []T           `json:"merged"`
	Conflicts []Conflict[T] `json:"conflicts"`
	Stats     Stats         `json:"stats"`
}

// Collections merges local and remote by entity id. An id present on one
// side only keeps that side's entity. An id present on both sides keeps
// the one with the strictly newer modification timestamp. On an exact
// timestamp tie, deep-equal pairs are treated as identical; differing
// pairs keep local and record a conflict.
func Collections[T Entity](local, remote []T) Result[T] {
	localByID := make(map[string]T, len(local))
	for _, e := range local {
		localByID[e.EntityID()] = e
	}
	remoteByID := make(map[string]T, len(remote))
	for _, e := range remote {
		remoteByID[e.EntityID()] = e
	}

	result := Result[T]{
		Merged:    make([]T, 0, len(localByID)+len(remoteByID)),
		Conflicts: make([]Conflict[T], 0),
	}

	for id, l := range localByID {
		r, both := remoteByID[id]
		if !both {
			result.Merged = append(result.Merged, l)
			result.Stats.LocalOnly++
			continue
		}

		result.Stats.Merged++

		switch syncpkg.Compare(l.ModifiedAt(), r.ModifiedAt()).Action {
		case syncpkg.ActionUpload:
			// Local strictly newer.
			result.Merged = append(result.Merged, l)
		case syncpkg.ActionDownload:
			// Remote strictly newer.
			result.Merged = append(result.Merged, r)
		default:
			// Exact tie. Identical content is not a conflict; otherwise
			// local wins and the pair is recorded.
			result.Merged = append(result.Merged, l)
			if !reflect.DeepEqual(l, r) {
				result.Conflicts = append(result.Conflicts, Conflict[T]{
					ID:         id,
					Local:      l,
					Remote:     r,
					Resolution: ResolutionLocal,
				})
			}
		}
	}

	for id, r := range remoteByID {
		if _, both := localByID[id]; !both {
			result.Merged = append(result.Merged, r)
			result.Stats.RemoteOnly++
		}
	}

	return result
}
