// Package sync tests for the sync-direction decision.
package sync

import "testing"

func TestCompare(t *testing.T) {
	t1 := "2025-01-01T10:00:00.000Z"
	t2 := "2025-01-01T11:00:00.000Z"

	tests := []struct {
		name   string
		local  string
		remote string
		want   Action
	}{
		{"both absent", "", "", ActionNone},
		{"local absent", "", t1, ActionDownload},
		{"remote absent", t1, "", ActionUpload},
		{"equal", t1, t1, ActionNone},
		{"local newer", t2, t1, ActionUpload},
		{"remote newer", t1, t2, ActionDownload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Compare(tt.local, tt.remote)
			if d.Action != tt.want {
				t.Errorf("Compare(%q, %q).Action = %q, want %q", tt.local, tt.remote, d.Action, tt.want)
			}
		})
	}
}

// Compare is total and Compare(x, x) is always none.
func TestCompareReflexive(t *testing.T) {
	values := []string{
		"2025-01-01T10:00:00.000Z",
		"2024-12-31T23:59:59.999Z",
		"garbage",
	}

	for _, x := range values {
		if d := Compare(x, x); d.Action != ActionNone {
			t.Errorf("Compare(%q, %q) = %q, want none", x, x, d.Action)
		}
	}
}

// Mixed precision still orders correctly: the instants are compared, not
// the strings.
func TestCompareMixedPrecision(t *testing.T) {
	local := "2025-01-01T10:00:00Z"
	remote := "2025-01-01T10:00:00.500Z"

	if d := Compare(local, remote); d.Action != ActionDownload {
		t.Errorf("Action = %q, want download", d.Action)
	}
}

// Offsets are normalized before comparison.
func TestCompareOffsets(t *testing.T) {
	local := "2025-01-01T12:00:00.000+02:00" // 10:00 UTC
	remote := "2025-01-01T11:00:00.000Z"

	if d := Compare(local, remote); d.Action != ActionDownload {
		t.Errorf("Action = %q, want download", d.Action)
	}
}

// Unparseable timestamps fall back to lexicographic order so the decision
// is still total.
func TestCompareUnparseable(t *testing.T) {
	if d := Compare("b", "a"); d.Action != ActionUpload {
		t.Errorf("Action = %q, want upload", d.Action)
	}
	if d := Compare("a", "b"); d.Action != ActionDownload {
		t.Errorf("Action = %q, want download", d.Action)
	}
}
