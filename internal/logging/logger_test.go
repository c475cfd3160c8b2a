// Package logging tests.
package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLogger(minLevel Level) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &Logger{out: buf, minLevel: minLevel}, buf
}

func TestLoggerWritesJSONLines(t *testing.T) {
	l, buf := newTestLogger(LevelDebug)

	l.Info("sync completed", map[string]any{"uploaded": 3})

	line := strings.TrimSpace(buf.String())
	var e entry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, line)
	}

	if e.Level != "INFO" {
		t.Errorf("level = %q, want INFO", e.Level)
	}
	if e.Message != "sync completed" {
		t.Errorf("message = %q", e.Message)
	}
	if e.Context["uploaded"] != float64(3) {
		t.Errorf("context uploaded = %v, want 3", e.Context["uploaded"])
	}
	if e.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(LevelWarn)

	l.Debug("not logged", nil)
	l.Info("not logged", nil)
	if buf.Len() != 0 {
		t.Errorf("levels below minimum should be dropped, got %q", buf.String())
	}

	l.Warn("logged", nil)
	l.Error("logged", fmt.Errorf("boom"), nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Errorf("line count = %d, want 2", len(lines))
	}
}

func TestLoggerErrorField(t *testing.T) {
	l, buf := newTestLogger(LevelDebug)

	l.Error("poll failed", fmt.Errorf("quota exceeded"), nil)

	var e entry
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Error != "quota exceeded" {
		t.Errorf("error field = %q", e.Error)
	}
}

func TestInitReplacesGlobalLogger(t *testing.T) {
	defer Init(os.Stdout, LevelInfo)

	first := &bytes.Buffer{}
	Init(first, LevelDebug)
	Info("before", nil)

	second := &bytes.Buffer{}
	Init(second, LevelDebug)
	Info("after", nil)

	if !strings.Contains(first.String(), "before") {
		t.Errorf("first writer missing message: %q", first.String())
	}
	if strings.Contains(second.String(), "before") {
		t.Errorf("second writer saw messages from before reconfiguration")
	}
	if !strings.Contains(second.String(), "after") {
		t.Errorf("reconfigured writer missing message: %q", second.String())
	}
}

// Logging before configuration must not pin the stdout fallback: a later
// InitFile still takes effect and the log file receives messages.
func TestInitFileAfterEarlyLogCall(t *testing.T) {
	defer Init(os.Stdout, LevelInfo)

	Debug("early message before configuration", nil)

	path := filepath.Join(t.TempDir(), "app.log")
	InitFile(path, LevelDebug)
	Error("written after configuration", fmt.Errorf("boom"), nil)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(data), "written after configuration") {
		t.Errorf("log file missing message: %q", string(data))
	}
}
