// Package logging provides structured logging for chronosync.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents a log level.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes structured JSON lines.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel Level
}

var (
	globalMu sync.Mutex
	global   *Logger
)

// Init configures the global logger. It replaces any existing instance,
// including the stdout fallback Get installs when a message is logged
// before configuration.
func Init(out io.Writer, minLevel Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = &Logger{out: out, minLevel: minLevel}
}

// InitFile initializes the global logger writing to a size-rotated log file
// as well as stdout.
func InitFile(path string, minLevel Level) {
	rotated := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
	}
	Init(io.MultiWriter(os.Stdout, rotated), minLevel)
}

// Get returns the global logger, installing a stdout fallback on demand.
func Get() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = &Logger{out: os.Stdout, minLevel: LevelInfo}
	}
	return global
}

// entry is the JSON shape of one log line.
type entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Error     string         `json:"error,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

func (l *Logger) write(level Level, message string, err error, context map[string]any) {
	if !l.enabled(level) {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     string(level),
		Message:   message,
		Context:   context,
	}
	if err != nil {
		e.Error = err.Error()
	}

	data, jsonErr := json.Marshal(e)
	if jsonErr != nil {
		log.Printf("failed to marshal log entry: %v", jsonErr)
		return
	}
	fmt.Fprintln(l.out, string(data))
}

func (l *Logger) enabled(level Level) bool {
	ranks := map[Level]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return ranks[level] >= ranks[l.minLevel]
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context map[string]any) {
	l.write(LevelDebug, message, nil, context)
}

// Info logs an info message.
func (l *Logger) Info(message string, context map[string]any) {
	l.write(LevelInfo, message, nil, context)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context map[string]any) {
	l.write(LevelWarn, message, nil, context)
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, context map[string]any) {
	l.write(LevelError, message, err, context)
}

// Convenience functions using the global logger.

func Debug(message string, context map[string]any) {
	Get().Debug(message, context)
}

func Info(message string, context map[string]any) {
	Get().Info(message, context)
}

func Warn(message string, context map[string]any) {
	Get().Warn(message, context)
}

func Error(message string, err error, context map[string]any) {
	Get().Error(message, err, context)
}
