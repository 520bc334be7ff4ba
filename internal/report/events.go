package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventImport EventType = "import"
	EventChunk  EventType = "chunk"
	EventRow    EventType = "row"
	EventSync   EventType = "sync"
	EventQuery  EventType = "query"
	EventError  EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// ParseLevel maps a config string to an EventLevel, defaulting to info
func ParseLevel(s string) EventLevel {
	level := EventLevel(s)
	if _, ok := levelPriority[level]; ok {
		return level
	}
	return LevelInfo
}

// Event represents a single audit event
type Event struct {
	Timestamp time.Time         `json:"ts"`
	Level     EventLevel        `json:"level"`
	Event     EventType         `json:"event"`
	Source    string            `json:"source,omitempty"`
	Chunk     int               `json:"chunk,omitempty"`
	Row       int               `json:"row,omitempty"`
	Track     string            `json:"track,omitempty"`
	Artist    string            `json:"artist,omitempty"`
	Rows      int               `json:"rows,omitempty"`
	Imported  int               `json:"imported,omitempty"`
	Skipped   int               `json:"skipped,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Duration  int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error     string            `json:"error,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level
// minLevel determines which events are written (e.g., LevelInfo skips LevelDebug)
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s.jsonl", timestamp)
	path := filepath.Join(outputDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogImport logs the outcome of a whole import
func (l *EventLogger) LogImport(source string, rows, imported, skipped int, duration time.Duration) error {
	level := LevelInfo
	if skipped > 0 {
		level = LevelWarning
	}

	return l.Log(&Event{
		Level:    level,
		Event:    EventImport,
		Source:   source,
		Rows:     rows,
		Imported: imported,
		Skipped:  skipped,
		Duration: duration.Milliseconds(),
	})
}

// LogChunk logs one chunk submitted to the store
func (l *EventLogger) LogChunk(chunk, rows, imported int, duration time.Duration, err error) error {
	level := LevelDebug
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:    level,
		Event:    EventChunk,
		Chunk:    chunk,
		Rows:     rows,
		Imported: imported,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
	})
}

// LogRowSkipped logs a row that was not imported
func (l *EventLogger) LogRowSkipped(row int, track, artist, reason string) error {
	return l.Log(&Event{
		Level:  LevelWarning,
		Event:  EventRow,
		Row:    row,
		Track:  track,
		Artist: artist,
		Reason: reason,
	})
}

// LogSync logs a history sync from an external source
func (l *EventLogger) LogSync(source string, since time.Time, fetched int, err error) error {
	level := LevelInfo
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	extra := map[string]string{"fetched": strconv.Itoa(fetched)}
	if !since.IsZero() {
		extra["since"] = since.UTC().Format(time.RFC3339)
	}

	return l.Log(&Event{
		Level:  level,
		Event:  EventSync,
		Source: source,
		Error:  errMsg,
		Extra:  extra,
	})
}

// LogQuery logs an aggregation query
func (l *EventLogger) LogQuery(name string, rows int, duration time.Duration) error {
	return l.Log(&Event{
		Level:    LevelDebug,
		Event:    EventQuery,
		Source:   name,
		Rows:     rows,
		Duration: duration.Milliseconds(),
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, source string, err error) error {
	return l.Log(&Event{
		Level:  LevelError,
		Event:  event,
		Source: source,
		Error:  err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
