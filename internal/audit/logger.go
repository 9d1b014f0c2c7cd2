// Package audit provides an append-only JSONL audit log with PII redaction
// and size-based rotation. Every executed tool, permission decision, and
// safety block produces exactly one record before the turn returns.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Defaults for log rotation.
const (
	DefaultMaxBytes   = 50 << 20 // 50 MiB
	DefaultMaxBackups = 5
)

// Config configures the audit logger.
type Config struct {
	// Path is the JSONL file location. Parent directories are created.
	Path string `yaml:"path"`

	// MaxBytes triggers rotation when the file grows past it (default 50 MiB).
	MaxBytes int64 `yaml:"max_bytes"`

	// MaxBackups bounds the number of rotated files kept (default 5).
	MaxBackups int `yaml:"max_backups"`

	// Redact enables the PII redaction pass (default true; set RedactOff to
	// disable explicitly).
	RedactOff bool `yaml:"redact_off"`
}

// Logger writes audit events as compact JSON lines. Writes and rotation
// hold a process-wide mutex so concurrent turns interleave whole lines.
type Logger struct {
	config Config
}

// writeMu serializes all audit writes and rotations in the process.
var writeMu sync.Mutex

// NewLogger creates an audit logger for the given config.
func NewLogger(config Config) (*Logger, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultMaxBytes
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = DefaultMaxBackups
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &Logger{config: config}, nil
}

// Log appends one event. The timestamp is stamped if absent; string fields
// pass through redaction unless disabled by config.
func (l *Logger) Log(event Event) error {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	line, err := l.encode(event)
	if err != nil {
		return err
	}

	writeMu.Lock()
	defer writeMu.Unlock()

	if err := l.rotateIfNeeded(); err != nil {
		return err
	}

	f, err := os.OpenFile(l.config.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// encode serializes an event to a compact JSON line, applying redaction to
// string fields via a map round trip so nested Extra values are covered.
func (l *Logger) encode(event Event) ([]byte, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event: %w", err)
	}
	if l.config.RedactOff {
		return raw, nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode audit event: %w", err)
	}
	for k, v := range m {
		m[k] = RedactValue(k, v)
	}
	return json.Marshal(m)
}

// rotateIfNeeded rotates the log when it exceeds MaxBytes:
// path.1 .. path.N shift up by one, the oldest is dropped, and the current
// file becomes path.1. Caller holds writeMu.
func (l *Logger) rotateIfNeeded() error {
	info, err := os.Stat(l.config.Path)
	if err != nil || info.Size() < l.config.MaxBytes {
		return nil
	}

	oldest := fmt.Sprintf("%s.%d", l.config.Path, l.config.MaxBackups)
	os.Remove(oldest)
	for i := l.config.MaxBackups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", l.config.Path, i)
		to := fmt.Sprintf("%s.%d", l.config.Path, i+1)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, to); err != nil {
				return fmt.Errorf("rotate audit backup: %w", err)
			}
		}
	}
	if err := os.Rename(l.config.Path, l.config.Path+".1"); err != nil {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	return nil
}

// Tail returns the newest n events, oldest first within the returned slice.
func (l *Logger) Tail(n int) ([]Event, error) {
	events, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// SearchQuery filters Search results. Zero values match everything.
type SearchQuery struct {
	// Query is a substring match against the serialized event.
	Query string
	// EventType restricts results to one type.
	EventType EventType
	// Since keeps events newer than this duration.
	Since time.Duration
	// Limit bounds the result count (0 means no bound).
	Limit int
}

// Search scans the log newest-first and returns matching events.
func (l *Logger) Search(q SearchQuery) ([]Event, error) {
	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	cutoff := time.Time{}
	if q.Since > 0 {
		cutoff = time.Now().UTC().Add(-q.Since)
	}

	var out []Event
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if q.EventType != "" && ev.EventType != q.EventType {
			continue
		}
		if !cutoff.IsZero() {
			ts, err := time.Parse(time.RFC3339, ev.Timestamp)
			if err != nil || ts.Before(cutoff) {
				continue
			}
		}
		if q.Query != "" {
			raw, _ := json.Marshal(ev)
			if !strings.Contains(string(raw), q.Query) {
				continue
			}
		}
		out = append(out, ev)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// readAll parses every line of the current log file. Corrupt lines are
// skipped rather than failing the whole read.
func (l *Logger) readAll() ([]Event, error) {
	writeMu.Lock()
	defer writeMu.Unlock()

	f, err := os.Open(l.config.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}
