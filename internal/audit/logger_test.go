package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := NewLogger(Config{Path: filepath.Join(t.TempDir(), "audit.jsonl")})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	return l
}

func TestLogAndTail(t *testing.T) {
	l := newTestLogger(t)

	for i := 0; i < 5; i++ {
		ok := true
		err := l.Log(Event{
			EventType: EventToolCall,
			Tool:      fmt.Sprintf("tool-%d", i),
			ArgsHash:  HashPayload(map[string]any{"n": i}),
			Success:   &ok,
		})
		if err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	events, err := l.Tail(2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Tool != "tool-3" || events[1].Tool != "tool-4" {
		t.Errorf("tail returned wrong events: %s, %s", events[0].Tool, events[1].Tool)
	}
	if events[0].Timestamp == "" {
		t.Error("timestamp should be stamped on log")
	}
}

func TestRedactionMasksPII(t *testing.T) {
	l := newTestLogger(t)

	err := l.Log(Event{
		EventType: EventSafetyBlock,
		Tool:      "system.execute_command",
		ArgsHash:  HashPayload("rm -rf /home/alice/"),
		Extra: map[string]any{
			"command": "rm -rf /home/alice/ && echo secret=hunter2",
			"contact": "alice@example.com tel 0532 123 45 67",
		},
	})
	if err != nil {
		t.Fatalf("log: %v", err)
	}

	raw, err := os.ReadFile(l.config.Path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(raw)

	if strings.Contains(line, "/home/alice") {
		t.Error("home path segment leaked into audit log")
	}
	if strings.Contains(line, "hunter2") {
		t.Error("secret value leaked into audit log")
	}
	if emailRe := regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-z]{2,}`); emailRe.MatchString(line) {
		t.Error("email address leaked into audit log")
	}
	if !strings.Contains(line, "[PHONE]") {
		t.Error("phone number not masked")
	}
	if !strings.Contains(line, `"tool"`) || !strings.Contains(line, `"args_hash"`) {
		t.Error("tool and args_hash must survive redaction")
	}
	// The hash itself is exempt and must be intact 16-hex.
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("line not valid json: %v", err)
	}
	if h, _ := m["args_hash"].(string); len(h) != 16 {
		t.Errorf("args_hash corrupted by redaction: %q", h)
	}
}

func TestRedactTurkishSecretKeywords(t *testing.T) {
	got := redactString("şifre=gizli123 ve parola: cokgizli")
	if strings.Contains(got, "gizli123") || strings.Contains(got, "cokgizli") {
		t.Errorf("turkish secret assignment not masked: %q", got)
	}
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	l, err := NewLogger(Config{Path: path, MaxBytes: 200, MaxBackups: 2})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	for i := 0; i < 20; i++ {
		if err := l.Log(Event{EventType: EventToolCall, Tool: strings.Repeat("x", 50)}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Error("expected first rotated backup to exist")
	}
	if _, err := os.Stat(path + ".3"); err == nil {
		t.Error("backups beyond max_backups should be dropped")
	}
}

func TestSearchNewestFirst(t *testing.T) {
	l := newTestLogger(t)

	l.Log(Event{EventType: EventToolCall, Tool: "calendar.list_events"})
	l.Log(Event{EventType: EventToolDenied, Tool: "system.execute_command"})
	l.Log(Event{EventType: EventToolCall, Tool: "gmail.search"})

	got, err := l.Search(SearchQuery{EventType: EventToolCall})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tool_call events, got %d", len(got))
	}
	if got[0].Tool != "gmail.search" {
		t.Errorf("expected newest first, got %s", got[0].Tool)
	}

	got, err = l.Search(SearchQuery{Query: "execute_command", Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].EventType != EventToolDenied {
		t.Errorf("substring search failed: %v", got)
	}
}

func TestHashPayloadStable(t *testing.T) {
	a := HashPayload(map[string]any{"title": "ekip sync"})
	b := HashPayload(map[string]any{"title": "ekip sync"})
	if a != b {
		t.Error("hash must be deterministic")
	}
	if len(a) != 16 {
		t.Errorf("expected 16-hex prefix, got %q", a)
	}
}
