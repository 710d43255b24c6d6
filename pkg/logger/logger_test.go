package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
)

func TestWriterLoggerEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "info").With(String("component", "orchestrator"))

	l.Info("tick completed", Int("updated", 3), Float64("seconds", 0.25), Error(errors.New("boom")))
	l.Debug("suppressed")

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "tick completed" || entry["component"] != "orchestrator" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["updated"].(float64) != 3 || entry["seconds"].(float64) != 0.25 {
		t.Fatalf("numeric fields lost: %v", entry)
	}
	if entry["error"] != "boom" {
		t.Fatalf("error field lost: %v", entry)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(&Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	l, err := New(&Config{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.Warn("written")
}
