package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: Warn, Format: JSON, Output: &buf})

	log.Debugf("debug %d", 1)
	log.Infof("info %d", 2)
	log.Warnf("warn %d", 3)
	log.Errorf("error %d", 4)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["level"] != "warn" || entry["message"] != "warn 3" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: Debug, Format: JSON, Output: &buf}).With("sync", "finance")

	log.Debugf("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["sync"] != "finance" {
		t.Fatalf("expected sync field, got %v", entry)
	}
}

func TestNopLogger(t *testing.T) {
	NewNop().Errorf("dropped %s", "silently")
}
