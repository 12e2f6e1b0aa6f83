package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	log := New("info", "json", &buf)
	log.With("run_id", "abc").Info("harvest started", "articles", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}

	if entry["msg"] != "harvest started" || entry["run_id"] != "abc" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	log := New("warn", "text", &buf)
	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message should be filtered at warn level")
	}

	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn message missing")
	}

	log.SetLevel("debug")
	log.Debug("now visible")

	if !strings.Contains(buf.String(), "now visible") {
		t.Error("debug message missing after SetLevel")
	}
}
