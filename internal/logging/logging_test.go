package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	lvl, on, err := ParseLevel("WARN")
	if err != nil || !on || lvl != slog.LevelWarn {
		t.Fatalf("unexpected result: %v %v %v", lvl, on, err)
	}
	if _, on, err := ParseLevel(""); err != nil || on {
		t.Fatalf("expected empty level to mean off, got on=%v err=%v", on, err)
	}
	if _, _, err := ParseLevel("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestCLILoggerOffWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewCLI(&buf, LevelOff, false)
	if err != nil {
		t.Fatalf("new cli logger: %v", err)
	}
	logger.Error("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestCLILoggerDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewCLI(&buf, "debug", false)
	if err != nil {
		t.Fatalf("new cli logger: %v", err)
	}
	logger.Debug("recognizer created", slog.String("locale", "en-GB"))
	out := buf.String()
	if !strings.Contains(out, "recognizer created") || !strings.Contains(out, "locale=en-GB") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestDaemonLoggerIsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewDaemon(&buf, "")
	if err != nil {
		t.Fatalf("new daemon logger: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("runtime started", slog.String("addr", ":8080"))
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected a single JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "runtime started" || rec["addr"] != ":8080" {
		t.Fatalf("unexpected record %v", rec)
	}
}
