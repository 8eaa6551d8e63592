package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

type harness struct {
	engine *stt.MockEngine
	calls  int
}

func newHarness(mock config.MockConfig, locales ...string) *harness {
	return &harness{engine: stt.NewMockEngine(mock, locales)}
}

func (h *harness) factory(context.Context, config.Config, *slog.Logger) (stt.Engine, error) {
	h.calls++
	return h.engine, nil
}

func (h *harness) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, &stdout, &stderr, Options{Version: "test", NewEngine: h.factory})
	return code, stdout.String(), stderr.String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dictate.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func assertOneLine(t *testing.T, s string) {
	t.Helper()
	if s == "" || !strings.HasSuffix(s, "\n") || strings.Count(s, "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", s)
	}
}

func TestRunPrintsFinalTranscript(t *testing.T) {
	h := newHarness(config.MockConfig{Transcript: "The quick brown fox.", Ready: true})
	code, stdout, stderr := h.run(t, "memo.wav")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr %q)", code, stderr)
	}
	if stdout != "The quick brown fox.\n" {
		t.Fatalf("unexpected stdout %q", stdout)
	}
	if stderr != "" {
		t.Fatalf("expected empty stderr, got %q", stderr)
	}
	if got := h.engine.Submitted(); len(got) != 1 || got[0] != "memo.wav" {
		t.Fatalf("expected memo.wav submitted, got %v", got)
	}
}

func TestRunNeverPrintsPartials(t *testing.T) {
	h := newHarness(config.MockConfig{Transcript: "final words", Partials: []string{"fin", "final"}, Ready: true})
	code, stdout, _ := h.run(t, "memo.wav")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if stdout != "final words\n" {
		t.Fatalf("expected only the final transcript, got %q", stdout)
	}
}

func TestRunDefaultLocale(t *testing.T) {
	h := newHarness(config.MockConfig{Transcript: "hi", Ready: true})
	if code, _, _ := h.run(t, "memo.wav"); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if got := h.engine.RequestedLocales(); len(got) != 1 || got[0] != "en-GB" {
		t.Fatalf("expected en-GB, got %v", got)
	}
}

func TestRunLocaleFlag(t *testing.T) {
	for _, args := range [][]string{{"-l", "fr-FR", "memo.wav"}, {"--locale", "fr-FR", "memo.wav"}, {"memo.wav", "--locale=fr-FR"}} {
		h := newHarness(config.MockConfig{Transcript: "bonjour", Ready: true}, "fr-FR")
		code, stdout, stderr := h.run(t, args...)
		if code != 0 {
			t.Fatalf("%v: expected exit 0, got %d (%q)", args, code, stderr)
		}
		if stdout != "bonjour\n" {
			t.Fatalf("%v: unexpected stdout %q", args, stdout)
		}
		if got := h.engine.RequestedLocales(); got[0] != "fr-FR" {
			t.Fatalf("%v: expected fr-FR, got %v", args, got)
		}
	}
}

func TestRunUnsupportedLocale(t *testing.T) {
	h := newHarness(config.MockConfig{Transcript: "never", Ready: true}, "en-GB")
	code, stdout, stderr := h.run(t, "-l", "xx-YY", "memo.wav")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if stdout != "" {
		t.Fatalf("expected empty stdout, got %q", stdout)
	}
	assertOneLine(t, stderr)
	if !strings.Contains(stderr, "xx-YY") {
		t.Fatalf("expected locale in diagnostic, got %q", stderr)
	}
}

func TestRunMissingInputFile(t *testing.T) {
	h := newHarness(config.MockConfig{Transcript: "never", Ready: true})
	code, stdout, stderr := h.run(t)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if h.calls != 0 || len(h.engine.RequestedLocales()) != 0 {
		t.Fatal("expected no engine interaction for a usage error")
	}
	if stdout != "" {
		t.Fatalf("expected empty stdout, got %q", stdout)
	}
	assertOneLine(t, stderr)
}

func TestRunTooManyArguments(t *testing.T) {
	h := newHarness(config.MockConfig{Transcript: "never", Ready: true})
	code, _, stderr := h.run(t, "a.wav", "b.wav")
	if code != 1 || h.calls != 0 {
		t.Fatalf("expected usage error without engine, got exit %d calls %d", code, h.calls)
	}
	assertOneLine(t, stderr)
}

func TestRunUnknownFlag(t *testing.T) {
	h := newHarness(config.MockConfig{Transcript: "never", Ready: true})
	code, _, stderr := h.run(t, "--bogus", "memo.wav")
	if code != 1 || h.calls != 0 {
		t.Fatalf("expected usage error without engine, got exit %d calls %d", code, h.calls)
	}
	assertOneLine(t, stderr)
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(config.MockConfig{Transcript: "same every time", Ready: true})
	code1, out1, err1 := h.run(t, "memo.wav")
	code2, out2, err2 := h.run(t, "memo.wav")
	if code1 != code2 || out1 != out2 || err1 != err2 {
		t.Fatalf("expected identical runs, got (%d %q %q) and (%d %q %q)", code1, out1, err1, code2, out2, err2)
	}
}

func TestRunRecognizerNotReady(t *testing.T) {
	h := newHarness(config.MockConfig{Transcript: "never", Ready: false})
	code, stdout, stderr := h.run(t, "memo.wav")
	if code != 2 || stdout != "" {
		t.Fatalf("expected exit 2 and empty stdout, got %d %q", code, stdout)
	}
	assertOneLine(t, stderr)
}

func TestRunRecognitionFailed(t *testing.T) {
	h := newHarness(config.MockConfig{Error: "no speech detected\nsecond line", Ready: true})
	code, stdout, stderr := h.run(t, "memo.wav")
	if code != 2 || stdout != "" {
		t.Fatalf("expected exit 2 and empty stdout, got %d %q", code, stdout)
	}
	assertOneLine(t, stderr)
	if !strings.Contains(stderr, "no speech detected") {
		t.Fatalf("expected engine detail, got %q", stderr)
	}
}

func TestRunEngineConstructionFailure(t *testing.T) {
	var stdout, stderr bytes.Buffer
	factory := func(context.Context, config.Config, *slog.Logger) (stt.Engine, error) {
		return nil, errors.New("model missing")
	}
	code := Run(context.Background(), []string{"memo.wav"}, &stdout, &stderr, Options{NewEngine: factory})
	if code != 2 || stdout.Len() != 0 {
		t.Fatalf("expected exit 2 and empty stdout, got %d %q", code, stdout.String())
	}
	assertOneLine(t, stderr.String())
	if !strings.Contains(stderr.String(), "model missing") {
		t.Fatalf("expected construction cause in diagnostic, got %q", stderr.String())
	}
}

func TestRunVersion(t *testing.T) {
	h := newHarness(config.MockConfig{})
	code, stdout, _ := h.run(t, "--version")
	if code != 0 || stdout != "test\n" {
		t.Fatalf("unexpected version output %d %q", code, stdout)
	}
	if h.calls != 0 {
		t.Fatal("expected no engine for --version")
	}
}

func TestRunMissingExplicitConfig(t *testing.T) {
	h := newHarness(config.MockConfig{Transcript: "never", Ready: true})
	code, stdout, stderr := h.run(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "memo.wav")
	if code != 1 || stdout != "" || h.calls != 0 {
		t.Fatalf("expected config error exit 1, got %d %q calls %d", code, stdout, h.calls)
	}
	assertOneLine(t, stderr)
}

func TestRunWithConfiguredMockEngine(t *testing.T) {
	path := writeConfig(t, `stt:
  mode: mock
  default_locale: en-US
  locales: [en-US]
  mock:
    transcript: "configured transcript"
    ready: true
`)
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"-c", path, "memo.wav"}, &stdout, &stderr, Options{})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (%q)", code, stderr.String())
	}
	if stdout.String() != "configured transcript\n" {
		t.Fatalf("unexpected stdout %q", stdout.String())
	}
}

func TestRunModeFlagOverridesConfig(t *testing.T) {
	path := writeConfig(t, `stt:
  mode: remote
  mock:
    transcript: "from mock"
    ready: true
`)
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"-c", path, "-m", "mock", "memo.wav"}, &stdout, &stderr, Options{})
	if code != 0 || stdout.String() != "from mock\n" {
		t.Fatalf("unexpected result %d %q %q", code, stdout.String(), stderr.String())
	}
}

func TestRunEnvFileFeedsConfig(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("LOQA_STT_MODE=mock\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("LOQA_STT_MODE") })
	path := writeConfig(t, `stt:
  mock:
    transcript: "via dotenv"
    ready: true
`)
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"-c", path, "--env", envPath, "memo.wav"}, &stdout, &stderr, Options{})
	if code != 0 || stdout.String() != "via dotenv\n" {
		t.Fatalf("unexpected result %d %q %q", code, stdout.String(), stderr.String())
	}
}

func TestRunWritesJournalAndMetrics(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")
	metricsPath := filepath.Join(dir, "dictate.prom")
	path := writeConfig(t, `stt:
  mode: mock
  mock:
    transcript: "recorded"
    ready: true
journal:
  retention_mode: persistent
  path: `+dbPath+`
telemetry:
  metrics_file: `+metricsPath+`
`)
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"-c", path, "memo.wav"}, &stdout, &stderr, Options{})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (%q)", code, stderr.String())
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected journal database: %v", err)
	}
	data, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("expected metrics file: %v", err)
	}
	if !strings.Contains(string(data), "dictate_recognitions_total{") || !strings.Contains(string(data), `outcome="completed"`) {
		t.Fatalf("expected completed outcome in metrics, got:\n%s", data)
	}
}

func TestRunVerboseLogsToStderrOnly(t *testing.T) {
	h := newHarness(config.MockConfig{Transcript: "logged", Ready: true})
	code, stdout, stderr := h.run(t, "-v", "memo.wav")
	if code != 0 || stdout != "logged\n" {
		t.Fatalf("unexpected result %d %q", code, stdout)
	}
	if !strings.Contains(stderr, "recognition completed") {
		t.Fatalf("expected debug logs on stderr, got %q", stderr)
	}
}
