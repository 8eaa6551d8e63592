package stt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

func helperCommand() string {
	return fmt.Sprintf("%q -test.run=TestExecHelperProcess --", os.Args[0])
}

func newHelperEngine(t *testing.T, scenario string, locales ...string) Engine {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	t.Setenv("HELPER_SCENARIO", scenario)
	engine, err := NewExecEngine(config.STTConfig{Command: helperCommand(), Locales: locales})
	if err != nil {
		t.Fatalf("new exec engine: %v", err)
	}
	return engine
}

func TestExecEngineStreamsPartialsThenFinal(t *testing.T) {
	engine := newHelperEngine(t, "partials")
	rec, err := engine.Recognizer(context.Background(), "en_GB")
	if err != nil {
		t.Fatalf("recognizer: %v", err)
	}
	if !rec.Ready(context.Background()) {
		t.Fatal("expected helper command to be resolvable")
	}

	results, errs := rec.Submit(context.Background(), "/tmp/sample.wav", SubmitOptions{Hint: HintDictation})
	got, err := collect(t, results, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %+v", got)
	}
	last := got[len(got)-1]
	if !last.Final || last.Text != "hello from en-GB" {
		t.Fatalf("unexpected final result: %+v", last)
	}
	for _, r := range got[:2] {
		if r.Final {
			t.Fatalf("partial flagged final: %+v", r)
		}
	}
}

func TestExecEngineErrorLine(t *testing.T) {
	engine := newHelperEngine(t, "error")
	rec, err := engine.Recognizer(context.Background(), "en-GB")
	if err != nil {
		t.Fatalf("recognizer: %v", err)
	}
	results, errs := rec.Submit(context.Background(), "/tmp/sample.wav", SubmitOptions{})
	_, err = collect(t, results, errs)
	if err == nil || !strings.Contains(err.Error(), "audio unreadable") {
		t.Fatalf("expected reported error, got %v", err)
	}
}

func TestExecEngineNonZeroExit(t *testing.T) {
	engine := newHelperEngine(t, "exit")
	rec, err := engine.Recognizer(context.Background(), "en-GB")
	if err != nil {
		t.Fatalf("recognizer: %v", err)
	}
	results, errs := rec.Submit(context.Background(), "/tmp/sample.wav", SubmitOptions{})
	got, err := collect(t, results, errs)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no results, got %+v", got)
	}
}

func TestExecEngineUnsupportedLocale(t *testing.T) {
	engine := newHelperEngine(t, "partials", "en-GB")
	if _, err := engine.Recognizer(context.Background(), "fr-FR"); !errors.Is(err, ErrUnsupportedLocale) {
		t.Fatalf("expected ErrUnsupportedLocale, got %v", err)
	}
}

func TestExecEngineNotReadyWhenCommandMissing(t *testing.T) {
	engine, err := NewExecEngine(config.STTConfig{Command: "definitely-not-a-real-recognizer --json"})
	if err != nil {
		t.Fatalf("new exec engine: %v", err)
	}
	rec, err := engine.Recognizer(context.Background(), "en-GB")
	if err != nil {
		t.Fatalf("recognizer: %v", err)
	}
	if rec.Ready(context.Background()) {
		t.Fatal("expected missing command to be reported as not ready")
	}
}

func TestNewExecEngineRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecEngine(config.STTConfig{Command: "   "}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

// TestExecHelperProcess is not a real test; it stands in for an external
// recognizer when invoked by the exec engine.
func TestExecHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	language := ""
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--language" {
			language = args[i+1]
		}
	}

	switch os.Getenv("HELPER_SCENARIO") {
	case "partials":
		fmt.Println(`{"text":"hel","final":false}`)
		fmt.Println(`{"text":"hello fr","final":false}`)
		fmt.Printf("{\"text\":\"hello from %s\",\"final\":true,\"confidence\":0.9}\n", language)
	case "error":
		fmt.Println(`{"error":"audio unreadable"}`)
	case "exit":
		fmt.Fprintln(os.Stderr, "boom")
		os.Exit(3)
	}
}
