package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/capability"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/dictation"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.HTTP = config.HTTPConfig{Bind: "127.0.0.1", Port: 0}
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1
	cfg.STT.Mode = config.ModeMock
	return cfg
}

func startRuntime(t *testing.T, rt *Runtime) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("runtime exited with error: %v", err)
			}
		case <-time.After(15 * time.Second):
			t.Error("runtime did not stop")
		}
	})
	select {
	case <-rt.Started():
	case err := <-done:
		t.Fatalf("runtime failed to start: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not start")
	}
}

func get(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func TestRuntimeServesHealthAndRecognition(t *testing.T) {
	engine := stt.NewMockEngine(config.MockConfig{Transcript: "served by the worker", Ready: true}, []string{"en-GB"})
	rt := New(testConfig(), newLogger(), WithEngine(engine))
	startRuntime(t, rt)

	base := "http://" + rt.Addr()
	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/workers"} {
		if code := get(t, base+path); code != http.StatusOK {
			t.Fatalf("%s returned %d", path, code)
		}
	}

	resp, err := http.Get(base + "/workers")
	if err != nil {
		t.Fatalf("GET /workers: %v", err)
	}
	var workers []capability.WorkerInfo
	err = json.NewDecoder(resp.Body).Decode(&workers)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode workers: %v", err)
	}
	if len(workers) != 1 || workers[0].Engine != "mock" || !workers[0].Healthy {
		t.Fatalf("expected the local mock worker, got %+v", workers)
	}

	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{rt.BusURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	remote := stt.NewRemoteEngine(client, time.Second, newLogger())
	t.Cleanup(func() { _ = remote.Close() })

	outcome, err := dictation.New(remote).Transcribe(context.Background(), dictation.NewRequest(writeAudio(t), ""))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if outcome.Text != "served by the worker" {
		t.Fatalf("unexpected transcript %q", outcome.Text)
	}

	_, err = dictation.New(remote).Transcribe(context.Background(), dictation.NewRequest(writeAudio(t), "de-DE"))
	if dictation.ExitCode(err) != 2 {
		t.Fatalf("expected recognition error for unsupported locale, got %v", err)
	}
}

func TestRuntimeBuildsConfiguredEngine(t *testing.T) {
	cfg := testConfig()
	cfg.STT.Mock = config.MockConfig{Transcript: "from config", Ready: true}
	rt := New(cfg, newLogger())
	startRuntime(t, rt)
	if code := get(t, "http://"+rt.Addr()+"/readyz"); code != http.StatusOK {
		t.Fatalf("readyz returned %d", code)
	}
}

func TestRuntimeRejectsRemoteMode(t *testing.T) {
	cfg := testConfig()
	cfg.STT.Mode = config.ModeRemote
	if err := New(cfg, newLogger()).Start(context.Background()); err == nil {
		t.Fatal("expected remote mode to be rejected")
	}
}
