package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/locale"
)

// MockEngine is a deterministic engine driven by configuration. It records the
// locales and paths it is asked for so callers can assert on them.
type MockEngine struct {
	cfg     config.MockConfig
	locales []string

	mu        sync.Mutex
	requested []string
	submitted []string
}

func NewMockEngine(cfg config.MockConfig, supported []string) *MockEngine {
	return &MockEngine{cfg: cfg, locales: supported}
}

func (m *MockEngine) Name() string { return config.ModeMock }

func (m *MockEngine) Close() error { return nil }

func (m *MockEngine) Recognizer(_ context.Context, id string) (Recognizer, error) {
	m.mu.Lock()
	m.requested = append(m.requested, id)
	m.mu.Unlock()

	if !locale.Supported(id, m.locales) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocale, id)
	}
	canonical, _ := locale.Canonical(id)
	return &mockRecognizer{engine: m, locale: canonical}, nil
}

// RequestedLocales returns the locales passed to Recognizer, in order.
func (m *MockEngine) RequestedLocales() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requested...)
}

// Submitted returns the audio paths passed to Submit, in order.
func (m *MockEngine) Submitted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.submitted...)
}

type mockRecognizer struct {
	engine *MockEngine
	locale string
}

func (r *mockRecognizer) Locale() string { return r.locale }

func (r *mockRecognizer) Ready(context.Context) bool { return r.engine.cfg.Ready }

func (r *mockRecognizer) Submit(ctx context.Context, path string, _ SubmitOptions) (<-chan Result, <-chan error) {
	r.engine.mu.Lock()
	r.engine.submitted = append(r.engine.submitted, path)
	r.engine.mu.Unlock()

	cfg := r.engine.cfg
	results := make(chan Result)
	errs := make(chan error, 1)
	go func() {
		defer close(results)
		defer close(errs)
		for _, partial := range cfg.Partials {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case results <- Result{Text: partial}:
			}
		}
		if cfg.Error != "" {
			errs <- errors.New(cfg.Error)
			return
		}
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
		case results <- Result{Text: cfg.Transcript, Confidence: 1, Final: true}:
		}
	}()
	return results, errs
}
