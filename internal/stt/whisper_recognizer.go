//go:build whisper

package stt

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/locale"
)

// whisperEngine runs a whisper.cpp model in process. The model is shared; a
// fresh context is created per submission and processing is serialised.
type whisperEngine struct {
	cfg   config.STTConfig
	model whisper.Model

	mu sync.Mutex
}

func NewWhisperEngine(cfg config.STTConfig) (Engine, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("whisper model_path not configured")
	}
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	return &whisperEngine{cfg: cfg, model: model}, nil
}

func (e *whisperEngine) Name() string { return config.ModeWhisper }

func (e *whisperEngine) Close() error { return e.model.Close() }

func (e *whisperEngine) speaks(language string) bool {
	if !e.model.IsMultilingual() {
		return language == "en"
	}
	return slices.Contains(e.model.Languages(), language)
}

func (e *whisperEngine) Recognizer(_ context.Context, id string) (Recognizer, error) {
	if !locale.Supported(id, e.cfg.Locales) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocale, id)
	}
	canonical, _ := locale.Canonical(id)
	language, _ := locale.Base(canonical)
	if !e.speaks(language) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocale, id)
	}
	return &whisperRecognizer{engine: e, locale: canonical, language: language}, nil
}

type whisperRecognizer struct {
	engine   *whisperEngine
	locale   string
	language string
}

func (r *whisperRecognizer) Locale() string { return r.locale }

func (r *whisperRecognizer) Ready(context.Context) bool { return r.engine.model != nil }

func (r *whisperRecognizer) Submit(ctx context.Context, path string, _ SubmitOptions) (<-chan Result, <-chan error) {
	results := make(chan Result)
	errs := make(chan error, 1)
	go func() {
		defer close(results)
		defer close(errs)

		samples, err := audio.DecodeMono16k(path)
		if err != nil {
			errs <- fmt.Errorf("decode audio: %w", err)
			return
		}

		r.engine.mu.Lock()
		defer r.engine.mu.Unlock()

		wctx, err := r.engine.model.NewContext()
		if err != nil {
			errs <- fmt.Errorf("create whisper context: %w", err)
			return
		}
		if err := wctx.SetLanguage(r.language); err != nil {
			errs <- fmt.Errorf("set whisper language: %w", err)
			return
		}
		if r.engine.cfg.Threads > 0 {
			wctx.SetThreads(uint(r.engine.cfg.Threads))
		}

		var text strings.Builder
		onSegment := func(seg whisper.Segment) {
			text.WriteString(seg.Text)
			select {
			case results <- Result{Text: strings.TrimSpace(text.String())}:
			case <-ctx.Done():
			}
		}
		if err := wctx.Process(samples, nil, onSegment, nil); err != nil {
			errs <- fmt.Errorf("whisper process: %w", err)
			return
		}
		if err := ctx.Err(); err != nil {
			errs <- err
			return
		}

		send(ctx, results, errs, Result{Text: strings.TrimSpace(text.String()), Final: true})
	}()
	return results, errs
}
