package stt

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/locale"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	openAIEventDelta = "transcript.text.delta"
	openAIEventDone  = "transcript.text.done"
)

// openAIEngine transcribes through the OpenAI audio API. Models that support
// streaming report deltas as partial results.
type openAIEngine struct {
	cfg    config.STTConfig
	client openai.Client
}

func NewOpenAIEngine(cfg config.STTConfig, opts ...option.RequestOption) Engine {
	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.OpenAI.APIKey)}
	if cfg.OpenAI.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = openai.AudioModelGPT4oMiniTranscribe
	}
	return &openAIEngine{cfg: cfg, client: openai.NewClient(clientOpts...)}
}

func (e *openAIEngine) Name() string { return config.ModeOpenAI }

func (e *openAIEngine) Close() error { return nil }

func (e *openAIEngine) Recognizer(_ context.Context, id string) (Recognizer, error) {
	if !locale.Supported(id, e.cfg.Locales) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocale, id)
	}
	canonical, _ := locale.Canonical(id)
	language, _ := locale.Base(canonical)
	return &openAIRecognizer{engine: e, locale: canonical, language: language}, nil
}

type openAIRecognizer struct {
	engine   *openAIEngine
	locale   string
	language string
}

func (r *openAIRecognizer) Locale() string { return r.locale }

func (r *openAIRecognizer) Ready(context.Context) bool {
	return strings.TrimSpace(r.engine.cfg.OpenAI.APIKey) != ""
}

func (r *openAIRecognizer) streaming() bool {
	return r.engine.cfg.OpenAI.Model != openai.AudioModelWhisper1
}

func (r *openAIRecognizer) Submit(ctx context.Context, path string, _ SubmitOptions) (<-chan Result, <-chan error) {
	results := make(chan Result)
	errs := make(chan error, 1)
	go func() {
		defer close(results)
		defer close(errs)

		file, err := os.Open(path)
		if err != nil {
			errs <- fmt.Errorf("open audio file: %w", err)
			return
		}
		defer file.Close()

		params := openai.AudioTranscriptionNewParams{
			File:     file,
			Model:    r.engine.cfg.OpenAI.Model,
			Language: openai.String(r.language),
		}

		if !r.streaming() {
			resp, err := r.engine.client.Audio.Transcriptions.New(ctx, params)
			if err != nil {
				errs <- fmt.Errorf("openai transcription: %w", err)
				return
			}
			send(ctx, results, errs, Result{Text: strings.TrimSpace(resp.Text), Final: true})
			return
		}

		stream := r.engine.client.Audio.Transcriptions.NewStreaming(ctx, params)
		defer stream.Close()

		var text strings.Builder
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case openAIEventDelta:
				text.WriteString(event.Delta)
				if !send(ctx, results, errs, Result{Text: text.String()}) {
					return
				}
			case openAIEventDone:
				send(ctx, results, errs, Result{Text: strings.TrimSpace(event.Text), Final: true})
				return
			}
		}
		if err := stream.Err(); err != nil {
			errs <- fmt.Errorf("openai transcription stream: %w", err)
		}
	}()
	return results, errs
}

// send delivers r unless ctx ends first, in which case the context error is
// reported instead.
func send(ctx context.Context, results chan<- Result, errs chan<- error, r Result) bool {
	select {
	case <-ctx.Done():
		errs <- ctx.Err()
		return false
	case results <- r:
		return true
	}
}
