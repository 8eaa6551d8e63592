package stt

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/locale"
	"google.golang.org/api/option"
	speech "google.golang.org/api/speech/v1"
)

// googleEngine uses the Cloud Speech-to-Text v1 REST API. Recognition is
// synchronous so only a final result is produced.
type googleEngine struct {
	cfg  config.STTConfig
	opts []option.ClientOption

	once sync.Once
	svc  *speech.Service
	err  error
}

func NewGoogleEngine(cfg config.STTConfig, opts ...option.ClientOption) Engine {
	clientOpts := []option.ClientOption{}
	if cfg.Google.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.Google.APIKey))
	}
	if cfg.Google.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Google.Endpoint))
	}
	return &googleEngine{cfg: cfg, opts: append(clientOpts, opts...)}
}

func (e *googleEngine) Name() string { return config.ModeGoogle }

func (e *googleEngine) Close() error { return nil }

func (e *googleEngine) service(ctx context.Context) (*speech.Service, error) {
	e.once.Do(func() {
		e.svc, e.err = speech.NewService(ctx, e.opts...)
	})
	return e.svc, e.err
}

func (e *googleEngine) Recognizer(_ context.Context, id string) (Recognizer, error) {
	if !locale.Supported(id, e.cfg.Locales) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocale, id)
	}
	canonical, _ := locale.Canonical(id)
	return &googleRecognizer{engine: e, locale: canonical}, nil
}

type googleRecognizer struct {
	engine *googleEngine
	locale string
}

func (r *googleRecognizer) Locale() string { return r.locale }

func (r *googleRecognizer) Ready(ctx context.Context) bool {
	if strings.TrimSpace(r.engine.cfg.Google.APIKey) == "" {
		return false
	}
	_, err := r.engine.service(ctx)
	return err == nil
}

func (r *googleRecognizer) Submit(ctx context.Context, path string, opts SubmitOptions) (<-chan Result, <-chan error) {
	results := make(chan Result)
	errs := make(chan error, 1)
	go func() {
		defer close(results)
		defer close(errs)

		svc, err := r.engine.service(ctx)
		if err != nil {
			errs <- fmt.Errorf("google speech client: %w", err)
			return
		}
		req, err := r.request(path, opts)
		if err != nil {
			errs <- err
			return
		}
		resp, err := svc.Speech.Recognize(req).Context(ctx).Do()
		if err != nil {
			errs <- fmt.Errorf("google recognize: %w", err)
			return
		}

		var parts []string
		var confidence float64
		for _, res := range resp.Results {
			if len(res.Alternatives) == 0 {
				continue
			}
			best := res.Alternatives[0]
			parts = append(parts, strings.TrimSpace(best.Transcript))
			confidence += best.Confidence
		}
		if len(parts) > 0 {
			confidence /= float64(len(parts))
		}
		send(ctx, results, errs, Result{Text: strings.Join(parts, " "), Confidence: confidence, Final: true})
	}()
	return results, errs
}

func (r *googleRecognizer) request(path string, opts SubmitOptions) (*speech.RecognizeRequest, error) {
	info, err := audio.Probe(path)
	if err != nil {
		return nil, fmt.Errorf("probe audio: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}

	cfg := &speech.RecognitionConfig{
		LanguageCode:               r.locale,
		Model:                      r.engine.cfg.Google.Model,
		EnableAutomaticPunctuation: opts.Hint == HintDictation,
	}
	switch info.Format {
	case audio.FormatWAV:
		cfg.Encoding = "LINEAR16"
		cfg.SampleRateHertz = int64(info.SampleRate)
		cfg.AudioChannelCount = int64(info.Channels)
	case audio.FormatFLAC:
		cfg.Encoding = "FLAC"
	case audio.FormatMP3:
		cfg.Encoding = "MP3"
	case audio.FormatOgg:
		cfg.Encoding = "OGG_OPUS"
	case audio.FormatWebM:
		cfg.Encoding = "WEBM_OPUS"
	default:
		return nil, fmt.Errorf("%w: %s", audio.ErrUnsupportedFormat, path)
	}

	return &speech.RecognizeRequest{
		Config: cfg,
		Audio:  &speech.RecognitionAudio{Content: base64.StdEncoding.EncodeToString(data)},
	}, nil
}
