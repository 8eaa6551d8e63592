package stt

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

// Deps carries what the remote engine needs beyond STT configuration.
type Deps struct {
	Bus           *bus.Client
	StatusTimeout time.Duration
	Logger        *slog.Logger
}

// NewEngine builds the engine selected by cfg.Mode.
func NewEngine(cfg config.STTConfig, deps Deps) (Engine, error) {
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	switch cfg.Mode {
	case config.ModeMock:
		return NewMockEngine(cfg.Mock, cfg.Locales), nil
	case config.ModeExec:
		return NewExecEngine(cfg)
	case config.ModeOpenAI:
		return NewOpenAIEngine(cfg), nil
	case config.ModeGoogle:
		return NewGoogleEngine(cfg), nil
	case config.ModeWhisper:
		return NewWhisperEngine(cfg)
	case config.ModeRemote:
		return NewRemoteEngine(deps.Bus, deps.StatusTimeout, log), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
