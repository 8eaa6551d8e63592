//go:build !whisper

package stt

import (
	"errors"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// NewWhisperEngine reports that the binary was built without whisper.cpp.
// Build with -tags whisper and the whisper.cpp libraries available to enable it.
func NewWhisperEngine(config.STTConfig) (Engine, error) {
	return nil, errors.New("whisper engine not compiled in; rebuild with -tags whisper")
}
