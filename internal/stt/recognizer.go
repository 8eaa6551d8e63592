// Package stt contains the speech recognition engines the dictation adapter can
// drive, and the worker service that exposes a local engine over the bus.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrUnsupportedLocale is returned by Engine.Recognizer when no recognizer
	// exists for the requested locale.
	ErrUnsupportedLocale = errors.New("recognizer not available for locale")
	// ErrNotReady is returned when a recognizer exists but cannot take work.
	ErrNotReady = errors.New("recognizer is unavailable")
)

// Hint describes the kind of speech in a request.
type Hint string

const (
	HintUnspecified Hint = ""
	HintDictation   Hint = "dictation"
)

// Result is one hypothesis produced by a recognizer. Exactly one Result per
// submission has Final set, and it is the last value on the stream.
type Result struct {
	Text       string
	Confidence float64
	Final      bool
}

// SubmitOptions tune a single submission.
type SubmitOptions struct {
	Hint Hint
}

// Engine creates recognizers for a locale.
type Engine interface {
	Recognizer(ctx context.Context, locale string) (Recognizer, error)
	Name() string
	Close() error
}

// Recognizer transcribes audio for one locale.
type Recognizer interface {
	Locale() string
	Ready(ctx context.Context) bool
	// Submit starts recognition of the audio file at path. The result channel
	// yields zero or more partial results followed by one final result; the
	// error channel yields at most one error. Both channels are closed when the
	// submission ends.
	Submit(ctx context.Context, path string, opts SubmitOptions) (<-chan Result, <-chan error)
}
