package dictation

import (
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-dictate/internal/stt"
)

// Kind classifies why a transcription did not produce a transcript.
type Kind int

const (
	KindUsage Kind = iota + 1
	KindUnavailableForLocale
	KindNotReady
	KindRecognitionFailed
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindUnavailableForLocale:
		return "unavailable_for_locale"
	case KindNotReady:
		return "not_ready"
	case KindRecognitionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Error is returned by the adapter and the CLI. Compare kinds with errors.Is
// against the Err* values below.
type Error struct {
	Kind   Kind
	Locale string
	Detail string
	Err    error
}

var (
	ErrUsage                = &Error{Kind: KindUsage}
	ErrUnavailableForLocale = &Error{Kind: KindUnavailableForLocale}
	ErrNotReady             = &Error{Kind: KindNotReady}
	ErrRecognitionFailed    = &Error{Kind: KindRecognitionFailed}
)

func (e *Error) Error() string {
	switch e.Kind {
	case KindUsage:
		if e.Detail == "" {
			return "usage error"
		}
		return e.Detail
	case KindUnavailableForLocale:
		return fmt.Sprintf("recognizer not available for locale %s", e.Locale)
	case KindNotReady:
		msg := fmt.Sprintf("recognizer for locale %s is unavailable", e.Locale)
		if e.Err != nil && !errors.Is(e.Err, stt.ErrNotReady) {
			msg += ": " + e.Err.Error()
		}
		return msg
	case KindRecognitionFailed:
		msg := "failed to convert speech"
		if e.Detail != "" {
			msg += " in file " + e.Detail
		}
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	default:
		return "dictation error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Usage builds a usage error with the given message.
func Usage(format string, args ...any) error {
	return &Error{Kind: KindUsage, Detail: fmt.Sprintf(format, args...)}
}

// ExitCode maps err to the process exit status: 0 on success, 2 for
// recognition errors and 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var de *Error
	if errors.As(err, &de) && de.Kind != KindUsage {
		return 2
	}
	return 1
}
