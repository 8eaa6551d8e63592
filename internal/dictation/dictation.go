// Package dictation bridges one transcription request to a recognition engine
// and reports its single terminal outcome.
package dictation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dictate/internal/journal"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"github.com/loqalabs/loqa-dictate/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultLocale is used when a request names no locale.
const DefaultLocale = "en-GB"

// Request is an immutable recognition request.
type Request struct {
	audioPath string
	locale    string
}

func NewRequest(audioPath, locale string) Request {
	if strings.TrimSpace(locale) == "" {
		locale = DefaultLocale
	}
	return Request{audioPath: audioPath, locale: locale}
}

func (r Request) AudioPath() string { return r.audioPath }
func (r Request) Locale() string    { return r.locale }

// State is the lifecycle position of an Outcome.
type State int

const (
	Pending State = iota
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Outcome is the result of a request. Text is set when Completed, Reason when Failed.
type Outcome struct {
	State  State
	Text   string
	Reason string
}

type Adapter struct {
	engine  stt.Engine
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
	journal *journal.Store
	clock   func() time.Time
}

type Option func(*Adapter)

func WithLogger(l *slog.Logger) Option { return func(a *Adapter) { a.logger = l } }

func WithTracer(t trace.Tracer) Option { return func(a *Adapter) { a.tracer = t } }

func WithMetrics(m *telemetry.Metrics) Option { return func(a *Adapter) { a.metrics = m } }

func WithJournal(j *journal.Store) Option { return func(a *Adapter) { a.journal = j } }

func New(engine stt.Engine, opts ...Option) *Adapter {
	a := &Adapter{
		engine: engine,
		logger: slog.New(slog.DiscardHandler),
		tracer: noop.NewTracerProvider().Tracer(""),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(slog.String("component", "dictation"))
	return a
}

// Transcribe runs req to a terminal outcome. It blocks until the engine
// reports a final result or an error; partial results are dropped. A non-nil
// error is always a *Error and the outcome is then Failed.
func (a *Adapter) Transcribe(ctx context.Context, req Request) (Outcome, error) {
	ctx, span := a.tracer.Start(ctx, "dictate.transcribe", trace.WithAttributes(
		attribute.String("locale", req.Locale()),
		attribute.String("engine", a.engine.Name()),
	))
	defer span.End()

	started := a.clock()
	sessionID := uuid.NewString()
	traceID := ""
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	log := a.logger.With(slog.String("session_id", sessionID), slog.String("locale", req.Locale()))

	a.journalSession(ctx, log, sessionID, req)
	a.journalEvent(ctx, log, sessionID, traceID, journal.EventSubmitted, map[string]string{
		"audio_path": req.AudioPath(),
		"locale":     req.Locale(),
		"engine":     a.engine.Name(),
	})

	outcome, err := a.run(ctx, log, req)

	elapsed := a.clock().Sub(started)
	label := Completed.String()
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			label = de.Kind.String()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, label)
		log.Debug("recognition failed", slog.String("error", err.Error()), slog.Duration("elapsed", elapsed))
		a.journalEvent(ctx, log, sessionID, traceID, journal.EventFailed, map[string]string{
			"kind":   label,
			"reason": outcome.Reason,
		})
	} else {
		log.Debug("recognition completed", slog.Int("chars", len(outcome.Text)), slog.Duration("elapsed", elapsed))
		a.journalEvent(ctx, log, sessionID, traceID, journal.EventCompleted, map[string]string{
			"text": outcome.Text,
		})
	}
	a.metrics.Observe(ctx, label, a.engine.Name(), elapsed)
	return outcome, err
}

func (a *Adapter) run(ctx context.Context, log *slog.Logger, req Request) (Outcome, error) {
	rec, err := a.engine.Recognizer(ctx, req.Locale())
	if err != nil {
		if errors.Is(err, stt.ErrUnsupportedLocale) {
			return failed(&Error{Kind: KindUnavailableForLocale, Locale: req.Locale(), Err: err})
		}
		return failed(&Error{Kind: KindNotReady, Locale: req.Locale(), Err: err})
	}
	if !rec.Ready(ctx) {
		return failed(&Error{Kind: KindNotReady, Locale: req.Locale(), Err: stt.ErrNotReady})
	}
	log.Debug("recognizer ready", slog.String("recognizer_locale", rec.Locale()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, errs := rec.Submit(ctx, req.AudioPath(), stt.SubmitOptions{Hint: stt.HintDictation})

	cell := make(chan Outcome, 1)
	var once sync.Once
	resolve := func(o Outcome) { once.Do(func() { cell <- o }) }

	go func() {
		for results != nil || errs != nil {
			select {
			case r, ok := <-results:
				if !ok {
					results = nil
					continue
				}
				if !r.Final {
					continue
				}
				text := strings.TrimSpace(r.Text)
				if text == "" {
					resolve(Outcome{State: Failed, Reason: "recognizer returned an empty transcript"})
				} else {
					resolve(Outcome{State: Completed, Text: text})
				}
				return
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				resolve(Outcome{State: Failed, Reason: err.Error()})
				return
			}
		}
		resolve(Outcome{State: Failed, Reason: "recognizer returned no result"})
	}()

	outcome := <-cell
	if outcome.State == Failed {
		return failed(&Error{
			Kind:   KindRecognitionFailed,
			Locale: req.Locale(),
			Detail: req.AudioPath(),
			Err:    errors.New(outcome.Reason),
		})
	}
	return outcome, nil
}

func failed(err *Error) (Outcome, error) {
	return Outcome{State: Failed, Reason: err.Error()}, err
}

func (a *Adapter) journalSession(ctx context.Context, log *slog.Logger, sessionID string, req Request) {
	err := a.journal.AppendSession(ctx, journal.Session{
		ID:        sessionID,
		AudioPath: req.AudioPath(),
		Locale:    req.Locale(),
		Engine:    a.engine.Name(),
	})
	if err != nil {
		log.Warn("journal session failed", slog.String("error", err.Error()))
	}
}

func (a *Adapter) journalEvent(ctx context.Context, log *slog.Logger, sessionID, traceID, typ string, payload any) {
	if err := a.journal.Record(ctx, sessionID, traceID, typ, payload); err != nil {
		log.Warn("journal event failed", slog.String("type", typ), slog.String("error", err.Error()))
	}
}
