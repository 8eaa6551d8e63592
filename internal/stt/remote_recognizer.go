package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/locale"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/nats-io/nats.go"
)

// remoteEngine forwards recognition to a dictated worker over NATS. A nil bus
// client yields recognizers that are never ready.
type remoteEngine struct {
	bus           *bus.Client
	statusTimeout time.Duration
	log           *slog.Logger
}

func NewRemoteEngine(client *bus.Client, statusTimeout time.Duration, log *slog.Logger) Engine {
	if statusTimeout <= 0 {
		statusTimeout = 2 * time.Second
	}
	return &remoteEngine{bus: client, statusTimeout: statusTimeout, log: log.With(slog.String("component", "stt.remote"))}
}

func (e *remoteEngine) Name() string { return config.ModeRemote }

func (e *remoteEngine) Close() error {
	e.bus.Close()
	return nil
}

func (e *remoteEngine) status(ctx context.Context, id string) (protocol.StatusReply, error) {
	if !e.bus.Healthy() {
		return protocol.StatusReply{}, errors.New("bus not connected")
	}
	payload, err := json.Marshal(protocol.StatusRequest{Locale: id})
	if err != nil {
		return protocol.StatusReply{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.statusTimeout)
	defer cancel()
	msg, err := e.bus.Conn().RequestWithContext(ctx, protocol.SubjectRecognizerStatus, payload)
	if err != nil {
		return protocol.StatusReply{}, fmt.Errorf("recognizer status: %w", err)
	}
	var reply protocol.StatusReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return protocol.StatusReply{}, fmt.Errorf("decode status reply: %w", err)
	}
	return reply, nil
}

func (e *remoteEngine) Recognizer(ctx context.Context, id string) (Recognizer, error) {
	canonical, err := locale.Canonical(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocale, id)
	}
	reply, err := e.status(ctx, canonical)
	if err != nil {
		// Nobody answered, so the locale cannot be ruled out. The recognizer
		// reports itself as not ready instead.
		e.log.Debug("worker status unavailable", slog.String("error", err.Error()))
		return &remoteRecognizer{engine: e, locale: canonical}, nil
	}
	if reply.Error != "" {
		e.log.Debug("worker reported a fault", slog.String("error", reply.Error))
		return &remoteRecognizer{engine: e, locale: canonical}, nil
	}
	if !reply.Available {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocale, canonical)
	}
	return &remoteRecognizer{engine: e, locale: canonical}, nil
}

type remoteRecognizer struct {
	engine *remoteEngine
	locale string
}

func (r *remoteRecognizer) Locale() string { return r.locale }

func (r *remoteRecognizer) Ready(ctx context.Context) bool {
	reply, err := r.engine.status(ctx, r.locale)
	return err == nil && reply.Available && reply.Ready
}

func (r *remoteRecognizer) Submit(ctx context.Context, path string, opts SubmitOptions) (<-chan Result, <-chan error) {
	results := make(chan Result)
	errs := make(chan error, 1)
	go func() {
		defer close(results)
		defer close(errs)

		if !r.engine.bus.Healthy() {
			errs <- ErrNotReady
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			errs <- fmt.Errorf("read audio file: %w", err)
			return
		}
		req := protocol.RecognizeRequest{
			RequestID: uuid.NewString(),
			Locale:    r.locale,
			Filename:  filepath.Base(path),
			Audio:     data,
			Hint:      string(opts.Hint),
		}
		payload, err := json.Marshal(req)
		if err != nil {
			errs <- err
			return
		}
		if limit := r.engine.bus.MaxPayload(); int64(len(payload)) > limit {
			errs <- fmt.Errorf("audio file too large for bus: %d bytes encoded, limit %d", len(payload), limit)
			return
		}

		conn := r.engine.bus.Conn()
		inbox := conn.NewRespInbox()
		sub, err := conn.SubscribeSync(inbox)
		if err != nil {
			errs <- fmt.Errorf("subscribe transcript inbox: %w", err)
			return
		}
		defer func() { _ = sub.Unsubscribe() }()

		if err := conn.PublishMsg(&nats.Msg{Subject: protocol.SubjectRecognize, Reply: inbox, Data: payload}); err != nil {
			errs <- fmt.Errorf("publish recognize request: %w", err)
			return
		}
		r.engine.log.Debug("recognition forwarded",
			slog.String("request_id", req.RequestID),
			slog.String("locale", r.locale),
			slog.Int("bytes", len(data)))

		for {
			msg, err := sub.NextMsgWithContext(ctx)
			if err != nil {
				errs <- fmt.Errorf("await transcript: %w", err)
				return
			}
			var tr protocol.Transcript
			if err := json.Unmarshal(msg.Data, &tr); err != nil {
				errs <- fmt.Errorf("decode transcript: %w", err)
				return
			}
			if tr.RequestID != req.RequestID {
				continue
			}
			if tr.Error != "" {
				errs <- errors.New(tr.Error)
				return
			}
			if !send(ctx, results, errs, Result{Text: tr.Text, Confidence: tr.Confidence, Final: !tr.Partial}) {
				return
			}
			if !tr.Partial {
				return
			}
		}
	}()
	return results, errs
}
