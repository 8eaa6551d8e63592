package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service exposes a local engine on the bus. Status requests are answered
// inline; recognition runs in its own goroutine, bounded by MaxConcurrency.
type Service struct {
	cfg    config.WorkerConfig
	bus    *bus.Client
	engine Engine
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
	slots  chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	ready  bool
}

func NewService(parent context.Context, cfg config.WorkerConfig, busClient *bus.Client, engine Engine, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		engine: engine,
		logger: log.With(slog.String("component", "stt-service")),
		ctx:    ctx,
		cancel: cancel,
		slots:  make(chan struct{}, limit),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	conn := s.bus.Conn()
	statusSub, err := conn.QueueSubscribe(protocol.SubjectRecognizerStatus, s.cfg.QueueGroup, s.handleStatus)
	if err != nil {
		return fmt.Errorf("subscribe recognizer status: %w", err)
	}
	recognizeSub, err := conn.QueueSubscribe(protocol.SubjectRecognize, s.cfg.QueueGroup, s.handleRecognize)
	if err != nil {
		_ = statusSub.Unsubscribe()
		return fmt.Errorf("subscribe recognize: %w", err)
	}
	if err := conn.Flush(); err != nil {
		_ = statusSub.Unsubscribe()
		_ = recognizeSub.Unsubscribe()
		return fmt.Errorf("flush subscriptions: %w", err)
	}

	s.mu.Lock()
	s.subs = []*nats.Subscription{statusSub, recognizeSub}
	s.ready = true
	s.mu.Unlock()

	s.logger.Info("stt worker started",
		slog.String("engine", s.engine.Name()),
		slog.String("queue_group", s.cfg.QueueGroup),
		slog.Int("max_concurrency", cap(s.slots)))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.ready = false
	s.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	if !s.cfg.Enabled {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Service) handleStatus(msg *nats.Msg) {
	var req protocol.StatusRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode status request", slogError(err))
		s.reply(msg.Reply, protocol.StatusReply{Engine: s.engine.Name(), Error: err.Error()})
		return
	}

	reply := protocol.StatusReply{Engine: s.engine.Name()}
	rec, err := s.engine.Recognizer(s.ctx, req.Locale)
	switch {
	case errors.Is(err, ErrUnsupportedLocale):
	case err != nil:
		reply.Error = err.Error()
	default:
		reply.Available = true
		reply.Ready = rec.Ready(s.ctx)
	}
	s.reply(msg.Reply, reply)
}

func (s *Service) handleRecognize(msg *nats.Msg) {
	var req protocol.RecognizeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode recognize request", slogError(err))
		s.publishTranscript(msg.Reply, protocol.Transcript{Error: "malformed recognize request"})
		return
	}
	if msg.Reply == "" {
		s.logger.Warn("recognize request without reply subject", slog.String("request_id", req.RequestID))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case s.slots <- struct{}{}:
		case <-s.ctx.Done():
			s.publishTranscript(msg.Reply, protocol.Transcript{RequestID: req.RequestID, Error: "worker shutting down"})
			return
		}
		defer func() { <-s.slots }()
		s.recognize(msg.Reply, req)
	}()
}

func (s *Service) recognize(replyTo string, req protocol.RecognizeRequest) {
	log := s.logger.With(slog.String("request_id", req.RequestID), slog.String("locale", req.Locale))
	fail := func(err error) {
		log.Warn("recognition failed", slogError(err))
		s.publishTranscript(replyTo, protocol.Transcript{RequestID: req.RequestID, Error: err.Error()})
	}

	rec, err := s.engine.Recognizer(s.ctx, req.Locale)
	if err != nil {
		fail(err)
		return
	}
	if !rec.Ready(s.ctx) {
		fail(ErrNotReady)
		return
	}

	path, err := writeTempAudio(req.Filename, req.Audio)
	if err != nil {
		fail(err)
		return
	}
	defer os.Remove(path)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	started := time.Now()
	results, errs := rec.Submit(ctx, path, SubmitOptions{Hint: Hint(req.Hint)})
	for results != nil || errs != nil {
		select {
		case r, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			s.publishTranscript(replyTo, protocol.Transcript{
				RequestID:  req.RequestID,
				Text:       r.Text,
				Partial:    !r.Final,
				Confidence: r.Confidence,
			})
			if r.Final {
				log.Info("recognition completed", slog.Duration("elapsed", time.Since(started)))
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fail(err)
			return
		}
	}
	fail(errors.New("recognition ended without a final result"))
}

func writeTempAudio(filename string, data []byte) (string, error) {
	f, err := os.CreateTemp("", "dictate-*"+filepath.Ext(filepath.Base(filename)))
	if err != nil {
		return "", fmt.Errorf("create temp audio: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp audio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp audio: %w", err)
	}
	return f.Name(), nil
}

func (s *Service) reply(subject string, reply protocol.StatusReply) {
	if subject == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal status reply", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish status reply", slogError(err))
	}
}

func (s *Service) publishTranscript(subject string, msg protocol.Transcript) {
	if subject == "" {
		return
	}
	msg.Timestamp = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal transcript", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
