package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/capability"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"github.com/loqalabs/loqa-dictate/internal/telemetry"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	telemetry  *telemetry.Telemetry
	embedded   *natsserver.EmbeddedServer
	bus        *bus.Client
	engine     stt.Engine
	worker     *stt.Service
	registry   *capability.Registry
	ready      atomic.Bool
	started    chan struct{}
	addr       atomic.Value
	busURL     atomic.Value
	wg         sync.WaitGroup
}

type Option func(*Runtime)

// WithEngine serves engine instead of building one from cfg.STT.
func WithEngine(engine stt.Engine) Option {
	return func(r *Runtime) { r.engine = engine }
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:     cfg,
		logger:  logger,
		started: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Started is closed once every component is up.
func (r *Runtime) Started() <-chan struct{} { return r.started }

// Addr is the HTTP listen address, available after Started.
func (r *Runtime) Addr() string {
	addr, _ := r.addr.Load().(string)
	return addr
}

// BusURL is the NATS URL the worker is connected to, available after Started.
func (r *Runtime) BusURL() string {
	url, _ := r.busURL.Load().(string)
	return url
}

// Start brings up telemetry, the bus, the worker and the HTTP server, then
// blocks until ctx is done.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.engine == nil && r.cfg.STT.Mode == config.ModeRemote {
		return errors.New("dictated cannot serve stt.mode remote; choose a local engine")
	}

	tel, err := telemetry.Setup(ctx, r.cfg, os.Stderr, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel
	defer r.shutdown()

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	r.busURL.Store(client.Conn().ConnectedUrl())

	if r.engine == nil {
		engine, err := stt.NewEngine(r.cfg.STT, stt.Deps{Logger: r.logger})
		if err != nil {
			return fmt.Errorf("create stt engine: %w", err)
		}
		r.engine = engine
	}

	workerCfg := r.cfg.Worker
	if workerCfg.ID == "" {
		workerCfg.ID = defaultWorkerID()
	}
	r.worker = stt.NewService(ctx, workerCfg, client, r.engine, r.logger)
	if err := r.worker.Start(); err != nil {
		return err
	}
	registry, err := capability.NewRegistry(ctx, workerCfg, r.engine.Name(), r.cfg.STT.Locales, client, r.logger)
	if err != nil {
		return err
	}
	r.registry = registry

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.Handle("/metrics", tel.Handler())
	mux.HandleFunc("/workers", r.handleWorkers)

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port))
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	r.addr.Store(listener.Addr().String())
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	close(r.started)
	r.logger.Info("runtime started",
		slog.String("addr", r.Addr()),
		slog.String("engine", r.engine.Name()),
		slog.String("bus", r.BusURL()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	return nil
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.registry != nil {
		r.registry.Close()
	}
	if r.worker != nil {
		r.worker.Close()
	}
	if r.engine != nil {
		if err := r.engine.Close(); err != nil {
			r.logger.Error("engine close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.embedded.Shutdown()

	if err := r.telemetry.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() && r.worker.Healthy() && r.registry.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(r.registry.Workers()); err != nil {
		r.logger.Warn("encode workers failed", slog.String("error", err.Error()))
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "dictated"
	}
	return host + "-" + uuid.NewString()[:8]
}
