// Package capability tracks which dictated workers are on the bus and what they
// can recognise. Each worker announces its engine and locales and then sends
// heartbeats; a worker that misses heartbeats is marked unhealthy.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	SubjectAnnounce        = "stt.worker.announce"
	SubjectHeartbeatPrefix = "stt.worker.heartbeat"
)

// WorkerInfo is the registry's view of one worker.
type WorkerInfo struct {
	ID       string    `json:"id"`
	Engine   string    `json:"engine"`
	Locales  []string  `json:"locales,omitempty"`
	LastSeen time.Time `json:"last_seen"`
	Healthy  bool      `json:"healthy"`
}

type announceMessage struct {
	WorkerID  string    `json:"worker_id"`
	Engine    string    `json:"engine"`
	Locales   []string  `json:"locales,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type heartbeatMessage struct {
	WorkerID  string    `json:"worker_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Registry struct {
	cfg     config.WorkerConfig
	self    announceMessage
	log     *slog.Logger
	bus     *bus.Client
	mu      sync.RWMutex
	workers map[string]*WorkerInfo
	cancel  context.CancelFunc
	subs    []*nats.Subscription
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewRegistry subscribes to worker announcements and, when the local worker is
// enabled, announces it as engine serving locales (empty means any).
func NewRegistry(ctx context.Context, cfg config.WorkerConfig, engine string, locales []string, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:     cfg,
		self:    announceMessage{WorkerID: cfg.ID, Engine: engine, Locales: locales},
		log:     log.With(slog.String("component", "capability-registry")),
		bus:     busClient,
		workers: make(map[string]*WorkerInfo),
		cancel:  cancel,
		now:     time.Now,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	r.wg.Add(1)
	go r.run(ctx)

	if cfg.Enabled {
		if err := r.announce(); err != nil {
			r.log.Warn("failed to announce worker", slog.String("error", err.Error()))
		}
	}

	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(SubjectAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(SubjectHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)

	return conn.Flush()
}

func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()
	heartbeat := time.NewTicker(time.Duration(r.cfg.HeartbeatIntervalMS) * time.Millisecond)
	defer heartbeat.Stop()
	health := time.NewTicker(time.Second)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if !r.cfg.Enabled {
				continue
			}
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		case <-health.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := r.self
	msg.Timestamp = r.now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.bus.Conn().Publish(SubjectAnnounce, payload); err != nil {
		return err
	}
	r.updateWorker(msg.WorkerID, msg.Engine, msg.Locales, msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	payload, err := json.Marshal(heartbeatMessage{WorkerID: r.cfg.ID, Timestamp: r.now().UTC()})
	if err != nil {
		return err
	}
	return r.bus.Conn().Publish(SubjectHeartbeatPrefix+"."+r.cfg.ID, payload)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.now().UTC()
	}
	r.updateWorker(announcement.WorkerID, announcement.Engine, announcement.Locales, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.now().UTC()
	}
	r.updateWorker(hb.WorkerID, "", nil, hb.Timestamp)
}

func (r *Registry) updateWorker(id, engine string, locales []string, seen time.Time) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		w = &WorkerInfo{ID: id}
		r.workers[id] = w
	}
	if engine != "" {
		w.Engine = engine
		w.Locales = locales
	}
	w.LastSeen = seen
	w.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeoutMS) * time.Millisecond
	now := r.now()
	for _, w := range r.workers {
		if now.Sub(w.LastSeen) > timeout {
			w.Healthy = false
		}
	}
}

// Healthy reports whether the local worker is known and fresh. A registry
// without a local worker is always healthy.
func (r *Registry) Healthy() bool {
	if !r.cfg.Enabled {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[r.cfg.ID]
	return ok && w.Healthy
}

// Workers returns the known workers sorted by ID.
func (r *Registry) Workers() []WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		c := *w
		c.Locales = append([]string(nil), w.Locales...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-dictate/capability")
	gauge, err := meter.Int64ObservableGauge("dictate.workers", metric.WithDescription("Healthy recognition workers on the bus"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, r.healthyCount())
		return nil
	}, gauge)
	return err
}

func (r *Registry) healthyCount() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, w := range r.workers {
		if w.Healthy {
			n++
		}
	}
	return n
}
