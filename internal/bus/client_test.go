package bus

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/nats-io/nats.go"
)

func TestConnectRequiresServers(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Connect(context.Background(), config.BusConfig{}, log); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Healthy() {
		t.Fatal("nil client must not report healthy")
	}
	c.Close()
}

func TestCloseDeliversPendingMessages(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	c, err := Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	var handled atomic.Int32
	if _, err := c.Conn().Subscribe("drain.test", func(*nats.Msg) {
		time.Sleep(20 * time.Millisecond)
		handled.Add(1)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	const total = 10
	for i := 0; i < total; i++ {
		if err := c.Conn().Publish("drain.test", []byte("x")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := c.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	c.Close()
	if got := handled.Load(); got != total {
		t.Fatalf("expected %d messages handled before close returned, got %d", total, got)
	}
	if !c.Conn().IsClosed() {
		t.Fatal("expected connection closed")
	}
}
