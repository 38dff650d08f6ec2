package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/courier-im/courier/internal/bus"
)

func TestProberPublishesEdgesOnly(t *testing.T) {
	b := bus.New()
	logger, _ := zap.NewDevelopment()

	var reachable atomic.Bool
	reachable.Store(true)

	p := NewProber(b, "example.test:443", 20*time.Millisecond, logger)
	p.SetDial(func(string, time.Duration) error {
		if reachable.Load() {
			return nil
		}
		return errors.New("unreachable")
	})

	ch, unsub := b.Subscribe("net.", 16)
	defer unsub()

	p.Start(context.Background())
	defer p.Stop()

	// Initial state is published as an edge.
	select {
	case evt := <-ch:
		if evt.Kind != bus.KindNetOnline {
			t.Fatalf("first event = %q, want net.online", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for initial online event")
	}
	if !p.Online() {
		t.Error("Online() = false, want true")
	}

	// Steady state publishes nothing.
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event in steady state: %q", evt.Kind)
	case <-time.After(100 * time.Millisecond):
	}

	// Drop the link: exactly one offline event.
	reachable.Store(false)
	select {
	case evt := <-ch:
		if evt.Kind != bus.KindNetOffline {
			t.Fatalf("got %q, want net.offline", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for offline event")
	}

	// Restore: exactly one online event.
	reachable.Store(true)
	select {
	case evt := <-ch:
		if evt.Kind != bus.KindNetOnline {
			t.Fatalf("got %q, want net.online", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for online event")
	}
}

func TestProberStop(t *testing.T) {
	b := bus.New()
	logger, _ := zap.NewDevelopment()

	var probes atomic.Int32
	p := NewProber(b, "example.test:443", 10*time.Millisecond, logger)
	p.SetDial(func(string, time.Duration) error {
		probes.Add(1)
		return nil
	})

	p.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	n := probes.Load()
	time.Sleep(50 * time.Millisecond)
	if probes.Load() != n {
		t.Error("prober kept probing after Stop")
	}
}
