// Package connectivity watches the device's network reachability and
// publishes online/offline transitions on the event bus.
package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/courier-im/courier/internal/bus"
)

// DialFunc probes a single address. A nil error means reachable.
type DialFunc func(addr string, timeout time.Duration) error

func netDial(addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

const probeTimeout = 5 * time.Second

// Prober periodically dials the remote backend and publishes net.online /
// net.offline bus events on state edges only.
type Prober struct {
	bus      *bus.Bus
	logger   *zap.Logger
	addr     string
	interval time.Duration
	dial     DialFunc
	cancel   context.CancelFunc

	mu     sync.RWMutex
	online bool
	known  bool
}

// NewProber creates a prober for addr with the given probe period.
func NewProber(b *bus.Bus, addr string, interval time.Duration, logger *zap.Logger) *Prober {
	return &Prober{
		bus:      b,
		logger:   logger,
		addr:     addr,
		interval: interval,
		dial:     netDial,
	}
}

// SetDial overrides the probe function. Test hook.
func (p *Prober) SetDial(d DialFunc) {
	p.dial = d
}

// Online reports the last observed connectivity state.
func (p *Prober) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

// Start probes immediately and then on every tick until ctx is done or
// Stop is called.
func (p *Prober) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
}

// Stop stops the probe loop.
func (p *Prober) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Prober) loop(ctx context.Context) {
	p.probe()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.probe()
		case <-ctx.Done():
			return
		}
	}
}

func (p *Prober) probe() {
	err := p.dial(p.addr, probeTimeout)
	online := err == nil

	p.mu.Lock()
	changed := !p.known || online != p.online
	p.known = true
	p.online = online
	p.mu.Unlock()

	if !changed {
		return
	}

	if online {
		p.logger.Info("connectivity restored", zap.String("addr", p.addr))
		p.bus.Publish(bus.Event{Kind: bus.KindNetOnline, Timestamp: time.Now()})
	} else {
		p.logger.Warn("connectivity lost", zap.String("addr", p.addr), zap.Error(err))
		p.bus.Publish(bus.Event{Kind: bus.KindNetOffline, Timestamp: time.Now()})
	}
}
