package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/status"
)

// RetryWatcher reacts to connectivity edges: on an offline-to-online
// transition it drives the status machine through a sync cycle, retries
// every pending send, and refreshes all conversations.
type RetryWatcher struct {
	engine  *Engine
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	ownerID string
	cancel  context.CancelFunc
}

// NewRetryWatcher creates a watcher for the active account.
func NewRetryWatcher(engine *Engine, b *bus.Bus, machine *status.Machine, ownerID string, logger *zap.Logger) *RetryWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryWatcher{
		engine:  engine,
		bus:     b,
		machine: machine,
		logger:  logger,
		ownerID: ownerID,
	}
}

// Start subscribes to net.* events until ctx is done or Stop is called.
func (w *RetryWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	ch, unsub := w.bus.Subscribe("net.", 16)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				w.handle(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the watcher.
func (w *RetryWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *RetryWatcher) handle(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindNetOnline:
		w.syncCycle(ctx)
	case bus.KindNetOffline:
		if w.machine != nil {
			_ = w.machine.Transition(status.Offline)
		}
	}
}

func (w *RetryWatcher) syncCycle(ctx context.Context) {
	if w.machine != nil {
		_ = w.machine.Transition(status.Syncing)
	}

	failed := false
	if err := w.engine.SyncPendingMessages(ctx, w.ownerID); err != nil {
		w.logger.Error("pending retry cycle failed", zap.Error(err))
		failed = true
	}
	if err := w.engine.SyncAllConversations(ctx, w.ownerID); err != nil {
		w.logger.Error("conversation refresh failed", zap.Error(err))
		failed = true
	}

	if w.machine == nil {
		return
	}
	if failed {
		_ = w.machine.Transition(status.Degraded)
	} else {
		_ = w.machine.Transition(status.Ready)
	}
}
