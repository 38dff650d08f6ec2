package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/courier-im/courier/internal/account"
	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/config"
	"github.com/courier-im/courier/internal/connectivity"
	"github.com/courier-im/courier/internal/gateway"
	"github.com/courier-im/courier/internal/lock"
	"github.com/courier-im/courier/internal/logging"
	"github.com/courier-im/courier/internal/status"
	"github.com/courier-im/courier/internal/store"
	intsync "github.com/courier-im/courier/internal/sync"
)

// Params holds the resolved account configuration passed to the fx module.
type Params struct {
	AccountName string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideGateway,
			provideSyncEngine,
			provideProber,
			provideRetryWatcher,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	return config.LoadOrDefault(account.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(account.LogPath(p.AccountName), p.AccountName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := account.EnsureDir(p.AccountName); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock", zap.String("account", p.AccountName))
	l, err := lock.Acquire(account.Dir(p.AccountName))
	if err != nil {
		return nil, err
	}
	logger.Info("account lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := account.CacheDBPath(p.AccountName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideGateway(cfg *config.Config, logger *zap.Logger) (*gateway.Firestore, error) {
	return gateway.NewFirestore(context.Background(),
		cfg.Remote.ProjectID, cfg.Remote.CredentialsFile, cfg.Sync.SearchLimit, logger)
}

func provideSyncEngine(db *store.DB, gw *gateway.Firestore, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, gw, b, logger, intsync.Options{
		HistoryWindow: cfg.Sync.HistoryWindow,
		SearchLimit:   cfg.Sync.SearchLimit,
	})
}

func provideProber(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *connectivity.Prober {
	return connectivity.NewProber(b, cfg.Sync.ProbeAddress, cfg.ProbeInterval(), logger)
}

func provideRetryWatcher(p Params, engine *intsync.Engine, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *intsync.RetryWatcher {
	return intsync.NewRetryWatcher(engine, b, machine, p.AccountName, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, gw *gateway.Firestore, prober *connectivity.Prober, watcher *intsync.RetryWatcher, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Drop user snapshots older than the retention window.
			cutoff := time.Now().Add(-cfg.UserCacheTTL()).UnixMilli()
			if pruned, err := db.PruneUsersBefore(cutoff); err != nil {
				logger.Warn("user cache prune failed", zap.Error(err))
			} else if pruned > 0 {
				logger.Info("stale user snapshots pruned", zap.Int64("count", pruned))
			}

			// The watcher must be listening before the prober's first
			// probe, or the initial online edge is lost.
			watcher.Start(context.Background())
			prober.Start(context.Background())

			if count, err := db.MessageCount(); err == nil {
				logger.Info("daemon started", zap.Int64("cached_messages", count))
			} else {
				logger.Info("daemon started")
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			prober.Stop()
			watcher.Stop()
			if err := gw.Close(); err != nil {
				logger.Warn("error closing gateway", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
