package daemon

import (
	"context"

	"github.com/offlinehq/crmsync/internal/api"
	"github.com/offlinehq/crmsync/internal/bus"
	"github.com/offlinehq/crmsync/internal/config"
	"github.com/offlinehq/crmsync/internal/engine"
	"github.com/offlinehq/crmsync/internal/lock"
	"github.com/offlinehq/crmsync/internal/logging"
	"github.com/offlinehq/crmsync/internal/offline"
	"github.com/offlinehq/crmsync/internal/status"
	"github.com/offlinehq/crmsync/internal/store"
	"github.com/offlinehq/crmsync/internal/workspace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved workspace configuration passed to the fx module.
type Params struct {
	Workspace string
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
			provideClient,
			provideEngine,
			provideFacade,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.LoadOrDefault(workspace.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(workspace.LogPath(p.Workspace), p.Workspace)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := workspace.EnsureDir(p.Workspace); err != nil {
		return nil, err
	}
	logger.Info("acquiring workspace lock", zap.String("workspace", p.Workspace))
	l, err := lock.Acquire(workspace.Dir(p.Workspace))
	if err != nil {
		return nil, err
	}
	logger.Info("workspace lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := workspace.DBPath(p.Workspace)
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
	// A previous process may have died mid-drain.
	if err := db.ResetInFlight(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(cfg *config.Config) *api.Client {
	return api.NewClient(cfg.API.BaseURL, cfg.API.HealthPath, cfg.RequestTimeout())
}

func provideEngine(db *store.DB, client *api.Client, b *bus.Bus, m *status.Machine, cfg *config.Config, logger *zap.Logger) *engine.Engine {
	return engine.New(db, client, b, m, logger, engine.Options{
		MaxRetries:  cfg.Sync.MaxRetries,
		BackoffBase: cfg.BackoffBase(),
	})
}

func provideFacade(db *store.DB, eng *engine.Engine, client *api.Client, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *offline.Facade {
	monitor := offline.NewMonitor(client, b, logger, cfg.ProbeInterval(), func() {
		// Coming back online drains the queue right away.
		go func() {
			if _, err := eng.PerformSync(context.Background()); err != nil {
				logger.Error("sync on reconnect failed", zap.Error(err))
			}
		}()
	})
	return offline.New(db, eng, client, monitor, b, logger, cfg.SyncInterval())
}

func registerLifecycle(lc fx.Lifecycle, facade *offline.Facade, db *store.DB, lk *lock.Lock, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Seed per-collection conflict strategies from config.
			for collection, strategy := range cfg.Collections.Strategies {
				if err := facade.SetStrategy(collection, strategy); err != nil {
					logger.Warn("skipping invalid strategy",
						zap.String("collection", collection),
						zap.String("strategy", strategy),
						zap.Error(err))
				}
			}

			facade.Start(context.Background())
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			facade.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
