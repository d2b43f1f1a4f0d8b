package daemon

import (
	"context"
	"fmt"

	"github.com/pcortes/tutorlink/internal/api"
	"github.com/pcortes/tutorlink/internal/archive"
	"github.com/pcortes/tutorlink/internal/bus"
	"github.com/pcortes/tutorlink/internal/config"
	"github.com/pcortes/tutorlink/internal/directory"
	"github.com/pcortes/tutorlink/internal/gateway"
	"github.com/pcortes/tutorlink/internal/lock"
	"github.com/pcortes/tutorlink/internal/logging"
	"github.com/pcortes/tutorlink/internal/session"
	"github.com/pcortes/tutorlink/internal/status"
	"github.com/pcortes/tutorlink/internal/syncer"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session name passed to the fx module.
type Params struct {
	SessionName string
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
			provideArchive,
			provideAPIClient,
			provideGateway,
			provideDirectory,
			provideSyncEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config (run tutorlinkd after writing %s): %w", session.ConfigPath(), err)
	}
	if cfg.Token == "" || cfg.UserID == "" {
		return nil, fmt.Errorf("config at %s is missing token or user_id", session.ConfigPath())
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideArchive(p Params, logger *zap.Logger) (*archive.DB, error) {
	dbPath := session.ArchivePath(p.SessionName)
	db, err := archive.Open(dbPath)
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
	logger.Info("archive initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAPIClient(cfg *config.Config, logger *zap.Logger) *api.Client {
	return api.NewClient(cfg.APIBaseURL, cfg.Token, logger)
}

func provideGateway(cfg *config.Config, b *bus.Bus, m *status.Machine, logger *zap.Logger) *gateway.Gateway {
	return gateway.New(cfg.GatewayURL, b, m, logger)
}

func provideDirectory(cfg *config.Config, client *api.Client, b *bus.Bus, logger *zap.Logger) *directory.Directory {
	return directory.New(client, directory.NewAllowList(cfg.AllowedUsers), cfg.UserID, b, logger)
}

func provideSyncEngine(cfg *config.Config, db *archive.DB, b *bus.Bus, logger *zap.Logger) *syncer.Engine {
	return syncer.NewEngine(db, b, cfg.UserID, logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, lk *lock.Lock, db *archive.DB, gw *gateway.Gateway, dir *directory.Directory, engine *syncer.Engine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Subscribers first, so the initial burst of gateway events
			// is not missed.
			engine.Start(context.Background())
			dir.Start(context.Background())

			gw.Connect(context.Background(), cfg.Token)

			// Initial snapshot; a failure here leaves an empty list and
			// the next refresh trigger retries.
			go dir.Load(context.Background())

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			gw.Disconnect()
			dir.Stop()
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing archive", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
