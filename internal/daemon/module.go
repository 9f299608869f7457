package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/viniciusgb/papo/internal/active"
	"github.com/viniciusgb/papo/internal/api"
	"github.com/viniciusgb/papo/internal/bus"
	"github.com/viniciusgb/papo/internal/chats"
	"github.com/viniciusgb/papo/internal/config"
	"github.com/viniciusgb/papo/internal/conn"
	"github.com/viniciusgb/papo/internal/creds"
	"github.com/viniciusgb/papo/internal/lock"
	"github.com/viniciusgb/papo/internal/logging"
	"github.com/viniciusgb/papo/internal/media"
	"github.com/viniciusgb/papo/internal/outbox"
	"github.com/viniciusgb/papo/internal/session"
	"github.com/viniciusgb/papo/internal/store"
	intsync "github.com/viniciusgb/papo/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCreds,
			provideAPIClient,
			provideConnClient,
			provideActiveTracker,
			provideMediaManager,
			provideSyncEngine,
			provideSender,
			provideChatsModel,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	path := session.ConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		// First run: write the defaults so the user has a file to edit.
		cfg = config.Default()
		if saveErr := config.Save(path, cfg); saveErr != nil {
			return nil, saveErr
		}
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
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

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCreds(p Params) (*creds.Store, error) {
	return creds.Open(session.CredsPath(p.SessionName))
}

func provideAPIClient(cfg *config.Config, cs *creds.Store, logger *zap.Logger) *api.Client {
	return api.New(cfg.Server.APIBaseURL, cs, logger)
}

func provideConnClient(cfg *config.Config, cs *creds.Store, b *bus.Bus, logger *zap.Logger) *conn.Client {
	opts := conn.Options{
		URL:         cfg.Server.WebSocketURL,
		BaseDelay:   cfg.Reconnect.BaseDelay(),
		MaxDelay:    cfg.Reconnect.MaxDelay(),
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}
	return conn.New(opts, cs, b, &conn.WebSocketDialer{}, logger)
}

func provideActiveTracker(b *bus.Bus) *active.Tracker {
	return active.NewTracker(b)
}

func provideMediaManager(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) *media.Manager {
	return media.NewManager(db, b, session.MediaDir(p.SessionName), session.SentDir(p.SessionName), logger)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, client *conn.Client, apiClient *api.Client,
	cs *creds.Store, tracker *active.Tracker, mediaMgr *media.Manager,
	cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, client, apiClient, cs, tracker, mediaMgr, cfg.Device, logger)
}

func provideSender(db *store.DB, b *bus.Bus, client *conn.Client, apiClient *api.Client,
	mediaMgr *media.Manager, cs *creds.Store, cfg *config.Config, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, b, client, apiClient, mediaMgr, cs, cfg.Server.UploadURL, logger)
}

func provideChatsModel(db *store.DB, b *bus.Bus, logger *zap.Logger) *chats.Model {
	return chats.NewModel(db, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, client *conn.Client,
	engine *intsync.Engine, model *chats.Model, _ *outbox.Sender, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The engine must be consuming frames before the first
			// auth_success arrives.
			engine.Start()
			model.Start()
			client.Connect()
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			client.Disconnect()
			engine.Stop()
			model.Stop()
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
