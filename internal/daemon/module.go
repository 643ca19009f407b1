package daemon

import (
	"context"
	"io"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/roomsync/internal/api"
	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/clock"
	"github.com/matheus3301/roomsync/internal/config"
	"github.com/matheus3301/roomsync/internal/engine"
	"github.com/matheus3301/roomsync/internal/lock"
	"github.com/matheus3301/roomsync/internal/logging"
	"github.com/matheus3301/roomsync/internal/metrics"
	"github.com/matheus3301/roomsync/internal/profile"
	"github.com/matheus3301/roomsync/internal/status"
	"github.com/matheus3301/roomsync/internal/store"
	"github.com/matheus3301/roomsync/internal/transport"
)

// DefaultProcess names the daemon in logs and the profile lock.
const DefaultProcess = "roomsyncd"

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile    string
	Process    string          // lock holder and log file name; empty = DefaultProcess
	SocketPath string          // optional override for testing; empty = use default
	Config     *config.Profile // optional; read from profile.toml when nil
	Console    io.Writer       // optional human-readable log sink
	// Offline swaps Redis for an in-process broker and echoes sends locally.
	Offline bool
}

func (p Params) process() string {
	if p.Process == "" {
		return DefaultProcess
	}
	return p.Process
}

// Core provides a started engine for one profile with its lock, store and
// transport. It is shared by the daemon and the TUI.
func Core(p Params) fx.Option {
	return fx.Options(
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideMetrics,
			provideLock,
			provideStore,
			provideTransport,
			provideEngine,
		),
		fx.Invoke(registerCore),
	)
}

// Module returns the fx module for the daemon: Core plus the gRPC health
// socket and the metrics/status HTTP endpoint.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		Core(p),
		fx.Provide(
			provideHealth,
			NewServer,
			NewObserver,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Profile, error) {
	cfg := p.Config
	if cfg == nil {
		loaded, err := config.LoadProfile(profile.ConfigPath(p.Profile))
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Profile) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Path:    profile.LogPath(p.Profile, p.process()),
		Profile: p.Profile,
		Level:   cfg.LogLevel,
		Console: p.Console,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideMetrics(b *bus.Bus) *metrics.Metrics {
	m := metrics.New()
	m.WatchBus(b)
	return m
}

func provideLock(p Params, cfg *config.Profile, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile), p.process(), cfg.User.ID)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so that two daemons never migrate the
// same database.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.StateDBPath(p.Profile)
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
		logger.Info("migrations applied", zap.Uint("from", result.Previous), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", db.Path()))
	return db, nil
}

// provideTransport returns the Redis transport, or an in-process one when
// offline. The Redis client is closed on stop.
func provideTransport(lc fx.Lifecycle, p Params, cfg *config.Profile, machine *status.Machine, m *metrics.Metrics, logger *zap.Logger) transport.Transport {
	if p.Offline {
		logger.Info("offline mode, using in-process transport")
		return transport.NewMemory(transport.NewBroker(), machine, 0)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})
	lc.Append(fx.StopHook(func() {
		if err := client.Close(); err != nil {
			logger.Warn("error closing redis client", zap.Error(err))
		}
	}))
	return transport.NewRedis(client, machine, clock.Real(), m, logger.Named("transport"), transport.RedisOptions{
		PingInterval: cfg.Redis.PingInterval.Duration,
		BackoffMin:   cfg.Redis.BackoffMin.Duration,
		BackoffMax:   cfg.Redis.BackoffMax.Duration,
		MaxAttempts:  cfg.Redis.MaxAttempts,
	})
}

func provideEngine(cfg *config.Profile, tr transport.Transport, machine *status.Machine, b *bus.Bus, m *metrics.Metrics, db *store.DB, logger *zap.Logger) (*engine.Engine, error) {
	return engine.New(engine.Options{
		Identity: chat.Identity{
			UserID:   cfg.User.ID,
			Nickname: cfg.User.Nickname,
			Avatar:   cfg.User.Avatar,
		},
		Transport:      tr,
		Machine:        machine,
		Bus:            b,
		Metrics:        m,
		Logger:         logger.Named("engine"),
		State:          db,
		TypingTimeout:  cfg.Typing.Timeout.Duration,
		PresenceHidden: cfg.Privacy.PresenceHidden,
		TypingHidden:   cfg.Privacy.TypingHidden,
		OutboxRetain:   cfg.Outbox.Retain.Duration,
	})
}

func provideHealth(machine *status.Machine, logger *zap.Logger) *api.Health {
	return api.NewHealth(machine, logger.Named("health"))
}

// registerCore runs the engine. Hooks stop in reverse order, so the engine
// stops before the transport's client, the store and the lock go away.
func registerCore(lc fx.Lifecycle, p Params, eng *engine.Engine, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("stopped", zap.String("process", p.process()))
			_ = logger.Sync()
			return nil
		},
	})
	lc.Append(fx.Hook{
		// Unreachable Redis is not fatal; the transport keeps retrying.
		OnStart: eng.Start,
		OnStop: func(context.Context) error {
			eng.Stop()
			return nil
		},
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, obs *Observer, health *api.Health, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			health.Start()

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			return obs.Start()
		},
		OnStop: func(ctx context.Context) error {
			health.Stop()
			srv.Stop(ctx)
			obs.Stop(ctx)
			return nil
		},
	})
}
