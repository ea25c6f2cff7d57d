package daemon

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/delivery"
	"github.com/matheus3301/chatsync/internal/journal"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/pager"
	"github.com/matheus3301/chatsync/internal/push"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/telemetry"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/unread"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Debug       bool

	// Optional overrides for testing; zero values use the session defaults.
	SocketPath string
	Config     *config.Session
	Dialer     transport.Dialer
	Logger     *zap.Logger
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
			provideJournal,
			provideTransport,
			provideDecoder,
			provideRemote,
			provideCounter,
			provideViewport,
			provideEngine,
			provideSender,
			provideInboxService,
			provideMetricsServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Session, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return session.Load(p.SessionName)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New(bus.WithDropHook(metrics.IncBusDrop))
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideJournal depends on the lock so two daemons never share a journal.
func provideJournal(p Params, _ *lock.Lock, logger *zap.Logger) (*journal.DB, error) {
	path := session.JournalPath(p.SessionName)
	db, result, err := journal.OpenMigrated(path)
	if err != nil {
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("journal initialized", zap.String("path", path))
	return db, nil
}

func provideTransport(p Params, cfg *config.Session, m *status.Machine, logger *zap.Logger) *transport.Manager {
	dialer := p.Dialer
	if dialer == nil {
		dialer = transport.WebsocketDialer{Dialer: websocket.DefaultDialer}
	}
	return transport.NewManager(dialer, transport.Options{
		URL:           cfg.ServerURL,
		Token:         cfg.AccessToken,
		InvokeTimeout: cfg.InvokeTimeout,
	}, m, logger.Named("transport"))
}

func provideDecoder(engine *intsync.Engine, logger *zap.Logger) *push.Decoder {
	return push.NewDecoder(engine, logger.Named("push"))
}

func provideRemote(cfg *config.Session, logger *zap.Logger) (*remote.Client, error) {
	return remote.New(remote.Options{
		BaseURL:           cfg.APIURL,
		Token:             cfg.AccessToken,
		Me:                cfg.UserID,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, logger.Named("remote"))
}

func provideCounter(b *bus.Bus) *unread.Counter {
	return unread.NewCounter(b)
}

func provideViewport(b *bus.Bus) *pager.TrackedViewport {
	return pager.NewTrackedViewport(b)
}

func provideEngine(cfg *config.Session, mgr *transport.Manager, rc *remote.Client, b *bus.Bus, counter *unread.Counter, vp *pager.TrackedViewport, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(intsync.Options{
		Me:            cfg.UserID,
		PageSize:      cfg.PageSize,
		SeenPolicy:    delivery.SeenPolicy{Ratio: cfg.VisibilityRatio, Dwell: cfg.SeenDwell},
		InvokeTimeout: cfg.InvokeTimeout,
	}, mgr, rc, b, counter, vp, logger.Named("sync"))
}

func provideSender(cfg *config.Session, engine *intsync.Engine, rc *remote.Client, db *journal.DB, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(engine, rc, db, b, cfg.SendTimeout, logger.Named("outbox"))
}

func provideInboxService(p Params, m *status.Machine, engine *intsync.Engine, sender *outbox.Sender, counter *unread.Counter, logger *zap.Logger) *api.InboxService {
	return api.NewInboxService(p.SessionName, m, engine, sender, counter, logger.Named("api"))
}

func provideMetricsServer(cfg *config.Session, logger *zap.Logger) *MetricsServer {
	return NewMetricsServer(cfg.MetricsAddr, logger)
}

type lifecycleDeps struct {
	fx.In

	Params  Params
	Lock    *lock.Lock
	Config  *config.Session
	Journal *journal.DB
	Server  *Server
	Metrics *MetricsServer
	Conn    *transport.Manager
	Decoder *push.Decoder
	Engine  *intsync.Engine
	Sender  *outbox.Sender
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	var (
		unregister      func()
		shutdownTracing telemetry.ShutdownFunc
		cancelBoot      context.CancelFunc
		booted          = make(chan struct{})
	)
	logger := d.Logger

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			if shutdownTracing, err = telemetry.Setup(ctx, d.Config.OTLPEndpoint, d.Params.SessionName); err != nil {
				return err
			}

			d.Engine.Start(context.Background())
			unregister = d.Decoder.Register(d.Conn)

			if err := d.Sender.Start(ctx); err != nil {
				return err
			}
			if err := d.Metrics.Start(); err != nil {
				return err
			}

			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			var bootCtx context.Context
			bootCtx, cancelBoot = context.WithCancel(context.Background())
			go func() {
				defer close(booted)
				bootstrap(bootCtx, d.Engine, logger)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelBoot()
			<-booted
			d.Sender.Stop()
			unregister()
			if err := d.Conn.Close(); err != nil {
				logger.Warn("error closing connection", zap.Error(err))
			}
			d.Engine.Stop()
			d.Server.Stop(ctx)
			if err := d.Metrics.Stop(ctx); err != nil {
				logger.Warn("error stopping metrics server", zap.Error(err))
			}
			if err := d.Journal.Close(); err != nil {
				logger.Warn("error closing journal", zap.Error(err))
			}
			if err := shutdownTracing(ctx); err != nil {
				logger.Warn("error flushing traces", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

// bootstrap connects and loads the conversation list, retrying with
// exponential backoff until it succeeds or ctx ends.
func bootstrap(ctx context.Context, engine *intsync.Engine, logger *zap.Logger) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		return engine.Bootstrap(ctx)
	}, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
		logger.Warn("bootstrap failed, retrying", zap.Error(err), zap.Duration("in", next))
	})
	if err != nil && ctx.Err() == nil {
		logger.Error("bootstrap gave up", zap.Error(err))
	}
}
