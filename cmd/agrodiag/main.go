package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	appdb "github.com/agrodiag/agrodiag/db"
	"github.com/agrodiag/agrodiag/internal/accounts"
	"github.com/agrodiag/agrodiag/internal/boot"
	"github.com/agrodiag/agrodiag/internal/channel"
	"github.com/agrodiag/agrodiag/internal/channel/adapters/telegram"
	"github.com/agrodiag/agrodiag/internal/channel/adapters/whatsapp"
	"github.com/agrodiag/agrodiag/internal/config"
	"github.com/agrodiag/agrodiag/internal/conversation"
	"github.com/agrodiag/agrodiag/internal/db"
	"github.com/agrodiag/agrodiag/internal/dedup"
	"github.com/agrodiag/agrodiag/internal/diagnosis"
	"github.com/agrodiag/agrodiag/internal/handlers"
	"github.com/agrodiag/agrodiag/internal/logger"
	"github.com/agrodiag/agrodiag/internal/reports"
	"github.com/agrodiag/agrodiag/internal/server"
	"github.com/agrodiag/agrodiag/internal/session"
	"github.com/agrodiag/agrodiag/internal/sweep"
	"github.com/agrodiag/agrodiag/internal/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrate(os.Args[2:])
		return
	}

	fx.New(
		fx.Provide(
			provideConfig,
			boot.ProvideRuntimeConfig,
			provideLogger,
			provideDBConn,

			provideSessionStore,
			provideDedupStore,
			provideIdentities,
			provideReports,
			provideInvoker,
			provideChannelRegistry,
			provideProcessor,
			provideSweep,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewWebhookHandler),

			provideServer,
		),
		fx.Invoke(
			startSweep,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func runMigrate(args []string) {
	cfg, err := provideConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := provideLogger(cfg)

	command := "up"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}
	migrations, err := fs.Sub(appdb.MigrationsFS, "migrations")
	if err != nil {
		log.Error("migrations fs", slog.Any("error", err))
		os.Exit(1)
	}
	if err := db.RunMigrate(log, cfg.Postgres, migrations, command, args); err != nil {
		log.Error("migrate failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideSessionStore(log *slog.Logger, conn *pgxpool.Pool) *session.PGStore {
	return session.NewPGStore(log, conn)
}

func provideDedupStore(log *slog.Logger, conn *pgxpool.Pool) *dedup.PGStore {
	return dedup.NewPGStore(log, conn)
}

func provideIdentities(log *slog.Logger, conn *pgxpool.Pool) *accounts.Service {
	return accounts.NewService(log, conn)
}

func provideReports(log *slog.Logger, conn *pgxpool.Pool) *reports.Service {
	return reports.NewService(log, conn)
}

func provideInvoker(log *slog.Logger, cfg config.Config) *diagnosis.Client {
	return diagnosis.NewClient(log, cfg.Diagnosis)
}

func provideChannelRegistry(log *slog.Logger, cfg config.Config) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(whatsapp.NewAdapter(log, cfg.WhatsApp))
	registry.MustRegister(telegram.NewAdapter(log, cfg.Telegram))
	return registry
}

func provideProcessor(
	log *slog.Logger,
	sessions *session.PGStore,
	processed *dedup.PGStore,
	identities *accounts.Service,
	invoker *diagnosis.Client,
	reportStore *reports.Service,
	registry *channel.Registry,
	runtimeConfig *boot.RuntimeConfig,
) *conversation.Processor {
	return conversation.NewProcessor(log, sessions, processed, identities, invoker, reportStore, registry, runtimeConfig.SessionTTL)
}

func provideSweep(log *slog.Logger, sessions *session.PGStore, processed *dedup.PGStore, runtimeConfig *boot.RuntimeConfig) *sweep.Service {
	return sweep.NewService(log, sessions, processed, runtimeConfig)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	RuntimeConfig  *boot.RuntimeConfig
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.RuntimeConfig.ServerAddr, params.ServerHandlers...)
}

func startSweep(lc fx.Lifecycle, sweeper *sweep.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sweeper.Start()
		},
		OnStop: func(ctx context.Context) error {
			return sweeper.Stop(ctx)
		},
	})
}

func startServer(
	lc fx.Lifecycle,
	logger *slog.Logger,
	srv *server.Server,
	shutdowner fx.Shutdowner,
) {
	fmt.Printf("Starting AgroDiag %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil { // block until server is stopped
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
