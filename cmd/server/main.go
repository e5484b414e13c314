package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eeSquared/musicleague-bot/internal/config"
	"github.com/eeSquared/musicleague-bot/internal/db"
	"github.com/eeSquared/musicleague-bot/internal/discord"
	"github.com/eeSquared/musicleague-bot/internal/inbound"
	"github.com/eeSquared/musicleague-bot/internal/league"
	"github.com/eeSquared/musicleague-bot/internal/metrics"
	"github.com/eeSquared/musicleague-bot/internal/scheduler"
	"github.com/eeSquared/musicleague-bot/internal/server"
	"github.com/eeSquared/musicleague-bot/internal/store"
	"github.com/eeSquared/musicleague-bot/internal/telemetry"

	"golang.org/x/sync/errgroup"
)

const serviceName = "musicleague-bot"

func main() {
	if err := config.LoadDotEnv(".env.local", ".env"); err != nil {
		slog.Warn("failed to load .env", "error", err)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := newLogger(os.Stderr, cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("musicleague bot stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("musicleague bot shut down")
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStore returns the configured store and a readiness probe for it.
func openStore(cfg config.Config, logger *slog.Logger) (league.Store, func(context.Context) error, func(), error) {
	if cfg.Store == "memory" {
		logger.Warn("using in-memory store; league state is lost on restart")
		return store.NewMemory(), nil, func() {}, nil
	}
	conn, err := db.Open(cfg.DatabaseURL, db.Pool{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTimeSeconds) * time.Second,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() {
		if err := sqlDB.Close(); err != nil {
			logger.Warn("close database", "error", err)
		}
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(conn); err != nil {
			closeDB()
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return store.NewGorm(conn), sqlDB.PingContext, closeDB, nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is not set")
	}

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	st, ready, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()
	session, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		return err
	}
	gateway := discord.NewGateway(session, discord.BotUserID(session), discord.Options{
		RatePerSecond: cfg.GatewayRatePerSecond,
		Burst:         cfg.GatewayBurst,
		Logger:        logger.With("component", "gateway"),
	})

	submission, voting, themeSubmission, themeVoting := cfg.Windows()
	engine := league.NewEngine(st, gateway, league.Options{
		Defaults: league.Settings{
			SubmissionWindow:      submission,
			VotingWindow:          voting,
			ThemeSubmissionWindow: themeSubmission,
			ThemeVotingWindow:     themeVoting,
		},
		MarkerBudget:   min(cfg.MarkerBudget, discord.MarkerBudget),
		VotesPerUser:   cfg.VotesPerUser,
		GatewayTimeout: cfg.GatewayTimeout,
		Logger:         logger.With("component", "engine"),
		Observer:       m,
	})

	bus := inbound.NewBus(engine, inbound.Options{Logger: logger.With("component", "inbound"), Observer: m})
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("start inbound bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warn("close inbound bus", "error", err)
		}
	}()

	sched := scheduler.New(engine, st, scheduler.Options{
		Interval: cfg.PollInterval,
		Logger:   logger.With("component", "scheduler"),
		Observer: m,
	})

	bot := discord.NewBot(session, bus, discord.BotOptions{
		CommandGuildID: cfg.CommandGuildID,
		Advancer:       engine,
		Timeout:        2 * cfg.GatewayTimeout,
		Logger:         logger.With("component", "discord"),
	})
	if err := bot.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := bot.Close(); err != nil {
			logger.Warn("close discord session", "error", err)
		}
	}()

	ops := &http.Server{
		Addr: cfg.OpsAddr,
		Handler: server.New(engine, server.Options{
			Metrics: m.Handler(),
			Ready:   ready,
			Sweeper: sched,
			Token:   cfg.OpsToken,
			Logger:  logger.With("component", "ops"),
		}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("ops server listening", "addr", cfg.OpsAddr)
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return ops.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
