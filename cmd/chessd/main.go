package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"chessd/internal/config"
	"chessd/internal/dispatch"
	"chessd/internal/gamemanager"
	"chessd/internal/matchmaking"
	"chessd/internal/netserver"
	"chessd/internal/session"
	"chessd/internal/userstore"
)

const defaultConfigPath = "config/chessd.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := defaultConfigPath
	if p := os.Getenv("CHESSD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("chessd starting", "bind", cfg.BindAddress, "port", cfg.Port, "log_level", cfg.LogLevel, "backlog", cfg.Backlog)

	// Initialization order: user store → network server → game manager →
	// matchmaking queue → dispatcher → accept loop.
	users, err := userstore.Open(cfg.UserStorePath)
	if err != nil {
		return fmt.Errorf("opening user store: %w", err)
	}
	users.SetDefaultElo(cfg.DefaultElo)
	slog.Info("user store opened", "path", cfg.UserStorePath)

	matchInterval, err := time.ParseDuration(cfg.MatchInterval)
	if err != nil {
		return fmt.Errorf("parsing match_interval: %w", err)
	}

	srv := netserver.New()
	games := gamemanager.New(srv, users)
	queue := matchmaking.New(users, games, cfg.EloThreshold, matchInterval)
	sessions := session.New(users, srv)
	dispatcher := dispatch.New(users, sessions, queue, games, srv)

	games.SetRequeuer(queue)
	srv.SetHandler(dispatcher)
	srv.SetDisconnectHook(games)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting matchmaking queue", "interval", cfg.MatchInterval, "elo_threshold", cfg.EloThreshold)
		queue.Run(gctx)
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
		if err := srv.Run(gctx, addr); err != nil {
			return fmt.Errorf("network server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// parseLogLevel converts a string log level to slog.Level, defaulting
// to Info when empty or unrecognized.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
