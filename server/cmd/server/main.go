package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/telemetry/pkg/types"
	"github.com/obsidianstack/telemetry/server/internal/api"
	"github.com/obsidianstack/telemetry/server/internal/auth"
	"github.com/obsidianstack/telemetry/server/internal/config"
	"github.com/obsidianstack/telemetry/server/internal/receiver"
	"github.com/obsidianstack/telemetry/server/internal/store"
	"github.com/obsidianstack/telemetry/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flagSet := pflag.NewFlagSet("telemetry-collector", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "config.yaml", "path to config file")
	logLevelFlag := flagSet.String("log-level", "", "override log_level from the config file")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level})))

	slog.Info("telemetry-collector starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		return 1
	}
	name := cfg.Server.LogLevel
	if *logLevelFlag != "" {
		name = *logLevelFlag
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		slog.Error("invalid log level", "level", name, "err", err)
		return 1
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"client_token", cfg.Server.ClientToken() != "",
		"max_body_bytes", cfg.Server.MaxBodyBytes,
		"installation_ttl", cfg.Server.Installations.TTL,
		"stream_keepalive", cfg.Server.StreamKeepalive,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New(cfg.Server.Installations.TTL)

	requireKey := auth.APIKey(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
	)
	feed := ws.New(st, cfg.Server.StreamKeepalive)

	mux := http.NewServeMux()
	mux.Handle(types.EventsPath, requireKey(receiver.New(st, feed, cfg.Server.ClientToken(), cfg.Server.MaxBodyBytes)))
	mux.Handle("/api/v1/", api.New(st))
	mux.Handle("/ws/stream", feed)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		st.Run(gctx)
		return nil
	})
	g.Go(func() error {
		feed.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort, "events_path", types.EventsPath)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("telemetry-collector shutting down",
			"installations", st.Count(),
			"stream_subscribers", feed.Subscribers())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("telemetry-collector stopped with error", "err", err)
		return 1
	}
	return 0
}
