package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/telemetry/agent/internal/config"
	"github.com/obsidianstack/telemetry/agent/internal/installation"
	"github.com/obsidianstack/telemetry/agent/internal/platform"
	"github.com/obsidianstack/telemetry/agent/internal/security"
	"github.com/obsidianstack/telemetry/agent/internal/selfmetrics"
	"github.com/obsidianstack/telemetry/agent/internal/shipper"
	"github.com/obsidianstack/telemetry/agent/internal/telemetry"
	"github.com/obsidianstack/telemetry/pkg/types"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flagSet := pflag.NewFlagSet("telemetry-agent", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "config.yaml", "path to config file (.yaml, .json or .jsonc)")
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

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		return 1
	}
	applyLogLevel(&level, cfg.Agent.LogLevel, *logLevelFlag)

	info := platform.Detect()
	slog.Info("telemetry-agent starting",
		"config", *configPath,
		"collector", cfg.Agent.Collector.EventsURL(),
		"profile", telemetry.Profile,
		"os", info.OSName,
		"arch", info.Architecture,
		"channel", cfg.Agent.App.Channel().DisplayName(),
	)

	ship, err := shipper.New(cfg.Agent.Collector)
	if err != nil {
		slog.Error("failed to build shipper", "err", err)
		return 1
	}

	tel := telemetry.New(ship, identityFor(cfg.Agent.App, info), telemetry.Options{
		EventsURL: cfg.Agent.Collector.EventsURL(),
		Token:     cfg.Agent.Collector.Token(),
		Logger:    slog.Default(),
	})

	var settings atomic.Pointer[telemetry.Settings]
	mirrors := &mirrorSwitch{tel: tel, path: cfg.Agent.LogMirror}
	apply := func(c *config.Config) {
		s := telemetry.Settings{
			Metrics:     c.Agent.Telemetry.Metrics,
			Diagnostics: c.Agent.Telemetry.Diagnostics,
		}
		settings.Store(&s)
		mirrors.set(s.Diagnostics)
		applyUser(tel, c.Agent.User, s)
	}
	apply(cfg)
	current := func() telemetry.Settings { return *settings.Load() }

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	// The installation id arrives asynchronously; events reported before it
	// is known wait in the queue.
	g.Go(func() error {
		id, created, err := installation.LoadOrCreate(cfg.Agent.StateDir)
		if err != nil {
			slog.Error("installation id unavailable, events will not be sent", "dir", cfg.Agent.StateDir, "err", err)
			return nil
		}
		slog.Info("installation id loaded", "id", id, "created", created)
		tel.Start(id)
		return nil
	})

	g.Go(func() error {
		logCertStatus(security.Check(gctx, cfg.Agent.Collector))
		return nil
	})

	g.Go(func() error {
		err := config.Watch(gctx, *configPath, func(updated *config.Config) {
			apply(updated)
			applyLogLevel(&level, updated.Agent.LogLevel, *logLevelFlag)
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
		return nil
	})

	if addr := cfg.Agent.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", selfmetrics.Handler(tel))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			slog.Info("metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// stdin is not interruptible, so the reader stays outside the group and
	// ends the run when the producer closes its end.
	go func() {
		n, err := readEvents(os.Stdin, func(ev types.Event) {
			tel.Report(ev, current())
		})
		if err != nil {
			slog.Error("stdin read failed", "err", err)
		}
		slog.Info("stdin closed", "events", n)
		stop()
	}()

	<-gctx.Done()
	slog.Info("telemetry-agent shutting down", "queued", tel.QueueLen())

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown incomplete", "err", err)
	}
	mirrors.close()

	stop()
	if err := g.Wait(); err != nil {
		slog.Error("telemetry-agent stopped with error", "err", err)
		return 1
	}

	s := tel.Stats()
	slog.Info("telemetry-agent stopped",
		"reported", s.EventsReported,
		"flushed", s.EventsFlushed,
		"batches_failed", s.BatchesFailed)
	return 0
}

// identityFor builds the envelope identity. The release channel is sent as
// its display name, e.g. "Preview".
func identityFor(app config.AppConfig, info platform.Info) telemetry.Identity {
	return telemetry.Identity{
		AppVersion:     app.Version,
		OSName:         info.OSName,
		OSVersion:      info.OSVersion,
		Architecture:   info.Architecture,
		ReleaseChannel: app.Channel().DisplayName(),
	}
}

// applyUser signs the configured user in, or signs the previous one out when
// a reload removed user.metrics_id.
func applyUser(tel *telemetry.Telemetry, user config.UserConfig, s telemetry.Settings) {
	if user.MetricsID != "" {
		tel.SetAuthenticatedUserInfo(user.MetricsID, user.Staff, s)
		return
	}
	if tel.MetricsID() != "" {
		slog.Info("user signed out, later events are sent as signed_in=false")
		tel.ClearAuthenticatedUserInfo()
	}
}

// logCertStatus reports the collector certificate check. Plain-HTTP
// collectors (nil status) are not logged.
func logCertStatus(cs *security.CertStatus) {
	switch {
	case cs == nil:
	case cs.Status == security.StatusUnreachable:
		slog.Warn("collector TLS check failed, batches may be dropped", "endpoint", cs.Endpoint, "err", cs.Err)
	case cs.Status == security.StatusValid:
		slog.Debug("collector certificate valid", "endpoint", cs.Endpoint, "days_left", cs.DaysLeft, "issuer", cs.Issuer)
	default:
		slog.Warn("collector certificate "+cs.Status,
			"endpoint", cs.Endpoint,
			"days_left", cs.DaysLeft,
			"not_after", cs.NotAfter,
			"issuer", cs.Issuer)
	}
}

// applyLogLevel sets level from the flag override, else from the config.
func applyLogLevel(level *slog.LevelVar, fromConfig, override string) {
	name := fromConfig
	if override != "" {
		name = override
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		slog.Warn("unknown log level, keeping current", "level", name)
		return
	}
	level.Set(l)
}
