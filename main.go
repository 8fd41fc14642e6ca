// Command puck watches tracked Twitch and YouTube accounts and keeps a
// "live" role on the matching Fluxer members in step with their streams.
// It:
//   - Loads configuration (defaults file, env, secret files) and initializes
//     structured logging to stdout and/or a log file.
//   - Takes a single-instance lock next to the state file.
//   - Opens the state store (JSON file or Postgres) and restores prior state.
//   - Runs the polling loop and a minimal HTTP server with /healthz,
//     /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/the-alphabet-cartel/puck/announce"
	"github.com/the-alphabet-cartel/puck/config"
	"github.com/the-alphabet-cartel/puck/db"
	"github.com/the-alphabet-cartel/puck/fluxerapi"
	"github.com/the-alphabet-cartel/puck/monitor"
	"github.com/the-alphabet-cartel/puck/server"
	"github.com/the-alphabet-cartel/puck/state"
	"github.com/the-alphabet-cartel/puck/telemetry"
	"github.com/the-alphabet-cartel/puck/twitchapi"
	"github.com/the-alphabet-cartel/puck/youtubeapi"
)

const version = "1.0.0"

func main() {
	// Local dev convenience only; deployments use real env and secret files.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	logger, closeLog, err := telemetry.NewLogger(telemetry.LogOptions{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		File:    cfg.LogFile,
		Console: cfg.LogConsole,
	})
	if err != nil {
		slog.Error("logger setup failed", slog.String("file", cfg.LogFile), slog.Any("err", err))
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)
	slog.Info("logger initialized",
		slog.String("level", telemetry.ParseLevel(cfg.LogLevel).String()),
		slog.String("format", cfg.LogFormat),
		slog.String("file", cfg.LogFile),
		slog.Bool("console", cfg.LogConsole))

	if err := cfg.ValidateBotReady(); err != nil {
		slog.Error("cannot start", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("puck", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	lock, err := monitor.AcquireLock(cfg.StateFile + ".lock")
	if err != nil {
		slog.Error("failed to take instance lock", slog.String("path", cfg.StateFile+".lock"), slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("failed to release instance lock", slog.Any("err", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store    state.Store
		database *sql.DB
	)
	switch cfg.StateBackend {
	case config.BackendPostgres:
		database, err = db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		if err := db.Setup(ctx, database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		store = db.NewStateStore(database)
	default:
		store = state.NewFileStore(cfg.StateFile)
	}
	engine := state.New(ctx, store)

	opts := monitor.Options{
		Tracked:           config.NewTrackedFile(cfg.TrackedStreamsFile),
		State:             engine,
		Roles:             fluxerapi.NewClient(cfg.FluxerAPIBase, cfg.BotToken),
		Announcer:         announce.NewStub(cfg.AnnounceChannelID),
		Interval:          cfg.PollInterval,
		YouTubeMultiplier: cfg.YouTubeMultiplier,
		GuildID:           cfg.GuildID,
		LiveRoleID:        cfg.LiveRoleID,
	}
	if cfg.TwitchEnabled() {
		opts.Twitch = twitchapi.NewHelixClient(cfg.TwitchClientID, cfg.TwitchClientSecret)
	} else {
		slog.Warn("twitch client id/secret not set; twitch checks disabled")
	}
	if cfg.YouTubeAPIKey != "" {
		opts.YouTube = youtubeapi.NewChecker(cfg.YouTubeAPIKey, cfg.YouTubeDailyQuota, nil)
	} else {
		slog.Warn("youtube api key not set; youtube checks disabled")
	}
	mon := monitor.New(opts)

	go func() {
		if err := server.Start(ctx, mon, database, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	slog.Info("puck starting",
		slog.String("version", version),
		slog.String("state_backend", cfg.StateBackend),
		slog.Bool("roles_enabled", cfg.RolesEnabled()))

	// Run returns once ctx is cancelled and any in-flight cycle has finished.
	mon.Run(ctx)
	slog.Info("shutting down")
}
