// Command teams-classbot attaches to a running chat client, turns its
// realtime traffic into meeting events and posts class announcements.
// It:
//   - Loads configuration and initializes structured logging.
//   - Optionally launches the client with remote debugging enabled.
//   - Runs the capture session, the credential refresher and the bot.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/teams-classbot/bot"
	"github.com/onnwee/teams-classbot/config"
	"github.com/onnwee/teams-classbot/discovery"
	"github.com/onnwee/teams-classbot/launcher"
	"github.com/onnwee/teams-classbot/server"
	"github.com/onnwee/teams-classbot/teams"
	"github.com/onnwee/teams-classbot/telemetry"
)

const launchReadyTimeout = 60 * time.Second

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateLaunch(); err != nil {
		slog.Error("invalid launch config", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateAnnounce(); err != nil {
		slog.Error("invalid announce config", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("teams-classbot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TeamsLaunch {
		proc, err := launchClient(ctx, cfg)
		if err != nil {
			slog.Error("client launch failed", slog.Any("err", err))
			os.Exit(1)
		}
		defer proc.Stop()
	}

	classes, err := bot.ParseSchedule(cfg.ClassSchedule)
	if err != nil {
		slog.Error("invalid CLASS_SCHEDULE", slog.Any("err", err))
		os.Exit(1)
	}

	client := teams.New(cfg)

	announcer := bot.NewAnnouncer(client, cfg.AnnounceChannel, nil)
	announcer.Register(client.Dispatcher)
	go announcer.Run(ctx)

	if len(classes) > 0 {
		sched := &bot.Scheduler{Classes: classes, Lead: cfg.ClassReminderLead, Channel: cfg.AnnounceChannel, Messenger: client}
		go func() {
			if err := sched.Run(ctx); err != nil {
				slog.Error("class scheduler exited", slog.Any("err", err))
			}
		}()
		slog.Info("class reminders enabled", slog.Int("classes", len(classes)), slog.Duration("lead", cfg.ClassReminderLead))
	}

	go func() {
		if err := server.Start(ctx, client, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("client exited", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutting down")
}

// launchClient starts the chat client and blocks until its debugger lists
// a capture target.
func launchClient(ctx context.Context, cfg *config.Config) (*launcher.Process, error) {
	proc, err := launcher.Launch(ctx, launcher.Options{
		Executable: cfg.TeamsExecutable,
		Args:       cfg.TeamsArgs,
		DebugPort:  cfg.TeamsDebugPort,
	})
	if err != nil {
		return nil, err
	}
	dc := &discovery.Client{BaseURL: cfg.DiscoveryURL}
	readyCtx, cancel := context.WithTimeout(ctx, launchReadyTimeout)
	defer cancel()
	err = proc.WaitReady(readyCtx, func(ctx context.Context) error {
		_, err := dc.Resolve(ctx, cfg.TargetType, cfg.TargetURLMarker)
		return err
	})
	if err != nil {
		proc.Stop()
		return nil, err
	}
	slog.Info("client debugger ready", slog.Int("pid", proc.Pid()), slog.Int("debug_port", cfg.TeamsDebugPort))
	return proc, nil
}
