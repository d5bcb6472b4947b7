// Package app wires the full server: config, logging router, event bus,
// match registry, tournament orchestrator, gateway hub and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-co-op/gocron/v2"

	server "paddle-arena/server"
	"paddle-arena/server/internal/config"
	"paddle-arena/server/internal/events"
	"paddle-arena/server/internal/game"
	"paddle-arena/server/internal/identity"
	servernet "paddle-arena/server/internal/net"
	"paddle-arena/server/internal/telemetry"
	"paddle-arena/server/internal/tournament"
	"paddle-arena/server/logging"
	loggingSinks "paddle-arena/server/logging/sinks"
)

// Idle connections are reaped on a fixed cadence alongside the match janitor.
const connectionSweepInterval = 10 * time.Second

// Options are the injection points main and tests override.
type Options struct {
	ConfigPath string
	Directory  identity.Directory
	Notifier   identity.Notifier
}

func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	router, closeRouter, err := buildRouter(cfg.Logging)
	if err != nil {
		return fmt.Errorf("construct logging router: %w", err)
	}
	defer closeRouter()

	bus := events.NewBus()
	counters := telemetry.NewCounters()
	deps := game.Deps{
		Bus:       bus,
		Publisher: router,
		Metrics:   counters,
		Clock:     logging.SystemClock{},
	}

	defaults := game.DefaultConfig()
	defaults.TickRate = cfg.Game.TickRate
	defaults.WinScore = cfg.Game.WinScore
	defaults.ForfeitTimeout = cfg.Game.ForfeitTimeout

	registry := game.NewRegistry(defaults, deps)

	directory := opts.Directory
	if directory == nil {
		directory = identity.NewStaticDirectory()
	}

	hub := server.NewHub(registry, directory, deps)
	if opts.Notifier != nil {
		hub.SetForwardNotifier(opts.Notifier)
	}
	orch := tournament.NewOrchestrator(registry, hub, directory, cfg.TournamentCountdown, deps)
	hub.AttachOrchestrator(orch)

	schedLog := telemetry.LoggerFunc(func(format string, args ...any) {
		router.Publish(ctx, logging.Event{
			Type:     "app.scheduler",
			Severity: logging.SeverityWarn,
			Category: logging.CategorySystem,
			Extra:    map[string]any{"message": fmt.Sprintf(format, args...)},
		})
	})
	sched, err := registry.StartJanitor(cfg.Janitor.Interval, cfg.Janitor.IdleMatchTimeout, schedLog)
	if err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(connectionSweepInterval),
		gocron.NewTask(func() {
			hub.SweepIdle(time.Now(), 0)
		}),
	)
	if err != nil {
		return fmt.Errorf("schedule connection sweep: %w", err)
	}
	defer func() {
		_ = sched.Shutdown()
	}()

	handlers := servernet.NewHandlers(hub, counters, router)
	srv := &http.Server{Addr: cfg.Addr, Handler: handlers.Mux()}

	router.Publish(ctx, logging.Event{
		Type:     "app.listening",
		Severity: logging.SeverityInfo,
		Category: logging.CategorySystem,
		Extra:    map[string]any{"addr": cfg.Addr},
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
}

func buildRouter(cfg config.LoggingConfig) (*logging.Router, func(), error) {
	logCfg := logging.DefaultConfig()
	if len(cfg.Sinks) > 0 {
		logCfg.EnabledSinks = cfg.Sinks
	}
	if severity, ok := logging.ParseSeverity(cfg.MinSeverity); ok {
		logCfg.MinimumSeverity = severity
	}
	logCfg.JSON.FilePath = cfg.JSONPath

	var named []logging.NamedSink
	var jsonFile *os.File
	if logCfg.HasSink("console") {
		named = append(named, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsole(os.Stdout, logCfg.Console)})
	}
	if logCfg.HasSink("json") && logCfg.JSON.FilePath != "" {
		f, err := os.OpenFile(logCfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open json log %s: %w", logCfg.JSON.FilePath, err)
		}
		jsonFile = f
		named = append(named, logging.NamedSink{Name: "json", Sink: loggingSinks.NewJSON(f, logCfg.JSON.FlushInterval)})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logCfg, named)
	if err != nil {
		if jsonFile != nil {
			jsonFile.Close()
		}
		return nil, nil, err
	}
	closer := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = router.Close(closeCtx)
		if jsonFile != nil {
			jsonFile.Close()
		}
	}
	return router, closer, nil
}
