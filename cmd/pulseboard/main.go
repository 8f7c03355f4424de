// PulseBoard is a multi-tenant kanban server with an automation rule engine
// and GitLab integration: tasks auto-link to branches and merge requests,
// webhooks keep the links fresh, and a periodic job re-syncs anything stale.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/db"
	"github.com/pulseboard/pulseboard/internal/web"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

func main() {
	// Parse flags
	var (
		configPath  = flag.String("config", "", "Path to TOML config file")
		addr        = flag.String("addr", "", "Listen address (overrides config)")
		dbPath      = flag.String("db", "", "SQLite database path (overrides config)")
		showVersion = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("pulseboard %s (commit: %s, built: %s)\n", version, gitCommit, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))

	// Open SQLite database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	server, err := web.NewServer(database, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		os.Exit(1)
	}

	// Periodic sync of stale GitLab links
	scheduler := gocron.NewScheduler(time.UTC)
	_, err = scheduler.Every(cfg.GitLab.SyncInterval.Duration).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.GitLab.SyncInterval.Duration)
		defer cancel()
		server.Syncer().Run(ctx)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to schedule sync job: %v\n", err)
		os.Exit(1)
	}

	// Fire due-date automation triggers as deadlines pass
	_, err = scheduler.Every(time.Minute).Do(func() {
		server.Engine().SweepDueDates(time.Now().UTC())
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to schedule due-date sweep: %v\n", err)
		os.Exit(1)
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Addr)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
