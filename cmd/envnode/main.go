package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"envnode/internal/app"
	"envnode/internal/config"
	"envnode/internal/device"
	"envnode/internal/logging"
	"envnode/internal/watchdog"
)

var version = "dev"
var appName = "envnode"

// exitReboot tells the supervisor to start the node again.
const exitReboot = 3

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = app.Run(ctx, cfg, app.Options{
		Version: version,
		OnWatchdogExpire: func(since time.Duration) {
			slog.Error("main loop stalled, restarting", "since", since)
			os.Exit(exitReboot)
		},
	})

	var rebootErr *device.RebootError
	var expiredErr *watchdog.ExpiredError
	switch {
	case errors.As(err, &rebootErr):
		slog.Warn("restarting", "reason", rebootErr.Reason, "uptime", rebootErr.Uptime)
		stop()
		os.Exit(exitReboot)
	case errors.As(err, &expiredErr):
		slog.Error("restarting", "reason", watchdog.ReasonWatchdog, "since", expiredErr.Since)
		stop()
		os.Exit(exitReboot)
	case err != nil && !errors.Is(err, context.Canceled):
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}
