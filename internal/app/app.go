// Package app wires the node together and runs it until a reboot is due.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"envnode/internal/calibration"
	"envnode/internal/captive"
	"envnode/internal/config"
	"envnode/internal/connectivity"
	"envnode/internal/db"
	"envnode/internal/db/migrate"
	"envnode/internal/device"
	"envnode/internal/httpapi"
	"envnode/internal/led"
	"envnode/internal/logging"
	"envnode/internal/mqtt"
	"envnode/internal/nvs"
	"envnode/internal/radio"
	"envnode/internal/sampling"
	"envnode/internal/sensor"
	"envnode/internal/settings"
	"envnode/internal/views"
	"envnode/internal/watchdog"
)

const (
	settingsBlock       = "settings"
	calibrationTimeout  = 10 * time.Second
	shutdownTimeout     = 3 * time.Second
	bootLogWriteTimeout = 2 * time.Second
)

type Options struct {
	Version string
	// OnWatchdogExpire runs on the monitor goroutine once the main loop has
	// stalled past the watchdog timeout.
	OnWatchdogExpire func(since time.Duration)
}

// Run blocks until ctx ends or the node decides to restart, in which case
// the returned error is a *device.RebootError or a *watchdog.ExpiredError.
func Run(ctx context.Context, cfg config.Config, opts Options) error {
	logger := slog.Default()
	started := time.Now()

	slog.Info("initializing node",
		"db_driver", cfg.DBDriver,
		"nvs_path", cfg.NVSPath,
		"sensor_driver", cfg.SensorDriver,
		"radio_driver", cfg.RadioDriver,
		"http_addr", cfg.HTTPAddr,
	)

	var dbOpts []db.Option
	if cfg.LogLevel <= slog.LevelDebug {
		dbOpts = append(dbOpts, db.WithQueryLog(logging.Component(logger, "sql")))
	}
	conn, err := db.Open(ctx, cfg.DBDriver, cfg.NVSPath, dbOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()

	if err := migrate.Run(ctx, conn, logging.Component(logger, "migrate")); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	bootLog := nvs.NewBootLog(conn)
	var lastBoot string
	if entry, ok, err := bootLog.Last(ctx); err != nil {
		slog.Warn("boot log unreadable", "error", err)
	} else if ok {
		lastBoot = entry.Reason
		slog.Info("previous run ended", "reason", entry.Reason, "uptime", entry.Uptime, "at", entry.LoggedAt)
	}

	store := settings.NewStore(nvs.NewSQLBlock(conn, settingsBlock), logging.Component(logger, "settings"))
	rec, _ := store.Load(ctx)

	if err := views.LoadTemplates(); err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	wd := watchdog.New(cfg.WatchdogTimeout, logging.Component(logger, "watchdog"),
		watchdog.WithExpireHook(func(since time.Duration) {
			wctx, cancel := context.WithTimeout(context.Background(), bootLogWriteTimeout)
			defer cancel()
			if err := bootLog.Record(wctx, string(watchdog.ReasonWatchdog), time.Since(started)); err != nil {
				slog.Error("boot log write failed", "error", err)
			}
			if opts.OnWatchdogExpire != nil {
				opts.OnWatchdogExpire(since)
			}
		}),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return wd.Run(gctx)
	})
	g.Go(func() error {
		return runNode(gctx, g, cfg, opts, nodeParts{
			logger:   logger,
			conn:     conn,
			bootLog:  bootLog,
			lastBoot: lastBoot,
			store:    store,
			rec:      rec,
			wd:       wd,
		})
	})
	return g.Wait()
}

type nodeParts struct {
	logger   *slog.Logger
	conn     *sql.DB
	bootLog  *nvs.BootLog
	lastBoot string
	store    *settings.Store
	rec      settings.Record
	wd       *watchdog.Watchdog
}

func runNode(ctx context.Context, g *errgroup.Group, cfg config.Config, opts Options, p nodeParts) error {
	logger := p.logger

	open, err := sensor.OpenerFor(cfg)
	if err != nil {
		return err
	}
	sens, err := sensor.WaitReady(ctx, open, cfg.SensorRetryDelay, p.wd, logging.Component(logger, "sensor"))
	if err != nil {
		return err
	}
	defer func() { _ = sens.Close() }()

	rad, sim, err := newRadio(cfg, logging.Component(logger, "radio"))
	if err != nil {
		return err
	}

	indicator, err := led.Open(cfg.LEDPin, logging.Component(logger, "led"))
	if err != nil {
		slog.Warn("status led unavailable", "pin", cfg.LEDPin, "error", err)
		indicator, _ = led.Open("", logger)
	}

	ctrl := connectivity.NewController(rad, captive.New(cfg.DNSAddr, logging.Component(logger, "captive")), indicator, p.wd,
		logging.Component(logger, "connectivity"), connectivity.Options{
			ConnectAttempts: cfg.ConnectAttempts,
			ReconnectWait:   cfg.ReconnectWait,
			APIdleTimeout:   cfg.APIdleTimeout,
			UptimeCeiling:   cfg.UptimeCeiling,
		})
	if sim != nil {
		sim.OnDrop(ctrl.OnDisconnect)
	}
	if err := ctrl.Start(ctx, p.rec); err != nil {
		return fmt.Errorf("connectivity: %w", err)
	}

	calib := calibration.New(calibration.Options{
		BaseURL:   cfg.CalibrationURL,
		Timeout:   calibrationTimeout,
		UserAgent: "envnode/" + opts.Version,
	}, ctrl, p.wd, logging.Component(logger, "calibration"))

	deps := device.Deps{
		Store:      p.store,
		Aggregator: sampling.New(calib, cfg.CalibrationInterval, logging.Component(logger, "sampling")),
		Conn:       ctrl,
		Watchdog:   p.wd,
		Reboot:     &watchdog.Reboot{},
		Sensor:     sens,
		Pages:      &views.Pages{},
		LED:        indicator,
		BootLog:    p.bootLog,
		Version:    opts.Version,
		LastBoot:   p.lastBoot,
	}

	if server, ok := p.rec.MQTTServer.Get(); ok && ctrl.Online() {
		client := mqtt.NewClient(mqtt.Options{
			Broker:     server,
			Port:       cfg.MQTTPort,
			User:       p.rec.MQTTUser.Or(""),
			Password:   p.rec.MQTTPassword.Or(""),
			DeviceName: p.rec.Name(),
			Version:    opts.Version,
			Refresher:  p.wd,
		}, logging.Component(logger, "mqtt"))
		g.Go(func() error {
			if err := client.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("mqtt connect failed", "error", err)
			}
			return nil
		})
		defer client.Disconnect()
		deps.Publisher = client
	}

	dev := device.New(deps, logging.Component(logger, "device"))

	srv := httpapi.NewServer(cfg, dev, p.conn, logging.Component(logger, "http"))
	g.Go(func() error {
		slog.Info("http listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return dev.Run(ctx, cfg.TickInterval)
}

func newRadio(cfg config.Config, logger *slog.Logger) (connectivity.Radio, *radio.Sim, error) {
	switch cfg.RadioDriver {
	case "sim":
		aps, err := radio.ParseAccessPoints(cfg.SimAccessPoints)
		if err != nil {
			return nil, nil, fmt.Errorf("SIM_ACCESS_POINTS: %w", err)
		}
		sim := radio.NewSim(aps)
		return sim, sim, nil
	case "host":
		return radio.NewHost(logger), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown radio driver %q", cfg.RadioDriver)
	}
}
