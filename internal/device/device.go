// Package device owns the node's application context and runs its main loop.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"envnode/internal/connectivity"
	"envnode/internal/sampling"
	"envnode/internal/sensor"
	"envnode/internal/settings"
	"envnode/internal/views"
	"envnode/internal/watchdog"
)

// RebootError ends Run. The process is expected to exit and be restarted.
type RebootError struct {
	Reason watchdog.Reason
	Uptime time.Duration
}

func (e *RebootError) Error() string {
	return fmt.Sprintf("reboot requested: %s after %v", e.Reason, e.Uptime.Round(time.Second))
}

// Publisher ships a finished result upstream.
type Publisher interface {
	Publish(ctx context.Context, res sampling.Result, ip string) error
	IsConnected() bool
}

// BootRecorder persists why the node went down.
type BootRecorder interface {
	Record(ctx context.Context, reason string, uptime time.Duration) error
}

type Deps struct {
	Store      *settings.Store
	Aggregator *sampling.Aggregator
	Conn       *connectivity.Controller
	Watchdog   watchdog.Refresher
	Reboot     *watchdog.Reboot
	Sensor     sensor.Sensor
	Pages      *views.Pages

	// Optional.
	Publisher Publisher
	LED       connectivity.Indicator
	BootLog   BootRecorder

	Version string
	// LastBoot is the reason recorded by the previous run, if any.
	LastBoot string
}

type Device struct {
	Deps
	logger *slog.Logger

	last      atomic.Pointer[sampling.Result]
	lastState connectivity.State
}

func New(deps Deps, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{Deps: deps, logger: logger, lastState: -1}
}

// Run ticks until ctx ends or a reboot is due.
func (d *Device) Run(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	d.logger.Info("main loop started", "tick", tick)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.Tick(ctx, time.Now()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one loop iteration. It returns a *RebootError once a restart is
// pending; sensor and publish failures are logged and retried next cycle.
func (d *Device) Tick(ctx context.Context, now time.Time) error {
	d.Watchdog.Refresh()

	if reason, ok := d.Conn.Poll(ctx, now); ok {
		d.Reboot.Request(reason)
	}
	if reason, ok := d.Reboot.Pending(); ok {
		return d.terminate(ctx, reason)
	}

	stale := d.Store.ConsumeStale()
	if state := d.Conn.State(); stale || state != d.lastState {
		d.lastState = state
		d.render()
	}

	rec := d.Store.Current()
	if !d.Aggregator.Due(now, rec.Cadence()) {
		return nil
	}

	reading, err := d.Sensor.Sense(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		d.logger.Warn("sensor read failed", "error", err)
		return nil
	}

	res, ok := d.Aggregator.Ingest(ctx, now, sampling.Raw{
		TemperatureC: reading.TemperatureC,
		Humidity:     reading.Humidity,
		PressureHPa:  reading.PressureHPa,
		RSSI:         float64(d.Conn.RSSI()),
	}, rec)
	if !ok {
		return nil
	}

	d.last.Store(&res)
	d.renderIndex()
	d.publish(ctx, res)
	return nil
}

func (d *Device) publish(ctx context.Context, res sampling.Result) {
	if d.Publisher == nil || !d.Conn.Online() {
		return
	}
	if !d.Publisher.IsConnected() {
		d.logger.Warn("result not published: broker unreachable", "at", res.At)
		return
	}
	if err := d.Publisher.Publish(ctx, res, d.ip()); err != nil {
		d.logger.Error("publish failed", "error", err)
		return
	}
	if d.LED != nil {
		d.LED.Blink(ctx)
	}
}

func (d *Device) terminate(ctx context.Context, reason watchdog.Reason) error {
	uptime := d.Conn.Uptime()
	d.logger.Warn("rebooting", "reason", reason, "uptime", uptime)
	if d.BootLog != nil {
		if err := d.BootLog.Record(ctx, string(reason), uptime); err != nil {
			d.logger.Error("boot log write failed", "error", err)
		}
	}
	return &RebootError{Reason: reason, Uptime: uptime}
}

func (d *Device) ip() string {
	if a := d.Conn.Addr(); a.IsValid() {
		return a.String()
	}
	return ""
}

func (d *Device) render() {
	d.renderIndex()

	rec := d.Store.Current()
	err := d.Pages.RenderSetup(&views.SetupData{
		Name:    rec.Name(),
		Entries: rec.Entries(),
		State:   d.Conn.State().String(),
		IP:      d.ip(),
		Version: d.Version,
	})
	if err != nil {
		d.logger.Error("render setup page", "error", err)
	}
}

func (d *Device) renderIndex() {
	data := views.NewIndexData(d.Store.Current().Name(), d.last.Load(), d.Conn.State().String(), d.ip())
	if err := d.Pages.RenderIndex(data); err != nil {
		d.logger.Error("render index page", "error", err)
	}
}

// LastResult is the most recent published result, or nil before the first.
func (d *Device) LastResult() *sampling.Result { return d.last.Load() }

// Status is the JSON snapshot served by the status API.
type Status struct {
	Name       string           `json:"name"`
	State      string           `json:"state"`
	UptimeSec  int64            `json:"uptime_s"`
	IP         string           `json:"ip,omitempty"`
	Version    string           `json:"version"`
	Stored     map[string]bool  `json:"stored"`
	LastResult *sampling.Result `json:"last_result,omitempty"`
	LastBoot   string           `json:"last_reboot_reason,omitempty"`
}

// Status is safe to call from any goroutine.
func (d *Device) Status() Status {
	rec := d.Store.Current()
	stored := make(map[string]bool)
	for _, e := range rec.Entries() {
		stored[e.Key] = e.Stored
	}
	return Status{
		Name:       rec.Name(),
		State:      d.Conn.State().String(),
		UptimeSec:  int64(d.Conn.Uptime() / time.Second),
		IP:         d.ip(),
		Version:    d.Version,
		Stored:     stored,
		LastResult: d.last.Load(),
		LastBoot:   d.LastBoot,
	}
}
