// Package connectivity decides between joining a network and hosting the
// setup access point, and raises reboot reasons when liveness is lost.
package connectivity

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"envnode/internal/settings"
	"envnode/internal/watchdog"
)

// Radio is the Wi-Fi chip.
type Radio interface {
	Scan(ctx context.Context) ([]AccessPoint, error)
	// Join starts associating with ap; Connected reports the outcome.
	Join(ctx context.Context, ap AccessPoint, password string) error
	Connected() bool
	StartAP(ctx context.Context, name string) error
	Addr() netip.Addr
	RSSI() int
	SyncTime(ctx context.Context) error
}

// Portal answers DNS with the node's own address while hosting the AP.
type Portal interface {
	Activate(ctx context.Context, addr netip.Addr) error
}

// Indicator is the status LED.
type Indicator interface {
	Blink(ctx context.Context)
}

type Options struct {
	ConnectAttempts int
	AttemptInterval time.Duration
	ReconnectWait   time.Duration
	APIdleTimeout   time.Duration
	UptimeCeiling   time.Duration
	// Now replaces time.Now.
	Now func() time.Time
}

type Controller struct {
	radio     Radio
	portal    Portal
	led       Indicator
	refresher watchdog.Refresher
	logger    *slog.Logger
	opts      Options

	state        atomic.Int32
	disconnected atomic.Bool
	activity     atomic.Bool

	mu          sync.Mutex
	boot        time.Time
	apWindowEnd time.Time
}

func NewController(radio Radio, portal Portal, led Indicator, refresher watchdog.Refresher, logger *slog.Logger, opts Options) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AttemptInterval <= 0 {
		opts.AttemptInterval = 500 * time.Millisecond
	}
	return &Controller{
		radio:     radio,
		portal:    portal,
		led:       led,
		refresher: refresher,
		logger:    logger,
		opts:      opts,
		boot:      opts.Now(),
	}
}

func (c *Controller) State() State { return State(c.state.Load()) }

// Online reports whether there is an upstream network.
func (c *Controller) Online() bool { return c.State() == StateConnected }

func (c *Controller) Addr() netip.Addr { return c.radio.Addr() }

func (c *Controller) RSSI() int { return c.radio.RSSI() }

// Uptime is the time since the controller was created.
func (c *Controller) Uptime() time.Duration { return c.opts.Now().Sub(c.boot) }

func (c *Controller) setState(s State) {
	if prev := State(c.state.Swap(int32(s))); prev != s {
		c.logger.Info("connectivity state", "from", prev, "to", s)
	}
}

// OnDisconnect is called by the radio driver when the station link drops.
// It may run on any goroutine.
func (c *Controller) OnDisconnect() { c.disconnected.Store(true) }

// MarkActivity records that someone used the setup pages.
func (c *Controller) MarkActivity() { c.activity.Store(true) }

// Start brings the link up for rec: join the strongest matching network,
// or fall back to hosting an access point.
func (c *Controller) Start(ctx context.Context, rec settings.Record) error {
	ssid, ok := rec.SSID.Get()
	if !ok {
		c.logger.Info("no ssid configured")
		return c.fallback(ctx, rec.Name())
	}

	c.setState(StateScanning)
	c.refresher.Refresh()
	aps, err := c.radio.Scan(ctx)
	c.refresher.Refresh()
	if err != nil {
		c.logger.Warn("scan failed", "error", err)
		return c.fallback(ctx, rec.Name())
	}

	ap, found := SelectBest(aps, ssid)
	if !found {
		c.logger.Warn("ssid not found", "ssid", ssid, "seen", len(aps))
		return c.fallback(ctx, rec.Name())
	}

	c.setState(StateConnecting)
	c.logger.Info("joining", "ssid", ap.SSID, "bssid", ap.BSSID, "rssi", ap.RSSI)
	if err := c.radio.Join(ctx, ap, rec.SSIDPassword.Or("")); err != nil {
		c.logger.Warn("join failed", "error", err)
		return c.fallback(ctx, rec.Name())
	}

	if !c.awaitJoin(ctx) {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.logger.Warn("join timed out", "attempts", c.opts.ConnectAttempts)
		return c.fallback(ctx, rec.Name())
	}

	c.disconnected.Store(false)
	c.setState(StateConnected)
	c.logger.Info("station connected", "addr", c.radio.Addr(), "rssi", c.radio.RSSI())

	if err := c.radio.SyncTime(ctx); err != nil {
		c.logger.Warn("time sync failed", "error", err)
	}
	return nil
}

func (c *Controller) awaitJoin(ctx context.Context) bool {
	for i := 0; i < c.opts.ConnectAttempts; i++ {
		c.refresher.Refresh()
		if c.radio.Connected() {
			return true
		}
		c.led.Blink(ctx)
		if !sleep(ctx, c.opts.AttemptInterval) {
			return false
		}
	}
	return c.radio.Connected()
}

func (c *Controller) fallback(ctx context.Context, name string) error {
	c.setState(StateAccessPoint)
	if err := c.radio.StartAP(ctx, name); err != nil {
		return err
	}
	addr := c.radio.Addr()
	if err := c.portal.Activate(ctx, addr); err != nil {
		// The setup page stays reachable by address and the idle window
		// still bounds the stay in AP mode.
		c.logger.Warn("captive dns unavailable", "addr", addr, "error", err)
	}

	c.mu.Lock()
	c.apWindowEnd = c.opts.Now().Add(c.opts.APIdleTimeout)
	c.mu.Unlock()
	c.activity.Store(false)

	c.logger.Info("access point up", "name", name, "addr", addr)
	return nil
}

// Poll runs once per loop tick and returns a reboot reason when the node can
// no longer make progress. A dropped station link blocks here for at most
// ReconnectWait.
func (c *Controller) Poll(ctx context.Context, now time.Time) (watchdog.Reason, bool) {
	if now.Sub(c.boot) >= c.opts.UptimeCeiling {
		return watchdog.ReasonUptime, true
	}

	switch c.State() {
	case StateConnected:
		if c.disconnected.Load() || !c.radio.Connected() {
			return c.awaitReconnect(ctx)
		}
	case StateAccessPoint:
		c.mu.Lock()
		defer c.mu.Unlock()
		if now.Before(c.apWindowEnd) {
			return "", false
		}
		if c.activity.Swap(false) {
			c.apWindowEnd = now.Add(c.opts.APIdleTimeout)
			return "", false
		}
		return watchdog.ReasonAPIdle, true
	}
	return "", false
}

func (c *Controller) awaitReconnect(ctx context.Context) (watchdog.Reason, bool) {
	c.setState(StateConnecting)
	c.logger.Warn("station link lost", "wait", c.opts.ReconnectWait)

	deadline := c.opts.Now().Add(c.opts.ReconnectWait)
	step := min(c.opts.AttemptInterval, c.opts.ReconnectWait)
	for {
		c.refresher.Refresh()
		if c.radio.Connected() {
			c.disconnected.Store(false)
			c.setState(StateConnected)
			return "", false
		}
		if !c.opts.Now().Before(deadline) {
			return watchdog.ReasonDisconnected, true
		}
		if !sleep(ctx, step) {
			return "", false
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
