// Package watchdog guards liveness. A Watchdog expires when nothing refreshes
// it within its timeout; a Reboot carries the single pending restart request.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Reason names why the node is restarting.
type Reason string

const (
	ReasonWatchdog     Reason = "watchdog"
	ReasonAPIdle       Reason = "ap-idle"
	ReasonUptime       Reason = "uptime"
	ReasonDisconnected Reason = "disconnected"
	ReasonRequested    Reason = "requested"
	ReasonWipe         Reason = "wipe"
)

// ExpiredError is returned by Run once the timeout has been missed.
type ExpiredError struct {
	Since time.Duration
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("watchdog expired: no refresh for %v", e.Since.Round(time.Millisecond))
}

// Refresher is what slow operations call to stay alive.
type Refresher interface {
	Refresh()
}

type Watchdog struct {
	timeout  time.Duration
	now      func() time.Time
	start    time.Time
	last     atomic.Int64
	onExpire func(since time.Duration)
	logger   *slog.Logger
}

type Option func(*Watchdog)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) { w.now = now }
}

// WithExpireHook runs f from the monitor goroutine on expiry, before Run
// returns. The process entrypoint uses it to exit without waiting for a
// stuck loop to unwind.
func WithExpireHook(f func(since time.Duration)) Option {
	return func(w *Watchdog) { w.onExpire = f }
}

func New(timeout time.Duration, logger *slog.Logger, opts ...Option) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watchdog{timeout: timeout, now: time.Now, logger: logger}
	for _, o := range opts {
		o(w)
	}
	w.start = w.now()
	return w
}

// Refresh records liveness. It only stores an integer and may be called from
// any goroutine.
func (w *Watchdog) Refresh() {
	w.last.Store(int64(w.now().Sub(w.start)))
}

// Since is the time elapsed since the last refresh.
func (w *Watchdog) Since() time.Duration {
	return w.now().Sub(w.start) - time.Duration(w.last.Load())
}

// Run monitors until ctx ends or the timeout is missed.
func (w *Watchdog) Run(ctx context.Context) error {
	period := w.timeout / 4
	if period <= 0 {
		period = time.Millisecond
	}
	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if since := w.Since(); since > w.timeout {
				w.logger.Error("watchdog expired", "since", since, "timeout", w.timeout)
				if w.onExpire != nil {
					w.onExpire(since)
				}
				return &ExpiredError{Since: since}
			}
		}
	}
}

// Reboot is a single-slot restart request. The first reason wins; later
// requests are ignored until the process restarts.
type Reboot struct {
	reason atomic.Pointer[Reason]
}

// Request records reason and reports whether it was the first.
func (r *Reboot) Request(reason Reason) bool {
	return r.reason.CompareAndSwap(nil, &reason)
}

func (r *Reboot) Pending() (Reason, bool) {
	p := r.reason.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}
