// Package led drives the status LED.
package led

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// pattern is on/off/on, then off.
var pattern = []time.Duration{200 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}

// LED blinks a GPIO pin. A nil pin makes every call a no-op.
type LED struct {
	pin    gpio.PinOut
	logger *slog.Logger
}

// Open resolves name through periph's GPIO registry. An empty name gives a
// disabled LED.
func Open(name string, logger *slog.Logger) (*LED, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		return &LED{logger: logger}, nil
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host.Init: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	return New(pin, logger), nil
}

func New(pin gpio.PinOut, logger *slog.Logger) *LED {
	if logger == nil {
		logger = slog.Default()
	}
	return &LED{pin: pin, logger: logger}
}

// Blink plays the pattern and leaves the LED off.
func (l *LED) Blink(ctx context.Context) {
	if l.pin == nil {
		return
	}
	defer l.set(gpio.Low)

	level := gpio.High
	for _, d := range pattern {
		l.set(level)
		level = !level
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (l *LED) set(level gpio.Level) {
	if err := l.pin.Out(level); err != nil {
		l.logger.Debug("led write", "error", err)
	}
}
