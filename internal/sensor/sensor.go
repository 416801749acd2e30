// Package sensor reads temperature, humidity and pressure from the attached
// environmental sensor.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"envnode/internal/config"
)

// Reading is one raw measurement.
type Reading struct {
	TemperatureC float64
	Humidity     float64 // %rH
	PressureHPa  float64
}

type Sensor interface {
	Sense(ctx context.Context) (Reading, error)
	Close() error
}

// Opener connects to a sensor.
type Opener func(ctx context.Context) (Sensor, error)

var ErrMalformed = errors.New("sensor: malformed reading")

// OpenerFor picks the driver named in cfg.
func OpenerFor(cfg config.Config) (Opener, error) {
	switch cfg.SensorDriver {
	case "bme280":
		return func(context.Context) (Sensor, error) { return OpenBME280(cfg.BME280Address) }, nil
	case "serial":
		return func(context.Context) (Sensor, error) { return OpenSerial(cfg.SerialPort, cfg.SerialBaud) }, nil
	case "sim":
		return func(context.Context) (Sensor, error) { return NewSim(), nil }, nil
	default:
		return nil, fmt.Errorf("unknown sensor driver %q", cfg.SensorDriver)
	}
}

// Refresher keeps the watchdog fed while waiting.
type Refresher interface {
	Refresh()
}

// WaitReady opens the sensor and takes a first reading, retrying every delay
// until it succeeds or ctx ends. The node does nothing useful without a
// sensor, so there is no attempt limit.
func WaitReady(ctx context.Context, open Opener, delay time.Duration, wd Refresher, logger *slog.Logger) (Sensor, error) {
	for attempt := 1; ; attempt++ {
		wd.Refresh()
		s, err := open(ctx)
		if err == nil {
			if _, err = s.Sense(ctx); err == nil {
				logger.Info("sensor ready", "attempts", attempt)
				return s, nil
			}
			_ = s.Close()
		}
		if attempt == 1 || attempt%10 == 0 {
			logger.Warn("sensor not ready", "attempt", attempt, "error", err)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
