// Package sampling turns raw sensor reads into one outlier-trimmed, unit
// converted result per publish window.
package sampling

import (
	"context"
	"log/slog"
	"time"

	"github.com/chewxy/math32"

	"envnode/internal/calibration"
	"envnode/internal/settings"
)

const hPaToInHg = 0.02952998057228486

// Raw is one read of the sensor plus the radio.
type Raw struct {
	TemperatureC float64
	Humidity     float64
	PressureHPa  float64
	RSSI         float64 // dBm, negative
}

// Result is one published window. Nil channels were out of range or had no
// usable input and are not emitted.
type Result struct {
	At          time.Time `json:"at"`
	Samples     int       `json:"samples"`
	Temperature *float64  `json:"temperature_f,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Altitude    *float64  `json:"altitude_m,omitempty"`
	Pressure    *float64  `json:"pressure_inhg,omitempty"`
	Signal      *float64  `json:"signal_db,omitempty"`
	SeaLevel    *float64  `json:"sea_level_hpa,omitempty"`
}

type bounds struct{ lo, hi float64 }

func (b bounds) keep(v float64) *float64 {
	if v < b.lo || v > b.hi {
		return nil
	}
	return &v
}

var (
	tempRange     = bounds{-40, 185}     // °F
	humidityRange = bounds{0, 100}       // %
	altitudeRange = bounds{-1000, 10000} // m
	pressureRange = bounds{8.85, 32.5}   // inHg
	signalRange   = bounds{0, 120}       // dB
)

// Calibrator supplies the sea-level reference.
type Calibrator interface {
	Fetch(ctx context.Context, stationID string) calibration.Pressure
}

type Aggregator struct {
	calib         Calibrator
	calibInterval time.Duration
	logger        *slog.Logger

	w window

	// Zero means never.
	lastIngest      time.Time
	lastCalibration time.Time
	station         string
	reference       calibration.Pressure
}

func New(calib Calibrator, calibInterval time.Duration, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		calib:         calib,
		calibInterval: calibInterval,
		logger:        logger,
		reference:     calibration.Invalid,
	}
	a.w.reset()
	return a
}

// Due reports whether a sample should be taken at now. The first call after
// boot is always due.
func (a *Aggregator) Due(now time.Time, cadence time.Duration) bool {
	return a.lastIngest.IsZero() || now.Sub(a.lastIngest) >= cadence
}

// Count is the number of samples in the current window.
func (a *Aggregator) Count() int { return a.w.count }

// Reference is the sea-level pressure altitude is currently computed against.
func (a *Aggregator) Reference() calibration.Pressure { return a.reference }

// Ingest adds raw to the window. When the window holds rec.Samples() reads it
// returns the computed result and starts a new window.
func (a *Aggregator) Ingest(ctx context.Context, now time.Time, raw Raw, rec settings.Record) (Result, bool) {
	a.maybeCalibrate(ctx, now, rec.NWSStation.Or(""))

	a.w.ch[chTemperature].add(raw.TemperatureC)
	a.w.ch[chHumidity].add(raw.Humidity)
	a.w.ch[chPressure].add(raw.PressureHPa)
	a.w.ch[chSignal].add(raw.RSSI)
	if a.reference.Valid() {
		a.w.ch[chAltitude].add(Altitude(raw.PressureHPa, float64(a.reference)))
	}
	a.w.count++
	a.lastIngest = now

	k := rec.Samples()
	a.logger.Debug("sample gathered",
		"n", a.w.count, "of", k,
		"temperature_c", raw.TemperatureC,
		"humidity", raw.Humidity,
		"pressure_hpa", raw.PressureHPa,
		"rssi", raw.RSSI,
	)
	if a.w.count < k {
		return Result{}, false
	}

	res := a.compute(now)
	a.w.reset()
	return res, true
}

func (a *Aggregator) maybeCalibrate(ctx context.Context, now time.Time, station string) {
	switch {
	case a.lastCalibration.IsZero():
	case station != a.station:
	case !a.reference.Valid() && a.w.count == 0:
	case now.Sub(a.lastCalibration) >= a.calibInterval:
	default:
		return
	}
	a.reference = a.calib.Fetch(ctx, station)
	a.lastCalibration = now
	a.station = station
}

func (a *Aggregator) compute(now time.Time) Result {
	res := Result{At: now, Samples: a.w.count}

	if c, ok := a.complete(chTemperature); ok {
		res.Temperature = tempRange.keep(1.8*c + 32)
	}
	if h, ok := a.complete(chHumidity); ok {
		res.Humidity = humidityRange.keep(h)
	}
	if p, ok := a.complete(chPressure); ok {
		res.Pressure = pressureRange.keep(p * hPaToInHg)
	}
	if s, ok := a.complete(chSignal); ok {
		res.Signal = signalRange.keep(-s)
	}

	if a.reference.Valid() {
		if m, ok := a.complete(chAltitude); ok {
			res.Altitude = altitudeRange.keep(m)
		}
	}
	if a.reference.Valid() {
		sl := float64(a.reference)
		res.SeaLevel = &sl
	}

	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"temperature_f", res.Temperature},
		{"humidity", res.Humidity},
		{"altitude_m", res.Altitude},
		{"pressure_inhg", res.Pressure},
		{"signal_db", res.Signal},
	} {
		if f.v == nil {
			a.logger.Warn("channel suppressed", "channel", f.name, "reference", a.reference)
		}
	}
	return res
}

// complete is the trimmed mean of id, provided every ingest of the window
// contributed a usable sample to it.
func (a *Aggregator) complete(id channelID) (float64, bool) {
	c := a.w.ch[id]
	if c.n != a.w.count {
		return 0, false
	}
	return c.trimmedMean()
}

// Altitude is the barometric altitude in metres for station pressure p and
// sea-level reference p0, both in hPa.
func Altitude(p, p0 float64) float64 {
	return float64(44330 * (1 - math32.Pow(float32(p/p0), 0.1903)))
}
