// Package calibration fetches the sea-level reference pressure used to turn
// station pressure into altitude.
package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/relvacode/iso8601"
)

// Pressure is a sea-level reference in hPa.
type Pressure float64

const (
	// Invalid means no usable reference this cycle. It is never a value to
	// average or publish.
	Invalid Pressure = -32768
	// Default is the standard atmosphere, used when no station is configured.
	Default Pressure = 1013.25

	minPlausible Pressure = 870
	maxPlausible Pressure = 1090
)

func (p Pressure) Valid() bool {
	return p >= minPlausible && p <= maxPlausible
}

func (p Pressure) String() string {
	if p == Invalid {
		return "invalid"
	}
	return fmt.Sprintf("%.2fhPa", float64(p))
}

var (
	ErrOffline     = errors.New("calibration: no internet path")
	ErrNoValue     = errors.New("calibration: observation has no sea-level pressure")
	ErrImplausible = errors.New("calibration: implausible sea-level pressure")
)

// Link reports whether the node has an upstream network.
type Link interface {
	Online() bool
}

// Refresher is fed around the blocking request.
type Refresher interface {
	Refresh()
}

type Observation struct {
	Pressure Pressure
	At       time.Time
}

type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// HTTPClient overrides the default client; Timeout is ignored then.
	HTTPClient *http.Client
}

type Client struct {
	base      string
	ua        string
	http      *http.Client
	link      Link
	refresher Refresher
	logger    *slog.Logger
}

func New(opts Options, link Link, refresher Refresher, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "envnode"
	}
	return &Client{base: opts.BaseURL, ua: ua, http: hc, link: link, refresher: refresher, logger: logger}
}

// Fetch returns the current reference for stationID. An empty station yields
// Default; every failure yields Invalid.
func (c *Client) Fetch(ctx context.Context, stationID string) Pressure {
	if stationID == "" {
		return Default
	}
	obs, err := c.Observe(ctx, stationID)
	if err != nil {
		c.logger.Warn("sea-level calibration failed", "station", stationID, "error", err)
		return Invalid
	}
	attrs := []any{"station", stationID, "pressure", obs.Pressure}
	if !obs.At.IsZero() {
		attrs = append(attrs, "observed_at", obs.At, "age", time.Since(obs.At).Round(time.Second))
	}
	c.logger.Info("sea-level calibration", attrs...)
	return obs.Pressure
}

type observationDoc struct {
	Properties struct {
		Timestamp        string `json:"timestamp"`
		SeaLevelPressure struct {
			UnitCode string   `json:"unitCode"`
			Value    *float64 `json:"value"`
		} `json:"seaLevelPressure"`
	} `json:"properties"`
}

// Observe reads the latest observation of stationID.
func (c *Client) Observe(ctx context.Context, stationID string) (Observation, error) {
	if c.link != nil && !c.link.Online() {
		return Observation{}, ErrOffline
	}
	if c.refresher != nil {
		c.refresher.Refresh()
		defer c.refresher.Refresh()
	}

	u := fmt.Sprintf("%s/stations/%s/observations/latest", c.base, url.PathEscape(stationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Observation{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Observation{}, fmt.Errorf("get observation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Observation{}, fmt.Errorf("get observation: status %d", resp.StatusCode)
	}

	var doc observationDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Observation{}, fmt.Errorf("decode observation: %w", err)
	}

	v := doc.Properties.SeaLevelPressure.Value
	if v == nil {
		return Observation{}, ErrNoValue
	}
	p := Pressure(*v / 100)
	if !p.Valid() {
		return Observation{}, fmt.Errorf("%w: %v", ErrImplausible, *v)
	}

	obs := Observation{Pressure: p}
	if ts := doc.Properties.Timestamp; ts != "" {
		at, err := iso8601.ParseString(ts)
		if err != nil {
			return Observation{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		obs.At = at
	}
	return obs, nil
}
