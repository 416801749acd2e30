// Package settings holds the device configuration record: an in-memory view
// with optional fields over a fixed-size, flag-per-field persisted block.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"envnode/internal/nvs"
)

// Block is the persisted region the record lives in.
type Block interface {
	ReadBlock(ctx context.Context) ([]byte, error)
	WriteBlock(ctx context.Context, payload []byte) error
}

// Store owns the current record. It is safe for use from HTTP handlers and
// the main loop at once.
type Store struct {
	block  Block
	logger *slog.Logger

	mu      sync.RWMutex
	current Record

	stale atomic.Bool
}

func NewStore(block Block, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{block: block, logger: logger, current: Defaults()}
	s.stale.Store(true)
	return s
}

// Load re-reads the persisted record. A blank block is a first boot; any
// read or decode failure falls back to defaults and is returned alongside.
func (s *Store) Load(ctx context.Context) (Record, error) {
	rec, err := s.read(ctx)
	if err != nil && !errors.Is(err, nvs.ErrBlank) {
		s.logger.Warn("settings load failed, using defaults", "error", err)
	} else {
		err = nil
	}

	s.mu.Lock()
	s.current = rec
	s.mu.Unlock()
	s.stale.Store(true)

	s.logger.Info("settings loaded",
		"hostname", rec.Name(),
		"hostname_stored", rec.Hostname.IsSet(),
		"ssid", rec.SSID.Or(""),
		"ssid_stored", rec.SSID.IsSet(),
		"mqtt_server", rec.MQTTServer.Or(""),
		"samples_per_publish", rec.Samples(),
		"publish_interval_ms", rec.Interval().Milliseconds(),
		"nws_station", rec.NWSStation.Or(""),
	)
	return rec, err
}

func (s *Store) read(ctx context.Context) (Record, error) {
	raw, err := s.block.ReadBlock(ctx)
	if err != nil {
		return Defaults(), err
	}
	rec, err := Decode(raw)
	if err != nil {
		return Defaults(), err
	}
	return rec, nil
}

// Save replaces the whole record with one built from f and persists it in a
// single write. On failure the in-memory record keeps the last persisted
// state. Derived artifacts are only marked stale; rebuilding them is the
// caller's loop's job.
func (s *Store) Save(ctx context.Context, f Fields) (Record, error) {
	return s.replace(ctx, FromFields(f), "save")
}

// Wipe resets every field to absent and persists. Rebooting afterwards is the
// caller's decision.
func (s *Store) Wipe(ctx context.Context) (Record, error) {
	return s.replace(ctx, Defaults(), "wipe")
}

func (s *Store) replace(ctx context.Context, next Record, op string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.block.WriteBlock(ctx, next.Encode()); err != nil {
		s.logger.Error("settings "+op+" failed", "error", err)
		return s.current, fmt.Errorf("settings %s: %w", op, err)
	}
	s.current = next
	s.stale.Store(true)
	s.logger.Info("settings "+op, "station_mode", next.StationMode(), "samples_per_publish", next.Samples())
	return next, nil
}

func (s *Store) Current() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// ConsumeStale reports whether the record changed since the last call.
func (s *Store) ConsumeStale() bool {
	return s.stale.Swap(false)
}

// Query parameter names accepted by ParseFields.
const (
	KeyHostname          = "hostname"
	KeySSID              = "ssid"
	KeySSIDPassword      = "ssid_pwd"
	KeyMQTTServer        = "mqtt_server"
	KeyMQTTUser          = "mqtt_user"
	KeyMQTTPassword      = "mqtt_pwd"
	KeySamplesPerPublish = "samples_per_publish"
	KeyPublishInterval   = "publish_interval"
	KeyNWSStation        = "nws_station"
)

// ParseFields reads a /save query. Missing or non-numeric numbers become 0,
// which clears the field.
func ParseFields(q url.Values) Fields {
	num := func(key string) int {
		n, err := strconv.Atoi(strings.TrimSpace(q.Get(key)))
		if err != nil {
			return 0
		}
		return n
	}
	return Fields{
		Hostname:          strings.TrimSpace(q.Get(KeyHostname)),
		SSID:              q.Get(KeySSID),
		SSIDPassword:      q.Get(KeySSIDPassword),
		MQTTServer:        strings.TrimSpace(q.Get(KeyMQTTServer)),
		MQTTUser:          q.Get(KeyMQTTUser),
		MQTTPassword:      q.Get(KeyMQTTPassword),
		SamplesPerPublish: num(KeySamplesPerPublish),
		PublishInterval:   num(KeyPublishInterval),
		NWSStation:        strings.ToUpper(strings.TrimSpace(q.Get(KeyNWSStation))),
	}
}

// Entry is one row of the setup page.
type Entry struct {
	Key         string
	Label       string
	Value       string
	Placeholder string
	Stored      bool
	Secret      bool
}

// Entries lists fields in form order. Value carries only what is stored, so
// re-submitting the form unchanged leaves unset fields unset; the effective
// default goes in Placeholder.
func (r Record) Entries() []Entry {
	str := func(key, label string, o Optional[string], def string, secret bool) Entry {
		return Entry{Key: key, Label: label, Value: o.Or(""), Placeholder: def, Stored: o.IsSet(), Secret: secret}
	}
	num := func(key, label string, v uint64, set bool, def uint64) Entry {
		e := Entry{Key: key, Label: label, Placeholder: strconv.FormatUint(def, 10), Stored: set}
		if set {
			e.Value = strconv.FormatUint(v, 10)
		}
		return e
	}
	samples, samplesSet := r.SamplesPerPublish.Get()
	interval, intervalSet := r.PublishInterval.Get()
	return []Entry{
		str(KeyHostname, "Hostname", r.Hostname, DefaultHostname, false),
		str(KeySSID, "Wi-Fi SSID", r.SSID, "", false),
		str(KeySSIDPassword, "Wi-Fi password", r.SSIDPassword, "", true),
		str(KeyMQTTServer, "MQTT server", r.MQTTServer, "", false),
		str(KeyMQTTUser, "MQTT user", r.MQTTUser, "", false),
		str(KeyMQTTPassword, "MQTT password", r.MQTTPassword, "", true),
		num(KeySamplesPerPublish, "Samples per publish", uint64(samples), samplesSet, DefaultSamplesPerPublish),
		num(KeyPublishInterval, "Publish interval (ms)", uint64(interval), intervalSet, DefaultPublishInterval),
		str(KeyNWSStation, "NWS station", r.NWSStation, "", false),
	}
}
