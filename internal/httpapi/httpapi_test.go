package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"envnode/internal/calibration"
	"envnode/internal/connectivity"
	"envnode/internal/device"
	"envnode/internal/logging"
	"envnode/internal/nvs"
	"envnode/internal/radio"
	"envnode/internal/sampling"
	"envnode/internal/sensor"
	"envnode/internal/settings"
	"envnode/internal/views"
	"envnode/internal/watchdog"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type stubCalibrator struct{}

func (stubCalibrator) Fetch(context.Context, string) calibration.Pressure { return calibration.Invalid }

type stubSensor struct{}

func (stubSensor) Sense(context.Context) (sensor.Reading, error) {
	return sensor.Reading{TemperatureC: 21, Humidity: 40, PressureHPa: 1000}, nil
}

func (stubSensor) Close() error { return nil }

type stubPortal struct{}

func (stubPortal) Activate(context.Context, netip.Addr) error { return nil }

type stubLED struct{}

func (stubLED) Blink(context.Context) {}

type stubRefresher struct{}

func (stubRefresher) Refresh() {}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

type fixture struct {
	dev   *device.Device
	block *nvs.MemBlock
	srv   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if err := views.LoadTemplates(); err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	logger := logging.Discard()
	block := &nvs.MemBlock{}
	store := settings.NewStore(block, logger)

	conn := connectivity.NewController(radio.NewSim(nil), stubPortal{}, stubLED{}, stubRefresher{}, logger, connectivity.Options{
		APIdleTimeout: 5 * time.Minute,
		UptimeCeiling: 24 * time.Hour,
		Now:           func() time.Time { return t0 },
	})
	if err := conn.Start(context.Background(), store.Current()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	dev := device.New(device.Deps{
		Store:      store,
		Aggregator: sampling.New(stubCalibrator{}, time.Hour, logger),
		Conn:       conn,
		Watchdog:   stubRefresher{},
		Reboot:     &watchdog.Reboot{},
		Sensor:     stubSensor{},
		Pages:      &views.Pages{},
		Version:    "test",
	}, logger)

	srv := httptest.NewServer(Handler(dev, stubPinger{}, logger))
	t.Cleanup(srv.Close)
	return &fixture{dev: dev, block: block, srv: srv}
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	if err := f.dev.Tick(context.Background(), t0); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	client := f.srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, err := client.Get(f.srv.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return resp, string(body)
}

func TestRoot_redirectsToIndex(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.get(t, "/")
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/index.html" {
		t.Fatalf("GET / = %d %q; want 302 /index.html", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestPages_unavailableUntilRendered(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.get(t, "/index.html")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("index before first tick = %d; want 503", resp.StatusCode)
	}

	f.tick(t)
	resp, body := f.get(t, "/index.html")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("index = %d; want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "<h1>envnode</h1>") {
		t.Errorf("index body = %q", body)
	}

	resp, body = f.get(t, "/setup.html")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `action="/save"`) {
		t.Errorf("setup = %d %q", resp.StatusCode, body)
	}
}

func TestProbePaths_serveIndex(t *testing.T) {
	f := newFixture(t)
	f.tick(t)

	for _, p := range probePaths {
		resp, body := f.get(t, p)
		if resp.StatusCode != http.StatusOK || !strings.Contains(body, "<h1>envnode</h1>") {
			t.Errorf("GET %s = %d; want the index page", p, resp.StatusCode)
		}
	}
}

func TestSave(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.get(t, "/save?hostname=porch&ssid=home&samples_per_publish=3&publish_interval=30000")
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/setup.html" {
		t.Fatalf("GET /save = %d %q; want 303 /setup.html", resp.StatusCode, resp.Header.Get("Location"))
	}

	rec := f.dev.Store.Current()
	if rec.Name() != "porch" || rec.SSID.Or("") != "home" {
		t.Errorf("record = %+v", rec)
	}
	if rec.SamplesPerPublish.IsSet() {
		t.Error("samples_per_publish=3 was stored; want rejected")
	}
	if rec.Interval() != 30*time.Second {
		t.Errorf("interval = %v; want 30s", rec.Interval())
	}
	if f.block.Writes() != 1 {
		t.Errorf("writes = %d; want 1", f.block.Writes())
	}
}

func TestSave_writeFailure(t *testing.T) {
	f := newFixture(t)
	f.block.FailWrites = true

	resp, _ := f.get(t, "/save?hostname=porch")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("GET /save = %d; want 500", resp.StatusCode)
	}
	if f.dev.Store.Current().Hostname.IsSet() {
		t.Error("failed save changed the in-memory record")
	}
}

func TestLoad(t *testing.T) {
	f := newFixture(t)
	f.get(t, "/save?hostname=porch")

	resp, _ := f.get(t, "/load")
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("GET /load = %d; want 303", resp.StatusCode)
	}
	if f.dev.Store.Current().Name() != "porch" {
		t.Errorf("name after load = %q; want porch", f.dev.Store.Current().Name())
	}
}

func TestWipe(t *testing.T) {
	t.Run("noreboot", func(t *testing.T) {
		f := newFixture(t)
		f.get(t, "/save?hostname=porch")

		resp, _ := f.get(t, "/wipe?noreboot")
		if resp.StatusCode != http.StatusSeeOther {
			t.Fatalf("GET /wipe?noreboot = %d; want 303", resp.StatusCode)
		}
		if f.dev.Store.Current().Hostname.IsSet() {
			t.Error("hostname survived wipe")
		}
		if _, ok := f.dev.Reboot.Pending(); ok {
			t.Error("wipe?noreboot requested a reboot")
		}
	})

	t.Run("reboots", func(t *testing.T) {
		f := newFixture(t)

		resp, _ := f.get(t, "/wipe")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET /wipe = %d; want 200", resp.StatusCode)
		}
		if reason, ok := f.dev.Reboot.Pending(); !ok || reason != watchdog.ReasonWipe {
			t.Errorf("pending = %q, %v; want wipe", reason, ok)
		}
	})
}

func TestReboot_firstReasonWins(t *testing.T) {
	f := newFixture(t)

	f.get(t, "/reboot")
	f.get(t, "/wipe")

	if reason, _ := f.dev.Reboot.Pending(); reason != watchdog.ReasonRequested {
		t.Errorf("pending = %q; want requested", reason)
	}
	var rebootErr *device.RebootError
	if err := f.dev.Tick(context.Background(), t0); !errors.As(err, &rebootErr) {
		t.Fatalf("Tick after /reboot = %v; want *RebootError", err)
	}
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/nope")
	if resp.StatusCode != http.StatusNotFound || body != "/nope Not found!" {
		t.Errorf("GET /nope = %d %q", resp.StatusCode, body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	resp, err := f.srv.Client().Post(f.srv.URL+"/save", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != http.MethodGet {
		t.Errorf("POST /save = %d allow=%q", resp.StatusCode, resp.Header.Get("Allow"))
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/api/v1/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st device.Status
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != "access-point" || st.IP != "192.168.4.1" || st.Name != "envnode" {
		t.Errorf("status = %+v", st)
	}
	if len(st.Stored) != 9 {
		t.Errorf("stored flags = %d; want 9", len(st.Stored))
	}
}

func TestHealthz(t *testing.T) {
	logger := logging.Discard()
	for _, tt := range []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"db down", errors.New("disk gone"), http.StatusInternalServerError},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			h := Handler(f.dev, stubPinger{err: tt.err}, logger)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if w.Code != tt.want {
				t.Errorf("healthz = %d; want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRequests_keepAccessPointAlive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := t0.Add(6 * time.Minute)

	f.get(t, "/setup.html")
	if _, reboot := f.dev.Conn.Poll(ctx, past); reboot {
		t.Fatal("access point expired despite a request")
	}
	if reason, reboot := f.dev.Conn.Poll(ctx, past.Add(6*time.Minute)); !reboot || reason != watchdog.ReasonAPIdle {
		t.Fatalf("idle access point = %q, %v; want ap-idle", reason, reboot)
	}
}

func TestRequestLogger_recordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := requestLogger(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	if !strings.Contains(buf.String(), `"status":418`) || !strings.Contains(buf.String(), `"path":"/x"`) {
		t.Errorf("log = %q", buf.String())
	}
}
