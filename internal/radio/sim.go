// Package radio holds the Wi-Fi drivers behind connectivity.Radio.
package radio

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"sync"

	"envnode/internal/connectivity"
)

var (
	simAPAddr      = netip.MustParseAddr("192.168.4.1")
	simStationAddr = netip.MustParseAddr("192.168.1.50")
)

// Sim is a scripted radio. Joining any scanned access point succeeds at once.
type Sim struct {
	mu        sync.Mutex
	aps       []connectivity.AccessPoint
	joined    *connectivity.AccessPoint
	connected bool
	apMode    bool
	onDrop    func()
}

func NewSim(aps []connectivity.AccessPoint) *Sim {
	return &Sim{aps: aps}
}

// ParseAccessPoints reads "ssid:rssi,ssid:rssi". BSSIDs are assigned in
// order.
func ParseAccessPoints(list string) ([]connectivity.AccessPoint, error) {
	var out []connectivity.AccessPoint
	for i, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		ssid, rssiStr, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("access point %q: want ssid:rssi", item)
		}
		rssi, err := strconv.Atoi(rssiStr)
		if err != nil {
			return nil, fmt.Errorf("access point %q: %w", item, err)
		}
		out = append(out, connectivity.AccessPoint{
			SSID:  ssid,
			BSSID: fmt.Sprintf("02:00:00:00:00:%02x", i+1),
			RSSI:  rssi,
		})
	}
	return out, nil
}

// OnDrop registers the handler Drop calls.
func (s *Sim) OnDrop(f func()) {
	s.mu.Lock()
	s.onDrop = f
	s.mu.Unlock()
}

func (s *Sim) Scan(ctx context.Context) ([]connectivity.AccessPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]connectivity.AccessPoint(nil), s.aps...), nil
}

func (s *Sim) Join(_ context.Context, ap connectivity.AccessPoint, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, known := range s.aps {
		if known.BSSID == ap.BSSID {
			s.joined = &ap
			s.connected = true
			return nil
		}
	}
	return fmt.Errorf("bssid %s not in range", ap.BSSID)
}

func (s *Sim) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Drop severs the station link.
func (s *Sim) Drop() {
	s.mu.Lock()
	s.connected = false
	f := s.onDrop
	s.mu.Unlock()
	if f != nil {
		f()
	}
}

func (s *Sim) StartAP(context.Context, string) error {
	s.mu.Lock()
	s.apMode, s.connected = true, false
	s.mu.Unlock()
	return nil
}

func (s *Sim) Addr() netip.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.apMode {
		return simAPAddr
	}
	return simStationAddr
}

func (s *Sim) RSSI() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.joined == nil {
		return 0
	}
	return s.joined.RSSI
}

func (s *Sim) SyncTime(context.Context) error { return nil }
