package radio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"envnode/internal/connectivity"
)

// ErrNoLink is returned when the host has no usable network interface.
var ErrNoLink = errors.New("radio: no host link")

// Host leaves the link to the operating system. A scan reports the network
// the host is associated with; hosting an access point is left to the host
// too, so StartAP only records the request.
type Host struct {
	logger   *slog.Logger
	wireless string // /proc/net/wireless
}

func NewHost(logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{logger: logger, wireless: "/proc/net/wireless"}
}

func (h *Host) Scan(ctx context.Context) ([]connectivity.AccessPoint, error) {
	if !h.Addr().IsValid() {
		return nil, ErrNoLink
	}
	out, err := exec.CommandContext(ctx, "iwgetid", "-r").Output()
	if err != nil {
		return nil, fmt.Errorf("iwgetid: %w", err)
	}
	ssid := strings.TrimSpace(string(out))
	if ssid == "" {
		return nil, nil
	}
	return []connectivity.AccessPoint{{SSID: ssid, BSSID: "host", RSSI: h.RSSI()}}, nil
}

func (h *Host) Join(context.Context, connectivity.AccessPoint, string) error { return nil }

func (h *Host) Connected() bool { return h.Addr().IsValid() }

func (h *Host) StartAP(_ context.Context, name string) error {
	h.logger.Warn("access point requested; host manages the radio", "name", name)
	return nil
}

// Addr is the first non-loopback IPv4 address of an up interface.
func (h *Host) Addr() netip.Addr {
	ifaces, err := net.Interfaces()
	if err != nil {
		return netip.Addr{}
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip, ok := netip.AddrFromSlice(ipnet.IP.To4()); ok && ip.Is4() {
				return ip
			}
		}
	}
	return netip.Addr{}
}

// RSSI reads the signal level of the first wireless interface, 0 if none.
func (h *Host) RSSI() int {
	f, err := os.Open(h.wireless)
	if err != nil {
		return 0
	}
	defer f.Close()
	rssi, _ := parseWireless(f)
	return rssi
}

// parseWireless reads the level column of /proc/net/wireless:
//
//	Inter-| sta-|   Quality        |   Discarded packets
//	 face | tus | link level noise |  nwid  crypt   frag
//	 wlan0: 0000   54.  -56.  -256        0      0      0
func parseWireless(r io.Reader) (int, bool) {
	sc := bufio.NewScanner(r)
	for line := 0; sc.Scan(); line++ {
		if line < 2 {
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[3], "."), 64)
		if err != nil {
			continue
		}
		return int(level), true
	}
	return 0, false
}

// SyncTime is a no-op: the host runs its own NTP client.
func (h *Host) SyncTime(context.Context) error { return nil }
