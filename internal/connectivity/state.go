package connectivity

// State is the link mode of the node.
type State int32

const (
	StateBoot State = iota
	StateScanning
	StateConnecting
	StateConnected
	StateAccessPoint
)

func (s State) String() string {
	switch s {
	case StateBoot:
		return "boot"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAccessPoint:
		return "access-point"
	default:
		return "unknown"
	}
}

// AccessPoint is one scan result.
type AccessPoint struct {
	SSID  string
	BSSID string
	RSSI  int // dBm
}

// SelectBest picks the strongest access point advertising ssid. On equal
// strength the earliest entry wins.
func SelectBest(aps []AccessPoint, ssid string) (AccessPoint, bool) {
	var (
		best  AccessPoint
		found bool
	)
	for _, ap := range aps {
		if ap.SSID != ssid {
			continue
		}
		if !found || ap.RSSI > best.RSSI {
			best, found = ap, true
		}
	}
	return best, found
}
