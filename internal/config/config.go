package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string
	DNSAddr  string

	DBDriver string
	NVSPath  string

	SensorDriver     string
	BME280Address    uint16
	SerialPort       string
	SerialBaud       int
	SensorRetryDelay time.Duration

	RadioDriver     string
	SimAccessPoints string
	LEDPin          string

	MQTTPort int

	CalibrationURL      string
	CalibrationInterval time.Duration

	WatchdogTimeout time.Duration
	TickInterval    time.Duration
	ConnectAttempts int
	ReconnectWait   time.Duration
	APIdleTimeout   time.Duration
	UptimeCeiling   time.Duration
}

// source resolves a setting from the environment first, then from the
// optional YAML file named by CONFIG_FILE.
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(s.file[strings.ToLower(key)])
}

func (s source) str(key, def string) string {
	if v := s.get(key); v != "" {
		return v
	}
	return def
}

func (s source) duration(key, def string) (time.Duration, error) {
	raw := s.str(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func (s source) integer(key, def string) (int, error) {
	raw := s.str(key, def)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func loadFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("CONFIG_FILE %q: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("CONFIG_FILE %q: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[strings.ToLower(strings.TrimSpace(k))] = fmt.Sprint(v)
	}
	return out, nil
}

func LoadFromEnv() (Config, error) {
	file, err := loadFile(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
	if err != nil {
		return Config{}, err
	}
	src := source{file: file}

	appEnv := src.str("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(src.str("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	dbDriver := src.str("DB_DRIVER", "sqlite3")
	switch dbDriver {
	case "sqlite3", "sqlite":
	default:
		return Config{}, fmt.Errorf("invalid DB_DRIVER %q (allowed: sqlite3, sqlite)", dbDriver)
	}

	sensorDriver := src.str("SENSOR_DRIVER", "bme280")
	switch sensorDriver {
	case "bme280", "serial", "sim":
	default:
		return Config{}, fmt.Errorf("invalid SENSOR_DRIVER %q (allowed: bme280, serial, sim)", sensorDriver)
	}

	radioDriver := src.str("RADIO_DRIVER", "host")
	switch radioDriver {
	case "host", "sim":
	default:
		return Config{}, fmt.Errorf("invalid RADIO_DRIVER %q (allowed: host, sim)", radioDriver)
	}

	bme280AddressStr := src.str("BME280_ADDRESS", "0x76")
	bme280Address, err := strconv.ParseUint(bme280AddressStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BME280_ADDRESS %q: %w", bme280AddressStr, err)
	}

	serialBaud, err := src.integer("SERIAL_BAUD", "9600")
	if err != nil {
		return Config{}, err
	}
	mqttPort, err := src.integer("MQTT_PORT", "1883")
	if err != nil {
		return Config{}, err
	}
	connectAttempts, err := src.integer("CONNECT_ATTEMPTS", "60")
	if err != nil {
		return Config{}, err
	}
	if connectAttempts <= 0 {
		return Config{}, fmt.Errorf("CONNECT_ATTEMPTS must be positive, got %d", connectAttempts)
	}

	cfg := Config{
		AppEnv:          appEnv,
		LogLevel:        level,
		HTTPAddr:        src.str("HTTP_ADDR", ":80"),
		DNSAddr:         src.str("DNS_ADDR", ":53"),
		DBDriver:        dbDriver,
		NVSPath:         src.str("NVS_PATH", "/var/lib/envnode/nvs.db"),
		SensorDriver:    sensorDriver,
		BME280Address:   uint16(bme280Address),
		SerialPort:      src.str("SERIAL_PORT", "/dev/ttyUSB0"),
		SerialBaud:      serialBaud,
		RadioDriver:     radioDriver,
		SimAccessPoints: src.get("SIM_ACCESS_POINTS"),
		LEDPin:          src.get("LED_PIN"),
		MQTTPort:        mqttPort,
		CalibrationURL:  strings.TrimRight(src.str("CALIBRATION_URL", "https://api.weather.gov"), "/"),
		ConnectAttempts: connectAttempts,
	}
	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"SENSOR_RETRY_DELAY", "1s", &cfg.SensorRetryDelay},
		{"CALIBRATION_INTERVAL", "1h", &cfg.CalibrationInterval},
		{"WATCHDOG_TIMEOUT", "15s", &cfg.WatchdogTimeout},
		{"TICK_INTERVAL", "100ms", &cfg.TickInterval},
		{"RECONNECT_WAIT", "30s", &cfg.ReconnectWait},
		{"AP_IDLE_TIMEOUT", "5m", &cfg.APIdleTimeout},
		{"UPTIME_CEILING", "24h", &cfg.UptimeCeiling},
	}
	for _, d := range durations {
		v, err := src.duration(d.key, d.def)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	return cfg, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
