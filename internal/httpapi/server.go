package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"envnode/internal/config"
	"envnode/internal/device"
)

func NewServer(cfg config.Config, dev *device.Device, db pinger, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           Handler(dev, db, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Handler is the full middleware chain around the route table.
func Handler(dev *device.Device, db pinger, logger *slog.Logger) http.Handler {
	return requestLogger(logger, markActivity(dev.Conn, NewRouter(dev, db)))
}
