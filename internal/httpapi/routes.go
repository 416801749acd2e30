package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"envnode/internal/device"
	"envnode/internal/settings"
	"envnode/internal/utils"
	"envnode/internal/watchdog"
)

type handlerFunc func(w http.ResponseWriter, r *http.Request, dev *device.Device)

type route struct {
	method  string
	path    string
	handler handlerFunc
}

// probePaths are fetched by phones and laptops to detect a captive portal.
var probePaths = []string{
	"/hotspot-detect.html",
	"/library/test/success.html",
	"/generate_204",
	"/gen_204",
	"/ncsi.txt",
	"/check_network_status.txt",
}

func routeTable() []route {
	routes := []route{
		{http.MethodGet, "/", handleRoot},
		{http.MethodGet, "/index.html", handleIndex},
		{http.MethodGet, "/setup.html", handleSetup},
		{http.MethodGet, "/save", handleSave},
		{http.MethodGet, "/load", handleLoad},
		{http.MethodGet, "/wipe", handleWipe},
		{http.MethodGet, "/reboot", handleReboot},
		{http.MethodGet, "/api/v1/status", handleStatus},
	}
	for _, p := range probePaths {
		routes = append(routes, route{http.MethodGet, p, handleIndex})
	}
	return routes
}

func handleRoot(w http.ResponseWriter, r *http.Request, _ *device.Device) {
	http.Redirect(w, r, "/index.html", http.StatusFound)
}

func handleIndex(w http.ResponseWriter, _ *http.Request, dev *device.Device) {
	writePage(w, dev.Pages.Index())
}

func handleSetup(w http.ResponseWriter, _ *http.Request, dev *device.Device) {
	writePage(w, dev.Pages.Setup())
}

func writePage(w http.ResponseWriter, page []byte) {
	if page == nil {
		utils.WriteText(w, http.StatusServiceUnavailable, "starting up, try again shortly")
		return
	}
	utils.WriteHTML(w, http.StatusOK, page)
}

func handleSave(w http.ResponseWriter, r *http.Request, dev *device.Device) {
	fields := settings.ParseFields(r.URL.Query())
	if _, err := dev.Store.Save(r.Context(), fields); err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "settings not saved")
		return
	}
	http.Redirect(w, r, "/setup.html", http.StatusSeeOther)
}

func handleLoad(w http.ResponseWriter, r *http.Request, dev *device.Device) {
	if _, err := dev.Store.Load(r.Context()); err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "settings not loaded, defaults in use")
		return
	}
	http.Redirect(w, r, "/setup.html", http.StatusSeeOther)
}

func handleWipe(w http.ResponseWriter, r *http.Request, dev *device.Device) {
	if _, err := dev.Store.Wipe(r.Context()); err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "settings not wiped")
		return
	}
	if r.URL.Query().Has("noreboot") {
		http.Redirect(w, r, "/setup.html", http.StatusSeeOther)
		return
	}
	dev.Reboot.Request(watchdog.ReasonWipe)
	utils.WriteText(w, http.StatusOK, "Settings wiped, rebooting")
}

func handleReboot(w http.ResponseWriter, _ *http.Request, dev *device.Device) {
	dev.Reboot.Request(watchdog.ReasonRequested)
	utils.WriteText(w, http.StatusOK, "Rebooting")
}

func handleStatus(w http.ResponseWriter, _ *http.Request, dev *device.Device) {
	utils.WriteJSON(w, http.StatusOK, dev.Status())
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func handleHealthz(db pinger) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ *device.Device) {
		if err := db.PingContext(r.Context()); err != nil {
			slog.Error("failed to check database connectivity", "error", err)
			utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
