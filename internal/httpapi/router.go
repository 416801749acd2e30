// Package httpapi serves the node's pages, its configuration actions and a
// small status API.
package httpapi

import (
	"net/http"

	"envnode/internal/device"
	"envnode/internal/utils"
)

// Router dispatches on exact path through a fixed table.
type Router struct {
	dev    *device.Device
	routes map[string]route
}

func NewRouter(dev *device.Device, db pinger) *Router {
	rt := &Router{dev: dev, routes: make(map[string]route)}
	table := append(routeTable(), route{http.MethodGet, "/healthz", handleHealthz(db)})
	for _, r := range table {
		rt.routes[r.path] = r
	}
	return rt
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entry, ok := rt.routes[r.URL.Path]
	if !ok {
		utils.WriteText(w, http.StatusNotFound, r.URL.Path+" Not found!")
		return
	}
	if r.Method != entry.method && !(entry.method == http.MethodGet && r.Method == http.MethodHead) {
		w.Header().Set("Allow", entry.method)
		utils.WriteText(w, http.StatusMethodNotAllowed, r.Method+" not allowed")
		return
	}
	entry.handler(w, r, rt.dev)
}
