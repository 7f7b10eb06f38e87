package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/r3e-network/micasa/internal/device"
	"github.com/r3e-network/micasa/internal/merr"
	"github.com/r3e-network/micasa/internal/metrics"
	"github.com/r3e-network/micasa/internal/middleware"
)

// Router is the thin HTTP front end exercising Adapter. It is not a
// complete REST API - JSON error formatting and full resource semantics
// are the out-of-scope HTTP layer's job (§6 Non-goals); this proves the
// adapter surface end to end and gives the metrics/rate-limit middleware
// something real to wrap.
type Router struct {
	mux *mux.Router
	svc Adapter
}

// NewRouter builds a Router backed by svc, wrapped with request metrics
// and per-client rate limiting.
func NewRouter(svc Adapter, m *metrics.Metrics, rl *middleware.RateLimiter) *Router {
	r := &Router{mux: mux.NewRouter(), svc: svc}

	r.mux.HandleFunc("/api/devices", r.listDevices).Methods(http.MethodGet)
	r.mux.HandleFunc("/api/devices/{id}", r.getDevice).Methods(http.MethodGet)
	r.mux.HandleFunc("/api/devices/{id}/value", r.updateDeviceValue).Methods(http.MethodPut)
	r.mux.HandleFunc("/api/devices/{id}/history", r.deviceHistory).Methods(http.MethodGet)
	r.mux.HandleFunc("/api/devices/{id}/links", r.listLinks).Methods(http.MethodGet)
	r.mux.HandleFunc("/api/plugins", r.listPlugins).Methods(http.MethodGet)
	r.mux.HandleFunc("/api/scripts", r.listScripts).Methods(http.MethodGet)
	r.mux.HandleFunc("/api/scripts/{id}", r.getScript).Methods(http.MethodGet)
	r.mux.HandleFunc("/api/scripts/{id}/enabled", r.setScriptEnabled).Methods(http.MethodPut)
	r.mux.HandleFunc("/api/timers", r.listTimers).Methods(http.MethodGet)
	r.mux.HandleFunc("/api/timers/{id}/enabled", r.setTimerEnabled).Methods(http.MethodPut)

	r.mux.Use(middleware.Metrics(m))
	if rl != nil {
		r.mux.Use(rl.Handler)
	}
	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	tag := "internal"
	if se, ok := err.(*merr.Error); ok {
		if se.HTTPStatus != 0 {
			status = se.HTTPStatus
		}
		tag = string(se.Code)
	}
	writeJSON(w, status, map[string]string{"error": tag, "message": err.Error()})
}

func pathInt(r *http.Request, key string) (int, error) {
	return strconv.Atoi(mux.Vars(r)[key])
}

func (rt *Router) listDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := rt.svc.ListDevices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devs)
}

func (rt *Router) getDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	dev, err := rt.svc.GetDevice(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

type updateValueRequest struct {
	Value   string `json:"value"`
	Options string `json:"options"`
}

func (rt *Router) updateDeviceValue(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	var req updateValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := rt.svc.UpdateDeviceValue(r.Context(), id, req.Value, req.Options); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (rt *Router) deviceHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	interval := device.Interval(r.URL.Query().Get("interval"))
	if interval == "" {
		interval = device.IntervalDay
	}
	points, err := rt.svc.DeviceHistory(r.Context(), id, interval)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (rt *Router) listLinks(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	links, err := rt.svc.ListLinksForDevice(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (rt *Router) listPlugins(w http.ResponseWriter, r *http.Request) {
	plugins, err := rt.svc.ListPlugins(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plugins)
}

func (rt *Router) listScripts(w http.ResponseWriter, r *http.Request) {
	scripts, err := rt.svc.ListScripts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scripts)
}

func (rt *Router) getScript(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	script, err := rt.svc.GetScript(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, script)
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (rt *Router) setScriptEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := rt.svc.SetScriptEnabled(r.Context(), id, req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) listTimers(w http.ResponseWriter, r *http.Request) {
	timers, err := rt.svc.ListTimers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, timers)
}

func (rt *Router) setTimerEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := rt.svc.SetTimerEnabled(r.Context(), id, req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
