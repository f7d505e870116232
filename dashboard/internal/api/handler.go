package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sentinelpulse/sentinelpulse/dashboard/internal/store"
)

// Counter reports the number of connected clients.
type Counter interface {
	Count() int
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Mode        string `json:"mode"`
	Clients     int    `json:"clients"`
	HasSnapshot bool   `json:"has_snapshot"`
	SnapshotAge string `json:"snapshot_age,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store   *store.Store
	clients Counter
	mode    string
	mux     *http.ServeMux
	now     func() time.Time
}

// New creates a Handler reading from st and registers all routes.
func New(st *store.Store, clients Counter, mode string) http.Handler {
	h := &Handler{store: st, clients: clients, mode: mode, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)
	h.mux.HandleFunc("/api/v1/health", h.health)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	e, ok := h.store.Latest()
	if !ok {
		jsonErr(w, http.StatusNotFound, "no snapshot available")
		return
	}
	jsonResp(w, http.StatusOK, e.Snapshot)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := HealthResponse{Status: "ok", Mode: h.mode}
	if h.clients != nil {
		resp.Clients = h.clients.Count()
	}
	if e, ok := h.store.Latest(); ok {
		resp.HasSnapshot = true
		resp.SnapshotAge = h.now().Sub(e.UpdatedAt).Round(time.Millisecond).String()
	}
	jsonResp(w, http.StatusOK, resp)
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
