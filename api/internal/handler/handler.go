// Package handler serves the api's REST endpoints:
//
//	GET /         service banner
//	GET /metrics  a freshly collected Snapshot
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sentinelpulse/sentinelpulse/pkg/poll"
)

// ServiceName is reported by the banner.
const ServiceName = "SentinelPulse.Api"

// Banner is the body of GET /.
type Banner struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler routes the api's REST requests.
type Handler struct {
	source poll.Source
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a Handler that collects from source on every /metrics call.
func New(source poll.Source, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{source: source, logger: logger.With("component", "rest"), mux: http.NewServeMux()}

	h.mux.HandleFunc("/", h.banner)
	h.mux.HandleFunc("/metrics", h.metrics)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) banner(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, Banner{Name: ServiceName, Status: "ok"})
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, err := h.source.Next(r.Context())
	if err != nil {
		h.logger.Error("collect failed", "err", err)
		jsonErr(w, http.StatusServiceUnavailable, "metrics unavailable")
		return
	}
	jsonResp(w, http.StatusOK, snap)
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
