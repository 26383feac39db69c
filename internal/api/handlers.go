package api

import (
	"encoding/json"
	"net/http"

	"github.com/Nithusan2002/matlogg/internal/apply"
)

// Handler holds dependencies for all HTTP handlers.
type Handler struct {
	applier *apply.Applier
	secret  []byte
	version string
}

// NewHandler creates a Handler.
func NewHandler(applier *apply.Applier, jwtSecret []byte, version string) *Handler {
	return &Handler{
		applier: applier,
		secret:  jwtSecret,
		version: version,
	}
}

// Health handles GET /v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}
