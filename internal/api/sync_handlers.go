package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Nithusan2002/matlogg/internal/sync"
)

// SyncEvents handles POST /v1/sync/events. The handler validates the request
// envelope; per-event verdicts are the applier's responsibility, so a batch
// with a mix of good and bad events still returns 200 with partial acks.
func (h *Handler) SyncEvents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	userID := UserIDFromContext(ctx)

	var req sync.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	if err := validatePushRequest(req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	acked, rejected := h.applier.ApplyBatch(ctx, userID, req.DeviceID, req.Events)

	resp := sync.PushResponse{
		AckedEventIDs: acked,
		Rejected:      rejected,
		ServerTime:    time.Now().UTC(),
	}
	// Keep arrays as [] rather than null in JSON
	if resp.AckedEventIDs == nil {
		resp.AckedEventIDs = []string{}
	}
	if resp.Rejected == nil {
		resp.Rejected = []sync.RejectedEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)

	slog.Info("sync batch processed",
		"component", "api",
		"action", "sync_events",
		"user_id", userID,
		"device_id", req.DeviceID,
		"events", len(req.Events),
		"acked", len(resp.AckedEventIDs),
		"rejected", len(resp.Rejected),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// validatePushRequest validates the request envelope structure.
func validatePushRequest(req sync.PushRequest) error {
	if req.DeviceID == "" {
		return fmt.Errorf("deviceId is required")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("events array is required")
	}
	return nil
}
