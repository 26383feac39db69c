package sync

import (
	"fmt"
	"time"
)

// EventType discriminates the payload schema carried by an event envelope.
type EventType string

const (
	EventLogCreate      EventType = "log.create"
	EventLogUpdate      EventType = "log.update"
	EventLogDelete      EventType = "log.delete"
	EventGoalSet        EventType = "goal.set"
	EventFavoriteAdd    EventType = "favorite.add"
	EventFavoriteRemove EventType = "favorite.remove"
	EventWeightAdd      EventType = "weight.add"
	EventWeightDelete   EventType = "weight.delete"
	EventProductUpsert  EventType = "product.upsert"
)

// ParseEventType validates a wire-level type string.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case EventLogCreate, EventLogUpdate, EventLogDelete,
		EventGoalSet,
		EventFavoriteAdd, EventFavoriteRemove,
		EventWeightAdd, EventWeightDelete,
		EventProductUpsert:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported event type %q", s)
	}
}

// SchemaVersion is the current envelope payload schema version.
const SchemaVersion = 1

// EventEnvelope is a single event on the wire.
type EventEnvelope struct {
	EventID       string    `json:"eventId"`
	Type          string    `json:"type"`
	CreatedAt     time.Time `json:"createdAt"`
	EntityID      string    `json:"entityId,omitempty"`
	SchemaVersion int       `json:"schemaVersion"`
	PayloadBase64 string    `json:"payloadBase64"`
}

// PushRequest is the body of POST /v1/sync/events.
type PushRequest struct {
	DeviceID   string          `json:"deviceId"`
	ClientTime time.Time       `json:"clientTime"`
	Events     []EventEnvelope `json:"events"`
}

// PushResponse is the per-batch verdict returned by the server.
type PushResponse struct {
	AckedEventIDs []string        `json:"ackedEventIds"`
	Rejected      []RejectedEvent `json:"rejected"`
	ServerTime    time.Time       `json:"serverTime"`
}

// RejectedEvent explains why a single event was not applied.
type RejectedEvent struct {
	EventID string `json:"eventId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Rejection codes.
const (
	RejectValidation      = "VALIDATION_ERROR"
	RejectUnsupportedType = "UNSUPPORTED_TYPE"
	RejectServerError     = "SERVER_ERROR"
)

// Batch and payload ceilings. The server payload ceiling is 4x the client's:
// the server limit is authoritative, the client pre-flight is stricter so a
// client-approved payload is never rejected for size alone.
const (
	MaxBatchEvents        = 50
	ClientMaxPayloadBytes = 64 * 1024
	ServerMaxPayloadBytes = 256 * 1024
)
