// Package apply turns event envelopes into domain mutations. Each event is
// processed independently: one transaction covering the inbox insert and the
// projection write, so a failed event leaves no trace and stays retriable.
package apply

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Nithusan2002/matlogg/internal/store"
	"github.com/Nithusan2002/matlogg/internal/sync"
	"github.com/Nithusan2002/matlogg/internal/types"
)

// Applier applies batches of sync events for authenticated users.
type Applier struct {
	store *store.SQLiteStore

	// MaxPayloadBytes is the server-side payload ceiling, enforced
	// independently of whatever the client enforces.
	MaxPayloadBytes int

	// MaxBatchEvents caps transactional work per request. A batch above the
	// cap is rejected wholesale with no inbox writes.
	MaxBatchEvents int
}

// New creates an Applier with the default ceilings.
func New(s *store.SQLiteStore) *Applier {
	return &Applier{
		store:           s,
		MaxPayloadBytes: sync.ServerMaxPayloadBytes,
		MaxBatchEvents:  sync.MaxBatchEvents,
	}
}

// ApplyBatch processes each envelope independently and returns the acked
// event ids and the per-event rejections. Partial success is expected: some
// events acked, some rejected, in one response.
func (a *Applier) ApplyBatch(ctx context.Context, userID, deviceID string, events []sync.EventEnvelope) ([]string, []sync.RejectedEvent) {
	if len(events) > a.MaxBatchEvents {
		rejected := make([]sync.RejectedEvent, len(events))
		for i, ev := range events {
			rejected[i] = sync.RejectedEvent{
				EventID: ev.EventID,
				Code:    sync.RejectValidation,
				Message: fmt.Sprintf("batch exceeds maximum of %d events", a.MaxBatchEvents),
			}
		}
		return nil, rejected
	}

	var acked []string
	var rejected []sync.RejectedEvent
	for _, ev := range events {
		if rej := a.applyOne(ctx, userID, deviceID, ev); rej != nil {
			rejected = append(rejected, *rej)
			continue
		}
		acked = append(acked, ev.EventID)
	}
	return acked, rejected
}

// applyOne runs the per-event pipeline. A nil return means the event is
// acked, either because it was applied or because the inbox already held it.
func (a *Applier) applyOne(ctx context.Context, userID, deviceID string, ev sync.EventEnvelope) *sync.RejectedEvent {
	if ev.EventID == "" {
		return &sync.RejectedEvent{Code: sync.RejectValidation, Message: "eventId is required"}
	}

	eventType, err := sync.ParseEventType(ev.Type)
	if err != nil {
		return &sync.RejectedEvent{EventID: ev.EventID, Code: sync.RejectUnsupportedType, Message: err.Error()}
	}

	payload, err := base64.StdEncoding.DecodeString(ev.PayloadBase64)
	if err != nil {
		return &sync.RejectedEvent{EventID: ev.EventID, Code: sync.RejectValidation, Message: "payload is not valid base64"}
	}
	if len(payload) > a.MaxPayloadBytes {
		return &sync.RejectedEvent{
			EventID: ev.EventID,
			Code:    sync.RejectValidation,
			Message: fmt.Sprintf("payload exceeds maximum of %d bytes", a.MaxPayloadBytes),
		}
	}

	// Idempotency check. The inbox insert inside the transaction below is
	// the real gate; this read just skips decode work on retransmissions.
	seen, err := a.store.HasInboxEvent(ctx, ev.EventID)
	if err != nil {
		slog.Error("inbox lookup failed",
			"component", "apply",
			"action", "inbox_lookup_failed",
			"event_id", ev.EventID,
			"error", err,
		)
		return &sync.RejectedEvent{EventID: ev.EventID, Code: sync.RejectServerError, Message: "inbox lookup failed"}
	}
	if seen {
		slog.Debug("event already applied",
			"component", "apply",
			"action", "duplicate_acked",
			"event_id", ev.EventID,
		)
		return nil
	}

	decoded, err := sync.DecodePayload(eventType, payload)
	if err != nil {
		return &sync.RejectedEvent{EventID: ev.EventID, Code: sync.RejectValidation, Message: err.Error()}
	}

	// Delete events carry no payload; the envelope's entity id is the key.
	if eventType == sync.EventLogDelete || eventType == sync.EventWeightDelete {
		if ev.EntityID == "" {
			return &sync.RejectedEvent{EventID: ev.EventID, Code: sync.RejectValidation, Message: "entityId is required for delete events"}
		}
	}

	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return &sync.RejectedEvent{EventID: ev.EventID, Code: sync.RejectServerError, Message: "begin transaction failed"}
	}
	defer tx.Rollback()

	rec := types.InboxRecord{
		EventID:       ev.EventID,
		UserID:        userID,
		DeviceID:      deviceID,
		Type:          ev.Type,
		CreatedAt:     ev.CreatedAt,
		SchemaVersion: ev.SchemaVersion,
		PayloadJSON:   payload,
		ReceivedAt:    time.Now().UTC(),
	}
	if err := store.InsertInboxEventTx(ctx, tx, rec); err != nil {
		if err == store.ErrDuplicateEvent {
			// Raced with a concurrent delivery of the same event; the other
			// writer applied it.
			return nil
		}
		return &sync.RejectedEvent{EventID: ev.EventID, Code: sync.RejectServerError, Message: "inbox insert failed"}
	}

	if err := a.project(ctx, tx, userID, eventType, ev, decoded); err != nil {
		return &sync.RejectedEvent{EventID: ev.EventID, Code: sync.RejectServerError, Message: err.Error()}
	}

	if err := tx.Commit(); err != nil {
		return &sync.RejectedEvent{EventID: ev.EventID, Code: sync.RejectServerError, Message: "commit failed"}
	}
	return nil
}

// project dispatches on the event type and writes the domain projection.
// The switch arms mirror sync.DecodePayload.
func (a *Applier) project(ctx context.Context, tx *sql.Tx, userID string, eventType sync.EventType, ev sync.EventEnvelope, decoded any) error {
	now := time.Now().UTC()

	switch eventType {
	case sync.EventLogCreate, sync.EventLogUpdate:
		p := decoded.(*sync.LogPayload)
		return store.UpsertLogTx(ctx, tx, types.Log{
			ID: p.ID, UserID: userID, ProductID: p.ProductID, Name: p.Name,
			Grams: p.Grams, Calories: p.Calories, Protein: p.Protein, Carbs: p.Carbs, Fat: p.Fat,
			LoggedAt: p.LoggedAt, UpdatedAt: now,
		})

	case sync.EventLogDelete:
		return store.DeleteLogTx(ctx, tx, userID, ev.EntityID)

	case sync.EventGoalSet:
		p := decoded.(*sync.GoalPayload)
		return store.UpsertGoalTx(ctx, tx, types.Goal{
			UserID: userID, Calories: p.Calories, Protein: p.Protein, Carbs: p.Carbs, Fat: p.Fat,
			UpdatedAt: now,
		})

	case sync.EventFavoriteAdd:
		p := decoded.(*sync.FavoritePayload)
		addedAt := p.AddedAt
		if addedAt.IsZero() {
			addedAt = now
		}
		return store.UpsertFavoriteTx(ctx, tx, types.Favorite{
			UserID: userID, ProductID: p.ProductID, AddedAt: addedAt,
		})

	case sync.EventFavoriteRemove:
		p := decoded.(*sync.FavoritePayload)
		return store.DeleteFavoriteTx(ctx, tx, userID, p.ProductID)

	case sync.EventWeightAdd:
		p := decoded.(*sync.WeightPayload)
		id := p.ID
		if id == "" {
			id = uuid.NewString()
		}
		return store.UpsertWeightTx(ctx, tx, types.Weight{
			ID: id, UserID: userID, Kg: p.Kg, MeasuredAt: p.MeasuredAt,
		})

	case sync.EventWeightDelete:
		return store.DeleteWeightTx(ctx, tx, userID, ev.EntityID)

	case sync.EventProductUpsert:
		p := decoded.(*sync.ProductPayload)
		return store.UpsertProductTx(ctx, tx, types.Product{
			ID: p.ID, Barcode: p.Barcode, Name: p.Name, Brand: p.Brand,
			Calories: p.Calories, Protein: p.Protein, Carbs: p.Carbs, Fat: p.Fat,
			UpdatedAt: now,
		})

	default:
		return fmt.Errorf("unsupported event type %q", eventType)
	}
}
