package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is shared across payload decoding; validator instances cache
// struct metadata and are safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// LogPayload is the snapshot carried by log.create and log.update events.
// log.delete carries no payload; the entity id on the envelope identifies
// the row.
type LogPayload struct {
	ID        string    `json:"id" validate:"required"`
	ProductID string    `json:"productId,omitempty"`
	Name      string    `json:"name" validate:"required,max=255"`
	Grams     float64   `json:"grams" validate:"gte=0"`
	Calories  float64   `json:"calories" validate:"gte=0"`
	Protein   float64   `json:"protein" validate:"gte=0"`
	Carbs     float64   `json:"carbs" validate:"gte=0"`
	Fat       float64   `json:"fat" validate:"gte=0"`
	LoggedAt  time.Time `json:"loggedAt" validate:"required"`
}

// GoalPayload is the snapshot carried by goal.set events. There is a single
// goal row per user, so no id travels with it.
type GoalPayload struct {
	Calories float64 `json:"calories" validate:"gt=0"`
	Protein  float64 `json:"protein" validate:"gte=0"`
	Carbs    float64 `json:"carbs" validate:"gte=0"`
	Fat      float64 `json:"fat" validate:"gte=0"`
}

// FavoritePayload is carried by favorite.add and favorite.remove events.
type FavoritePayload struct {
	ProductID string    `json:"productId" validate:"required"`
	AddedAt   time.Time `json:"addedAt,omitempty"`
}

// WeightPayload is carried by weight.add events. The id may be empty, in
// which case the server generates one. weight.delete carries no payload.
type WeightPayload struct {
	ID         string    `json:"id,omitempty"`
	Kg         float64   `json:"kg" validate:"gt=0,lt=1000"`
	MeasuredAt time.Time `json:"measuredAt" validate:"required"`
}

// ProductPayload is carried by product.upsert events. Macros are per 100g.
type ProductPayload struct {
	ID       string  `json:"id" validate:"required"`
	Barcode  string  `json:"barcode,omitempty" validate:"omitempty,max=64"`
	Name     string  `json:"name" validate:"required,max=255"`
	Brand    string  `json:"brand,omitempty" validate:"omitempty,max=255"`
	Calories float64 `json:"calories" validate:"gte=0"`
	Protein  float64 `json:"protein" validate:"gte=0"`
	Carbs    float64 `json:"carbs" validate:"gte=0"`
	Fat      float64 `json:"fat" validate:"gte=0"`
}

// DecodePayload unmarshals and validates the payload for the given event
// type. The switch is exhaustive over EventType; delete-style events return
// nil because the envelope's entity id alone identifies the target row.
func DecodePayload(t EventType, raw []byte) (any, error) {
	switch t {
	case EventLogCreate, EventLogUpdate:
		return decodeInto[LogPayload](raw)
	case EventLogDelete:
		return nil, nil
	case EventGoalSet:
		return decodeInto[GoalPayload](raw)
	case EventFavoriteAdd, EventFavoriteRemove:
		return decodeInto[FavoritePayload](raw)
	case EventWeightAdd:
		return decodeInto[WeightPayload](raw)
	case EventWeightDelete:
		return nil, nil
	case EventProductUpsert:
		return decodeInto[ProductPayload](raw)
	default:
		return nil, fmt.Errorf("unsupported event type %q", t)
	}
}

func decodeInto[T any](raw []byte) (*T, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("validate payload: %w", err)
	}
	return &p, nil
}
