package sync

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseEventType_Known(t *testing.T) {
	known := []string{
		"log.create", "log.update", "log.delete",
		"goal.set",
		"favorite.add", "favorite.remove",
		"weight.add", "weight.delete",
		"product.upsert",
	}
	for _, s := range known {
		if _, err := ParseEventType(s); err != nil {
			t.Errorf("ParseEventType(%q) returned error: %v", s, err)
		}
	}
}

func TestParseEventType_Unknown(t *testing.T) {
	for _, s := range []string{"", "log", "log.merge", "LOG.CREATE", "goal.delete"} {
		if _, err := ParseEventType(s); err == nil {
			t.Errorf("ParseEventType(%q) accepted unknown type", s)
		}
	}
}

func TestPushResponse_JSONShape(t *testing.T) {
	resp := PushResponse{
		AckedEventIDs: []string{"a", "b"},
		Rejected:      []RejectedEvent{{EventID: "c", Code: RejectValidation, Message: "bad payload"}},
		ServerTime:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	for _, key := range []string{"ackedEventIds", "rejected", "serverTime"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("response JSON missing key %q", key)
		}
	}
}

func TestServerCeilingIsFourTimesClient(t *testing.T) {
	if ServerMaxPayloadBytes != 4*ClientMaxPayloadBytes {
		t.Errorf("server ceiling %d is not 4x client ceiling %d",
			ServerMaxPayloadBytes, ClientMaxPayloadBytes)
	}
}
