package diary

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	matsync "github.com/Nithusan2002/matlogg/internal/sync"
)

var (
	// ErrBatchTooLarge means the batch exceeds the client-side event cap.
	// Local and non-retriable: nothing is sent, nothing is marked in flight.
	ErrBatchTooLarge = errors.New("batch exceeds maximum event count")

	// ErrPayloadTooLarge means an event's payload exceeds the client-side
	// byte ceiling. Local and non-retriable.
	ErrPayloadTooLarge = errors.New("event payload exceeds maximum size")
)

// TokenFunc supplies the bearer token. Credentials are the auth layer's
// problem; the engine only carries the token to the wire.
type TokenFunc func(ctx context.Context) (string, error)

// Transport serializes event batches to the wire protocol and decodes the
// server's verdict. Request timeouts live here; the orchestrator treats a
// timed-out run exactly like a crash.
type Transport struct {
	baseURL  string
	deviceID string
	token    TokenFunc
	client   *http.Client

	// MaxBatchSize and MaxPayloadBytes are the client pre-flight caps.
	MaxBatchSize    int
	MaxPayloadBytes int
}

// NewTransport creates a Transport for the server at baseURL.
func NewTransport(baseURL, deviceID string, token TokenFunc) *Transport {
	return &Transport{
		baseURL:  baseURL,
		deviceID: deviceID,
		token:    token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		MaxBatchSize:    matsync.MaxBatchEvents,
		MaxPayloadBytes: matsync.ClientMaxPayloadBytes,
	}
}

// Preflight checks the local caps. The orchestrator calls this before
// marking anything in flight, so cap violations leave the queue untouched.
func (t *Transport) Preflight(events []SyncEvent) error {
	if len(events) > t.MaxBatchSize {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(events), t.MaxBatchSize)
	}
	for _, ev := range events {
		if len(ev.Payload) > t.MaxPayloadBytes {
			return fmt.Errorf("%w: event %s has %d bytes", ErrPayloadTooLarge, ev.EventID, len(ev.Payload))
		}
	}
	return nil
}

// Push transmits a batch and returns the server's verdict. Any error return
// is a transport-level failure: the caller reschedules the whole batch.
func (t *Transport) Push(ctx context.Context, events []SyncEvent) (*matsync.PushResponse, error) {
	envelopes := make([]matsync.EventEnvelope, len(events))
	for i, ev := range events {
		envelopes[i] = matsync.EventEnvelope{
			EventID:       ev.EventID,
			Type:          string(ev.Type),
			CreatedAt:     ev.CreatedAt,
			EntityID:      ev.EntityID,
			SchemaVersion: matsync.SchemaVersion,
			PayloadBase64: base64.StdEncoding.EncodeToString(ev.Payload),
		}
	}

	body, err := json.Marshal(matsync.PushRequest{
		DeviceID:   t.deviceID,
		ClientTime: time.Now().UTC(),
		Events:     envelopes,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/v1/sync/events", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	token, err := t.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sync request failed: status %d", resp.StatusCode)
	}

	var verdict matsync.PushResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &verdict, nil
}
