package outbox

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeFor_InsertAction(t *testing.T) {
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	env := envelopeFor(Record{
		ID:            42,
		EventID:       "evt-1",
		AggregateType: "payment",
		AggregateID:   "pay-123",
		OwnerID:       "merchant-9",
		EventType:     "payment.succeeded",
		Payload:       json.RawMessage(`{"amount":500}`),
		CreatedAt:     created,
	})

	if env.Action != "insert" {
		t.Fatalf("expected insert action, got %q", env.Action)
	}
	if env.Record.ObjectID != "pay-123" || env.Record.OwnerID != "merchant-9" {
		t.Fatalf("unexpected record: %+v", env.Record)
	}
	if env.Record.ID != 42 || env.Record.EventType != "payment.succeeded" {
		t.Fatalf("unexpected record: %+v", env.Record)
	}
	if string(env.Record.Payload) != `{"amount":500}` {
		t.Fatalf("payload must pass through untouched, got %s", env.Record.Payload)
	}
	if env.Metadata["event_id"] != "evt-1" || env.Metadata["recorded_at"] != "2026-05-01T12:00:00Z" {
		t.Fatalf("unexpected metadata: %v", env.Metadata)
	}
}

func TestEnvelopeFor_UpdateAction(t *testing.T) {
	env := envelopeFor(Record{EventType: "payment.updated", AggregateID: "pay-1"})
	if env.Action != "update" {
		t.Fatalf("expected update action, got %q", env.Action)
	}
}

func TestEnvelopeFor_WireShape(t *testing.T) {
	raw, err := json.Marshal(envelopeFor(Record{
		ID:          7,
		EventType:   "payment.succeeded",
		AggregateID: "pay-7",
		OwnerID:     "m1",
		Payload:     json.RawMessage(`{}`),
	}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// The consuming side keys off record.event_type and record.object_id.
	var decoded struct {
		Record struct {
			ID        int64  `json:"id"`
			EventType string `json:"event_type"`
			ObjectID  string `json:"object_id"`
			OwnerID   string `json:"owner_id"`
		} `json:"record"`
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Record.EventType != "payment.succeeded" || decoded.Record.ObjectID != "pay-7" {
		t.Fatalf("unexpected wire record: %+v", decoded.Record)
	}
	if decoded.Record.ID != 7 || decoded.Record.OwnerID != "m1" || decoded.Action != "insert" {
		t.Fatalf("unexpected wire envelope: %+v", decoded)
	}
}
