package event

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// DomainEvent is one immutable fact read from the change stream.
type DomainEvent struct {
	Sequence   uint64          `json:"id"`
	EventType  string          `json:"event_type"`
	ObjectID   string          `json:"object_id"`
	OwnerID    string          `json:"owner_id"`
	RawPayload json.RawMessage `json:"payload"`
}

// Envelope is the wire format produced by the change-stream publisher.
type Envelope struct {
	Record   DomainEvent     `json:"record"`
	Metadata json.RawMessage `json:"metadata"`
	Action   string          `json:"action"`
	Changes  json.RawMessage `json:"changes,omitempty"`
}

// Decode parses a raw log record into a DomainEvent. A record that parses
// but names no event type or object is still malformed: nothing downstream
// can act on it.
func Decode(raw []byte) (DomainEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return DomainEvent{}, fmt.Errorf("decode envelope: %w", err)
	}
	evt := env.Record
	if evt.EventType == "" {
		return DomainEvent{}, fmt.Errorf("envelope record missing event_type")
	}
	if evt.ObjectID == "" {
		return DomainEvent{}, fmt.Errorf("envelope record missing object_id")
	}
	return evt, nil
}

// deliveryNamespace salts delivery identifier derivation.
var deliveryNamespace = uuid.MustParse("9f2c1d6a-6f0b-4c7e-9a3d-2b8e4f5c7d10")

// DeliveryID derives the stable identifier for a domain event from the object
// id and the log-assigned record id. The record id keeps distinct events for
// one object distinct: an object can produce payment.succeeded and later
// payment.updated, and each must reach the merchant. Redelivery of the same
// record carries the same record id, so retries and replays still collapse at
// the receiving endpoint.
func DeliveryID(evt DomainEvent) string {
	name := evt.ObjectID + "/" + strconv.FormatUint(evt.Sequence, 10)
	return uuid.NewSHA1(deliveryNamespace, []byte(name)).String()
}
