package outbox

// Event is one change fact recorded alongside the write that produced it.
// Rows are drained by the publisher, wrapped in the change-stream envelope,
// and appended to the webhook-events topic.
type Event struct {
	AggregateType string
	AggregateID   string
	OwnerID       string
	EventType     string
	Payload       []byte
}
