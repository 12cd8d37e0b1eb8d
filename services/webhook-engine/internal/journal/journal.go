package journal

import (
	"context"
	"time"
)

// State is the delivery progress recorded for one identifier.
type State string

const (
	StatePending   State = "pending"
	StateDelivered State = "delivered"
	StateFailed    State = "failed"
)

// Terminal reports whether no further attempts may change the entry.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateFailed
}

// Entry is the durable record of delivery progress for one identifier.
// At most one entry exists per DeliveryID; once the state is terminal the
// entry never changes again.
type Entry struct {
	DeliveryID    string
	OwnerID       string
	EventType     string
	State         State
	AttemptCount  int
	LastError     string
	LastAttemptAt time.Time
}

// Store is the journal contract the delivery coordinator writes through.
// Implementations must make the terminal states sticky: an update against an
// entry already in a terminal state is a no-op.
type Store interface {
	Get(ctx context.Context, deliveryID string) (Entry, bool, error)
	MarkPending(ctx context.Context, e Entry) error
	MarkDelivered(ctx context.Context, e Entry) error
	MarkFailed(ctx context.Context, e Entry) error
	List(ctx context.Context, state State, limit int) ([]Entry, error)
}
