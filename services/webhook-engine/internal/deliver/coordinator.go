package deliver

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/payhookd/payhook/services/webhook-engine/internal/enrich"
	"github.com/payhookd/payhook/services/webhook-engine/internal/event"
	"github.com/payhookd/payhook/services/webhook-engine/internal/journal"
	"github.com/payhookd/payhook/services/webhook-engine/internal/webhook"
)

// Enricher fetches the current-state payload for an object id.
type Enricher interface {
	Fetch(ctx context.Context, objectID string) (enrich.Payload, error)
}

// Sender performs one outbound notification attempt.
type Sender interface {
	Send(ctx context.Context, d webhook.Delivery) error
}

// Outcome is the terminal result of processing one domain event.
type Outcome string

const (
	// OutcomeAborted means processing stopped before reaching a terminal
	// journal state; the event must not be checkpointed.
	OutcomeAborted Outcome = "aborted"
	// OutcomeDelivered means this call delivered the event.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeAlreadyDelivered means a prior run delivered it; no call went out.
	OutcomeAlreadyDelivered Outcome = "already_delivered"
	// OutcomeFailed means this call exhausted the retry budget.
	OutcomeFailed Outcome = "failed"
	// OutcomeAlreadyFailed means a prior run exhausted the budget.
	OutcomeAlreadyFailed Outcome = "already_failed"
)

// Terminal reports whether the outcome allows the checkpoint to advance.
func (o Outcome) Terminal() bool { return o != OutcomeAborted }

// Coordinator runs the per-event delivery state machine:
// journal lookup, enrichment, delivery, journal update, bounded backoff.
type Coordinator struct {
	journal     journal.Store
	enricher    Enricher
	sender      Sender
	clock       clockwork.Clock
	logger      *slog.Logger
	maxAttempts int
	backoffBase time.Duration
	locks       *keyedLocks
}

type Options struct {
	MaxAttempts int           // default 3
	BackoffBase time.Duration // default 1s
	Clock       clockwork.Clock
}

func NewCoordinator(store journal.Store, enricher Enricher, sender Sender, logger *slog.Logger, opts Options) *Coordinator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Coordinator{
		journal:     store,
		enricher:    enricher,
		sender:      sender,
		clock:       opts.Clock,
		logger:      logger,
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
		locks:       newKeyedLocks(),
	}
}

// Process handles one domain event through to a terminal journal state.
// A nil error guarantees the returned outcome is terminal and the event's
// log position may be committed. A non-nil error means infrastructure
// trouble (journal IO, cancellation); the caller must leave the checkpoint
// alone so the log redelivers the event.
func (c *Coordinator) Process(ctx context.Context, evt event.DomainEvent) (Outcome, error) {
	id := event.DeliveryID(evt)
	release := c.locks.Acquire(id)
	defer release()

	entry, found, err := c.journal.Get(ctx, id)
	if err != nil {
		return OutcomeAborted, err
	}
	if found {
		switch entry.State {
		case journal.StateDelivered:
			c.logger.Info("event already delivered, skipping",
				"delivery_id", id, "attempts", entry.AttemptCount)
			return OutcomeAlreadyDelivered, nil
		case journal.StateFailed:
			c.logger.Info("event already permanently failed, skipping",
				"delivery_id", id, "last_error", entry.LastError)
			return OutcomeAlreadyFailed, nil
		}
	}

	attempts := entry.AttemptCount
	record := journal.Entry{
		DeliveryID: id,
		OwnerID:    evt.OwnerID,
		EventType:  evt.EventType,
	}

	for {
		if attempts >= c.maxAttempts {
			// A pending entry from a crashed run can arrive with its
			// budget already spent.
			record.AttemptCount = attempts
			record.LastError = entry.LastError
			if record.LastError == "" {
				record.LastError = "retry budget exhausted"
			}
			if err := c.journal.MarkFailed(ctx, record); err != nil {
				return OutcomeAborted, err
			}
			return OutcomeFailed, nil
		}

		attemptErr := c.attempt(ctx, id, evt)
		attempts++

		if attemptErr == nil {
			record.AttemptCount = attempts
			if err := c.journal.MarkDelivered(ctx, record); err != nil {
				return OutcomeAborted, err
			}
			c.logger.Info("webhook delivered",
				"delivery_id", id, "event_type", evt.EventType, "attempts", attempts)
			return OutcomeDelivered, nil
		}

		record.AttemptCount = attempts
		record.LastError = attemptErr.Error()

		if attempts >= c.maxAttempts {
			if err := c.journal.MarkFailed(ctx, record); err != nil {
				return OutcomeAborted, err
			}
			c.logger.Error("webhook permanently failed",
				"delivery_id", id, "event_type", evt.EventType,
				"object_id", evt.ObjectID, "owner_id", evt.OwnerID,
				"attempts", attempts, "err", attemptErr)
			return OutcomeFailed, nil
		}

		if err := c.journal.MarkPending(ctx, record); err != nil {
			return OutcomeAborted, err
		}

		backoff := c.backoffBase << (attempts - 1)
		c.logger.Warn("webhook attempt failed, backing off",
			"delivery_id", id, "attempt", attempts,
			"max_attempts", c.maxAttempts, "backoff", backoff, "err", attemptErr)

		select {
		case <-ctx.Done():
			// Safe to abandon: the entry is pending and the receiver
			// dedupes on the stable identifier after redelivery.
			return OutcomeAborted, ctx.Err()
		case <-c.clock.After(backoff):
		}
	}
}

// attempt runs one enrichment + delivery round. Enrichment is fetched fresh
// every time so the merchant observes current state, not a snapshot.
func (c *Coordinator) attempt(ctx context.Context, id string, evt event.DomainEvent) error {
	payload, err := c.enricher.Fetch(ctx, evt.ObjectID)
	if err != nil {
		return err
	}
	return c.sender.Send(ctx, webhook.Delivery{
		EventID:   id,
		EventType: evt.EventType,
		Payment:   payload,
	})
}
