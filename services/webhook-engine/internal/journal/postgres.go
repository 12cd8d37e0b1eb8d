package journal

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/payhookd/payhook/libs/db"
)

// Repository is the Postgres-backed Store. The sticky-terminal contract is
// enforced in SQL so a racing writer can never demote a delivered or failed
// entry, whatever the coordinator above it does.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Get(ctx context.Context, deliveryID string) (Entry, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT delivery_id, owner_id, event_type, state, attempt_count, COALESCE(last_error, ''), last_attempt_at
		FROM delivery_journal
		WHERE delivery_id = $1
	`, deliveryID)

	var e Entry
	if err := row.Scan(&e.DeliveryID, &e.OwnerID, &e.EventType, &e.State, &e.AttemptCount, &e.LastError, &e.LastAttemptAt); err != nil {
		if err == pgx.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return e, true, nil
}

func (r *Repository) MarkPending(ctx context.Context, e Entry) error {
	return r.upsert(ctx, e, StatePending)
}

func (r *Repository) MarkDelivered(ctx context.Context, e Entry) error {
	return r.upsert(ctx, e, StateDelivered)
}

func (r *Repository) MarkFailed(ctx context.Context, e Entry) error {
	return r.upsert(ctx, e, StateFailed)
}

func (r *Repository) upsert(ctx context.Context, e Entry, state State) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO delivery_journal (delivery_id, owner_id, event_type, state, attempt_count, last_error, last_attempt_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), now())
		ON CONFLICT (delivery_id) DO UPDATE
		SET state = EXCLUDED.state,
		    attempt_count = EXCLUDED.attempt_count,
		    last_error = EXCLUDED.last_error,
		    last_attempt_at = now()
		WHERE delivery_journal.state = 'pending'
	`, e.DeliveryID, e.OwnerID, e.EventType, state, e.AttemptCount, e.LastError)
	return err
}

func (r *Repository) List(ctx context.Context, state State, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT delivery_id, owner_id, event_type, state, attempt_count, COALESCE(last_error, ''), last_attempt_at
		FROM delivery_journal
		WHERE ($1 = '' OR state = $1)
		ORDER BY last_attempt_at DESC
		LIMIT $2
	`, string(state), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.DeliveryID, &e.OwnerID, &e.EventType, &e.State, &e.AttemptCount, &e.LastError, &e.LastAttemptAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}
