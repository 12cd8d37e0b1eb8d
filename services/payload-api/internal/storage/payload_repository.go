package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/payhookd/payhook/libs/db"
)

var ErrNotFound = errors.New("payload not found")

// Payload is the current-state view served to the delivery engine. It is
// read at delivery time, never captured when the event was produced.
type Payload struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Get(ctx context.Context, id string) (Payload, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, amount, currency, status
		FROM payments
		WHERE id = $1
	`, id)

	var p Payload
	err := row.Scan(&p.ID, &p.Amount, &p.Currency, &p.Status)
	if err == pgx.ErrNoRows {
		return Payload{}, ErrNotFound
	}
	if err != nil {
		return Payload{}, err
	}
	return p, nil
}
