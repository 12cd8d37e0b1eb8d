package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/payhookd/payhook/libs/db"
)

var ErrNotFound = errors.New("payment not found")

type Payment struct {
	ID        string
	OwnerID   string
	Amount    int64
	Currency  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, p Payment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payments (id, owner_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.OwnerID, p.Amount, p.Currency, p.Status)
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, amount, currency, status, created_at, updated_at
		FROM payments
		WHERE id = $1
	`, id)
	return scanPayment(row)
}

// UpdateStatus changes the payment status and returns the updated row so a
// change event can be emitted in the same transaction.
func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status string) (Payment, error) {
	row := tx.QueryRow(ctx, `
		UPDATE payments
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, owner_id, amount, currency, status, created_at, updated_at
	`, id, status)
	return scanPayment(row)
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OwnerID, &p.Amount, &p.Currency, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}
