package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/payhookd/payhook/libs/db"
	"github.com/payhookd/payhook/services/payments-api/internal/outbox"
	"github.com/payhookd/payhook/services/payments-api/internal/storage"
)

var allowedStatuses = map[string]bool{
	"pending":   true,
	"succeeded": true,
	"refunded":  true,
	"disputed":  true,
}

type Handler struct {
	pool       *db.Pool
	repo       *storage.Repository
	outboxRepo *outbox.Repository
}

func New(pool *db.Pool, repo *storage.Repository, outboxRepo *outbox.Repository) *Handler {
	return &Handler{pool: pool, repo: repo, outboxRepo: outboxRepo}
}

type paymentResponse struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func toResponse(p storage.Payment) paymentResponse {
	return paymentResponse{
		ID:       p.ID,
		OwnerID:  p.OwnerID,
		Amount:   p.Amount,
		Currency: p.Currency,
		Status:   p.Status,
	}
}

// CreatePayment writes the payment row and its payment.succeeded change
// event in one transaction, so either both exist or neither does.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		OwnerID  string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	req.Currency = strings.ToLower(strings.TrimSpace(req.Currency))
	if len(req.Currency) != 3 {
		http.Error(w, "currency must be a 3-letter code", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = uuid.NewString()
	}

	payment := storage.Payment{
		ID:       uuid.NewString(),
		OwnerID:  req.OwnerID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   "succeeded",
	}

	if err := h.writeWithEvent(r, payment, "payment.succeeded"); err != nil {
		http.Error(w, "failed to create payment", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toResponse(payment))
}

// GetPayment serves a single payment by id.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/payments/")
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}

	p, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "payment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load payment", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toResponse(p))
}

// UpdatePayment changes the status and records a payment.updated change
// event in the same transaction.
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/payments/")
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if !allowedStatuses[req.Status] {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to update payment", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := h.repo.UpdateStatus(ctx, tx, id, req.Status)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "payment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to update payment", http.StatusInternalServerError)
		return
	}

	if err := h.insertEvent(ctx, tx, p, "payment.updated"); err != nil {
		http.Error(w, "failed to update payment", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to update payment", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toResponse(p))
}

func (h *Handler) writeWithEvent(r *http.Request, p storage.Payment, eventType string) error {
	ctx := r.Context()
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.repo.Insert(ctx, tx, p); err != nil {
		return err
	}
	if err := h.insertEvent(ctx, tx, p, eventType); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (h *Handler) insertEvent(ctx context.Context, tx pgx.Tx, p storage.Payment, eventType string) error {
	payload, err := json.Marshal(toResponse(p))
	if err != nil {
		return err
	}
	return h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "payment",
		AggregateID:   p.ID,
		OwnerID:       p.OwnerID,
		EventType:     eventType,
		Payload:       payload,
	})
}
