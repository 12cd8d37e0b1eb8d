package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/payhookd/payhook/services/payload-api/internal/storage"
)

// Source serves current payment state by id.
type Source interface {
	Get(ctx context.Context, id string) (storage.Payload, error)
}

type Handler struct {
	source Source
}

func New(source Source) *Handler {
	return &Handler{source: source}
}

// GetPayload serves GET /payload/{id}: the fresh enrichment payload or 404.
func (h *Handler) GetPayload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/payload/")
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}

	p, err := h.source.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "payment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load payload", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p)
}
