package ops

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/payhookd/payhook/services/webhook-engine/internal/journal"
)

// Handler exposes the journal for operational follow-up. Permanent failures
// are queryable here rather than buried in logs.
type Handler struct {
	store journal.Store
}

func New(store journal.Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/deliveries", h.ListDeliveries)
	mux.HandleFunc("/deliveries/", h.GetDelivery)
}

type entryResponse struct {
	DeliveryID    string `json:"delivery_id"`
	OwnerID       string `json:"owner_id"`
	EventType     string `json:"event_type"`
	State         string `json:"state"`
	AttemptCount  int    `json:"attempt_count"`
	LastError     string `json:"last_error,omitempty"`
	LastAttemptAt string `json:"last_attempt_at"`
}

func toResponse(e journal.Entry) entryResponse {
	return entryResponse{
		DeliveryID:    e.DeliveryID,
		OwnerID:       e.OwnerID,
		EventType:     e.EventType,
		State:         string(e.State),
		AttemptCount:  e.AttemptCount,
		LastError:     e.LastError,
		LastAttemptAt: e.LastAttemptAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := journal.State(strings.TrimSpace(r.URL.Query().Get("state")))
	switch state {
	case "", journal.StatePending, journal.StateDelivered, journal.StateFailed:
	default:
		http.Error(w, "unknown state", http.StatusBadRequest)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.store.List(r.Context(), state, limit)
	if err != nil {
		http.Error(w, "failed to list deliveries", http.StatusInternalServerError)
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toResponse(e))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"deliveries": out})
}

func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/deliveries/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "invalid delivery id", http.StatusBadRequest)
		return
	}

	entry, found, err := h.store.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to load delivery", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "delivery not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toResponse(entry))
}
