package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/payhookd/payhook/libs/config"
	"github.com/payhookd/payhook/libs/httpx"
	"github.com/payhookd/payhook/libs/runtime"
)

// merchant-sim stands in for a merchant's webhook endpoint. It records every
// notification it accepts and can misbehave on demand, which is how the
// delivery engine's retry and idempotency behavior gets exercised end to
// end. All chaos lives here; the engine's delivery client stays clean.

type receivedWebhook struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	Payment    json.RawMessage `json:"payment"`
	ReceivedAt string          `json:"received_at"`
}

type chaosConfig struct {
	failCount  int           // reject the first N posts per event id
	failStatus int           // status used for injected failures
	delay      time.Duration // added latency per request
	hang       bool          // never answer (exercises client timeouts)
}

type simulator struct {
	logger *slog.Logger
	chaos  chaosConfig

	mu       sync.Mutex
	received []receivedWebhook
	rejected map[string]int
}

func newSimulator(logger *slog.Logger, chaos chaosConfig) *simulator {
	return &simulator{
		logger:   logger,
		chaos:    chaos,
		rejected: map[string]int{},
	}
}

func (s *simulator) receive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.chaos.hang {
		<-r.Context().Done()
		return
	}
	if s.chaos.delay > 0 {
		time.Sleep(s.chaos.delay)
	}

	var payload receivedWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.EventID == "" {
		http.Error(w, "invalid webhook body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.chaos.failCount > 0 && s.rejected[payload.EventID] < s.chaos.failCount {
		s.rejected[payload.EventID]++
		n := s.rejected[payload.EventID]
		s.mu.Unlock()
		s.logger.Info("webhook rejected by chaos policy",
			"event_id", payload.EventID, "rejection", n, "status", s.chaos.failStatus)
		http.Error(w, "injected failure", s.chaos.failStatus)
		return
	}
	payload.ReceivedAt = time.Now().UTC().Format(time.RFC3339Nano)
	s.received = append(s.received, payload)
	s.mu.Unlock()

	s.logger.Info("webhook received", "event_id", payload.EventID, "event_type", payload.EventType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("webhook received"))
}

func (s *simulator) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	webhooks := make([]receivedWebhook, len(s.received))
	copy(webhooks, s.received)
	s.mu.Unlock()

	unique := map[string]bool{}
	for _, wh := range webhooks {
		unique[wh.EventID] = true
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_received": len(webhooks),
		"unique_events":  len(unique),
		"webhooks":       webhooks,
	})
}

func (s *simulator) reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	s.received = nil
	s.rejected = map[string]int{}
	s.mu.Unlock()

	s.logger.Info("webhook state reset")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("webhooks reset"))
}

func main() {
	service := config.String("INSTANCE_NAME", "merchant-sim")
	port, err := config.Port("PORT", "4001")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	chaos := chaosConfig{
		failCount:  config.Int("CHAOS_FAIL_COUNT", 0),
		failStatus: config.Int("CHAOS_FAIL_STATUS", http.StatusInternalServerError),
		delay:      config.DurationMS("CHAOS_DELAY_MS", 0),
		hang:       config.String("CHAOS_HANG", "") == "true",
	}
	sim := newSimulator(logger, chaos)

	mux := runtime.NewBaseMuxWithReady()
	mux.HandleFunc("/webhooks", sim.receive)
	mux.HandleFunc("/stats", sim.stats)
	mux.HandleFunc("/reset", sim.reset)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("merchant simulator listening", "addr", srv.Addr,
			"fail_count", chaos.failCount, "delay", chaos.delay, "hang", chaos.hang)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
