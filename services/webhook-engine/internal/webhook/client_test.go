package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/payhookd/payhook/services/webhook-engine/internal/enrich"
)

func testDelivery() Delivery {
	return Delivery{
		EventID:   "3f2c9a10-0000-4000-8000-000000000001",
		EventType: "payment.succeeded",
		Payment:   enrich.Payload{ID: "P1", Amount: 500, Currency: "usd", Status: "succeeded"},
	}
}

func TestClient_SendSuccess(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type: %s", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if err := c.Send(context.Background(), testDelivery()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got["event_id"] != "3f2c9a10-0000-4000-8000-000000000001" {
		t.Fatalf("unexpected event_id: %v", got["event_id"])
	}
	if got["event_type"] != "payment.succeeded" {
		t.Fatalf("unexpected event_type: %v", got["event_type"])
	}
	payment, ok := got["payment"].(map[string]any)
	if !ok || payment["id"] != "P1" || payment["amount"] != float64(500) {
		t.Fatalf("unexpected payment: %v", got["payment"])
	}
}

func TestClient_SendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	err := c.Send(context.Background(), testDelivery())

	var fe *FailureError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FailureError, got %v", err)
	}
	if fe.Kind != KindServerError || fe.Status != http.StatusBadGateway {
		t.Fatalf("unexpected classification: %+v", fe)
	}
}

func TestClient_SendClientRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	err := c.Send(context.Background(), testDelivery())

	var fe *FailureError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FailureError, got %v", err)
	}
	if fe.Kind != KindClientRejected || fe.Status != http.StatusBadRequest {
		t.Fatalf("unexpected classification: %+v", fe)
	}
}

func TestClient_SendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20*time.Millisecond)
	err := c.Send(context.Background(), testDelivery())

	var fe *FailureError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FailureError, got %v", err)
	}
	if fe.Kind != KindTimeout {
		t.Fatalf("expected timeout classification, got %+v", fe)
	}
}

func TestClassifyTransport(t *testing.T) {
	refused := &net.OpError{Op: "dial", Err: &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}}
	if fe := classifyTransport(refused); fe.Kind != KindConnectionRefused {
		t.Fatalf("connect refused: expected connection_refused, got %s", fe.Kind)
	}

	reset := &net.OpError{Op: "read", Err: &os.SyscallError{Syscall: "read", Err: syscall.ECONNRESET}}
	if fe := classifyTransport(reset); fe.Kind != KindNetworkError {
		t.Fatalf("connection reset: expected network_error, got %s", fe.Kind)
	}

	dns := &net.DNSError{Err: "no such host", Name: "merchant.invalid", IsNotFound: true}
	if fe := classifyTransport(dns); fe.Kind != KindNetworkError {
		t.Fatalf("dns failure: expected network_error, got %s", fe.Kind)
	}

	dnsTimeout := &net.DNSError{Err: "i/o timeout", Name: "merchant.invalid", IsTimeout: true}
	if fe := classifyTransport(dnsTimeout); fe.Kind != KindTimeout {
		t.Fatalf("dns timeout: expected timeout, got %s", fe.Kind)
	}
}

func TestClient_SendConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	c := NewClient(endpoint, time.Second)
	err := c.Send(context.Background(), testDelivery())

	var fe *FailureError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FailureError, got %v", err)
	}
	if fe.Kind != KindConnectionRefused {
		t.Fatalf("expected connection_refused classification, got %+v", fe)
	}
}
