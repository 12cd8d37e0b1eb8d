package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/payhookd/payhook/services/webhook-engine/internal/enrich"
)

// FailureKind classifies an unsuccessful delivery attempt. Every kind is
// retryable under the coordinator's budget; the distinction exists for logs
// and for the journal's last_error field.
type FailureKind string

const (
	KindTimeout           FailureKind = "timeout"
	KindConnectionRefused FailureKind = "connection_refused"
	KindNetworkError      FailureKind = "network_error"
	KindClientRejected    FailureKind = "client_rejected"
	KindServerError       FailureKind = "server_error"
)

// FailureError is returned for any delivery attempt that did not get a 2xx.
type FailureError struct {
	Kind   FailureKind
	Status int
	Err    error
}

func (e *FailureError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("webhook delivery failed (%s, status %d)", e.Kind, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("webhook delivery failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("webhook delivery failed (%s)", e.Kind)
}

func (e *FailureError) Unwrap() error { return e.Err }

// Delivery is one outbound notification. EventID is the stable identifier
// and MUST be identical across retries of the same logical event; it is the
// receiver's dedupe key.
type Delivery struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Payment   enrich.Payload `json:"payment"`
}

type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		endpoint: strings.TrimSpace(endpoint),
		http:     &http.Client{Timeout: timeout},
	}
}

// Send posts one notification to the merchant endpoint. Any 2xx is success;
// everything else comes back as a *FailureError.
func (c *Client) Send(ctx context.Context, d Delivery) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return &FailureError{Kind: KindServerError, Status: resp.StatusCode}
	default:
		return &FailureError{Kind: KindClientRejected, Status: resp.StatusCode}
	}
}

func classifyTransport(err error) *FailureError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FailureError{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &FailureError{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &FailureError{Kind: KindConnectionRefused, Err: err}
	}
	// DNS failures, resets, TLS trouble: transport-level, but not refused.
	return &FailureError{Kind: KindNetworkError, Err: err}
}
