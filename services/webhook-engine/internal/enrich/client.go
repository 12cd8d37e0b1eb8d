package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrObjectNotFound means the upstream genuinely has no record for the id.
// Retrying only helps if the record appears later, so the coordinator counts
// it against the normal retry budget rather than retrying forever.
var ErrObjectNotFound = errors.New("enrichment object not found")

// ErrUnavailable covers timeouts and non-success responses from the
// enrichment service.
var ErrUnavailable = errors.New("enrichment service unavailable")

// Payload is the current-state view of the referenced object. It is fetched
// fresh on every delivery attempt and never persisted, so the merchant always
// observes the latest state.
type Payload struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds an enrichment client against the payload service. The
// timeout bounds the whole fetch; retry policy lives in the coordinator, not
// here.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Fetch(ctx context.Context, objectID string) (Payload, error) {
	url := c.baseURL + "/payload/" + objectID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Payload{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Payload{}, fmt.Errorf("%w: object %s", ErrObjectNotFound, objectID)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Payload{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var p Payload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("%w: decode payload: %v", ErrUnavailable, err)
	}
	return p, nil
}
