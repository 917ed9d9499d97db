// Package relay talks to the off-chain Snapshot relay: it posts the
// canonical vote envelope and cross-checks the identifier the relay returns
// against the commitment stored by the processor.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/snapshot"
	"golang.org/x/time/rate"
)

// Receipt is the relay's acknowledgement.
type Receipt struct {
	ID string `json:"id"`
}

// Error is a non-2xx relay response.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay: status %d: %s", e.Status, e.Body)
}

// Client posts envelopes to a relay endpoint. It does not retry.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Limiter *rate.Limiter
}

// NewClient creates a client limited to rps requests per second. rps <= 0
// disables limiting.
func NewClient(baseURL string, rps float64) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
	if rps > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return c
}

const maxResponse = 1 << 20

// Send posts env and returns the relay's receipt.
func (c *Client) Send(ctx context.Context, env snapshot.Envelope) (*Receipt, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("relay: rate limit: %w", err)
		}
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("relay: encode envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, fmt.Errorf("relay: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("relay: decode response: %w", err)
	}
	if receipt.ID == "" {
		return nil, fmt.Errorf("relay: response has no id")
	}
	return &receipt, nil
}

// MatchesCommitment reports whether a relay id names the commitment h.
func MatchesCommitment(id string, h common.Hash) bool {
	id = strings.TrimPrefix(strings.TrimPrefix(id, "0x"), "0X")
	return strings.EqualFold(id, strings.TrimPrefix(h.Hex(), "0x"))
}
