package retell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"carecall_backend/platform/config"
	"carecall_backend/platform/logger"

	"github.com/cenkalti/backoff/v4"
)

// Caller dispatches outbound phone calls through the provider.
// The dispatch loop depends on this interface so tests can stub the provider.
type Caller interface {
	CreatePhoneCall(ctx context.Context, req CreatePhoneCallRequest) (CreatePhoneCallResponse, error)
}

// Client is the HTTP client for the Retell API.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	fromNumber string
	log        *logger.Logger
}

// NewClient creates a Retell API client.
func NewClient(cfg config.RetellConfig, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     cfg.GetRetellAPIKey(),
		baseURL:    cfg.GetRetellBaseURL(),
		fromNumber: cfg.GetRetellFromNumber(),
		log:        log,
	}
}

// FromNumber returns the configured outbound caller number.
func (c *Client) FromNumber() string {
	return c.fromNumber
}

// CreatePhoneCall starts an outbound call. Transient failures (network
// errors, 5xx) are retried with exponential backoff; 4xx responses are not.
func (c *Client) CreatePhoneCall(ctx context.Context, req CreatePhoneCallRequest) (CreatePhoneCallResponse, error) {
	if req.FromNumber == "" {
		req.FromNumber = c.fromNumber
	}

	body, err := json.Marshal(req)
	if err != nil {
		return CreatePhoneCallResponse{}, fmt.Errorf("marshal create-phone-call request: %w", err)
	}

	var resp CreatePhoneCallResponse
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/create-phone-call", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
		if err != nil {
			return err
		}

		if httpResp.StatusCode >= 500 {
			return fmt.Errorf("retell create-phone-call: status %d", httpResp.StatusCode)
		}
		if httpResp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("retell create-phone-call: status %d: %s", httpResp.StatusCode, string(respBody)))
		}

		if err := json.Unmarshal(respBody, &resp); err != nil {
			return backoff.Permanent(fmt.Errorf("decode create-phone-call response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return CreatePhoneCallResponse{}, err
	}

	if resp.CallID == "" {
		return CreatePhoneCallResponse{}, fmt.Errorf("retell create-phone-call: empty call_id in response")
	}

	return resp, nil
}
