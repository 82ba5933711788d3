// Package facilitator exposes an X402Facilitator over HTTP and provides a
// matching remote client, so a resource server and its facilitator can run
// as separate processes.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	x402 "github.com/ledgerflow/x402"
)

// HTTPClient is a remote x402.FacilitatorClient that calls a facilitator's
// HTTP API, with each request routed through a circuit breaker so a
// struggling facilitator fails fast instead of piling up timeouts.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// HTTPClientConfig configures HTTPClient's circuit breaker.
type HTTPClientConfig struct {
	BaseURL             string
	Timeout             time.Duration
	MaxRequests         uint32
	Interval            time.Duration
	BreakerTimeout      time.Duration
	ConsecutiveFailures uint32
}

// NewHTTPClient builds a circuit-broken remote facilitator client.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}

	settings := gobreaker.Settings{
		Name:        "facilitator-http-client",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
	}

	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("facilitator returned %d: %s", resp.StatusCode, respBody)
		}
		return respBody, nil
	})
	if err != nil {
		return nil, &x402.ProtocolError{Kind: x402.ErrFacilitatorUnreachable, Message: err.Error()}
	}
	return result.([]byte), nil
}

type verifyRequestBody struct {
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements"`
}

// Verify calls the remote facilitator's /verify endpoint.
func (c *HTTPClient) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (x402.VerifyResponse, error) {
	body, err := json.Marshal(verifyRequestBody{PaymentPayload: payloadBytes, PaymentRequirements: requirementsBytes})
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	respBytes, err := c.post(ctx, "/verify", body)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	var resp x402.VerifyResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("decode verify response: %w", err)
	}
	return resp, nil
}

// Settle calls the remote facilitator's /settle endpoint.
func (c *HTTPClient) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (x402.SettleResponse, error) {
	body, err := json.Marshal(verifyRequestBody{PaymentPayload: payloadBytes, PaymentRequirements: requirementsBytes})
	if err != nil {
		return x402.SettleResponse{}, err
	}
	respBytes, err := c.post(ctx, "/settle", body)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	var resp x402.SettleResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("decode settle response: %w", err)
	}
	return resp, nil
}

// GetSupported calls the remote facilitator's /supported endpoint.
func (c *HTTPClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported", nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return x402.SupportedResponse{}, &x402.ProtocolError{Kind: x402.ErrFacilitatorUnreachable, Message: err.Error()}
	}
	var supported x402.SupportedResponse
	if err := json.Unmarshal(result.([]byte), &supported); err != nil {
		return x402.SupportedResponse{}, fmt.Errorf("decode supported response: %w", err)
	}
	return supported, nil
}
