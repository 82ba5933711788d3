package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/ledgerflow/x402"
	"github.com/sony/gobreaker"
)

// ============================================================================
// HTTP Facilitator Client
// ============================================================================

// HTTPFacilitatorClient communicates with a remote facilitator service over
// HTTP. Requests are routed through a circuit breaker so a facilitator outage
// fails fast instead of stacking up timeouts on every resource-server request.
type HTTPFacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	identifier   string
	breaker      *gobreaker.CircuitBreaker
}

// AuthProvider generates authentication headers for facilitator requests.
type AuthProvider interface {
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers for facilitator endpoints.
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// StaticAuthProvider attaches the same bearer token to every facilitator call.
type StaticAuthProvider struct {
	headers AuthHeaders
}

// NewStaticAuthProvider builds an AuthProvider that sends apiKey as a bearer
// token on verify, settle, and supported requests.
func NewStaticAuthProvider(apiKey string) *StaticAuthProvider {
	auth := map[string]string{"Authorization": "Bearer " + apiKey}
	return &StaticAuthProvider{headers: AuthHeaders{Verify: auth, Settle: auth, Supported: auth}}
}

// GetAuthHeaders implements AuthProvider.
func (p *StaticAuthProvider) GetAuthHeaders(ctx context.Context) (AuthHeaders, error) {
	return p.headers, nil
}

// FuncAuthProvider adapts a plain function into an AuthProvider, for
// facilitators whose credentials need to be refreshed per call (e.g. signed
// requests or short-lived tokens).
type FuncAuthProvider struct {
	fn func(ctx context.Context) (AuthHeaders, error)
}

// NewFuncAuthProvider wraps fn as an AuthProvider.
func NewFuncAuthProvider(fn func(ctx context.Context) (AuthHeaders, error)) *FuncAuthProvider {
	return &FuncAuthProvider{fn: fn}
}

// GetAuthHeaders implements AuthProvider.
func (p *FuncAuthProvider) GetAuthHeaders(ctx context.Context) (AuthHeaders, error) {
	return p.fn(ctx)
}

// FacilitatorConfig configures the HTTP facilitator client.
type FacilitatorConfig struct {
	URL          string
	HTTPClient   *http.Client
	AuthProvider AuthProvider
	Timeout      time.Duration
	Identifier   string
}

// DefaultFacilitatorURL is the default public facilitator.
const DefaultFacilitatorURL = "https://x402.org/facilitator"

const getSupportedRetries = 3
const getSupportedRetryBaseDelay = 1 * time.Second

// NewHTTPFacilitatorClient creates a new HTTP facilitator client.
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := config.URL
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	identifier := config.Identifier
	if identifier == "" {
		identifier = url
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "facilitator:" + identifier,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})

	return &HTTPFacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
		identifier:   identifier,
		breaker:      breaker,
	}
}

// ============================================================================
// FacilitatorClient Implementation
// ============================================================================

// Verify checks if a payment is valid by calling the remote facilitator's /verify endpoint.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (x402.VerifyResponse, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.verifyHTTP(ctx, payloadBytes, requirementsBytes)
	})
	if err != nil {
		return x402.VerifyResponse{}, c.wrapBreakerError(err)
	}
	return result.(x402.VerifyResponse), nil
}

// Settle executes a payment by calling the remote facilitator's /settle endpoint.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (x402.SettleResponse, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.settleHTTP(ctx, payloadBytes, requirementsBytes)
	})
	if err != nil {
		return x402.SettleResponse{}, c.wrapBreakerError(err)
	}
	return result.(x402.SettleResponse), nil
}

func (c *HTTPFacilitatorClient) wrapBreakerError(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return x402.NewProtocolError(x402.ErrFacilitatorUnreachable, fmt.Sprintf("facilitator %s unavailable: %v", c.identifier, err), nil)
	}
	return err
}

// GetSupported gets supported payment kinds. Retries up to getSupportedRetries
// times with exponential backoff on 429 rate limit errors.
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	var lastErr error

	for attempt := 0; attempt < getSupportedRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "GET", c.url+"/supported", nil)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")

		if c.authProvider != nil {
			authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
			if err != nil {
				return x402.SupportedResponse{}, fmt.Errorf("failed to get auth headers: %w", err)
			}
			for k, v := range authHeaders.Supported {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("supported request failed: %w", err)
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var supportedResponse x402.SupportedResponse
			if err := json.Unmarshal(responseBody, &supportedResponse); err != nil {
				return x402.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return supportedResponse, nil
		}

		lastErr = fmt.Errorf("facilitator supported failed (%d): %s", resp.StatusCode, string(responseBody))

		if resp.StatusCode == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := getSupportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return x402.SupportedResponse{}, ctx.Err()
			}
		}

		return x402.SupportedResponse{}, lastErr
	}

	return x402.SupportedResponse{}, lastErr
}

// ============================================================================
// Internal HTTP Methods
// ============================================================================

func (c *HTTPFacilitatorClient) verifyHTTP(ctx context.Context, payloadBytes, requirementsBytes []byte) (x402.VerifyResponse, error) {
	var payloadMap, requirementsMap map[string]interface{}
	if err := json.Unmarshal(payloadBytes, &payloadMap); err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if err := json.Unmarshal(requirementsBytes, &requirementsMap); err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to unmarshal requirements: %w", err)
	}

	requestBody := map[string]interface{}{
		"x402Version":         x402.ProtocolVersion,
		"paymentPayload":      payloadMap,
		"paymentRequirements": requirementsMap,
	}

	body, err := json.Marshal(requestBody)
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/verify", bytes.NewReader(body))
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to create verify request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.authProvider != nil {
		authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
		if err != nil {
			return x402.VerifyResponse{}, fmt.Errorf("failed to get auth headers: %w", err)
		}
		for k, v := range authHeaders.Verify {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}

	var verifyResponse x402.VerifyResponse
	if err := json.Unmarshal(responseBody, &verifyResponse); err != nil {
		return x402.VerifyResponse{}, x402.NewProtocolError(x402.ErrInvalidPayload, fmt.Sprintf("failed to unmarshal verify response: %s", err), nil)
	}

	if resp.StatusCode != http.StatusOK {
		if verifyResponse.InvalidReason != "" {
			return x402.VerifyResponse{}, x402.NewProtocolError(x402.ErrorKind(verifyResponse.InvalidReason), verifyResponse.InvalidReason, map[string]interface{}{"payer": verifyResponse.Payer})
		}
		return x402.VerifyResponse{}, fmt.Errorf("facilitator verify failed (%d): %s", resp.StatusCode, string(responseBody))
	}

	return verifyResponse, nil
}

func (c *HTTPFacilitatorClient) settleHTTP(ctx context.Context, payloadBytes, requirementsBytes []byte) (x402.SettleResponse, error) {
	var payloadMap, requirementsMap map[string]interface{}
	if err := json.Unmarshal(payloadBytes, &payloadMap); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if err := json.Unmarshal(requirementsBytes, &requirementsMap); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("failed to unmarshal requirements: %w", err)
	}

	requestBody := map[string]interface{}{
		"x402Version":         x402.ProtocolVersion,
		"paymentPayload":      payloadMap,
		"paymentRequirements": requirementsMap,
	}

	body, err := json.Marshal(requestBody)
	if err != nil {
		return x402.SettleResponse{}, fmt.Errorf("failed to marshal settle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/settle", bytes.NewReader(body))
	if err != nil {
		return x402.SettleResponse{}, fmt.Errorf("failed to create settle request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.authProvider != nil {
		authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
		if err != nil {
			return x402.SettleResponse{}, fmt.Errorf("failed to get auth headers: %w", err)
		}
		for k, v := range authHeaders.Settle {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return x402.SettleResponse{}, fmt.Errorf("settle request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return x402.SettleResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}

	var settleResponse x402.SettleResponse
	if err := json.Unmarshal(responseBody, &settleResponse); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("facilitator settle failed (%d): %s", resp.StatusCode, string(responseBody))
	}

	if resp.StatusCode != http.StatusOK {
		if settleResponse.ErrorReason != "" {
			return x402.SettleResponse{}, x402.NewProtocolError(x402.ErrorKind(settleResponse.ErrorReason), settleResponse.ErrorReason, map[string]interface{}{
				"payer":       settleResponse.Payer,
				"network":     settleResponse.Network,
				"transaction": settleResponse.Transaction,
			})
		}
		return x402.SettleResponse{}, fmt.Errorf("facilitator settle failed (%d): %s", resp.StatusCode, string(responseBody))
	}

	return settleResponse, nil
}
