package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	x402 "github.com/ledgerflow/x402"
)

func newTestClient(opts ...x402.ClientOption) *X402HTTPClient {
	return NewX402HTTPClient(x402.Newx402Client(opts...))
}

func TestNewX402HTTPClient(t *testing.T) {
	client := newTestClient()
	if client == nil {
		t.Fatal("expected client to be created")
	}
}

func TestEncodePaymentSignatureHeader(t *testing.T) {
	client := newTestClient()

	payload := x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Payload:     map[string]interface{}{"sig": "test"},
		Accepted:    x402.PaymentRequirements{Scheme: "mock", Network: "eip155:1"},
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}

	headers := client.EncodePaymentSignatureHeader(payloadBytes)
	encoded, exists := headers["PAYMENT-SIGNATURE"]
	if !exists {
		t.Fatal("expected PAYMENT-SIGNATURE header")
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("failed to decode base64: %v", err)
	}

	var decodedPayload x402.PaymentPayload
	if err := json.Unmarshal(decoded, &decodedPayload); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}

	if decodedPayload.X402Version != payload.X402Version {
		t.Errorf("version mismatch: got %d, want %d", decodedPayload.X402Version, payload.X402Version)
	}
}

func TestGetPaymentRequiredResponse(t *testing.T) {
	client := newTestClient()

	requirements := x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Error:       "Payment required",
		Accepts: []x402.PaymentRequirements{
			{
				Scheme:  "exact",
				Network: "eip155:1",
				Asset:   "USDC",
				Amount:  "1000000",
				PayTo:   "0xrecipient",
			},
		},
	}

	reqJSON, _ := json.Marshal(requirements)
	encoded := base64.StdEncoding.EncodeToString(reqJSON)

	headers := map[string]string{
		"PAYMENT-REQUIRED": encoded,
	}

	result, err := client.GetPaymentRequiredResponse(headers, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.X402Version != x402.ProtocolVersion {
		t.Errorf("expected version %d, got %d", x402.ProtocolVersion, result.X402Version)
	}
	if len(result.Accepts) != 1 {
		t.Errorf("expected 1 requirement, got %d", len(result.Accepts))
	}

	_, err = client.GetPaymentRequiredResponse(map[string]string{}, nil)
	if err == nil {
		t.Error("expected error when no payment required found")
	}
}

func TestGetPaymentSettleResponse(t *testing.T) {
	client := newTestClient()

	settleResponse := x402.SettleResponse{
		Success:     true,
		Transaction: "0xtx",
		Payer:       "0xpayer",
		Network:     "eip155:1",
	}

	respJSON, _ := json.Marshal(settleResponse)
	encoded := base64.StdEncoding.EncodeToString(respJSON)

	headers := map[string]string{
		"PAYMENT-RESPONSE": encoded,
	}

	result, err := client.GetPaymentSettleResponse(headers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Success {
		t.Error("expected success")
	}
	if result.Transaction != "0xtx" {
		t.Errorf("expected transaction 0xtx, got %s", result.Transaction)
	}

	_, err = client.GetPaymentSettleResponse(map[string]string{})
	if err == nil {
		t.Error("expected error when no payment response found")
	}
}

// mockSchemeClient is a minimal SchemeNetworkClient for tests.
type mockSchemeClient struct {
	scheme string
}

func (m *mockSchemeClient) Scheme() string { return m.scheme }

func (m *mockSchemeClient) CreatePaymentPayload(ctx context.Context, requirementsBytes []byte) ([]byte, error) {
	partial := x402.PartialPaymentPayload{
		X402Version: x402.ProtocolVersion,
		Payload:     map[string]interface{}{"sig": "test"},
	}
	return json.Marshal(partial)
}

func TestPaymentRoundTripper(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++

		if callCount == 1 {
			requirements := x402.PaymentRequired{
				X402Version: x402.ProtocolVersion,
				Error:       "Payment required",
				Accepts: []x402.PaymentRequirements{
					{
						Scheme:  "mock",
						Network: "test:1",
						Asset:   "TEST",
						Amount:  "1000",
						PayTo:   "0xtest",
					},
				},
			}

			reqJSON, _ := json.Marshal(requirements)
			encoded := base64.StdEncoding.EncodeToString(reqJSON)

			w.Header().Set("PAYMENT-REQUIRED", encoded)
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte("Payment required"))
		} else {
			if r.Header.Get("PAYMENT-SIGNATURE") == "" {
				t.Error("expected PAYMENT-SIGNATURE header on retry")
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Success"))
		}
	}))
	defer server.Close()

	x402HTTPClient := newTestClient(x402.WithScheme("test:1", &mockSchemeClient{scheme: "mock"}))

	httpClient := WrapHTTPClientWithPayment(http.DefaultClient, x402HTTPClient)

	resp, err := httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "Success" {
		t.Errorf("expected body 'Success', got %s", string(body))
	}

	if callCount != 2 {
		t.Errorf("expected 2 calls to server, got %d", callCount)
	}
}

func TestPaymentRoundTripperNoRetryOn200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Success"))
	}))
	defer server.Close()

	x402HTTPClient := newTestClient()
	httpClient := WrapHTTPClientWithPayment(http.DefaultClient, x402HTTPClient)

	resp, err := httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestDoWithPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Success"))
	}))
	defer server.Close()

	client := newTestClient()
	ctx := context.Background()
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := client.DoWithPayment(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestGetWithPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient()
	ctx := context.Background()

	resp, err := client.GetWithPayment(ctx, server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
}

func TestPostWithPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("expected POST, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "test body" {
			t.Errorf("expected 'test body', got %s", string(body))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient()
	ctx := context.Background()

	resp, err := client.PostWithPayment(ctx, server.URL, strings.NewReader("test body"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
}
