package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	x402 "github.com/ledgerflow/x402"
)

func testPayloadAndRequirements() ([]byte, []byte) {
	payload := x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Payload:     map[string]interface{}{"sig": "test"},
		Accepted:    x402.PaymentRequirements{Scheme: "exact", Network: "eip155:1"},
	}
	requirements := x402.PaymentRequirements{
		Scheme:  "exact",
		Network: "eip155:1",
		Asset:   "USDC",
		Amount:  "1000000",
		PayTo:   "0xrecipient",
	}

	payloadBytes, _ := json.Marshal(payload)
	requirementsBytes, _ := json.Marshal(requirements)
	return payloadBytes, requirementsBytes
}

func TestNewHTTPFacilitatorClient(t *testing.T) {
	client := NewHTTPFacilitatorClient(nil)
	if client == nil {
		t.Fatal("expected client to be created")
	}
	if client.url != DefaultFacilitatorURL {
		t.Errorf("expected default URL, got %s", client.url)
	}

	custom := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: "https://custom.facilitator"})
	if custom.url != "https://custom.facilitator" {
		t.Errorf("expected custom URL, got %s", custom.url)
	}
}

func TestHTTPFacilitatorClientVerify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Errorf("expected /verify, got %s", r.URL.Path)
		}

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["x402Version"] != float64(x402.ProtocolVersion) {
			t.Errorf("expected x402Version %d in body, got %v", x402.ProtocolVersion, body["x402Version"])
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(x402.VerifyResponse{IsValid: true, Payer: "0xpayer"})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})
	payloadBytes, requirementsBytes := testPayloadAndRequirements()

	result, err := client.Verify(context.Background(), payloadBytes, requirementsBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsValid {
		t.Error("expected valid result")
	}
	if result.Payer != "0xpayer" {
		t.Errorf("expected payer 0xpayer, got %s", result.Payer)
	}
}

func TestHTTPFacilitatorClientVerifyInvalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(x402.VerifyResponse{IsValid: false, InvalidReason: string(x402.ErrInvalidSignature)})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})
	payloadBytes, requirementsBytes := testPayloadAndRequirements()

	_, err := client.Verify(context.Background(), payloadBytes, requirementsBytes)
	if err == nil {
		t.Fatal("expected error for invalid payment")
	}

	protoErr, ok := x402.AsProtocolError(err)
	if !ok {
		t.Fatal("expected a protocol error")
	}
	if protoErr.Kind != x402.ErrInvalidSignature {
		t.Errorf("expected ErrInvalidSignature, got %s", protoErr.Kind)
	}
}

func TestHTTPFacilitatorClientSettle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settle" {
			t.Errorf("expected /settle, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(x402.SettleResponse{Success: true, Transaction: "0xtx"})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})
	payloadBytes, requirementsBytes := testPayloadAndRequirements()

	result, err := client.Settle(context.Background(), payloadBytes, requirementsBytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	if result.Transaction != "0xtx" {
		t.Errorf("expected transaction 0xtx, got %s", result.Transaction)
	}
}

func TestHTTPFacilitatorClientSettleFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(x402.SettleResponse{Success: false, ErrorReason: string(x402.ErrSettlementSubmissionFailed)})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})
	payloadBytes, requirementsBytes := testPayloadAndRequirements()

	_, err := client.Settle(context.Background(), payloadBytes, requirementsBytes)
	if err == nil {
		t.Fatal("expected error for failed settlement")
	}

	protoErr, ok := x402.AsProtocolError(err)
	if !ok {
		t.Fatal("expected a protocol error")
	}
	if protoErr.Kind != x402.ErrSettlementSubmissionFailed {
		t.Errorf("expected ErrSettlementSubmissionFailed, got %s", protoErr.Kind)
	}
}

func TestHTTPFacilitatorClientGetSupported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/supported" {
			t.Errorf("expected /supported, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(x402.SupportedResponse{
			Kinds: []x402.SupportedKind{{X402Version: x402.ProtocolVersion, Scheme: "exact", Network: "eip155:1"}},
		})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})
	result, err := client.GetSupported(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Kinds) != 1 {
		t.Fatalf("expected 1 supported kind, got %d", len(result.Kinds))
	}
}

func TestHTTPFacilitatorClientGetSupportedRetriesOn429(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("rate limited"))
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(x402.SupportedResponse{
			Kinds: []x402.SupportedKind{{X402Version: x402.ProtocolVersion, Scheme: "exact", Network: "eip155:1"}},
		})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})
	result, err := client.GetSupported(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if len(result.Kinds) != 1 {
		t.Fatalf("expected 1 supported kind, got %d", len(result.Kinds))
	}
}

func TestHTTPFacilitatorClientCircuitBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{URL: server.URL})
	payloadBytes, requirementsBytes := testPayloadAndRequirements()

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = client.Verify(context.Background(), payloadBytes, requirementsBytes)
	}

	protoErr, ok := x402.AsProtocolError(lastErr)
	if !ok {
		t.Fatalf("expected a protocol error after repeated failures, got %v", lastErr)
	}
	if protoErr.Kind != x402.ErrFacilitatorUnreachable {
		t.Errorf("expected ErrFacilitatorUnreachable once circuit trips, got %s", protoErr.Kind)
	}
}

func TestStaticAuthProvider(t *testing.T) {
	provider := NewStaticAuthProvider("api-key-123")

	headers, err := provider.GetAuthHeaders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "Bearer api-key-123"
	if headers.Verify["Authorization"] != want {
		t.Errorf("expected verify auth header %q, got %q", want, headers.Verify["Authorization"])
	}
	if headers.Settle["Authorization"] != want {
		t.Errorf("expected settle auth header %q, got %q", want, headers.Settle["Authorization"])
	}
	if headers.Supported["Authorization"] != want {
		t.Errorf("expected supported auth header %q, got %q", want, headers.Supported["Authorization"])
	}
}

func TestFuncAuthProvider(t *testing.T) {
	calls := 0
	provider := NewFuncAuthProvider(func(ctx context.Context) (AuthHeaders, error) {
		calls++
		return AuthHeaders{Verify: map[string]string{"X-Call": "1"}}, nil
	})

	headers, err := provider.GetAuthHeaders(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if headers.Verify["X-Call"] != "1" {
		t.Error("expected header from wrapped function")
	}
	if calls != 1 {
		t.Errorf("expected function to be invoked once, got %d", calls)
	}
}

func TestHTTPFacilitatorClientUsesAuthProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("expected Authorization header, got %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(x402.VerifyResponse{IsValid: true})
	}))
	defer server.Close()

	client := NewHTTPFacilitatorClient(&FacilitatorConfig{
		URL:          server.URL,
		AuthProvider: NewStaticAuthProvider("secret"),
	})

	payloadBytes, requirementsBytes := testPayloadAndRequirements()
	if _, err := client.Verify(context.Background(), payloadBytes, requirementsBytes); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
