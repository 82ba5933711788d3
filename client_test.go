package x402

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// Mock client for testing
type mockSchemeNetworkClient struct {
	scheme        string
	createPayload func(ctx context.Context, requirementsBytes []byte) ([]byte, error)
}

func (m *mockSchemeNetworkClient) Scheme() string {
	return m.scheme
}

func (m *mockSchemeNetworkClient) CreatePaymentPayload(ctx context.Context, requirementsBytes []byte) ([]byte, error) {
	if m.createPayload != nil {
		return m.createPayload(ctx, requirementsBytes)
	}
	return json.Marshal(PartialPaymentPayload{
		X402Version: ProtocolVersion,
		Payload: map[string]interface{}{
			"signature": "mock_signature",
			"from":      "0xmock",
		},
	})
}

func TestNewx402Client(t *testing.T) {
	client := Newx402Client()
	if client == nil {
		t.Fatal("Expected client to be created")
	}
	if client.schemes == nil {
		t.Fatal("Expected schemes map to be initialized")
	}
	if client.requirementsSelector == nil {
		t.Fatal("Expected default selector to be set")
	}
}

func TestClientRegisterScheme(t *testing.T) {
	client := Newx402Client()
	mockClient := &mockSchemeNetworkClient{scheme: "exact"}

	client.RegisterScheme("eip155:1", mockClient)

	if len(client.schemes) != 1 {
		t.Fatalf("Expected 1 network, got %d", len(client.schemes))
	}
	if client.schemes["eip155:1"]["exact"] != mockClient {
		t.Fatal("Expected mock client to be registered")
	}
}

func TestClientWithScheme(t *testing.T) {
	mockClient := &mockSchemeNetworkClient{scheme: "exact"}

	client := Newx402Client(
		WithScheme("eip155:1", mockClient),
	)

	if client.schemes["eip155:1"]["exact"] != mockClient {
		t.Fatal("Expected mock client to be registered via option")
	}
}

func TestClientSelectPaymentRequirements(t *testing.T) {
	client := Newx402Client()
	mockClient := &mockSchemeNetworkClient{scheme: "exact"}
	client.RegisterScheme("eip155:1", mockClient)

	requirements := []PaymentRequirements{
		{
			Scheme:  "exact",
			Network: "eip155:1",
			Asset:   "USDC",
			Amount:  "1000000",
			PayTo:   "0xrecipient",
		},
		{
			Scheme:  "unsupported",
			Network: "eip155:1",
			Asset:   "USDC",
			Amount:  "2000000",
			PayTo:   "0xrecipient",
		},
	}

	// Should select the first supported requirement
	selected, err := client.SelectPaymentRequirements(requirements)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if selected.Scheme != "exact" {
		t.Fatalf("Expected 'exact' scheme, got %s", selected.Scheme)
	}
	if selected.Amount != "1000000" {
		t.Fatalf("Expected amount '1000000', got %s", selected.Amount)
	}

	// Test with no supported requirements
	unsupportedReqs := []PaymentRequirements{
		{
			Scheme:  "unsupported",
			Network: "eip155:1",
			Asset:   "USDC",
			Amount:  "1000000",
			PayTo:   "0xrecipient",
		},
	}

	_, err = client.SelectPaymentRequirements(unsupportedReqs)
	if err == nil {
		t.Fatal("Expected error for unsupported requirements")
	}

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) || protoErr.Kind != ErrUnsupportedScheme {
		t.Fatal("Expected ErrUnsupportedScheme")
	}
}

func TestClientSelectPaymentRequirementsWithCustomSelector(t *testing.T) {
	// Custom selector that chooses the highest amount
	customSelector := func(requirements []PaymentRequirements) PaymentRequirements {
		if len(requirements) == 0 {
			panic("no requirements")
		}
		highest := requirements[0]
		for _, req := range requirements[1:] {
			if req.Amount > highest.Amount {
				highest = req
			}
		}
		return highest
	}

	client := Newx402Client(WithPaymentSelector(customSelector))
	mockClient := &mockSchemeNetworkClient{scheme: "exact"}
	client.RegisterScheme("eip155:1", mockClient)

	requirements := []PaymentRequirements{
		{
			Scheme:  "exact",
			Network: "eip155:1",
			Asset:   "USDC",
			Amount:  "1000000",
			PayTo:   "0xrecipient",
		},
		{
			Scheme:  "exact",
			Network: "eip155:1",
			Asset:   "USDC",
			Amount:  "2000000",
			PayTo:   "0xrecipient",
		},
	}

	selected, err := client.SelectPaymentRequirements(requirements)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if selected.Amount != "2000000" {
		t.Fatalf("Expected amount '2000000', got %s", selected.Amount)
	}
}

func TestClientCreatePaymentPayload(t *testing.T) {
	ctx := context.Background()
	client := Newx402Client()

	mockClient := &mockSchemeNetworkClient{
		scheme: "exact",
		createPayload: func(ctx context.Context, requirementsBytes []byte) ([]byte, error) {
			return json.Marshal(PartialPaymentPayload{
				X402Version: ProtocolVersion,
				Payload: map[string]interface{}{
					"signature": "test_sig",
					"from":      "0xsender",
				},
			})
		},
	}

	client.RegisterScheme("eip155:1", mockClient)

	requirements := PaymentRequirements{
		Scheme:  "exact",
		Network: "eip155:1",
		Asset:   "USDC",
		Amount:  "1000000",
		PayTo:   "0xrecipient",
	}

	resource := &ResourceInfo{
		URL:         "https://example.com/api",
		Description: "Test API",
		MimeType:    "application/json",
	}

	extensions := map[string]interface{}{
		"test": "value",
	}

	requirementsBytes, err := json.Marshal(requirements)
	if err != nil {
		t.Fatalf("marshal requirements: %v", err)
	}

	payloadBytes, err := client.CreatePaymentPayload(ctx, requirementsBytes, resource, extensions)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var payload PaymentPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	if payload.X402Version != ProtocolVersion {
		t.Fatalf("Expected version %d, got %d", ProtocolVersion, payload.X402Version)
	}
	if payload.Accepted.Scheme != "exact" {
		t.Fatalf("Expected accepted scheme 'exact', got %s", payload.Accepted.Scheme)
	}
	if payload.Accepted.Network != "eip155:1" {
		t.Fatalf("Expected accepted network 'eip155:1', got %s", payload.Accepted.Network)
	}
	if payload.Payload == nil {
		t.Fatal("Expected payload to be set")
	}
	if payload.Resource == nil {
		t.Fatal("Expected resource to be set")
	}
	if payload.Extensions == nil {
		t.Fatal("Expected extensions to be set")
	}
}

func TestClientCreatePaymentPayloadNoScheme(t *testing.T) {
	ctx := context.Background()
	client := Newx402Client()

	// Register a different scheme so we hit the "not found" branch
	mockClient := &mockSchemeNetworkClient{scheme: "different"}
	client.RegisterScheme("eip155:1", mockClient)

	requirements := PaymentRequirements{
		Scheme:  "unregistered",
		Network: "eip155:1",
		Asset:   "USDC",
		Amount:  "1000000",
		PayTo:   "0xrecipient",
	}

	requirementsBytes, err := json.Marshal(requirements)
	if err != nil {
		t.Fatalf("marshal requirements: %v", err)
	}

	_, err = client.CreatePaymentPayload(ctx, requirementsBytes, nil, nil)
	if err == nil {
		t.Fatal("Expected error for unregistered scheme")
	}

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("Expected ProtocolError, got: %v (%T)", err, err)
	}
	if protoErr.Kind != ErrUnsupportedScheme {
		t.Fatalf("Expected ErrUnsupportedScheme, got: %s", protoErr.Kind)
	}
}

func TestClientGetRegisteredSchemes(t *testing.T) {
	client := Newx402Client()
	mockClient1 := &mockSchemeNetworkClient{scheme: "exact"}
	mockClient2 := &mockSchemeNetworkClient{scheme: "transfer"}

	client.RegisterScheme("eip155:1", mockClient1)
	client.RegisterScheme("eip155:8453", mockClient2)

	schemes := client.GetRegisteredSchemes()
	if len(schemes) != 2 {
		t.Fatalf("Expected 2 registered schemes, got %d", len(schemes))
	}
}

func TestClientCanPay(t *testing.T) {
	client := Newx402Client()
	mockClient := &mockSchemeNetworkClient{scheme: "exact"}
	client.RegisterScheme("eip155:1", mockClient)

	requirements := []PaymentRequirements{
		{
			Scheme:  "exact",
			Network: "eip155:1",
			Asset:   "USDC",
			Amount:  "1000000",
			PayTo:   "0xrecipient",
		},
	}

	if !client.CanPay(requirements) {
		t.Fatal("Expected client to be able to pay")
	}

	unsupportedReqs := []PaymentRequirements{
		{
			Scheme:  "unsupported",
			Network: "eip155:1",
			Asset:   "USDC",
			Amount:  "1000000",
			PayTo:   "0xrecipient",
		},
	}

	if client.CanPay(unsupportedReqs) {
		t.Fatal("Expected client to not be able to pay unsupported requirements")
	}
}

func TestClientCreatePaymentForRequired(t *testing.T) {
	ctx := context.Background()
	client := Newx402Client()
	mockClient := &mockSchemeNetworkClient{scheme: "exact"}
	client.RegisterScheme("eip155:1", mockClient)

	required := PaymentRequired{
		X402Version: ProtocolVersion,
		Error:       "Payment required",
		Resource: &ResourceInfo{
			URL:         "https://example.com/api",
			Description: "Test API",
			MimeType:    "application/json",
		},
		Accepts: []PaymentRequirements{
			{
				Scheme:  "exact",
				Network: "eip155:1",
				Asset:   "USDC",
				Amount:  "1000000",
				PayTo:   "0xrecipient",
			},
		},
		Extensions: map[string]interface{}{
			"test": "value",
		},
	}

	payload, err := client.CreatePaymentForRequired(ctx, required)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if payload.X402Version != ProtocolVersion {
		t.Fatalf("Expected version %d, got %d", ProtocolVersion, payload.X402Version)
	}
	if payload.Accepted.Scheme != "exact" {
		t.Fatalf("Expected accepted scheme 'exact', got %s", payload.Accepted.Scheme)
	}
	if payload.Resource == nil {
		t.Fatal("Expected resource to be set from PaymentRequired")
	}
	if payload.Extensions == nil {
		t.Fatal("Expected extensions to be set from PaymentRequired")
	}
}

func TestClientNetworkPatternMatching(t *testing.T) {
	ctx := context.Background()
	client := Newx402Client()
	mockClient := &mockSchemeNetworkClient{scheme: "exact"}

	// Register with wildcard
	client.RegisterScheme("eip155:*", mockClient)

	requirements := PaymentRequirements{
		Scheme:  "exact",
		Network: "eip155:8453", // Specific network
		Asset:   "USDC",
		Amount:  "1000000",
		PayTo:   "0xrecipient",
	}

	requirementsBytes, err := json.Marshal(requirements)
	if err != nil {
		t.Fatalf("marshal requirements: %v", err)
	}

	// Should match the wildcard pattern
	payloadBytes, err := client.CreatePaymentPayload(ctx, requirementsBytes, nil, nil)
	if err != nil {
		t.Fatalf("Expected pattern match to work: %v", err)
	}

	var payload PaymentPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Accepted.Scheme != "exact" {
		t.Fatal("Expected payload to be created with pattern match")
	}
}
