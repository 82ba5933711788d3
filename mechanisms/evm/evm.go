// Package evm provides EVM blockchain support for the x402 payment protocol.
// It implements the exact payment scheme using EIP-3009 TransferWithAuthorization.
package evm

import (
	"context"
	"encoding/json"

	x402 "github.com/ledgerflow/x402"
)

// Register registers all EVM mechanism implementations with the x402 client, facilitator, and resource service
func Register(
	client *x402.X402Client,
	facilitator *x402.X402Facilitator,
	service *x402.X402ResourceService,
	signer interface{},
	networks []string,
) error {
	// Determine which components to register based on the signer type
	var clientSigner ClientEvmSigner
	var facilitatorSigner FacilitatorEvmSigner

	// Try to cast signer to the appropriate interfaces
	if s, ok := signer.(ClientEvmSigner); ok {
		clientSigner = s
	}
	if s, ok := signer.(FacilitatorEvmSigner); ok {
		facilitatorSigner = s
	}

	// If no specific networks provided, use all supported networks
	if len(networks) == 0 {
		for network := range NetworkConfigs {
			networks = append(networks, network)
		}
	}

	// Register with client if we have a client signer
	if client != nil && clientSigner != nil {
		evmClient := NewExactEvmClient(clientSigner)
		for _, network := range networks {
			if IsValidNetwork(network) {
				client.RegisterScheme(x402.Network(network), evmClient)
			}
		}
	}

	// Register with facilitator if we have a facilitator signer
	if facilitator != nil && facilitatorSigner != nil {
		evmFacilitator := NewExactEvmFacilitator(facilitatorSigner)
		for _, network := range networks {
			if IsValidNetwork(network) {
				facilitator.RegisterScheme(x402.Network(network), evmFacilitator)
			}
		}
	}

	// Register with the resource service (no signer needed)
	// Service registration is done via RegisterService() which returns options
	if service != nil {
		_ = service
	}

	return nil
}

// RegisterClient registers the EVM client implementation
func RegisterClient(client *x402.X402Client, signer ClientEvmSigner, networks ...string) error {
	return Register(client, nil, nil, signer, networks)
}

// RegisterFacilitator registers the EVM facilitator implementation
func RegisterFacilitator(facilitator *x402.X402Facilitator, signer FacilitatorEvmSigner, networks ...string) error {
	return Register(nil, facilitator, nil, signer, networks)
}

// RegisterService returns the options needed to register the EVM resource service implementation
func RegisterService(networks ...string) []x402.ResourceServiceOption {
	evmService := NewExactEvmService()
	opts := []x402.ResourceServiceOption{}

	if len(networks) == 0 {
		for network := range NetworkConfigs {
			networks = append(networks, network)
		}
	}

	for _, network := range networks {
		if IsValidNetwork(network) {
			opts = append(opts, x402.WithSchemeService(x402.Network(network), evmService))
		}
	}

	return opts
}

// CreateExactPayload is a helper to create an exact EVM payment payload.
// Bridge helper: keeps struct API, marshals internally.
func CreateExactPayload(
	ctx context.Context,
	signer ClientEvmSigner,
	requirements x402.PaymentRequirements,
) (x402.PartialPaymentPayload, error) {
	client := NewExactEvmClient(signer)

	reqBytes, err := json.Marshal(requirements)
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}

	payloadBytes, err := client.CreatePaymentPayload(ctx, reqBytes)
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}

	var partial x402.PartialPaymentPayload
	if err := json.Unmarshal(payloadBytes, &partial); err != nil {
		return x402.PartialPaymentPayload{}, err
	}
	return partial, nil
}

// VerifyExactPayload is a helper to verify an exact EVM payment payload.
// Bridge helper: keeps struct API, marshals internally.
func VerifyExactPayload(
	ctx context.Context,
	signer FacilitatorEvmSigner,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (x402.VerifyResponse, error) {
	facilitator := NewExactEvmFacilitator(signer)

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return x402.VerifyResponse{}, err
	}
	requirementsBytes, err := json.Marshal(requirements)
	if err != nil {
		return x402.VerifyResponse{}, err
	}

	return facilitator.Verify(ctx, payloadBytes, requirementsBytes)
}

// SettleExactPayload is a helper to settle an exact EVM payment payload.
// Bridge helper: keeps struct API, marshals internally.
func SettleExactPayload(
	ctx context.Context,
	signer FacilitatorEvmSigner,
	payload x402.PaymentPayload,
	requirements x402.PaymentRequirements,
) (x402.SettleResponse, error) {
	facilitator := NewExactEvmFacilitator(signer)

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	requirementsBytes, err := json.Marshal(requirements)
	if err != nil {
		return x402.SettleResponse{}, err
	}

	return facilitator.Settle(ctx, payloadBytes, requirementsBytes)
}
