package evm

import (
	x402 "github.com/ledgerflow/x402"
)

// EvmClientConfig holds configuration for creating an EVM x402 client
type EvmClientConfig struct {
	// The EVM signer to use for creating payment payloads
	Signer ClientEvmSigner
	// Custom payment requirements selector (optional)
	PaymentRequirementsSelector x402.PaymentRequirementsSelector
	// Policies to apply to the client (optional)
	Policies []x402.PaymentPolicy
}

// NewEvmClient creates an X402Client configured for EVM payments,
// registering the exact scheme against the eip155:* network wildcard.
func NewEvmClient(config EvmClientConfig) *x402.X402Client {
	opts := []x402.ClientOption{}

	if config.PaymentRequirementsSelector != nil {
		opts = append(opts, x402.WithPaymentSelector(config.PaymentRequirementsSelector))
	}

	for _, policy := range config.Policies {
		opts = append(opts, x402.WithPolicy(policy))
	}

	client := x402.Newx402Client(opts...)

	evmClient := NewExactEvmClient(config.Signer)
	client.RegisterScheme("eip155:*", evmClient)

	return client
}
