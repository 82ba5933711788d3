package svm

import (
	x402 "github.com/ledgerflow/x402"
)

// SvmClientConfig holds configuration for creating an SVM x402 client
type SvmClientConfig struct {
	// The SVM signer to use for creating payment payloads
	Signer ClientSvmSigner
	// Custom payment requirements selector (optional)
	PaymentRequirementsSelector x402.PaymentRequirementsSelector
	// Policies to apply to the client (optional)
	Policies []x402.PaymentPolicy
	// Custom RPC configuration (optional - uses network defaults if nil)
	ClientConfig *ClientConfig
}

// NewSvmClient creates an X402Client configured for SVM payments,
// registering the exact scheme against the solana:* network wildcard.
func NewSvmClient(config SvmClientConfig) *x402.X402Client {
	opts := []x402.ClientOption{}

	if config.PaymentRequirementsSelector != nil {
		opts = append(opts, x402.WithPaymentSelector(config.PaymentRequirementsSelector))
	}

	for _, policy := range config.Policies {
		opts = append(opts, x402.WithPolicy(policy))
	}

	client := x402.Newx402Client(opts...)

	svmClient := NewExactSvmClient(config.Signer, config.ClientConfig)
	client.RegisterScheme("solana:*", svmClient)

	return client
}
