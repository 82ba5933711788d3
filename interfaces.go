package x402

import "context"

// MoneyParser is a function that converts a decimal amount to an AssetAmount
// If the parser cannot handle the conversion, it should return nil
// Multiple parsers can be registered and will be tried in order
// The default parser is always used as a fallback
//
// Args:
//   amount: Decimal amount (e.g., 1.50 for $1.50)
//   network: Network identifier
//
// Returns:
//   AssetAmount or nil if this parser cannot handle the conversion
type MoneyParser func(amount float64, network Network) (*AssetAmount, error)

// SchemeNetworkClient is implemented by client-side payment mechanisms.
// Clients use it to sign and construct payments.
type SchemeNetworkClient interface {
	// Scheme returns the payment scheme identifier (e.g., "exact")
	Scheme() string

	// CreatePaymentPayload signs a payment for the given requirements and
	// returns a partial payload (x402Version + payload); the core wraps it
	// with Accepted/Resource/Extensions before it goes on the wire.
	CreatePaymentPayload(ctx context.Context, requirementsBytes []byte) (payloadBytes []byte, err error)
}

// SchemeNetworkFacilitator is implemented by facilitator-side payment mechanisms.
// Facilitators use it to verify and settle payments.
type SchemeNetworkFacilitator interface {
	// Scheme returns the payment scheme identifier (e.g., "exact")
	Scheme() string

	// Verify checks if a payment is valid without executing it.
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (VerifyResponse, error)

	// Settle executes the payment on-chain.
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (SettleResponse, error)
}

// SchemeNetworkService is implemented by server-side payment mechanisms
// This interface is used by servers who create payment requirements
type SchemeNetworkService interface {
	// Scheme returns the payment scheme identifier (e.g., "exact")
	Scheme() string

	// ParsePrice converts a user-friendly price to asset/amount format
	ParsePrice(price Price, network Network) (AssetAmount, error)

	// EnhancePaymentRequirements adds scheme-specific details to requirements
	EnhancePaymentRequirements(
		ctx context.Context,
		requirements PaymentRequirements,
		supportedKind SupportedKind,
		extensions []string,
	) (PaymentRequirements, error)
}

// FacilitatorClient interface for services to interact with facilitators
// Updated to use bytes for version-agnostic communication
type FacilitatorClient interface {
	// Verify a payment against requirements
	// Accepts raw bytes (payload and requirements)
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (VerifyResponse, error)

	// Settle a payment
	// Accepts raw bytes (payload and requirements)
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (SettleResponse, error)

	// Get supported payment kinds
	GetSupported(ctx context.Context) (SupportedResponse, error)
}
