package x402

// Extension is implemented by protocol extensions that enrich a resource's
// 402 challenge (e.g. idempotency, discovery/bazaar metadata, MCP auth
// hints). Extensions never see or influence billing decisions: they only
// decorate the declaration the client already asked for.
type Extension interface {
	// Key identifies the extension in PaymentRequired.Extensions /
	// PaymentPayload.Extensions maps.
	Key() string

	// EnrichDeclaration augments a client-declared extension payload with
	// server-side detail (e.g. a suggested idempotency key, a discovery
	// catalog entry). transportContext is adapter-specific (e.g. *http.Request).
	EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{}

	// ValidatePayload checks the client's extension value against the
	// declaration the server offered in the challenge. It runs after
	// scheme verification and before dispatch; a non-nil error is treated
	// the same as a scheme-level invalid payment.
	ValidatePayload(extensionDecl interface{}, payloadValue interface{}) error
}

// requirementsInfo is the minimal routing information extracted from raw
// PaymentRequirements bytes without fully unmarshaling into the typed struct.
type requirementsInfo struct {
	Scheme  string  `json:"scheme"`
	Network Network `json:"network"`
}

// paymentInfo is the minimal routing information extracted from raw
// PaymentPayload bytes.
type paymentInfo struct {
	X402Version int                    `json:"x402Version"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}
