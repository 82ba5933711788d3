package x402

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is the fixed x402 wire protocol version this module speaks.
const ProtocolVersion = 2

// legacyNetworkNames maps pre-CAIP-2 network names seen in older deployments
// to their CAIP-2 form, so servers and clients still carrying the old names
// keep working without the dual wire-format machinery the name implies.
var legacyNetworkNames = map[string]Network{
	"base":             "eip155:8453",
	"base-sepolia":     "eip155:84532",
	"avalanche":        "eip155:43114",
	"avalanche-fuji":   "eip155:43113",
	"solana":           "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
	"solana-devnet":    "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
}

// Network is a blockchain network identifier in CAIP-2 format: "namespace:reference"
// (e.g. "eip155:8453" for Base mainnet, "solana:<genesis-hash>" for a Solana cluster).
type Network string

// Normalize rewrites a legacy bare network name to CAIP-2 form. Networks
// already in CAIP-2 form are returned unchanged.
func (n Network) Normalize() Network {
	if strings.Contains(string(n), ":") {
		return n
	}
	if caip2, ok := legacyNetworkNames[string(n)]; ok {
		return caip2
	}
	return n
}

// Parse splits the network into its CAIP-2 namespace and reference.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.SplitN(string(n), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid CAIP-2 network: %q", n)
	}
	return parts[0], parts[1], nil
}

// Match reports whether n and pattern refer to the same network, honoring a
// trailing ":*" wildcard on either side (e.g. "eip155:8453" matches "eip155:*").
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}
	nStr, patternStr := string(n), string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		return strings.HasPrefix(nStr, strings.TrimSuffix(patternStr, "*"))
	}
	if strings.HasSuffix(nStr, ":*") {
		return strings.HasPrefix(patternStr, strings.TrimSuffix(nStr, "*"))
	}
	return false
}

// Price is a user-supplied price; concrete shapes are handled by MoneyParser chains.
type Price interface{}

// AssetAmount is a fungible-token amount: a contract/mint address and a
// base-unit string amount (no floating point on the wire).
type AssetAmount struct {
	Asset  string                 `json:"asset"`
	Amount string                 `json:"amount"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequirements describes one acceptable way to pay for a resource.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           Network                `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// ResourceInfo describes the resource a payment unlocks access to.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentPayload is the signed payment a client attaches to a retried request.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// PartialPaymentPayload is what a ClientSide mechanism returns: the core
// wraps it with Accepted/Resource/Extensions to produce a full PaymentPayload.
type PartialPaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
}

// PaymentRequired is the 402 challenge body.
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Error       string                 `json:"error,omitempty"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// VerifyRequest is the facilitator's /verify request body.
type VerifyRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse is the facilitator's /verify response body.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleRequest is the facilitator's /settle request body.
type SettleRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleResponse is the facilitator's /settle response body.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
}

// SupportedKind is one (scheme, network) combination a facilitator can handle.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     Network                `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is the facilitator's /supported response body.
type SupportedResponse struct {
	Kinds      []SupportedKind `json:"kinds"`
	Extensions []string        `json:"extensions"`
}

// ResourceConfig is what a resource server declares for a protected route.
type ResourceConfig struct {
	Scheme            string  `json:"scheme"`
	PayTo             string  `json:"payTo"`
	Price             Price   `json:"price"`
	Network           Network `json:"network"`
	MaxTimeoutSeconds int     `json:"maxTimeoutSeconds,omitempty"`
}

// DeepEqual compares a and b after round-tripping both through JSON, so
// struct-vs-map and field-order differences don't produce false mismatches.
func DeepEqual(a, b interface{}) bool {
	aJSON, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bJSON, err := json.Marshal(b)
	if err != nil {
		return false
	}

	var aNorm, bNorm interface{}
	if err := json.Unmarshal(aJSON, &aNorm); err != nil {
		return false
	}
	if err := json.Unmarshal(bJSON, &bNorm); err != nil {
		return false
	}

	aNormJSON, _ := json.Marshal(aNorm)
	bNormJSON, _ := json.Marshal(bNorm)
	return string(aNormJSON) == string(bNormJSON)
}
