package x402

import "fmt"

// ErrorKind enumerates the protocol's wire-facing error taxonomy. These are
// the stable reason strings carried in VerifyResponse.InvalidReason and
// SettleResponse.ErrorReason; callers match on the string, not prose.
type ErrorKind string

const (
	// Framing: malformed input at the transport boundary.
	ErrInvalidHeader     ErrorKind = "invalid_header"
	ErrInvalidPayload    ErrorKind = "invalid_payload"
	ErrUnsupportedVersion ErrorKind = "unsupported_version"

	// Matching: no registered mechanism or offer covers the request.
	ErrUnsupportedScheme      ErrorKind = "unsupported_scheme"
	ErrUnsupportedNetwork     ErrorKind = "unsupported_network"
	ErrNoMatchingRequirements ErrorKind = "no_matching_requirements"

	// Verification: the mechanism rejected the payload against requirements.
	ErrInvalidSignature   ErrorKind = "invalid_signature"
	ErrInsufficientFunds  ErrorKind = "insufficient_funds"
	ErrAmountMismatch     ErrorKind = "amount_mismatch"
	ErrRecipientMismatch  ErrorKind = "recipient_mismatch"
	ErrAssetMismatch      ErrorKind = "asset_mismatch"
	ErrExpired            ErrorKind = "expired"
	ErrReplay             ErrorKind = "replay"

	// Extension: a registered extension rejected the payload.
	ErrExtensionValidationFailed ErrorKind = "extension_validation_failed"

	// Settlement: verify passed but the on-network transfer did not complete.
	ErrSettlementSubmissionFailed ErrorKind = "settlement_submission_failed"
	ErrSettlementTimeout          ErrorKind = "settlement_timeout"
	ErrNetworkError               ErrorKind = "network_error"

	// Infrastructure: the core itself, or its facilitator, could not proceed.
	ErrFacilitatorUnreachable ErrorKind = "facilitator_unreachable"
	ErrInternalError          ErrorKind = "internal_error"
)

// ProtocolError is the error type returned across package boundaries:
// resource server, facilitator, client, and mechanisms all surface failures
// through this type so callers can branch on Kind instead of string-matching.
type ProtocolError struct {
	Kind    ErrorKind
	Message string
	Details map[string]interface{}
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewProtocolError constructs a ProtocolError.
func NewProtocolError(kind ErrorKind, message string, details map[string]interface{}) *ProtocolError {
	return &ProtocolError{Kind: kind, Message: message, Details: details}
}

// AsProtocolError unwraps err into a *ProtocolError if possible.
func AsProtocolError(err error) (*ProtocolError, bool) {
	pe, ok := err.(*ProtocolError)
	return pe, ok
}
