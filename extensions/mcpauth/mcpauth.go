// Package mcpauth gates MCP tool calls behind x402 payment, the same way an
// HTTP middleware gates a route: a tool call arrives with payment data
// attached to its request metadata instead of an X-PAYMENT header, gets
// verified/settled against a facilitator, and the settlement receipt is
// attached to the result metadata instead of an X-PAYMENT-RESPONSE header.
//
// This package has no dependency on any particular MCP SDK. A server
// integration copies payment data out of its request's metadata map into
// ToolHandlerFunc and copies the returned metadata back onto its response.
package mcpauth

import (
	"context"
	"encoding/json"
	"fmt"

	x402 "github.com/ledgerflow/x402"
)

// PaymentMetaKey is the request metadata key carrying the client's payment
// payload, mirroring the "x402/payment" field of the JSON-RPC _meta object.
const PaymentMetaKey = "x402/payment"

// SettlementMetaKey is the response metadata key carrying the settlement
// receipt, mirroring "x402/payment-response".
const SettlementMetaKey = "x402/payment-response"

// ToolHandlerFunc is a generic stand-in for an MCP server's tool handler:
// request metadata in, response metadata out.
type ToolHandlerFunc func(ctx context.Context, toolName string, meta map[string]interface{}) (map[string]interface{}, error)

// ToolHandlerMiddleware wraps a ToolHandlerFunc.
type ToolHandlerMiddleware func(next ToolHandlerFunc) ToolHandlerFunc

// PaymentError carries a 402-equivalent failure plus the accepted payment
// requirements, for a server integration to translate into its SDK's error type.
type PaymentError struct {
	Message string
	Accepts []x402.PaymentRequirements
}

func (e *PaymentError) Error() string { return e.Message }

// Config maps tool names to the payment requirements that unlock them.
type Config struct {
	// PaymentTools lists, per tool name, the requirements a payment must match.
	PaymentTools map[string][]x402.PaymentRequirements
	// VerifyOnly skips on-chain settlement after verification succeeds.
	VerifyOnly bool
}

// Middleware returns a ToolHandlerMiddleware that verifies (and, unless
// VerifyOnly, settles) payment for any tool listed in cfg.PaymentTools.
func Middleware(client x402.FacilitatorClient, cfg Config) ToolHandlerMiddleware {
	return func(next ToolHandlerFunc) ToolHandlerFunc {
		return func(ctx context.Context, toolName string, meta map[string]interface{}) (map[string]interface{}, error) {
			requirements, needsPayment := cfg.PaymentTools[toolName]
			if !needsPayment {
				return next(ctx, toolName, meta)
			}

			for i := range requirements {
				if requirements[i].Extra == nil {
					requirements[i].Extra = map[string]interface{}{}
				}
				requirements[i].Extra["resource"] = fmt.Sprintf("mcp://tools/%s", toolName)
			}

			raw, ok := meta[PaymentMetaKey]
			if !ok || raw == nil {
				return nil, &PaymentError{Message: "payment required", Accepts: requirements}
			}

			paymentBytes, err := json.Marshal(raw)
			if err != nil {
				return nil, &PaymentError{Message: "invalid payment format", Accepts: requirements}
			}

			var payload x402.PaymentPayload
			if err := json.Unmarshal(paymentBytes, &payload); err != nil {
				return nil, &PaymentError{Message: "failed to parse payment data", Accepts: requirements}
			}

			requirement, err := matchRequirement(payload, requirements)
			if err != nil {
				return nil, &PaymentError{Message: err.Error(), Accepts: requirements}
			}

			requirementBytes, err := json.Marshal(requirement)
			if err != nil {
				return nil, err
			}

			verifyResp, err := client.Verify(ctx, paymentBytes, requirementBytes)
			if err != nil {
				return nil, fmt.Errorf("payment verification failed: %w", err)
			}
			if !verifyResp.IsValid {
				reason := verifyResp.InvalidReason
				if reason == "" {
					reason = "payment verification failed"
				}
				return nil, &PaymentError{Message: reason, Accepts: requirements}
			}

			settleResp := x402.SettleResponse{Success: true, Network: payload.Accepted.Network, Payer: verifyResp.Payer}
			if !cfg.VerifyOnly {
				settleResp, err = client.Settle(ctx, paymentBytes, requirementBytes)
				if err != nil {
					return nil, fmt.Errorf("payment settlement failed: %w", err)
				}
				if !settleResp.Success {
					reason := settleResp.ErrorReason
					if reason == "" {
						reason = "payment settlement failed"
					}
					return nil, fmt.Errorf("%s", reason)
				}
			}

			result, err := next(ctx, toolName, meta)
			if err != nil {
				return nil, err
			}

			if result == nil {
				result = map[string]interface{}{}
			}
			result[SettlementMetaKey] = settleResp
			return result, nil
		}
	}
}

func matchRequirement(payload x402.PaymentPayload, requirements []x402.PaymentRequirements) (x402.PaymentRequirements, error) {
	for _, req := range requirements {
		if req.Network != "" && req.Network != payload.Accepted.Network {
			continue
		}
		if req.Scheme != "" && req.Scheme != payload.Accepted.Scheme {
			continue
		}
		return req, nil
	}
	return x402.PaymentRequirements{}, fmt.Errorf("no matching payment requirement for network=%s scheme=%s",
		payload.Accepted.Network, payload.Accepted.Scheme)
}
