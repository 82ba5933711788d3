package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// X402Facilitator manages payment verification and settlement. Facilitator
// operators embed one of these and expose it over HTTP (see package facilitator).
type X402Facilitator struct {
	mu sync.RWMutex

	// network -> scheme -> facilitator implementation
	schemes map[Network]map[string]SchemeNetworkFacilitator

	extensions []string

	beforeVerifyHooks    []FacilitatorBeforeVerifyHook
	afterVerifyHooks     []FacilitatorAfterVerifyHook
	onVerifyFailureHooks []FacilitatorOnVerifyFailureHook
	beforeSettleHooks    []FacilitatorBeforeSettleHook
	afterSettleHooks     []FacilitatorAfterSettleHook
	onSettleFailureHooks []FacilitatorOnSettleFailureHook
}

// Newx402Facilitator creates an empty facilitator; register mechanisms with RegisterScheme.
func Newx402Facilitator() *X402Facilitator {
	return &X402Facilitator{
		schemes:    make(map[Network]map[string]SchemeNetworkFacilitator),
		extensions: []string{},
	}
}

// RegisterScheme registers a facilitator-side mechanism for a network.
func (f *X402Facilitator) RegisterScheme(network Network, facilitator SchemeNetworkFacilitator) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.schemes[network] == nil {
		f.schemes[network] = make(map[string]SchemeNetworkFacilitator)
	}
	f.schemes[network][facilitator.Scheme()] = facilitator
	return f
}

// RegisterExtension advertises a protocol extension via GetSupported.
func (f *X402Facilitator) RegisterExtension(extension string) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ext := range f.extensions {
		if ext == extension {
			return f
		}
	}
	f.extensions = append(f.extensions, extension)
	return f
}

// Verify checks if a payment is valid without executing it.
func (f *X402Facilitator) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	hookCtx := FacilitatorVerifyContext{Ctx: ctx, PaymentPayload: payload, PaymentRequirements: requirements, Timestamp: time.Now()}

	for _, hook := range f.beforeVerifyHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return VerifyResponse{IsValid: false}, err
		}
		if result != nil && result.Abort {
			return VerifyResponse{IsValid: false, InvalidReason: result.Reason}, nil
		}
	}

	start := time.Now()
	resp, err := f.verify(ctx, payload, requirements)
	duration := time.Since(start)

	if err != nil {
		for _, hook := range f.onVerifyFailureHooks {
			recovered, hookErr := hook(FacilitatorVerifyFailureContext{FacilitatorVerifyContext: hookCtx, Error: err, Duration: duration})
			if hookErr == nil && recovered != nil && recovered.Recovered {
				return recovered.Result, nil
			}
		}
		return resp, err
	}

	for _, hook := range f.afterVerifyHooks {
		_ = hook(FacilitatorVerifyResultContext{FacilitatorVerifyContext: hookCtx, Result: resp, Duration: duration})
	}

	return resp, nil
}

func (f *X402Facilitator) verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	f.mu.RLock()
	facilitator := findByNetworkAndScheme(f.schemes, requirements.Scheme, requirements.Network)
	f.mu.RUnlock()

	if facilitator == nil {
		return VerifyResponse{
				IsValid:       false,
				InvalidReason: fmt.Sprintf("unsupported scheme %s on network %s", requirements.Scheme, requirements.Network),
			}, &ProtocolError{
				Kind:    ErrUnsupportedScheme,
				Message: fmt.Sprintf("no facilitator for scheme %s on network %s", requirements.Scheme, requirements.Network),
			}
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return VerifyResponse{IsValid: false}, err
	}
	requirementsBytes, err := json.Marshal(requirements)
	if err != nil {
		return VerifyResponse{IsValid: false}, err
	}

	return facilitator.Verify(ctx, payloadBytes, requirementsBytes)
}

// Settle executes a verified payment on-chain.
func (f *X402Facilitator) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	hookCtx := FacilitatorSettleContext{Ctx: ctx, PaymentPayload: payload, PaymentRequirements: requirements, Timestamp: time.Now()}

	for _, hook := range f.beforeSettleHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return SettleResponse{Success: false}, err
		}
		if result != nil && result.Abort {
			return SettleResponse{Success: false, ErrorReason: result.Reason, Network: requirements.Network}, nil
		}
	}

	start := time.Now()
	resp, err := f.settle(ctx, payload, requirements)
	duration := time.Since(start)

	if err != nil {
		for _, hook := range f.onSettleFailureHooks {
			recovered, hookErr := hook(FacilitatorSettleFailureContext{FacilitatorSettleContext: hookCtx, Error: err, Duration: duration})
			if hookErr == nil && recovered != nil && recovered.Recovered {
				return recovered.Result, nil
			}
		}
		return resp, err
	}

	for _, hook := range f.afterSettleHooks {
		_ = hook(FacilitatorSettleResultContext{FacilitatorSettleContext: hookCtx, Result: resp, Duration: duration})
	}

	return resp, nil
}

func (f *X402Facilitator) settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	f.mu.RLock()
	facilitator := findByNetworkAndScheme(f.schemes, requirements.Scheme, requirements.Network)
	f.mu.RUnlock()

	if facilitator == nil {
		return SettleResponse{
				Success:     false,
				ErrorReason: fmt.Sprintf("unsupported scheme %s on network %s", requirements.Scheme, requirements.Network),
				Network:     requirements.Network,
			}, &ProtocolError{
				Kind:    ErrUnsupportedScheme,
				Message: fmt.Sprintf("no facilitator for scheme %s on network %s", requirements.Scheme, requirements.Network),
			}
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return SettleResponse{Success: false}, err
	}
	requirementsBytes, err := json.Marshal(requirements)
	if err != nil {
		return SettleResponse{Success: false}, err
	}

	return facilitator.Settle(ctx, payloadBytes, requirementsBytes)
}

// GetSupported returns the payment kinds this facilitator supports.
func (f *X402Facilitator) GetSupported() SupportedResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	response := SupportedResponse{Kinds: []SupportedKind{}, Extensions: f.extensions}

	for network, schemes := range f.schemes {
		for scheme := range schemes {
			response.Kinds = append(response.Kinds, SupportedKind{
				X402Version: ProtocolVersion,
				Scheme:      scheme,
				Network:     network,
				Extra:       map[string]interface{}{},
			})
		}
	}

	return response
}

// CanHandle reports whether the facilitator has a mechanism for (scheme, network).
func (f *X402Facilitator) CanHandle(network Network, scheme string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return findByNetworkAndScheme(f.schemes, scheme, network) != nil
}

// LocalFacilitatorClient adapts an in-process X402Facilitator to the
// byte-based FacilitatorClient interface, so a resource server and its
// facilitator can share a process without an HTTP hop.
type LocalFacilitatorClient struct {
	facilitator *X402Facilitator
}

// NewLocalFacilitatorClient wraps a local facilitator as a FacilitatorClient.
func NewLocalFacilitatorClient(facilitator *X402Facilitator) *LocalFacilitatorClient {
	return &LocalFacilitatorClient{facilitator: facilitator}
}

func (c *LocalFacilitatorClient) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (VerifyResponse, error) {
	var payload PaymentPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return VerifyResponse{IsValid: false}, err
	}
	var requirements PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return VerifyResponse{IsValid: false}, err
	}
	return c.facilitator.Verify(ctx, payload, requirements)
}

func (c *LocalFacilitatorClient) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (SettleResponse, error) {
	var payload PaymentPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return SettleResponse{Success: false}, err
	}
	var requirements PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return SettleResponse{Success: false}, err
	}
	return c.facilitator.Settle(ctx, payload, requirements)
}

func (c *LocalFacilitatorClient) GetSupported(ctx context.Context) (SupportedResponse, error) {
	return c.facilitator.GetSupported(), nil
}
