package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// X402Client manages payment mechanisms and signs payments on behalf of an
// application that holds the keys (a wallet, an agent, an HD signer, ...).
type X402Client struct {
	mu sync.RWMutex

	schemes map[Network]map[string]SchemeNetworkClient

	requirementsSelector PaymentRequirementsSelector
	policies             []PaymentPolicy

	beforePaymentCreationHooks    []BeforePaymentCreationHook
	afterPaymentCreationHooks     []AfterPaymentCreationHook
	onPaymentCreationFailureHooks []OnPaymentCreationFailureHook
}

// PaymentRequirementsSelector chooses which payment option to use among several acceptable ones.
type PaymentRequirementsSelector func(requirements []PaymentRequirements) PaymentRequirements

// PaymentPolicy filters or transforms payment requirements before selection
// (e.g. enforce a per-asset spend cap).
type PaymentPolicy func(requirements []PaymentRequirements) []PaymentRequirements

// SchemeRegistration configures one client-side mechanism at construction time.
type SchemeRegistration struct {
	Network Network
	Client  SchemeNetworkClient
}

// X402ClientConfig is the declarative form of client construction.
type X402ClientConfig struct {
	Schemes                     []SchemeRegistration
	Policies                    []PaymentPolicy
	PaymentRequirementsSelector PaymentRequirementsSelector
}

// ClientOption configures an X402Client.
type ClientOption func(*X402Client)

// WithPaymentSelector sets a custom payment requirements selector.
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *X402Client) {
		c.requirementsSelector = selector
	}
}

// WithPolicy registers a payment policy at creation time.
func WithPolicy(policy PaymentPolicy) ClientOption {
	return func(c *X402Client) {
		c.policies = append(c.policies, policy)
	}
}

// WithScheme registers a client-side mechanism at creation time.
func WithScheme(network Network, client SchemeNetworkClient) ClientOption {
	return func(c *X402Client) {
		c.registerScheme(network, client)
	}
}

// Newx402Client constructs a client.
func Newx402Client(opts ...ClientOption) *X402Client {
	c := &X402Client{
		schemes:              make(map[Network]map[string]SchemeNetworkClient),
		requirementsSelector: defaultPaymentSelector,
		policies:             []PaymentPolicy{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Newx402ClientFromConfig constructs a client from a declarative config.
func Newx402ClientFromConfig(config X402ClientConfig) *X402Client {
	selector := config.PaymentRequirementsSelector
	if selector == nil {
		selector = defaultPaymentSelector
	}

	c := &X402Client{
		schemes:              make(map[Network]map[string]SchemeNetworkClient),
		requirementsSelector: selector,
		policies:             append([]PaymentPolicy{}, config.Policies...),
	}

	for _, reg := range config.Schemes {
		c.registerScheme(reg.Network, reg.Client)
	}

	return c
}

func defaultPaymentSelector(requirements []PaymentRequirements) PaymentRequirements {
	if len(requirements) == 0 {
		panic("no payment requirements available")
	}
	return requirements[0]
}

// RegisterScheme registers a client-side mechanism for a network.
func (c *X402Client) RegisterScheme(network Network, client SchemeNetworkClient) *X402Client {
	return c.registerScheme(network, client)
}

// RegisterPolicy registers a policy to filter or transform payment requirements.
// Policies run in order, after scheme filtering and before selection.
func (c *X402Client) RegisterPolicy(policy PaymentPolicy) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies = append(c.policies, policy)
	return c
}

// OnBeforePaymentCreation registers a hook that may abort payload creation.
func (c *X402Client) OnBeforePaymentCreation(hook BeforePaymentCreationHook) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforePaymentCreationHooks = append(c.beforePaymentCreationHooks, hook)
	return c
}

// OnAfterPaymentCreation registers a hook run after a payload is created.
func (c *X402Client) OnAfterPaymentCreation(hook AfterPaymentCreationHook) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterPaymentCreationHooks = append(c.afterPaymentCreationHooks, hook)
	return c
}

// OnPaymentCreationFailure registers a hook that may recover from a creation failure.
func (c *X402Client) OnPaymentCreationFailure(hook OnPaymentCreationFailureHook) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPaymentCreationFailureHooks = append(c.onPaymentCreationFailureHooks, hook)
	return c
}

func (c *X402Client) registerScheme(network Network, client SchemeNetworkClient) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemes[network] == nil {
		c.schemes[network] = make(map[string]SchemeNetworkClient)
	}
	c.schemes[network][client.Scheme()] = client

	return c
}

// SelectPaymentRequirements filters requirements to those the client can
// fulfill, applies registered policies, then runs the selector.
func (c *X402Client) SelectPaymentRequirements(requirements []PaymentRequirements) (PaymentRequirements, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var supported []PaymentRequirements
	for _, req := range requirements {
		schemeMap := findSchemesByNetwork(c.schemes, req.Network)
		if schemeMap != nil {
			if _, hasScheme := schemeMap[req.Scheme]; hasScheme {
				supported = append(supported, req)
			}
		}
	}

	if len(supported) == 0 {
		return PaymentRequirements{}, &ProtocolError{
			Kind:    ErrUnsupportedScheme,
			Message: "no supported payment schemes available",
			Details: map[string]interface{}{"requirements": requirements},
		}
	}

	filtered := supported
	for _, policy := range c.policies {
		filtered = policy(filtered)
		if len(filtered) == 0 {
			return PaymentRequirements{}, &ProtocolError{
				Kind:    ErrUnsupportedScheme,
				Message: "all payment requirements were filtered out by policies",
			}
		}
	}

	return c.requirementsSelector(filtered), nil
}

// CreatePaymentPayload signs a payment for the given requirements and wraps
// the mechanism's partial payload with Accepted/Resource/Extensions.
func (c *X402Client) CreatePaymentPayload(
	ctx context.Context,
	requirementsBytes []byte,
	resource *ResourceInfo,
	extensions map[string]interface{},
) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var info requirementsInfo
	if err := json.Unmarshal(requirementsBytes, &info); err != nil {
		return nil, fmt.Errorf("failed to extract requirements info: %w", err)
	}

	client := findByNetworkAndScheme(c.schemes, info.Scheme, info.Network)
	if client == nil {
		return nil, &ProtocolError{
			Kind:    ErrUnsupportedScheme,
			Message: fmt.Sprintf("no client registered for scheme %s on network %s", info.Scheme, info.Network),
		}
	}

	partialBytes, err := client.CreatePaymentPayload(ctx, requirementsBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment payload: %w", err)
	}

	return c.wrapPayload(partialBytes, requirementsBytes, resource, extensions)
}

func (c *X402Client) wrapPayload(
	partialBytes []byte,
	requirementsBytes []byte,
	resource *ResourceInfo,
	extensions map[string]interface{},
) ([]byte, error) {
	var partial PartialPaymentPayload
	if err := json.Unmarshal(partialBytes, &partial); err != nil {
		return nil, err
	}

	var requirements PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return nil, err
	}

	complete := PaymentPayload{
		X402Version: partial.X402Version,
		Payload:     partial.Payload,
		Accepted:    requirements,
		Resource:    resource,
		Extensions:  extensions,
	}

	return json.Marshal(complete)
}

// RegisteredScheme identifies one (network, scheme) the client can pay with.
type RegisteredScheme struct {
	Network Network
	Scheme  string
}

// GetRegisteredSchemes lists the client's registered mechanisms.
func (c *X402Client) GetRegisteredSchemes() []RegisteredScheme {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []RegisteredScheme
	for network, schemes := range c.schemes {
		for scheme := range schemes {
			result = append(result, RegisteredScheme{Network: network, Scheme: scheme})
		}
	}
	return result
}

// CanPay reports whether the client can fulfill any of the given requirements.
func (c *X402Client) CanPay(requirements []PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(requirements)
	return err == nil
}

// CreatePaymentForRequired selects an acceptable requirement from a 402
// challenge and signs a payment for it, running the payment-creation hooks
// around the attempt.
func (c *X402Client) CreatePaymentForRequired(ctx context.Context, required PaymentRequired) (PaymentPayload, error) {
	selected, err := c.SelectPaymentRequirements(required.Accepts)
	if err != nil {
		return PaymentPayload{}, err
	}

	hookCtx := PaymentCreationContext{Ctx: ctx, PaymentRequired: required, SelectedRequirements: selected}

	c.mu.RLock()
	beforeHooks := c.beforePaymentCreationHooks
	c.mu.RUnlock()

	for _, hook := range beforeHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return PaymentPayload{}, err
		}
		if result != nil && result.Abort {
			return PaymentPayload{}, fmt.Errorf("payment creation aborted: %s", result.Reason)
		}
	}

	paymentPayload, paymentErr := c.createPaymentForRequired(ctx, required, selected)

	if paymentErr == nil {
		c.mu.RLock()
		afterHooks := c.afterPaymentCreationHooks
		c.mu.RUnlock()

		createdCtx := PaymentCreatedContext{PaymentCreationContext: hookCtx, PaymentPayload: paymentPayload}
		for _, hook := range afterHooks {
			_ = hook(createdCtx)
		}

		return paymentPayload, nil
	}

	c.mu.RLock()
	failureHooks := c.onPaymentCreationFailureHooks
	c.mu.RUnlock()

	failureCtx := PaymentCreationFailureContext{PaymentCreationContext: hookCtx, Error: paymentErr}
	for _, hook := range failureHooks {
		recovered, err := hook(failureCtx)
		if err == nil && recovered != nil && recovered.Recovered {
			return recovered.Payload, nil
		}
	}

	return PaymentPayload{}, paymentErr
}

func (c *X402Client) createPaymentForRequired(ctx context.Context, required PaymentRequired, selected PaymentRequirements) (PaymentPayload, error) {
	selectedBytes, err := json.Marshal(selected)
	if err != nil {
		return PaymentPayload{}, err
	}

	payloadBytes, err := c.CreatePaymentPayload(ctx, selectedBytes, required.Resource, required.Extensions)
	if err != nil {
		return PaymentPayload{}, err
	}

	var paymentPayload PaymentPayload
	if err := json.Unmarshal(payloadBytes, &paymentPayload); err != nil {
		return PaymentPayload{}, err
	}
	return paymentPayload, nil
}
