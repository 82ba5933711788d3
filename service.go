package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// X402ResourceService manages payment requirements and verification for
// protected resources. Resource servers embed one of these (directly or via
// an HTTP adapter) to turn a route into a paid one.
type X402ResourceService struct {
	mu                    sync.RWMutex
	schemes               map[Network]map[string]SchemeNetworkService
	facilitatorClients    []FacilitatorClient
	registeredExtensions  map[string]Extension
	supportedCache        *SupportedCache
	facilitatorClientsMap map[Network]map[string]FacilitatorClient
	settlementCache       *SettlementCache

	beforeVerifyHooks    []BeforeVerifyHook
	afterVerifyHooks     []AfterVerifyHook
	onVerifyFailureHooks []OnVerifyFailureHook
	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook
}

// SupportedCache caches facilitator capability responses so BuildPaymentRequirements
// doesn't round-trip to a facilitator on every request.
type SupportedCache struct {
	mu     sync.RWMutex
	data   map[string]SupportedResponse
	expiry map[string]time.Time
	ttl    time.Duration
}

// ResourceServiceOption configures an X402ResourceService.
type ResourceServiceOption func(*X402ResourceService)

// WithFacilitatorClient adds a facilitator client. Multiple clients may be
// registered; the first one whose Initialize-time capabilities match a
// (scheme, network) wins that route.
func WithFacilitatorClient(client FacilitatorClient) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.facilitatorClients = append(s.facilitatorClients, client)
	}
}

// WithSchemeService registers a server-side mechanism for a network.
func WithSchemeService(network Network, service SchemeNetworkService) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.registerScheme(network, service)
	}
}

// WithCacheTTL sets the TTL for cached facilitator capability responses.
func WithCacheTTL(ttl time.Duration) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.supportedCache.ttl = ttl
	}
}

// WithSettlementIdempotency enables settle-request deduplication: a repeated
// SettlePayment call for the same payload bytes within ttl returns the
// cached receipt instead of resubmitting the on-chain transfer.
func WithSettlementIdempotency(ttl time.Duration) ResourceServiceOption {
	return func(s *X402ResourceService) {
		s.settlementCache = NewSettlementCache(ttl)
	}
}

// Newx402ResourceService constructs a resource service.
func Newx402ResourceService(opts ...ResourceServiceOption) *X402ResourceService {
	s := &X402ResourceService{
		schemes:              make(map[Network]map[string]SchemeNetworkService),
		facilitatorClients:   []FacilitatorClient{},
		registeredExtensions: make(map[string]Extension),
		supportedCache: &SupportedCache{
			data:   make(map[string]SupportedResponse),
			expiry: make(map[string]time.Time),
			ttl:    5 * time.Minute,
		},
		facilitatorClientsMap: make(map[Network]map[string]FacilitatorClient),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Initialize fetches supported payment kinds from all facilitators. Call it
// on startup before serving any request; BuildPaymentRequirements depends on
// the cache and routing map it populates.
func (s *X402ResourceService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.facilitatorClientsMap = make(map[Network]map[string]FacilitatorClient)

	var lastErr error
	successCount := 0

	for i, client := range s.facilitatorClients {
		supported, err := client.GetSupported(ctx)
		if err != nil {
			lastErr = fmt.Errorf("facilitator %d: %w", i, err)
			continue
		}

		key := fmt.Sprintf("facilitator_%d", i)
		s.supportedCache.Set(key, supported)
		successCount++

		for _, kind := range supported.Kinds {
			if s.facilitatorClientsMap[kind.Network] == nil {
				s.facilitatorClientsMap[kind.Network] = make(map[string]FacilitatorClient)
			}
			if _, exists := s.facilitatorClientsMap[kind.Network][kind.Scheme]; !exists {
				s.facilitatorClientsMap[kind.Network][kind.Scheme] = client
			}
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("failed to initialize any facilitators: %w", lastErr)
	}

	return nil
}

func (s *X402ResourceService) RegisterScheme(network Network, service SchemeNetworkService) *X402ResourceService {
	return s.registerScheme(network, service)
}

func (s *X402ResourceService) registerScheme(network Network, service SchemeNetworkService) *X402ResourceService {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schemes[network] == nil {
		s.schemes[network] = make(map[string]SchemeNetworkService)
	}
	s.schemes[network][service.Scheme()] = service

	return s
}

func (s *X402ResourceService) RegisterExtension(extension Extension) *X402ResourceService {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registeredExtensions[extension.Key()] = extension
	return s
}

func (s *X402ResourceService) EnrichExtensions(
	declaredExtensions map[string]interface{},
	transportContext interface{},
) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enriched := make(map[string]interface{})
	for key, declaration := range declaredExtensions {
		if extension, ok := s.registeredExtensions[key]; ok {
			enriched[key] = extension.EnrichDeclaration(declaration, transportContext)
		} else {
			enriched[key] = declaration
		}
	}
	return enriched
}

// BuildPaymentRequirements creates the PaymentRequirements for a protected resource.
func (s *X402ResourceService) BuildPaymentRequirements(ctx context.Context, config ResourceConfig) ([]PaymentRequirements, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	service := findByNetworkAndScheme(s.schemes, config.Scheme, config.Network)
	if service == nil {
		return nil, &ProtocolError{
			Kind:    ErrUnsupportedScheme,
			Message: fmt.Sprintf("no service registered for scheme %s on network %s", config.Scheme, config.Network),
		}
	}

	supportedKind := s.findSupportedKind(config.Network, config.Scheme)
	if supportedKind == nil {
		return nil, &ProtocolError{
			Kind:    ErrUnsupportedNetwork,
			Message: fmt.Sprintf("facilitator does not support %s on %s", config.Scheme, config.Network),
			Details: map[string]interface{}{"hint": "call Initialize() to fetch supported kinds from facilitators"},
		}
	}

	assetAmount, err := service.ParsePrice(config.Price, config.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}

	baseRequirements := PaymentRequirements{
		Scheme:            config.Scheme,
		Network:           config.Network,
		Asset:             assetAmount.Asset,
		Amount:            assetAmount.Amount,
		PayTo:             config.PayTo,
		MaxTimeoutSeconds: config.MaxTimeoutSeconds,
		Extra:             assetAmount.Extra,
	}
	if baseRequirements.MaxTimeoutSeconds == 0 {
		baseRequirements.MaxTimeoutSeconds = 300
	}

	extensions := s.getFacilitatorExtensions(config.Network, config.Scheme)

	enhanced, err := service.EnhancePaymentRequirements(ctx, baseRequirements, *supportedKind, extensions)
	if err != nil {
		return nil, fmt.Errorf("failed to enhance payment requirements: %w", err)
	}

	return []PaymentRequirements{enhanced}, nil
}

// CreatePaymentRequiredResponse builds a 402 challenge body.
func (s *X402ResourceService) CreatePaymentRequiredResponse(
	requirements []PaymentRequirements,
	info ResourceInfo,
	errorMsg string,
	extensions map[string]interface{},
) PaymentRequired {
	response := PaymentRequired{
		X402Version: ProtocolVersion,
		Error:       errorMsg,
		Resource:    &info,
		Accepts:     requirements,
		Extensions:  extensions,
	}
	if errorMsg == "" {
		response.Error = "Payment required"
	}
	return response
}

// VerifyPayment routes a payment to the matching facilitator and runs the
// before/after/failure hooks around it.
func (s *X402ResourceService) VerifyPayment(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (VerifyResponse, error) {
	hookCtx := VerifyContext{Ctx: ctx, PayloadBytes: payloadBytes, RequirementsBytes: requirementsBytes, Timestamp: time.Now()}

	for _, hook := range s.beforeVerifyHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return VerifyResponse{IsValid: false, InvalidReason: string(ErrInternalError)}, err
		}
		if result != nil && result.Abort {
			return VerifyResponse{IsValid: false, InvalidReason: result.Reason}, nil
		}
	}

	start := time.Now()
	resp, err := s.verifyPayment(ctx, payloadBytes, requirementsBytes)
	duration := time.Since(start)

	if err != nil {
		for _, hook := range s.onVerifyFailureHooks {
			recovered, hookErr := hook(VerifyFailureContext{VerifyContext: hookCtx, Error: err, Duration: duration})
			if hookErr == nil && recovered != nil && recovered.Recovered {
				return recovered.Result, nil
			}
		}
		return resp, err
	}

	for _, hook := range s.afterVerifyHooks {
		_ = hook(VerifyResultContext{VerifyContext: hookCtx, Result: resp, Duration: duration})
	}

	return resp, nil
}

func (s *X402ResourceService) verifyPayment(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (VerifyResponse, error) {
	var info requirementsInfo
	if err := json.Unmarshal(requirementsBytes, &info); err != nil {
		return VerifyResponse{IsValid: false, InvalidReason: string(ErrInvalidPayload)}, err
	}

	var resp VerifyResponse
	var err error

	facilitator := s.findFacilitatorForPayment(info.Network, info.Scheme)
	if facilitator != nil {
		resp, err = facilitator.Verify(ctx, payloadBytes, requirementsBytes)
	} else {
		found := false
		for _, client := range s.facilitatorClients {
			resp, err = client.Verify(ctx, payloadBytes, requirementsBytes)
			if err == nil {
				found = true
				break
			}
		}
		if !found {
			return VerifyResponse{IsValid: false, InvalidReason: string(ErrUnsupportedNetwork)},
				&ProtocolError{Kind: ErrUnsupportedNetwork, Message: "no facilitator supports this payment type"}
		}
	}
	if err != nil || !resp.IsValid {
		return resp, err
	}

	if reason := s.validateExtensions(payloadBytes); reason != "" {
		return VerifyResponse{IsValid: false, InvalidReason: reason, Payer: resp.Payer}, nil
	}

	return resp, nil
}

// validateExtensions runs every registered extension's ValidatePayload hook
// against the client-supplied extensions on the payload, per the protocol's
// "extension validation" step between scheme verification and dispatch. It
// returns the canonical extension_validation_failed reason on the first
// failure, or "" if every applicable extension passed.
func (s *X402ResourceService) validateExtensions(payloadBytes []byte) string {
	var info paymentInfo
	if err := json.Unmarshal(payloadBytes, &info); err != nil || len(info.Extensions) == 0 {
		return ""
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for key, value := range info.Extensions {
		extension, ok := s.registeredExtensions[key]
		if !ok {
			continue
		}
		if err := extension.ValidatePayload(nil, value); err != nil {
			return string(ErrExtensionValidationFailed)
		}
	}
	return ""
}

// SettlePayment routes a verified payment to the matching facilitator for
// on-chain settlement, running the before/after/failure hooks around it.
func (s *X402ResourceService) SettlePayment(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (SettleResponse, error) {
	hookCtx := SettleContext{Ctx: ctx, PayloadBytes: payloadBytes, RequirementsBytes: requirementsBytes, Timestamp: time.Now()}

	for _, hook := range s.beforeSettleHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return SettleResponse{Success: false, ErrorReason: string(ErrInternalError)}, err
		}
		if result != nil && result.Abort {
			return SettleResponse{Success: false, ErrorReason: result.Reason}, nil
		}
	}

	if s.settlementCache != nil {
		key := GenerateSettlementKey(payloadBytes)
		status, cached, done := s.settlementCache.CheckAndMark(key)
		switch status {
		case StatusCached:
			return *cached, nil
		case StatusInFlight:
			result, err := s.settlementCache.WaitForResult(ctx, key, done)
			if err != nil {
				return SettleResponse{}, err
			}
			if result != nil {
				return *result, nil
			}
			// The in-flight attempt failed without caching a result; fall
			// through and settle it ourselves rather than error the caller.
		}

		start := time.Now()
		resp, err := s.settlePayment(ctx, payloadBytes, requirementsBytes)
		duration := time.Since(start)

		if err != nil {
			for _, hook := range s.onSettleFailureHooks {
				recovered, hookErr := hook(SettleFailureContext{SettleContext: hookCtx, Error: err, Duration: duration})
				if hookErr == nil && recovered != nil && recovered.Recovered {
					s.settlementCache.Complete(key, &recovered.Result, done)
					return recovered.Result, nil
				}
			}
			s.settlementCache.Fail(key, done)
			return resp, err
		}

		for _, hook := range s.afterSettleHooks {
			_ = hook(SettleResultContext{SettleContext: hookCtx, Result: resp, Duration: duration})
		}

		if resp.Success {
			s.settlementCache.Complete(key, &resp, done)
		} else {
			s.settlementCache.Fail(key, done)
		}

		return resp, nil
	}

	start := time.Now()
	resp, err := s.settlePayment(ctx, payloadBytes, requirementsBytes)
	duration := time.Since(start)

	if err != nil {
		for _, hook := range s.onSettleFailureHooks {
			recovered, hookErr := hook(SettleFailureContext{SettleContext: hookCtx, Error: err, Duration: duration})
			if hookErr == nil && recovered != nil && recovered.Recovered {
				return recovered.Result, nil
			}
		}
		return resp, err
	}

	for _, hook := range s.afterSettleHooks {
		_ = hook(SettleResultContext{SettleContext: hookCtx, Result: resp, Duration: duration})
	}

	return resp, nil
}

func (s *X402ResourceService) settlePayment(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (SettleResponse, error) {
	var info requirementsInfo
	if err := json.Unmarshal(requirementsBytes, &info); err != nil {
		return SettleResponse{Success: false, ErrorReason: string(ErrInvalidPayload)}, err
	}

	facilitator := s.findFacilitatorForPayment(info.Network, info.Scheme)
	if facilitator == nil {
		for _, client := range s.facilitatorClients {
			resp, err := client.Settle(ctx, payloadBytes, requirementsBytes)
			if err == nil {
				return resp, nil
			}
		}
		return SettleResponse{Success: false, ErrorReason: string(ErrSettlementSubmissionFailed)},
			&ProtocolError{Kind: ErrSettlementSubmissionFailed, Message: "no facilitator supports this payment type"}
	}

	return facilitator.Settle(ctx, payloadBytes, requirementsBytes)
}

// FindMatchingRequirements finds which of the available requirements a
// payment payload was built against.
func (s *X402ResourceService) FindMatchingRequirements(available []PaymentRequirements, payloadBytes []byte) *PaymentRequirements {
	var info paymentInfo
	if err := json.Unmarshal(payloadBytes, &info); err != nil {
		return nil
	}

	for i := range available {
		if DeepEqual(available[i], info.Accepted) {
			return &available[i]
		}
	}
	return nil
}

// ProcessResult is the outcome of ProcessPaymentRequest.
type ProcessResult struct {
	Success            bool
	RequiresPayment    *PaymentRequired
	VerificationResult *VerifyResponse
	SettlementResult   *SettleResponse
	Error              string
}

// ProcessPaymentRequest runs Build -> Challenge|Verify end to end for a single request.
func (s *X402ResourceService) ProcessPaymentRequest(
	ctx context.Context,
	paymentPayload *PaymentPayload,
	resourceConfig ResourceConfig,
	resourceInfo ResourceInfo,
	extensions map[string]interface{},
) (*ProcessResult, error) {
	requirements, err := s.BuildPaymentRequirements(ctx, resourceConfig)
	if err != nil {
		return nil, err
	}

	if paymentPayload == nil {
		return &ProcessResult{
			Success: false,
			RequiresPayment: &PaymentRequired{
				X402Version: ProtocolVersion,
				Error:       "Payment required",
				Resource:    &resourceInfo,
				Accepts:     requirements,
				Extensions:  extensions,
			},
		}, nil
	}

	payloadBytes, err := json.Marshal(paymentPayload)
	if err != nil {
		return nil, err
	}

	matchingRequirements := s.FindMatchingRequirements(requirements, payloadBytes)
	if matchingRequirements == nil {
		return &ProcessResult{
			Success: false,
			RequiresPayment: &PaymentRequired{
				X402Version: ProtocolVersion,
				Error:       "No matching payment requirements found",
				Resource:    &resourceInfo,
				Accepts:     requirements,
				Extensions:  extensions,
			},
		}, nil
	}

	requirementsBytes, err := json.Marshal(matchingRequirements)
	if err != nil {
		return nil, err
	}

	verificationResult, err := s.VerifyPayment(ctx, payloadBytes, requirementsBytes)
	if err != nil {
		return nil, err
	}

	if !verificationResult.IsValid {
		return &ProcessResult{
			Success:            false,
			Error:              verificationResult.InvalidReason,
			VerificationResult: &verificationResult,
		}, nil
	}

	return &ProcessResult{
		Success:            true,
		VerificationResult: &verificationResult,
	}, nil
}

func (s *X402ResourceService) findSupportedKind(network Network, scheme string) *SupportedKind {
	s.supportedCache.mu.RLock()
	defer s.supportedCache.mu.RUnlock()

	for key, supported := range s.supportedCache.data {
		if expiry, exists := s.supportedCache.expiry[key]; exists && time.Now().After(expiry) {
			continue
		}
		for _, kind := range supported.Kinds {
			if kind.Scheme == scheme && kind.Network.Match(network) {
				k := kind
				return &k
			}
		}
	}
	return nil
}

func (s *X402ResourceService) getFacilitatorExtensions(network Network, scheme string) []string {
	s.supportedCache.mu.RLock()
	defer s.supportedCache.mu.RUnlock()

	for _, supported := range s.supportedCache.data {
		for _, kind := range supported.Kinds {
			if kind.Scheme == scheme && kind.Network.Match(network) {
				return supported.Extensions
			}
		}
	}
	return []string{}
}

// findFacilitatorForPayment uses the routing map built by Initialize for O(1) lookup.
func (s *X402ResourceService) findFacilitatorForPayment(network Network, scheme string) FacilitatorClient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return findByNetworkAndScheme(s.facilitatorClientsMap, scheme, network)
}

// Set adds an item to the cache.
func (c *SupportedCache) Set(key string, value SupportedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = value
	c.expiry[key] = time.Now().Add(c.ttl)
}

// Clear empties the cache.
func (c *SupportedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[string]SupportedResponse)
	c.expiry = make(map[string]time.Time)
}
