package x402

import "context"

// PaymentCreationContext carries the inputs to a payment-creation hook.
type PaymentCreationContext struct {
	Ctx                  context.Context
	PaymentRequired      PaymentRequired
	SelectedRequirements PaymentRequirements
}

// PaymentCreatedContext carries a successfully created payload and its context.
type PaymentCreatedContext struct {
	PaymentCreationContext
	PaymentPayload PaymentPayload
}

// PaymentCreationFailureContext carries a payment-creation failure and its context.
type PaymentCreationFailureContext struct {
	PaymentCreationContext
	Error error
}

// PaymentCreationAbort represents the result of a "before" payment-creation hook.
type PaymentCreationAbort struct {
	Abort  bool
	Reason string
}

// PaymentCreationRecovery represents the result of a payment-creation failure hook.
type PaymentCreationRecovery struct {
	Recovered bool
	Payload   PaymentPayload
}

// BeforePaymentCreationHook runs before a client signs a payment. Returning
// Abort=true skips signing and surfaces Reason as the error.
type BeforePaymentCreationHook func(PaymentCreationContext) (*PaymentCreationAbort, error)

// AfterPaymentCreationHook runs after a payment payload is successfully created.
type AfterPaymentCreationHook func(PaymentCreatedContext) error

// OnPaymentCreationFailureHook runs when payload creation fails. Returning
// Recovered=true substitutes Payload for the error.
type OnPaymentCreationFailureHook func(PaymentCreationFailureContext) (*PaymentCreationRecovery, error)
