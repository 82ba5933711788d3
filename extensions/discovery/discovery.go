// Package discovery implements the "discovery" declarative extension: a
// resource server advertises, inside PaymentRequired.Extensions, a
// machine-readable description of how to call the resource once paid for
// (HTTP method, input schema, output schema), so agent clients can plan a
// call without a human reading documentation first.
package discovery

import (
	"encoding/json"
	"fmt"

	x402 "github.com/ledgerflow/x402"
	"github.com/xeipuuv/gojsonschema"
)

// ExtensionKey is the key this extension is registered under in
// PaymentRequired.Extensions and PaymentPayload.Extensions.
const ExtensionKey = "discovery"

// QueryInput describes a resource invoked via query parameters (GET/DELETE).
type QueryInput struct {
	Type   string `json:"type"`
	Method string `json:"method,omitempty"`
}

// BodyInput describes a resource invoked with a request body (POST/PUT/PATCH).
type BodyInput struct {
	Type   string `json:"type"`
	Method string `json:"method,omitempty"`
}

// Info is the discoverable shape of a resource: how to invoke it and what it returns.
type Info struct {
	Input  interface{} `json:"input"`
	Output interface{} `json:"output,omitempty"`
}

// Extension is the wire form of the discovery extension: Info plus a JSON
// schema that Info.Input/Info.Output must validate against.
type Extension struct {
	Info   Info                   `json:"info"`
	Schema map[string]interface{} `json:"schema"`
}

// ValidationResult reports whether an Extension's Info matches its Schema.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Validate checks extension.Info against extension.Schema.
func Validate(extension Extension) ValidationResult {
	schemaJSON, err := json.Marshal(extension.Schema)
	if err != nil {
		return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("failed to marshal schema: %v", err)}}
	}
	infoJSON, err := json.Marshal(extension.Info)
	if err != nil {
		return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("failed to marshal info: %v", err)}}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewBytesLoader(infoJSON))
	if err != nil {
		return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("schema validation failed: %v", err)}}
	}
	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return ValidationResult{Valid: false, Errors: errs}
}

// ExtractInfo pulls the discovery extension out of a payment payload's
// extensions map, validating it against its own schema unless validate is false.
func ExtractInfo(payload x402.PaymentPayload, validate bool) (*Info, error) {
	if payload.Extensions == nil {
		return nil, nil
	}

	raw, ok := payload.Extensions[ExtensionKey]
	if !ok {
		return nil, nil
	}

	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal discovery extension: %w", err)
	}

	var extension Extension
	if err := json.Unmarshal(rawJSON, &extension); err != nil {
		return nil, fmt.Errorf("failed to unmarshal discovery extension: %w", err)
	}

	if validate {
		result := Validate(extension)
		if !result.Valid {
			return nil, fmt.Errorf("invalid discovery extension: %v", result.Errors)
		}
	}

	return &extension.Info, nil
}
