package discovery

// TransportContext abstracts the transport layer so discovery doesn't depend
// on any concrete HTTP package. Any type exposing TransportMethod() satisfies
// this via structural typing (e.g. an http.HTTPRequestContext).
type TransportContext interface {
	TransportMethod() string
}

type resourceServerExtension struct{}

func (e *resourceServerExtension) Key() string {
	return ExtensionKey
}

// EnrichDeclaration stamps the transport's HTTP method onto the declared
// Extension's input shape before it is handed back to the client.
func (e *resourceServerExtension) EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{} {
	tc, ok := transportContext.(TransportContext)
	if !ok {
		return declaration
	}

	extension, ok := declaration.(Extension)
	if !ok {
		return declaration
	}

	method := tc.TransportMethod()

	switch input := extension.Info.Input.(type) {
	case QueryInput:
		input.Method = method
		extension.Info.Input = input
	case BodyInput:
		input.Method = method
		extension.Info.Input = input
	}

	return extension
}

// ValidatePayload is a no-op: discovery only decorates the challenge, it
// never conditions billing on anything the client sends back.
func (e *resourceServerExtension) ValidatePayload(extensionDecl interface{}, payloadValue interface{}) error {
	return nil
}

// ResourceServerExtension enriches a discovery declaration with the route's
// HTTP method. Register it on an X402ResourceService with RegisterExtension.
var ResourceServerExtension = &resourceServerExtension{}
