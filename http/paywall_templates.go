package http

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	x402 "github.com/ledgerflow/x402"
)

// EVMPaywallTemplate is the built-in paywall page shown for eip155:* networks.
const EVMPaywallTemplate = `<!DOCTYPE html>
<html>
<head>
	<title>Payment Required</title>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body>
	<div id="x402-paywall">Loading payment widget&hellip;</div>
</body>
</html>`

// SVMPaywallTemplate is the built-in paywall page shown for solana:* networks.
const SVMPaywallTemplate = `<!DOCTYPE html>
<html>
<head>
	<title>Payment Required</title>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body>
	<div id="x402-paywall">Loading payment widget&hellip;</div>
</body>
</html>`

// injectPaywallConfig stamps a window.x402 config blob into an HTML template
// right before the closing </body> tag, so the client-side widget has
// everything it needs to mount: the raw payment requirements plus display
// preferences from PaywallConfig.
func injectPaywallConfig(template string, paymentRequired x402.PaymentRequired, config *PaywallConfig) string {
	requirementsJSON, _ := json.Marshal(paymentRequired)

	appName := ""
	appLogo := ""
	cdpClientKey := ""
	sessionTokenEndpoint := ""
	currentURL := ""
	testnet := false

	if config != nil {
		appName = config.AppName
		appLogo = config.AppLogo
		cdpClientKey = config.CDPClientKey
		sessionTokenEndpoint = config.SessionTokenEndpoint
		currentURL = config.CurrentURL
		testnet = config.Testnet
	}

	if currentURL == "" && paymentRequired.Resource != nil {
		currentURL = paymentRequired.Resource.URL
	}

	script := fmt.Sprintf(`<script>
window.x402 = {
	amount: %.2f,
	paymentRequirements: %s,
	appName: "%s",
	appLogo: "%s",
	cdpClientKey: "%s",
	sessionTokenEndpoint: "%s",
	currentUrl: "%s",
	testnet: %t
};
</script>
</body>`,
		displayAmountFor(paymentRequired),
		string(requirementsJSON),
		html.EscapeString(appName),
		html.EscapeString(appLogo),
		html.EscapeString(cdpClientKey),
		html.EscapeString(sessionTokenEndpoint),
		html.EscapeString(currentURL),
		testnet,
	)

	if strings.Contains(template, "</body>") {
		return strings.Replace(template, "</body>", script, 1)
	}
	return template + script
}
