package svm

import (
	"fmt"
	"strconv"
	"strings"

	solana "github.com/gagliardetto/solana-go"
)

// NormalizeNetwork resolves a network identifier to its canonical CAIP-2 form,
// accepting both CAIP-2 identifiers and legacy pre-CAIP-2 names ("solana",
// "solana-devnet", "solana-testnet").
func NormalizeNetwork(network string) (string, error) {
	if caip2, ok := v1NetworkAliases[network]; ok {
		return caip2, nil
	}
	if _, ok := NetworkConfigs[network]; ok {
		return network, nil
	}
	return "", fmt.Errorf("unsupported network: %s", network)
}

// IsValidNetwork reports whether network (CAIP-2 or legacy name) is supported.
func IsValidNetwork(network string) bool {
	_, err := NormalizeNetwork(network)
	return err == nil
}

// GetNetworkConfig returns the configuration for the given network identifier,
// accepting both CAIP-2 identifiers and legacy pre-CAIP-2 names.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	caip2, err := NormalizeNetwork(network)
	if err != nil {
		return nil, err
	}
	config := NetworkConfigs[caip2]
	return &config, nil
}

// ValidateSolanaAddress reports whether addr decodes to a well-formed 32-byte
// base58 Solana public key.
func ValidateSolanaAddress(addr string) bool {
	if addr == "" {
		return false
	}
	_, err := solana.PublicKeyFromBase58(addr)
	return err == nil
}

// GetAssetInfo resolves asset metadata for a network. assetIdentifier may be
// empty, a recognized symbol, or a base58 mint address — any of these falls
// back to the network's default asset. An unrecognized but well-formed mint
// address is treated as an unknown SPL token using the network's default
// decimals; an unrecognized, non-address string is assumed to be an unknown
// symbol and also resolves to the default asset.
func GetAssetInfo(network string, assetIdentifier string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	if assetIdentifier == "" || assetIdentifier == config.DefaultAsset.Address {
		return &config.DefaultAsset, nil
	}

	upper := strings.ToUpper(assetIdentifier)
	if upper == "USDC" || upper == "USD" {
		return &config.DefaultAsset, nil
	}

	if ValidateSolanaAddress(assetIdentifier) {
		return &AssetInfo{
			Address:  assetIdentifier,
			Name:     "Unknown Token",
			Decimals: DefaultDecimals,
		}, nil
	}

	// Not a recognized symbol or a well-formed address: treat as an unknown
	// symbol and settle in the network's default asset.
	return &config.DefaultAsset, nil
}

// ParseAmount converts a decimal amount string (e.g. "0.10") into the asset's
// smallest unit given its decimals.
func ParseAmount(decimalAmount string, decimals int) (uint64, error) {
	parts := strings.SplitN(decimalAmount, ".", 2)
	whole := parts[0]
	if whole == "" {
		whole = "0"
	}
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if len(frac) > decimals {
		return 0, fmt.Errorf("amount %s has more precision than %d decimals", decimalAmount, decimals)
	}
	frac = frac + strings.Repeat("0", decimals-len(frac))

	combined, err := strconv.ParseUint(whole+frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount: %s", decimalAmount)
	}
	return combined, nil
}

// FormatAmount renders a smallest-unit amount as a decimal string, trimming
// trailing zeros.
func FormatAmount(amount uint64, decimals int) string {
	s := strconv.FormatUint(amount, 10)
	for len(s) <= decimals {
		s = "0" + s
	}
	whole := s[:len(s)-decimals]
	frac := strings.TrimRight(s[len(s)-decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
