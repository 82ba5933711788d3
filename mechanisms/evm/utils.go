package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

var hexAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsValidAddress reports whether addr is a well-formed 20-byte hex Ethereum address.
func IsValidAddress(addr string) bool {
	return hexAddressPattern.MatchString(addr)
}

// NormalizeAddress lowercases a hex address for comparison purposes.
func NormalizeAddress(addr string) string {
	return strings.ToLower(addr)
}

// IsValidNetwork reports whether network has a registered NetworkConfig.
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[network]
	return ok
}

// GetNetworkConfig returns the configuration for the given CAIP-2 network identifier.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	return &config, nil
}

// GetAssetInfo resolves asset metadata for a network. An empty address falls back
// to the network's default asset; an unrecognized address is treated as an
// unknown ERC-20 with the standard 18 decimals.
func GetAssetInfo(network string, assetAddress string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	if assetAddress == "" {
		if config.DefaultAsset.Address == "" {
			return nil, fmt.Errorf("no default asset configured for network %s; specify an explicit asset address", network)
		}
		return &config.DefaultAsset, nil
	}

	if !IsValidAddress(assetAddress) {
		return nil, fmt.Errorf("invalid asset address: %s", assetAddress)
	}

	if NormalizeAddress(assetAddress) == NormalizeAddress(config.DefaultAsset.Address) {
		return &config.DefaultAsset, nil
	}

	return &AssetInfo{
		Address:  assetAddress,
		Name:     "Unknown Token",
		Version:  "1",
		Decimals: DefaultDecimals,
	}, nil
}

// ParseAmount converts a decimal amount string (e.g. "0.10") into the asset's
// smallest unit given its decimals.
func ParseAmount(decimalAmount string, decimals int) (*big.Int, error) {
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
		return nil, fmt.Errorf("amount %s has more precision than %d decimals", decimalAmount, decimals)
	}
	frac = frac + strings.Repeat("0", decimals-len(frac))

	combined, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", decimalAmount)
	}
	return combined, nil
}

// CreateNonce generates a random 32-byte EIP-3009 nonce, hex-encoded with a 0x prefix.
func CreateNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(buf), nil
}

// CreateValidityWindow returns a (validAfter, validBefore) pair usable immediately
// and expiring after the given duration.
func CreateValidityWindow(validity time.Duration) (*big.Int, *big.Int) {
	now := time.Now().Unix()
	validAfter := big.NewInt(0)
	validBefore := big.NewInt(now + int64(validity.Seconds()))
	return validAfter, validBefore
}

// FormatAmount renders a smallest-unit amount as a decimal string with the
// given number of decimals, trimming trailing zeros.
func FormatAmount(amount *big.Int, decimals int) string {
	s := amount.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for len(s) <= decimals {
		s = "0" + s
	}
	whole := s[:len(s)-decimals]
	frac := s[len(s)-decimals:]
	frac = strings.TrimRight(frac, "0")

	out := whole
	if frac != "" {
		out = whole + "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// HexToBytes decodes a 0x-prefixed hex string into bytes.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// BytesToHex encodes bytes into a 0x-prefixed hex string.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
