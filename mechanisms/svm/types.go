package svm

import (
	"context"
	"encoding/base64"
	"errors"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
)

var errMissingTransaction = errors.New("payload missing transaction field")

// AssetInfo describes an SPL token asset on a given cluster.
type AssetInfo struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

// NetworkConfig holds per-cluster defaults: its CAIP-2 identifier, RPC
// endpoint, and default settlement asset.
type NetworkConfig struct {
	CAIP2        string
	RPCURL       string
	DefaultAsset AssetInfo
}

// ClientConfig allows callers to override the default RPC endpoint used when
// building transactions client-side.
type ClientConfig struct {
	RPCURL string
}

// ClientSvmSigner is implemented by wallets capable of signing a Solana
// transaction on the payer's behalf.
type ClientSvmSigner interface {
	Address() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// FacilitatorSvmSigner is implemented by the facilitator's fee-payer wallet:
// it fronts transaction fees and broadcasts the payer-signed transaction.
type FacilitatorSvmSigner interface {
	Address() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
	SendTransaction(ctx context.Context, tx *solana.Transaction) (string, error)
	GetTransaction(ctx context.Context, signature string) (*TransactionStatus, error)
}

// TransactionStatus reports the on-chain confirmation state of a submitted transaction.
type TransactionStatus struct {
	Confirmed bool
	Success   bool
	Slot      uint64
}

// ExactSvmPayload is the exact-scheme payload carried in PaymentPayload.Payload:
// a fully or partially signed, base64-encoded Solana transaction.
type ExactSvmPayload struct {
	Transaction string `json:"transaction"`
}

// ToMap converts the payload to the generic map representation used by
// PartialPaymentPayload.Payload.
func (p *ExactSvmPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"transaction": p.Transaction,
	}
}

// PayloadFromMap reconstructs an ExactSvmPayload from the generic map stored
// on a PaymentPayload.
func PayloadFromMap(m map[string]interface{}) (*ExactSvmPayload, error) {
	tx, _ := m["transaction"].(string)
	if tx == "" {
		return nil, errMissingTransaction
	}
	return &ExactSvmPayload{Transaction: tx}, nil
}

// EncodeTransaction base64-encodes a (possibly partially signed) Solana transaction.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeTransaction parses a base64-encoded Solana transaction.
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, err
	}
	return tx, nil
}
