package evm

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	x402evm "github.com/ledgerflow/x402/mechanisms/evm"
)

// NewClientSignerFromMnemonic derives a client signer from a BIP-39 mnemonic
// using BIP-32 HD derivation, following the standard Ethereum path
// m/44'/60'/0'/0/<index> when derivationPath is empty.
func NewClientSignerFromMnemonic(mnemonic string, derivationPath string, ethClient *ethclient.Client) (x402evm.ClientEvmSigner, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}

	if derivationPath == "" {
		derivationPath = "m/44'/60'/0'/0/0"
	}

	path, err := accounts.ParseDerivationPath(derivationPath)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation path: %w", err)
	}

	seed := bip39.NewSeed(mnemonic, "")
	privateKey, err := deriveECDSAKey(seed, path)
	if err != nil {
		return nil, fmt.Errorf("derive private key: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	return &ClientSigner{
		privateKey: privateKey,
		address:    address,
		ethClient:  ethClient,
	}, nil
}

func deriveECDSAKey(seed []byte, path accounts.DerivationPath) (*ecdsa.PrivateKey, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}

	key := masterKey
	for _, n := range path {
		key, err = key.NewChildKey(n)
		if err != nil {
			return nil, fmt.Errorf("derive child key: %w", err)
		}
	}

	privateKey, err := crypto.ToECDSA(key.Key)
	if err != nil {
		return nil, fmt.Errorf("convert to ECDSA key: %w", err)
	}
	return privateKey, nil
}
