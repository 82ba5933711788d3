package svm

const (
	// Scheme identifier
	SchemeExact = "exact"

	// Default token decimals for USDC
	DefaultDecimals = 6

	// DefaultComputeUnitPrice is the micro-lamports/compute-unit price attached
	// to client-built transactions when the caller does not override it.
	DefaultComputeUnitPrice = 1000

	// CAIP-2 network identifiers for Solana clusters
	SolanaMainnetCAIP2 = "solana:mainnet"
	SolanaDevnetCAIP2  = "solana:devnet"
	SolanaTestnetCAIP2 = "solana:testnet"

	// Legacy (pre-CAIP-2) network names, normalized to their CAIP-2 equivalent
	// by NormalizeNetwork for backward compatibility with existing callers.
	SolanaMainnetV1 = "solana"
	SolanaDevnetV1  = "solana-devnet"
	SolanaTestnetV1 = "solana-testnet"

	// Default Solana RPC endpoints
	defaultMainnetRPC = "https://api.mainnet-beta.solana.com"
	defaultDevnetRPC   = "https://api.devnet.solana.com"
	defaultTestnetRPC  = "https://api.testnet.solana.com"

	// USDC mint addresses used as the default settlement asset per cluster.
	USDCMainnetAddress = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCDevnetAddress  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"

	// SwigProgramAddress is the Swig smart-wallet program, used when a payer
	// signs via a Swig PDA instead of a bare keypair.
	SwigProgramAddress = "swigypWHEksbC64pWKwah1WTeh9JXwx8H1rJHLdbQMB"

	// Secp256r1PrecompileAddress is Solana's native secp256r1 signature
	// verification precompile, allowed alongside compute-budget instructions
	// in front of a Swig sign instruction (passkey-backed Swig wallets use it).
	Secp256r1PrecompileAddress = "Secp256r1SigVerify1111111111111111111111111"

	// Swig instruction discriminators (U16 LE)
	SwigSignV1Discriminator uint16 = 4
	SwigSignV2Discriminator uint16 = 11

	// Error codes matching the TypeScript implementation
	ErrNoTransferInstruction   = "invalid_exact_svm_payload_no_transfer_instruction"
	ErrMintMismatch            = "invalid_exact_svm_payload_mint_mismatch"
	ErrRecipientMismatch       = "invalid_exact_svm_payload_recipient_mismatch"
	ErrAmountInsufficient      = "invalid_exact_svm_payload_amount_insufficient"
	ErrATANotFound             = "invalid_exact_svm_payload_ata_not_found"
	ErrFeePayerTransferringFunds = "invalid_exact_svm_payload_transaction_fee_payer_transferring_funds"
)

// NetworkConfigs holds the default asset and RPC endpoint for each supported
// Solana cluster.
var NetworkConfigs = map[string]NetworkConfig{
	SolanaMainnetCAIP2: {
		CAIP2:  SolanaMainnetCAIP2,
		RPCURL: defaultMainnetRPC,
		DefaultAsset: AssetInfo{
			Address:  USDCMainnetAddress,
			Name:     "USD Coin",
			Decimals: DefaultDecimals,
		},
	},
	SolanaDevnetCAIP2: {
		CAIP2:  SolanaDevnetCAIP2,
		RPCURL: defaultDevnetRPC,
		DefaultAsset: AssetInfo{
			Address:  USDCDevnetAddress,
			Name:     "USD Coin",
			Decimals: DefaultDecimals,
		},
	},
	SolanaTestnetCAIP2: {
		CAIP2:  SolanaTestnetCAIP2,
		RPCURL: defaultTestnetRPC,
		DefaultAsset: AssetInfo{
			Address:  USDCDevnetAddress,
			Name:     "USD Coin",
			Decimals: DefaultDecimals,
		},
	},
}

// v1NetworkAliases maps legacy pre-CAIP-2 network names to their CAIP-2 equivalent.
var v1NetworkAliases = map[string]string{
	SolanaMainnetV1: SolanaMainnetCAIP2,
	SolanaDevnetV1:  SolanaDevnetCAIP2,
	SolanaTestnetV1: SolanaTestnetCAIP2,
}
