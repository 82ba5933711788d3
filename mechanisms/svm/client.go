package svm

import (
	"context"
	"encoding/json"
	"fmt"

	"strconv"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/ledgerflow/x402"
)

// estimatedComputeUnits covers the fixed three-instruction shape of every
// exact-scheme Solana transaction: compute limit, compute price, transferChecked.
const estimatedComputeUnits uint32 = 6500

// ExactSvmClient implements SchemeNetworkClient for Solana exact payments: it
// builds and partially signs an SPL TransferChecked transaction, leaving fee
// payment to the facilitator.
type ExactSvmClient struct {
	signer ClientSvmSigner
	config *ClientConfig
}

// NewExactSvmClient creates a new ExactSvmClient. config may be nil to use
// each network's default RPC endpoint.
func NewExactSvmClient(signer ClientSvmSigner, config *ClientConfig) *ExactSvmClient {
	return &ExactSvmClient{signer: signer, config: config}
}

// Scheme returns the scheme identifier.
func (c *ExactSvmClient) Scheme() string {
	return SchemeExact
}

// CreatePaymentPayload implements SchemeNetworkClient over the wire format.
func (c *ExactSvmClient) CreatePaymentPayload(ctx context.Context, requirementsBytes []byte) ([]byte, error) {
	var requirements x402.PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return nil, fmt.Errorf("invalid requirements: %w", err)
	}

	payload, err := c.createPaymentPayload(ctx, 2, requirements)
	if err != nil {
		return nil, err
	}

	return json.Marshal(payload)
}

// createPaymentPayload builds the partial payment payload for the exact scheme.
func (c *ExactSvmClient) createPaymentPayload(
	ctx context.Context,
	version int,
	requirements x402.PaymentRequirements,
) (x402.PartialPaymentPayload, error) {
	networkStr := string(requirements.Network)
	if !IsValidNetwork(networkStr) {
		return x402.PartialPaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	config, err := GetNetworkConfig(networkStr)
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}

	rpcURL := config.RPCURL
	if c.config != nil && c.config.RPCURL != "" {
		rpcURL = c.config.RPCURL
	}
	rpcClient := rpc.New(rpcURL)

	mintPubkey, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("invalid asset address: %w", err)
	}

	mintAccount, err := rpcClient.GetAccountInfo(ctx, mintPubkey)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("failed to get mint account: %w", err)
	}

	tokenProgramID := mintAccount.Value.Owner
	if tokenProgramID != solana.TokenProgramID && tokenProgramID != solana.Token2022ProgramID {
		return x402.PartialPaymentPayload{}, fmt.Errorf("asset was not created by a known token program")
	}

	payToPubkey, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("invalid payTo address: %w", err)
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(c.signer.Address(), mintPubkey)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("failed to derive source ATA: %w", err)
	}

	destinationATA, _, err := solana.FindAssociatedTokenAddress(payToPubkey, mintPubkey)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("failed to derive destination ATA: %w", err)
	}

	sourceAccount, err := rpcClient.GetAccountInfo(ctx, sourceATA)
	if err != nil || sourceAccount == nil || sourceAccount.Value == nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("%s: source ATA does not exist for payer %s", ErrATANotFound, c.signer.Address())
	}

	destAccount, err := rpcClient.GetAccountInfo(ctx, destinationATA)
	if err != nil || destAccount == nil || destAccount.Value == nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("%s: destination ATA does not exist for recipient %s", ErrATANotFound, requirements.PayTo)
	}

	// Requirements.Amount is already in the smallest unit.
	amount, err := parseAmountStrict(requirements.Amount)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	feePayer, err := c.extractFeePayer(requirements)
	if err != nil {
		return x402.PartialPaymentPayload{}, err
	}

	var mintData token.Mint
	if err := bin.NewBinDecoder(mintAccount.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("failed to decode mint data: %w", err)
	}

	latestBlockhash, err := rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(estimatedComputeUnits).
		ValidateAndBuild()
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}

	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(DefaultComputeUnitPrice).
		ValidateAndBuild()
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("failed to build compute price instruction: %w", err)
	}

	transferIx, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(mintData.Decimals).
		SetSourceAccount(sourceATA).
		SetMintAccount(mintPubkey).
		SetDestinationAccount(destinationATA).
		SetOwnerAccount(c.signer.Address()).
		ValidateAndBuild()
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("failed to build transfer instruction: %w", err)
	}

	tx, err := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice).
		AddInstruction(transferIx).
		SetRecentBlockHash(latestBlockhash.Value.Blockhash).
		SetFeePayer(feePayer).
		Build()
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	base64Tx, err := EncodeTransaction(tx)
	if err != nil {
		return x402.PartialPaymentPayload{}, fmt.Errorf("failed to encode transaction: %w", err)
	}

	svmPayload := &ExactSvmPayload{Transaction: base64Tx}

	return x402.PartialPaymentPayload{
		X402Version: version,
		Payload:     svmPayload.ToMap(),
	}, nil
}

// extractFeePayer reads the facilitator-provided fee payer address out of
// requirements.Extra, set there by ExactSvmService.EnhancePaymentRequirements.
func (c *ExactSvmClient) extractFeePayer(requirements x402.PaymentRequirements) (solana.PublicKey, error) {
	if requirements.Extra == nil {
		return solana.PublicKey{}, fmt.Errorf("feePayer is required in paymentRequirements.extra for Solana transactions")
	}
	feePayerAddr, ok := requirements.Extra["feePayer"].(string)
	if !ok || feePayerAddr == "" {
		return solana.PublicKey{}, fmt.Errorf("feePayer is required in paymentRequirements.extra for Solana transactions")
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerAddr)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid feePayer address: %w", err)
	}
	return feePayer, nil
}

func parseAmountStrict(amount string) (uint64, error) {
	return strconv.ParseUint(amount, 10, 64)
}
