package svm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/ledgerflow/x402"
)

// ExactSvmFacilitator implements SchemeNetworkFacilitator for Solana exact
// payments: it validates a client-built TransferChecked transaction, fronts
// the fee as the transaction's fee payer, and broadcasts it.
type ExactSvmFacilitator struct {
	signer FacilitatorSvmSigner
}

// NewExactSvmFacilitator creates a new ExactSvmFacilitator.
func NewExactSvmFacilitator(signer FacilitatorSvmSigner) *ExactSvmFacilitator {
	return &ExactSvmFacilitator{signer: signer}
}

// Scheme returns the scheme identifier.
func (f *ExactSvmFacilitator) Scheme() string {
	return SchemeExact
}

// Verify implements SchemeNetworkFacilitator over the wire format.
func (f *ExactSvmFacilitator) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (x402.VerifyResponse, error) {
	var payload x402.PaymentPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("invalid payload: %w", err)
	}
	var requirements x402.PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return x402.VerifyResponse{}, fmt.Errorf("invalid requirements: %w", err)
	}
	return f.verify(ctx, payload, requirements)
}

// Settle implements SchemeNetworkFacilitator over the wire format.
func (f *ExactSvmFacilitator) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (x402.SettleResponse, error) {
	var payload x402.PaymentPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("invalid payload: %w", err)
	}
	var requirements x402.PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("invalid requirements: %w", err)
	}
	return f.settle(ctx, payload, requirements)
}

func (f *ExactSvmFacilitator) verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error) {
	if payload.Accepted.Scheme != SchemeExact {
		return x402.VerifyResponse{IsValid: false, InvalidReason: string(x402.ErrUnsupportedScheme)}, nil
	}
	if payload.Accepted.Network != requirements.Network {
		return x402.VerifyResponse{IsValid: false, InvalidReason: string(x402.ErrUnsupportedNetwork)}, nil
	}

	tx, payer, err := f.decodeAndValidate(payload, requirements)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: err.Error()}, nil
	}
	_ = tx

	return x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

func (f *ExactSvmFacilitator) settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error) {
	verifyResp, err := f.verify(ctx, payload, requirements)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	if !verifyResp.IsValid {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: verifyResp.InvalidReason,
			Payer:       verifyResp.Payer,
			Network:     payload.Accepted.Network,
		}, nil
	}

	tx, payer, err := f.decodeAndValidate(payload, requirements)
	if err != nil {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: err.Error(),
			Payer:       payer,
			Network:     payload.Accepted.Network,
		}, nil
	}

	if err := f.signer.SignTransaction(ctx, tx); err != nil {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("facilitator_signing_failed: %v", err),
			Payer:       payer,
			Network:     payload.Accepted.Network,
		}, nil
	}

	signature, err := f.signer.SendTransaction(ctx, tx)
	if err != nil {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("broadcast_failed: %v", err),
			Payer:       payer,
			Network:     payload.Accepted.Network,
		}, nil
	}

	return x402.SettleResponse{
		Success:     true,
		Payer:       payer,
		Transaction: signature,
		Network:     payload.Accepted.Network,
	}, nil
}

// decodeAndValidate decodes the client's transaction and confirms its single
// transfer instruction (direct SPL TransferChecked, or one embedded in a Swig
// signV1/signV2 instruction) matches asset, destination, and amount, and that
// the facilitator's own address never appears as the transferring owner.
func (f *ExactSvmFacilitator) decodeAndValidate(payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*solana.Transaction, string, error) {
	svmPayload, err := PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, "", errors.New(ErrNoTransferInstruction)
	}

	tx, err := DecodeTransaction(svmPayload.Transaction)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode transaction: %w", err)
	}

	mintPubkey, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return nil, "", errors.New(ErrMintMismatch)
	}
	payToPubkey, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, "", errors.New(ErrRecipientMismatch)
	}
	expectedDestATA, _, err := solana.FindAssociatedTokenAddress(payToPubkey, mintPubkey)
	if err != nil {
		return nil, "", errors.New(ErrRecipientMismatch)
	}

	signerAddresses := []string{f.signer.Address().String()}

	for _, inst := range tx.Message.Instructions {
		if IsSwigSignInstruction(tx, inst) {
			payer, err := VerifySwigTransfer(tx, inst, mintPubkey.String(), payToPubkey.String(), requirements.Amount, signerAddresses)
			if err == nil {
				return tx, payer, nil
			}
			continue
		}

		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			continue
		}
		progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
		if progID != solana.TokenProgramID && progID != solana.Token2022ProgramID {
			continue
		}
		if len(inst.Data) < 1 || inst.Data[0] != splTransferCheckedDiscriminator {
			continue
		}

		payer, err := f.validateDirectTransfer(tx, inst, mintPubkey, expectedDestATA, requirements.Amount, signerAddresses)
		if err == nil {
			return tx, payer, nil
		}
	}

	return nil, "", errors.New(ErrNoTransferInstruction)
}

// validateDirectTransfer checks a bare (non-Swig) SPL TransferChecked instruction.
func (f *ExactSvmFacilitator) validateDirectTransfer(
	tx *solana.Transaction,
	inst solana.CompiledInstruction,
	mintPubkey solana.PublicKey,
	expectedDestATA solana.PublicKey,
	amount string,
	signerAddresses []string,
) (string, error) {
	if len(inst.Accounts) < 4 {
		return "", errors.New(ErrNoTransferInstruction)
	}

	accountIdx := func(i int) (solana.PublicKey, error) {
		idx := int(inst.Accounts[i])
		if idx >= len(tx.Message.AccountKeys) {
			return solana.PublicKey{}, errors.New(ErrNoTransferInstruction)
		}
		return tx.Message.AccountKeys[idx], nil
	}

	mintAcc, err := accountIdx(1)
	if err != nil || mintAcc != mintPubkey {
		return "", errors.New(ErrMintMismatch)
	}

	destAcc, err := accountIdx(2)
	if err != nil || destAcc != expectedDestATA {
		return "", errors.New(ErrRecipientMismatch)
	}

	authority, err := accountIdx(3)
	if err != nil {
		return "", errors.New(ErrNoTransferInstruction)
	}
	for _, signerAddr := range signerAddresses {
		if authority.String() == signerAddr {
			return "", errors.New(ErrFeePayerTransferringFunds)
		}
	}

	if len(inst.Data) < 9 {
		return "", errors.New(ErrNoTransferInstruction)
	}
	txAmount := decodeU64LE(inst.Data[1:9])
	requiredAmount, err := parseAmountStrict(amount)
	if err != nil || txAmount < requiredAmount {
		return "", errors.New(ErrAmountInsufficient)
	}

	return authority.String(), nil
}

func decodeU64LE(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
