package transfer

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// MemoProgramID is the SPL Memo program (v2).
var MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

// BuildInstructions returns the ordered instruction list for a validated plan:
// the memo (if any) first, then exactly one transfer carrying the reference
// keys. Indexers read the first matching instruction, so the order matters.
func BuildInstructions(plan *TransferPlan) ([]Instruction, error) {
	if plan == nil {
		return nil, newError(KindInvalidTransaction, "build", errors.New("nil transfer plan"))
	}

	instructions := make([]Instruction, 0, 2)

	if plan.Memo != "" {
		memo, err := MemoInstruction(plan.Memo, plan.Sender)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, memo)
	}

	transfer, err := transferInstruction(plan)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, WithReferences(transfer, plan.References...))

	return instructions, nil
}

// MemoInstruction builds an SPL Memo instruction. The signer is listed as a
// read-only signer; pass the fee payer so no extra signature is needed.
func MemoInstruction(memo string, signer solana.PublicKey) (Instruction, error) {
	if !utf8.ValidString(memo) {
		return Instruction{}, newError(KindInvalidTransaction, "build", errors.New("memo is not valid UTF-8"))
	}

	inst := Instruction{
		Program: MemoProgramID,
		Payload: []byte(memo),
	}
	if !signer.IsZero() {
		inst.Keys = solana.AccountMetaSlice{
			{PublicKey: signer, IsSigner: true, IsWritable: false},
		}
	}
	return inst, nil
}

// WithReferences returns a copy of inst with each reference appended as a
// read-only, non-signer key. Order is preserved and duplicates are kept.
func WithReferences(inst Instruction, references ...solana.PublicKey) Instruction {
	out := Instruction{
		Program: inst.Program,
		Keys:    make(solana.AccountMetaSlice, 0, len(inst.Keys)+len(references)),
		Payload: inst.Payload,
	}
	out.Keys = append(out.Keys, inst.Accounts()...)
	for _, ref := range references {
		out.Keys = append(out.Keys, &solana.AccountMeta{
			PublicKey:  ref,
			IsSigner:   false,
			IsWritable: false,
		})
	}
	return out
}

func transferInstruction(plan *TransferPlan) (Instruction, error) {
	var inst solana.Instruction
	if plan.Mint == nil {
		inst = system.NewTransferInstruction(
			plan.Amount,
			plan.Sender,
			plan.Recipient,
		).Build()
	} else {
		// TransferChecked asserts mint and decimals on-chain, so a substituted
		// mint cannot be paid in place of the requested one.
		inst = token.NewTransferCheckedInstruction(
			plan.Amount,
			plan.Decimals,
			plan.SenderTokenAccount,
			*plan.Mint,
			plan.RecipientTokenAccount,
			plan.Sender,
			nil,
		).Build()
	}

	out, err := fromSolana(inst)
	if err != nil {
		return Instruction{}, newError(KindInvalidTransaction, "build", fmt.Errorf("encode transfer instruction: %w", err))
	}
	return out, nil
}
