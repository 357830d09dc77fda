package solana

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/brojonat/solpay/service/transfer"
	"github.com/gagliardetto/solana-go"
)

// Well-known Solana program IDs
var (
	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// MemoProgramIDLegacy is the legacy memo program (v1)
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// Number of accounts each transfer layout owns; anything after them is a
// reference key.
const (
	systemTransferAccounts       = 2 // from, to
	tokenTransferAccounts        = 3 // source, destination, authority
	tokenTransferCheckedAccounts = 4 // source, mint, destination, authority
)

// Describe decodes base64 wire bytes into a Description.
func Describe(b64 string) (*Description, error) {
	tx, _, err := transfer.DecodeTransaction(b64)
	if err != nil {
		return nil, err
	}
	return DescribeTransaction(tx)
}

// DescribeTransaction summarizes a decoded transaction.
func DescribeTransaction(tx *solana.Transaction) (*Description, error) {
	keys := tx.Message.AccountKeys
	if len(keys) == 0 {
		return nil, fmt.Errorf("transaction has no account keys")
	}

	desc := &Description{
		FeePayer:     keys[0].String(),
		Blockhash:    tx.Message.RecentBlockhash.String(),
		Instructions: len(tx.Message.Instructions),
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	for i := 0; i < required && i < len(keys); i++ {
		signed := i < len(tx.Signatures) && !tx.Signatures[i].IsZero()
		desc.Signers = append(desc.Signers, SignerState{Address: keys[i].String(), Signed: signed})
	}

	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(keys) {
			return nil, fmt.Errorf("program index %d out of bounds", instruction.ProgramIDIndex)
		}
		programID := keys[instruction.ProgramIDIndex]

		switch {
		case programID.Equals(transfer.MemoProgramID) || programID.Equals(MemoProgramIDLegacy):
			if desc.Memo == nil {
				if memo := parseMemo(instruction.Data); memo != "" {
					desc.Memo = &memo
				}
			}

		case programID.Equals(solana.SystemProgramID):
			if desc.Transfer != nil {
				continue
			}
			if detail, err := parseSystemTransfer(instruction, keys); err == nil {
				desc.Transfer = detail
			}

		case programID.Equals(solana.TokenProgramID) || programID.Equals(Token2022ProgramID):
			if desc.Transfer != nil {
				continue
			}
			if detail, err := parseTokenTransfer(instruction, keys); err == nil {
				desc.Transfer = detail
			}
		}
	}

	return desc, nil
}

// parseSystemTransfer extracts the amount and parties from a System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (*TransferDetail, error) {
	// System Transfer instruction format:
	// [0..4]  = instruction type (u32, should be 2 for Transfer)
	// [4..12] = lamports (u64)
	if len(instruction.Data) < 12 {
		return nil, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return nil, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	detail := &TransferDetail{
		Kind:   "sol",
		Amount: binary.LittleEndian.Uint64(instruction.Data[4:12]),
	}
	detail.FromAddress = keyAt(instruction, accountKeys, 0)
	detail.ToAddress = keyAt(instruction, accountKeys, 1)
	detail.References = trailingKeys(instruction, accountKeys, systemTransferAccounts)
	return detail, nil
}

// parseTokenTransfer extracts amount, mint and parties from an SPL Token transfer instruction.
func parseTokenTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (*TransferDetail, error) {
	if len(instruction.Data) == 0 {
		return nil, fmt.Errorf("empty instruction data")
	}

	switch instruction.Data[0] {
	case TokenProgramTransferInstruction:
		// [0] = 3, [1..9] = amount (u64)
		// Accounts: [source, destination, authority]
		if len(instruction.Data) < 9 {
			return nil, fmt.Errorf("transfer instruction data too short")
		}
		detail := &TransferDetail{
			Kind:   "spl-token",
			Amount: binary.LittleEndian.Uint64(instruction.Data[1:9]),
		}
		detail.ToAddress = keyAt(instruction, accountKeys, 1)
		detail.FromAddress = keyAt(instruction, accountKeys, 2)
		detail.References = trailingKeys(instruction, accountKeys, tokenTransferAccounts)
		return detail, nil

	case TokenProgramTransferCheckedInstruction:
		// [0] = 12, [1..9] = amount (u64), [9] = decimals (u8)
		// Accounts: [source, mint, destination, authority, ...]
		if len(instruction.Data) < 10 {
			return nil, fmt.Errorf("transferChecked instruction data too short")
		}
		if len(instruction.Accounts) < tokenTransferCheckedAccounts {
			return nil, fmt.Errorf("transferChecked missing accounts")
		}
		decimals := instruction.Data[9]
		detail := &TransferDetail{
			Kind:     "spl-token",
			Amount:   binary.LittleEndian.Uint64(instruction.Data[1:9]),
			Decimals: &decimals,
		}
		detail.TokenMint = keyAt(instruction, accountKeys, 1)
		detail.ToAddress = keyAt(instruction, accountKeys, 2)
		// The authority is the wallet that signed, not its token account.
		detail.FromAddress = keyAt(instruction, accountKeys, 3)
		detail.References = trailingKeys(instruction, accountKeys, tokenTransferCheckedAccounts)
		return detail, nil

	default:
		return nil, fmt.Errorf("unknown token instruction type: %d", instruction.Data[0])
	}
}

func keyAt(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, pos int) *string {
	if pos >= len(instruction.Accounts) {
		return nil
	}
	idx := int(instruction.Accounts[pos])
	if idx >= len(accountKeys) {
		return nil
	}
	s := accountKeys[idx].String()
	return &s
}

func trailingKeys(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, owned int) []string {
	var refs []string
	for pos := owned; pos < len(instruction.Accounts); pos++ {
		if key := keyAt(instruction, accountKeys, pos); key != nil {
			refs = append(refs, *key)
		}
	}
	return refs
}

// parseMemo returns the memo text, or "" when the payload is not UTF-8.
func parseMemo(data []byte) string {
	if !utf8.Valid(data) {
		return ""
	}
	return string(data)
}
