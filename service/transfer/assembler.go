package transfer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Assembler wraps instructions into a transaction citing a fresh checkpoint.
type Assembler struct {
	conn   Connection
	logger *slog.Logger
}

// NewAssembler creates an Assembler that fetches checkpoints from conn.
func NewAssembler(conn Connection, logger *slog.Logger) *Assembler {
	return &Assembler{conn: conn, logger: logger}
}

// LatestCheckpoint fetches the latest blockhash at the given finality.
func (a *Assembler) LatestCheckpoint(ctx context.Context, finality Finality) (Checkpoint, error) {
	return latestCheckpoint(ctx, a.conn, finality)
}

// Assemble fetches a checkpoint and builds the unsigned transaction.
func (a *Assembler) Assemble(ctx context.Context, feePayer solana.PublicKey, instructions []Instruction, finality Finality) (*UnsignedTransaction, error) {
	checkpoint, err := a.LatestCheckpoint(ctx, finality)
	if err != nil {
		return nil, err
	}

	unsigned, err := AssembleWithCheckpoint(feePayer, checkpoint, instructions)
	if err != nil {
		return nil, err
	}

	a.logger.DebugContext(ctx, "assembled unsigned transaction",
		"fee_payer", feePayer.String(),
		"blockhash", checkpoint.Blockhash.String(),
		"last_valid_block_height", checkpoint.LastValidBlockHeight,
		"instructions", len(instructions),
	)
	return unsigned, nil
}

// AssembleWithCheckpoint is the deterministic part of assembly: identical
// fee payer, checkpoint and instructions always produce identical bytes.
// Signature slots are left zeroed for the wallet to fill.
func AssembleWithCheckpoint(feePayer solana.PublicKey, checkpoint Checkpoint, instructions []Instruction) (*UnsignedTransaction, error) {
	if feePayer.IsZero() {
		return nil, newError(KindInvalidTransaction, "assemble", errors.New("fee payer is required"))
	}
	if len(instructions) == 0 {
		return nil, newError(KindInvalidTransaction, "assemble", errors.New("no instructions"))
	}

	ixs := make([]solana.Instruction, len(instructions))
	for i, inst := range instructions {
		ixs[i] = inst
	}

	tx, err := solana.NewTransaction(ixs, checkpoint.Blockhash, solana.TransactionPayer(feePayer))
	if err != nil {
		return nil, newError(KindInvalidTransaction, "assemble", fmt.Errorf("create transaction: %w", err))
	}

	raw, err := serializeUnsigned(tx)
	if err != nil {
		return nil, newError(KindInvalidTransaction, "assemble", err)
	}

	return &UnsignedTransaction{
		FeePayer:     feePayer,
		Checkpoint:   checkpoint,
		Instructions: append([]Instruction(nil), instructions...),
		Base64:       base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// serializeUnsigned writes the transaction with every required signature slot
// present but zeroed.
func serializeUnsigned(tx *solana.Transaction) ([]byte, error) {
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	return raw, nil
}

// DecodeTransaction parses base64 wire bytes into a transaction.
func DecodeTransaction(b64 string) (*solana.Transaction, []byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, nil, newError(KindInvalidTransaction, "decode", fmt.Errorf("invalid base64: %w", err))
	}
	tx, err := decodeRaw(raw)
	if err != nil {
		return nil, nil, newError(KindInvalidTransaction, "decode", fmt.Errorf("invalid transaction bytes: %w", err))
	}
	return tx, raw, nil
}

func decodeRaw(raw []byte) (*solana.Transaction, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty transaction")
	}
	return solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
}

// MissingSignatures returns the required signers whose slot is still empty.
func MissingSignatures(tx *solana.Transaction) []solana.PublicKey {
	required := int(tx.Message.Header.NumRequiredSignatures)
	var missing []solana.PublicKey
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if i >= len(tx.Signatures) || tx.Signatures[i].IsZero() {
			missing = append(missing, tx.Message.AccountKeys[i])
		}
	}
	return missing
}

func latestCheckpoint(ctx context.Context, conn Connection, finality Finality) (Checkpoint, error) {
	out, err := conn.GetLatestBlockhash(ctx, finality.Commitment())
	if err != nil {
		return Checkpoint{}, newError(KindConnectionFailed, "checkpoint", fmt.Errorf("get latest blockhash: %w", err))
	}
	if out == nil || out.Value == nil {
		return Checkpoint{}, newError(KindConnectionFailed, "checkpoint", errors.New("empty latest blockhash response"))
	}
	return Checkpoint{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}
