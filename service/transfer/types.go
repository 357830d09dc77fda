package transfer

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// Connection is the subset of the Solana RPC API the pipeline needs.
// *rpc.Client satisfies it, as does the instrumented client in service/solana.
// The connection is owned by the caller and is never closed here.
type Connection interface {
	GetAccountInfoWithOpts(
		ctx context.Context,
		account solana.PublicKey,
		opts *rpc.GetAccountInfoOpts,
	) (*rpc.GetAccountInfoResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	SendRawTransactionWithOpts(
		ctx context.Context,
		rawTx []byte,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		transactionSignatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	GetBlockHeight(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (uint64, error)
}

// TransferRequest describes a single payment.
type TransferRequest struct {
	Sender     solana.PublicKey
	Recipient  solana.PublicKey
	Mint       *solana.PublicKey // nil for native SOL transfers
	Amount     decimal.Decimal
	References []solana.PublicKey
	Memo       string
}

// IsNative reports whether the request moves SOL rather than an SPL token.
func (r TransferRequest) IsNative() bool {
	return r.Mint == nil
}

// AssetLabel returns "sol" or the mint address, for logs and metrics.
func (r TransferRequest) AssetLabel() string {
	if r.Mint == nil {
		return "sol"
	}
	return r.Mint.String()
}

// AccountState is a point-in-time snapshot of an on-chain account.
// It is fetched fresh for every request and never cached.
type AccountState struct {
	Address    solana.PublicKey
	Owner      solana.PublicKey
	Executable bool
	Lamports   uint64

	// Token account fields, zero for system accounts.
	Mint        solana.PublicKey
	TokenAmount uint64
	Initialized bool
	Frozen      bool

	data []byte
}

// Instruction is an immutable protocol instruction. It implements
// solana.Instruction so it can be handed straight to solana.NewTransaction.
type Instruction struct {
	Program solana.PublicKey
	Keys    solana.AccountMetaSlice
	Payload []byte
}

var _ solana.Instruction = Instruction{}

func (i Instruction) ProgramID() solana.PublicKey {
	return i.Program
}

// Accounts returns copies of the account metas.
func (i Instruction) Accounts() []*solana.AccountMeta {
	out := make([]*solana.AccountMeta, len(i.Keys))
	for n, meta := range i.Keys {
		m := *meta
		out[n] = &m
	}
	return out
}

func (i Instruction) Data() ([]byte, error) {
	return append([]byte(nil), i.Payload...), nil
}

// fromSolana snapshots any solana.Instruction into an Instruction.
func fromSolana(inst solana.Instruction) (Instruction, error) {
	data, err := inst.Data()
	if err != nil {
		return Instruction{}, err
	}
	out := Instruction{
		Program: inst.ProgramID(),
		Payload: append([]byte(nil), data...),
	}
	for _, meta := range inst.Accounts() {
		m := *meta
		out.Keys = append(out.Keys, &m)
	}
	return out, nil
}

// Checkpoint is a recent blockhash and the last block height at which a
// transaction citing it can still land.
type Checkpoint struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// UnsignedTransaction is the assembled artifact handed to the signer.
// It carries no signatures and must never be submitted directly.
type UnsignedTransaction struct {
	FeePayer     solana.PublicKey
	Checkpoint   Checkpoint
	Instructions []Instruction
	Base64       string
}

// Finality is the commitment level a transaction must reach.
type Finality string

const (
	FinalityConfirmed Finality = "confirmed"
	FinalityFinalized Finality = "finalized"
)

// Commitment maps the finality onto the RPC commitment level.
func (f Finality) Commitment() rpc.CommitmentType {
	if f == FinalityFinalized {
		return rpc.CommitmentFinalized
	}
	return rpc.CommitmentConfirmed
}

// ParseFinality accepts "confirmed" or "finalized".
func ParseFinality(s string) (Finality, bool) {
	switch Finality(s) {
	case FinalityConfirmed, FinalityFinalized:
		return Finality(s), true
	default:
		return "", false
	}
}

// ConfirmationStatus is the lifecycle state of a submitted transaction.
type ConfirmationStatus string

const (
	StatusPending   ConfirmationStatus = "pending"
	StatusConfirmed ConfirmationStatus = "confirmed"
	StatusFinalized ConfirmationStatus = "finalized"
	StatusExpired   ConfirmationStatus = "expired"
	StatusFailed    ConfirmationStatus = "failed"
)

// Reaches reports whether s satisfies the target finality.
func (s ConfirmationStatus) Reaches(target Finality) bool {
	switch s {
	case StatusFinalized:
		return true
	case StatusConfirmed:
		return target == FinalityConfirmed
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s ConfirmationStatus) Terminal() bool {
	return s == StatusFinalized || s == StatusExpired || s == StatusFailed
}
