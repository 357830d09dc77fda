package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/sync/errgroup"
)

// TransferPlan is a validated request with its amount already expressed in
// base units. It is the only input the instruction builder accepts.
type TransferPlan struct {
	Sender    solana.PublicKey
	Recipient solana.PublicKey
	Mint      *solana.PublicKey
	Decimals  uint8
	Amount    uint64

	// Associated token accounts, zero on the native path.
	SenderTokenAccount    solana.PublicKey
	RecipientTokenAccount solana.PublicKey

	References []solana.PublicKey
	Memo       string
}

// Validator checks that the accounts named by a TransferRequest can take part
// in the transfer. It only reads from the network and never retries.
type Validator struct {
	conn       Connection
	commitment rpc.CommitmentType
	logger     *slog.Logger
}

// NewValidator creates a Validator reading account state at the given commitment.
func NewValidator(conn Connection, commitment rpc.CommitmentType, logger *slog.Logger) *Validator {
	return &Validator{
		conn:       conn,
		commitment: commitment,
		logger:     logger,
	}
}

// Plan validates req and returns the plan the instruction builder needs.
//
// Lookups that do not depend on each other run concurrently, but checks are
// applied in a fixed order (sender before recipient) so the same failure is
// always reported for the same on-chain state.
func (v *Validator) Plan(ctx context.Context, req TransferRequest) (*TransferPlan, error) {
	if req.Sender.IsZero() || req.Recipient.IsZero() {
		return nil, newError(KindAccountNotFound, "validate", errors.New("sender and recipient are required"))
	}

	plan := &TransferPlan{
		Sender:     req.Sender,
		Recipient:  req.Recipient,
		Mint:       req.Mint,
		References: req.References,
		Memo:       req.Memo,
	}

	if req.IsNative() {
		// Precision is known up front, so reject bad amounts before any I/O.
		amount, err := normalizeToU64(req, NativeDecimals)
		if err != nil {
			return nil, err
		}
		plan.Decimals = NativeDecimals
		plan.Amount = amount
	}

	wallets, err := v.fetchAll(ctx, req.Sender, req.Recipient)
	if err != nil {
		return nil, err
	}
	sender, recipient := wallets[0], wallets[1]
	if sender == nil {
		return nil, accountError(KindAccountNotFound, RolePayer, req.Sender)
	}
	if recipient == nil {
		return nil, accountError(KindAccountNotFound, RoleReceiver, req.Recipient)
	}

	if req.IsNative() {
		if err := checkNativeAccount(sender, RolePayer); err != nil {
			return nil, err
		}
		if err := checkNativeAccount(recipient, RoleReceiver); err != nil {
			return nil, err
		}
		if sender.Lamports < plan.Amount {
			return nil, insufficient(req.Sender, sender.Lamports, plan.Amount)
		}

		v.logger.DebugContext(ctx, "native transfer validated",
			"sender", req.Sender.String(),
			"recipient", req.Recipient.String(),
			"lamports", plan.Amount,
		)
		return plan, nil
	}

	if err := v.planToken(ctx, req, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (v *Validator) planToken(ctx context.Context, req TransferRequest, plan *TransferPlan) error {
	mint := *req.Mint

	senderATA, _, err := solana.FindAssociatedTokenAddress(req.Sender, mint)
	if err != nil {
		return newError(KindAccountNotFound, "validate", fmt.Errorf("derive sender token account: %w", err))
	}
	recipientATA, _, err := solana.FindAssociatedTokenAddress(req.Recipient, mint)
	if err != nil {
		return newError(KindAccountNotFound, "validate", fmt.Errorf("derive recipient token account: %w", err))
	}

	states, err := v.fetchAll(ctx, mint, senderATA, recipientATA)
	if err != nil {
		return err
	}

	decimals, err := checkMint(states[0], mint)
	if err != nil {
		return err
	}

	// Mint precision is now known; reject bad amounts before judging balances.
	amount, err := normalizeToU64(req, decimals)
	if err != nil {
		return err
	}

	senderToken, err := checkTokenAccount(states[1], RolePayer, senderATA, mint)
	if err != nil {
		return err
	}
	if _, err := checkTokenAccount(states[2], RoleReceiver, recipientATA, mint); err != nil {
		return err
	}
	if senderToken.TokenAmount < amount {
		return insufficient(senderATA, senderToken.TokenAmount, amount)
	}

	plan.Decimals = decimals
	plan.Amount = amount
	plan.SenderTokenAccount = senderATA
	plan.RecipientTokenAccount = recipientATA

	v.logger.DebugContext(ctx, "token transfer validated",
		"sender", req.Sender.String(),
		"recipient", req.Recipient.String(),
		"mint", mint.String(),
		"amount", amount,
		"decimals", decimals,
	)
	return nil
}

// fetchAll reads every address concurrently. Absent accounts come back as nil
// entries; only transport failures are errors.
func (v *Validator) fetchAll(ctx context.Context, addrs ...solana.PublicKey) ([]*AccountState, error) {
	states := make([]*AccountState, len(addrs))
	g, gCtx := errgroup.WithContext(ctx)
	for i, addr := range addrs {
		g.Go(func() error {
			state, err := v.fetch(gCtx, addr)
			if err != nil {
				return err
			}
			states[i] = state
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

func (v *Validator) fetch(ctx context.Context, addr solana.PublicKey) (*AccountState, error) {
	out, err := v.conn.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: v.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newError(KindConnectionFailed, "validate", fmt.Errorf("get account %s: %w", addr, err))
	}
	if out == nil || out.Value == nil {
		return nil, nil
	}

	state := &AccountState{
		Address:    addr,
		Owner:      out.Value.Owner,
		Executable: out.Value.Executable,
		Lamports:   out.Value.Lamports,
	}
	if out.Value.Data != nil {
		state.data = out.Value.Data.GetBinary()
	}
	return state, nil
}

func checkNativeAccount(state *AccountState, role Role) error {
	if !state.Owner.Equals(solana.SystemProgramID) {
		return accountError(KindOwnerInvalid, role, state.Address)
	}
	if state.Executable {
		return accountError(KindAccountExecutable, role, state.Address)
	}
	return nil
}

func checkMint(state *AccountState, mint solana.PublicKey) (uint8, error) {
	if state == nil {
		return 0, accountError(KindAccountNotFound, RoleMint, mint)
	}
	if !state.Owner.Equals(solana.TokenProgramID) {
		return 0, accountError(KindOwnerInvalid, RoleMint, mint)
	}

	var m token.Mint
	if err := bin.NewBinDecoder(state.data).Decode(&m); err != nil {
		e := accountError(KindTokenAccountUninitialized, RoleMint, mint)
		e.Err = fmt.Errorf("decode mint: %w", err)
		return 0, e
	}
	if !m.IsInitialized {
		return 0, accountError(KindTokenAccountUninitialized, RoleMint, mint)
	}
	return m.Decimals, nil
}

func checkTokenAccount(state *AccountState, role Role, ata, mint solana.PublicKey) (*AccountState, error) {
	if state == nil {
		return nil, accountError(KindAccountNotFound, role, ata)
	}
	if !state.Owner.Equals(solana.TokenProgramID) {
		return nil, accountError(KindOwnerInvalid, role, ata)
	}

	var acc token.Account
	if err := bin.NewBinDecoder(state.data).Decode(&acc); err != nil {
		e := accountError(KindTokenAccountUninitialized, role, ata)
		e.Err = fmt.Errorf("decode token account: %w", err)
		return nil, e
	}

	state.Mint = acc.Mint
	state.TokenAmount = acc.Amount
	state.Initialized = acc.State != token.Uninitialized
	state.Frozen = acc.State == token.Frozen

	if !state.Initialized {
		return nil, accountError(KindTokenAccountUninitialized, role, ata)
	}
	if state.Frozen {
		return nil, accountError(KindTokenAccountFrozen, role, ata)
	}
	if !state.Mint.Equals(mint) {
		e := accountError(KindOwnerInvalid, role, ata)
		e.Reason = "token account holds mint " + state.Mint.String()
		return nil, e
	}
	return state, nil
}

func normalizeToU64(req TransferRequest, decimals uint8) (uint64, error) {
	units, err := NormalizeAmount(req.Amount, decimals)
	if err != nil {
		return 0, err
	}
	return ToBaseUnits(units)
}

func insufficient(account solana.PublicKey, have, want uint64) *Error {
	e := accountError(KindInsufficientFunds, RolePayer, account)
	e.Reason = fmt.Sprintf("balance %d < amount %d", have, want)
	return e
}
