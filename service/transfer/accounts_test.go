package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(conn *mockConn) *Validator {
	return NewValidator(conn, rpc.CommitmentConfirmed, newTestLogger())
}

func solRequest(amount string) TransferRequest {
	return TransferRequest{
		Sender:    testSender,
		Recipient: testRecipient,
		Amount:    decimal.RequireFromString(amount),
	}
}

func tokenRequest(amount string) TransferRequest {
	mint := testMint
	req := solRequest(amount)
	req.Mint = &mint
	return req
}

func assertAccountError(t *testing.T, err error, kind Kind, role Role) *Error {
	t.Helper()
	require.Error(t, err)
	var e *Error
	require.True(t, errors.As(err, &e), "expected *Error, got %T: %v", err, err)
	assert.Equal(t, kind, e.Kind)
	assert.Equal(t, role, e.Role)
	return e
}

func TestPlan_Native(t *testing.T) {
	conn := newMockConn()
	conn.addWallet(testSender, 2_000_000_000)
	conn.addWallet(testRecipient, 0)

	req := solRequest("1.5")
	req.References = []solana.PublicKey{testRef1}
	req.Memo = "hello"

	plan, err := newTestValidator(conn).Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), plan.Amount)
	assert.Equal(t, NativeDecimals, plan.Decimals)
	assert.Nil(t, plan.Mint)
	assert.Equal(t, []solana.PublicKey{testRef1}, plan.References)
	assert.Equal(t, "hello", plan.Memo)
}

func TestPlan_NativeFailures(t *testing.T) {
	t.Run("sender missing", func(t *testing.T) {
		conn := newMockConn()
		conn.addWallet(testRecipient, 0)

		_, err := newTestValidator(conn).Plan(context.Background(), solRequest("1"))
		e := assertAccountError(t, err, KindAccountNotFound, RolePayer)
		assert.Equal(t, testSender, e.Account)
	})

	t.Run("recipient missing", func(t *testing.T) {
		conn := newMockConn()
		conn.addWallet(testSender, 5_000_000_000)

		_, err := newTestValidator(conn).Plan(context.Background(), solRequest("1"))
		assertAccountError(t, err, KindAccountNotFound, RoleReceiver)
	})

	t.Run("both missing reports sender first", func(t *testing.T) {
		conn := newMockConn()

		_, err := newTestValidator(conn).Plan(context.Background(), solRequest("1"))
		assertAccountError(t, err, KindAccountNotFound, RolePayer)
	})

	t.Run("recipient owned by another program", func(t *testing.T) {
		conn := newMockConn()
		conn.addWallet(testSender, 5_000_000_000)
		conn.addWallet(testRecipient, 0)
		conn.accounts[testRecipient].Owner = solana.TokenProgramID

		_, err := newTestValidator(conn).Plan(context.Background(), solRequest("1"))
		assertAccountError(t, err, KindOwnerInvalid, RoleReceiver)
	})

	t.Run("recipient executable", func(t *testing.T) {
		conn := newMockConn()
		conn.addWallet(testSender, 5_000_000_000)
		conn.addWallet(testRecipient, 0)
		conn.accounts[testRecipient].Executable = true

		_, err := newTestValidator(conn).Plan(context.Background(), solRequest("1"))
		assertAccountError(t, err, KindAccountExecutable, RoleReceiver)
	})

	t.Run("insufficient lamports", func(t *testing.T) {
		conn := newMockConn()
		conn.addWallet(testSender, 999_999_999)
		conn.addWallet(testRecipient, 0)

		_, err := newTestValidator(conn).Plan(context.Background(), solRequest("1"))
		assertAccountError(t, err, KindInsufficientFunds, RolePayer)
	})

	t.Run("precision failure happens before any lookup", func(t *testing.T) {
		conn := newMockConn()

		_, err := newTestValidator(conn).Plan(context.Background(), solRequest("0.0000000001"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidAmount))
		assert.Equal(t, 0, conn.accountCalls)
	})

	t.Run("rpc failure", func(t *testing.T) {
		conn := newMockConn()
		conn.accountErr = errors.New("connection refused")

		_, err := newTestValidator(conn).Plan(context.Background(), solRequest("1"))
		require.Error(t, err)
		assert.Equal(t, KindConnectionFailed, KindOf(err))
		assert.True(t, Retryable(err))
	})
}

func tokenLedger(t *testing.T, senderAmount uint64, recipientState token.AccountState) *mockConn {
	t.Helper()
	conn := newMockConn()
	conn.addWallet(testSender, 1_000_000_000)
	conn.addWallet(testRecipient, 0)
	conn.addMint(t, testMint, 6)
	conn.addTokenAccount(t, testSender, testMint, senderAmount, token.Initialized)
	conn.addTokenAccount(t, testRecipient, testMint, 0, recipientState)
	return conn
}

func TestPlan_Token(t *testing.T) {
	conn := tokenLedger(t, 5_000_000, token.Initialized)

	plan, err := newTestValidator(conn).Plan(context.Background(), tokenRequest("5"))
	require.NoError(t, err)

	senderATA, _, _ := solana.FindAssociatedTokenAddress(testSender, testMint)
	recipientATA, _, _ := solana.FindAssociatedTokenAddress(testRecipient, testMint)

	assert.Equal(t, uint64(5_000_000), plan.Amount)
	assert.Equal(t, uint8(6), plan.Decimals)
	require.NotNil(t, plan.Mint)
	assert.Equal(t, testMint, *plan.Mint)
	assert.Equal(t, senderATA, plan.SenderTokenAccount)
	assert.Equal(t, recipientATA, plan.RecipientTokenAccount)
}

func TestPlan_TokenInsufficientByOneUnit(t *testing.T) {
	conn := tokenLedger(t, 5_000_000, token.Initialized)

	_, err := newTestValidator(conn).Plan(context.Background(), tokenRequest("5.000001"))
	e := assertAccountError(t, err, KindInsufficientFunds, RolePayer)
	assert.Contains(t, e.Reason, "5000000 < amount 5000001")
}

func TestPlan_TokenFrozenRecipient(t *testing.T) {
	conn := tokenLedger(t, 5_000_000, token.Frozen)

	_, err := newTestValidator(conn).Plan(context.Background(), tokenRequest("1"))
	e := assertAccountError(t, err, KindTokenAccountFrozen, RoleReceiver)

	recipientATA, _, _ := solana.FindAssociatedTokenAddress(testRecipient, testMint)
	assert.Equal(t, recipientATA, e.Account)
}

func TestPlan_TokenFailures(t *testing.T) {
	t.Run("mint missing", func(t *testing.T) {
		conn := tokenLedger(t, 5_000_000, token.Initialized)
		delete(conn.accounts, testMint)

		_, err := newTestValidator(conn).Plan(context.Background(), tokenRequest("1"))
		assertAccountError(t, err, KindAccountNotFound, RoleMint)
	})

	t.Run("mint not owned by token program", func(t *testing.T) {
		conn := tokenLedger(t, 5_000_000, token.Initialized)
		conn.accounts[testMint].Owner = solana.SystemProgramID

		_, err := newTestValidator(conn).Plan(context.Background(), tokenRequest("1"))
		assertAccountError(t, err, KindOwnerInvalid, RoleMint)
	})

	t.Run("too precise for mint", func(t *testing.T) {
		conn := tokenLedger(t, 5_000_000, token.Initialized)

		_, err := newTestValidator(conn).Plan(context.Background(), tokenRequest("0.0000001"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidAmount))
	})

	t.Run("sender token account missing", func(t *testing.T) {
		conn := tokenLedger(t, 5_000_000, token.Initialized)
		senderATA, _, _ := solana.FindAssociatedTokenAddress(testSender, testMint)
		delete(conn.accounts, senderATA)

		_, err := newTestValidator(conn).Plan(context.Background(), tokenRequest("1"))
		e := assertAccountError(t, err, KindAccountNotFound, RolePayer)
		assert.Equal(t, senderATA, e.Account)
	})

	t.Run("recipient token account missing", func(t *testing.T) {
		conn := tokenLedger(t, 5_000_000, token.Initialized)
		recipientATA, _, _ := solana.FindAssociatedTokenAddress(testRecipient, testMint)
		delete(conn.accounts, recipientATA)

		_, err := newTestValidator(conn).Plan(context.Background(), tokenRequest("1"))
		assertAccountError(t, err, KindAccountNotFound, RoleReceiver)
	})

	t.Run("recipient token account uninitialized", func(t *testing.T) {
		conn := tokenLedger(t, 5_000_000, token.Uninitialized)

		_, err := newTestValidator(conn).Plan(context.Background(), tokenRequest("1"))
		assertAccountError(t, err, KindTokenAccountUninitialized, RoleReceiver)
	})

	t.Run("sender token account not owned by token program", func(t *testing.T) {
		conn := tokenLedger(t, 5_000_000, token.Initialized)
		senderATA, _, _ := solana.FindAssociatedTokenAddress(testSender, testMint)
		conn.accounts[senderATA].Owner = solana.SystemProgramID

		_, err := newTestValidator(conn).Plan(context.Background(), tokenRequest("1"))
		assertAccountError(t, err, KindOwnerInvalid, RolePayer)
	})

	t.Run("sender wallet missing", func(t *testing.T) {
		conn := tokenLedger(t, 5_000_000, token.Initialized)
		delete(conn.accounts, testSender)

		_, err := newTestValidator(conn).Plan(context.Background(), tokenRequest("1"))
		assertAccountError(t, err, KindAccountNotFound, RolePayer)
	})
}
