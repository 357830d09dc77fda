package transfer

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"sync"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"
)

var testBlockhash = solana.Hash{0x4e, 0x1a, 0x07, 0x33, 0x90, 0x2c}

// mockConn implements Connection for testing.
// It's behavior-focused: tests set what the ledger looks like, not call order.
type mockConn struct {
	mu sync.Mutex

	accounts   map[solana.PublicKey]*rpc.Account
	accountErr error

	blockhash    solana.Hash
	lastValid    uint64
	blockhashErr error

	sendErrs []error // consumed one per call, then sends succeed
	sent     [][]byte

	statuses  []*rpc.SignatureStatusesResult // last entry repeats
	statusErr error

	heights   []uint64 // last entry repeats
	heightErr error

	accountCalls int
	statusCalls  int
}

func newMockConn() *mockConn {
	return &mockConn{
		accounts:  make(map[solana.PublicKey]*rpc.Account),
		blockhash: testBlockhash,
		lastValid: 1_000,
	}
}

func (m *mockConn) GetAccountInfoWithOpts(
	ctx context.Context,
	account solana.PublicKey,
	opts *rpc.GetAccountInfoOpts,
) (*rpc.GetAccountInfoResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountCalls++
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	acc, ok := m.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: acc}, nil
}

func (m *mockConn) GetLatestBlockhash(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (*rpc.GetLatestBlockhashResult, error) {
	if m.blockhashErr != nil {
		return nil, m.blockhashErr
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            m.blockhash,
			LastValidBlockHeight: m.lastValid,
		},
	}, nil
}

func (m *mockConn) SendRawTransactionWithOpts(
	ctx context.Context,
	rawTx []byte,
	opts rpc.TransactionOpts,
) (solana.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, append([]byte(nil), rawTx...))
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		if err != nil {
			return solana.Signature{}, err
		}
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(rawTx))
	if err != nil {
		return solana.Signature{}, err
	}
	return tx.Signatures[0], nil
}

func (m *mockConn) GetSignatureStatuses(
	ctx context.Context,
	searchTransactionHistory bool,
	transactionSignatures ...solana.Signature,
) (*rpc.GetSignatureStatusesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls++
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	if len(m.statuses) == 0 {
		return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
	}
	status := m.statuses[0]
	if len(m.statuses) > 1 {
		m.statuses = m.statuses[1:]
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{status}}, nil
}

func (m *mockConn) GetBlockHeight(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.heightErr != nil {
		return 0, m.heightErr
	}
	if len(m.heights) == 0 {
		return 0, nil
	}
	h := m.heights[0]
	if len(m.heights) > 1 {
		m.heights = m.heights[1:]
	}
	return h, nil
}

func (m *mockConn) sendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// addWallet registers a system-owned wallet with the given balance.
func (m *mockConn) addWallet(addr solana.PublicKey, lamports uint64) {
	m.accounts[addr] = &rpc.Account{
		Lamports: lamports,
		Owner:    solana.SystemProgramID,
		Data:     rpc.DataBytesOrJSONFromBytes(nil),
	}
}

// addMint registers an initialized SPL mint.
func (m *mockConn) addMint(t *testing.T, mint solana.PublicKey, decimals uint8) {
	t.Helper()
	m.accounts[mint] = &rpc.Account{
		Lamports: 1_461_600,
		Owner:    solana.TokenProgramID,
		Data: rpc.DataBytesOrJSONFromBytes(encode(t, &token.Mint{
			Supply:        1_000_000_000_000,
			Decimals:      decimals,
			IsInitialized: true,
		})),
	}
}

// addTokenAccount registers the associated token account of owner for mint
// and returns its address.
func (m *mockConn) addTokenAccount(t *testing.T, owner, mint solana.PublicKey, amount uint64, state token.AccountState) solana.PublicKey {
	t.Helper()
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)
	m.accounts[ata] = &rpc.Account{
		Lamports: 2_039_280,
		Owner:    solana.TokenProgramID,
		Data: rpc.DataBytesOrJSONFromBytes(encode(t, &token.Account{
			Mint:   mint,
			Owner:  owner,
			Amount: amount,
			State:  state,
		})),
	}
	return ata
}

func encode(t *testing.T, v interface{}) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, bin.NewBinEncoder(buf).Encode(v))
	return buf.Bytes()
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

// keySigner signs with an in-memory key, standing in for a wallet.
func keySigner(keys ...solana.PrivateKey) Signer {
	return SignerFunc(func(ctx context.Context, unsignedBase64 string) (string, error) {
		tx, _, err := DecodeTransaction(unsignedBase64)
		if err != nil {
			return "", err
		}
		_, err = tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
			for i := range keys {
				if keys[i].PublicKey().Equals(pub) {
					return &keys[i]
				}
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		raw, err := tx.MarshalBinary()
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(raw), nil
	})
}

func status(s rpc.ConfirmationStatusType) *rpc.SignatureStatusesResult {
	return &rpc.SignatureStatusesResult{Slot: 42, ConfirmationStatus: s}
}
