package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/brojonat/solpay/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	account   *rpc.GetAccountInfoResult
	blockhash *rpc.GetLatestBlockhashResult
	sig       solana.Signature
	statuses  *rpc.GetSignatureStatusesResult
	height    uint64
	health    string
	err       error
}

func (m *mockRPCClient) GetAccountInfoWithOpts(
	ctx context.Context,
	account solana.PublicKey,
	opts *rpc.GetAccountInfoOpts,
) (*rpc.GetAccountInfoResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.account == nil {
		return nil, rpc.ErrNotFound
	}
	return m.account, nil
}

func (m *mockRPCClient) GetLatestBlockhash(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (*rpc.GetLatestBlockhashResult, error) {
	return m.blockhash, m.err
}

func (m *mockRPCClient) SendRawTransactionWithOpts(
	ctx context.Context,
	rawTx []byte,
	opts rpc.TransactionOpts,
) (solana.Signature, error) {
	return m.sig, m.err
}

func (m *mockRPCClient) GetSignatureStatuses(
	ctx context.Context,
	searchTransactionHistory bool,
	transactionSignatures ...solana.Signature,
) (*rpc.GetSignatureStatusesResult, error) {
	return m.statuses, m.err
}

func (m *mockRPCClient) GetBlockHeight(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (uint64, error) {
	return m.height, m.err
}

func (m *mockRPCClient) GetHealth(ctx context.Context) (string, error) {
	return m.health, m.err
}

func newTestClient(mock *mockRPCClient, m *metrics.Metrics) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, "devnet", m, logger)
}

func TestClient_ForwardsCalls(t *testing.T) {
	ctx := context.Background()
	hash := solana.Hash{1, 2, 3}

	mock := &mockRPCClient{
		account: &rpc.GetAccountInfoResult{Value: &rpc.Account{Lamports: 42}},
		blockhash: &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{
			Blockhash:            hash,
			LastValidBlockHeight: 500,
		}},
		sig:    solana.Signature{9},
		height: 321,
		health: "ok",
	}
	c := newTestClient(mock, nil)

	info, err := c.GetAccountInfoWithOpts(ctx, solana.NewWallet().PublicKey(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), info.Value.Lamports)

	bh, err := c.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, hash, bh.Value.Blockhash)
	assert.Equal(t, uint64(500), bh.Value.LastValidBlockHeight)

	sig, err := c.SendRawTransactionWithOpts(ctx, []byte{1}, rpc.TransactionOpts{})
	require.NoError(t, err)
	assert.Equal(t, solana.Signature{9}, sig)

	height, err := c.GetBlockHeight(ctx, rpc.CommitmentFinalized)
	require.NoError(t, err)
	assert.Equal(t, uint64(321), height)

	assert.NoError(t, c.Health(ctx))
}

func TestClient_Health(t *testing.T) {
	ctx := context.Background()

	c := newTestClient(&mockRPCClient{health: "behind"}, nil)
	err := c.Health(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "behind")

	c = newTestClient(&mockRPCClient{err: errors.New("dial tcp: connection refused")}, nil)
	assert.Error(t, c.Health(ctx))
}

func TestClient_RecordsMetrics(t *testing.T) {
	ctx := context.Background()

	const callsHelp = `
# HELP solana_rpc_calls_total Total number of Solana RPC calls by method and status
# TYPE solana_rpc_calls_total counter
`

	t.Run("not found is its own status", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		c := newTestClient(&mockRPCClient{}, metrics.NewMetrics(registry))

		_, err := c.GetAccountInfoWithOpts(ctx, solana.NewWallet().PublicKey(), nil)
		assert.ErrorIs(t, err, rpc.ErrNotFound)

		expected := callsHelp + `solana_rpc_calls_total{endpoint="devnet",method="GetAccountInfo",status="not_found"} 1
`
		require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "solana_rpc_calls_total"))
	})

	t.Run("errors are counted", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		c := newTestClient(&mockRPCClient{err: errors.New("boom")}, metrics.NewMetrics(registry))

		_, err := c.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
		assert.Error(t, err)

		expected := callsHelp + `solana_rpc_calls_total{endpoint="devnet",method="GetBlockHeight",status="error"} 1
`
		require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "solana_rpc_calls_total"))
	})

	t.Run("rate limits are counted", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		c := newTestClient(&mockRPCClient{err: errors.New("HTTP 429 Too Many Requests")}, metrics.NewMetrics(registry))

		_, err := c.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		assert.Error(t, err)

		expected := `
# HELP solana_rpc_rate_limit_hits_total Total number of Solana RPC rate limit hits (429 errors)
# TYPE solana_rpc_rate_limit_hits_total counter
solana_rpc_rate_limit_hits_total{endpoint="devnet"} 1
`
		require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "solana_rpc_rate_limit_hits_total"))
	})

	t.Run("success", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		c := newTestClient(&mockRPCClient{health: "ok"}, metrics.NewMetrics(registry))
		require.NoError(t, c.Health(ctx))

		count, err := testutil.GatherAndCount(registry, "solana_rpc_calls_total")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}
