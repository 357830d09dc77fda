package solana

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/solpay/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
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

	GetHealth(ctx context.Context) (string, error)
}

// Client wraps the RPC client with metrics and logging. It satisfies
// transfer.Connection, so the payment pipeline never talks to the raw client.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet-beta", "devnet", rpc host)
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet-beta", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

func (c *Client) GetAccountInfoWithOpts(
	ctx context.Context,
	account solana.PublicKey,
	opts *rpc.GetAccountInfoOpts,
) (*rpc.GetAccountInfoResult, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, account, opts)
	c.observe(ctx, "GetAccountInfo", start, err)
	return out, err
}

func (c *Client) GetLatestBlockhash(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (*rpc.GetLatestBlockhashResult, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, commitment)
	c.observe(ctx, "GetLatestBlockhash", start, err)
	return out, err
}

func (c *Client) SendRawTransactionWithOpts(
	ctx context.Context,
	rawTx []byte,
	opts rpc.TransactionOpts,
) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, rawTx, opts)
	c.observe(ctx, "SendTransaction", start, err)
	return sig, err
}

func (c *Client) GetSignatureStatuses(
	ctx context.Context,
	searchTransactionHistory bool,
	transactionSignatures ...solana.Signature,
) (*rpc.GetSignatureStatusesResult, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, searchTransactionHistory, transactionSignatures...)
	c.observe(ctx, "GetSignatureStatuses", start, err)
	return out, err
}

func (c *Client) GetBlockHeight(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (uint64, error) {
	start := time.Now()
	height, err := c.rpc.GetBlockHeight(ctx, commitment)
	c.observe(ctx, "GetBlockHeight", start, err)
	return height, err
}

// Health reports whether the node considers itself healthy.
func (c *Client) Health(ctx context.Context) error {
	start := time.Now()
	status, err := c.rpc.GetHealth(ctx)
	c.observe(ctx, "GetHealth", start, err)
	if err != nil {
		return err
	}
	if status != "ok" {
		return errors.New("node reported status " + status)
	}
	return nil
}

// observe records metrics for one RPC call and logs failures. A missing
// account is an answer, not an error.
func (c *Client) observe(ctx context.Context, method string, start time.Time, err error) {
	duration := time.Since(start).Seconds()

	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, rpc.ErrNotFound):
		status = "not_found"
	default:
		status = "error"
	}

	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, status, c.endpoint, duration)
	}

	if status != "error" {
		return
	}

	// 429 Too Many Requests
	if strings.Contains(err.Error(), "429") {
		c.logger.WarnContext(ctx, "rate limited by RPC endpoint",
			"method", method,
			"endpoint", c.endpoint,
		)
		if c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
		return
	}

	c.logger.DebugContext(ctx, "RPC call failed",
		"method", method,
		"endpoint", c.endpoint,
		"duration_seconds", duration,
		"error", err,
	)
}
