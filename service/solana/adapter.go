package solana

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCConfig describes how to reach a Solana RPC node.
type RPCConfig struct {
	Cluster   string            // mainnet-beta, devnet, testnet or localnet
	Endpoints []string          // explicit RPC URLs; one is picked at random
	APIKey    string            // appended as the api_key query parameter
	Headers   map[string]string // extra HTTP headers sent with every call
}

// ClusterURL returns the public RPC URL of a named cluster.
func ClusterURL(cluster string) (string, error) {
	switch cluster {
	case "mainnet-beta", "mainnet":
		return rpc.MainNetBeta_RPC, nil
	case "devnet":
		return rpc.DevNet_RPC, nil
	case "testnet":
		return rpc.TestNet_RPC, nil
	case "localnet":
		return rpc.LocalNet_RPC, nil
	default:
		return "", fmt.Errorf("unknown cluster %q (want mainnet-beta, devnet, testnet or localnet)", cluster)
	}
}

// SelectRandomEndpoint picks one endpoint to spread load across providers.
func SelectRandomEndpoint(endpoints []string) (string, error) {
	if len(endpoints) == 0 {
		return "", errors.New("no RPC endpoints configured")
	}
	return endpoints[rand.IntN(len(endpoints))], nil
}

// Endpoint resolves the URL to dial: an explicit endpoint when configured,
// otherwise the cluster's public URL. The API key, if any, is added here so
// it never has to be baked into configuration strings.
func (c RPCConfig) Endpoint() (string, error) {
	var (
		endpoint string
		err      error
	)
	if len(c.Endpoints) > 0 {
		endpoint, err = SelectRandomEndpoint(c.Endpoints)
	} else {
		endpoint, err = ClusterURL(c.Cluster)
	}
	if err != nil {
		return "", err
	}
	if c.APIKey == "" {
		return endpoint, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid RPC endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("api_key", c.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Label returns a metrics label for the endpoint that never contains secrets.
func (c RPCConfig) Label(endpoint string) string {
	if c.Cluster != "" && len(c.Endpoints) == 0 {
		return c.Cluster
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "custom"
	}
	return strings.ToLower(u.Host)
}

// realRPCClient adapts the actual solana-go RPC client to our RPCClient interface.
// This adapter allows us to control the interface and makes testing easier.
type realRPCClient struct {
	client *rpc.Client
}

// NewRPCClient dials the configured node and returns the client together
// with a secret-free endpoint label for metrics.
func NewRPCClient(cfg RPCConfig) (RPCClient, string, error) {
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, "", err
	}

	var client *rpc.Client
	if len(cfg.Headers) > 0 {
		client = rpc.NewWithHeaders(endpoint, cfg.Headers)
	} else {
		client = rpc.New(endpoint)
	}
	return &realRPCClient{client: client}, cfg.Label(endpoint), nil
}

func (r *realRPCClient) GetAccountInfoWithOpts(
	ctx context.Context,
	account solana.PublicKey,
	opts *rpc.GetAccountInfoOpts,
) (*rpc.GetAccountInfoResult, error) {
	return r.client.GetAccountInfoWithOpts(ctx, account, opts)
}

func (r *realRPCClient) GetLatestBlockhash(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (*rpc.GetLatestBlockhashResult, error) {
	return r.client.GetLatestBlockhash(ctx, commitment)
}

func (r *realRPCClient) SendRawTransactionWithOpts(
	ctx context.Context,
	rawTx []byte,
	opts rpc.TransactionOpts,
) (solana.Signature, error) {
	return r.client.SendRawTransactionWithOpts(ctx, rawTx, opts)
}

func (r *realRPCClient) GetSignatureStatuses(
	ctx context.Context,
	searchTransactionHistory bool,
	transactionSignatures ...solana.Signature,
) (*rpc.GetSignatureStatusesResult, error) {
	return r.client.GetSignatureStatuses(ctx, searchTransactionHistory, transactionSignatures...)
}

func (r *realRPCClient) GetBlockHeight(
	ctx context.Context,
	commitment rpc.CommitmentType,
) (uint64, error) {
	return r.client.GetBlockHeight(ctx, commitment)
}

func (r *realRPCClient) GetHealth(ctx context.Context) (string, error) {
	return r.client.GetHealth(ctx)
}
