package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/brojonat/solpay/service/transfer"
)

// Metadata is what a transaction-request endpoint returns to GET.
type Metadata struct {
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

// TransactionRequestClient talks to a Solana Pay transaction-request
// endpoint. It implements transfer.RemoteBuilder.
type TransactionRequestClient struct {
	endpoint   *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

var _ transfer.RemoteBuilder = (*TransactionRequestClient)(nil)

// NewTransactionRequestClient creates a client for endpoint, which must be an
// absolute http(s) URL. Query parameters already on endpoint are preserved.
func NewTransactionRequestClient(endpoint string, httpClient *http.Client, logger *slog.Logger) (*TransactionRequestClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction-request endpoint: %w", err)
	}
	if u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return nil, fmt.Errorf("transaction-request endpoint must be an absolute http(s) URL, got %q", endpoint)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &TransactionRequestClient{
		endpoint:   u,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Metadata fetches the label and icon the wallet should show.
func (c *TransactionRequestClient) Metadata(ctx context.Context) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	var out Metadata
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// BuildTransaction posts the payer account and returns the endpoint's
// unsigned transaction. Transfer details travel as query parameters.
func (c *TransactionRequestClient) BuildTransaction(ctx context.Context, r transfer.RemoteRequest) (*transfer.RemoteTransaction, error) {
	u := *c.endpoint
	params := u.Query()
	if !r.Recipient.IsZero() {
		params.Set("recipient", r.Recipient.String())
	}
	if r.Amount.IsPositive() {
		params.Set("amount", r.Amount.String())
	}
	if r.Mint != nil {
		params.Set("spl-token", r.Mint.String())
	}
	for _, ref := range r.References {
		params.Add("reference", ref.String())
	}
	if r.Memo != "" {
		params.Set("memo", r.Memo)
	}
	u.RawQuery = params.Encode()

	body, err := json.Marshal(map[string]string{"account": r.Account.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, asTransferError("build", parseErrorResponse(resp))
	}

	var out struct {
		Transaction string `json:"transaction"`
		Message     string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Transaction == "" {
		return nil, errors.New("response carries no transaction")
	}

	c.logger.DebugContext(ctx, "transaction request answered",
		"endpoint", c.endpoint.Host,
		"account", r.Account.String(),
	)
	return &transfer.RemoteTransaction{Base64: out.Transaction, Message: out.Message}, nil
}
